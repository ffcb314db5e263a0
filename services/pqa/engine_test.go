// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pqa

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	return cfg
}

func newTestEngine(t *testing.T, dims EngineDimensions, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(EngineDefinition{Dims: dims}, WithConfig(cfg), WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if e.Mode() != ModeShutdown {
			_ = e.Shutdown(context.Background(), "")
		}
	})
	return e
}

// trainRandom feeds a deterministic pseudo-random training history.
func trainRandom(t *testing.T, e *Engine, seed int64, rounds int) {
	t.Helper()
	dims, err := e.CopyDims()
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < rounds; i++ {
		n := 1 + rng.Intn(int(dims.Questions))
		answered := make([]AnsweredQuestion, n)
		for j := range answered {
			answered[j] = AnsweredQuestion{
				Question: rng.Int63n(dims.Questions),
				Answer:   rng.Int63n(dims.Answers),
			}
		}
		require.NoError(t, e.Train(context.Background(), answered, rng.Int63n(dims.Targets), 0.5+rng.Float64()))
	}
}

// discriminatingEngine has one question (1) that separates target 0 from
// target 1 and two uninformative questions (0 and 2).
func discriminatingEngine(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine(t, EngineDimensions{Questions: 3, Answers: 2, Targets: 2})
	ctx := context.Background()
	require.NoError(t, e.Train(ctx, []AnsweredQuestion{{Question: 1, Answer: 0}}, 0, 50))
	require.NoError(t, e.Train(ctx, []AnsweredQuestion{{Question: 1, Answer: 1}}, 1, 50))
	return e
}

func normalized(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}

func quizBelief(t *testing.T, e *Engine, id int64) []float64 {
	t.Helper()
	qz, ok := e.quizzes.get(id)
	require.True(t, ok)
	return append([]float64(nil), qz.belief...)
}

// TestNewEngineDefinition verifies unsupported backends and bad inputs.
func TestNewEngineDefinition(t *testing.T) {
	dims := EngineDimensions{Questions: 2, Answers: 2, Targets: 2}
	opts := []Option{WithLogger(quietLogger())}

	t.Run("float precision", func(t *testing.T) {
		_, err := NewEngine(EngineDefinition{Dims: dims, Precision: PrecisionFloat}, opts...)
		assert.ErrorIs(t, err, ErrNotImplemented)
	})

	t.Run("arbitrary precision", func(t *testing.T) {
		_, err := NewEngine(EngineDefinition{Dims: dims, Precision: PrecisionArbitrary}, opts...)
		assert.ErrorIs(t, err, ErrNotImplemented)
	})

	t.Run("cuda backend", func(t *testing.T) {
		_, err := NewEngine(EngineDefinition{Dims: dims, Backend: BackendCUDA}, opts...)
		assert.ErrorIs(t, err, ErrNotImplemented)
		assert.Equal(t, CodeNotImplemented, CodeOf(err))
	})

	t.Run("single answer", func(t *testing.T) {
		_, err := NewEngine(EngineDefinition{Dims: EngineDimensions{Questions: 1, Answers: 1, Targets: 1}}, opts...)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("bad config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TopTargets.Strategy = "bubble"
		_, err := NewEngine(EngineDefinition{Dims: dims}, append(opts, WithConfig(cfg))...)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

// TestTrainAndCopy verifies training is visible through the copy methods.
func TestTrainAndCopy(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 2, Answers: 3, Targets: 4})
	ctx := context.Background()

	answered := []AnsweredQuestion{{Question: 1, Answer: 2}, {Question: 0, Answer: 0}}
	require.NoError(t, e.Train(ctx, answered, 3, 2))

	row := make([]float64, 4)
	require.NoError(t, e.CopyATargets(1, 2, row))
	assert.Equal(t, []float64{1, 1, 1, 3}, row)
	require.NoError(t, e.CopyDTargets(1, row))
	assert.Equal(t, []float64{3, 3, 3, 5}, row)
	require.NoError(t, e.CopyBTargets(row))
	assert.Equal(t, []float64{1, 1, 1, 3}, row)

	assert.ErrorIs(t, e.Train(ctx, answered, 9, 1), ErrInvalidID)
	assert.ErrorIs(t, e.Train(ctx, []AnsweredQuestion{{Question: 0, Answer: 3}}, 0, 1), ErrInvalidID)
	assert.ErrorIs(t, e.Train(ctx, answered, 0, 0), ErrInvalidArgument)
	assert.ErrorIs(t, e.CopyATargets(5, 0, row), ErrInvalidID)
	assert.ErrorIs(t, e.CopyBTargets(row[:2]), ErrInvalidArgument)
}

// TestResumeOrderIndependence verifies replay order does not matter beyond
// rounding, duplicates included.
func TestResumeOrderIndependence(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 6, Answers: 3, Targets: 50})
	trainRandom(t, e, 11, 200)
	ctx := context.Background()

	answered := []AnsweredQuestion{
		{Question: 0, Answer: 1}, {Question: 3, Answer: 2}, {Question: 5, Answer: 0},
		{Question: 3, Answer: 2}, {Question: 1, Answer: 1}, {Question: 2, Answer: 0},
		{Question: 4, Answer: 2}, {Question: 0, Answer: 0}, {Question: 5, Answer: 1},
		{Question: 2, Answer: 2}, {Question: 1, Answer: 0},
	}
	shuffled := append([]AnsweredQuestion(nil), answered...)
	rand.New(rand.NewSource(3)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	id1, err := e.ResumeQuiz(ctx, answered)
	require.NoError(t, err)
	id2, err := e.ResumeQuiz(ctx, shuffled)
	require.NoError(t, err)

	b1 := normalized(quizBelief(t, e, id1))
	b2 := normalized(quizBelief(t, e, id2))
	for i := range b1 {
		assert.InDelta(t, b1[i], b2[i], 1e-12, "target %d", i)
	}

	qz, _ := e.quizzes.get(id1)
	assert.Equal(t, answered, qz.history)
	for q := int64(0); q < 6; q++ {
		assert.True(t, qz.asked[q])
	}
}

// TestResumeParallelMatchesSerial verifies the chunked replay yields the
// same belief bit for bit.
func TestResumeParallelMatchesSerial(t *testing.T) {
	dims := EngineDimensions{Questions: 5, Answers: 4, Targets: 301}
	serial := newTestEngine(t, dims, func(c *Config) { c.ResumeParallelMinTargets = 1 << 30 })
	parallel := newTestEngine(t, dims, func(c *Config) { c.ResumeParallelMinTargets = 1; c.RenormEvery = 3 })
	serial.cfg.RenormEvery = 3
	trainRandom(t, serial, 5, 300)
	trainRandom(t, parallel, 5, 300)

	answered := []AnsweredQuestion{
		{Question: 0, Answer: 3}, {Question: 4, Answer: 1}, {Question: 2, Answer: 2},
		{Question: 1, Answer: 0}, {Question: 3, Answer: 3}, {Question: 0, Answer: 1},
		{Question: 2, Answer: 0},
	}
	ctx := context.Background()
	id1, err := serial.ResumeQuiz(ctx, answered)
	require.NoError(t, err)
	id2, err := parallel.ResumeQuiz(ctx, answered)
	require.NoError(t, err)

	b1 := quizBelief(t, serial, id1)
	b2 := quizBelief(t, parallel, id2)
	assert.Equal(t, b1, b2)

	var peak float64
	for _, v := range b2 {
		peak = math.Max(peak, v)
	}
	assert.GreaterOrEqual(t, peak, 0.5)
	assert.Less(t, peak, 1.0)
}

// TestResumeInvalid verifies bad pairs are rejected before a quiz exists.
func TestResumeInvalid(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 3, Answers: 2, Targets: 4})
	ctx := context.Background()

	_, err := e.ResumeQuiz(ctx, []AnsweredQuestion{{Question: 0, Answer: 0}, {Question: 3, Answer: 0}})
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = e.ResumeQuiz(ctx, []AnsweredQuestion{{Question: 0, Answer: 2}})
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.Equal(t, 0, e.QuizCount())
}

// TestNextQuestion verifies the most informative question comes first,
// ties go to the lowest id, and an exhausted quiz yields InvalidID.
func TestNextQuestion(t *testing.T) {
	e := discriminatingEngine(t)
	ctx := context.Background()

	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)

	q, err := e.NextQuestion(ctx, quiz)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q)
	active, err := e.ActiveQuestionID(quiz)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	// Without an answer the active question counts as asked.
	q, err = e.NextQuestion(ctx, quiz)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q)
	q, err = e.NextQuestion(ctx, quiz)
	require.NoError(t, err)
	assert.Equal(t, int64(2), q)

	q, err = e.NextQuestion(ctx, quiz)
	require.NoError(t, err)
	assert.Equal(t, InvalidID, q)

	_, err = e.NextQuestion(ctx, 99)
	assert.ErrorIs(t, err, ErrInvalidID)
}

// TestRecordAnswer verifies belief update, history and the asked counter.
func TestRecordAnswer(t *testing.T) {
	e := discriminatingEngine(t)
	ctx := context.Background()

	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, e.RecordAnswer(ctx, quiz, 0), ErrInvalidID, "no active question")

	q, err := e.NextQuestion(ctx, quiz)
	require.NoError(t, err)
	require.Equal(t, int64(1), q)
	assert.ErrorIs(t, e.RecordAnswer(ctx, quiz, 2), ErrInvalidID, "answer out of range")
	require.NoError(t, e.RecordAnswer(ctx, quiz, 1))

	active, err := e.ActiveQuestionID(quiz)
	require.NoError(t, err)
	assert.Equal(t, InvalidID, active)
	asked, err := e.TotalQuestionsAsked()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), asked)

	dest := make([]RatedTarget, 2)
	n, err := e.ListTopTargets(ctx, quiz, dest)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	assert.Equal(t, int64(1), dest[0].Target)
	assert.Greater(t, dest[0].Prob, 0.9)
	assert.InDelta(t, 1.0, dest[0].Prob+dest[1].Prob, 1e-12)
}

// TestRecordQuizTarget verifies learning from a quiz's history.
func TestRecordQuizTarget(t *testing.T) {
	e := discriminatingEngine(t)
	ctx := context.Background()

	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)
	require.NoError(t, e.SetActiveQuestion(quiz, 2))
	require.NoError(t, e.RecordAnswer(ctx, quiz, 1))

	require.NoError(t, e.RecordQuizTarget(ctx, quiz, 0, 4))
	require.NoError(t, e.RecordQuizTarget(ctx, quiz, 0, 1))

	row := make([]float64, 2)
	require.NoError(t, e.CopyATargets(2, 1, row))
	assert.Equal(t, []float64{6, 1}, row)

	assert.ErrorIs(t, e.SetActiveQuestion(quiz, 3), ErrInvalidID)
	assert.ErrorIs(t, e.RecordQuizTarget(ctx, quiz, 5, 1), ErrInvalidID)
}

// TestListTopTargetsExample verifies the documented ranking example with
// both strategies.
func TestListTopTargetsExample(t *testing.T) {
	for _, strategy := range []string{StrategyHeap, StrategyRadix} {
		t.Run(strategy, func(t *testing.T) {
			e := newTestEngine(t, EngineDimensions{Questions: 1, Answers: 2, Targets: 5},
				func(c *Config) { c.TopTargets.Strategy = strategy })
			ctx := context.Background()
			quiz, err := e.StartQuiz(ctx)
			require.NoError(t, err)
			qz, _ := e.quizzes.get(quiz)
			copy(qz.belief, []float64{0.1, 0.5, 0.3, 0.5, 0.05})

			dest := make([]RatedTarget, 3)
			n, err := e.ListTopTargets(ctx, quiz, dest)
			require.NoError(t, err)
			require.Equal(t, int64(3), n)

			assert.Equal(t, []int64{1, 3, 2}, []int64{dest[0].Target, dest[1].Target, dest[2].Target})
			assert.InDelta(t, 0.5/1.45, dest[0].Prob, 1e-12)
			assert.InDelta(t, 0.5/1.45, dest[1].Prob, 1e-12)
			assert.InDelta(t, 0.3/1.45, dest[2].Prob, 1e-12)
		})
	}
}

// TestListTopTargetsZeroCapacity verifies an empty destination.
func TestListTopTargetsZeroCapacity(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 1, Answers: 2, Targets: 5})
	ctx := context.Background()
	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)

	n, err := e.ListTopTargets(ctx, quiz, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// TestHeapRadixAgree verifies both strategies return identical listings.
func TestHeapRadixAgree(t *testing.T) {
	const n = 1000
	e := newTestEngine(t, EngineDimensions{Questions: 1, Answers: 2, Targets: n})
	rng := rand.New(rand.NewSource(21))
	belief := make([]float64, n)
	for i := range belief {
		if i%17 == 0 {
			continue // zero weight is not applicable
		}
		belief[i] = rng.Float64() * math.Pow(2, float64(rng.Intn(40)-20))
	}
	applicable := int64(0)
	for _, w := range belief {
		if w > 0 {
			applicable++
		}
	}

	task := e.newTask(context.Background(), "test")
	for _, k := range []int{1, n / 2, n, n + 5} {
		heapOut := make([]RatedTarget, k)
		radixOut := make([]RatedTarget, k)
		nh, err := task.listTopTargets(belief, heapOut, StrategyHeap)
		require.NoError(t, err)
		nr, err := task.listTopTargets(belief, radixOut, StrategyRadix)
		require.NoError(t, err)

		require.Equal(t, min(int64(k), applicable), nh, "k=%d", k)
		require.Equal(t, nh, nr, "k=%d", k)
		assert.Equal(t, heapOut[:nh], radixOut[:nr], "k=%d", k)
		for i := int64(1); i < nh; i++ {
			assert.GreaterOrEqual(t, heapOut[i-1].Prob, heapOut[i].Prob)
		}
	}
}

// TestHeapRadixAgree_Ties verifies both strategies agree when most weights tie.
func TestHeapRadixAgree_Ties(t *testing.T) {
	const n = 64
	e := newTestEngine(t, EngineDimensions{Questions: 1, Answers: 2, Targets: n})
	belief := make([]float64, n)
	for i := range belief {
		belief[i] = float64(i%3 + 1)
	}

	task := e.newTask(context.Background(), "test")
	for _, k := range []int{1, 10, 21, 22, 32, n, n + 6} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			heapOut := make([]RatedTarget, k)
			radixOut := make([]RatedTarget, k)
			nh, err := task.listTopTargets(belief, heapOut, StrategyHeap)
			require.NoError(t, err)
			nr, err := task.listTopTargets(belief, radixOut, StrategyRadix)
			require.NoError(t, err)

			require.Equal(t, int64(min(k, n)), nh)
			require.Equal(t, nh, nr)
			assert.Equal(t, heapOut[:nh], radixOut[:nr])
			for i := int64(1); i < nh; i++ {
				assert.GreaterOrEqual(t, heapOut[i-1].Prob, heapOut[i].Prob)
			}
		})
	}
}

// TestChooseStrategy verifies the auto threshold.
func TestChooseStrategy(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 1, Answers: 2, Targets: 1})
	task := e.newTask(context.Background(), "test")
	assert.Equal(t, StrategyHeap, task.chooseStrategy(9, 100))
	assert.Equal(t, StrategyRadix, task.chooseStrategy(10, 100))

	e.cfg.TopTargets.Strategy = StrategyHeap
	assert.Equal(t, StrategyHeap, task.chooseStrategy(100, 100))
}

// TestMaintenanceMode verifies mode transitions and their guards.
func TestMaintenanceMode(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 3, Answers: 2, Targets: 3})
	ctx := context.Background()

	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, e.StartMaintenance(false), ErrWrongMode)
	assert.Equal(t, ModeRegular, e.Mode())
	require.NoError(t, e.StartMaintenance(true))
	assert.Equal(t, 0, e.QuizCount())
	assert.ErrorIs(t, e.StartMaintenance(true), ErrWrongMode)

	_, err = e.StartQuiz(ctx)
	assert.ErrorIs(t, err, ErrWrongMode)
	assert.ErrorIs(t, e.Train(ctx, nil, 0, 1), ErrWrongMode)
	assert.ErrorIs(t, e.ReleaseQuiz(quiz), ErrWrongMode)
	n, err := e.ClearOldQuizzes(0, 0)
	assert.ErrorIs(t, err, ErrWrongMode)
	assert.Equal(t, 0, n)

	require.NoError(t, e.FinishMaintenance())
	require.NoError(t, e.FinishMaintenance())

	_, err = e.NextQuestion(ctx, quiz)
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, e.AddQsTs(ctx, nil, nil), ErrWrongMode)
	_, err = e.Compact(ctx)
	assert.ErrorIs(t, err, ErrWrongMode)
}

// TestClearOldQuizzes verifies count and age limits.
func TestClearOldQuizzes(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 2, Answers: 2, Targets: 2})
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := e.StartQuiz(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	n, err := e.ClearOldQuizzes(-1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.ClearOldQuizzes(1, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = e.ActiveQuestionID(ids[2])
	assert.NoError(t, err, "most recently used quiz survives")
	_, err = e.ActiveQuestionID(ids[0])
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = e.StartQuiz(ctx)
	require.NoError(t, err)
	n, err = e.ClearOldQuizzes(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, e.QuizCount())
}

// TestReleaseQuiz verifies explicit release and slot reuse.
func TestReleaseQuiz(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 2, Answers: 2, Targets: 2})
	ctx := context.Background()

	a, err := e.StartQuiz(ctx)
	require.NoError(t, err)
	require.NoError(t, e.ReleaseQuiz(a))
	assert.ErrorIs(t, e.ReleaseQuiz(a), ErrInvalidID)

	b, err := e.StartQuiz(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b, "compact slot is reused")

	perm := []int64{b}
	require.True(t, e.QuizPermFromComp(perm))
	assert.Equal(t, int64(1), perm[0], "permanent ids are not reused")
}

// TestQuizPermanentIDs verifies the quiz permanent id controls.
func TestQuizPermanentIDs(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 2, Answers: 2, Targets: 2})
	ctx := context.Background()

	require.True(t, e.EnsurePermQuizGreater(100))
	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)

	ids := []int64{quiz}
	require.True(t, e.QuizPermFromComp(ids))
	assert.Equal(t, int64(101), ids[0])

	require.True(t, e.RemapQuizPermID(101, 500))
	assert.False(t, e.RemapQuizPermID(101, 600))

	ids = []int64{500, 101}
	assert.False(t, e.QuizCompFromPerm(ids))
	assert.Equal(t, []int64{quiz, InvalidID}, ids)
}

// TestAddQsTs verifies new ids and that the question amount wins at the
// intersection of a new question and a new target.
func TestAddQsTs(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 2, Answers: 2, Targets: 2})
	ctx := context.Background()
	require.NoError(t, e.StartMaintenance(false))

	qs := []AddQuestionParam{{InitialAmount: 7}}
	ts := []AddTargetParam{{InitialAmount: 5}, {}}
	require.NoError(t, e.AddQsTs(ctx, qs, ts))
	assert.Equal(t, int64(2), qs[0].ID)
	assert.Equal(t, int64(2), ts[0].ID)
	assert.Equal(t, int64(3), ts[1].ID)

	dims, err := e.CopyDims()
	require.NoError(t, err)
	assert.Equal(t, EngineDimensions{Questions: 3, Answers: 2, Targets: 4}, dims)

	row := make([]float64, 4)
	require.NoError(t, e.CopyATargets(2, 1, row))
	assert.Equal(t, []float64{7, 7, 7, 7}, row)
	require.NoError(t, e.CopyATargets(0, 1, row))
	assert.Equal(t, []float64{1, 1, 5, 1}, row)
	require.NoError(t, e.CopyBTargets(row))
	assert.Equal(t, []float64{1, 1, 5, 1}, row)

	assert.ErrorIs(t, e.AddQsTs(ctx, []AddQuestionParam{{InitialAmount: -1}}, nil), ErrInvalidArgument)

	require.NoError(t, e.FinishMaintenance())
	_, err = e.StartQuiz(ctx)
	require.NoError(t, err)
}

// TestCompact verifies removal, order-preserving renumbering and the id
// tables.
func TestCompact(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 10, Answers: 2, Targets: 4})
	ctx := context.Background()
	require.NoError(t, e.Train(ctx, []AnsweredQuestion{{Question: 9, Answer: 1}}, 2, 3))
	require.NoError(t, e.StartMaintenance(false))

	assert.ErrorIs(t, e.RemoveQuestions([]int64{3, 3}), ErrInvalidID)
	require.NoError(t, e.RemoveQuestions([]int64{3}))
	require.NoError(t, e.RemoveTargets([]int64{0}))
	assert.ErrorIs(t, e.RemoveTargets([]int64{0}), ErrInvalidID)

	res, err := e.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.PendingCompactions())

	assert.Equal(t, []int64{0, 1, 2, InvalidID, 3, 4, 5, 6, 7, 8}, res.Questions.OldToNew)
	assert.Equal(t, []int64{0, 1, 2, 4, 5, 6, 7, 8, 9}, res.Questions.NewToOld)
	assert.Equal(t, []int64{InvalidID, 0, 1, 2}, res.Targets.OldToNew)

	res.Release()
	res.Release()
	assert.Equal(t, 0, e.PendingCompactions())

	ids := []int64{4, 9, 3}
	assert.False(t, e.QuestionCompFromPerm(ids))
	assert.Equal(t, []int64{3, 8, InvalidID}, ids)
	ids = []int64{3}
	require.True(t, e.QuestionPermFromComp(ids))
	assert.Equal(t, []int64{4}, ids)

	tids := []int64{2}
	require.True(t, e.TargetCompFromPerm(tids))
	assert.Equal(t, []int64{1}, tids)

	row := make([]float64, 3)
	require.NoError(t, e.CopyATargets(8, 1, row))
	assert.Equal(t, []float64{1, 4, 1}, row)

	dims, err := e.CopyDims()
	require.NoError(t, err)
	assert.Equal(t, EngineDimensions{Questions: 9, Answers: 2, Targets: 3}, dims)
}

// TestRemovedEntriesAreSkipped verifies removed questions are never asked
// and removed targets are never listed.
func TestRemovedEntriesAreSkipped(t *testing.T) {
	e := discriminatingEngine(t)
	ctx := context.Background()
	require.NoError(t, e.StartMaintenance(false))
	require.NoError(t, e.RemoveQuestions([]int64{1}))
	require.NoError(t, e.RemoveTargets([]int64{0}))
	require.NoError(t, e.FinishMaintenance())

	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)
	q, err := e.NextQuestion(ctx, quiz)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q)

	dest := make([]RatedTarget, 2)
	n, err := e.ListTopTargets(ctx, quiz, dest)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	assert.Equal(t, RatedTarget{Target: 1, Prob: 1}, dest[0])
}

// TestStaleQuiz verifies quizzes from an older generation are rejected.
func TestStaleQuiz(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 2, Answers: 2, Targets: 2})
	ctx := context.Background()
	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)

	e.structMu.Lock()
	e.generation++
	e.structMu.Unlock()

	_, err = e.NextQuestion(ctx, quiz)
	assert.ErrorIs(t, err, ErrStaleDimensions)
	_, err = e.ListTopTargets(ctx, quiz, nil)
	assert.ErrorIs(t, err, ErrStaleDimensions)
	assert.ErrorIs(t, e.RecordQuizTarget(ctx, quiz, 0, 1), ErrStaleDimensions)
}

// TestArenaCap verifies scratch exhaustion surfaces as AllocationFailure.
func TestArenaCap(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 4, Answers: 2, Targets: 64},
		func(c *Config) { c.ArenaMaxBytes = 16 })
	ctx := context.Background()
	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)

	_, err = e.NextQuestion(ctx, quiz)
	assert.ErrorIs(t, err, ErrAllocationFailure)
	_, err = e.ListTopTargets(ctx, quiz, make([]RatedTarget, 3))
	assert.ErrorIs(t, err, ErrAllocationFailure)
	assert.Equal(t, int64(0), e.arena.InUse())
}

// TestWorkerPanic verifies a panicking subtask fails the call with
// ErrInternal.
func TestWorkerPanic(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 1, Answers: 2, Targets: 8})
	task := e.newTask(context.Background(), "test")

	err := task.run(e.pool.Split(8), func(piece int, _, _ int64) error {
		if piece == 2 {
			panic("bad piece")
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "bad piece")
}

// TestShutdown verifies the engine refuses work after Shutdown.
func TestShutdown(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 2, Answers: 2, Targets: 2})
	ctx := context.Background()
	_, err := e.StartQuiz(ctx)
	require.NoError(t, err)

	require.NoError(t, e.Shutdown(ctx, ""))
	assert.ErrorIs(t, e.Shutdown(ctx, ""), ErrWrongMode)

	_, err = e.StartQuiz(ctx)
	assert.ErrorIs(t, err, ErrWrongMode)
	_, err = e.TotalQuestionsAsked()
	assert.ErrorIs(t, err, ErrWrongMode)
	assert.ErrorIs(t, e.StartMaintenance(true), ErrWrongMode)
	assert.ErrorIs(t, e.FinishMaintenance(), ErrWrongMode)

	ids := []int64{0}
	assert.False(t, e.QuestionPermFromComp(ids))
	assert.Equal(t, []int64{InvalidID}, ids)
	assert.False(t, e.EnsurePermQuizGreater(5))
}

// TestSaveAndLoad verifies a saved knowledge base restores dimensions,
// statistics, permanent ids and the asked counter.
func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	e := discriminatingEngine(t)
	ctx := context.Background()

	quiz, err := e.StartQuiz(ctx)
	require.NoError(t, err)
	_, err = e.NextQuestion(ctx, quiz)
	require.NoError(t, err)
	require.NoError(t, e.RecordAnswer(ctx, quiz, 0))

	require.NoError(t, e.StartMaintenance(true))
	require.NoError(t, e.RemoveQuestions([]int64{0}))
	res, err := e.Compact(ctx)
	require.NoError(t, err)
	res.Release()
	require.NoError(t, e.FinishMaintenance())

	require.NoError(t, e.SaveKB(ctx, dir, true))
	require.NoError(t, e.SaveKB(ctx, dir, false))

	loaded, err := LoadEngine(ctx, dir, WithConfig(testConfig()), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer loaded.Shutdown(ctx, "")

	dims, err := loaded.CopyDims()
	require.NoError(t, err)
	assert.Equal(t, EngineDimensions{Questions: 2, Answers: 2, Targets: 2}, dims)

	asked, err := loaded.TotalQuestionsAsked()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), asked)

	want := make([]float64, 2)
	got := make([]float64, 2)
	require.NoError(t, e.CopyATargets(0, 0, want))
	require.NoError(t, loaded.CopyATargets(0, 0, got))
	assert.Equal(t, want, got)

	ids := []int64{0, 1}
	require.True(t, loaded.QuestionPermFromComp(ids))
	assert.Equal(t, []int64{1, 2}, ids)

	// New questions continue the permanent id sequence.
	require.NoError(t, loaded.StartMaintenance(false))
	qs := []AddQuestionParam{{}}
	require.NoError(t, loaded.AddQsTs(ctx, qs, nil))
	ids = []int64{qs[0].ID}
	require.True(t, loaded.QuestionPermFromComp(ids))
	assert.Equal(t, int64(3), ids[0])
}

// TestShutdownSaves verifies the final save.
func TestShutdownSaves(t *testing.T) {
	dir := t.TempDir()
	e := discriminatingEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Shutdown(ctx, dir))

	loaded, err := LoadEngine(ctx, dir, WithConfig(testConfig()), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer loaded.Shutdown(ctx, "")

	row := make([]float64, 2)
	require.NoError(t, loaded.CopyATargets(1, 0, row))
	assert.Equal(t, []float64{51, 1}, row)
}

// TestLoadMissing verifies loading an empty directory fails with
// ErrStorage.
func TestLoadMissing(t *testing.T) {
	_, err := LoadEngine(context.Background(), t.TempDir(), WithLogger(quietLogger()))
	assert.ErrorIs(t, err, ErrStorage)
}

// TestConcurrentQuizzes verifies quizzes and training run side by side.
func TestConcurrentQuizzes(t *testing.T) {
	e := newTestEngine(t, EngineDimensions{Questions: 8, Answers: 3, Targets: 40})
	trainRandom(t, e, 9, 50)
	ctx := context.Background()

	done := make(chan error, 8)
	for w := 0; w < 8; w++ {
		go func(w int) {
			quiz, err := e.StartQuiz(ctx)
			if err != nil {
				done <- err
				return
			}
			for i := 0; i < 4; i++ {
				q, err := e.NextQuestion(ctx, quiz)
				if err != nil {
					done <- err
					return
				}
				if q == InvalidID {
					break
				}
				if err := e.RecordAnswer(ctx, quiz, int64((w+i)%3)); err != nil {
					done <- err
					return
				}
			}
			done <- e.RecordQuizTarget(ctx, quiz, int64(w), 1)
		}(w)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
	asked, err := e.TotalQuestionsAsked()
	require.NoError(t, err)
	assert.Equal(t, uint64(32), asked)
}
