// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kb

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/probqa/services/pqa/numeric"
)

func newMatrix(t *testing.T, q, a, tg int64) *Matrix {
	t.Helper()
	m, err := New(Dims{Questions: q, Answers: a, Targets: tg}, 1, numeric.Scalar{})
	require.NoError(t, err)
	return m
}

// TestNewValidation verifies dimension and amount checks.
func TestNewValidation(t *testing.T) {
	_, err := New(Dims{Questions: 1, Answers: 1, Targets: 1}, 1, numeric.Scalar{})
	assert.ErrorIs(t, err, ErrInvalidDims)

	_, err = New(Dims{Questions: -1, Answers: 2, Targets: 1}, 1, numeric.Scalar{})
	assert.ErrorIs(t, err, ErrInvalidDims)

	_, err = New(Dims{Questions: 1, Answers: 2, Targets: 1}, 0, numeric.Scalar{})
	assert.ErrorIs(t, err, ErrInvalidDims)
}

// TestInitialState verifies D is the sum of A and B starts at the amount.
func TestInitialState(t *testing.T) {
	m := newMatrix(t, 2, 3, 4)
	d := make([]float64, 4)
	require.Equal(t, 4, m.CopyD(1, d))
	assert.Equal(t, []float64{3, 3, 3, 3}, d)

	b := make([]float64, 4)
	m.CopyB(b)
	assert.Equal(t, []float64{1, 1, 1, 1}, b)
}

// TestTrain verifies per-pair and per-target increments, including
// repeated pairs.
func TestTrain(t *testing.T) {
	m := newMatrix(t, 3, 2, 3)
	pairs := []Pair{{Question: 2, Answer: 1}, {Question: 0, Answer: 0}, {Question: 2, Answer: 1}}
	require.NoError(t, m.Train(pairs, 1, 0.5))

	row := make([]float64, 3)
	m.CopyA(2, 1, row)
	assert.Equal(t, []float64{1, 2, 1}, row)
	m.CopyD(2, row)
	assert.Equal(t, []float64{2, 3, 2}, row)
	m.CopyA(0, 0, row)
	assert.Equal(t, []float64{1, 1.5, 1}, row)
	m.CopyB(row)
	assert.Equal(t, []float64{1, 1.5, 1}, row)

	t.Run("unordered repeated questions lock each row once", func(t *testing.T) {
		m := newMatrix(t, 3, 2, 2)
		pairs := []Pair{
			{Question: 2, Answer: 0}, {Question: 1, Answer: 1}, {Question: 2, Answer: 0},
			{Question: 0, Answer: 1}, {Question: 1, Answer: 1}, {Question: 2, Answer: 1},
		}
		require.NoError(t, m.Train(pairs, 0, 1))

		d := make([]float64, 2)
		m.CopyD(2, d)
		assert.Equal(t, []float64{4, 1}, d)
		m.CopyD(1, d)
		assert.Equal(t, []float64{3, 1}, d)
		m.CopyD(0, d)
		assert.Equal(t, []float64{2, 1}, d)
		m.CopyB(d)
		assert.Equal(t, []float64{2, 1}, d)
	})

	t.Run("invalid ids leave the matrix untouched", func(t *testing.T) {
		err := m.Train([]Pair{{Question: 0, Answer: 0}, {Question: 0, Answer: 5}}, 0, 1)
		assert.ErrorIs(t, err, ErrOutOfRange)
		err = m.Train(nil, 9, 1)
		assert.ErrorIs(t, err, ErrOutOfRange)

		m.CopyA(0, 0, row)
		assert.Equal(t, []float64{1, 1.5, 1}, row)
	})
}

// TestConcurrentTrain verifies row locking keeps concurrent updates exact.
func TestConcurrentTrain(t *testing.T) {
	m := newMatrix(t, 4, 2, 2)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs := []Pair{{Question: int64(i % 4), Answer: 0}, {Question: int64((i + 1) % 4), Answer: 1}}
			for j := 0; j < 100; j++ {
				assert.NoError(t, m.Train(pairs, 0, 1))
			}
		}(i)
	}
	wg.Wait()

	b := make([]float64, 2)
	m.CopyB(b)
	assert.Equal(t, 801.0, b[0])

	for q := int64(0); q < 4; q++ {
		d := make([]float64, 2)
		m.CopyD(q, d)
		// Every question appears in 4 of the 8 trainers' pair lists.
		assert.Equal(t, 2+400.0, d[0], "question %d", q)
	}
}

// TestApplyAnswer verifies the likelihood multiply.
func TestApplyAnswer(t *testing.T) {
	m := newMatrix(t, 1, 2, 2)
	require.NoError(t, m.Train([]Pair{{Question: 0, Answer: 1}}, 0, 2))

	belief := []float64{1, 1}
	m.ApplyAnswer(belief, 0, 1)
	// A[0][1] = {3, 1}, D[0] = {4, 2}
	assert.Equal(t, []float64{0.75, 0.5}, belief)
}

// TestAddQuestionsAndTargets verifies new rows and columns and that the
// question amount wins where a new question meets a new target.
func TestAddQuestionsAndTargets(t *testing.T) {
	m := newMatrix(t, 1, 2, 1)

	first, err := m.AddTargets([]float64{5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	firstQ, err := m.AddQuestions([]float64{7})
	require.NoError(t, err)
	assert.Equal(t, int64(1), firstQ)

	assert.Equal(t, Dims{Questions: 2, Answers: 2, Targets: 2}, m.Dims())

	row := make([]float64, 2)
	m.CopyA(0, 1, row)
	assert.Equal(t, []float64{1, 5}, row)
	m.CopyD(0, row)
	assert.Equal(t, []float64{2, 10}, row)
	m.CopyA(1, 0, row)
	assert.Equal(t, []float64{7, 7}, row)
	m.CopyD(1, row)
	assert.Equal(t, []float64{14, 14}, row)
	m.CopyB(row)
	assert.Equal(t, []float64{1, 5}, row)

	_, err = m.AddQuestions([]float64{0})
	assert.ErrorIs(t, err, ErrInvalidDims)
}

// TestRemoveAndCompact verifies gaps and order-preserving compaction.
func TestRemoveAndCompact(t *testing.T) {
	m := newMatrix(t, 4, 2, 3)
	require.NoError(t, m.Train([]Pair{{Question: 3, Answer: 0}}, 2, 1))

	require.NoError(t, m.RemoveQuestion(1))
	require.NoError(t, m.RemoveTarget(0))
	assert.ErrorIs(t, m.RemoveQuestion(1), ErrOutOfRange)
	assert.ErrorIs(t, m.RemoveTarget(7), ErrOutOfRange)
	assert.False(t, m.QuestionLive(1))
	assert.ErrorIs(t, m.CheckPair(Pair{Question: 1, Answer: 0}), ErrOutOfRange)

	base := make([]float64, 3)
	m.CopyBaseline(base)
	assert.Equal(t, []float64{0, 1, 2}, base)

	qMap, tMap := m.Compact()
	assert.Equal(t, []int64{0, 2, 3}, qMap)
	assert.Equal(t, []int64{1, 2}, tMap)
	assert.Equal(t, Dims{Questions: 3, Answers: 2, Targets: 2}, m.Dims())

	row := make([]float64, 2)
	m.CopyA(2, 0, row) // old question 3
	assert.Equal(t, []float64{1, 2}, row)
	m.CopyB(row)
	assert.Equal(t, []float64{1, 2}, row)
	assert.True(t, m.QuestionLive(2))
}

// TestSnapshotRoundTrip verifies a matrix survives snapshot and rebuild.
func TestSnapshotRoundTrip(t *testing.T) {
	m := newMatrix(t, 3, 2, 4)
	require.NoError(t, m.Train([]Pair{{Question: 1, Answer: 1}, {Question: 2, Answer: 0}}, 3, 2.5))
	require.NoError(t, m.RemoveTarget(1))

	s := m.Snapshot()
	r, err := FromSnapshot(s, numeric.Lanes4{})
	require.NoError(t, err)

	assert.Equal(t, m.Dims(), r.Dims())
	assert.Equal(t, s, r.Snapshot())
	assert.False(t, r.TargetLive(1))

	s.B = s.B[:2]
	_, err = FromSnapshot(s, numeric.Scalar{})
	assert.ErrorIs(t, err, ErrInvalidDims)
}
