// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/probqa/cmd/pqa/config"
	"github.com/AleutianAI/probqa/services/pqa"
	"github.com/AleutianAI/probqa/services/pqa/telemetry"
)

// simOptions controls one simulation run.
type simOptions struct {
	Quizzes     int
	Concurrency int
	MaxSteps    int
	TrainRounds int
	Noise       float64
	TopK        int
	Seed        int64
}

// simReport summarizes a run.
type simReport struct {
	RunID    string
	Quizzes  int
	Top1     int
	TopK     int
	Evicted  int
	Answers  int64
	Duration time.Duration
}

// oracle is the hidden ground truth a simulation samples answers from:
// every target has one true answer per question.
type oracle struct {
	truth   [][]int64 // [target][question]
	answers int64
	noise   float64
}

func newOracle(dims pqa.EngineDimensions, noise float64, seed int64) *oracle {
	rng := rand.New(rand.NewSource(seed))
	truth := make([][]int64, dims.Targets)
	for t := range truth {
		row := make([]int64, dims.Questions)
		for q := range row {
			row[q] = rng.Int63n(dims.Answers)
		}
		truth[t] = row
	}
	return &oracle{truth: truth, answers: dims.Answers, noise: noise}
}

// answer returns the answer a user thinking of target gives to q. With
// probability noise the answer is random.
func (o *oracle) answer(target, q int64, rng *rand.Rand) int64 {
	if o.noise > 0 && rng.Float64() < o.noise {
		return rng.Int63n(o.answers)
	}
	return o.truth[target][q]
}

func newSimulateCmd(a *app) *cobra.Command {
	opts := simOptions{}
	var save bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Train a knowledge base and run simulated quizzes against it",
		Long: `Simulate quiz traffic against the engine.

A hidden ground truth assigns each target one answer per question. The
knowledge base is first trained from samples of that truth, then quizzes run
concurrently: each picks a hidden target, answers the engine's questions
(with optional noise), checks the ranking and teaches the engine the target.

Examples:
  pqa simulate --quizzes 500 --concurrency 8
  pqa simulate --noise 0.1 --save
  pqa simulate --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if metricsAddr != "" {
				stop := serveMetrics(metricsAddr, a.log())
				defer stop()
			}

			dir := ""
			if save {
				dir = a.cfg.Storage.Dir
			}
			e, loaded, err := a.openEngine(ctx, dir)
			if err != nil {
				return err
			}

			rep, runErr := runSimulation(ctx, e, opts, a.cfg.Eviction, a.log())

			savePath := ""
			if save {
				savePath = a.cfg.Storage.Dir
			}
			shutdownErr := e.Shutdown(ctx, savePath)
			if runErr != nil {
				return runErr
			}
			if shutdownErr != nil {
				return shutdownErr
			}
			printReport(cmd.OutOrStdout(), rep, loaded, savePath)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Quizzes, "quizzes", 200, "Number of quizzes to run")
	f.IntVar(&opts.Concurrency, "concurrency", 4, "Quizzes running at once")
	f.IntVar(&opts.MaxSteps, "max-steps", 20, "Questions asked per quiz at most")
	f.IntVar(&opts.TrainRounds, "train-rounds", 2000, "Training samples drawn before the quizzes")
	f.Float64Var(&opts.Noise, "noise", 0.05, "Probability of a random answer")
	f.IntVar(&opts.TopK, "top", 5, "Ranking depth counted as a hit")
	f.Int64Var(&opts.Seed, "seed", 1, "Random seed")
	f.BoolVar(&save, "save", false, "Load from and save to the configured storage directory")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	return cmd
}

// runSimulation trains e from a hidden truth and runs opts.Quizzes quizzes
// against it, opts.Concurrency at a time.
func runSimulation(ctx context.Context, e *pqa.Engine, opts simOptions, ev config.EvictionConfig, logger *slog.Logger) (simReport, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.TopK < 1 {
		opts.TopK = 1
	}
	dims, err := e.CopyDims()
	if err != nil {
		return simReport{}, err
	}
	if dims.Targets == 0 || dims.Questions == 0 {
		return simReport{}, fmt.Errorf("knowledge base has %d questions and %d targets; nothing to simulate",
			dims.Questions, dims.Targets)
	}

	rep := simReport{RunID: uuid.NewString(), Quizzes: opts.Quizzes}
	logger = logger.With(slog.String("run_id", rep.RunID))
	start := time.Now()
	orc := newOracle(dims, opts.Noise, opts.Seed)

	if err := pretrain(ctx, e, orc, dims, opts); err != nil {
		return rep, err
	}
	logger.Info("knowledge base trained", slog.Int("rounds", opts.TrainRounds))

	evictCtx, stopEvict := context.WithCancel(ctx)
	defer stopEvict()
	go evictLoop(evictCtx, e, ev, logger)

	var top1, topK, evicted atomic.Int64
	before, err := e.TotalQuestionsAsked()
	if err != nil {
		return rep, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := 0; i < opts.Quizzes; i++ {
		seed := opts.Seed + int64(i) + 1
		g.Go(func() error {
			res, err := runQuiz(gctx, e, orc, dims, opts, rand.New(rand.NewSource(seed)))
			switch {
			case errors.Is(err, pqa.ErrInvalidID):
				// Evicted while running.
				evicted.Add(1)
				return nil
			case err != nil:
				return err
			}
			if res.rank == 0 {
				top1.Add(1)
			}
			if res.rank >= 0 && res.rank < opts.TopK {
				topK.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	after, err := e.TotalQuestionsAsked()
	if err != nil {
		return rep, err
	}
	rep.Top1 = int(top1.Load())
	rep.TopK = int(topK.Load())
	rep.Evicted = int(evicted.Load())
	rep.Answers = int64(after - before)
	rep.Duration = time.Since(start)
	logger.Info("simulation finished",
		slog.Int("quizzes", rep.Quizzes),
		slog.Int("top1", rep.Top1),
		slog.Int("evicted", rep.Evicted),
		slog.Duration("duration", rep.Duration),
	)
	return rep, nil
}

func pretrain(ctx context.Context, e *pqa.Engine, orc *oracle, dims pqa.EngineDimensions, opts simOptions) error {
	rng := rand.New(rand.NewSource(opts.Seed))
	perSample := min(int(dims.Questions), max(1, opts.MaxSteps))
	answered := make([]pqa.AnsweredQuestion, 0, perSample)
	for i := 0; i < opts.TrainRounds; i++ {
		target := rng.Int63n(dims.Targets)
		answered = answered[:0]
		for _, q := range rng.Perm(int(dims.Questions))[:perSample] {
			answered = append(answered, pqa.AnsweredQuestion{
				Question: int64(q),
				Answer:   orc.answer(target, int64(q), rng),
			})
		}
		if err := e.Train(ctx, answered, target, 1); err != nil {
			return fmt.Errorf("train sample %d: %w", i, err)
		}
	}
	return nil
}

type quizResult struct {
	// rank of the hidden target in the final listing, -1 if not listed.
	rank int
}

func runQuiz(ctx context.Context, e *pqa.Engine, orc *oracle, dims pqa.EngineDimensions, opts simOptions, rng *rand.Rand) (quizResult, error) {
	target := rng.Int63n(dims.Targets)
	quiz, err := e.StartQuiz(ctx)
	if err != nil {
		return quizResult{}, err
	}
	defer func() {
		// Already gone if evicted.
		_ = e.ReleaseQuiz(quiz)
	}()

	for step := 0; step < opts.MaxSteps; step++ {
		q, err := e.NextQuestion(ctx, quiz)
		if err != nil {
			return quizResult{}, err
		}
		if q == pqa.InvalidID {
			break
		}
		if err := e.RecordAnswer(ctx, quiz, orc.answer(target, q, rng)); err != nil {
			return quizResult{}, err
		}
	}

	dest := make([]pqa.RatedTarget, opts.TopK)
	n, err := e.ListTopTargets(ctx, quiz, dest)
	if err != nil {
		return quizResult{}, err
	}
	res := quizResult{rank: -1}
	for i, rt := range dest[:n] {
		if rt.Target == target {
			res.rank = i
			break
		}
	}
	if err := e.RecordQuizTarget(ctx, quiz, target, 1); err != nil {
		return quizResult{}, err
	}
	return res, nil
}

// evictLoop releases old quizzes every ev.Interval until ctx is done.
func evictLoop(ctx context.Context, e *pqa.Engine, ev config.EvictionConfig, logger *slog.Logger) {
	if ev.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(ev.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.ClearOldQuizzes(ev.MaxQuizzes, ev.MaxIdle)
			if err != nil {
				logger.Warn("quiz eviction failed", slog.String("error", err.Error()))
				return
			}
			if n > 0 {
				logger.Info("evicted idle quizzes", slog.Int("count", n))
			}
		}
	}
}

// serveMetrics exposes the Prometheus handler on addr and returns a stop
// function.
func serveMetrics(addr string, logger *slog.Logger) func() {
	h := telemetry.MetricsHandler()
	if h == nil {
		logger.Warn("metrics address set but the prometheus exporter is disabled", slog.String("addr", addr))
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printReport(w io.Writer, rep simReport, loaded bool, savePath string) {
	pct := func(n int) float64 {
		if rep.Quizzes == 0 {
			return 0
		}
		return 100 * float64(n) / float64(rep.Quizzes)
	}
	source := "fresh"
	if loaded {
		source = "loaded"
	}
	fmt.Fprintf(w, "run %s (%s knowledge base)\n", rep.RunID, source)
	fmt.Fprintf(w, "  quizzes:   %d in %s\n", rep.Quizzes, rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  top-1:     %d (%.1f%%)\n", rep.Top1, pct(rep.Top1))
	fmt.Fprintf(w, "  top-k:     %d (%.1f%%)\n", rep.TopK, pct(rep.TopK))
	fmt.Fprintf(w, "  evicted:   %d\n", rep.Evicted)
	fmt.Fprintf(w, "  answers:   %d\n", rep.Answers)
	if savePath != "" {
		fmt.Fprintf(w, "  saved to:  %s\n", savePath)
	}
}
