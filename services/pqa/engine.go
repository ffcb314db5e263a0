// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pqa implements the probabilistic question-answering engine.
//
// An Engine holds a knowledge base of answer statistics per (question,
// answer, target) and runs quizzes against it. A quiz keeps a belief over
// targets, asks the question with the highest expected information gain,
// updates the belief with each answer, and ranks targets on demand. Once the
// true target of a quiz is known the engine learns from it.
//
// # Modes
//
// The engine starts in Regular mode, where quizzes and training run
// concurrently. Structural changes (adding, removing and compacting
// questions and targets) require Maintenance mode, entered with
// StartMaintenance and left with FinishMaintenance. After Shutdown every
// operation fails with ErrWrongMode.
//
// # Ids
//
// Operations take compact ids, which are dense indices that change on
// Compact. Permanent ids are stable across compactions; the *PermFromComp
// and *CompFromPerm methods translate between the two.
//
// # Thread Safety
//
// All methods are safe for concurrent use, except that calls for the same
// quiz id must be serialized by the caller.
package pqa

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/probqa/services/pqa/arena"
	"github.com/AleutianAI/probqa/services/pqa/idmap"
	"github.com/AleutianAI/probqa/services/pqa/kb"
	"github.com/AleutianAI/probqa/services/pqa/kbstore"
	"github.com/AleutianAI/probqa/services/pqa/numeric"
	"github.com/AleutianAI/probqa/services/pqa/workers"
)

// Mode is the engine mode.
type Mode int

const (
	ModeRegular Mode = iota
	ModeMaintenance
	ModeShutdown
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeRegular:
		return "regular"
	case ModeMaintenance:
		return "maintenance"
	case ModeShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Engine is a probabilistic question-answering engine.
type Engine struct {
	cfg      Config
	def      EngineDefinition
	storeCfg kbstore.Config
	logger   atomic.Pointer[slog.Logger]

	pool   *workers.Pool
	arena  *arena.Arena
	kernel numeric.Kernel

	// structMu is held shared by Regular operations and training, and
	// exclusively by mode changes, structural operations and snapshots.
	structMu   sync.RWMutex
	mode       Mode
	kb         *kb.Matrix
	qIDs       *idmap.Map
	tIDs       *idmap.Map
	generation uint64

	quizzes *quizTable
	nAsked  atomic.Uint64

	compMu             sync.Mutex
	pendingCompactions int
}

// NewEngine creates an engine with a fresh knowledge base.
//
// Description:
//
//	Every cell of the knowledge base starts at def.InitAmount. Only double
//	precision on the CPU backend is implemented; other choices fail with
//	ErrNotImplemented. The worker pool is started here and stopped by
//	Shutdown.
//
// Inputs:
//
//	def - Dimensions, precision, backend and initial amount.
//	opts - WithConfig, WithLogger, WithStoreConfig.
//
// Outputs:
//
//	*Engine - The engine, in Regular mode.
//	error - ErrNotImplemented, or ErrInvalidArgument for bad dimensions or
//	configuration.
func NewEngine(def EngineDefinition, opts ...Option) (*Engine, error) {
	const op = "NewEngine"
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkDefinition(op, &def); err != nil {
		return nil, err
	}
	kernel, err := selectKernel(op, o.cfg)
	if err != nil {
		return nil, err
	}
	m, err := kb.New(def.Dims, def.InitAmount, kernel)
	if err != nil {
		return nil, newError(CodeInvalidArgument, op, "create knowledge base", err)
	}
	e := newEngine(def, o, kernel, m, idmap.New(def.Dims.Questions), idmap.New(def.Dims.Targets))
	e.log().Info("engine created",
		slog.Int64("questions", def.Dims.Questions),
		slog.Int64("answers", def.Dims.Answers),
		slog.Int64("targets", def.Dims.Targets),
		slog.Int("workers", e.pool.WorkerCount()),
		slog.String("kernel", kernel.Name()),
	)
	return e, nil
}

func checkDefinition(op string, def *EngineDefinition) error {
	if def.Precision != PrecisionDouble {
		return errorf(CodeNotImplemented, op, "precision %s", def.Precision)
	}
	if def.Backend != BackendCPU {
		return errorf(CodeNotImplemented, op, "backend %s", def.Backend)
	}
	if def.InitAmount == 0 {
		def.InitAmount = 1
	}
	return nil
}

func selectKernel(op string, cfg Config) (numeric.Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(CodeInvalidArgument, op, "configuration", err)
	}
	kernel, err := numeric.Select(cfg.Kernel)
	if err != nil {
		return nil, newError(CodeInvalidArgument, op, "configuration", err)
	}
	return kernel, nil
}

func newEngine(def EngineDefinition, o engineOptions, kernel numeric.Kernel, m *kb.Matrix, qIDs, tIDs *idmap.Map) *Engine {
	e := &Engine{
		cfg:      o.cfg,
		def:      def,
		storeCfg: o.store,
		kernel:   kernel,
		kb:       m,
		qIDs:     qIDs,
		tIDs:     tIDs,
		quizzes:  newQuizTable(),
	}
	e.SetLogger(o.logger)
	e.pool = workers.NewPool(o.cfg.Workers, o.logger)
	e.arena = arena.New(o.cfg.ArenaMaxBytes, o.logger)
	return e
}

// SetLogger replaces the engine logger. Safe to call at any time.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger.Store(logger.With(slog.String("component", "pqa_engine")))
}

func (e *Engine) log() *slog.Logger {
	return e.logger.Load()
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.structMu.RLock()
	defer e.structMu.RUnlock()
	return e.mode
}

// beginShared takes the structural lock shared and checks the mode. On
// success the caller must call e.structMu.RUnlock.
func (e *Engine) beginShared(op string, allowed ...Mode) error {
	e.structMu.RLock()
	if err := e.checkModeLocked(op, allowed...); err != nil {
		e.structMu.RUnlock()
		return err
	}
	return nil
}

// beginExclusive takes the structural lock exclusively and checks the
// mode. On success the caller must call e.structMu.Unlock.
func (e *Engine) beginExclusive(op string, allowed ...Mode) error {
	e.structMu.Lock()
	if err := e.checkModeLocked(op, allowed...); err != nil {
		e.structMu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) checkModeLocked(op string, allowed ...Mode) error {
	for _, m := range allowed {
		if e.mode == m {
			return nil
		}
	}
	return errorf(CodeWrongMode, op, "not allowed in %s mode", e.mode)
}

// quiz looks up a quiz and checks it against the current generation.
// Requires the structural lock.
func (e *Engine) quiz(op string, id int64) (*Quiz, error) {
	q, ok := e.quizzes.get(id)
	if !ok {
		return nil, errorf(CodeInvalidID, op, "quiz %d", id)
	}
	if q.generation != e.generation {
		return nil, errorf(CodeStaleDimensions, op, "quiz %d created at generation %d, engine at %d",
			id, q.generation, e.generation)
	}
	return q, nil
}

// Train adds evidence that the answered questions lead to target.
//
// Description:
//
//	Every pair adds amount to its answer cell and the question's default
//	row for target; the target's baseline grows by amount once. Only the
//	rows of the involved questions are locked, so quizzes on other questions
//	proceed concurrently.
//
// Outputs:
//
//	error - ErrWrongMode outside Regular mode, ErrInvalidID for any bad id,
//	ErrInvalidArgument for a non-positive amount.
func (e *Engine) Train(ctx context.Context, answered []AnsweredQuestion, target int64, amount float64) (err error) {
	const op = "Train"
	_, sc := startOp(ctx, op,
		attribute.Int("answered", len(answered)),
		attribute.Int64("target", target),
	)
	defer func() { sc.finish(err) }()

	if err := e.beginShared(op, ModeRegular); err != nil {
		return err
	}
	defer e.structMu.RUnlock()
	return e.trainLocked(op, answered, target, amount)
}

func (e *Engine) trainLocked(op string, answered []AnsweredQuestion, target int64, amount float64) error {
	if !(amount > 0) {
		return errorf(CodeInvalidArgument, op, "amount must be positive, got %v", amount)
	}
	if err := e.kb.Train(toPairs(answered), target, amount); err != nil {
		return newError(CodeInvalidID, op, "", err)
	}
	return nil
}

// TotalQuestionsAsked returns the number of answers recorded by all quizzes
// over the life of the knowledge base.
func (e *Engine) TotalQuestionsAsked() (uint64, error) {
	if err := e.beginShared("TotalQuestionsAsked", ModeRegular, ModeMaintenance); err != nil {
		return 0, err
	}
	defer e.structMu.RUnlock()
	return e.nAsked.Load(), nil
}

// CopyDims returns the current dimensions.
func (e *Engine) CopyDims() (EngineDimensions, error) {
	if err := e.beginShared("CopyDims", ModeRegular, ModeMaintenance); err != nil {
		return EngineDimensions{}, err
	}
	defer e.structMu.RUnlock()
	return e.kb.Dims(), nil
}

// CopyATargets copies the evidence of answer a to question q for every
// target into dst, which must hold at least the target count.
func (e *Engine) CopyATargets(q, a int64, dst []float64) error {
	const op = "CopyATargets"
	if err := e.beginShared(op, ModeRegular, ModeMaintenance); err != nil {
		return err
	}
	defer e.structMu.RUnlock()
	if err := e.kb.CheckPair(kb.Pair{Question: q, Answer: a}); err != nil {
		return newError(CodeInvalidID, op, "", err)
	}
	if err := e.checkDst(op, dst); err != nil {
		return err
	}
	e.kb.CopyA(q, a, dst)
	return nil
}

// CopyDTargets copies the default row of question q into dst.
func (e *Engine) CopyDTargets(q int64, dst []float64) error {
	const op = "CopyDTargets"
	if err := e.beginShared(op, ModeRegular, ModeMaintenance); err != nil {
		return err
	}
	defer e.structMu.RUnlock()
	if !e.kb.QuestionLive(q) {
		return errorf(CodeInvalidID, op, "question %d", q)
	}
	if err := e.checkDst(op, dst); err != nil {
		return err
	}
	e.kb.CopyD(q, dst)
	return nil
}

// CopyBTargets copies the target baseline row into dst.
func (e *Engine) CopyBTargets(dst []float64) error {
	const op = "CopyBTargets"
	if err := e.beginShared(op, ModeRegular, ModeMaintenance); err != nil {
		return err
	}
	defer e.structMu.RUnlock()
	if err := e.checkDst(op, dst); err != nil {
		return err
	}
	e.kb.CopyB(dst)
	return nil
}

func (e *Engine) checkDst(op string, dst []float64) error {
	if n := e.kb.Dims().Targets; int64(len(dst)) < n {
		return errorf(CodeInvalidArgument, op, "destination holds %d values, need %d", len(dst), n)
	}
	return nil
}
