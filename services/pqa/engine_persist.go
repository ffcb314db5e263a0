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
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/probqa/services/pqa/idmap"
	"github.com/AleutianAI/probqa/services/pqa/kb"
	"github.com/AleutianAI/probqa/services/pqa/kbstore"
)

// SaveKB writes the knowledge base to the BadgerDB directory at path.
//
// Description:
//
//	With doubleBuffer the engine is locked only while the knowledge base is
//	copied, and the copy is written while quizzes and training continue.
//	Without it the engine stays locked until the write completes, which
//	needs no second copy alive after the call but stalls every other
//	operation meanwhile.
//
// Outputs:
//
//	error - ErrWrongMode after Shutdown, ErrStorage on I/O failure.
func (e *Engine) SaveKB(ctx context.Context, path string, doubleBuffer bool) (err error) {
	const op = "SaveKB"
	ctx, sc := startOp(ctx, op,
		attribute.String("path", path),
		attribute.Bool("double_buffer", doubleBuffer),
	)
	defer func() { sc.finish(err) }()

	if err := e.beginExclusive(op, ModeRegular, ModeMaintenance); err != nil {
		return err
	}
	rec := e.recordLocked()
	if doubleBuffer {
		e.structMu.Unlock()
		return e.writeRecord(ctx, op, path, rec)
	}
	defer e.structMu.Unlock()
	return e.writeRecord(ctx, op, path, rec)
}

// recordLocked copies everything a saved knowledge base needs. Requires
// the exclusive structural lock.
func (e *Engine) recordLocked() *kbstore.Record {
	return &kbstore.Record{
		Meta: kbstore.Meta{
			NextQuestionPerm: e.qIDs.NextPerm(),
			NextTargetPerm:   e.tIDs.NextPerm(),
			QuestionsAsked:   e.nAsked.Load(),
			InitAmount:       e.def.InitAmount,
		},
		Matrix:       e.kb.Snapshot(),
		QuestionPerm: e.qIDs.Table(),
		TargetPerm:   e.tIDs.Table(),
	}
}

func (e *Engine) writeRecord(ctx context.Context, op, path string, rec *kbstore.Record) error {
	store, err := openStore(op, e.storeCfg, path, e.log())
	if err != nil {
		return err
	}
	_, err = store.Save(ctx, rec)
	closeErr := store.Close()
	if err != nil {
		return newError(CodeStorage, op, "save snapshot", err)
	}
	if closeErr != nil {
		return newError(CodeStorage, op, "close store", closeErr)
	}
	return nil
}

func openStore(op string, cfg kbstore.Config, path string, logger *slog.Logger) (*kbstore.Store, error) {
	cfg.Path = path
	cfg.InMemory = false
	store, err := kbstore.Open(cfg, logger)
	if err != nil {
		return nil, newError(CodeStorage, op, "open store", err)
	}
	return store, nil
}

// LoadEngine creates an engine from a knowledge base saved with SaveKB.
//
// Inputs:
//
//	ctx - Context for cancellation while reading.
//	path - BadgerDB directory written by SaveKB.
//	opts - As for NewEngine.
//
// Outputs:
//
//	*Engine - The engine, in Regular mode with no quizzes.
//	error - ErrStorage if the directory holds no readable snapshot.
func LoadEngine(ctx context.Context, path string, opts ...Option) (e *Engine, err error) {
	const op = "LoadEngine"
	ctx, sc := startOp(ctx, op, attribute.String("path", path))
	defer func() { sc.finish(err) }()

	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	kernel, err := selectKernel(op, o.cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(op, o.store, path, o.logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	rec, err := store.Load(ctx)
	if err != nil {
		return nil, newError(CodeStorage, op, "load snapshot", err)
	}
	m, err := kb.FromSnapshot(rec.Matrix, kernel)
	if err != nil {
		return nil, newError(CodeStorage, op, "rebuild knowledge base", err)
	}

	def := EngineDefinition{Dims: m.Dims(), InitAmount: rec.Meta.InitAmount}
	if def.InitAmount == 0 {
		def.InitAmount = 1
	}
	e = newEngine(def, o, kernel, m,
		idmap.FromTable(rec.QuestionPerm, rec.Meta.NextQuestionPerm),
		idmap.FromTable(rec.TargetPerm, rec.Meta.NextTargetPerm),
	)
	e.nAsked.Store(rec.Meta.QuestionsAsked)
	e.log().Info("engine loaded",
		slog.String("path", path),
		slog.String("version", rec.Meta.Version),
		slog.Time("saved_at", rec.Meta.SavedAt),
		slog.Int64("questions", def.Dims.Questions),
		slog.Int64("targets", def.Dims.Targets),
	)
	return e, nil
}

// Shutdown stops the engine for good.
//
// Description:
//
//	When savePath is not empty the knowledge base is saved there first.
//	Every quiz is released, the worker pool stops, and any compaction
//	result not yet released is reported. Afterwards every operation fails
//	with ErrWrongMode. The engine is shut down even if the save fails.
//
// Outputs:
//
//	error - ErrWrongMode if already shut down, ErrStorage if the save failed.
func (e *Engine) Shutdown(ctx context.Context, savePath string) (err error) {
	const op = "Shutdown"
	ctx, sc := startOp(ctx, op, attribute.Bool("save", savePath != ""))
	defer func() { sc.finish(err) }()

	if err := e.beginExclusive(op, ModeRegular, ModeMaintenance); err != nil {
		return err
	}
	defer e.structMu.Unlock()

	var saveErr error
	if savePath != "" {
		saveErr = e.writeRecord(ctx, op, savePath, e.recordLocked())
		if saveErr != nil {
			e.log().Error("final save failed", slog.String("path", savePath), slog.String("error", saveErr.Error()))
		}
	}

	released := e.quizzes.releaseAll()
	e.mode = ModeShutdown
	e.pool.Close()

	e.compMu.Lock()
	pending := e.pendingCompactions
	e.compMu.Unlock()
	if pending > 0 {
		e.log().Warn("compaction results not released before shutdown", slog.Int("pending", pending))
	}

	e.log().Info("engine shut down", slog.Int("quizzes_released", released))
	return saveErr
}

// PendingCompactions returns the number of compaction results not yet
// released.
func (e *Engine) PendingCompactions() int {
	e.compMu.Lock()
	defer e.compMu.Unlock()
	return e.pendingCompactions
}
