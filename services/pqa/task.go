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
	"errors"
	"log/slog"

	"github.com/AleutianAI/probqa/services/pqa/arena"
	"github.com/AleutianAI/probqa/services/pqa/kb"
	"github.com/AleutianAI/probqa/services/pqa/numeric"
	"github.com/AleutianAI/probqa/services/pqa/telemetry"
	"github.com/AleutianAI/probqa/services/pqa/workers"
)

// baseTask couples one algorithm invocation to its engine.
//
// Tasks are created while the caller holds the structural lock, so the
// knowledge base and dimensions they see stay fixed for their lifetime.
type baseTask struct {
	ctx    context.Context
	op     string
	e      *Engine
	logger *slog.Logger
}

func (e *Engine) newTask(ctx context.Context, op string) *baseTask {
	return &baseTask{
		ctx:    ctx,
		op:     op,
		e:      e,
		logger: telemetry.LoggerWithTrace(ctx, e.log()).With(slog.String("op", op)),
	}
}

func (t *baseTask) kb() *kb.Matrix         { return t.e.kb }
func (t *baseTask) kernel() numeric.Kernel { return t.e.kernel }
func (t *baseTask) pool() *workers.Pool    { return t.e.pool }
func (t *baseTask) cfg() *Config           { return &t.e.cfg }

// acquire obtains scratch memory for layout.
func (t *baseTask) acquire(layout *arena.Layout) (*arena.Scope, error) {
	s, err := t.e.arena.Acquire(t.ctx, layout)
	if err != nil {
		return nil, newError(CodeAllocationFailure, t.op, "", err)
	}
	return s, nil
}

// run fans fn out over split and waits for all pieces.
func (t *baseTask) run(split workers.Split, fn workers.PieceFunc) error {
	err := t.e.pool.RunPreSplit(t.ctx, split, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeInternal, t.op, "cancelled before dispatch", err)
	}
	t.logger.Error("subtask failed", slog.String("error", err.Error()))
	return newError(CodeInternal, t.op, "subtask failed", err)
}
