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
)

// StartMaintenance switches the engine to Maintenance mode.
//
// Description:
//
//	Maintenance mode allows structural changes and forbids quizzes. If
//	quizzes are open the call fails unless force is set, in which case
//	every quiz is released.
//
// Outputs:
//
//	error - ErrWrongMode if already in Maintenance, after Shutdown, or when
//	quizzes are open and force is false.
func (e *Engine) StartMaintenance(force bool) error {
	const op = "StartMaintenance"
	if err := e.beginExclusive(op, ModeRegular); err != nil {
		return err
	}
	defer e.structMu.Unlock()

	if open := e.quizzes.len(); open > 0 {
		if !force {
			return errorf(CodeWrongMode, op, "%d quizzes open", open)
		}
		released := e.quizzes.releaseAll()
		e.log().Warn("released quizzes to enter maintenance", slog.Int("released", released))
	}
	e.mode = ModeMaintenance
	e.log().Info("maintenance started")
	return nil
}

// FinishMaintenance returns the engine to Regular mode. Calling it in
// Regular mode is a no-op.
func (e *Engine) FinishMaintenance() error {
	const op = "FinishMaintenance"
	if err := e.beginExclusive(op, ModeRegular, ModeMaintenance); err != nil {
		return err
	}
	defer e.structMu.Unlock()
	if e.mode == ModeMaintenance {
		e.mode = ModeRegular
		e.log().Info("maintenance finished")
	}
	return nil
}

// AddQsTs appends questions and targets.
//
// Description:
//
//	Targets are added first, then questions, so where a new question meets
//	a new target the question's initial amount wins. The compact id of every
//	new entry is written back into its param. Dimensions change, so the
//	engine generation advances.
//
// Outputs:
//
//	error - ErrWrongMode outside Maintenance, ErrInvalidArgument for a
//	negative amount.
func (e *Engine) AddQsTs(ctx context.Context, questions []AddQuestionParam, targets []AddTargetParam) (err error) {
	const op = "AddQsTs"
	_, sc := startOp(ctx, op,
		attribute.Int("questions", len(questions)),
		attribute.Int("targets", len(targets)),
	)
	defer func() { sc.finish(err) }()

	if err := e.beginExclusive(op, ModeMaintenance); err != nil {
		return err
	}
	defer e.structMu.Unlock()

	tAmounts := make([]float64, len(targets))
	for i, p := range targets {
		if tAmounts[i], err = e.initialAmount(op, p.InitialAmount); err != nil {
			return err
		}
	}
	qAmounts := make([]float64, len(questions))
	for i, p := range questions {
		if qAmounts[i], err = e.initialAmount(op, p.InitialAmount); err != nil {
			return err
		}
	}
	if len(tAmounts)+len(qAmounts) == 0 {
		return nil
	}

	if _, err := e.kb.AddTargets(tAmounts); err != nil {
		return newError(CodeInvalidArgument, op, "add targets", err)
	}
	if _, err := e.kb.AddQuestions(qAmounts); err != nil {
		return newError(CodeInvalidArgument, op, "add questions", err)
	}
	for i := range targets {
		targets[i].ID, _ = e.tIDs.Add()
	}
	for i := range questions {
		questions[i].ID, _ = e.qIDs.Add()
	}
	e.generation++

	dims := e.kb.Dims()
	e.log().Info("questions and targets added",
		slog.Int("questions_added", len(questions)),
		slog.Int("targets_added", len(targets)),
		slog.Int64("questions", dims.Questions),
		slog.Int64("targets", dims.Targets),
	)
	return nil
}

func (e *Engine) initialAmount(op string, amount float64) (float64, error) {
	switch {
	case amount == 0:
		return e.def.InitAmount, nil
	case amount > 0:
		return amount, nil
	default:
		return 0, errorf(CodeInvalidArgument, op, "initial amount must not be negative, got %v", amount)
	}
}

// RemoveQuestions marks questions removed. They stop being asked and
// their compact ids stay reserved until Compact. Either all ids are
// removed or none.
func (e *Engine) RemoveQuestions(ids []int64) error {
	const op = "RemoveQuestions"
	if err := e.beginExclusive(op, ModeMaintenance); err != nil {
		return err
	}
	defer e.structMu.Unlock()

	seen := make(map[int64]struct{}, len(ids))
	for _, q := range ids {
		if _, dup := seen[q]; dup || !e.kb.QuestionLive(q) {
			return errorf(CodeInvalidID, op, "question %d", q)
		}
		seen[q] = struct{}{}
	}
	for _, q := range ids {
		if err := e.kb.RemoveQuestion(q); err != nil {
			return newError(CodeInternal, op, "", err)
		}
		e.qIDs.Remove(q)
	}
	e.log().Info("questions removed", slog.Int("count", len(ids)))
	return nil
}

// RemoveTargets marks targets removed. They get zero probability and their
// compact ids stay reserved until Compact. Either all ids are removed or
// none.
func (e *Engine) RemoveTargets(ids []int64) error {
	const op = "RemoveTargets"
	if err := e.beginExclusive(op, ModeMaintenance); err != nil {
		return err
	}
	defer e.structMu.Unlock()

	seen := make(map[int64]struct{}, len(ids))
	for _, t := range ids {
		if _, dup := seen[t]; dup || !e.kb.TargetLive(t) {
			return errorf(CodeInvalidID, op, "target %d", t)
		}
		seen[t] = struct{}{}
	}
	for _, t := range ids {
		if err := e.kb.RemoveTarget(t); err != nil {
			return newError(CodeInternal, op, "", err)
		}
		e.tIDs.Remove(t)
	}
	e.log().Info("targets removed", slog.Int("count", len(ids)))
	return nil
}

// Compact drops removed questions and targets and renumbers the rest
// without changing their relative order.
//
// Description:
//
//	Permanent ids are unaffected; the compact↔permanent tables are rebuilt.
//	The engine generation advances. The returned result carries the old→new
//	and new→old tables and must be released by the caller.
//
// Outputs:
//
//	*CompactionResult - Id remapping. Call Release when done.
//	error - ErrWrongMode outside Maintenance.
func (e *Engine) Compact(ctx context.Context) (res *CompactionResult, err error) {
	const op = "Compact"
	_, sc := startOp(ctx, op)
	defer func() { sc.finish(err) }()

	if err := e.beginExclusive(op, ModeMaintenance); err != nil {
		return nil, err
	}
	defer e.structMu.Unlock()

	before := e.kb.Dims()
	qNewToOld, tNewToOld := e.kb.Compact()
	e.qIDs.Compact(qNewToOld)
	e.tIDs.Compact(tNewToOld)
	e.generation++

	res = &CompactionResult{
		Questions: newIDRemap(before.Questions, qNewToOld),
		Targets:   newIDRemap(before.Targets, tNewToOld),
	}
	e.compMu.Lock()
	e.pendingCompactions++
	e.compMu.Unlock()
	res.release = func() {
		e.compMu.Lock()
		e.pendingCompactions--
		e.compMu.Unlock()
	}

	after := e.kb.Dims()
	e.log().Info("knowledge base compacted",
		slog.Int64("questions_before", before.Questions),
		slog.Int64("questions_after", after.Questions),
		slog.Int64("targets_before", before.Targets),
		slog.Int64("targets_after", after.Targets),
	)
	return res, nil
}
