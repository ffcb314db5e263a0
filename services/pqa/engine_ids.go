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

type idKind int

const (
	questionKind idKind = iota
	targetKind
)

// translate converts ids in place under the shared structural lock. After
// Shutdown every id becomes InvalidID.
func (e *Engine) translate(ids []int64, kind idKind, toPerm bool) bool {
	e.structMu.RLock()
	defer e.structMu.RUnlock()
	if e.mode == ModeShutdown {
		invalidate(ids)
		return false
	}
	m := e.qIDs
	if kind == targetKind {
		m = e.tIDs
	}
	if toPerm {
		return m.PermFromComp(ids)
	}
	return m.CompFromPerm(ids)
}

func invalidate(ids []int64) {
	for i := range ids {
		ids[i] = InvalidID
	}
}

// QuestionPermFromComp translates question ids in place from compact to
// permanent. Invalid ids become InvalidID and the result is false.
func (e *Engine) QuestionPermFromComp(ids []int64) bool {
	return e.translate(ids, questionKind, true)
}

// QuestionCompFromPerm translates question ids in place from permanent to
// compact. Invalid ids become InvalidID and the result is false.
func (e *Engine) QuestionCompFromPerm(ids []int64) bool {
	return e.translate(ids, questionKind, false)
}

// TargetPermFromComp translates target ids in place from compact to
// permanent. Invalid ids become InvalidID and the result is false.
func (e *Engine) TargetPermFromComp(ids []int64) bool {
	return e.translate(ids, targetKind, true)
}

// TargetCompFromPerm translates target ids in place from permanent to
// compact. Invalid ids become InvalidID and the result is false.
func (e *Engine) TargetCompFromPerm(ids []int64) bool {
	return e.translate(ids, targetKind, false)
}

// QuizPermFromComp translates quiz ids in place from compact to permanent.
func (e *Engine) QuizPermFromComp(ids []int64) bool {
	if e.Mode() == ModeShutdown {
		invalidate(ids)
		return false
	}
	return e.quizzes.permFromComp(ids)
}

// QuizCompFromPerm translates quiz ids in place from permanent to compact.
func (e *Engine) QuizCompFromPerm(ids []int64) bool {
	if e.Mode() == ModeShutdown {
		invalidate(ids)
		return false
	}
	return e.quizzes.compFromPerm(ids)
}

// EnsurePermQuizGreater makes every quiz permanent id issued from now on
// exceed bound. Used to keep quiz ids unique across engine restarts.
func (e *Engine) EnsurePermQuizGreater(bound int64) bool {
	if e.Mode() == ModeShutdown {
		return false
	}
	return e.quizzes.ensurePermGreater(bound)
}

// RemapQuizPermID gives the quiz with permanent id src the permanent id
// dst. Fails if src is unknown or dst is taken.
func (e *Engine) RemapQuizPermID(src, dst int64) bool {
	if e.Mode() == ModeShutdown {
		return false
	}
	return e.quizzes.remapPerm(src, dst)
}
