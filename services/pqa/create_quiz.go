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
	"fmt"

	"github.com/AleutianAI/probqa/services/pqa/kb"
)

type createQuizKind int

const (
	opStart createQuizKind = iota
	opResume
)

func (k createQuizKind) String() string {
	if k == opResume {
		return "resume"
	}
	return "start"
}

// createQuizOp builds the initial state of a new quiz.
//
// Start begins from the target baseline. Resume does the same and then
// replays a list of answered questions, duplicates included, in order.
type createQuizOp struct {
	kind     createQuizKind
	answered []AnsweredQuestion
}

// validate checks every replayed pair before any work is dispatched.
func (c createQuizOp) validate(t *baseTask) error {
	if c.kind != opResume {
		return nil
	}
	m := t.kb()
	for i, aq := range c.answered {
		if err := m.CheckPair(kb.Pair{Question: aq.Question, Answer: aq.Answer}); err != nil {
			return newError(CodeInvalidID, t.op, fmt.Sprintf("answered question %d", i), err)
		}
	}
	return nil
}

// run fills qz. The caller has validated the operation.
func (c createQuizOp) run(t *baseTask, qz *Quiz) error {
	t.kb().CopyBaseline(qz.belief)

	switch c.kind {
	case opStart:
		return nil
	case opResume:
		if err := t.applyAnswers(qz.belief, c.answered); err != nil {
			return err
		}
		for _, aq := range c.answered {
			qz.markAnswered(aq)
		}
		return nil
	default:
		return errorf(CodeInternal, t.op, "unknown create quiz kind %d", c.kind)
	}
}
