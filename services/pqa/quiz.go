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
	"container/list"
	"time"
)

// Quiz is one question-answering session.
//
// The belief vector holds an unnormalized weight per target and is owned
// exclusively by the quiz. Calls for the same quiz must be serialized by
// the caller.
type Quiz struct {
	id         int64
	generation uint64

	belief  []float64
	history []AnsweredQuestion
	asked   []bool
	active  int64

	createdAt time.Time
	lastUsed  time.Time
	elem      *list.Element
}

func newQuiz(generation uint64, nQuestions, nTargets int64, now time.Time) *Quiz {
	return &Quiz{
		id:         InvalidID,
		generation: generation,
		belief:     make([]float64, nTargets),
		asked:      make([]bool, nQuestions),
		active:     InvalidID,
		createdAt:  now,
		lastUsed:   now,
	}
}

// markAnswered appends a pair to the history and marks its question asked.
func (q *Quiz) markAnswered(aq AnsweredQuestion) {
	q.history = append(q.history, aq)
	q.asked[aq.Question] = true
}
