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
	"sync"

	"github.com/AleutianAI/probqa/services/pqa/idmap"
	"github.com/AleutianAI/probqa/services/pqa/kb"
)

// InvalidID marks the absence of an id, e.g. no active question or an
// exhausted quiz.
const InvalidID = idmap.Invalid

// EngineDimensions are the question, answer and target counts of a
// knowledge base, removed-but-not-compacted entries included.
type EngineDimensions = kb.Dims

// AnsweredQuestion is one (question, answer) pair in compact ids.
type AnsweredQuestion struct {
	Question int64 `json:"question" yaml:"question"`
	Answer   int64 `json:"answer" yaml:"answer"`
}

// RatedTarget is one entry of a top targets listing.
type RatedTarget struct {
	Target int64   `json:"target"`
	Prob   float64 `json:"prob"`
}

// Precision selects the number representation of the knowledge base.
type Precision int

const (
	PrecisionDouble Precision = iota
	PrecisionFloat
	PrecisionExtended
	PrecisionArbitrary
)

// String returns the precision name.
func (p Precision) String() string {
	switch p {
	case PrecisionDouble:
		return "double"
	case PrecisionFloat:
		return "float"
	case PrecisionExtended:
		return "extended"
	case PrecisionArbitrary:
		return "arbitrary"
	default:
		return "unknown"
	}
}

// Backend selects where the engine computes.
type Backend int

const (
	BackendCPU Backend = iota
	BackendCUDA
	BackendGrid
)

// String returns the backend name.
func (b Backend) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendCUDA:
		return "cuda"
	case BackendGrid:
		return "grid"
	default:
		return "unknown"
	}
}

// EngineDefinition describes the knowledge base an engine starts with.
type EngineDefinition struct {
	Dims      EngineDimensions
	Precision Precision
	Backend   Backend

	// InitAmount is the starting evidence of every cell. Zero means 1.
	InitAmount float64
}

func toPairs(answered []AnsweredQuestion) []kb.Pair {
	pairs := make([]kb.Pair, len(answered))
	for i, aq := range answered {
		pairs[i] = kb.Pair{Question: aq.Question, Answer: aq.Answer}
	}
	return pairs
}

// AddQuestionParam requests one new question. ID receives the compact id
// assigned by AddQsTs.
type AddQuestionParam struct {
	// InitialAmount is the starting evidence of the question's cells.
	// Zero means the engine's initial amount.
	InitialAmount float64
	ID            int64
}

// AddTargetParam requests one new target. ID receives the compact id
// assigned by AddQsTs.
type AddTargetParam struct {
	// InitialAmount is the starting evidence of the target's cells.
	// Zero means the engine's initial amount.
	InitialAmount float64
	ID            int64
}

// IDRemap maps compact ids across a compaction.
type IDRemap struct {
	// OldToNew has one entry per pre-compaction id; removed ids map to
	// InvalidID.
	OldToNew []int64

	// NewToOld has one entry per surviving id.
	NewToOld []int64
}

// CompactionResult describes a compaction. Callers must call Release once
// they have applied the remapping; unreleased results are reported at
// shutdown.
type CompactionResult struct {
	Questions IDRemap
	Targets   IDRemap

	once    sync.Once
	release func()
}

// Release marks the result as consumed. Idempotent.
func (r *CompactionResult) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.release != nil {
			r.release()
		}
	})
}

func newIDRemap(oldLen int64, newToOld []int64) IDRemap {
	oldToNew := make([]int64, oldLen)
	for i := range oldToNew {
		oldToNew[i] = InvalidID
	}
	for n, o := range newToOld {
		oldToNew[o] = int64(n)
	}
	return IDRemap{OldToNew: oldToNew, NewToOld: newToOld}
}
