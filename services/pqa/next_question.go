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
	"math"

	"github.com/AleutianAI/probqa/services/pqa/arena"
	"github.com/AleutianAI/probqa/services/pqa/kb"
	"github.com/AleutianAI/probqa/services/pqa/numeric"
)

type scoredQuestion struct {
	score    float64
	question int64
}

// better reports whether a beats b: higher score, then lower question id.
func (a scoredQuestion) better(b scoredQuestion) bool {
	if b.question == InvalidID {
		return a.question != InvalidID
	}
	if a.question == InvalidID {
		return false
	}
	return a.score > b.score || (a.score == b.score && a.question < b.question)
}

// nextQuestion returns the candidate with the highest expected information
// gain, or InvalidID when no candidate is left.
//
// With p the normalized belief and W the likelihood rows of a question,
// answer a has probability s_a = Σ p·W[a] and leaves posterior entropy
// H_a = ln s_a - Σ w·ln w / s_a with w = p·W[a]. The score is
// H(p) - Σ s_a·H_a.
func (t *baseTask) nextQuestion(qz *Quiz) (int64, error) {
	m, k := t.kb(), t.kernel()
	dims := m.Dims()

	var nCand int64
	for q := int64(0); q < dims.Questions; q++ {
		if m.QuestionLive(q) && !qz.asked[q] {
			nCand++
		}
	}
	if nCand == 0 {
		return InvalidID, nil
	}

	split := t.pool().Split(nCand)
	var layout arena.Layout
	candSpan := arena.Reserve[int64](&layout, nCand)
	pSpan := arena.Reserve[float64](&layout, dims.Targets)
	bestSpan := arena.Reserve[scoredQuestion](&layout, int64(split.Len()))
	scope, err := t.acquire(&layout)
	if err != nil {
		return InvalidID, err
	}
	defer scope.Release()

	cands := arena.View(scope, candSpan)
	var n int
	for q := int64(0); q < dims.Questions; q++ {
		if m.QuestionLive(q) && !qz.asked[q] {
			cands[n] = q
			n++
		}
	}

	p := arena.View(scope, pSpan)
	if !normalizeBelief(m, k, qz.belief, p) {
		// No target carries weight; every question is equally useless.
		return cands[0], nil
	}
	h := entropy(p)

	bests := arena.View(scope, bestSpan)
	err = t.run(split, func(piece int, start, lim int64) error {
		best := scoredQuestion{score: math.Inf(-1), question: InvalidID}
		for _, q := range cands[start:lim] {
			cand := scoredQuestion{score: t.scoreQuestion(q, p, h), question: q}
			if math.IsNaN(cand.score) {
				cand.score = math.Inf(-1)
			}
			if cand.better(best) {
				best = cand
			}
		}
		bests[piece] = best
		return nil
	})
	if err != nil {
		return InvalidID, err
	}

	best := scoredQuestion{question: InvalidID}
	for _, b := range bests {
		if b.better(best) {
			best = b
		}
	}
	return best.question, nil
}

// scoreQuestion returns the expected information gain of asking q.
func (t *baseTask) scoreQuestion(q int64, p []float64, h float64) float64 {
	k := t.kernel()
	var expected float64
	t.kb().WithQuestion(q, func(rows kb.QuestionRows) {
		for _, row := range rows.A {
			s, u := k.LikelihoodMoments(p, row, rows.D)
			if s > 0 {
				expected += s*math.Log(s) - u
			}
		}
	})
	return h - expected
}

// normalizeBelief writes belief normalized to sum 1 into p, with removed
// targets at zero. Returns false when no live target has weight.
func normalizeBelief(m *kb.Matrix, k numeric.Kernel, belief, p []float64) bool {
	copy(p, belief)
	for t, gap := range m.TargetGaps() {
		if gap {
			p[t] = 0
		}
	}
	total := k.Sum(p)
	if !(total > 0) || math.IsInf(total, 0) {
		return false
	}
	k.Scale(p, 1/total)
	return true
}

// entropy returns -Σ p·ln p over positive entries.
func entropy(p []float64) float64 {
	var h float64
	for _, v := range p {
		if v > 0 {
			h -= v * math.Log(v)
		}
	}
	return h
}
