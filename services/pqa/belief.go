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
)

// maxRescaleExp bounds one rescale step so the factor stays finite.
const maxRescaleExp = 1000

// rescaleFactor returns the power of two that brings peak into [0.5, 1).
// Power-of-two scaling is exact, so rescaling never changes the ratios
// between weights.
func rescaleFactor(peak float64) float64 {
	if !(peak > 0) || math.IsInf(peak, 0) {
		return 1
	}
	_, exp := math.Frexp(peak)
	exp = min(max(-exp, -maxRescaleExp), maxRescaleExp)
	return math.Ldexp(1, exp)
}

// applyAnswers multiplies belief by the likelihood row of every pair in
// order, rescaling after each batch of RenormEvery pairs.
//
// Above ResumeParallelMinTargets the targets are split across the pool:
// each worker multiplies its chunk by every pair of the batch and reports
// the chunk maximum, then the rescale runs on the same chunks. Element
// results are identical to the serial path.
func (t *baseTask) applyAnswers(belief []float64, pairs []AnsweredQuestion) error {
	if len(pairs) == 0 {
		return nil
	}
	m, k := t.kb(), t.kernel()
	every := t.cfg().RenormEvery
	nT := int64(len(belief))

	if nT < t.cfg().ResumeParallelMinTargets || t.pool().WorkerCount() < 2 {
		for i := 0; i < len(pairs); i += every {
			for _, p := range pairs[i:min(i+every, len(pairs))] {
				m.ApplyAnswer(belief, p.Question, p.Answer)
			}
			if f := rescaleFactor(k.Max(belief)); f != 1 {
				k.Scale(belief, f)
			}
		}
		return nil
	}

	split := t.pool().Split(nT)
	var layout arena.Layout
	maxSpan := arena.Reserve[float64](&layout, int64(split.Len()))
	scope, err := t.acquire(&layout)
	if err != nil {
		return err
	}
	defer scope.Release()
	maxes := arena.View(scope, maxSpan)

	for i := 0; i < len(pairs); i += every {
		batch := pairs[i:min(i+every, len(pairs))]
		err := t.run(split, func(piece int, start, lim int64) error {
			chunk := belief[start:lim]
			for _, p := range batch {
				m.WithQuestion(p.Question, func(rows kb.QuestionRows) {
					k.MulRatio(chunk, rows.A[p.Answer][start:lim], rows.D[start:lim])
				})
			}
			maxes[piece] = k.Max(chunk)
			return nil
		})
		if err != nil {
			return err
		}
		f := rescaleFactor(k.Max(maxes))
		if f == 1 {
			continue
		}
		err = t.run(split, func(_ int, start, lim int64) error {
			k.Scale(belief[start:lim], f)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
