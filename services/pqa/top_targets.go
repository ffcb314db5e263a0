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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/probqa/services/pqa/arena"
)

// ListTopTargets writes the most probable targets of quiz into dest.
//
// Description:
//
//	Applicable targets are those not removed with positive weight. Each
//	probability is the target's weight over the total applicable weight.
//	Entries are ordered by descending probability, ties by ascending target
//	id. Two parallel strategies exist: per-piece heaps merged through a head
//	heap, and per-piece radix sorts merged the same way; the configured
//	strategy (or auto) picks one.
//
// Inputs:
//
//	ctx - Context for tracing.
//	quiz - Compact quiz id.
//	dest - Receives up to len(dest) entries.
//
// Outputs:
//
//	int64 - Number of entries written. Zero for an empty dest.
//	error - ErrInvalidID for an unknown quiz, ErrStaleDimensions for a quiz
//	older than the last dimension change, checked before any work.
func (e *Engine) ListTopTargets(ctx context.Context, quiz int64, dest []RatedTarget) (n int64, err error) {
	const op = "ListTopTargets"
	ctx, sc := startOp(ctx, op, attribute.Int64("quiz", quiz), attribute.Int("capacity", len(dest)))
	defer func() { sc.finish(err) }()

	if err := e.beginShared(op, ModeRegular); err != nil {
		return 0, err
	}
	defer e.structMu.RUnlock()
	qz, err := e.quiz(op, quiz)
	if err != nil {
		return 0, err
	}
	if len(dest) == 0 {
		return 0, nil
	}

	t := e.newTask(ctx, op)
	strategy := t.chooseStrategy(int64(len(dest)), int64(len(qz.belief)))
	topTargetsStrategy.WithLabelValues(strategy).Inc()
	sc.span.SetAttributes(attribute.String("strategy", strategy))
	return t.listTopTargets(qz.belief, dest, strategy)
}

func (t *baseTask) chooseStrategy(maxCount, nTargets int64) string {
	cfg := t.cfg().TopTargets
	switch cfg.Strategy {
	case StrategyHeap, StrategyRadix:
		return cfg.Strategy
	}
	if float64(maxCount) >= cfg.RadixMinRatio*float64(nTargets) {
		return StrategyRadix
	}
	return StrategyHeap
}

// listTopTargets runs one strategy over belief.
//
// Scratch layout: piece i of the target split owns items[start+i, lim+i+1),
// one slot longer than the piece so a radix-sorted piece can end with a
// sentinel.
func (t *baseTask) listTopTargets(belief []float64, dest []RatedTarget, strategy string) (int64, error) {
	nT := int64(len(belief))
	split := t.pool().Split(nT)
	nP := int64(split.Len())
	if nP == 0 {
		return 0, nil
	}
	radix := strategy == StrategyRadix

	var layout arena.Layout
	itemSpan := arena.Reserve[ratedItem](&layout, nT+nP)
	var tmpSpan arena.Span[ratedItem]
	if radix {
		tmpSpan = arena.Reserve[ratedItem](&layout, nT+nP)
	}
	sumSpan := arena.Reserve[float64](&layout, nP)
	filledSpan := arena.Reserve[int64](&layout, nP)
	headSpan := arena.Reserve[headItem](&layout, nP)
	scope, err := t.acquire(&layout)
	if err != nil {
		return 0, err
	}
	defer scope.Release()

	items := arena.View(scope, itemSpan)
	tmp := arena.View(scope, tmpSpan)
	sums := arena.View(scope, sumSpan)
	filled := arena.View(scope, filledSpan)
	gaps := t.kb().TargetGaps()

	err = t.run(split, func(piece int, start, lim int64) error {
		base := start + int64(piece)
		local := items[base : lim+int64(piece)+1]
		var cnt int64
		var sum float64
		for tg := start; tg < lim; tg++ {
			w := belief[tg]
			if w > 0 && !gaps[tg] {
				local[cnt] = ratedItem{prob: w, target: tg}
				cnt++
				sum += w
			}
		}
		sums[piece] = sum
		filled[piece] = cnt
		if radix {
			radixSortDesc(local[:cnt], tmp[base:base+cnt])
			local[cnt] = sentinelItem
		} else {
			heapify(local[:cnt])
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var total float64
	var available int64
	for i := range sums {
		total += sums[i]
		available += filled[i]
	}
	want := min(int64(len(dest)), available)
	if want == 0 || !(total > 0) {
		return 0, nil
	}

	pieceBase := func(p int64) int64 { return split.Pieces[p].Start + p }
	heads := arena.View(scope, headSpan)[:0]
	for p := int64(0); p < nP; p++ {
		if filled[p] > 0 {
			heads = append(heads, headItem{item: items[pieceBase(p)], piece: p})
		}
	}
	headHeapify(heads)

	if radix {
		// filled doubles as the per-piece read cursor.
		cursors := filled
		for p := range cursors {
			cursors[p] = 0
		}
		for k := int64(0); k < want; k++ {
			top := heads[0]
			dest[k] = RatedTarget{Target: top.item.target, Prob: top.item.prob / total}
			cursors[top.piece]++
			next := items[pieceBase(top.piece)+cursors[top.piece]]
			if next.target == sentinelItem.target {
				heads[0] = heads[len(heads)-1]
				heads = heads[:len(heads)-1]
			} else {
				heads[0] = headItem{item: next, piece: top.piece}
			}
			headSiftDown(heads, 0)
		}
		return want, nil
	}

	for k := int64(0); k < want; k++ {
		top := heads[0]
		dest[k] = RatedTarget{Target: top.item.target, Prob: top.item.prob / total}
		base := pieceBase(top.piece)
		local := popTop(items[base : base+filled[top.piece]])
		filled[top.piece]--
		if len(local) > 0 {
			heads[0] = headItem{item: local[0], piece: top.piece}
		} else {
			heads[0] = heads[len(heads)-1]
			heads = heads[:len(heads)-1]
		}
		headSiftDown(heads, 0)
	}
	return want, nil
}
