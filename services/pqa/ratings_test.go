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
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortedCopy(items []ratedItem) []ratedItem {
	out := append([]ratedItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

func TestRadixSortDesc(t *testing.T) {
	t.Run("random weights", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		items := make([]ratedItem, 513)
		for i := range items {
			items[i] = ratedItem{prob: rng.ExpFloat64() * math.Pow(2, float64(rng.Intn(60)-30)), target: int64(i)}
		}
		want := sortedCopy(items)
		radixSortDesc(items, make([]ratedItem, len(items)))
		assert.Equal(t, want, items)
	})

	t.Run("ties keep target order", func(t *testing.T) {
		items := []ratedItem{{0.5, 0}, {0.25, 1}, {0.5, 2}, {1, 3}, {0.25, 4}}
		radixSortDesc(items, make([]ratedItem, len(items)))
		assert.Equal(t, []ratedItem{{1, 3}, {0.5, 0}, {0.5, 2}, {0.25, 1}, {0.25, 4}}, items)
	})

	t.Run("all equal", func(t *testing.T) {
		items := []ratedItem{{2, 0}, {2, 1}, {2, 2}}
		radixSortDesc(items, make([]ratedItem, 3))
		assert.Equal(t, []ratedItem{{2, 0}, {2, 1}, {2, 2}}, items)
	})

	t.Run("short input", func(t *testing.T) {
		radixSortDesc(nil, nil)
		one := []ratedItem{{3, 7}}
		radixSortDesc(one, nil)
		assert.Equal(t, []ratedItem{{3, 7}}, one)
	})
}

func TestHeapPopOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	items := make([]ratedItem, 100)
	for i := range items {
		// Coarse weights to force ties.
		items[i] = ratedItem{prob: float64(rng.Intn(10)), target: int64(i)}
	}
	want := sortedCopy(items)

	h := append([]ratedItem(nil), items...)
	heapify(h)
	var got []ratedItem
	for len(h) > 0 {
		got = append(got, h[0])
		h = popTop(h)
	}
	assert.Equal(t, want, got)
}

func TestHeadHeap(t *testing.T) {
	heads := []headItem{
		{item: ratedItem{0.2, 5}, piece: 0},
		{item: ratedItem{0.9, 9}, piece: 1},
		{item: ratedItem{0.9, 3}, piece: 2},
		{item: ratedItem{0.1, 0}, piece: 3},
	}
	headHeapify(heads)
	require.Equal(t, int64(2), heads[0].piece)

	heads[0] = heads[len(heads)-1]
	heads = heads[:len(heads)-1]
	headSiftDown(heads, 0)
	assert.Equal(t, int64(1), heads[0].piece)
}

func TestRescaleFactor(t *testing.T) {
	tests := []struct {
		name string
		peak float64
		want float64
	}{
		{"already in range", 0.75, 1},
		{"large", 12, 1.0 / 16},
		{"small", 0x1p-40, 0x1p39},
		{"zero", 0, 1},
		{"infinite", math.Inf(1), 1},
		{"clamped", math.SmallestNonzeroFloat64, 0x1p1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rescaleFactor(tt.peak))
		})
	}

	scaled := 12 * rescaleFactor(12)
	assert.GreaterOrEqual(t, scaled, 0.5)
	assert.Less(t, scaled, 1.0)
}
