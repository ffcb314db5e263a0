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

import "math"

// ratedItem is one target weight inside the top targets scratch area.
type ratedItem struct {
	prob   float64
	target int64
}

// sentinelItem terminates a radix-sorted piece.
var sentinelItem = ratedItem{prob: 0, target: InvalidID}

// before orders items by descending weight, then ascending target id.
func (a ratedItem) before(b ratedItem) bool {
	return a.prob > b.prob || (a.prob == b.prob && a.target < b.target)
}

// heapify arranges h as a max-heap under before.
func heapify(h []ratedItem) {
	for i := len(h)/2 - 1; i >= 0; i-- {
		siftDown(h, i)
	}
}

func siftDown(h []ratedItem, i int) {
	n := len(h)
	for {
		c := 2*i + 1
		if c >= n {
			return
		}
		if r := c + 1; r < n && h[r].before(h[c]) {
			c = r
		}
		if !h[c].before(h[i]) {
			return
		}
		h[i], h[c] = h[c], h[i]
		i = c
	}
}

// popTop removes the root of a non-empty heap and returns the shrunk heap.
func popTop(h []ratedItem) []ratedItem {
	last := len(h) - 1
	h[0] = h[last]
	h = h[:last]
	if last > 0 {
		siftDown(h, 0)
	}
	return h
}

// headItem is the current best item of one piece.
type headItem struct {
	item  ratedItem
	piece int64
}

func headHeapify(h []headItem) {
	for i := len(h)/2 - 1; i >= 0; i-- {
		headSiftDown(h, i)
	}
}

func headSiftDown(h []headItem, i int) {
	n := len(h)
	for {
		c := 2*i + 1
		if c >= n {
			return
		}
		if r := c + 1; r < n && h[r].item.before(h[c].item) {
			c = r
		}
		if !h[c].item.before(h[i].item) {
			return
		}
		h[i], h[c] = h[c], h[i]
		i = c
	}
}

// radixKey maps a non-negative weight to a key whose ascending order is
// descending weight order.
func radixKey(prob float64) uint64 {
	return ^math.Float64bits(prob)
}

// radixSortDesc sorts items by descending weight with an LSD radix sort
// over 8-bit digits. The sort is stable, so equal weights keep ascending
// target order. Digits where every item falls in one bucket are skipped.
// tmp must hold at least len(items) elements.
func radixSortDesc(items, tmp []ratedItem) {
	n := len(items)
	if n < 2 {
		return
	}
	src, dst := items, tmp[:n]
	for shift := uint(0); shift < 64; shift += 8 {
		var counts [256]int
		for _, it := range src {
			counts[byte(radixKey(it.prob)>>shift)]++
		}
		if counts[byte(radixKey(src[0].prob)>>shift)] == n {
			continue
		}
		pos := 0
		for b, c := range counts {
			counts[b] = pos
			pos += c
		}
		for _, it := range src {
			d := byte(radixKey(it.prob) >> shift)
			dst[counts[d]] = it
			counts[d]++
		}
		src, dst = dst, src
	}
	if &src[0] != &items[0] {
		copy(items, src)
	}
}
