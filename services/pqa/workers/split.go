// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workers provides the work-splitting arithmetic and the fixed
// worker pool every engine algorithm fans out on.
package workers

// Piece is one contiguous half-open range [Start, Lim) of a split.
type Piece struct {
	Start int64
	Lim   int64
}

// Len returns the number of items in the piece.
func (p Piece) Len() int64 { return p.Lim - p.Start }

// Split is a partition of [0, Items) into contiguous pieces.
type Split struct {
	Items  int64
	Pieces []Piece
}

// Len returns the number of pieces.
func (s Split) Len() int { return len(s.Pieces) }

// CalcSplit partitions nItems items across at most nWorkers pieces.
//
// Description:
//
//	Pieces are contiguous and cover [0, nItems) in ascending order. Piece
//	sizes differ by at most one, larger pieces first, and no piece is empty.
//	When nItems < nWorkers only nItems pieces are produced.
//
// Inputs:
//
//	nItems - Total items. Zero or negative yields an empty split.
//	nWorkers - Upper bound on the number of pieces. Values < 1 are treated as 1.
//
// Outputs:
//
//	Split - The partition.
func CalcSplit(nItems int64, nWorkers int) Split {
	if nItems <= 0 {
		return Split{}
	}
	if nWorkers < 1 {
		nWorkers = 1
	}
	k := min(int64(nWorkers), nItems)
	base := nItems / k
	rem := nItems % k

	pieces := make([]Piece, k)
	var start int64
	for i := int64(0); i < k; i++ {
		size := base
		if i < rem {
			size++
		}
		pieces[i] = Piece{Start: start, Lim: start + size}
		start += size
	}
	return Split{Items: nItems, Pieces: pieces}
}
