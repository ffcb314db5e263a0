// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kb holds the knowledge base statistics matrix.
//
// For every question q, answer a and target t the matrix keeps an evidence
// amount A[q][a][t]. D[q][t] is the per-question default row, always the sum
// of A[q][·][t], and B[t] is the baseline weight of a target. The likelihood
// of answer a to question q given target t is A[q][a][t] / D[q][t].
//
// Locking: each question's rows (all its answers plus its D row) are
// guarded by one RWMutex; the baseline row has its own. Structural methods
// (Add*, Remove*, Compact, FromSnapshot) take no row locks and require the
// caller to exclude every other user of the matrix.
package kb

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/AleutianAI/probqa/services/pqa/numeric"
)

var (
	// ErrInvalidDims is returned for unusable dimensions.
	ErrInvalidDims = errors.New("invalid knowledge base dimensions")

	// ErrOutOfRange is returned for a question, answer or target id outside
	// the matrix or referring to a removed entry.
	ErrOutOfRange = errors.New("id out of range")
)

// Dims are the matrix dimensions, removed entries included.
type Dims struct {
	Questions int64 `json:"questions" yaml:"questions"`
	Answers   int64 `json:"answers" yaml:"answers"`
	Targets   int64 `json:"targets" yaml:"targets"`
}

// Validate checks the dimensions can back a matrix.
func (d Dims) Validate() error {
	if d.Answers < 2 {
		return fmt.Errorf("%w: need at least 2 answers, got %d", ErrInvalidDims, d.Answers)
	}
	if d.Questions < 0 || d.Targets < 0 {
		return fmt.Errorf("%w: negative count in %+v", ErrInvalidDims, d)
	}
	return nil
}

// Pair is one (question, answer) observation in compact ids.
type Pair struct {
	Question int64
	Answer   int64
}

// QuestionRows exposes one question's evidence rows while its lock is held.
// A has one row per answer. The slices must not be retained.
type QuestionRows struct {
	A [][]float64
	D []float64
}

// Matrix is the knowledge base statistics matrix.
type Matrix struct {
	dims   Dims
	kernel numeric.Kernel

	a     [][]float64 // index q*Answers + a
	d     [][]float64 // index q
	b     []float64
	rowMu []*sync.RWMutex
	bMu   sync.RWMutex

	qGap []bool
	tGap []bool
}

// New creates a matrix with every A cell set to initAmount.
//
// Inputs:
//
//	dims - Matrix dimensions, validated with Dims.Validate.
//	initAmount - Starting evidence per cell. Must be positive.
//	kernel - Arithmetic used for row operations.
//
// Outputs:
//
//	*Matrix - The matrix.
//	error - ErrInvalidDims on bad dimensions or a non-positive amount.
func New(dims Dims, initAmount float64, kernel numeric.Kernel) (*Matrix, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if !(initAmount > 0) {
		return nil, fmt.Errorf("%w: initial amount must be positive, got %v", ErrInvalidDims, initAmount)
	}
	m := &Matrix{
		dims:   Dims{Answers: dims.Answers},
		kernel: kernel,
	}
	m.growTargets(dims.Targets, initAmount)
	for q := int64(0); q < dims.Questions; q++ {
		m.appendQuestion(initAmount)
	}
	return m, nil
}

// Dims returns the current dimensions.
func (m *Matrix) Dims() Dims { return m.dims }

// Kernel returns the arithmetic kernel.
func (m *Matrix) Kernel() numeric.Kernel { return m.kernel }

// QuestionLive reports whether q is in range and not removed.
func (m *Matrix) QuestionLive(q int64) bool {
	return q >= 0 && q < m.dims.Questions && !m.qGap[q]
}

// TargetLive reports whether t is in range and not removed.
func (m *Matrix) TargetLive(t int64) bool {
	return t >= 0 && t < m.dims.Targets && !m.tGap[t]
}

// TargetGaps returns the removed-target flags. The slice must not be
// modified and is only stable while the caller excludes structural changes.
func (m *Matrix) TargetGaps() []bool { return m.tGap }

// CheckPair validates a (question, answer) pair.
func (m *Matrix) CheckPair(p Pair) error {
	if !m.QuestionLive(p.Question) {
		return fmt.Errorf("%w: question %d", ErrOutOfRange, p.Question)
	}
	if p.Answer < 0 || p.Answer >= m.dims.Answers {
		return fmt.Errorf("%w: answer %d", ErrOutOfRange, p.Answer)
	}
	return nil
}

// WithQuestion runs fn with question q's rows read-locked.
func (m *Matrix) WithQuestion(q int64, fn func(rows QuestionRows)) {
	mu := m.rowMu[q]
	mu.RLock()
	defer mu.RUnlock()
	nA := m.dims.Answers
	fn(QuestionRows{A: m.a[q*nA : (q+1)*nA], D: m.d[q]})
}

// ApplyAnswer multiplies belief by the likelihood row of answer a to
// question q. belief must have Targets elements.
func (m *Matrix) ApplyAnswer(belief []float64, q, a int64) {
	m.WithQuestion(q, func(rows QuestionRows) {
		m.kernel.MulRatio(belief, rows.A[a], rows.D)
	})
}

// CopyBaseline copies the B row into dst, zeroing removed targets.
func (m *Matrix) CopyBaseline(dst []float64) {
	m.bMu.RLock()
	copy(dst, m.b)
	m.bMu.RUnlock()
	for t, gap := range m.tGap[:min(len(dst), len(m.tGap))] {
		if gap {
			dst[t] = 0
		}
	}
}

// CopyA copies A[q][a] into dst and returns the number of values copied.
func (m *Matrix) CopyA(q, a int64, dst []float64) int {
	var n int
	m.WithQuestion(q, func(rows QuestionRows) { n = copy(dst, rows.A[a]) })
	return n
}

// CopyD copies D[q] into dst and returns the number of values copied.
func (m *Matrix) CopyD(q int64, dst []float64) int {
	var n int
	m.WithQuestion(q, func(rows QuestionRows) { n = copy(dst, rows.D) })
	return n
}

// CopyB copies B into dst and returns the number of values copied.
func (m *Matrix) CopyB(dst []float64) int {
	m.bMu.RLock()
	defer m.bMu.RUnlock()
	return copy(dst, m.b)
}

// Train adds amount of evidence for target t under every pair.
//
// Description:
//
//	For each pair A[q][a][t] and D[q][t] grow by amount, so repeated pairs
//	count repeatedly. B[t] grows by amount once. Only the rows of the
//	questions involved are write-locked, acquired in ascending question
//	order with duplicates collapsed; the baseline lock is taken last.
//
// Outputs:
//
//	error - ErrOutOfRange if any id is invalid. Nothing is modified then.
func (m *Matrix) Train(pairs []Pair, t int64, amount float64) error {
	if !m.TargetLive(t) {
		return fmt.Errorf("%w: target %d", ErrOutOfRange, t)
	}
	qs := make([]int64, 0, len(pairs))
	for _, p := range pairs {
		if err := m.CheckPair(p); err != nil {
			return err
		}
		qs = append(qs, p.Question)
	}
	slices.Sort(qs)
	qs = slices.Compact(qs)

	for _, q := range qs {
		m.rowMu[q].Lock()
	}
	nA := m.dims.Answers
	for _, p := range pairs {
		m.a[p.Question*nA+p.Answer][t] += amount
		m.d[p.Question][t] += amount
	}
	for i := len(qs) - 1; i >= 0; i-- {
		m.rowMu[qs[i]].Unlock()
	}

	m.bMu.Lock()
	m.b[t] += amount
	m.bMu.Unlock()
	return nil
}
