// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kb

import (
	"fmt"
	"sync"
)

// growTargets appends n target columns initialized to amount.
func (m *Matrix) growTargets(n int64, amount float64) {
	if n <= 0 {
		return
	}
	nA := m.dims.Answers
	ext := make([]float64, n)
	m.kernel.Fill(ext, amount)
	for i := range m.a {
		m.a[i] = append(m.a[i], ext...)
	}
	m.kernel.ScaleInt(ext, nA)
	for q := range m.d {
		m.d[q] = append(m.d[q], ext...)
	}
	m.kernel.Fill(ext, amount)
	m.b = append(m.b, ext...)
	m.tGap = append(m.tGap, make([]bool, n)...)
	m.dims.Targets += n
}

// appendQuestion appends one question with every A cell set to amount.
func (m *Matrix) appendQuestion(amount float64) {
	nA, nT := m.dims.Answers, m.dims.Targets
	for a := int64(0); a < nA; a++ {
		row := make([]float64, nT)
		m.kernel.Fill(row, amount)
		m.a = append(m.a, row)
	}
	d := make([]float64, nT)
	m.kernel.Fill(d, amount)
	m.kernel.ScaleInt(d, nA)
	m.d = append(m.d, d)
	m.rowMu = append(m.rowMu, &sync.RWMutex{})
	m.qGap = append(m.qGap, false)
	m.dims.Questions++
}

// AddTargets appends one target per amount and returns the first new id.
// Existing questions get amount in every answer cell of the new column.
func (m *Matrix) AddTargets(amounts []float64) (int64, error) {
	first := m.dims.Targets
	for _, amt := range amounts {
		if !(amt > 0) {
			return first, fmt.Errorf("%w: target amount must be positive, got %v", ErrInvalidDims, amt)
		}
	}
	for _, amt := range amounts {
		m.growTargets(1, amt)
	}
	return first, nil
}

// AddQuestions appends one question per amount and returns the first new id.
// The new rows span every target, including targets added just before.
func (m *Matrix) AddQuestions(amounts []float64) (int64, error) {
	first := m.dims.Questions
	for _, amt := range amounts {
		if !(amt > 0) {
			return first, fmt.Errorf("%w: question amount must be positive, got %v", ErrInvalidDims, amt)
		}
	}
	for _, amt := range amounts {
		m.appendQuestion(amt)
	}
	return first, nil
}

// RemoveQuestion marks q removed. Its storage is reclaimed by Compact.
func (m *Matrix) RemoveQuestion(q int64) error {
	if !m.QuestionLive(q) {
		return fmt.Errorf("%w: question %d", ErrOutOfRange, q)
	}
	m.qGap[q] = true
	return nil
}

// RemoveTarget marks t removed. Its storage is reclaimed by Compact.
func (m *Matrix) RemoveTarget(t int64) error {
	if !m.TargetLive(t) {
		return fmt.Errorf("%w: target %d", ErrOutOfRange, t)
	}
	m.tGap[t] = true
	return nil
}

// Compact drops removed questions and targets, keeping the relative order
// of the rest.
//
// Outputs:
//
//	qNewToOld - Old compact id of every surviving question, by new id.
//	tNewToOld - Old compact id of every surviving target, by new id.
func (m *Matrix) Compact() (qNewToOld, tNewToOld []int64) {
	nA := m.dims.Answers
	for q, gap := range m.qGap {
		if !gap {
			qNewToOld = append(qNewToOld, int64(q))
		}
	}
	for t, gap := range m.tGap {
		if !gap {
			tNewToOld = append(tNewToOld, int64(t))
		}
	}

	pick := func(row []float64) []float64 {
		out := make([]float64, len(tNewToOld))
		for n, o := range tNewToOld {
			out[n] = row[o]
		}
		return out
	}

	a := make([][]float64, 0, int64(len(qNewToOld))*nA)
	d := make([][]float64, 0, len(qNewToOld))
	for _, q := range qNewToOld {
		for ans := int64(0); ans < nA; ans++ {
			a = append(a, pick(m.a[q*nA+ans]))
		}
		d = append(d, pick(m.d[q]))
	}

	m.a = a
	m.d = d
	m.b = pick(m.b)
	m.rowMu = make([]*sync.RWMutex, len(qNewToOld))
	for i := range m.rowMu {
		m.rowMu[i] = &sync.RWMutex{}
	}
	m.qGap = make([]bool, len(qNewToOld))
	m.tGap = make([]bool, len(tNewToOld))
	m.dims.Questions = int64(len(qNewToOld))
	m.dims.Targets = int64(len(tNewToOld))
	return qNewToOld, tNewToOld
}
