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

	"github.com/AleutianAI/probqa/services/pqa/numeric"
)

// Snapshot is a flat copy of a matrix.
//
// A is laid out question-major: the row of (q, a) starts at
// (q*Answers + a) * Targets. D is laid out likewise by question.
type Snapshot struct {
	Dims         Dims
	A            []float64
	D            []float64
	B            []float64
	QuestionGaps []bool
	TargetGaps   []bool
}

// Snapshot copies the matrix. Each question's rows are read under its lock;
// callers that need a consistent copy across questions must also exclude
// training.
func (m *Matrix) Snapshot() *Snapshot {
	nA, nT := m.dims.Answers, m.dims.Targets
	s := &Snapshot{
		Dims:         m.dims,
		A:            make([]float64, 0, m.dims.Questions*nA*nT),
		D:            make([]float64, 0, m.dims.Questions*nT),
		B:            make([]float64, nT),
		QuestionGaps: append([]bool(nil), m.qGap...),
		TargetGaps:   append([]bool(nil), m.tGap...),
	}
	for q := int64(0); q < m.dims.Questions; q++ {
		m.WithQuestion(q, func(rows QuestionRows) {
			for _, row := range rows.A {
				s.A = append(s.A, row...)
			}
			s.D = append(s.D, rows.D...)
		})
	}
	m.CopyB(s.B)
	return s
}

// FromSnapshot rebuilds a matrix from a snapshot.
func FromSnapshot(s *Snapshot, kernel numeric.Kernel) (*Matrix, error) {
	if err := s.Dims.Validate(); err != nil {
		return nil, err
	}
	nQ, nA, nT := s.Dims.Questions, s.Dims.Answers, s.Dims.Targets
	switch {
	case int64(len(s.A)) != nQ*nA*nT:
		return nil, fmt.Errorf("%w: A has %d values, want %d", ErrInvalidDims, len(s.A), nQ*nA*nT)
	case int64(len(s.D)) != nQ*nT:
		return nil, fmt.Errorf("%w: D has %d values, want %d", ErrInvalidDims, len(s.D), nQ*nT)
	case int64(len(s.B)) != nT:
		return nil, fmt.Errorf("%w: B has %d values, want %d", ErrInvalidDims, len(s.B), nT)
	case int64(len(s.QuestionGaps)) != nQ || int64(len(s.TargetGaps)) != nT:
		return nil, fmt.Errorf("%w: gap flags do not match dimensions", ErrInvalidDims)
	}

	m := &Matrix{
		dims:   Dims{Answers: nA},
		kernel: kernel,
		b:      append([]float64(nil), s.B...),
		tGap:   append([]bool(nil), s.TargetGaps...),
	}
	m.dims.Targets = nT
	for q := int64(0); q < nQ; q++ {
		m.appendQuestion(1)
		for a := int64(0); a < nA; a++ {
			off := (q*nA + a) * nT
			copy(m.a[q*nA+a], s.A[off:off+nT])
		}
		copy(m.d[q], s.D[q*nT:(q+1)*nT])
		m.qGap[q] = s.QuestionGaps[q]
	}
	return m, nil
}
