// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package numeric provides the vector kernels used by the question-answering
// engine for belief and evidence arithmetic.
//
// All engine algorithms operate on []float64 rows through the Kernel
// interface, so an alternative vector width can be substituted without
// touching the algorithms. Two kernels are provided:
//
//   - scalar: one element per step, the reference implementation
//   - lanes4: four independent lanes per step, mirroring a 256-bit SIMD width
//
// Both kernels produce results equal up to floating-point rounding. Element
// wise operations (Mul, MulRatio, Scale, ...) are bitwise identical between
// kernels; only reductions (Sum, LikelihoodMoments) may differ in the last
// bits because of the different summation order.
package numeric

import (
	"errors"
	"fmt"
	"runtime"
)

// Kernel names accepted by Select.
const (
	KernelAuto   = "auto"
	KernelScalar = "scalar"
	KernelLanes4 = "lanes4"
)

// ErrUnknownKernel indicates Select was given an unsupported kernel name.
var ErrUnknownKernel = errors.New("unknown numeric kernel")

// Kernel is the arithmetic surface used by the engine algorithms.
//
// Length contract: for binary and ternary operations every slice must be at
// least len(dst) long. Kernels never allocate.
//
// Thread Safety: Kernels are stateless and safe for concurrent use.
type Kernel interface {
	// Name returns the kernel name as accepted by Select.
	Name() string

	// Mul computes dst[i] *= src[i].
	Mul(dst, src []float64)

	// MulRatio computes dst[i] *= num[i] / den[i].
	MulRatio(dst, num, den []float64)

	// Add computes dst[i] += src[i].
	Add(dst, src []float64)

	// Scale computes dst[i] *= k.
	Scale(dst []float64, k float64)

	// ScaleInt computes dst[i] *= k for an integer factor.
	ScaleInt(dst []float64, k int64)

	// Fill sets every element of dst to v.
	Fill(dst []float64, v float64)

	// Sum returns the sum of src.
	Sum(src []float64) float64

	// Max returns the largest element of src, or 0 for an empty slice.
	Max(src []float64) float64

	// LikelihoodMoments returns s = Σ w[i] and u = Σ w[i]·ln(w[i]) where
	// w[i] = p[i]·num[i]/den[i]. Terms with w[i] <= 0 contribute nothing to u.
	LikelihoodMoments(p, num, den []float64) (s, u float64)
}

// Select returns the kernel for the given name.
//
// Description:
//
//	"auto" (or "") picks lanes4 on 64-bit platforms with wide vector units
//	(amd64, arm64) and scalar elsewhere.
//
// Inputs:
//
//	name - One of KernelAuto, KernelScalar, KernelLanes4.
//
// Outputs:
//
//	Kernel - The selected kernel.
//	error - ErrUnknownKernel for any other name.
func Select(name string) (Kernel, error) {
	switch name {
	case "", KernelAuto:
		switch runtime.GOARCH {
		case "amd64", "arm64":
			return Lanes4{}, nil
		default:
			return Scalar{}, nil
		}
	case KernelScalar:
		return Scalar{}, nil
	case KernelLanes4:
		return Lanes4{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, name)
	}
}
