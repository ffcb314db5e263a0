// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package numeric

import "math"

// Scalar is the reference kernel processing one element per step.
type Scalar struct{}

var _ Kernel = Scalar{}

// Name implements Kernel.
func (Scalar) Name() string { return KernelScalar }

// Mul implements Kernel.
func (Scalar) Mul(dst, src []float64) {
	src = src[:len(dst)]
	for i := range dst {
		dst[i] *= src[i]
	}
}

// MulRatio implements Kernel.
func (Scalar) MulRatio(dst, num, den []float64) {
	num = num[:len(dst)]
	den = den[:len(dst)]
	for i := range dst {
		dst[i] *= num[i] / den[i]
	}
}

// Add implements Kernel.
func (Scalar) Add(dst, src []float64) {
	src = src[:len(dst)]
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale implements Kernel.
func (Scalar) Scale(dst []float64, k float64) {
	for i := range dst {
		dst[i] *= k
	}
}

// ScaleInt implements Kernel.
func (s Scalar) ScaleInt(dst []float64, k int64) {
	s.Scale(dst, float64(k))
}

// Fill implements Kernel.
func (Scalar) Fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}

// Sum implements Kernel.
func (Scalar) Sum(src []float64) float64 {
	var total float64
	for _, v := range src {
		total += v
	}
	return total
}

// Max implements Kernel.
func (Scalar) Max(src []float64) float64 {
	if len(src) == 0 {
		return 0
	}
	m := src[0]
	for _, v := range src[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// LikelihoodMoments implements Kernel.
func (Scalar) LikelihoodMoments(p, num, den []float64) (s, u float64) {
	num = num[:len(p)]
	den = den[:len(p)]
	for i := range p {
		w := p[i] * num[i] / den[i]
		if w <= 0 {
			continue
		}
		s += w
		u += w * math.Log(w)
	}
	return s, u
}
