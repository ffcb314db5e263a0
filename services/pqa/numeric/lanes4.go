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

// Lanes4 processes four independent lanes per step.
//
// The main loop body is written so the compiler can keep the four lanes in
// registers; the tail (len % 4) is handled one element at a time.
type Lanes4 struct{}

var _ Kernel = Lanes4{}

// Name implements Kernel.
func (Lanes4) Name() string { return KernelLanes4 }

// Mul implements Kernel.
func (Lanes4) Mul(dst, src []float64) {
	n := len(dst)
	src = src[:n]
	i := 0
	for ; i+4 <= n; i += 4 {
		d := dst[i : i+4 : i+4]
		s := src[i : i+4 : i+4]
		d[0] *= s[0]
		d[1] *= s[1]
		d[2] *= s[2]
		d[3] *= s[3]
	}
	for ; i < n; i++ {
		dst[i] *= src[i]
	}
}

// MulRatio implements Kernel.
func (Lanes4) MulRatio(dst, num, den []float64) {
	n := len(dst)
	num = num[:n]
	den = den[:n]
	i := 0
	for ; i+4 <= n; i += 4 {
		d := dst[i : i+4 : i+4]
		a := num[i : i+4 : i+4]
		b := den[i : i+4 : i+4]
		d[0] *= a[0] / b[0]
		d[1] *= a[1] / b[1]
		d[2] *= a[2] / b[2]
		d[3] *= a[3] / b[3]
	}
	for ; i < n; i++ {
		dst[i] *= num[i] / den[i]
	}
}

// Add implements Kernel.
func (Lanes4) Add(dst, src []float64) {
	n := len(dst)
	src = src[:n]
	i := 0
	for ; i+4 <= n; i += 4 {
		d := dst[i : i+4 : i+4]
		s := src[i : i+4 : i+4]
		d[0] += s[0]
		d[1] += s[1]
		d[2] += s[2]
		d[3] += s[3]
	}
	for ; i < n; i++ {
		dst[i] += src[i]
	}
}

// Scale implements Kernel.
func (Lanes4) Scale(dst []float64, k float64) {
	n := len(dst)
	i := 0
	for ; i+4 <= n; i += 4 {
		d := dst[i : i+4 : i+4]
		d[0] *= k
		d[1] *= k
		d[2] *= k
		d[3] *= k
	}
	for ; i < n; i++ {
		dst[i] *= k
	}
}

// ScaleInt implements Kernel.
func (l Lanes4) ScaleInt(dst []float64, k int64) {
	l.Scale(dst, float64(k))
}

// Fill implements Kernel.
func (Lanes4) Fill(dst []float64, v float64) {
	n := len(dst)
	i := 0
	for ; i+4 <= n; i += 4 {
		d := dst[i : i+4 : i+4]
		d[0], d[1], d[2], d[3] = v, v, v, v
	}
	for ; i < n; i++ {
		dst[i] = v
	}
}

// Sum implements Kernel.
func (Lanes4) Sum(src []float64) float64 {
	var s0, s1, s2, s3 float64
	n := len(src)
	i := 0
	for ; i+4 <= n; i += 4 {
		s := src[i : i+4 : i+4]
		s0 += s[0]
		s1 += s[1]
		s2 += s[2]
		s3 += s[3]
	}
	for ; i < n; i++ {
		s0 += src[i]
	}
	return (s0 + s1) + (s2 + s3)
}

// Max implements Kernel.
func (Lanes4) Max(src []float64) float64 {
	n := len(src)
	if n == 0 {
		return 0
	}
	m0, m1, m2, m3 := src[0], src[0], src[0], src[0]
	i := 0
	for ; i+4 <= n; i += 4 {
		s := src[i : i+4 : i+4]
		m0 = math.Max(m0, s[0])
		m1 = math.Max(m1, s[1])
		m2 = math.Max(m2, s[2])
		m3 = math.Max(m3, s[3])
	}
	for ; i < n; i++ {
		m0 = math.Max(m0, src[i])
	}
	return math.Max(math.Max(m0, m1), math.Max(m2, m3))
}

// LikelihoodMoments implements Kernel.
func (Lanes4) LikelihoodMoments(p, num, den []float64) (s, u float64) {
	var s4, u4 [4]float64
	n := len(p)
	num = num[:n]
	den = den[:n]
	i := 0
	for ; i+4 <= n; i += 4 {
		for lane := 0; lane < 4; lane++ {
			w := p[i+lane] * num[i+lane] / den[i+lane]
			if w > 0 {
				s4[lane] += w
				u4[lane] += w * math.Log(w)
			}
		}
	}
	for ; i < n; i++ {
		w := p[i] * num[i] / den[i]
		if w > 0 {
			s4[0] += w
			u4[0] += w * math.Log(w)
		}
	}
	s = (s4[0] + s4[1]) + (s4[2] + s4[3])
	u = (u4[0] + u4[1]) + (u4[2] + u4[3])
	return s, u
}
