// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package jmath

import (
	"math"
	"testing"
)

func TestFloat16(t *testing.T) {
	tests := []struct {
		in   float32
		want uint16
	}{
		{0, 0x0000},
		{1, 0x3C00},
		{-2, 0xC000},
		{0.5, 0x3800},
		{65504, 0x7BFF},
		{float32(math.Inf(1)), 0x7C00},
		{float32(math.NaN()), 0x7E00},
	}
	for _, tt := range tests {
		if got := Float16(tt.in); got != tt.want {
			t.Errorf("Float16(%v) = %#04x, want %#04x", tt.in, got, tt.want)
		}
	}
}

func TestFromFloat16(t *testing.T) {
	tests := []struct {
		in   uint16
		want float32
	}{
		{0x0000, 0},
		{0x3C00, 1},
		{0xC000, -2},
		{0x3800, 0.5},
		{0x7BFF, 65504},
		{0x0001, 1.0 / (1 << 24)},
		{0x7C00, float32(math.Inf(1))},
	}
	for _, tt := range tests {
		if got := FromFloat16(tt.in); got != tt.want {
			t.Errorf("FromFloat16(%#04x) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := FromFloat16(0x7E00); !math.IsNaN(float64(got)) {
		t.Errorf("FromFloat16(0x7e00) = %v, want NaN", got)
	}
	for _, f := range []float32{0.25, 3, -1024, 0.1} {
		want := Float16(f)
		if got := Float16(FromFloat16(want)); got != want {
			t.Errorf("round trip of %v: got %#04x, want %#04x", f, got, want)
		}
	}
}

func TestTransformConicScale(t *testing.T) {
	conic := [3]float32{0.5, 0.25, 1}
	got := Scale(2).TransformConic(conic)
	want := [3]float32{0.125, 0.0625, 0.25}
	for i := range got {
		if Abs32(got[i]-want[i]) > 1e-6 {
			t.Errorf("conic[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTransformConicInvariant(t *testing.T) {
	// The Gaussian's power at a point must not change when both the point and
	// the Gaussian are transformed.
	tr := Transform{
		Matrix:      [4]float32{1.5, 0.5, -0.25, 0.75},
		Translation: [2]float32{10, -3},
	}
	conic := [3]float32{0.4, -0.1, 0.3}
	center := [2]float32{2, 3}
	p := [2]float32{4, 1}
	power := func(conic [3]float32, c, p [2]float32) float32 {
		dx, dy := p[0]-c[0], p[1]-c[1]
		return 0.5*(conic[0]*dx*dx+conic[2]*dy*dy) + conic[1]*dx*dy
	}
	before := power(conic, center, p)
	after := power(tr.TransformConic(conic), tr.Apply(center), tr.Apply(p))
	if Abs32(before-after) > 1e-4 {
		t.Errorf("power changed under transform: %v != %v", before, after)
	}
}

func TestCovFromConic(t *testing.T) {
	cov, ok := CovFromConic([3]float32{0.53125, 0.46875, 0.53125})
	if !ok {
		t.Fatal("CovFromConic reported failure")
	}
	want := [3]float32{8.5, -7.5, 8.5}
	for i := range cov {
		if Abs32(cov[i]-want[i]) > 1e-4 {
			t.Errorf("cov[%d] = %v, want %v", i, cov[i], want[i])
		}
	}

	for _, conic := range [][3]float32{
		{0, 0, 0},
		{1, 2, 1},
		{-1, 0, -1},
		{float32(math.NaN()), 0, 1},
	} {
		if _, ok := CovFromConic(conic); ok {
			t.Errorf("CovFromConic(%v) succeeded, want failure", conic)
		}
	}
}

func TestInverse(t *testing.T) {
	tr := Transform{
		Matrix:      [4]float32{2, 1, 1, 3},
		Translation: [2]float32{5, 7},
	}
	id := tr.Mul(tr.Inverse())
	for i, want := range Identity.Matrix {
		if Abs32(id.Matrix[i]-want) > 1e-6 {
			t.Errorf("Matrix[%d] = %v, want %v", i, id.Matrix[i], want)
		}
	}
	for i := range id.Translation {
		if Abs32(id.Translation[i]) > 1e-5 {
			t.Errorf("Translation[%d] = %v, want 0", i, id.Translation[i])
		}
	}
}

func TestDivCeil(t *testing.T) {
	tests := []struct{ a, b, want uint32 }{
		{0, 16, 0},
		{1, 16, 1},
		{16, 16, 1},
		{17, 16, 2},
		{100, 16, 7},
	}
	for _, tt := range tests {
		if got := DivCeil(tt.a, tt.b); got != tt.want {
			t.Errorf("DivCeil(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
