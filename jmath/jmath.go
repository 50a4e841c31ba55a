// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package jmath

import (
	"math"
	"structs"

	"golang.org/x/exp/constraints"
	"honnef.co/go/curve"
)

func Abs32(f float32) float32 {
	return float32(math.Abs(float64(f)))
}

func Exp32(f float32) float32 {
	return float32(math.Exp(float64(f)))
}

func Log32(f float32) float32 {
	return float32(math.Log(float64(f)))
}

func Sqrt32(f float32) float32 {
	return float32(math.Sqrt(float64(f)))
}

func Floor32(f float32) float32 {
	return float32(math.Floor(float64(f)))
}

func Ceil32(f float32) float32 {
	return float32(math.Ceil(float64(f)))
}

func IsFinite32(f float32) bool {
	return !math.IsInf(float64(f), 0) && !math.IsNaN(float64(f))
}

func Clamp[T constraints.Integer | constraints.Float](x, lo, hi T) T {
	return min(max(x, lo), hi)
}

// DivCeil returns ceil(a / b) for b > 0.
func DivCeil[T constraints.Unsigned](a, b T) T {
	return (a + b - 1) / b
}

type Transform struct {
	_ structs.HostLayout

	Matrix      [4]float32
	Translation [2]float32
}

var Identity = Transform{
	Matrix: [4]float32{1, 0, 0, 1},
}

func Scale(s float32) Transform {
	return Transform{Matrix: [4]float32{s, 0, 0, s}}
}

func Translate(x, y float32) Transform {
	return Transform{
		Matrix:      [4]float32{1, 0, 0, 1},
		Translation: [2]float32{x, y},
	}
}

func (t Transform) Mul(other Transform) Transform {
	return Transform{
		Matrix: [4]float32{
			t.Matrix[0]*other.Matrix[0] + t.Matrix[2]*other.Matrix[1],
			t.Matrix[1]*other.Matrix[0] + t.Matrix[3]*other.Matrix[1],
			t.Matrix[0]*other.Matrix[2] + t.Matrix[2]*other.Matrix[3],
			t.Matrix[1]*other.Matrix[2] + t.Matrix[3]*other.Matrix[3],
		},
		Translation: [2]float32{
			t.Matrix[0]*other.Translation[0] +
				t.Matrix[2]*other.Translation[1] +
				t.Translation[0],
			t.Matrix[1]*other.Translation[0] +
				t.Matrix[3]*other.Translation[1] +
				t.Translation[1],
		},
	}
}

func (t Transform) Apply(p [2]float32) [2]float32 {
	z := t.Matrix
	return [2]float32{
		z[0]*p[0] + z[2]*p[1] + t.Translation[0],
		z[1]*p[0] + z[3]*p[1] + t.Translation[1],
	}
}

func (t Transform) Determinant() float32 {
	return t.Matrix[0]*t.Matrix[3] - t.Matrix[1]*t.Matrix[2]
}

// Inverse returns the inverse of the transform. The result is undefined for
// singular transforms.
func (t Transform) Inverse() Transform {
	z := t.Matrix
	invDet := 1.0 / t.Determinant()
	m := [4]float32{
		z[3] * invDet,
		-z[1] * invDet,
		-z[2] * invDet,
		z[0] * invDet,
	}
	return Transform{
		Matrix: m,
		Translation: [2]float32{
			-(m[0]*t.Translation[0] + m[2]*t.Translation[1]),
			-(m[1]*t.Translation[0] + m[3]*t.Translation[1]),
		},
	}
}

// TransformConic maps the inverse covariance (a, b, c) of a Gaussian to the
// inverse covariance of the same Gaussian after applying t to its domain.
// Translation doesn't affect the conic.
func (t Transform) TransformConic(conic [3]float32) [3]float32 {
	n := t.Inverse().Matrix
	a, b, c := conic[0], conic[1], conic[2]
	return [3]float32{
		a*n[0]*n[0] + 2*b*n[0]*n[1] + c*n[1]*n[1],
		a*n[0]*n[2] + b*(n[0]*n[3]+n[1]*n[2]) + c*n[1]*n[3],
		a*n[2]*n[2] + 2*b*n[2]*n[3] + c*n[3]*n[3],
	}
}

// CovFromConic inverts a symmetric 2×2 matrix stored as (xx, xy, yy). ok is
// false if the matrix isn't positive definite or the inverse isn't finite.
func CovFromConic(conic [3]float32) (cov [3]float32, ok bool) {
	det := conic[0]*conic[2] - conic[1]*conic[1]
	if !(det > 0) || !(conic[0] > 0) {
		return [3]float32{}, false
	}
	invDet := 1 / det
	cov = [3]float32{conic[2] * invDet, -conic[1] * invDet, conic[0] * invDet}
	return cov, IsFinite32(cov[0]) && IsFinite32(cov[1]) && IsFinite32(cov[2])
}

// ConicFromCov is the inverse of CovFromConic.
func ConicFromCov(cov [3]float32) (conic [3]float32, ok bool) {
	return CovFromConic(cov)
}

// / Converts an f32 to IEEE-754 binary16 format represented as the bits of a u16.
// / This implementation was adapted from Fabian Giesen's `float_to_half_fast3`()
// / function which can be found at <https://gist.github.com/rygorous/2156668#file-gistfile1-cpp-L285>
func Float16(val float32) uint16 {
	const inf32 uint32 = 255 << 23
	const inf16 uint32 = 31 << 23
	const magic uint32 = 15 << 23
	const signMask uint32 = 0x8000_0000
	const roundMask uint32 = ^uint32(0xFFF)

	u := math.Float32bits(val)
	sign := u & signMask
	u = u ^ sign

	// NOTE all the integer compares in this function can be safely
	// compiled into signed compares since all operands are below
	// 0x80000000.

	// Inf or NaN (all exponent bits set)
	var output uint16
	if u >= inf32 {
		// NaN -> qNaN and Inf->Inf
		if u > inf32 {
			output = 0x7E00
		} else {
			output = 0x7C00
		}
	} else {
		// (De)normalized number or zero
		u := u & roundMask
		u = math.Float32bits(math.Float32frombits(u) * math.Float32frombits(magic))
		u = u - roundMask

		// Clamp to signed infinity if exponent overflowed
		if u > inf16 {
			u = inf16
		}
		output = uint16(u >> 13) // Take the bits!
	}
	return output | uint16(sign>>16)
}

// FromFloat16 converts the bits of an IEEE-754 binary16 value to a float32.
func FromFloat16(h uint16) float32 {
	const magic uint32 = 113 << 23
	const shiftedExp uint32 = 0x7C00 << 13

	o := uint32(h&0x7FFF) << 13
	exp := o & shiftedExp
	o += (127 - 15) << 23
	switch exp {
	case shiftedExp:
		// Inf or NaN
		o += (128 - 16) << 23
	case 0:
		// Zero or subnormal
		o += 1 << 23
		o = math.Float32bits(math.Float32frombits(o) - math.Float32frombits(magic))
	}
	return math.Float32frombits(o | uint32(h&0x8000)<<16)
}

func TransformFromKurbo(transform curve.Affine) Transform {
	c := transform.Coefficients()
	return Transform{
		Matrix:      [4]float32{float32(c[0]), float32(c[1]), float32(c[2]), float32(c[3])},
		Translation: [2]float32{float32(c[4]), float32(c[5])},
	}
}
