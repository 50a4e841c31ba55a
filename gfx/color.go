// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package gfx converts user-facing colors into the representation used by
// the compositing kernels.
package gfx

import (
	"honnef.co/go/color"
)

// Premul32 returns c as premultiplied linear sRGB. A nil color is
// transparent black.
func Premul32(c *color.Color) [4]float32 {
	if c == nil {
		return [4]float32{}
	}
	cc := c.Convert(color.LinearSRGB)
	r := cc.Values[0]
	g := cc.Values[1]
	b := cc.Values[2]
	a := cc.Values[3]

	return [4]float32{
		float32(r * a),
		float32(g * a),
		float32(b * a),
		float32(a),
	}
}

// SRGB8 converts a premultiplied linear color to premultiplied 8-bit sRGB,
// the encoding of image.RGBA.
func SRGB8(c [4]float32) [4]uint8 {
	a := min(max(float64(c[3]), 0), 1)
	if !(a > 0) {
		return [4]uint8{}
	}
	lin := color.Make(color.LinearSRGB, float64(c[0])/a, float64(c[1])/a, float64(c[2])/a, a)
	cc := lin.Convert(color.SRGB)
	var out [4]uint8
	for i := range 3 {
		out[i] = unorm8(cc.Values[i] * a)
	}
	out[3] = unorm8(a)
	return out
}

func unorm8(v float64) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}
