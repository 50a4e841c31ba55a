// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gfx

import (
	"math"
	"testing"

	"honnef.co/go/color"
)

func TestPremul32(t *testing.T) {
	tests := []struct {
		name string
		in   *color.Color
		want [4]float32
	}{
		{"nil", nil, [4]float32{}},
		{"opaque", ptr(color.Make(color.SRGB, 1, 0, 0, 1)), [4]float32{1, 0, 0, 1}},
		// sRGB 0.5 is linear 0.21404.
		{"translucent", ptr(color.Make(color.SRGB, 1, 0.5, 0, 0.5)), [4]float32{0.5, 0.10702, 0, 0.5}},
		{"linear", ptr(color.Make(color.LinearSRGB, 0.2, 0.4, 0.6, 0.25)), [4]float32{0.05, 0.1, 0.15, 0.25}},
		{"transparent", ptr(color.Make(color.SRGB, 1, 1, 1, 0)), [4]float32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Premul32(tt.in)
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-4 {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSRGB8(t *testing.T) {
	tests := []struct {
		in   [4]float32
		want [4]uint8
	}{
		{[4]float32{}, [4]uint8{}},
		{[4]float32{1, 1, 1, 1}, [4]uint8{255, 255, 255, 255}},
		{[4]float32{0.2141, 0, 1, 1}, [4]uint8{128, 0, 255, 255}},
		// Premultiplied half-transparent linear 0.2141.
		{[4]float32{0.10705, 0, 0, 0.5}, [4]uint8{64, 0, 0, 128}},
		// Out of range values are clamped.
		{[4]float32{2, -1, 0, 1}, [4]uint8{255, 0, 0, 255}},
	}
	for _, tt := range tests {
		if got := SRGB8(tt.in); got != tt.want {
			t.Errorf("SRGB8(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }
