// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/math/f32"
	"honnef.co/go/gsplat/encoding"
	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/mem"
)

func testUniforms(width, height uint32) RenderUniforms {
	return NewUniforms(&Layout{}, &RenderParams{Width: width, Height: height})
}

// diagonalSplat returns a splat centered in tile (0, 0), close to the corner
// it shares with tiles (1, 0), (0, 1) and (1, 1). It is elongated along the
// anti-diagonal, so that it reaches tiles (1, 0) and (0, 1) but not (1, 1),
// even though its bounding box covers all four tiles.
func diagonalSplat() encoding.ProjectedSplat {
	// Standard deviations 4 along (1, -1) and 1 along (1, 1).
	return encoding.ProjectedSplat{
		XY:    f32.Vec2{12, 12},
		Conic: [3]float32{0.53125, 0.46875, 0.53125},
		Color: f32.Vec4{1, 1, 1, 1},
	}
}

func TestSplatExtent(t *testing.T) {
	u := testUniforms(64, 64)
	s := encoding.ProjectedSplat{
		XY:    f32.Vec2{32, 32},
		Conic: [3]float32{0.25, 0, 0.25},
		Color: f32.Vec4{1, 1, 1, 1},
	}
	radius, threshold, ok := SplatExtent(&s, &u)
	if !ok {
		t.Fatal("splat reported as invisible")
	}
	wantThreshold := float32(math.Log(255))
	if jmath.Abs32(threshold-wantThreshold) > 1e-4 {
		t.Errorf("power threshold = %v, want %v", threshold, wantThreshold)
	}
	// The covariance is 4·I. Its largest eigenvalue gets padded by sqrt(0.1).
	wantRadius := float32(math.Sqrt(2*math.Log(255)) * math.Sqrt(4+math.Sqrt(0.1)))
	if jmath.Abs32(radius-wantRadius) > 1e-3 {
		t.Errorf("radius = %v, want %v", radius, wantRadius)
	}
}

func TestSplatExtentInvisible(t *testing.T) {
	u := testUniforms(64, 64)
	tests := []struct {
		name  string
		splat encoding.ProjectedSplat
	}{
		{"transparent", encoding.ProjectedSplat{XY: f32.Vec2{1, 1}, Conic: [3]float32{1, 0, 1}, Color: f32.Vec4{1, 1, 1, 0.001}}},
		{"zero conic", encoding.ProjectedSplat{XY: f32.Vec2{1, 1}, Color: f32.Vec4{1, 1, 1, 1}}},
		{"indefinite conic", encoding.ProjectedSplat{XY: f32.Vec2{1, 1}, Conic: [3]float32{1, 2, 1}, Color: f32.Vec4{1, 1, 1, 1}}},
		{"NaN center", encoding.ProjectedSplat{XY: f32.Vec2{float32(math.NaN()), 1}, Conic: [3]float32{1, 0, 1}, Color: f32.Vec4{1, 1, 1, 1}}},
		{"NaN opacity", encoding.ProjectedSplat{XY: f32.Vec2{1, 1}, Conic: [3]float32{1, 0, 1}, Color: f32.Vec4{1, 1, 1, float32(math.NaN())}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := SplatExtent(&tt.splat, &u); ok {
				t.Errorf("splat reported as visible")
			}
			if n := len(slices.Collect(VisibleTiles(&tt.splat, &u))); n != 0 {
				t.Errorf("splat hits %d tiles, want 0", n)
			}
		})
	}
}

func TestSplatExtentDegenerateClamped(t *testing.T) {
	u := testUniforms(64, 64)
	u.MaxRadius = 100
	s := encoding.ProjectedSplat{
		XY: f32.Vec2{32, 32},
		// Nearly singular: a huge variance along one axis.
		Conic: [3]float32{1e-9, 0, 1},
		Color: f32.Vec4{1, 1, 1, 1},
	}
	radius, _, ok := SplatExtent(&s, &u)
	if !ok {
		t.Fatal("splat reported as invisible")
	}
	if radius != 100 {
		t.Errorf("radius = %v, want 100", radius)
	}
}

func TestTileBBox(t *testing.T) {
	bounds := [2]uint32{4, 3}
	tests := []struct {
		xy     f32.Vec2
		radius float32
		want   [4]uint32
	}{
		{f32.Vec2{8, 8}, 4, [4]uint32{0, 0, 1, 1}},
		{f32.Vec2{16, 16}, 1, [4]uint32{0, 0, 2, 2}},
		{f32.Vec2{16, 16}, 0, [4]uint32{1, 1, 1, 1}},
		{f32.Vec2{-100, -100}, 10, [4]uint32{0, 0, 0, 0}},
		{f32.Vec2{1000, 1000}, 10, [4]uint32{4, 3, 4, 3}},
		{f32.Vec2{32, 24}, 1000, [4]uint32{0, 0, 4, 3}},
	}
	for _, tt := range tests {
		x0, y0, x1, y1 := TileBBox(tt.xy, tt.radius, bounds)
		if got := [4]uint32{x0, y0, x1, y1}; got != tt.want {
			t.Errorf("TileBBox(%v, %v) = %v, want %v", tt.xy, tt.radius, got, tt.want)
		}
	}
}

func TestCanBeVisibleDiagonal(t *testing.T) {
	s := diagonalSplat()
	threshold := float32(math.Log(255))
	tests := []struct {
		tx, ty uint32
		want   bool
	}{
		{0, 0, true},
		{1, 0, true},
		{0, 1, true},
		{1, 1, false},
	}
	for _, tt := range tests {
		if got := CanBeVisible(tt.tx, tt.ty, s.XY, s.Conic, threshold); got != tt.want {
			t.Errorf("CanBeVisible(%d, %d) = %t, want %t", tt.tx, tt.ty, got, tt.want)
		}
	}
}

func TestVisibleTilesDiagonal(t *testing.T) {
	u := testUniforms(64, 64)
	s := diagonalSplat()
	radius, _, _ := SplatExtent(&s, &u)
	x0, y0, x1, y1 := TileBBox(s.XY, radius, u.TileBounds)
	if area := (x1 - x0) * (y1 - y0); area != 4 {
		t.Fatalf("bounding box covers %d tiles, want 4", area)
	}
	got := slices.Collect(VisibleTiles(&s, &u))
	// Row-major order: (0, 0), (1, 0), (0, 1)
	want := []uint32{0, 1, 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected tiles (-want +got):\n%s", diff)
	}
}

func TestVisibleTilesRowMajor(t *testing.T) {
	u := testUniforms(64, 64)
	s := encoding.ProjectedSplat{
		XY:    f32.Vec2{32, 32},
		Conic: [3]float32{0.01, 0, 0.01},
		Color: f32.Vec4{1, 1, 1, 1},
	}
	got := slices.Collect(VisibleTiles(&s, &u))
	if len(got) == 0 {
		t.Fatal("no visible tiles")
	}
	if !slices.IsSorted(got) {
		t.Errorf("tiles not visited in row-major order: %v", got)
	}
}

func TestOrderableDepth(t *testing.T) {
	depths := []float32{
		float32(math.Inf(-1)),
		-1e9,
		-1,
		-1e-20,
		0,
		1e-20,
		1,
		1e9,
		float32(math.Inf(1)),
	}
	for i := 1; i < len(depths); i++ {
		a, b := OrderableDepth(depths[i-1]), OrderableDepth(depths[i])
		if a >= b {
			t.Errorf("OrderableDepth(%v) = %#x >= OrderableDepth(%v) = %#x", depths[i-1], a, depths[i], b)
		}
	}
	if TileFromKey(SortKey(1234, -5)) != 1234 {
		t.Errorf("tile ID doesn't survive the round trip through the sort key")
	}
	if SortKey(1, 1e30) >= SortKey(2, -1e30) {
		t.Errorf("tile ID isn't the primary sort key")
	}
}

func TestSortShifts(t *testing.T) {
	tests := []struct {
		numTiles uint32
		want     []uint32
	}{
		{1, []uint32{0, 8, 16, 24, 32}},
		{255, []uint32{0, 8, 16, 24, 32}},
		{256, []uint32{0, 8, 16, 24, 32, 40}},
		{70000, []uint32{0, 8, 16, 24, 32, 40, 48}},
	}
	arena := mem.NewArena()
	for _, tt := range tests {
		got := sortShifts(arena, tt.numTiles)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("sortShifts(%d) mismatch (-want +got):\n%s", tt.numTiles, diff)
		}
	}
}

func TestEstimateIsUpperBound(t *testing.T) {
	u := testUniforms(100, 70)
	var enc encoding.Encoding
	enc.EncodeSplat(diagonalSplat(), 0, 0)
	enc.EncodeSplat(encoding.ProjectedSplat{
		XY:    f32.Vec2{50, 35},
		Conic: [3]float32{0.02, 0.01, 0.05},
		Color: f32.Vec4{1, 0, 0, 0.5},
	}, 1, 1)
	enc.EncodeSplat(encoding.ProjectedSplat{
		XY:    f32.Vec2{-500, 35},
		Conic: [3]float32{1, 0, 1},
		Color: f32.Vec4{1, 0, 0, 1},
	}, 2, 2)

	var exact uint32
	for i := range enc.Splats {
		for range VisibleTiles(&enc.Splats[i], &u) {
			exact++
		}
	}
	est := EstimateIntersections(&enc, &u, DefaultMaxIntersections)
	if est < exact {
		t.Errorf("estimate %d is smaller than exact count %d", est, exact)
	}
	if got := EstimateIntersections(&enc, &u, 2); got != 2 {
		t.Errorf("capped estimate = %d, want 2", got)
	}
}
