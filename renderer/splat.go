// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"iter"
	"math"

	"golang.org/x/image/math/f32"
	"honnef.co/go/gsplat/encoding"
	"honnef.co/go/gsplat/jmath"
)

// The functions in this file are shared by the tile counting and
// intersection expansion kernels as well as the host-side intersection
// estimate. Counting and expansion must visit exactly the same tiles in the
// same order, which is why both go through VisibleTiles.

// SplatExtent returns the radius in pixels outside of which the splat's
// alpha is guaranteed to be below the alpha threshold, and the largest
// Gaussian power at which the splat is still visible. ok is false if the
// splat can't be visible anywhere.
func SplatExtent(s *encoding.ProjectedSplat, u *RenderUniforms) (radius, powerThreshold float32, ok bool) {
	if !jmath.IsFinite32(s.XY[0]) || !jmath.IsFinite32(s.XY[1]) {
		return 0, 0, false
	}
	// opacity * exp(-power) >= alphaThreshold
	powerThreshold = jmath.Log32(s.Opacity() / u.AlphaThreshold)
	if !(powerThreshold > 0) {
		return 0, 0, false
	}
	cov, ok := jmath.CovFromConic(s.Conic)
	if !ok {
		return 0, 0, false
	}
	return RadiusFromCov(cov, powerThreshold, u.MaxRadius), powerThreshold, true
}

// RadiusFromCov returns the distance from the center at which a Gaussian
// with the given covariance reaches powerThreshold along its major axis,
// clamped to maxRadius.
func RadiusFromCov(cov [3]float32, powerThreshold, maxRadius float32) float32 {
	det := cov[0]*cov[2] - cov[1]*cov[1]
	mid := 0.5 * (cov[0] + cov[2])
	lambda := mid + jmath.Sqrt32(max(0.1, mid*mid-det))
	r := jmath.Sqrt32(2*powerThreshold) * jmath.Sqrt32(lambda)
	if !(r >= 0) {
		// NaN
		return 0
	}
	return min(r, maxRadius)
}

// TileBBox returns the half-open range of tiles [x0, x1) × [y0, y1) covered
// by a circle, clamped to the tile grid.
func TileBBox(xy f32.Vec2, radius float32, tileBounds [2]uint32) (x0, y0, x1, y1 uint32) {
	const scale = 1.0 / TileWidth
	bx := float32(tileBounds[0])
	by := float32(tileBounds[1])
	x0 = uint32(jmath.Clamp(jmath.Floor32((xy[0]-radius)*scale), 0, bx))
	y0 = uint32(jmath.Clamp(jmath.Floor32((xy[1]-radius)*scale), 0, by))
	x1 = uint32(jmath.Clamp(jmath.Ceil32((xy[0]+radius)*scale), 0, bx))
	y1 = uint32(jmath.Clamp(jmath.Ceil32((xy[1]+radius)*scale), 0, by))
	return x0, y0, x1, y1
}

// Power returns the Gaussian power of a splat at offset (dx, dy) from its
// center. The Gaussian's value there is exp(-power).
func Power(conic [3]float32, dx, dy float32) float32 {
	return 0.5*(conic[0]*dx*dx+conic[2]*dy*dy) + conic[1]*dx*dy
}

// CanBeVisible reports whether the splat reaches an alpha of at least the
// alpha threshold anywhere in the tile. It evaluates the smallest Gaussian
// power over the tile's rectangle: zero if the center lies inside it,
// otherwise the minimum along the rectangle's edges that face the center.
func CanBeVisible(tx, ty uint32, xy f32.Vec2, conic [3]float32, powerThreshold float32) bool {
	minX := float32(tx * TileWidth)
	minY := float32(ty * TileWidth)
	maxX := minX + TileWidth
	maxY := minY + TileWidth

	left := xy[0] < minX
	right := xy[0] > maxX
	above := xy[1] < minY
	below := xy[1] > maxY
	if !left && !right && !above && !below {
		return true
	}

	best := float32(math.Inf(1))
	if left || right {
		ex := maxX
		if left {
			ex = minX
		}
		dx := ex - xy[0]
		// Minimize over dy in the edge's extent.
		dy := jmath.Clamp(-conic[1]*dx/conic[2], minY-xy[1], maxY-xy[1])
		best = min(best, Power(conic, dx, dy))
	}
	if above || below {
		ey := maxY
		if above {
			ey = minY
		}
		dy := ey - xy[1]
		dx := jmath.Clamp(-conic[1]*dy/conic[0], minX-xy[0], maxX-xy[0])
		best = min(best, Power(conic, dx, dy))
	}
	return best <= powerThreshold
}

// VisibleTiles yields the IDs of all tiles the splat can be visible in,
// walking its tile bounding box row by row.
func VisibleTiles(s *encoding.ProjectedSplat, u *RenderUniforms) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		radius, powerThreshold, ok := SplatExtent(s, u)
		if !ok {
			return
		}
		x0, y0, x1, y1 := TileBBox(s.XY, radius, u.TileBounds)
		for ty := y0; ty < y1; ty++ {
			for tx := x0; tx < x1; tx++ {
				if CanBeVisible(tx, ty, s.XY, s.Conic, powerThreshold) {
					if !yield(tx + ty*u.TileBounds[0]) {
						return
					}
				}
			}
		}
	}
}

// OrderableDepth maps a depth to an unsigned integer that sorts in the same
// order as the depth.
func OrderableDepth(depth float32) uint32 {
	b := math.Float32bits(depth)
	if b&0x8000_0000 != 0 {
		return ^b
	}
	return b | 0x8000_0000
}

// SortKey combines a tile ID and a depth into the key intersections are
// sorted by.
func SortKey(tileID uint32, depth float32) uint64 {
	return uint64(tileID)<<32 | uint64(OrderableDepth(depth))
}

// TileFromKey extracts the tile ID from a sort key.
func TileFromKey(key uint64) uint32 {
	return uint32(key >> 32)
}
