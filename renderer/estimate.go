// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"honnef.co/go/gsplat/encoding"
)

// This utility provides a conservative size estimate for the buffers that
// hold splat-tile intersections. Every intersection lies inside its splat's
// tile bounding box, so the sum of bounding box areas is an upper bound on
// the number of intersections.

// IntersectionEstimator accumulates the bounding box areas of splats.
type IntersectionEstimator struct {
	intersections uint64
}

func (est *IntersectionEstimator) Reset() {
	*est = IntersectionEstimator{}
}

// CountSplat adds the splat's tile bounding box to the estimate.
func (est *IntersectionEstimator) CountSplat(s *encoding.ProjectedSplat, u *RenderUniforms) {
	radius, _, ok := SplatExtent(s, u)
	if !ok {
		return
	}
	x0, y0, x1, y1 := TileBBox(s.XY, radius, u.TileBounds)
	est.intersections += uint64(x1-x0) * uint64(y1-y0)
}

// Tally returns the estimate, capped to limit.
func (est *IntersectionEstimator) Tally(limit uint32) uint32 {
	return uint32(min(est.intersections, uint64(limit)))
}

// EstimateIntersections returns an upper bound on the number of
// intersections of the splats in enc, capped to limit.
func EstimateIntersections(enc *encoding.Encoding, u *RenderUniforms, limit uint32) uint32 {
	var est IntersectionEstimator
	for i := range enc.Splats {
		est.CountSplat(&enc.Splats[i], u)
	}
	return est.Tally(limit)
}
