// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"math"

	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/renderer"
)

// TileCount computes the number of tiles each splat is visible in.
//
// Bindings: config, scene, numTilesHit.
func TileCount(wg Workgroup, resources []CPUBinding) {
	config := uniforms(resources[0])
	splats := config.Layout.Splats(resources[1].(CPUBuffer))
	numTilesHit := sliceOf[[]uint32](resources[2].(CPUBuffer))

	start, end := invocations(wg, renderer.MainWg, config.Layout.NumVisible)
	for gid := start; gid < end; gid++ {
		var n uint32
		for range renderer.VisibleTiles(&splats[gid], config) {
			n++
		}
		numTilesHit[gid] = n
	}
}

// IntersectSetup derives the number of intersections from the prefix sum of
// tile counts and computes the workgroup counts of the stages that run once
// per intersection. A saturated prefix sum counts as exceeding the capacity.
//
// Bindings: config, cumTilesHit, tileIDs, intersectInfo, indirectCounts.
func IntersectSetup(_ Workgroup, resources []CPUBinding) {
	config := uniforms(resources[0])
	cumTilesHit := sliceOf[[]uint32](resources[1].(CPUBuffer))
	tileIDs := sliceOf[[]uint32](resources[2].(CPUBuffer))
	info := fromBytes[renderer.IntersectInfo](resources[3].(CPUBuffer))
	indirect := fromBytes[renderer.IndirectCounts](resources[4].(CPUBuffer))

	var total uint32
	if n := config.Layout.NumVisible; n > 0 {
		total = cumTilesHit[n-1]
	}
	capacity := uint32(len(tileIDs))
	*info = renderer.IntersectInfo{
		Total:            total,
		Capacity:         capacity,
		NumIntersections: min(total, capacity),
	}
	if total > capacity || total == math.MaxUint32 {
		info.Failed = 1
	}

	n := info.NumIntersections
	indirect.Intersections = renderer.IndirectCount{X: jmath.DivCeil(n, renderer.MainWg), Y: 1, Z: 1}
	indirect.Sort = renderer.IndirectCount{X: jmath.DivCeil(n, renderer.SortBlockSize), Y: 1, Z: 1}
}

// MapIntersects writes one (tile, splat) record per intersection. Each splat
// owns the range of records that the prefix sum assigned to it. Records
// beyond the end of the intersection buffers are dropped.
//
// Bindings: config, scene, cumTilesHit, tileIDs, compactGIDs.
func MapIntersects(wg Workgroup, resources []CPUBinding) {
	config := uniforms(resources[0])
	splats := config.Layout.Splats(resources[1].(CPUBuffer))
	cumTilesHit := sliceOf[[]uint32](resources[2].(CPUBuffer))
	tileIDs := sliceOf[[]uint32](resources[3].(CPUBuffer))
	compactGIDs := sliceOf[[]uint32](resources[4].(CPUBuffer))

	start, end := invocations(wg, renderer.MainWg, config.Layout.NumVisible)
	for gid := start; gid < end; gid++ {
		var isectID uint32
		if gid > 0 {
			isectID = cumTilesHit[gid-1]
		}
		for tile := range renderer.VisibleTiles(&splats[gid], config) {
			if isectID >= uint32(len(tileIDs)) {
				break
			}
			tileIDs[isectID] = tile
			compactGIDs[isectID] = gid
			isectID++
		}
	}
}
