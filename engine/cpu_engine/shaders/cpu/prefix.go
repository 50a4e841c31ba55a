// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"math"
	"math/bits"

	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/renderer"
)

// The inclusive prefix sum over per-splat tile counts runs in three
// dispatches: PrefixReduce sums each block of PrefixWg counts, PrefixScanBlocks
// turns the block sums into exclusive block offsets, and PrefixScan scans
// each block locally, starting at its block offset.
//
// All sums saturate at math.MaxUint32, which IntersectSetup reports as an
// overflow.

// PrefixReduce sums the tile counts of one block.
//
// Bindings: config, numTilesHit, prefixBlocks.
func PrefixReduce(wg Workgroup, resources []CPUBinding) {
	config := uniforms(resources[0])
	numTilesHit := sliceOf[[]uint32](resources[1].(CPUBuffer))
	blocks := sliceOf[[]uint32](resources[2].(CPUBuffer))

	start, end := invocations(wg, renderer.PrefixWg, config.Layout.NumVisible)
	var sum uint32
	for _, n := range numTilesHit[start:end] {
		sum = addSat(sum, n)
	}
	blocks[wg.Linear()] = sum
}

// PrefixScanBlocks runs as a single workgroup.
//
// Bindings: config, prefixBlocks.
func PrefixScanBlocks(_ Workgroup, resources []CPUBinding) {
	config := uniforms(resources[0])
	blocks := sliceOf[[]uint32](resources[1].(CPUBuffer))

	numBlocks := jmath.DivCeil(config.Layout.NumVisible, renderer.PrefixWg)
	var sum uint32
	for i := range blocks[:numBlocks] {
		n := blocks[i]
		blocks[i] = sum
		sum = addSat(sum, n)
	}
}

// PrefixScan writes the inclusive prefix sum of one block's tile counts.
//
// Bindings: config, numTilesHit, prefixBlocks, cumTilesHit.
func PrefixScan(wg Workgroup, resources []CPUBinding) {
	config := uniforms(resources[0])
	numTilesHit := sliceOf[[]uint32](resources[1].(CPUBuffer))
	blocks := sliceOf[[]uint32](resources[2].(CPUBuffer))
	cumTilesHit := sliceOf[[]uint32](resources[3].(CPUBuffer))

	start, end := invocations(wg, renderer.PrefixWg, config.Layout.NumVisible)
	sum := blocks[wg.Linear()]
	for i := start; i < end; i++ {
		sum = addSat(sum, numTilesHit[i])
		cumTilesHit[i] = sum
	}
}

func addSat(a, b uint32) uint32 {
	sum, carry := bits.Add32(a, b, 0)
	if carry != 0 {
		return math.MaxUint32
	}
	return sum
}
