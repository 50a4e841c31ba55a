// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/renderer"
)

// Intersections are sorted with a least significant digit radix sort. Each
// pass sorts by one SortBitsPerPass-bit digit and consists of three
// dispatches: SortCount builds a digit histogram per block of keys,
// SortScan turns the histograms into output offsets, and SortScatter moves
// keys and values to their new positions. Blocks scatter their keys in
// order, which makes every pass stable.
//
// Histograms are stored digit-major, hist[digit*numBlocks + block], so that
// an exclusive scan over the whole buffer yields each block's first output
// position for each digit.

const digitMask = renderer.SortBins - 1

// SortKeys computes the sort key of every intersection.
//
// Bindings: config, scene, intersectInfo, tileIDs, compactGIDs, keys.
func SortKeys(wg Workgroup, resources []CPUBinding) {
	config := uniforms(resources[0])
	depths := config.Layout.Depths(resources[1].(CPUBuffer))
	info := fromBytes[renderer.IntersectInfo](resources[2].(CPUBuffer))
	tileIDs := sliceOf[[]uint32](resources[3].(CPUBuffer))
	compactGIDs := sliceOf[[]uint32](resources[4].(CPUBuffer))
	keys := sliceOf[[]uint64](resources[5].(CPUBuffer))

	start, end := invocations(wg, renderer.MainWg, info.NumIntersections)
	for i := start; i < end; i++ {
		keys[i] = renderer.SortKey(tileIDs[i], depths[compactGIDs[i]])
	}
}

func sortBlocks(info *renderer.IntersectInfo) uint32 {
	return jmath.DivCeil(info.NumIntersections, renderer.SortBlockSize)
}

// SortCount counts the digits of one block of keys.
//
// Bindings: intersectInfo, sortPass, keysIn, histogram.
func SortCount(wg Workgroup, resources []CPUBinding) {
	info := fromBytes[renderer.IntersectInfo](resources[0].(CPUBuffer))
	pass := fromBytes[renderer.SortPassUniform](resources[1].(CPUBuffer))
	keys := sliceOf[[]uint64](resources[2].(CPUBuffer))
	hist := sliceOf[[]uint32](resources[3].(CPUBuffer))

	numBlocks := sortBlocks(info)
	block := wg.Linear()
	start, end := invocations(wg, renderer.SortBlockSize, info.NumIntersections)

	var counts [renderer.SortBins]uint32
	for _, key := range keys[start:end] {
		counts[(key>>pass.Shift)&digitMask]++
	}
	for digit, n := range counts {
		hist[uint32(digit)*numBlocks+block] = n
	}
}

// SortScan runs as a single workgroup.
//
// Bindings: intersectInfo, histogram.
func SortScan(_ Workgroup, resources []CPUBinding) {
	info := fromBytes[renderer.IntersectInfo](resources[0].(CPUBuffer))
	hist := sliceOf[[]uint32](resources[1].(CPUBuffer))

	var sum uint32
	for i := range hist[:sortBlocks(info)*renderer.SortBins] {
		n := hist[i]
		hist[i] = sum
		sum += n
	}
}

// SortScatter moves one block of keys and values to their sorted positions.
//
// Bindings: intersectInfo, sortPass, keysIn, valuesIn, histogram, keysOut,
// valuesOut.
func SortScatter(wg Workgroup, resources []CPUBinding) {
	info := fromBytes[renderer.IntersectInfo](resources[0].(CPUBuffer))
	pass := fromBytes[renderer.SortPassUniform](resources[1].(CPUBuffer))
	keysIn := sliceOf[[]uint64](resources[2].(CPUBuffer))
	valuesIn := sliceOf[[]uint32](resources[3].(CPUBuffer))
	hist := sliceOf[[]uint32](resources[4].(CPUBuffer))
	keysOut := sliceOf[[]uint64](resources[5].(CPUBuffer))
	valuesOut := sliceOf[[]uint32](resources[6].(CPUBuffer))

	numBlocks := sortBlocks(info)
	block := wg.Linear()
	start, end := invocations(wg, renderer.SortBlockSize, info.NumIntersections)

	var offsets [renderer.SortBins]uint32
	for digit := range offsets {
		offsets[digit] = hist[uint32(digit)*numBlocks+block]
	}
	for i := start; i < end; i++ {
		key := keysIn[i]
		digit := (key >> pass.Shift) & digitMask
		pos := offsets[digit]
		offsets[digit]++
		keysOut[pos] = key
		valuesOut[pos] = valuesIn[i]
	}
}

// TileEdges finds the range of sorted intersections of each tile and stores
// each sorted intersection's tile ID. The tile ranges must have been cleared
// beforehand; tiles without intersections keep an empty range.
//
// Bindings: intersectInfo, sortedKeys, tileIDs, tileRanges.
func TileEdges(wg Workgroup, resources []CPUBinding) {
	info := fromBytes[renderer.IntersectInfo](resources[0].(CPUBuffer))
	keys := sliceOf[[]uint64](resources[1].(CPUBuffer))
	tileIDs := sliceOf[[]uint32](resources[2].(CPUBuffer))
	ranges := sliceOf[[]renderer.TileRange](resources[3].(CPUBuffer))

	n := info.NumIntersections
	start, end := invocations(wg, renderer.MainWg, n)
	for i := start; i < end; i++ {
		tile := renderer.TileFromKey(keys[i])
		tileIDs[i] = tile
		if i == 0 || renderer.TileFromKey(keys[i-1]) != tile {
			ranges[tile].Start = i
		}
		if i == n-1 || renderer.TileFromKey(keys[i+1]) != tile {
			ranges[tile].End = i + 1
		}
	}
}
