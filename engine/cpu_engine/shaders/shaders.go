// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package shaders describes the compute kernels of the pipeline: their
// names, workgroup sizes, binding layouts and implementations.
package shaders

import (
	"honnef.co/go/gsplat/engine/cpu_engine/shaders/cpu"
	"honnef.co/go/gsplat/renderer"
)

type BindType int

const (
	Buffer BindType = iota + 1
	BufReadOnly
	Uniform
	Image
	ImageRead
)

type ComputeShader struct {
	Name          string
	WorkgroupSize [3]uint32
	Bindings      []BindType
	CPU           cpu.Kernel
}

type Shaders struct {
	TileCount        ComputeShader
	PrefixReduce     ComputeShader
	PrefixScanBlocks ComputeShader
	PrefixScan       ComputeShader
	IntersectSetup   ComputeShader
	MapIntersects    ComputeShader
	SortKeys         ComputeShader
	SortCount        ComputeShader
	SortScan         ComputeShader
	SortScatter      ComputeShader
	TileEdges        ComputeShader
	Rasterize        ComputeShader
}

var Collection = Shaders{
	TileCount: ComputeShader{
		Name:          "tile_count",
		WorkgroupSize: [3]uint32{renderer.MainWg, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, Buffer},
		CPU:           cpu.TileCount,
	},
	PrefixReduce: ComputeShader{
		Name:          "prefix_reduce",
		WorkgroupSize: [3]uint32{renderer.PrefixWg, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, Buffer},
		CPU:           cpu.PrefixReduce,
	},
	PrefixScanBlocks: ComputeShader{
		Name:          "prefix_scan_blocks",
		WorkgroupSize: [3]uint32{renderer.PrefixWg, 1, 1},
		Bindings:      []BindType{Uniform, Buffer},
		CPU:           cpu.PrefixScanBlocks,
	},
	PrefixScan: ComputeShader{
		Name:          "prefix_scan",
		WorkgroupSize: [3]uint32{renderer.PrefixWg, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, Buffer},
		CPU:           cpu.PrefixScan,
	},
	IntersectSetup: ComputeShader{
		Name:          "intersect_setup",
		WorkgroupSize: [3]uint32{1, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, Buffer, Buffer},
		CPU:           cpu.IntersectSetup,
	},
	MapIntersects: ComputeShader{
		Name:          "map_intersects",
		WorkgroupSize: [3]uint32{renderer.MainWg, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, Buffer, Buffer},
		CPU:           cpu.MapIntersects,
	},
	SortKeys: ComputeShader{
		Name:          "sort_keys",
		WorkgroupSize: [3]uint32{renderer.MainWg, 1, 1},
		Bindings:      []BindType{Uniform, BufReadOnly, BufReadOnly, BufReadOnly, BufReadOnly, Buffer},
		CPU:           cpu.SortKeys,
	},
	SortCount: ComputeShader{
		Name:          "sort_count",
		WorkgroupSize: [3]uint32{renderer.SortBins, 1, 1},
		Bindings:      []BindType{BufReadOnly, Uniform, BufReadOnly, Buffer},
		CPU:           cpu.SortCount,
	},
	SortScan: ComputeShader{
		Name:          "sort_scan",
		WorkgroupSize: [3]uint32{renderer.SortBins, 1, 1},
		Bindings:      []BindType{BufReadOnly, Buffer},
		CPU:           cpu.SortScan,
	},
	SortScatter: ComputeShader{
		Name:          "sort_scatter",
		WorkgroupSize: [3]uint32{renderer.SortBins, 1, 1},
		Bindings: []BindType{
			BufReadOnly,
			Uniform,
			BufReadOnly,
			BufReadOnly,
			BufReadOnly,
			Buffer,
			Buffer,
		},
		CPU: cpu.SortScatter,
	},
	TileEdges: ComputeShader{
		Name:          "tile_edges",
		WorkgroupSize: [3]uint32{renderer.MainWg, 1, 1},
		Bindings:      []BindType{BufReadOnly, BufReadOnly, Buffer, Buffer},
		CPU:           cpu.TileEdges,
	},
	Rasterize: ComputeShader{
		Name:          "rasterize",
		WorkgroupSize: [3]uint32{renderer.TileWidth, renderer.TileWidth, 1},
		Bindings: []BindType{
			Uniform,
			BufReadOnly,
			BufReadOnly,
			BufReadOnly,
			BufReadOnly,
			Image,
			Buffer,
			Buffer,
		},
		CPU: cpu.Rasterize,
	},
}
