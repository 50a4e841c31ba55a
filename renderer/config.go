// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"math/bits"
	"structs"
	"unsafe"

	"honnef.co/go/gsplat/gfx"
	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/mem"
)

type WorkgroupSize [3]uint32

const (
	// TileWidth is the width and height of a tile in pixels.
	TileWidth = 16

	// Workgroup size of kernels that process one splat or one intersection
	// per invocation.
	MainWg = 256
	// Number of elements reduced by one workgroup of the prefix sum.
	PrefixWg = 256
	// Number of keys processed by one workgroup of a radix sort pass.
	SortBlockSize = 1024
	// Number of bits sorted per radix sort pass.
	SortBitsPerPass = 8
	// Number of histogram bins per workgroup of a radix sort pass.
	SortBins = 1 << SortBitsPerPass
	// Number of splats fetched per batch when compositing a tile.
	RasterBatch = TileWidth * TileWidth

	// DefaultMaxIntersections is the default upper limit on the number of
	// splat-tile intersections of a single frame.
	DefaultMaxIntersections = 128 * 65535
	// DefaultMaxRadius is the default upper limit on the screen-space radius
	// of a splat, in pixels.
	DefaultMaxRadius = 1024

	AlphaThreshold         = 1.0 / 255.0
	TransmittanceThreshold = 1e-4
	MaxAlpha               = 0.999
)

// RenderUniforms contains uniform render configuration data used by all
// kernels.
type RenderUniforms struct {
	_ structs.HostLayout

	// Size of the target in pixels.
	ImgSize [2]uint32
	// Size of the target in tiles.
	TileBounds [2]uint32
	// Layout of packed scene data.
	Layout Layout
	// Largest screen-space radius of a splat, in pixels.
	MaxRadius float32
	// Splats whose alpha at a pixel falls below this value are skipped.
	AlphaThreshold float32
	// Upper limit on the alpha of a single splat at a pixel.
	MaxAlpha float32
	// Pixels whose transmittance would fall to or below this value stop
	// accumulating splats.
	TransmittanceThreshold float32
	// Premultiplied, linear background color.
	Background [4]float32
	// One of the ImageFormat values.
	OutputFormat uint32
}

func (u *RenderUniforms) NumTiles() uint32 {
	return u.TileBounds[0] * u.TileBounds[1]
}

type Layout struct {
	_ structs.HostLayout

	// Number of visible splats.
	NumVisible uint32
	// Start of the splat stream, in words.
	SplatBase uint32
	// Start of the depth stream, in words.
	DepthBase uint32
	// Start of the global ID stream, in words.
	GlobalIDBase uint32
}

// TileRange is the half-open range of sorted intersections that belong to a
// tile.
type TileRange struct {
	_ structs.HostLayout

	Start uint32
	End   uint32
}

func (r TileRange) Len() uint32 {
	return r.End - r.Start
}

// IntersectInfo describes the intersections produced by a frame.
type IntersectInfo struct {
	_ structs.HostLayout

	// Number of intersections reported by the prefix sum, saturating at
	// math.MaxUint32.
	Total uint32
	// Number of intersections that fit into the intersection buffers.
	Capacity uint32
	// min(Total, Capacity); the number of intersections that are sorted and
	// composited.
	NumIntersections uint32
	// Non-zero if Total exceeded Capacity.
	Failed uint32
}

// IndirectCount stores indirect dispatch size values.
type IndirectCount struct {
	_ structs.HostLayout

	X uint32
	Y uint32
	Z uint32
	_ uint32 // padding
}

// IndirectCounts holds the workgroup counts of all stages whose size
// depends on the number of intersections.
type IndirectCounts struct {
	_ structs.HostLayout

	// One invocation per intersection, MainWg invocations per workgroup.
	Intersections IndirectCount
	// One workgroup per SortBlockSize intersections.
	Sort IndirectCount
}

const (
	IndirectIntersectionsOffset = uint64(unsafe.Offsetof(IndirectCounts{}.Intersections))
	IndirectSortOffset          = uint64(unsafe.Offsetof(IndirectCounts{}.Sort))
)

// SortPassUniform configures a single radix sort pass.
type SortPassUniform struct {
	_ structs.HostLayout

	// Bit offset of the digit sorted by this pass.
	Shift uint32
}

type RenderConfig struct {
	gpu             RenderUniforms
	workgroupCounts WorkgroupCounts
	bufferSizes     BufferSizes
	sortShifts      []uint32
}

func (cfg *RenderConfig) Uniforms() *RenderUniforms       { return &cfg.gpu }
func (cfg *RenderConfig) WorkgroupCounts() *WorkgroupCounts { return &cfg.workgroupCounts }
func (cfg *RenderConfig) BufferSizes() *BufferSizes         { return &cfg.bufferSizes }

// SortShifts returns the bit offsets of all radix sort passes, in the order
// they have to run.
func (cfg *RenderConfig) SortShifts() []uint32 { return cfg.sortShifts }

// NewUniforms computes the uniforms for rendering a scene with the given
// layout.
func NewUniforms(layout *Layout, params *RenderParams) RenderUniforms {
	maxRadius := params.MaxRadius
	if maxRadius <= 0 {
		maxRadius = DefaultMaxRadius
	}
	return RenderUniforms{
		ImgSize: [2]uint32{params.Width, params.Height},
		TileBounds: [2]uint32{
			jmath.DivCeil(params.Width, TileWidth),
			jmath.DivCeil(params.Height, TileWidth),
		},
		Layout:                 *layout,
		MaxRadius:              maxRadius,
		AlphaThreshold:         AlphaThreshold,
		MaxAlpha:               MaxAlpha,
		TransmittanceThreshold: TransmittanceThreshold,
		Background:             gfx.Premul32(params.Background),
		OutputFormat:           uint32(params.Format),
	}
}

// NewRenderConfig computes the uniforms, workgroup counts and buffer sizes
// of a frame. capacity is the number of intersections to allocate space
// for.
func NewRenderConfig(arena *mem.Arena, uniforms *RenderUniforms, capacity uint32) *RenderConfig {
	workgroupCounts := NewWorkgroupCounts(uniforms)
	bufferSizes := NewBufferSizes(uniforms, &workgroupCounts, capacity)
	out := mem.New[RenderConfig](arena)
	*out = RenderConfig{
		gpu:             *uniforms,
		workgroupCounts: workgroupCounts,
		bufferSizes:     bufferSizes,
		sortShifts:      sortShifts(arena, uniforms.NumTiles()),
	}
	return out
}

// sortShifts returns the shifts of the radix sort passes over the combined
// key. The low 32 bits hold the depth and are always fully sorted; of the
// tile ID, only as many bits as are needed to represent numTiles are sorted.
func sortShifts(arena *mem.Arena, numTiles uint32) []uint32 {
	tileBits := uint32(bits.Len32(numTiles))
	tilePasses := jmath.DivCeil(tileBits, SortBitsPerPass)
	n := 32/SortBitsPerPass + tilePasses
	out := mem.NewSlice[[]uint32](arena, 0, int(n))
	for shift := uint32(0); shift < 32+tilePasses*SortBitsPerPass; shift += SortBitsPerPass {
		out = append(out, shift)
	}
	return out
}

func NewBufferSizes(uniforms *RenderUniforms, workgroups *WorkgroupCounts, capacity uint32) BufferSizes {
	numVisible := uniforms.Layout.NumVisible
	numPixels := uniforms.ImgSize[0] * uniforms.ImgSize[1]
	sortWgs := jmath.DivCeil(capacity, SortBlockSize)
	return BufferSizes{
		NumTilesHit:        NewBufferSize[uint32](numVisible),
		CumTilesHit:        NewBufferSize[uint32](numVisible),
		PrefixBlocks:       NewBufferSize[uint32](workgroups.PrefixReduce[0]),
		IntersectInfo:      NewBufferSize[IntersectInfo](1),
		IndirectCounts:     NewBufferSize[IndirectCounts](1),
		TileIDs:            NewBufferSize[uint32](capacity),
		CompactGIDs:        NewBufferSize[uint32](capacity),
		SortKeys:           NewBufferSize[uint64](capacity),
		SortHistogram:      NewBufferSize[uint32](sortWgs * SortBins),
		TileRanges:         NewBufferSize[TileRange](uniforms.NumTiles()),
		FinalTransmittance: NewBufferSize[float32](numPixels),
		FinalIndex:         NewBufferSize[int32](numPixels),
	}
}

func NewWorkgroupCounts(uniforms *RenderUniforms) WorkgroupCounts {
	numVisible := uniforms.Layout.NumVisible
	splatWgs := jmath.DivCeil(numVisible, MainWg)
	prefixWgs := jmath.DivCeil(numVisible, PrefixWg)
	return WorkgroupCounts{
		TileCount:        [3]uint32{splatWgs, 1, 1},
		PrefixReduce:     [3]uint32{prefixWgs, 1, 1},
		PrefixScanBlocks: [3]uint32{1, 1, 1},
		PrefixScan:       [3]uint32{prefixWgs, 1, 1},
		IntersectSetup:   [3]uint32{1, 1, 1},
		MapIntersects:    [3]uint32{splatWgs, 1, 1},
		SortScan:         [3]uint32{1, 1, 1},
		Rasterize:        [3]uint32{uniforms.TileBounds[0], uniforms.TileBounds[1], 1},
	}
}

type BufferSizes struct {
	// Known size buffers
	NumTilesHit        BufferSize[uint32]
	CumTilesHit        BufferSize[uint32]
	PrefixBlocks       BufferSize[uint32]
	IntersectInfo      BufferSize[IntersectInfo]
	IndirectCounts     BufferSize[IndirectCounts]
	TileRanges         BufferSize[TileRange]
	FinalTransmittance BufferSize[float32]
	FinalIndex         BufferSize[int32]
	// Intersection buffers, sized by the intersection estimate
	TileIDs       BufferSize[uint32]
	CompactGIDs   BufferSize[uint32]
	SortKeys      BufferSize[uint64]
	SortHistogram BufferSize[uint32]
}

type WorkgroupCounts struct {
	TileCount        WorkgroupSize
	PrefixReduce     WorkgroupSize
	PrefixScanBlocks WorkgroupSize
	PrefixScan       WorkgroupSize
	IntersectSetup   WorkgroupSize
	MapIntersects    WorkgroupSize
	// Note `sortKeys`, `sortCount`, `sortScatter` and `tileEdges` must use
	// an indirect dispatch
	SortScan  WorkgroupSize
	Rasterize WorkgroupSize
}

type BufferSize[T any] uint32

func NewBufferSize[T any](x uint32) BufferSize[T] {
	return BufferSize[T](max(x, 1))
}

func (s BufferSize[T]) Len() uint32 {
	return uint32(s)
}

func (s BufferSize[T]) sizeInBytes() uint64 {
	return uint64(s) * uint64(unsafe.Sizeof(*new(T)))
}

// bytesPerPixel returns the size of a single pixel of an image of the given
// format.
func bytesPerPixel(format ImageFormat) uint64 {
	switch format {
	case Rgba8:
		return 4
	case Rgba16Float:
		return 8
	case Rgba32Float:
		return 16
	default:
		panic("invalid image format")
	}
}

// ImageSizeInBytes returns the number of bytes needed to store an image.
func ImageSizeInBytes(width, height uint32, format ImageFormat) uint64 {
	return uint64(width) * uint64(height) * bytesPerPixel(format)
}
