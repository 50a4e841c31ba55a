// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"honnef.co/go/color"
	"honnef.co/go/gsplat/encoding"
	"honnef.co/go/gsplat/internal/logging"
	"honnef.co/go/gsplat/mem"
	"honnef.co/go/gsplat/profiler"
	"honnef.co/go/safeish"
)

type FullShaders struct {
	TileCount        ShaderID
	PrefixReduce     ShaderID
	PrefixScanBlocks ShaderID
	PrefixScan       ShaderID
	IntersectSetup   ShaderID
	MapIntersects    ShaderID
	SortKeys         ShaderID
	SortCount        ShaderID
	SortScan         ShaderID
	SortScatter      ShaderID
	TileEdges        ShaderID
	Rasterize        ShaderID
}

type Render struct {
	fineWgCount   WorkgroupSize
	fineResources fineResources
	outputs       Outputs
}

type RenderParams struct {
	Width  uint32
	Height uint32
	// Background is composited behind all splats. nil means transparent
	// black.
	Background *color.Color
	// Format of the output image.
	Format ImageFormat
	// Largest screen-space radius of a splat, in pixels. Zero selects
	// DefaultMaxRadius.
	MaxRadius float32
	// Aux requests downloading the intermediate buffers of the pipeline.
	Aux bool
}

// Outputs lists the resources produced by a rendered frame. Buffers are
// downloaded and can be retrieved from the engine after running the
// recording. Aux buffers have an ID of zero unless auxiliary outputs were
// requested.
type Outputs struct {
	Image              ImageProxy
	FinalTransmittance BufferProxy
	FinalIndex         BufferProxy
	IntersectInfo      BufferProxy
	TileRanges         BufferProxy

	Aux AuxOutputs
}

type AuxOutputs struct {
	NumTilesHit BufferProxy
	CumTilesHit BufferProxy
	TileIDs     BufferProxy
	CompactGIDs BufferProxy
}

type fineResources struct {
	configBuf      ResourceProxy
	sceneBuf       ResourceProxy
	infoBuf        ResourceProxy
	compactGIDsBuf ResourceProxy
	tileRangesBuf  ResourceProxy
	finalTransBuf  ResourceProxy
	finalIndexBuf  ResourceProxy
	aux            bool
	outImage       ImageProxy
}

type Renderer struct {
	// Upper limit on the number of intersections a frame may allocate space
	// for.
	MaxIntersections uint32
}

func New() *Renderer {
	return &Renderer{
		MaxIntersections: DefaultMaxIntersections,
	}
}

// RenderEncodingCoarse records all stages up to and including tile range
// extraction.
func (rd *Renderer) RenderEncodingCoarse(
	arena *mem.Arena,
	r *Render,
	enc *encoding.Encoding,
	resolver *Resolver,
	shaders *FullShaders,
	params *RenderParams,
	pgroup profiler.ProfilerGroup,
) Recording {
	pgroup = pgroup.Start("RenderEncodingCoarse")
	defer pgroup.End()

	var recording Recording
	layout, packed := resolver.Resolve(enc)
	uniforms := NewUniforms(&layout, params)
	capacity := EstimateIntersections(enc, &uniforms, rd.MaxIntersections)
	cpuConfig := NewRenderConfig(arena, &uniforms, capacity)
	bufferSizes := cpuConfig.BufferSizes()
	wgCounts := cpuConfig.WorkgroupCounts()

	logging.Logger().Debug("recording frame",
		"width", params.Width,
		"height", params.Height,
		"splats", layout.NumVisible,
		"tiles", uniforms.NumTiles(),
		"intersectionCapacity", capacity,
		"sortPasses", len(cpuConfig.SortShifts()))

	sceneBuf := recording.Upload(arena, "scene", packed)
	configBuf := recording.UploadUniform(arena, "config", safeish.AsBytes(cpuConfig.Uniforms()))

	// Bounding and counting
	numTilesHitBuf := NewBufferProxy(bufferSizes.NumTilesHit.sizeInBytes(), "numTilesHit")
	recording.Dispatch(
		arena,
		shaders.TileCount,
		wgCounts.TileCount,
		mem.MakeSlice(arena, []ResourceProxy{configBuf.Resource(), sceneBuf.Resource(), numTilesHitBuf.Resource()}),
	)

	// Inclusive prefix sum over the tile counts
	prefixBlocksBuf := NewBufferProxy(bufferSizes.PrefixBlocks.sizeInBytes(), "prefixBlocks")
	cumTilesHitBuf := NewBufferProxy(bufferSizes.CumTilesHit.sizeInBytes(), "cumTilesHit")
	recording.Dispatch(
		arena,
		shaders.PrefixReduce,
		wgCounts.PrefixReduce,
		mem.MakeSlice(arena, []ResourceProxy{configBuf.Resource(), numTilesHitBuf.Resource(), prefixBlocksBuf.Resource()}),
	)
	recording.Dispatch(
		arena,
		shaders.PrefixScanBlocks,
		wgCounts.PrefixScanBlocks,
		mem.MakeSlice(arena, []ResourceProxy{configBuf.Resource(), prefixBlocksBuf.Resource()}),
	)
	recording.Dispatch(
		arena,
		shaders.PrefixScan,
		wgCounts.PrefixScan,
		mem.MakeSlice(arena, []ResourceProxy{
			configBuf.Resource(),
			numTilesHitBuf.Resource(),
			prefixBlocksBuf.Resource(),
			cumTilesHitBuf.Resource(),
		}),
	)
	recording.FreeResource(arena, prefixBlocksBuf.Resource())

	infoBuf := NewBufferProxy(bufferSizes.IntersectInfo.sizeInBytes(), "intersectInfo")
	indirectCountBuf := NewBufferProxy(bufferSizes.IndirectCounts.sizeInBytes(), "indirectCount")
	tileIDsBuf := NewBufferProxy(bufferSizes.TileIDs.sizeInBytes(), "tileIDs")
	recording.Dispatch(
		arena,
		shaders.IntersectSetup,
		wgCounts.IntersectSetup,
		mem.MakeSlice(arena, []ResourceProxy{
			configBuf.Resource(),
			cumTilesHitBuf.Resource(),
			tileIDsBuf.Resource(),
			infoBuf.Resource(),
			indirectCountBuf.Resource(),
		}),
	)

	// Intersection expansion
	compactGIDsBuf := NewBufferProxy(bufferSizes.CompactGIDs.sizeInBytes(), "compactGIDs")
	recording.Dispatch(
		arena,
		shaders.MapIntersects,
		wgCounts.MapIntersects,
		mem.MakeSlice(arena, []ResourceProxy{
			configBuf.Resource(),
			sceneBuf.Resource(),
			cumTilesHitBuf.Resource(),
			tileIDsBuf.Resource(),
			compactGIDsBuf.Resource(),
		}),
	)

	// Key-value sort
	keysBuf := NewBufferProxy(bufferSizes.SortKeys.sizeInBytes(), "sortKeys")
	recording.DispatchIndirect(
		arena,
		shaders.SortKeys,
		indirectCountBuf,
		IndirectIntersectionsOffset,
		mem.MakeSlice(arena, []ResourceProxy{
			configBuf.Resource(),
			sceneBuf.Resource(),
			infoBuf.Resource(),
			tileIDsBuf.Resource(),
			compactGIDsBuf.Resource(),
			keysBuf.Resource(),
		}),
	)
	keysAltBuf := NewBufferProxy(bufferSizes.SortKeys.sizeInBytes(), "sortKeysAlt")
	valuesAltBuf := NewBufferProxy(bufferSizes.CompactGIDs.sizeInBytes(), "compactGIDsAlt")
	histogramBuf := NewBufferProxy(bufferSizes.SortHistogram.sizeInBytes(), "sortHistogram")
	keysIn, keysOut := keysBuf, keysAltBuf
	valuesIn, valuesOut := compactGIDsBuf, valuesAltBuf
	for _, shift := range cpuConfig.SortShifts() {
		pass := mem.Make(arena, SortPassUniform{Shift: shift})
		passBuf := recording.UploadUniform(arena, "sortPass", safeish.AsBytes(pass))
		recording.DispatchIndirect(
			arena,
			shaders.SortCount,
			indirectCountBuf,
			IndirectSortOffset,
			mem.MakeSlice(arena, []ResourceProxy{
				infoBuf.Resource(),
				passBuf.Resource(),
				keysIn.Resource(),
				histogramBuf.Resource(),
			}),
		)
		recording.Dispatch(
			arena,
			shaders.SortScan,
			wgCounts.SortScan,
			mem.MakeSlice(arena, []ResourceProxy{infoBuf.Resource(), histogramBuf.Resource()}),
		)
		recording.DispatchIndirect(
			arena,
			shaders.SortScatter,
			indirectCountBuf,
			IndirectSortOffset,
			mem.MakeSlice(arena, []ResourceProxy{
				infoBuf.Resource(),
				passBuf.Resource(),
				keysIn.Resource(),
				valuesIn.Resource(),
				histogramBuf.Resource(),
				keysOut.Resource(),
				valuesOut.Resource(),
			}),
		)
		recording.FreeBuffer(arena, passBuf)
		keysIn, keysOut = keysOut, keysIn
		valuesIn, valuesOut = valuesOut, valuesIn
	}
	// keysIn and valuesIn now hold the sorted intersections.
	recording.FreeResource(arena, histogramBuf.Resource())
	recording.FreeResource(arena, keysOut.Resource())
	recording.FreeResource(arena, valuesOut.Resource())

	// Tile range extraction
	tileRangesBuf := NewBufferProxy(bufferSizes.TileRanges.sizeInBytes(), "tileRanges")
	recording.ClearAll(arena, tileRangesBuf)
	recording.DispatchIndirect(
		arena,
		shaders.TileEdges,
		indirectCountBuf,
		IndirectIntersectionsOffset,
		mem.MakeSlice(arena, []ResourceProxy{
			infoBuf.Resource(),
			keysIn.Resource(),
			tileIDsBuf.Resource(),
			tileRangesBuf.Resource(),
		}),
	)
	recording.FreeBuffer(arena, indirectCountBuf)
	recording.FreeResource(arena, keysIn.Resource())

	outImage := NewImageProxy(params.Width, params.Height, params.Format)
	finalTransBuf := NewBufferProxy(bufferSizes.FinalTransmittance.sizeInBytes(), "finalTransmittance")
	finalIndexBuf := NewBufferProxy(bufferSizes.FinalIndex.sizeInBytes(), "finalIndex")

	r.fineWgCount = wgCounts.Rasterize
	r.fineResources = fineResources{
		configBuf:      configBuf.Resource(),
		sceneBuf:       sceneBuf.Resource(),
		infoBuf:        infoBuf.Resource(),
		compactGIDsBuf: valuesIn.Resource(),
		tileRangesBuf:  tileRangesBuf.Resource(),
		finalTransBuf:  finalTransBuf.Resource(),
		finalIndexBuf:  finalIndexBuf.Resource(),
		aux:            params.Aux,
		outImage:       outImage,
	}
	r.outputs = Outputs{
		Image:              outImage,
		FinalTransmittance: finalTransBuf,
		FinalIndex:         finalIndexBuf,
		IntersectInfo:      infoBuf,
		TileRanges:         tileRangesBuf,
	}
	if params.Aux {
		r.outputs.Aux = AuxOutputs{
			NumTilesHit: numTilesHitBuf,
			CumTilesHit: cumTilesHitBuf,
			TileIDs:     tileIDsBuf,
			CompactGIDs: valuesIn,
		}
		recording.Download(arena, numTilesHitBuf)
		recording.Download(arena, cumTilesHitBuf)
		recording.Download(arena, tileIDsBuf)
	}
	recording.FreeResource(arena, numTilesHitBuf.Resource())
	recording.FreeResource(arena, cumTilesHitBuf.Resource())
	recording.FreeResource(arena, tileIDsBuf.Resource())
	return recording
}

// RecordFine records tile compositing and the download of the frame's
// outputs.
func (rd *Renderer) RecordFine(arena *mem.Arena, r *Render, shaders *FullShaders, recording Recording, pgroup profiler.ProfilerGroup) Recording {
	pgroup = pgroup.Start("RecordFine")
	defer pgroup.End()

	fineWgCount := r.fineWgCount
	fine := r.fineResources
	recording.Dispatch(
		arena,
		shaders.Rasterize,
		fineWgCount,
		mem.MakeSlice(arena, []ResourceProxy{
			fine.configBuf,
			fine.sceneBuf,
			fine.infoBuf,
			fine.compactGIDsBuf,
			fine.tileRangesBuf,
			fine.outImage.Resource(),
			fine.finalTransBuf,
			fine.finalIndexBuf,
		}),
	)

	recording.Download(arena, fine.infoBuf.BufferProxy)
	recording.Download(arena, fine.finalTransBuf.BufferProxy)
	recording.Download(arena, fine.finalIndexBuf.BufferProxy)
	recording.Download(arena, fine.tileRangesBuf.BufferProxy)
	if fine.aux {
		recording.Download(arena, fine.compactGIDsBuf.BufferProxy)
	}

	recording.FreeResource(arena, fine.configBuf)
	recording.FreeResource(arena, fine.sceneBuf)
	recording.FreeResource(arena, fine.infoBuf)
	recording.FreeResource(arena, fine.compactGIDsBuf)
	recording.FreeResource(arena, fine.tileRangesBuf)
	recording.FreeResource(arena, fine.finalTransBuf)
	recording.FreeResource(arena, fine.finalIndexBuf)
	return recording
}

func (r *Render) Outputs() Outputs {
	return r.outputs
}

// RenderFull records all stages of rendering enc.
func (rd *Renderer) RenderFull(
	arena *mem.Arena,
	enc *encoding.Encoding,
	resolver *Resolver,
	shaders *FullShaders,
	params *RenderParams,
	pgroup profiler.ProfilerGroup,
) (Recording, Outputs) {
	pgroup = pgroup.Start("RenderFull")
	defer pgroup.End()

	var render Render
	recording := rd.RenderEncodingCoarse(arena, &render, enc, resolver, shaders, params, pgroup)
	recording = rd.RecordFine(arena, &render, shaders, recording, pgroup)
	return recording, render.Outputs()
}
