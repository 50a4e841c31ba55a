// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package gsplat renders projected 2D Gaussian splats with a tile-based,
// depth-sorted alpha compositing rasterizer.
//
// Splats are binned into 16×16 pixel tiles, every splat-tile intersection is
// sorted by tile and depth, and each tile then composites its splats front
// to back. The pipeline is recorded as a series of compute dispatches (see
// package renderer) and executed by a data-parallel CPU engine (see package
// engine/cpu_engine).
package gsplat

import (
	"errors"
	"fmt"
	"log/slog"

	"honnef.co/go/gsplat/encoding"
	"honnef.co/go/gsplat/engine/cpu_engine"
	"honnef.co/go/gsplat/internal/logging"
	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/mem"
	"honnef.co/go/gsplat/renderer"
	"honnef.co/go/safeish"
)

var (
	ErrInvalidSize     = errors.New("invalid image size")
	ErrInvalidFormat   = errors.New("invalid output format")
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// The largest supported width and height, in pixels.
const MaxImageSize = 1 << 14

type RenderParams = renderer.RenderParams

// DefaultRenderParams returns parameters for rendering to a width×height
// float32 image with a transparent background.
func DefaultRenderParams(width, height uint32) RenderParams {
	return RenderParams{
		Width:  width,
		Height: height,
		Format: renderer.Rgba32Float,
	}
}

type Options struct {
	// Number of goroutines that run workgroups. Zero selects GOMAXPROCS.
	Workers int
	// Upper limit on the number of splat-tile intersections of a frame.
	// Intersections beyond the limit are dropped and reported in
	// Stats.Overflow. Zero selects a default of 128·65535.
	MaxIntersections uint32
	// Profile enables the collection of timings, see
	// Renderer.ProfilerResults.
	Profile bool
}

// Renderer renders frames. It reuses memory between frames and is not safe
// for concurrent use.
type Renderer struct {
	engine   *cpu_engine.Engine
	arena    *mem.Arena
	profiler *cpu_engine.Profiler
	frame    uint64
}

func New(options *Options) *Renderer {
	if options == nil {
		options = &Options{}
	}
	r := &Renderer{
		engine: cpu_engine.New(&cpu_engine.Options{
			Workers:          options.Workers,
			MaxIntersections: options.MaxIntersections,
		}),
		arena:    mem.NewArena(),
		profiler: cpu_engine.NewNopProfiler(),
	}
	if options.Profile {
		r.profiler = cpu_engine.NewProfiler()
	}
	return r
}

// SetLogger sets the logger used by all packages of the module. nil
// disables logging, which is the default.
func SetLogger(l *slog.Logger) {
	logging.SetLogger(l)
}

// Close releases the renderer's worker goroutines and pooled memory.
func (r *Renderer) Close() {
	r.engine.Close()
}

// ProfilerResults returns the timings of all frames rendered since the
// last call. It returns nil unless profiling was enabled. The results are
// only valid until the next call.
func (r *Renderer) ProfilerResults() []cpu_engine.ProfilerResult {
	return r.profiler.Collect()
}

func validate(enc *encoding.Encoding, params *RenderParams) error {
	if params.Width == 0 || params.Height == 0 || params.Width > MaxImageSize || params.Height > MaxImageSize {
		return fmt.Errorf("%w: %d×%d", ErrInvalidSize, params.Width, params.Height)
	}
	if !params.Format.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, params.Format)
	}
	n := len(enc.Splats)
	if len(enc.Depths) != n {
		return fmt.Errorf("%w: %d splats but %d depths", ErrInvalidEncoding, n, len(enc.Depths))
	}
	if len(enc.GlobalIDs) != 0 && len(enc.GlobalIDs) != n {
		return fmt.Errorf("%w: %d splats but %d global IDs", ErrInvalidEncoding, n, len(enc.GlobalIDs))
	}
	return nil
}

// Render renders enc. A nil encoding renders only the background.
func (r *Renderer) Render(enc *encoding.Encoding, params *RenderParams) (*Frame, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: no render parameters", ErrInvalidSize)
	}
	if enc == nil {
		enc = &encoding.Encoding{}
	}
	if err := validate(enc, params); err != nil {
		return nil, fmt.Errorf("couldn't render frame: %w", err)
	}

	r.frame++
	pgroup := r.profiler.Start(r.frame)
	defer pgroup.End()
	defer r.arena.Reset()

	pixels := make([]byte, renderer.ImageSizeInBytes(params.Width, params.Height, params.Format))
	outputs := r.engine.RenderToImage(r.arena, enc, pixels, params, pgroup)

	frame := &Frame{
		Width:      params.Width,
		Height:     params.Height,
		Format:     params.Format,
		Pixels:     pixels,
		TileBounds: [2]uint32{
			jmath.DivCeil(params.Width, renderer.TileWidth),
			jmath.DivCeil(params.Height, renderer.TileWidth),
		},
	}
	info := *safeish.Cast[*renderer.IntersectInfo](&r.download(outputs.IntersectInfo)[0])
	numPixels := int(params.Width) * int(params.Height)
	frame.FinalTransmittance = safeish.SliceCast[[]float32](r.download(outputs.FinalTransmittance))[:numPixels]
	frame.FinalIndex = safeish.SliceCast[[]int32](r.download(outputs.FinalIndex))[:numPixels]
	frame.TileRanges = safeish.SliceCast[[]renderer.TileRange](r.download(outputs.TileRanges))
	frame.TileRanges = frame.TileRanges[:frame.TileBounds[0]*frame.TileBounds[1]]

	frame.Stats = Stats{
		NumVisible:       uint32(enc.Len()),
		Total:            info.Total,
		Capacity:         info.Capacity,
		NumIntersections: info.NumIntersections,
		Overflow:         info.Failed != 0,
	}
	for _, rng := range frame.TileRanges {
		if rng.Len() > 0 {
			frame.Stats.NonEmptyTiles++
		}
	}
	if frame.Stats.Overflow {
		logging.Logger().Warn("intersection capacity exceeded, dropping intersections",
			"total", info.Total,
			"capacity", info.Capacity)
	}

	if params.Aux {
		n := enc.Len()
		m := int(info.NumIntersections)
		aux := &Aux{
			NumTilesHit: safeish.SliceCast[[]uint32](r.download(outputs.Aux.NumTilesHit))[:n],
			CumTilesHit: safeish.SliceCast[[]uint32](r.download(outputs.Aux.CumTilesHit))[:n],
			TileIDs:     safeish.SliceCast[[]uint32](r.download(outputs.Aux.TileIDs))[:m],
			CompactGIDs: safeish.SliceCast[[]uint32](r.download(outputs.Aux.CompactGIDs))[:m],
		}
		aux.GlobalIDs = make([]uint32, m)
		for i, gid := range aux.CompactGIDs {
			if len(enc.GlobalIDs) != 0 {
				aux.GlobalIDs[i] = enc.GlobalIDs[gid]
			} else {
				aux.GlobalIDs[i] = gid
			}
		}
		frame.Aux = aux
	}

	logging.Logger().Debug("rendered frame",
		"frame", r.frame,
		"splats", frame.Stats.NumVisible,
		"intersections", frame.Stats.NumIntersections,
		"nonEmptyTiles", frame.Stats.NonEmptyTiles)
	return frame, nil
}

// download takes ownership of a downloaded buffer.
func (r *Renderer) download(buf renderer.BufferProxy) []byte {
	b, ok := r.engine.GetDownload(buf)
	if !ok {
		panic(fmt.Sprintf("buffer %q wasn't downloaded", buf.Name))
	}
	r.engine.FreeDownload(buf)
	return b
}
