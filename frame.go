// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gsplat

import (
	"image"

	"honnef.co/go/gsplat/gfx"
	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/renderer"
	"honnef.co/go/safeish"
)

// Frame is a rendered image together with the per-pixel and per-tile
// results of compositing.
type Frame struct {
	Width  uint32
	Height uint32
	Format renderer.ImageFormat
	// Premultiplied linear RGBA, row by row, in the layout selected by
	// Format.
	Pixels []byte
	// Transmittance of each pixel after compositing, 1 for pixels that no
	// splat contributed to.
	FinalTransmittance []float32
	// Index into the sorted intersections of the last splat that
	// contributed to each pixel, or -1.
	FinalIndex []int32
	// Size of the tile grid.
	TileBounds [2]uint32
	// Range of sorted intersections of each tile, in row-major tile order.
	TileRanges []renderer.TileRange
	Stats      Stats
	// Only set if RenderParams.Aux was set.
	Aux *Aux
}

type Stats struct {
	// Number of splats submitted for rendering.
	NumVisible uint32
	// Number of splat-tile intersections, saturating at math.MaxUint32.
	Total uint32
	// Number of intersections space was allocated for.
	Capacity uint32
	// Number of intersections that were sorted and composited, the lesser
	// of Total and Capacity.
	NumIntersections uint32
	// Set if Total exceeded Capacity.
	Overflow bool
	// Number of tiles with at least one intersection.
	NonEmptyTiles int
}

// Aux holds the intermediate results of binning a frame.
type Aux struct {
	// Number of tiles each splat intersects, indexed by compact ID.
	NumTilesHit []uint32
	// Inclusive prefix sum of NumTilesHit.
	CumTilesHit []uint32
	// Tile of each sorted intersection.
	TileIDs []uint32
	// Compact splat ID of each sorted intersection.
	CompactGIDs []uint32
	// Global splat ID of each sorted intersection.
	GlobalIDs []uint32
}

// At returns the premultiplied color of a pixel.
func (f *Frame) At(x, y int) [4]float32 {
	i := y*int(f.Width) + x
	switch f.Format {
	case renderer.Rgba8:
		p := f.Pixels[i*4 : i*4+4]
		return [4]float32{
			float32(p[0]) / 255,
			float32(p[1]) / 255,
			float32(p[2]) / 255,
			float32(p[3]) / 255,
		}
	case renderer.Rgba16Float:
		p := safeish.SliceCast[[][4]uint16](f.Pixels)[i]
		return [4]float32{
			jmath.FromFloat16(p[0]),
			jmath.FromFloat16(p[1]),
			jmath.FromFloat16(p[2]),
			jmath.FromFloat16(p[3]),
		}
	case renderer.Rgba32Float:
		return safeish.SliceCast[[][4]float32](f.Pixels)[i]
	default:
		panic("invalid image format")
	}
}

// RGBA converts the frame to an 8-bit image. Colors stay premultiplied and
// linear.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(f.Width), int(f.Height)))
	if f.Format == renderer.Rgba8 {
		copy(img.Pix, f.Pixels)
		return img
	}
	for y := range int(f.Height) {
		row := img.Pix[y*img.Stride:]
		for x := range int(f.Width) {
			c := f.At(x, y)
			for j, v := range c {
				row[x*4+j] = uint8(jmath.Clamp(v, 0, 1)*255 + 0.5)
			}
		}
	}
	return img
}

// SRGBA converts the frame to an 8-bit sRGB image, suitable for encoding
// with image/png.
func (f *Frame) SRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(f.Width), int(f.Height)))
	for y := range int(f.Height) {
		row := img.Pix[y*img.Stride:]
		for x := range int(f.Width) {
			c := gfx.SRGB8(f.At(x, y))
			copy(row[x*4:x*4+4], c[:])
		}
	}
	return img
}

// TileDepth returns the number of intersections of each tile.
func (f *Frame) TileDepth() []uint32 {
	out := make([]uint32, len(f.TileRanges))
	for i, r := range f.TileRanges {
		out[i] = r.Len()
	}
	return out
}
