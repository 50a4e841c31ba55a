// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"fmt"

	"golang.org/x/image/math/f32"
	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/renderer"
	"honnef.co/go/safeish"
)

const tilePixels = renderer.TileWidth * renderer.TileWidth

// batchSplat is the part of a splat that compositing needs, fetched once per
// batch and shared by all pixels of the tile.
type batchSplat struct {
	xy      f32.Vec2
	conic   [3]float32
	color   f32.Vec4
	isectID int32
}

// Rasterize composites the sorted splats of one tile, front to back.
//
// Bindings: config, scene, intersectInfo, sortedCompactGIDs, tileRanges,
// output, finalTransmittance, finalIndex.
func Rasterize(wg Workgroup, resources []CPUBinding) {
	config := uniforms(resources[0])
	splats := config.Layout.Splats(resources[1].(CPUBuffer))
	compactGIDs := sliceOf[[]uint32](resources[3].(CPUBuffer))
	ranges := sliceOf[[]renderer.TileRange](resources[4].(CPUBuffer))
	output := resources[5].(CPUTexture)
	finalT := sliceOf[[]float32](resources[6].(CPUBuffer))
	finalIndex := sliceOf[[]int32](resources[7].(CPUBuffer))

	tx, ty := wg.ID[0], wg.ID[1]
	tileID := tx + ty*config.TileBounds[0]
	rng := ranges[tileID]

	var (
		transmittance [tilePixels]float32
		color         [tilePixels][3]float32
		lastIndex     [tilePixels]int32
		done          [tilePixels]bool
		batch         [renderer.RasterBatch]batchSplat
	)
	width := config.ImgSize[0]
	height := config.ImgSize[1]
	x0 := tx * renderer.TileWidth
	y0 := ty * renderer.TileWidth
	numDone := 0
	for i := range tilePixels {
		transmittance[i] = 1
		lastIndex[i] = -1
		x := x0 + uint32(i%renderer.TileWidth)
		y := y0 + uint32(i/renderer.TileWidth)
		if x >= width || y >= height {
			done[i] = true
			numDone++
		}
	}

	for batchStart := rng.Start; batchStart < rng.End && numDone < tilePixels; batchStart += renderer.RasterBatch {
		batchEnd := min(batchStart+renderer.RasterBatch, rng.End)
		local := batch[:batchEnd-batchStart]
		for j := range local {
			isectID := batchStart + uint32(j)
			s := &splats[compactGIDs[isectID]]
			local[j] = batchSplat{
				xy:      s.XY,
				conic:   s.Conic,
				color:   s.Color,
				isectID: int32(isectID),
			}
		}

		for i := range tilePixels {
			if done[i] {
				continue
			}
			px := float32(x0+uint32(i%renderer.TileWidth)) + 0.5
			py := float32(y0+uint32(i/renderer.TileWidth)) + 0.5
			T := transmittance[i]
			c := color[i]
			for j := range local {
				s := &local[j]
				dx := s.xy[0] - px
				dy := s.xy[1] - py
				power := renderer.Power(s.conic, dx, dy)
				if power < 0 {
					continue
				}
				alpha := min(config.MaxAlpha, s.color[3]*jmath.Exp32(-power))
				if alpha < config.AlphaThreshold {
					continue
				}
				nextT := T * (1 - alpha)
				if nextT <= config.TransmittanceThreshold {
					done[i] = true
					numDone++
					break
				}
				w := alpha * T
				c[0] += w * s.color[0]
				c[1] += w * s.color[1]
				c[2] += w * s.color[2]
				T = nextT
				lastIndex[i] = s.isectID
			}
			transmittance[i] = T
			color[i] = c
		}
	}

	bg := config.Background
	for i := range tilePixels {
		x := x0 + uint32(i%renderer.TileWidth)
		y := y0 + uint32(i/renderer.TileWidth)
		if x >= width || y >= height {
			continue
		}
		pix := y*width + x
		T := transmittance[i]
		rgba := [4]float32{
			color[i][0] + T*bg[0],
			color[i][1] + T*bg[1],
			color[i][2] + T*bg[2],
			(1 - T) + T*bg[3],
		}
		output.store(pix, rgba)
		finalT[pix] = T
		finalIndex[pix] = lastIndex[i]
	}
}

func (tex CPUTexture) store(pix uint32, rgba [4]float32) {
	switch tex.Format {
	case renderer.Rgba8:
		pixels := safeish.SliceCast[[][4]uint8](tex.Pixels)
		pixels[pix] = [4]uint8{unorm8(rgba[0]), unorm8(rgba[1]), unorm8(rgba[2]), unorm8(rgba[3])}
	case renderer.Rgba16Float:
		pixels := safeish.SliceCast[[][4]uint16](tex.Pixels)
		pixels[pix] = [4]uint16{
			jmath.Float16(rgba[0]),
			jmath.Float16(rgba[1]),
			jmath.Float16(rgba[2]),
			jmath.Float16(rgba[3]),
		}
	case renderer.Rgba32Float:
		pixels := safeish.SliceCast[[][4]float32](tex.Pixels)
		pixels[pix] = rgba
	default:
		panic(fmt.Sprintf("unhandled image format %s", tex.Format))
	}
}

// unorm8 converts a value in [0, 1] to an 8-bit unsigned normalized integer,
// the way pack4x8unorm does.
func unorm8(v float32) uint8 {
	return uint8(jmath.Floor32(jmath.Clamp(v, 0, 1)*255 + 0.5))
}
