// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package encoding contains the host-side representation of a frame's
// splats, as produced by a projection stage and consumed by the renderer.
package encoding

import (
	"math"
	"structs"

	"golang.org/x/image/math/f32"
	"honnef.co/go/curve"
	"honnef.co/go/gsplat/jmath"
)

// ProjectedSplat is a Gaussian that has already been projected into screen
// space.
//
// This data structure is shared with the kernels and must not change layout.
type ProjectedSplat struct {
	_ structs.HostLayout

	// Center in pixels.
	XY f32.Vec2
	// Upper triangle (xx, xy, yy) of the inverse of the 2D covariance.
	Conic [3]float32
	// Linear RGB and opacity.
	Color f32.Vec4
}

func (s *ProjectedSplat) Opacity() float32 {
	return s.Color[3]
}

// Encoding holds the splat streams of a frame. All streams have the same
// length; index i of each stream describes the splat with compact ID i.
type Encoding struct {
	Splats []ProjectedSplat
	// View depth of each splat, used to order splats within a tile.
	Depths []float32
	// Index of each splat in the caller's sparse set of primitives.
	GlobalIDs []uint32
}

type StreamOffsets struct {
	Splats    int
	Depths    int
	GlobalIDs int
}

func (enc *Encoding) IsEmpty() bool {
	return len(enc.Splats) == 0
}

func (enc *Encoding) Len() int {
	return len(enc.Splats)
}

func (enc *Encoding) Reset() {
	enc.Splats = enc.Splats[:0]
	enc.Depths = enc.Depths[:0]
	enc.GlobalIDs = enc.GlobalIDs[:0]
}

func (enc *Encoding) StreamOffsets() StreamOffsets {
	return StreamOffsets{
		Splats:    len(enc.Splats),
		Depths:    len(enc.Depths),
		GlobalIDs: len(enc.GlobalIDs),
	}
}

// EncodeSplat appends a single splat.
func (enc *Encoding) EncodeSplat(s ProjectedSplat, depth float32, globalID uint32) {
	enc.Splats = append(enc.Splats, s)
	enc.Depths = append(enc.Depths, depth)
	enc.GlobalIDs = append(enc.GlobalIDs, globalID)
}

// EncodeEllipse appends a splat whose standard deviations along its own axes
// are radii, rotated counter-clockwise by angle radians. rgba holds linear
// RGB and opacity.
func (enc *Encoding) EncodeEllipse(
	center curve.Point,
	radii curve.Vec2,
	angle float64,
	rgba [4]float32,
	depth float32,
	globalID uint32,
) {
	sin, cos := math.Sincos(angle)
	sx := radii.X * radii.X
	sy := radii.Y * radii.Y
	cov := [3]float32{
		float32(cos*cos*sx + sin*sin*sy),
		float32(sin * cos * (sx - sy)),
		float32(sin*sin*sx + cos*cos*sy),
	}
	// A degenerate ellipse produces a zero conic, which the renderer treats
	// as invisible.
	conic, _ := jmath.ConicFromCov(cov)
	enc.EncodeSplat(ProjectedSplat{
		XY:    f32.Vec2{float32(center.X), float32(center.Y)},
		Conic: conic,
		Color: f32.Vec4(rgba),
	}, depth, globalID)
}

// Append appends the splats of other, mapping their centers and shapes
// through transform. Depths and global IDs are copied unchanged. If only one
// of the two encodings has global IDs, the splats of the other one are
// numbered by their compact ID in the combined encoding, which is the
// numbering the renderer uses when an encoding has no global IDs at all.
func (enc *Encoding) Append(other *Encoding, transform jmath.Transform) {
	start := len(enc.Splats)
	if transform != jmath.Identity {
		for _, s := range other.Splats {
			s.XY = transform.Apply(s.XY)
			s.Conic = transform.TransformConic(s.Conic)
			enc.Splats = append(enc.Splats, s)
		}
	} else {
		enc.Splats = append(enc.Splats, other.Splats...)
	}
	enc.Depths = append(enc.Depths, other.Depths...)

	if len(enc.GlobalIDs) == 0 && len(other.GlobalIDs) == 0 {
		return
	}
	for i := len(enc.GlobalIDs); i < start; i++ {
		enc.GlobalIDs = append(enc.GlobalIDs, uint32(i))
	}
	if len(other.GlobalIDs) != 0 {
		enc.GlobalIDs = append(enc.GlobalIDs, other.GlobalIDs...)
	} else {
		for i := range other.Splats {
			enc.GlobalIDs = append(enc.GlobalIDs, uint32(start+i))
		}
	}
}

// AppendAffine is like Append but takes a curve.Affine.
func (enc *Encoding) AppendAffine(other *Encoding, transform curve.Affine) {
	enc.Append(other, jmath.TransformFromKurbo(transform))
}
