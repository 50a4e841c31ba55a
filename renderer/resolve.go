// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"encoding/binary"
	"slices"
	"unsafe"

	"honnef.co/go/gsplat/encoding"
	"honnef.co/go/safeish"
)

// Resolver packs encodings into scene buffers. It reuses its buffer between
// frames; the data returned by Resolve is only valid until the next call.
type Resolver struct {
	packed []byte
}

func NewResolver() *Resolver {
	return &Resolver{}
}

func (r *Resolver) Resolve(enc *encoding.Encoding) (Layout, []byte) {
	layout, packed := ResolveSplats(enc, r.packed)
	r.packed = packed
	return layout, packed
}

// ResolveSplats packs the streams of enc into data, which is reused if it
// has enough capacity. If enc has no global IDs, splats are numbered
// consecutively.
func ResolveSplats(enc *encoding.Encoding, data []byte) (Layout, []byte) {
	n := len(enc.Splats)
	if len(enc.Depths) != n || (len(enc.GlobalIDs) != 0 && len(enc.GlobalIDs) != n) {
		panic("invalid encoding")
	}
	data = data[:0]
	layout := Layout{
		NumVisible: uint32(n),
	}
	bufferSize := sliceSizeInBytes(enc.Splats, 0) +
		sliceSizeInBytes(enc.Depths, 0) +
		n*4 // global IDs
	if n == 0 {
		return layout, data
	}
	data = slices.Grow(data, bufferSize)

	// Splat stream
	layout.SplatBase = sizeToWords(len(data))
	data = append(data, safeish.SliceCast[[]byte](enc.Splats)...)
	// Depth stream
	layout.DepthBase = sizeToWords(len(data))
	data = append(data, safeish.SliceCast[[]byte](enc.Depths)...)
	// Global ID stream
	layout.GlobalIDBase = sizeToWords(len(data))
	if len(enc.GlobalIDs) == n {
		data = append(data, safeish.SliceCast[[]byte](enc.GlobalIDs)...)
	} else {
		for i := range uint32(n) {
			data = binary.LittleEndian.AppendUint32(data, i)
		}
	}
	if bufferSize != len(data) {
		panic("invalid encoding")
	}
	return layout, data
}

// Splats returns the splat stream of a packed scene buffer.
func (l *Layout) Splats(scene []byte) []encoding.ProjectedSplat {
	if l.NumVisible == 0 {
		return nil
	}
	start := int(l.SplatBase) * 4
	end := start + int(l.NumVisible)*int(unsafe.Sizeof(encoding.ProjectedSplat{}))
	return safeish.SliceCast[[]encoding.ProjectedSplat](scene[start:end])
}

// Depths returns the depth stream of a packed scene buffer.
func (l *Layout) Depths(scene []byte) []float32 {
	if l.NumVisible == 0 {
		return nil
	}
	start := int(l.DepthBase) * 4
	return safeish.SliceCast[[]float32](scene[start : start+int(l.NumVisible)*4])
}

// GlobalIDs returns the global ID stream of a packed scene buffer.
func (l *Layout) GlobalIDs(scene []byte) []uint32 {
	if l.NumVisible == 0 {
		return nil
	}
	start := int(l.GlobalIDBase) * 4
	return safeish.SliceCast[[]uint32](scene[start : start+int(l.NumVisible)*4])
}

func sizeToWords(n int) uint32 {
	return uint32(n) / 4
}

func sliceSizeInBytes[E any, T ~[]E](slice T, extra int) int {
	return (len(slice) + extra) * int(unsafe.Sizeof(*new(E)))
}
