// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu provides the CPU implementations of the pipeline's compute
// kernels.
//
// Kernels are written the way compute shaders are: a kernel is invoked once
// per workgroup, and all workgroups of a dispatch may run concurrently. A
// kernel only ever writes to the part of its outputs that its workgroup owns.
package cpu

import (
	"fmt"
	"unsafe"

	"honnef.co/go/gsplat/renderer"
	"honnef.co/go/safeish"
)

// Kernel is the CPU implementation of a compute shader.
type Kernel func(wg Workgroup, resources []CPUBinding)

// Workgroup identifies a single workgroup of a dispatch.
type Workgroup struct {
	ID    [3]uint32
	Count [3]uint32
}

// Linear returns the workgroup's index in x-major order.
func (wg Workgroup) Linear() uint32 {
	return wg.ID[0] + wg.Count[0]*(wg.ID[1]+wg.Count[1]*wg.ID[2])
}

type CPUBinding interface {
	// One of CPUBuffer, CPUTexture
}

type CPUBuffer []byte

// CPUTexture is a storage image. Pixels are stored row by row without
// padding.
type CPUTexture struct {
	Width  int
	Height int
	Format renderer.ImageFormat
	Pixels []byte
}

func fromBytes[E any, T *E](b []byte) T {
	if uintptr(len(b)) < unsafe.Sizeof(*new(E)) {
		panic(fmt.Sprintf(
			"buffer of size %d cannot represent object of size %d", len(b), unsafe.Sizeof(*new(E))))
	}

	return safeish.Cast[T](&b[0])
}

func sliceOf[T ~[]E, E any](b CPUBuffer) T {
	if len(b) == 0 {
		return nil
	}
	return safeish.SliceCast[T]([]byte(b))
}

func uniforms(b CPUBinding) *renderer.RenderUniforms {
	return fromBytes[renderer.RenderUniforms](b.(CPUBuffer))
}

// invocations returns the half-open range of items processed by a workgroup
// of size wgSize, limited to n.
func invocations(wg Workgroup, wgSize, n uint32) (start, end uint32) {
	start = wg.Linear() * wgSize
	end = min(start+wgSize, n)
	return min(start, end), end
}
