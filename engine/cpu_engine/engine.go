// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"fmt"
	"math"
	"math/bits"
	"slices"

	"honnef.co/go/gsplat/engine/cpu_engine/shaders/cpu"
	"honnef.co/go/gsplat/internal/logging"
	"honnef.co/go/gsplat/mem"
	"honnef.co/go/gsplat/renderer"
	"honnef.co/go/safeish"
)

// Engine executes recordings on the CPU. Each dispatch runs its workgroups
// on a pool of worker goroutines and returns once all of them have finished.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	shaders   []shader
	pool      resourcePool
	downloads map[renderer.ResourceID][]byte
	workers   *workerPool
	// reused between dispatches
	work []func()

	resolver    *renderer.Resolver
	renderer    *renderer.Renderer
	fullShaders *renderer.FullShaders
}

type shader struct {
	Label         string
	WorkgroupSize [3]uint32
	Bindings      []renderer.BindType
	CPU           cpu.Kernel
}

type ExternalResource interface {
	// One of ExternalBuffer and ExternalImage
}

// ExternalBuffer binds caller-provided memory to a buffer proxy. Buffer must
// be at least as large as the proxy.
type ExternalBuffer struct {
	Proxy  renderer.BufferProxy
	Buffer []byte
}

// ExternalImage binds caller-provided memory to an image proxy. Pixels must
// hold at least renderer.ImageSizeInBytes bytes.
type ExternalImage struct {
	Proxy  renderer.ImageProxy
	Pixels []byte
}

type bindMapBuffer struct {
	Buffer []byte
	Label  string
	// Set for buffers that were taken from the resource pool and have to be
	// returned to it.
	pooled bool
}

type bindMapImage struct {
	texture cpu.CPUTexture
	pooled  bool
}

type bindMap struct {
	bufMap   mem.BinaryTreeMap[renderer.ResourceID, *bindMapBuffer]
	imageMap mem.BinaryTreeMap[renderer.ResourceID, *bindMapImage]
}

type resourcePool struct {
	bufs map[uint64][][]byte
}

func newEngine(options *Options) *Engine {
	maxIsects := options.MaxIntersections
	if maxIsects == 0 {
		maxIsects = renderer.DefaultMaxIntersections
	}
	eng := &Engine{
		pool: resourcePool{
			bufs: make(map[uint64][][]byte),
		},
		downloads: make(map[renderer.ResourceID][]byte),
		workers:   newWorkerPool(options.Workers),
		resolver:  renderer.NewResolver(),
		renderer:  &renderer.Renderer{MaxIntersections: maxIsects},
	}
	eng.fullShaders = eng.newFullShaders()
	return eng
}

func (eng *Engine) addShader(
	label string,
	wgSize [3]uint32,
	layout []renderer.BindType,
	kernel cpu.Kernel,
) renderer.ShaderID {
	if kernel == nil {
		panic(fmt.Sprintf("shader %q has no CPU implementation", label))
	}
	id := len(eng.shaders)
	eng.shaders = append(eng.shaders, shader{
		Label:         label,
		WorkgroupSize: wgSize,
		Bindings:      layout,
		CPU:           kernel,
	})
	return renderer.ShaderID(id)
}

// Workers returns the number of goroutines that run workgroups.
func (eng *Engine) Workers() int {
	return eng.workers.workers
}

// Close stops the engine's workers and releases pooled memory.
func (eng *Engine) Close() {
	eng.workers.close()
	clear(eng.pool.bufs)
	clear(eng.downloads)
}

// RunRecording executes all commands of the recording. Buffers that the
// recording downloads can be retrieved with GetDownload afterwards.
func (eng *Engine) RunRecording(
	arena *mem.Arena,
	recording *renderer.Recording,
	externalResources []ExternalResource,
	label string,
	pgroup *ProfilerGroup,
) {
	pgroup = pgroup.Nest("RunRecording")
	defer pgroup.End()

	var freeBufs, freeImages mem.BinaryTreeMap[renderer.ResourceID, struct{}]
	bindMap := newBindMap(arena, externalResources)

	var numDispatches, numWorkgroups uint64
	for _, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *renderer.Upload:
			bindMap.insertBuf(arena, cmd.Buffer, cmd.Data, false)

		case *renderer.UploadUniform:
			bindMap.insertBuf(arena, cmd.Buffer, cmd.Data, false)

		case *renderer.Dispatch:
			shader := &eng.shaders[cmd.Shader]
			resources := bindMap.createCPUResources(arena, &eng.pool, shader, cmd.Bindings)
			span := pgroup.Begin(shader.Label)
			eng.dispatch(shader.CPU, cmd.WorkgroupSize, resources)
			span.End()
			numDispatches++
			numWorkgroups += wgCount(cmd.WorkgroupSize)

		case *renderer.DispatchIndirect:
			shader := &eng.shaders[cmd.Shader]
			buf, ok := bindMap.getBuf(cmd.Buffer)
			if !ok {
				panic("tried using unavailable buffer for indirect dispatch")
			}
			indirect := safeish.Cast[*renderer.IndirectCount](&buf.Buffer[cmd.Offset])
			wgSize := [3]uint32{indirect.X, indirect.Y, indirect.Z}
			resources := bindMap.createCPUResources(arena, &eng.pool, shader, cmd.Bindings)
			span := pgroup.Begin(shader.Label)
			eng.dispatch(shader.CPU, wgSize, resources)
			span.End()
			numDispatches++
			numWorkgroups += wgCount(wgSize)

		case *renderer.Download:
			proxy := cmd.Buffer
			buf, ok := bindMap.getBuf(proxy)
			if !ok {
				panic("tried using unavailable buffer for download")
			}
			eng.downloads[proxy.ID] = slices.Clone(buf.Buffer[:proxy.Size])

		case *renderer.Clear:
			proxy := cmd.Buffer
			buf := bindMap.materializeBuf(arena, &eng.pool, proxy)
			slice := buf.Buffer[cmd.Offset:]
			if cmd.Size >= 0 {
				slice = slice[:cmd.Size]
			}
			clear(slice)

		case *renderer.FreeBuffer:
			freeBufs.Insert(arena, cmd.Buffer.ID, struct{}{})

		case *renderer.FreeImage:
			freeImages.Insert(arena, cmd.Image.ID, struct{}{})

		default:
			panic(fmt.Sprintf("unhandled command %T", cmd))
		}
	}

	for id := range freeBufs.Keys() {
		buf, ok := bindMap.bufMap.Get(id)
		if ok {
			bindMap.bufMap.Delete(id)
			if buf.pooled {
				eng.pool.putBuf(buf.Buffer)
			}
		}
	}
	for id := range freeImages.Keys() {
		img, ok := bindMap.imageMap.Get(id)
		if ok {
			bindMap.imageMap.Delete(id)
			if img.pooled {
				eng.pool.putBuf(img.texture.Pixels)
			}
		}
	}

	logging.Logger().Debug("ran recording",
		"label", label,
		"commands", len(recording.Commands),
		"dispatches", numDispatches,
		"workgroups", numWorkgroups)
}

// GetDownload returns the contents of a downloaded buffer.
func (eng *Engine) GetDownload(buf renderer.BufferProxy) ([]byte, bool) {
	got, ok := eng.downloads[buf.ID]
	return got, ok
}

func (eng *Engine) FreeDownload(buf renderer.BufferProxy) {
	delete(eng.downloads, buf.ID)
}

func wgCount(size [3]uint32) uint64 {
	return uint64(size[0]) * uint64(size[1]) * uint64(size[2])
}

// dispatch runs all workgroups of a dispatch. Workgroups are split into
// contiguous chunks, several per worker, so that workers that finish early
// can steal the remaining chunks.
func (eng *Engine) dispatch(kernel cpu.Kernel, count [3]uint32, resources []cpu.CPUBinding) {
	total := wgCount(count)
	if total == 0 {
		return
	}
	run := func(start, end uint64) {
		for l := start; l < end; l++ {
			x := l % uint64(count[0])
			y := (l / uint64(count[0])) % uint64(count[1])
			z := l / (uint64(count[0]) * uint64(count[1]))
			kernel(cpu.Workgroup{
				ID:    [3]uint32{uint32(x), uint32(y), uint32(z)},
				Count: count,
			}, resources)
		}
	}

	workers := uint64(eng.workers.workers)
	if workers == 1 || total == 1 {
		run(0, total)
		return
	}
	numChunks := min(total, workers*4)
	work := eng.work[:0]
	for c := range numChunks {
		start := c * total / numChunks
		end := (c + 1) * total / numChunks
		work = append(work, func() { run(start, end) })
	}
	eng.workers.executeAll(work)
	clear(work)
	eng.work = work[:0]
}

func newBindMap(arena *mem.Arena, externalResources []ExternalResource) bindMap {
	var m bindMap
	for _, res := range externalResources {
		switch res := res.(type) {
		case ExternalBuffer:
			if uint64(len(res.Buffer)) < res.Proxy.Size {
				panic(fmt.Sprintf("external buffer %q is too small", res.Proxy.Name))
			}
			m.insertBuf(arena, res.Proxy, res.Buffer, false)
		case ExternalImage:
			proxy := res.Proxy
			if uint64(len(res.Pixels)) < renderer.ImageSizeInBytes(proxy.Width, proxy.Height, proxy.Format) {
				panic("external image is too small")
			}
			m.imageMap.Insert(arena, proxy.ID, &bindMapImage{
				texture: cpu.CPUTexture{
					Width:  int(proxy.Width),
					Height: int(proxy.Height),
					Format: proxy.Format,
					Pixels: res.Pixels,
				},
			})
		default:
			panic(fmt.Sprintf("unhandled type %T", res))
		}
	}
	return m
}

func (m *bindMap) insertBuf(arena *mem.Arena, proxy renderer.BufferProxy, buffer []byte, pooled bool) *bindMapBuffer {
	b := &bindMapBuffer{
		Buffer: buffer,
		Label:  proxy.Name,
		pooled: pooled,
	}
	m.bufMap.Insert(arena, proxy.ID, b)
	return b
}

func (m *bindMap) getBuf(proxy renderer.BufferProxy) (*bindMapBuffer, bool) {
	b, ok := m.bufMap.Get(proxy.ID)
	return b, ok
}

// materializeBuf returns the buffer bound to proxy, allocating a zeroed
// buffer from the pool if there is none yet.
func (m *bindMap) materializeBuf(arena *mem.Arena, pool *resourcePool, proxy renderer.BufferProxy) *bindMapBuffer {
	if b, ok := m.bufMap.Get(proxy.ID); ok {
		return b
	}
	return m.insertBuf(arena, proxy, pool.getBuf(proxy.Size), true)
}

func (m *bindMap) materializeImage(arena *mem.Arena, pool *resourcePool, proxy renderer.ImageProxy) *bindMapImage {
	if img, ok := m.imageMap.Get(proxy.ID); ok {
		return img
	}
	img := &bindMapImage{
		texture: cpu.CPUTexture{
			Width:  int(proxy.Width),
			Height: int(proxy.Height),
			Format: proxy.Format,
			Pixels: pool.getBuf(renderer.ImageSizeInBytes(proxy.Width, proxy.Height, proxy.Format)),
		},
		pooled: true,
	}
	m.imageMap.Insert(arena, proxy.ID, img)
	return img
}

func (m *bindMap) createCPUResources(
	arena *mem.Arena,
	pool *resourcePool,
	shader *shader,
	bindings []renderer.ResourceProxy,
) []cpu.CPUBinding {
	if len(bindings) != len(shader.Bindings) {
		panic(fmt.Sprintf("shader %s takes %d bindings, got %d", shader.Label, len(shader.Bindings), len(bindings)))
	}
	out := mem.NewSlice[[]cpu.CPUBinding](arena, len(bindings), len(bindings))
	for i, resource := range bindings {
		switch resource.Kind {
		case renderer.ResourceProxyKindBuffer:
			switch shader.Bindings[i].Type {
			case renderer.BindTypeBuffer, renderer.BindTypeBufReadOnly, renderer.BindTypeUniform:
			default:
				panic(fmt.Sprintf("shader %s: binding %d must not be a buffer", shader.Label, i))
			}
			b := m.materializeBuf(arena, pool, resource.BufferProxy)
			out[i] = cpu.CPUBuffer(b.Buffer)
		case renderer.ResourceProxyKindImage:
			switch shader.Bindings[i].Type {
			case renderer.BindTypeImage, renderer.BindTypeImageRead:
			default:
				panic(fmt.Sprintf("shader %s: binding %d must not be an image", shader.Label, i))
			}
			img := m.materializeImage(arena, pool, resource.ImageProxy)
			out[i] = img.texture
		default:
			panic(fmt.Sprintf("unhandled type %d", resource.Kind))
		}
	}
	return out
}

// getBuf returns a zeroed buffer of the given size.
func (pool *resourcePool) getBuf(size uint64) []byte {
	const sizeClassBits = 1

	roundedSize := poolSizeClass(size, sizeClassBits)
	if bufVec := pool.bufs[roundedSize]; len(bufVec) > 0 {
		buf := bufVec[len(bufVec)-1]
		clear(bufVec[len(bufVec)-1:])
		pool.bufs[roundedSize] = bufVec[:len(bufVec)-1]
		buf = buf[:size]
		clear(buf)
		return buf
	}
	return make([]byte, size, roundedSize)
}

func (pool *resourcePool) putBuf(buf []byte) {
	c := uint64(cap(buf))
	pool.bufs[c] = append(pool.bufs[c], buf[:0])
}

func poolSizeClass(x uint64, numBits uint32) uint64 {
	if x > 1<<numBits {
		a := bits.LeadingZeros64(x - 1)
		b := (x - 1) | (((math.MaxUint64 / 2) >> numBits) >> a)
		return b + 1
	} else {
		return 1 << numBits
	}
}
