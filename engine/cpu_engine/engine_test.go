// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"testing"
	"unsafe"

	gocmp "github.com/google/go-cmp/cmp"
	"honnef.co/go/gsplat/engine/cpu_engine/shaders/cpu"
	"honnef.co/go/gsplat/jmath"
	"honnef.co/go/gsplat/mem"
	"honnef.co/go/gsplat/renderer"
	"honnef.co/go/safeish"
)

func TestPoolSizeClass(t *testing.T) {
	tests := []struct {
		size uint64
		want uint64
	}{
		{0, 2},
		{1, 2},
		{2, 2},
		{3, 3},
		{64, 64},
		{65, 96},
		{96, 96},
		{97, 128},
		{1000, 1024},
	}
	for _, tt := range tests {
		if got := poolSizeClass(tt.size, 1); got != tt.want {
			t.Errorf("poolSizeClass(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestResourcePoolReuse(t *testing.T) {
	pool := resourcePool{bufs: make(map[uint64][][]byte)}
	b1 := pool.getBuf(100)
	if len(b1) != 100 {
		t.Fatalf("got buffer of length %d, want 100", len(b1))
	}
	for i := range b1 {
		b1[i] = 0xFF
	}
	pool.putBuf(b1)

	b2 := pool.getBuf(120)
	if len(b2) != 120 {
		t.Fatalf("got buffer of length %d, want 120", len(b2))
	}
	if unsafe.SliceData(b1) != unsafe.SliceData(b2) {
		t.Errorf("buffer of the same size class wasn't reused")
	}
	for i, b := range b2 {
		if b != 0 {
			t.Fatalf("reused buffer isn't zeroed at offset %d", i)
		}
	}
}

func TestWorkerPoolExecuteAll(t *testing.T) {
	pool := newWorkerPool(4)
	defer pool.close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.executeAll(work)
	if got := counter.Load(); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}

	pool.close()
	// A closed pool runs work on the calling goroutine.
	pool.executeAll(work)
	if got := counter.Load(); got != 200 {
		t.Errorf("counter = %d, want 200", got)
	}
}

func TestDispatchRunsEveryWorkgroup(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			eng := New(&Options{Workers: workers})
			defer eng.Close()

			count := [3]uint32{3, 5, 2}
			var seen [30]atomic.Int32
			var badCount atomic.Bool
			eng.dispatch(func(wg cpu.Workgroup, _ []cpu.CPUBinding) {
				if wg.Count != count {
					badCount.Store(true)
				}
				seen[wg.Linear()].Add(1)
			}, count, nil)

			if badCount.Load() {
				t.Errorf("kernel observed wrong workgroup count")
			}
			for i := range seen {
				if n := seen[i].Load(); n != 1 {
					t.Errorf("workgroup %d ran %d times, want 1", i, n)
				}
			}
		})
	}
}

func TestRadixSortMatchesStableSort(t *testing.T) {
	const n = 5000
	rng := rand.New(rand.NewPCG(3, 4))
	keys := make([]uint64, n)
	values := make([]uint32, n)
	for i := range keys {
		// Few distinct keys, so that stability matters.
		keys[i] = uint64(rng.IntN(40))<<32 | uint64(rng.IntN(8))
		values[i] = uint32(i)
	}

	type pair struct {
		key   uint64
		value uint32
	}
	want := make([]pair, n)
	for i := range want {
		want[i] = pair{keys[i], values[i]}
	}
	slices.SortStableFunc(want, func(a, b pair) int {
		return cmp.Compare(a.key, b.key)
	})
	wantKeys := make([]uint64, n)
	wantValues := make([]uint32, n)
	for i, p := range want {
		wantKeys[i] = p.key
		wantValues[i] = p.value
	}

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			eng := New(&Options{Workers: workers})
			defer eng.Close()
			arena := mem.NewArena()
			shaders := eng.fullShaders

			info := renderer.IntersectInfo{Total: n, Capacity: n, NumIntersections: n}
			numBlocks := jmath.DivCeil(uint32(n), renderer.SortBlockSize)

			var rec renderer.Recording
			infoBuf := rec.Upload(arena, "info", safeish.AsBytes(&info))
			keysIn := rec.Upload(arena, "keys", slices.Clone(safeish.SliceCast[[]byte](keys)))
			valuesIn := rec.Upload(arena, "values", slices.Clone(safeish.SliceCast[[]byte](values)))
			keysOut := renderer.NewBufferProxy(n*8, "keysAlt")
			valuesOut := renderer.NewBufferProxy(n*4, "valuesAlt")
			hist := renderer.NewBufferProxy(uint64(numBlocks)*renderer.SortBins*4, "histogram")
			for _, shift := range []uint32{0, 8, 16, 24, 32} {
				pass := mem.Make(arena, renderer.SortPassUniform{Shift: shift})
				passBuf := rec.UploadUniform(arena, "pass", safeish.AsBytes(pass))
				rec.Dispatch(arena, shaders.SortCount, [3]uint32{numBlocks, 1, 1}, []renderer.ResourceProxy{
					infoBuf.Resource(), passBuf.Resource(), keysIn.Resource(), hist.Resource(),
				})
				rec.Dispatch(arena, shaders.SortScan, [3]uint32{1, 1, 1}, []renderer.ResourceProxy{
					infoBuf.Resource(), hist.Resource(),
				})
				rec.Dispatch(arena, shaders.SortScatter, [3]uint32{numBlocks, 1, 1}, []renderer.ResourceProxy{
					infoBuf.Resource(),
					passBuf.Resource(),
					keysIn.Resource(),
					valuesIn.Resource(),
					hist.Resource(),
					keysOut.Resource(),
					valuesOut.Resource(),
				})
				keysIn, keysOut = keysOut, keysIn
				valuesIn, valuesOut = valuesOut, valuesIn
			}
			rec.Download(arena, keysIn)
			rec.Download(arena, valuesIn)
			eng.RunRecording(arena, &rec, nil, "sort", nil)

			gotKeys, ok := eng.GetDownload(keysIn)
			if !ok {
				t.Fatal("keys weren't downloaded")
			}
			gotValues, ok := eng.GetDownload(valuesIn)
			if !ok {
				t.Fatal("values weren't downloaded")
			}
			if diff := gocmp.Diff(wantKeys, safeish.SliceCast[[]uint64](gotKeys)); diff != "" {
				t.Errorf("unexpected keys (-want +got):\n%s", diff)
			}
			if diff := gocmp.Diff(wantValues, safeish.SliceCast[[]uint32](gotValues)); diff != "" {
				t.Errorf("unexpected values (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBindingMismatchPanics(t *testing.T) {
	eng := New(nil)
	defer eng.Close()
	arena := mem.NewArena()

	var rec renderer.Recording
	buf := renderer.NewBufferProxy(16, "buf")
	rec.Dispatch(arena, eng.fullShaders.SortScan, [3]uint32{1, 1, 1}, []renderer.ResourceProxy{buf.Resource()})

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for missing binding")
		}
	}()
	eng.RunRecording(arena, &rec, nil, "mismatch", nil)
}

func TestProfilerCollect(t *testing.T) {
	p := NewProfiler()

	g := p.Start(1)
	c := g.Nest("child")
	span := c.Begin("query")
	span.End()
	c.End()
	g.End()

	running := p.Start(2)

	res := p.Collect()
	if len(res) != 1 {
		t.Fatalf("got %d results, want 1", len(res))
	}
	if res[0].Tag != 1 {
		t.Errorf("got tag %d, want 1", res[0].Tag)
	}
	if len(res[0].Children) != 1 || res[0].Children[0].Label != "child" {
		t.Fatalf("unexpected children: %v", res[0].Children)
	}
	queries := res[0].Children[0].Queries
	if len(queries) != 1 || queries[0].Label != "query" || queries[0].End.Before(queries[0].Start) {
		t.Errorf("unexpected queries: %v", queries)
	}

	if res := p.Collect(); len(res) != 0 {
		t.Errorf("got %d results for running group, want 0", len(res))
	}
	running.End()
	res = p.Collect()
	if len(res) != 1 || res[0].Tag != 2 {
		t.Errorf("unexpected results after ending group: %v", res)
	}
}

func TestNopProfiler(t *testing.T) {
	p := NewNopProfiler()
	g := p.Start(1)
	g.Nest("child").Begin("query").End()
	g.Start("phase").End()
	g.End()
	if res := p.Collect(); res != nil {
		t.Errorf("nop profiler returned results: %v", res)
	}
}
