// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command splatbench renders a random scene of splats and reports binning
// statistics and timings.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"
	"honnef.co/go/curve"
	"honnef.co/go/gsplat"
	"honnef.co/go/gsplat/encoding"
	"honnef.co/go/gsplat/engine/cpu_engine"
	"honnef.co/go/gsplat/renderer"
)

func main() {
	var (
		width   uint
		height  uint
		splats  int
		frames  int
		workers int
		seed    uint64
		maxSize float64
		format  string
		out     string
		scale   int
		profile bool
		verbose bool
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.UintVar(&width, "width", 1280, "Image width in pixels")
	flag.UintVar(&height, "height", 720, "Image height in pixels")
	flag.IntVar(&splats, "n", 100_000, "Number of splats")
	flag.IntVar(&frames, "frames", 10, "Number of frames to render")
	flag.IntVar(&workers, "workers", 0, "Number of worker goroutines, 0 for GOMAXPROCS")
	flag.Uint64Var(&seed, "seed", 1, "Random seed")
	flag.Float64Var(&maxSize, "size", 6, "Largest standard deviation of a splat, in pixels")
	flag.StringVar(&format, "format", "rgba32f", "Output `format`: rgba8, rgba16f or rgba32f")
	flag.StringVar(&out, "o", "", "Write the last frame to `file` as sRGB PNG")
	flag.IntVar(&scale, "scale", 1, "Integer upscaling `factor` of the PNG")
	flag.BoolVar(&profile, "profile", false, "Print per-dispatch timings of the last frame")
	flag.BoolVar(&verbose, "v", false, "Be verbose")
	flag.Parse()

	if len(flag.Args()) != 0 || frames < 1 || scale < 1 {
		flag.Usage()
		os.Exit(2)
	}

	dief := func(f string, v ...any) {
		fmt.Fprintf(os.Stderr, f, v...)
		fmt.Fprintln(os.Stderr)
		os.Exit(1)
	}

	if verbose {
		gsplat.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	params := gsplat.DefaultRenderParams(uint32(width), uint32(height))
	switch format {
	case "rgba8":
		params.Format = renderer.Rgba8
	case "rgba16f":
		params.Format = renderer.Rgba16Float
	case "rgba32f":
		params.Format = renderer.Rgba32Float
	default:
		dief("Unknown format %q", format)
	}

	enc := randomScene(seed, splats, float64(width), float64(height), maxSize)
	r := gsplat.New(&gsplat.Options{
		Workers: workers,
		Profile: profile,
	})
	defer r.Close()

	var (
		frame *gsplat.Frame
		total time.Duration
		best  time.Duration
	)
	for i := range frames {
		t := time.Now()
		var err error
		frame, err = r.Render(enc, &params)
		if err != nil {
			dief("Couldn't render: %s", err)
		}
		d := time.Since(t)
		total += d
		if i == 0 || d < best {
			best = d
		}
		if i != frames-1 {
			// Only keep the timings of the last frame.
			r.ProfilerResults()
		}
	}

	stats := frame.Stats
	fmt.Printf("splats:         %d\n", stats.NumVisible)
	fmt.Printf("intersections:  %d (capacity %d)\n", stats.Total, stats.Capacity)
	if stats.Overflow {
		fmt.Printf("                %d dropped\n", stats.Total-stats.NumIntersections)
	}
	fmt.Printf("non-empty tiles: %d of %d\n", stats.NonEmptyTiles, len(frame.TileRanges))
	var deepest uint32
	for _, d := range frame.TileDepth() {
		deepest = max(deepest, d)
	}
	fmt.Printf("deepest tile:   %d\n", deepest)
	fmt.Printf("frame time:     %s mean, %s best\n", total/time.Duration(frames), best)

	if profile {
		for _, res := range r.ProfilerResults() {
			res.Walk(func(res *cpu_engine.ProfilerResult, depth int) {
				indent := strings.Repeat("  ", depth)
				label := res.Label
				if depth == 0 {
					label = fmt.Sprintf("frame %d", res.Tag)
				}
				fmt.Printf("%s%s: %s\n", indent, label, res.Duration())
				for _, q := range res.Queries {
					fmt.Printf("%s  %s: %s\n", indent, q.Label, q.End.Sub(q.Start))
				}
			})
		}
	}

	if out != "" {
		if err := writePNG(out, frame, scale); err != nil {
			dief("Couldn't write image: %s", err)
		}
	}
}

func randomScene(seed uint64, n int, width, height, maxSize float64) *encoding.Encoding {
	rng := rand.New(rand.NewPCG(seed, seed))
	var enc encoding.Encoding
	for i := range n {
		center := curve.Point{X: rng.Float64() * width, Y: rng.Float64() * height}
		radii := curve.Vec2{
			X: 0.5 + rng.Float64()*(maxSize-0.5),
			Y: 0.5 + rng.Float64()*(maxSize-0.5),
		}
		rgba := [4]float32{rng.Float32(), rng.Float32(), rng.Float32(), 0.1 + 0.9*rng.Float32()}
		enc.EncodeEllipse(center, radii, rng.Float64()*math.Pi, rgba, rng.Float32()*100, uint32(i))
	}
	return &enc
}

func writePNG(path string, frame *gsplat.Frame, scale int) error {
	var img image.Image = frame.SRGBA()
	if scale > 1 {
		b := img.Bounds()
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
		xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		img = dst
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
