// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package encoding

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/image/math/f32"
	"honnef.co/go/curve"
	"honnef.co/go/gsplat/jmath"
)

var approx = cmpopts.EquateApprox(0, 1e-5)

func TestEncodeEllipse(t *testing.T) {
	var enc Encoding
	enc.EncodeEllipse(curve.Point(curve.Vec(10, 20)), curve.Vec(2, 4), 0, [4]float32{1, 0.5, 0.25, 0.8}, 3, 7)

	if enc.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", enc.Len())
	}
	want := ProjectedSplat{
		XY:    f32.Vec2{10, 20},
		Conic: [3]float32{0.25, 0, 0.0625},
		Color: f32.Vec4{1, 0.5, 0.25, 0.8},
	}
	if diff := cmp.Diff(want, enc.Splats[0], approx, cmpopts.IgnoreUnexported(ProjectedSplat{})); diff != "" {
		t.Errorf("unexpected splat (-want +got):\n%s", diff)
	}
	if enc.Depths[0] != 3 || enc.GlobalIDs[0] != 7 {
		t.Errorf("depth, id = %v, %v, want 3, 7", enc.Depths[0], enc.GlobalIDs[0])
	}
}

func TestEncodeEllipseRotated(t *testing.T) {
	var enc Encoding
	// A circle is rotation invariant.
	enc.EncodeEllipse(curve.Point(curve.Vec(0, 0)), curve.Vec(3, 3), math.Pi/3, [4]float32{1, 1, 1, 1}, 0, 0)
	got := enc.Splats[0].Conic
	want := [3]float32{1.0 / 9, 0, 1.0 / 9}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("unexpected conic (-want +got):\n%s", diff)
	}
}

func TestAppendTransform(t *testing.T) {
	var src Encoding
	src.EncodeSplat(ProjectedSplat{
		XY:    f32.Vec2{1, 2},
		Conic: [3]float32{1, 0.5, 2},
		Color: f32.Vec4{1, 1, 1, 1},
	}, 5, 11)

	var dst Encoding
	dst.Append(&src, jmath.Identity)
	dst.Append(&src, jmath.Scale(2).Mul(jmath.Translate(1, 1)))

	if dst.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", dst.Len())
	}
	if diff := cmp.Diff(src.Splats[0], dst.Splats[0], cmpopts.IgnoreUnexported(ProjectedSplat{})); diff != "" {
		t.Errorf("identity append changed splat (-want +got):\n%s", diff)
	}
	got := dst.Splats[1]
	if diff := cmp.Diff(f32.Vec2{4, 6}, got.XY, approx); diff != "" {
		t.Errorf("unexpected center (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([3]float32{0.25, 0.125, 0.5}, got.Conic, approx); diff != "" {
		t.Errorf("unexpected conic (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{5, 5}, dst.Depths); diff != "" {
		t.Errorf("unexpected depths (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{11, 11}, dst.GlobalIDs); diff != "" {
		t.Errorf("unexpected global IDs (-want +got):\n%s", diff)
	}
}

func TestAppendMixedGlobalIDs(t *testing.T) {
	withoutIDs := func() *Encoding {
		return &Encoding{
			Splats: make([]ProjectedSplat, 2),
			Depths: []float32{1, 2},
		}
	}
	withIDs := func() *Encoding {
		var enc Encoding
		enc.EncodeSplat(ProjectedSplat{}, 3, 40)
		return &enc
	}

	tests := []struct {
		name string
		dst  *Encoding
		src  *Encoding
		want []uint32
	}{
		{"into encoding without IDs", withoutIDs(), withIDs(), []uint32{0, 1, 40}},
		{"from encoding without IDs", withIDs(), withoutIDs(), []uint32{40, 1, 2}},
		{"neither has IDs", withoutIDs(), withoutIDs(), nil},
		{"into empty encoding", &Encoding{}, withIDs(), []uint32{40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.dst.Append(tt.src, jmath.Identity)
			if diff := cmp.Diff(tt.want, tt.dst.GlobalIDs); diff != "" {
				t.Errorf("unexpected global IDs (-want +got):\n%s", diff)
			}
			if ids := len(tt.dst.GlobalIDs); ids != 0 && ids != tt.dst.Len() {
				t.Errorf("got %d global IDs for %d splats", ids, tt.dst.Len())
			}
		})
	}
}

func TestReset(t *testing.T) {
	var enc Encoding
	enc.EncodeSplat(ProjectedSplat{}, 0, 0)
	enc.Reset()
	if !enc.IsEmpty() {
		t.Errorf("encoding not empty after reset")
	}
	if got := enc.StreamOffsets(); got != (StreamOffsets{}) {
		t.Errorf("StreamOffsets() = %+v, want zero", got)
	}
}
