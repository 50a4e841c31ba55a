// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu_engine executes renderer recordings on the CPU.
package cpu_engine

import (
	"reflect"

	"honnef.co/go/gsplat/encoding"
	"honnef.co/go/gsplat/engine/cpu_engine/shaders"
	"honnef.co/go/gsplat/mem"
	"honnef.co/go/gsplat/renderer"
)

type Options struct {
	// Number of goroutines that run workgroups. Zero selects GOMAXPROCS.
	Workers int
	// Upper limit on the number of splat-tile intersections of a frame.
	// Zero selects renderer.DefaultMaxIntersections.
	MaxIntersections uint32
}

var bindTypeMapping = [...]renderer.BindType{
	shaders.Buffer:      {Type: renderer.BindTypeBuffer},
	shaders.BufReadOnly: {Type: renderer.BindTypeBufReadOnly},
	shaders.Uniform:     {Type: renderer.BindTypeUniform},
	shaders.Image:       {Type: renderer.BindTypeImage},
	shaders.ImageRead:   {Type: renderer.BindTypeImageRead},
}

func New(options *Options) *Engine {
	if options == nil {
		options = &Options{}
	}
	return newEngine(options)
}

func (eng *Engine) newFullShaders() *renderer.FullShaders {
	var out renderer.FullShaders
	outV := reflect.ValueOf(&out).Elem()
	v := reflect.ValueOf(&shaders.Collection)
	for i := range v.Elem().NumField() {
		fieldName := v.Elem().Type().Field(i).Name
		outField := outV.FieldByName(fieldName)
		if !outField.IsValid() {
			continue
		}
		shader := v.Elem().Field(i).Addr().Interface().(*shaders.ComputeShader)
		bindings := make([]renderer.BindType, len(shader.Bindings))
		for i, b := range shader.Bindings {
			bindings[i] = bindTypeMapping[b]
		}
		id := eng.addShader(shader.Name, shader.WorkgroupSize, bindings, shader.CPU)
		outField.Set(reflect.ValueOf(id))
	}
	return &out
}

// RenderToImage renders enc into pixels, which must hold
// renderer.ImageSizeInBytes(params.Width, params.Height, params.Format)
// bytes. The other outputs of the frame are available as downloads until
// they're freed with FreeDownload.
func (eng *Engine) RenderToImage(
	arena *mem.Arena,
	enc *encoding.Encoding,
	pixels []byte,
	params *renderer.RenderParams,
	pgroup *ProfilerGroup,
) renderer.Outputs {
	pgroup = pgroup.Nest("RenderToImage")
	defer pgroup.End()

	recording, outputs := eng.renderer.RenderFull(arena, enc, eng.resolver, eng.fullShaders, params, pgroup)

	externalResources := []ExternalResource{
		ExternalImage{
			Proxy:  outputs.Image,
			Pixels: pixels,
		},
	}
	eng.RunRecording(arena, &recording, externalResources, "render_to_image", pgroup)
	return outputs
}
