// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"time"

	"honnef.co/go/gsplat/profiler"
)

// Profiler records wall-clock timings of frames, their nested phases and the
// dispatches they run. A nil *Profiler is valid and records nothing.
type Profiler struct {
	// started groups that haven't been collected yet
	groups []*ProfilerGroup
	// free list of profiler groups
	freeGroups []*ProfilerGroup
	// free list of profiler results
	results []ProfilerResult
}

func NewProfiler() *Profiler {
	return &Profiler{}
}

func NewNopProfiler() *Profiler {
	return nil
}

// Start starts a new top-level group, usually one per frame.
func (p *Profiler) Start(tag uint64) *ProfilerGroup {
	if p == nil {
		return nil
	}

	g := p.getGroup()
	g.profiler = p
	g.Tag = tag
	g.cpuStart = time.Now()
	p.groups = append(p.groups, g)
	return g
}

func (p *Profiler) getGroup() *ProfilerGroup {
	if len(p.freeGroups) > 0 {
		g := p.freeGroups[len(p.freeGroups)-1]
		p.freeGroups = p.freeGroups[:len(p.freeGroups)-1]
		clear(g.children)
		g.children = g.children[:0]
		g.queries = g.queries[:0]
		g.Label = ""
		g.Tag = 0
		g.cpuEnd = time.Time{}
		g.parent = nil
		return g
	} else {
		return &ProfilerGroup{}
	}
}

type ProfilerGroup struct {
	Tag      uint64
	Label    string
	cpuStart time.Time
	cpuEnd   time.Time
	children []*ProfilerGroup
	queries  []ProfilerQuery
	profiler *Profiler
	parent   *ProfilerGroup
}

func (g *ProfilerGroup) End() {
	if g == nil {
		return
	}

	if !g.cpuEnd.IsZero() {
		panic("trying to end same group twice")
	}
	g.cpuEnd = time.Now()
}

// Start implements profiler.ProfilerGroup.
func (g *ProfilerGroup) Start(label string) profiler.ProfilerGroup {
	if g == nil {
		return (*ProfilerGroup)(nil)
	}
	return g.Nest(label)
}

func (g *ProfilerGroup) Nest(label string) *ProfilerGroup {
	if g == nil {
		return nil
	}
	cg := g.profiler.getGroup()
	cg.profiler = g.profiler
	cg.Label = label
	cg.cpuStart = time.Now()
	cg.parent = g
	g.children = append(g.children, cg)
	return cg
}

type ProfilerQuery struct {
	Label string
	Start time.Time
	End   time.Time
}

// Begin starts timing a single operation, such as a dispatch.
func (g *ProfilerGroup) Begin(label string) ProfilerSpan {
	if g == nil {
		return ProfilerSpan{}
	}
	g.queries = append(g.queries, ProfilerQuery{
		Label: label,
		Start: time.Now(),
	})
	return ProfilerSpan{
		group: g,
		index: len(g.queries) - 1,
	}
}

type ProfilerSpan struct {
	group *ProfilerGroup
	index int
}

func (span ProfilerSpan) End() {
	if span.group == nil {
		return
	}
	span.group.queries[span.index].End = time.Now()
}

type ProfilerResult struct {
	Tag      uint64
	Label    string
	CPUStart time.Time
	CPUEnd   time.Time
	Queries  []ProfilerQuery
	Children []ProfilerResult
}

func (res *ProfilerResult) Duration() time.Duration {
	return res.CPUEnd.Sub(res.CPUStart)
}

// Walk calls fn for res and all of its descendants, depth first. depth is 0
// for res.
func (res *ProfilerResult) Walk(fn func(res *ProfilerResult, depth int)) {
	var walk func(res *ProfilerResult, depth int)
	walk = func(res *ProfilerResult, depth int) {
		fn(res, depth)
		for i := range res.Children {
			walk(&res.Children[i], depth+1)
		}
	}
	walk(res, 0)
}

func (p *Profiler) populateResult(g *ProfilerGroup, res *ProfilerResult) {
	// Don't use *res = ProfilerResult{...} so that we reuse res.Children and
	// res.Queries.
	res.Tag = g.Tag
	res.Label = g.Label
	res.CPUStart = g.cpuStart
	res.CPUEnd = g.cpuEnd
	res.Queries = append(res.Queries[:0], g.queries...)
	if cap(res.Children) >= len(g.children) {
		res.Children = res.Children[:len(g.children)]
	} else {
		res.Children = make([]ProfilerResult, len(g.children))
	}
	for ci, c := range g.children {
		p.populateResult(c, &res.Children[ci])
	}
}

// Collect returns the results of all top-level groups that have ended, in
// order of creation. It stops at the first group that is still running. The
// return value is only valid until the next call to Collect.
func (p *Profiler) Collect() []ProfilerResult {
	if p == nil {
		return nil
	}
	out := p.results[:0]

	var returnGroups func(gs ...*ProfilerGroup)
	returnGroups = func(gs ...*ProfilerGroup) {
		p.freeGroups = append(p.freeGroups, gs...)
		for _, g := range gs {
			returnGroups(g.children...)
		}
	}

	n := 0
	for _, g := range p.groups {
		if g.cpuEnd.IsZero() {
			break
		}
		if cap(out) > len(out) {
			out = out[:len(out)+1]
		} else {
			out = append(out, ProfilerResult{})
		}
		p.populateResult(g, &out[len(out)-1])
		n++
	}
	returnGroups(p.groups[:n]...)
	copy(p.groups, p.groups[n:])
	clear(p.groups[len(p.groups)-n:])
	p.groups = p.groups[:len(p.groups)-n]
	p.results = out[:0]
	return out
}
