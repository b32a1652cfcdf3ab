// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability defines the closed taxonomy of task capabilities and
// set operations over it. The taxonomy is fixed at build time; adding a tag
// is a deployment concern, never a runtime one.
package capability

import (
	"fmt"
	"sort"
	"strings"
)

// Capability tags a category of work an agent can perform.
type Capability string

const (
	CodeAnalysis        Capability = "code-analysis"
	Debugging           Capability = "debugging"
	Repair              Capability = "repair"
	PerformanceAnalysis Capability = "performance-analysis"
	TestGeneration      Capability = "test-generation"
	Research            Capability = "research"
	VisualAnalysis      Capability = "visual-analysis"
	SpeechAnalysis      Capability = "speech-analysis"
	StrategicPlanning   Capability = "strategic-planning"
	BrandAnalysis       Capability = "brand-analysis"
	ImageGeneration     Capability = "image-generation"

	// General is the designated fallback when classification resolves nothing
	// more specific.
	General Capability = "general"
)

// All returns every capability in the taxonomy in stable order.
func All() []Capability {
	return []Capability{
		CodeAnalysis,
		Debugging,
		Repair,
		PerformanceAnalysis,
		TestGeneration,
		Research,
		VisualAnalysis,
		SpeechAnalysis,
		StrategicPlanning,
		BrandAnalysis,
		ImageGeneration,
		General,
	}
}

var taxonomy = func() map[Capability]struct{} {
	m := make(map[Capability]struct{}, len(All()))
	for _, c := range All() {
		m[c] = struct{}{}
	}
	return m
}()

// Valid reports whether c belongs to the taxonomy.
func Valid(c Capability) bool {
	_, ok := taxonomy[c]
	return ok
}

// Parse normalizes and validates a capability tag.
func Parse(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return "", fmt.Errorf("capability is empty")
	}
	if !Valid(c) {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// Set is an unordered collection of capabilities.
type Set map[Capability]struct{}

// NewSet builds a set from the given capabilities. Tags outside the taxonomy
// are rejected.
func NewSet(caps ...Capability) (Set, error) {
	s := make(Set, len(caps))
	for _, c := range caps {
		if !Valid(c) {
			return nil, fmt.Errorf("unknown capability %q", c)
		}
		s[c] = struct{}{}
	}
	return s, nil
}

// MustSet is NewSet for static declarations; it panics on an unknown tag.
func MustSet(caps ...Capability) Set {
	s, err := NewSet(caps...)
	if err != nil {
		panic(err)
	}
	return s
}

// Contains reports membership.
func (s Set) Contains(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Union returns a new set with members of both sets.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Intersect returns a new set with members present in both sets.
func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for c := range s {
		if other.Contains(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

// List returns the members sorted lexically for stable display.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as plain strings.
func (s Set) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = string(c)
	}
	return out
}
