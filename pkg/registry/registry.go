// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds agent factories and instances and indexes them by
// capability. The capability index is an immutable snapshot replaced
// wholesale on reload, so lookups never take a lock.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/jllopis/telos/pkg/capability"
	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/errors"
	"github.com/jllopis/telos/pkg/model"
)

// Config carries per-instantiation settings into a constructor.
type Config struct {
	Name     string
	Provider model.Provider
	Model    string
}

// Constructor builds an agent instance from a config.
type Constructor func(cfg Config) (core.Agent, error)

// Entry describes one registered agent factory.
type Entry struct {
	ID           string
	Constructor  Constructor
	Capabilities capability.Set
}

// index maps capabilities to agent ids in registration order. It is never
// mutated after construction; readers load it atomically.
type index struct {
	byCapability map[capability.Capability][]string
	order        []Entry
	byID         map[string]Entry
}

func buildIndex(entries []Entry) *index {
	idx := &index{
		byCapability: make(map[capability.Capability][]string),
		order:        entries,
		byID:         make(map[string]Entry, len(entries)),
	}
	for _, e := range entries {
		idx.byID[e.ID] = e
		for _, c := range capability.All() {
			if e.Capabilities.Contains(c) {
				idx.byCapability[c] = append(idx.byCapability[c], e.ID)
			}
		}
	}
	return idx
}

// Registry creates and holds agent instances for process lifetime.
type Registry struct {
	idx atomic.Pointer[index]

	mu      sync.Mutex
	entries []Entry
	agents  map[string]core.Agent
	sealed  bool
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{agents: make(map[string]core.Agent)}
	r.idx.Store(buildIndex(nil))
	return r
}

// Register adds a factory entry. Registration happens during initialization;
// after Seal, only Reload can change the set.
func (r *Registry) Register(id string, ctor Constructor, caps capability.Set) error {
	if id == "" {
		return errors.New(errors.KindInvalidInput, "agent id is required", nil)
	}
	if ctor == nil {
		return errors.New(errors.KindInvalidInput, "constructor is required", nil)
	}
	if len(caps) == 0 {
		return errors.New(errors.KindInvalidInput, "agent requires at least one capability", nil).
			WithContext("agent_id", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.New(errors.KindInternal, "registry is sealed; use Reload", nil)
	}
	if _, dup := r.idx.Load().byID[id]; dup {
		return errors.New(errors.KindInvalidInput, "duplicate agent id", nil).
			WithContext("agent_id", id)
	}

	r.entries = append(r.entries, Entry{ID: id, Constructor: ctor, Capabilities: caps})
	r.idx.Store(buildIndex(r.entries))
	return nil
}

// Seal marks initialization as finished. Subsequent Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Reload replaces the whole factory set atomically. Existing agent
// instances for ids that survive the reload are kept; the rest are dropped.
func (r *Registry) Reload(entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.Constructor == nil || len(e.Capabilities) == 0 {
			return errors.New(errors.KindInvalidInput, "invalid reload entry", nil).
				WithContext("agent_id", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return errors.New(errors.KindInvalidInput, "duplicate agent id in reload", nil).
				WithContext("agent_id", e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append([]Entry(nil), entries...)
	for id := range r.agents {
		if _, ok := seen[id]; !ok {
			delete(r.agents, id)
		}
	}
	r.idx.Store(buildIndex(r.entries))
	return nil
}

// Create instantiates the agent registered under id, caching the instance
// for process lifetime. Unknown ids fail with KindUnknownAgentType.
func (r *Registry) Create(id string, cfg Config) (core.Agent, error) {
	entry, ok := r.idx.Load().byID[id]
	if !ok {
		return nil, errors.New(errors.KindUnknownAgentType, "no agent registered under id", nil).
			WithContext("agent_id", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, cached := r.agents[id]; cached {
		return a, nil
	}
	a, err := entry.Constructor(cfg)
	if err != nil {
		return nil, errors.New(errors.KindInternal, "agent constructor failed", err).
			WithContext("agent_id", id)
	}
	r.agents[id] = a
	return a, nil
}

// Agent returns an already-instantiated agent.
func (r *Registry) Agent(id string) (core.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	return a, ok
}

// FindByCapability returns the ids of agents whose declared capability set
// contains c, in registration order. Ties are never re-ranked.
func (r *Registry) FindByCapability(c capability.Capability) []string {
	ids := r.idx.Load().byCapability[c]
	return append([]string(nil), ids...)
}

// List returns a read-only snapshot of all registered descriptors in
// registration order.
func (r *Registry) List() []core.Descriptor {
	idx := r.idx.Load()
	out := make([]core.Descriptor, 0, len(idx.order))

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range idx.order {
		name := e.ID
		if a, ok := r.agents[e.ID]; ok {
			name = a.Name()
		}
		out = append(out, core.Descriptor{ID: e.ID, Name: name, Capabilities: e.Capabilities})
	}
	return out
}
