package partition

import (
	"context"
	"sync"

	"github.com/roach88/tapestore/internal/schema"
)

// Registry hands out one open Partition per partition id.
type Registry struct {
	opts    schema.Options
	options []Option

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	once sync.Once
	p    *Partition
	err  error
}

// NewRegistry creates a registry whose partitions share opts and options.
func NewRegistry(opts schema.Options, options ...Option) *Registry {
	return &Registry{
		opts:    opts,
		options: options,
		entries: make(map[string]*registryEntry),
	}
}

// Open returns the open partition for id, opening it on first use. An empty
// id means the master partition. Concurrent first calls for the same id share
// one open attempt. A failed attempt is forgotten so a later call can try
// again.
func (r *Registry) Open(ctx context.Context, id string) (*Partition, error) {
	if id == "" {
		id = schema.DefaultPartition
	}

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &registryEntry{}
		r.entries[id] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		p := New(id, r.opts, r.options...)
		if err := p.Open(ctx); err != nil {
			e.err = err
			return
		}
		e.p = p
	})
	if e.err != nil {
		r.mu.Lock()
		if r.entries[id] == e {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		return nil, e.err
	}
	return e.p, nil
}

// Close closes every partition and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		// Wait for an in-flight open.
		e.once.Do(func() {})
		if e.p == nil {
			continue
		}
		if err := e.p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
