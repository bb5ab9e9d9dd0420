// Copyright (C) 2026 The Otter Authors. All rights reserved.

// Package strreg deduplicates label text into stable numeric string
// references and hands every distinct pair to a writer at teardown.
package strreg

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/coocood/freecache"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrRegistryDestroyed is returned by Insert once the registry has been
// flushed.
var ErrRegistryDestroyed = errors.New("Registry destroyed")

// freecache rejects keys longer than this
const maxCachedKeyLen = 65535

// Registry maps text to a string reference. All methods are safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	refs      map[string]uint32
	next      func() uint32
	cache     *freecache.Cache
	destroyed atomic.Bool
}

// Option customizes a Registry.
type Option func(*Registry)

// WithCacheSize puts a freecache front cache of the given size in bytes in
// front of the registry lock. A size of zero disables the cache.
func WithCacheSize(size int) Option {
	return func(r *Registry) {
		if size > 0 {
			r.cache = freecache.NewCache(size)
		} else {
			r.cache = nil
		}
	}
}

// New creates a registry which takes fresh references from next.
func New(next func() uint32, opts ...Option) *Registry {
	r := &Registry{
		refs: make(map[string]uint32),
		next: next,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert returns the reference for text, allocating one on first sight.
func (r *Registry) Insert(text string) (uint32, error) {
	if r.destroyed.Load() {
		return 0, ErrRegistryDestroyed
	}
	if ref, ok := r.cached(text); ok {
		return ref, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// re-check under the lock so Destroy cannot miss a late insert
	if r.destroyed.Load() {
		return 0, ErrRegistryDestroyed
	}
	ref, ok := r.refs[text]
	if !ok {
		ref = r.next()
		r.refs[text] = ref
		log.Debugf("string registry: %q -> %d", text, ref)
	}
	r.store(text, ref)
	return ref, nil
}

// MustInsert is Insert for callers that hold a live registry. It logs and
// returns ref 0 (the empty string) on error.
func (r *Registry) MustInsert(text string) uint32 {
	ref, err := r.Insert(text)
	if err != nil {
		log.Errorf("string registry: insert %q: %v", text, err)
		return 0
	}
	return ref
}

// Len returns the number of distinct strings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}

// ForEach calls fn for every pair in ascending reference order.
func (r *Registry) ForEach(fn func(text string, ref uint32)) {
	for _, e := range r.snapshot() {
		fn(e.text, e.ref)
	}
}

// Destroy walks the registry once, handing each pair to fn, and marks it
// destroyed. The first error from fn is returned after every pair has been
// visited.
func (r *Registry) Destroy(fn func(text string, ref uint32) error) error {
	r.mu.Lock()
	if r.destroyed.Swap(true) {
		r.mu.Unlock()
		return ErrRegistryDestroyed
	}
	entries := r.sortedLocked()
	r.refs = nil
	if r.cache != nil {
		r.cache.Clear()
	}
	r.mu.Unlock()

	var first error
	for _, e := range entries {
		if err := fn(e.text, e.ref); err != nil && first == nil {
			first = errors.Wrapf(err, "write string %d", e.ref)
		}
	}
	log.Debugf("string registry destroyed after writing %d strings", len(entries))
	return first
}

type entry struct {
	text string
	ref  uint32
}

func (r *Registry) snapshot() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []entry {
	entries := make([]entry, 0, len(r.refs))
	for text, ref := range r.refs {
		entries = append(entries, entry{text, ref})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ref < entries[j].ref })
	return entries
}

func (r *Registry) cached(text string) (uint32, bool) {
	if r.cache == nil || len(text) > maxCachedKeyLen {
		return 0, false
	}
	v, err := r.cache.Get([]byte(text))
	if err != nil || len(v) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

func (r *Registry) store(text string, ref uint32) {
	if r.cache == nil || len(text) > maxCachedKeyLen {
		return
	}
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], ref)
	if err := r.cache.Set([]byte(text), v[:], 0); err != nil {
		log.Debugf("string registry: cache set %q: %v", text, err)
	}
}
