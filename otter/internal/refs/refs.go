// Copyright (C) 2026 The Otter Authors. All rights reserved.

// Package refs allocates the unique references used to identify regions,
// strings, locations and other traced entities.
package refs

import (
	"fmt"

	"go.uber.org/atomic"
)

// Kind selects one of the independent counters of an Allocator.
type Kind int

// reference kinds
const (
	Region Kind = iota
	String
	Location
	Other
)

var kindNames = map[Kind]string{
	Region:   "region",
	String:   "string",
	Location: "location",
	Other:    "other",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Allocator hands out monotonically increasing values per Kind. It is safe
// for concurrent use and never blocks. Each trace session owns one.
type Allocator struct {
	region   atomic.Uint32
	str      atomic.Uint32
	location atomic.Uint32
	other    atomic.Uint64
}

// NewAllocator returns an allocator whose counters all start at zero.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next returns the next value of the given kind. It panics on an unknown kind.
func (a *Allocator) Next(k Kind) uint64 {
	switch k {
	case Region:
		return uint64(a.NextRegion())
	case String:
		return uint64(a.NextString())
	case Location:
		return uint64(a.NextLocation())
	case Other:
		return a.NextID()
	default:
		panic(fmt.Sprintf("refs: unknown kind %d", int(k)))
	}
}

// NextRegion returns a fresh region reference.
func (a *Allocator) NextRegion() uint32 { return a.region.Inc() - 1 }

// NextString returns a fresh string reference.
func (a *Allocator) NextString() uint32 { return a.str.Inc() - 1 }

// NextLocation returns a fresh location reference.
func (a *Allocator) NextLocation() uint32 { return a.location.Inc() - 1 }

// NextID returns a fresh generic id, used for tasks, threads and parallel
// regions.
func (a *Allocator) NextID() uint64 { return a.other.Inc() - 1 }

// Peek reports the value the next call to Next(k) would return.
func (a *Allocator) Peek(k Kind) uint64 {
	switch k {
	case Region:
		return uint64(a.region.Load())
	case String:
		return uint64(a.str.Load())
	case Location:
		return uint64(a.location.Load())
	case Other:
		return a.other.Load()
	default:
		panic(fmt.Sprintf("refs: unknown kind %d", int(k)))
	}
}
