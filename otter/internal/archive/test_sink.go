// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"sync"

	"github.com/pkg/errors"
)

// TestSink keeps everything written to it in memory for making assertions in
// tests. It is safe for concurrent use.
type TestSink struct {
	mu sync.Mutex

	Strings        map[uint32]string
	AttributeDefs  []AttributeDef
	LocationGroups []LocationGroupDef
	LocationDefs   []LocationDef
	RegionDefs     []RegionDef
	Events         map[uint32][]Event
	Properties     map[string]string
	Clock          ClockProperties
	Closed         bool

	// ShouldError makes every event write fail.
	ShouldError bool
	// OnRegionDef is called for every region definition, under the sink lock.
	OnRegionDef func(RegionDef)
}

// errTestSink is returned for writes when ShouldError is set
var errTestSink = errors.New("test sink error")

// TestSinkOption values may be passed to NewTestSink.
type TestSinkOption func(*TestSink)

// TestSinkShouldError makes event writes fail.
func TestSinkShouldError(val bool) TestSinkOption {
	return func(s *TestSink) { s.ShouldError = val }
}

// TestSinkOnRegionDef registers a hook observing region definitions.
func TestSinkOnRegionDef(fn func(RegionDef)) TestSinkOption {
	return func(s *TestSink) { s.OnRegionDef = fn }
}

// NewTestSink returns an empty in-memory sink.
func NewTestSink(options ...TestSinkOption) *TestSink {
	s := &TestSink{
		Strings:    make(map[uint32]string),
		Events:     make(map[uint32][]Event),
		Properties: make(map[string]string),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *TestSink) check() error {
	if s.Closed {
		return ErrArchiveClosed
	}
	return nil
}

func (s *TestSink) WriteStringDef(ref uint32, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if old, ok := s.Strings[ref]; ok && old != text {
		return errors.Errorf("string %d redefined: %q then %q", ref, old, text)
	}
	s.Strings[ref] = text
	return nil
}

func (s *TestSink) WriteAttributeDef(d AttributeDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.AttributeDefs = append(s.AttributeDefs, d)
	return nil
}

func (s *TestSink) WriteLocationGroupDef(d LocationGroupDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.LocationGroups = append(s.LocationGroups, d)
	return nil
}

func (s *TestSink) WriteLocationDef(d LocationDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.LocationDefs = append(s.LocationDefs, d)
	return nil
}

func (s *TestSink) WriteRegionDef(d RegionDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.RegionDefs = append(s.RegionDefs, d)
	if s.OnRegionDef != nil {
		s.OnRegionDef(d)
	}
	return nil
}

func (s *TestSink) WriteClockProperties(c ClockProperties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clock = c
	return s.check()
}

func (s *TestSink) SetProperty(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.Properties[key] = value
	return nil
}

func (s *TestSink) EventWriter(location uint32) (EventWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	return &testEventWriter{sink: s, location: location}, nil
}

func (s *TestSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.Closed = true
	return nil
}

// RegionDefCount returns how many times the region ref was defined.
func (s *TestSink) RegionDefCount(ref uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.RegionDefs {
		if d.Ref == ref {
			n++
		}
	}
	return n
}

// NumRegionDefs returns the number of region definitions written.
func (s *TestSink) NumRegionDefs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.RegionDefs)
}

// Trace returns a copy of the recorded data in the same shape Read returns.
func (s *TestSink) Trace() *Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newTrace("")
	for ref, text := range s.Strings {
		t.Strings[ref] = text
	}
	for _, d := range s.AttributeDefs {
		t.Attributes[d.Ref] = d
	}
	for _, d := range s.LocationGroups {
		t.LocationGroups[d.Ref] = d
	}
	for _, d := range s.LocationDefs {
		t.Locations[d.Ref] = d
	}
	for _, d := range s.RegionDefs {
		t.Regions[d.Ref] = d
	}
	for loc, events := range s.Events {
		t.Events[loc] = append([]Event(nil), events...)
	}
	t.Anchor.Clock = s.Clock
	t.Anchor.Properties = make(map[string]string, len(s.Properties))
	for k, v := range s.Properties {
		t.Anchor.Properties[k] = v
	}
	return t
}

type testEventWriter struct {
	sink     *TestSink
	location uint32
}

func (w *testEventWriter) WriteEvent(e *Event) error {
	s := w.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.ShouldError {
		return errTestSink
	}
	cp := *e
	cp.Attributes = append(cp.Attributes[:0:0], e.Attributes...)
	s.Events[w.location] = append(s.Events[w.location], cp)
	return nil
}
