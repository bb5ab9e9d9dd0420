// Copyright (C) 2026 The Otter Authors. All rights reserved.

// Package trace implements the region-lifecycle engine: regions, locations,
// tasks and the session that owns the archive they are recorded into.
//
// A Session is created per trace. Adapters create one Location per executing
// goroutine and drive it with Enter, Leave, TaskCreate and TaskSwitch. Region
// definitions are written lazily: regions created inside a parallel region
// are collected on the location and handed to the parallel region when the
// location leaves it, and the last location to leave writes them all under
// the session's definition lock.
//
// Protocol violations (leaving with no open region, a kind mismatch, a nil
// region or a second destroy) panic with a *ProtocolError.
package trace

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/otter-trace/otter-go/otter/internal/config"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/otter-trace/otter-go/otter/internal/refs"
	"github.com/otter-trace/otter-go/otter/internal/strreg"
	"github.com/otter-trace/otter-go/otter/internal/utils"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// task-switch recording modes
const (
	SwitchDiscrete = config.TaskSwitchDiscrete
	SwitchPair     = config.TaskSwitchPair
)

// EventModelProperty is the archive property naming the event model.
const EventModelProperty = "OTTER::EVENT_MODEL"

// Session owns everything one trace shares: the reference allocator, the
// string registry, the archive sink and the lock serializing definition
// writes.
type Session struct {
	cfg      *config.Config
	sink     archive.Sink
	dir      string
	refs     *refs.Allocator
	strings  *strreg.Registry
	labels   *attr.LabelTable
	clock    func() uint64
	epoch    uint64
	dropped  atomic.Uint64
	closed   atomic.Bool
	defMu    sync.Mutex
	defFails atomic.Uint64

	switchMode  string
	eventModel  string
	destroyHook func(*Region)
	cacheSize   int

	mu        sync.Mutex
	locations map[uint32]*Location
	parked    map[*Region]struct{}
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithTaskSwitchMode selects SwitchDiscrete or SwitchPair recording.
func WithTaskSwitchMode(mode string) SessionOption {
	return func(s *Session) { s.switchMode = mode }
}

// WithDestroyHook registers fn to be called whenever a region is destroyed.
// A parallel region's children are reported under the definition lock.
func WithDestroyHook(fn func(*Region)) SessionOption {
	return func(s *Session) { s.destroyHook = fn }
}

// WithClock replaces the timestamp source. Timestamps are nanoseconds.
func WithClock(clock func() uint64) SessionOption {
	return func(s *Session) { s.clock = clock }
}

// WithEventModel records the adapter's event model in the archive.
func WithEventModel(model string) SessionOption {
	return func(s *Session) { s.eventModel = model }
}

// WithConfig attaches the configuration the session was opened with.
func WithConfig(cfg *config.Config) SessionOption {
	return func(s *Session) {
		s.cfg = cfg
		s.cacheSize = cfg.GetStringCacheSize()
	}
}

func monotonicClock() func() uint64 {
	start := time.Now()
	base := uint64(start.UnixNano())
	return func() uint64 { return base + uint64(time.Since(start)) }
}

// Open creates the archive described by cfg and returns a session writing
// into it. An event model given in opts takes precedence over cfg's.
func Open(cfg *config.Config, opts ...SessionOption) (*Session, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	opts = append([]SessionOption{
		WithConfig(cfg),
		WithEventModel(cfg.GetEventModel()),
		WithTaskSwitchMode(cfg.GetTaskSwitchMode()),
	}, opts...)
	resolved := &Session{}
	for _, opt := range opts {
		opt(resolved)
	}

	o := archive.Options{
		Path:          cfg.GetTracePath(),
		Name:          archive.ArchiveName(cfg.GetTraceName(), cfg.GetAppendHostname()),
		EventModel:    resolved.eventModel,
		Format:        cfg.GetFormat(),
		CopyMemoryMap: cfg.GetCopyMemoryMap(),
		BatchSize:     cfg.GetBatchSize(),
	}
	sink, err := archive.Open(o)
	if err != nil {
		return nil, errors.Wrap(err, "open trace session")
	}
	s, err := NewSession(sink, opts...)
	if err != nil {
		sink.Close()
		return nil, err
	}
	s.dir = o.Dir()
	return s, nil
}

// NewSession starts a session writing into sink. It writes the clock
// properties, the location group, the attribute definitions and the event
// model property.
func NewSession(sink archive.Sink, opts ...SessionOption) (*Session, error) {
	s := &Session{
		sink:       sink,
		refs:       refs.NewAllocator(),
		switchMode: SwitchDiscrete,
		eventModel: config.EventModelTaskGraph,
		locations:  make(map[uint32]*Location),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = monotonicClock()
	}
	if s.switchMode != SwitchDiscrete && s.switchMode != SwitchPair {
		log.Warningf("unknown task switch mode %q, using %s", s.switchMode, SwitchDiscrete)
		s.switchMode = SwitchDiscrete
	}
	var regOpts []strreg.Option
	if s.cacheSize > 0 {
		regOpts = append(regOpts, strreg.WithCacheSize(s.cacheSize))
	}
	s.strings = strreg.New(s.refs.NextString, regOpts...)

	if err := s.init(); err != nil {
		return nil, errors.Wrap(err, "initialise trace session")
	}
	log.Infof("trace session started: model=%s switch=%s", s.eventModel, s.switchMode)
	return s, nil
}

func (s *Session) init() error {
	s.epoch = s.clock()
	if err := s.sink.WriteClockProperties(archive.ClockProperties{
		TicksPerSecond: uint64(time.Second),
		Epoch:          s.epoch,
		Length:         ^uint64(0),
	}); err != nil {
		return err
	}

	// "" and the version take string refs 0 and 1
	for _, text := range []string{"", utils.VersionString()} {
		if _, err := s.strings.Insert(text); err != nil {
			return err
		}
	}

	labels, err := attr.NewLabelTable(s.strings.Insert)
	if err != nil {
		return err
	}
	s.labels = labels

	group, prop := eventModelNames(s.eventModel)
	name, err := s.strings.Insert(group)
	if err != nil {
		return err
	}
	if err := s.sink.WriteLocationGroupDef(archive.LocationGroupDef{Ref: 0, Name: name}); err != nil {
		return err
	}
	for _, k := range attr.Keys() {
		def := archive.AttributeDef{
			Ref:  uint32(k),
			Name: labels.NameRef(k),
			Desc: labels.DescRef(k),
			Type: k.Type(),
		}
		if err := s.sink.WriteAttributeDef(def); err != nil {
			return err
		}
	}
	return s.sink.SetProperty(EventModelProperty, prop)
}

// eventModelNames returns the location group name and property value of an
// event model.
func eventModelNames(model string) (group, property string) {
	switch model {
	case config.EventModelOMP:
		return "OMP Process", "OMP"
	case config.EventModelSerial:
		return "Serial Process", "OMP"
	case config.EventModelTaskGraph:
		return "Task-graph Process", "TASKGRAPH"
	}
	return "Process", "UNKNOWN"
}

func (s *Session) now() uint64 { return s.clock() }

// defError logs a failed definition write. The caller holds defMu.
func (s *Session) defError(err error, format string, args ...interface{}) {
	s.defFails.Inc()
	log.Errorf("failed to write definition of %s: %v", fmt.Sprintf(format, args...), err)
}

func (s *Session) addLocation(l *Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[l.ref] = l
}

func (s *Session) removeLocation(l *Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locations, l.ref)
}

// Locations returns the number of locations not yet destroyed.
func (s *Session) Locations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locations)
}

// Close destroys the remaining locations, writes every interned string and
// closes the archive. A second call returns ErrSessionClosed.
func (s *Session) Close() error {
	if !s.closed.CAS(false, true) {
		return ErrSessionClosed
	}

	s.mu.Lock()
	remaining := make([]*Location, 0, len(s.locations))
	for _, l := range s.locations {
		remaining = append(remaining, l)
	}
	s.mu.Unlock()
	for _, l := range remaining {
		log.Warningf("%s was not destroyed before the session closed", l)
		l.Destroy()
	}

	for _, r := range s.takeParked() {
		if r.RefCount() != 0 {
			log.Warningf("%s is still entered by %d threads", r, r.RefCount())
		}
		log.Warningf("%s was entered %d of %d times before the session closed",
			r, r.EnterCount(), r.Attributes().(*ParallelAttr).RequestedParallelism)
		r.destroy()
	}

	s.defMu.Lock()
	err := s.strings.Destroy(func(text string, ref uint32) error {
		return s.sink.WriteStringDef(ref, text)
	})
	s.defMu.Unlock()

	if cerr := s.sink.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close archive")
	}
	if n := s.dropped.Load(); n > 0 {
		log.Warningf("%d events were dropped", n)
	}
	if n := s.defFails.Load(); n > 0 {
		log.Warningf("%d definitions could not be written", n)
	}
	log.Infof("trace session closed")
	return err
}

// park records a parallel region that emptied before every requested thread
// entered it.
func (s *Session) park(r *Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parked == nil {
		s.parked = make(map[*Region]struct{})
	}
	s.parked[r] = struct{}{}
}

func (s *Session) unpark(r *Region) {
	s.mu.Lock()
	delete(s.parked, r)
	s.mu.Unlock()
}

// takeParked returns the parked regions not yet destroyed, in ref order, and
// forgets them.
func (s *Session) takeParked() []*Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	regions := make([]*Region, 0, len(s.parked))
	for r := range s.parked {
		if !r.Destroyed() {
			regions = append(regions, r)
		}
	}
	s.parked = nil
	sort.Slice(regions, func(i, j int) bool { return regions[i].ref < regions[j].ref })
	return regions
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Strings returns the session's string registry.
func (s *Session) Strings() *strreg.Registry { return s.strings }

// Refs returns the session's reference allocator.
func (s *Session) Refs() *refs.Allocator { return s.refs }

// Config returns the configuration passed to Open, or nil.
func (s *Session) Config() *config.Config { return s.cfg }

// Dir returns the archive directory, or "" for an injected sink.
func (s *Session) Dir() string { return s.dir }

// SwitchMode returns the task-switch recording mode.
func (s *Session) SwitchMode() string { return s.switchMode }

// DroppedEvents returns the number of events that could not be written.
func (s *Session) DroppedEvents() uint64 { return s.dropped.Load() }

// SourceRef interns a source location.
func (s *Session) SourceRef(file, function string, line int) SourceRef {
	return SourceRef{
		File: s.strings.MustInsert(file),
		Func: s.strings.MustInsert(function),
		Line: uint32(line),
	}
}

// LabelRef returns the string reference of a fixed label.
func (s *Session) LabelRef(l attr.Label) uint32 { return s.labels.Ref(l) }
