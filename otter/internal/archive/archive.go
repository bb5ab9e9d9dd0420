// Copyright (C) 2026 The Otter Authors. All rights reserved.

// Package archive persists trace definitions and per-location event streams.
//
// An archive is a directory holding a global definitions stream, one event
// stream per location, an anchor file describing the archive and, optionally,
// a copy of the process memory map under aux/. Three on-disk formats are
// supported: bson, msgpack and sqlite. Read decodes any of them.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/otter-trace/otter-go/otter/internal/host"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// errors
var (
	ErrUnsupportedFormat   = errors.New("unsupported archive format")
	ErrArchiveClosed       = errors.New("archive closed")
	ErrArchiveExists       = errors.New("archive already exists")
	ErrIncompatibleVersion = errors.New("incompatible archive version")
)

// archive formats
const (
	FormatBSON    = "bson"
	FormatMsgpack = "msgpack"
	FormatSqlite  = "sqlite"
)

// FormatVersion is written to every anchor. Readers accept any 1.x archive.
const FormatVersion = "1.0.0"

const (
	anchorExt   = ".otter"
	defsName    = "defs"
	eventsDir   = "events"
	auxDir      = "aux"
	mapsName    = "maps"
	sqliteName  = "trace.sqlite3"
	defaultName = "otter_trace"
)

// UndefinedRef marks an absent string, region or location reference.
const UndefinedRef = ^uint32(0)

// UndefinedID marks an absent task, thread or parallel region id.
const UndefinedID = ^uint64(0)

// Role is the structural role of a region.
type Role string

// region roles
const (
	RoleUnknown         Role = "unknown"
	RoleParallel        Role = "parallel"
	RoleLoop            Role = "loop"
	RoleSections        Role = "sections"
	RoleSingle          Role = "single"
	RoleWorkshare       Role = "workshare"
	RoleBarrier         Role = "barrier"
	RoleImplicitBarrier Role = "implicit_barrier"
	RoleTaskWait        Role = "task_wait"
	RoleTask            Role = "task"
	RoleMaster          Role = "master"
	RoleCode            Role = "code"
)

// Paradigm of a region definition.
const (
	ParadigmUnknown = "unknown"
	ParadigmTasking = "tasking"
)

// LocationTypeThread is the only location type written.
const LocationTypeThread = "cpu_thread"

// EventKind is the record type of an event.
type EventKind uint8

// event kinds
const (
	ThreadBegin EventKind = iota + 1
	ThreadEnd
	Enter
	Leave
	TaskCreate
	TaskSwitch
)

var eventKindNames = map[EventKind]string{
	ThreadBegin: "thread_begin",
	ThreadEnd:   "thread_end",
	Enter:       "enter",
	Leave:       "leave",
	TaskCreate:  "task_create",
	TaskSwitch:  "task_switch",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "EventKind(" + strconv.Itoa(int(k)) + ")"
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown event kind %q", s)
}

// AttributeDef defines an attribute key.
type AttributeDef struct {
	Ref  uint32
	Name uint32
	Desc uint32
	Type attr.Type
}

// LocationGroupDef defines the process all locations belong to.
type LocationGroupDef struct {
	Ref  uint32
	Name uint32
}

// LocationDef defines a location. It is written once the location's event
// count is final.
type LocationDef struct {
	Ref    uint32
	Name   uint32
	Type   string
	Events uint64
	Group  uint32
}

// RegionDef defines a region.
type RegionDef struct {
	Ref        uint32
	Name       uint32
	Canonical  uint32
	Desc       uint32
	Role       Role
	Paradigm   string
	SourceFile uint32
	BeginLine  uint32
	EndLine    uint32
}

// ClockProperties describes the timestamps of an archive.
type ClockProperties struct {
	TicksPerSecond uint64 `yaml:"ticks_per_second"`
	Epoch          uint64 `yaml:"epoch"`
	Length         uint64 `yaml:"length"`
}

// Event is one record of a location's event stream. Region is UndefinedRef
// for events not tied to a region.
type Event struct {
	Kind       EventKind
	Time       uint64
	Region     uint32
	Attributes []attr.Attribute
}

// Attr returns the attribute stored under k.
func (e *Event) Attr(k attr.Key) (attr.Attribute, bool) {
	for _, a := range e.Attributes {
		if a.Key == k {
			return a, true
		}
	}
	return attr.Attribute{}, false
}

// EventWriter appends events to one location's stream.
type EventWriter interface {
	WriteEvent(e *Event) error
}

// Sink receives everything recorded in a trace session. Definition writes
// are serialized by the caller. Each EventWriter is used by one goroutine at
// a time.
type Sink interface {
	WriteStringDef(ref uint32, text string) error
	WriteAttributeDef(def AttributeDef) error
	WriteLocationGroupDef(def LocationGroupDef) error
	WriteLocationDef(def LocationDef) error
	WriteRegionDef(def RegionDef) error
	WriteClockProperties(clock ClockProperties) error
	EventWriter(location uint32) (EventWriter, error)
	SetProperty(key, value string) error
	Close() error
}

// Options configures Open.
type Options struct {
	// Path is the directory the archive directory is created in.
	Path string
	// Name of the archive directory.
	Name          string
	EventModel    string
	Format        string
	CopyMemoryMap bool
	// BatchSize is the number of rows a sqlite archive buffers per transaction.
	BatchSize int
}

// ArchiveName builds the archive directory name from a trace name:
// name[.hostname].pid. An empty trace name is replaced by a unique one.
func ArchiveName(traceName string, appendHostname bool) string {
	if traceName == "" {
		traceName = defaultName + "_" + xid.New().String()
	}
	if appendHostname {
		return fmt.Sprintf("%s.%s.%d", traceName, host.SafeHostname(), host.PID())
	}
	return fmt.Sprintf("%s.%d", traceName, host.PID())
}

// Dir returns the archive directory for o.
func (o Options) Dir() string {
	return filepath.Join(o.Path, o.Name)
}

// Open creates the archive directory and returns a sink for the configured
// format. It fails if the directory cannot be created or already exists.
func Open(o Options) (Sink, error) {
	if o.Name == "" {
		o.Name = ArchiveName("", false)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	var newSink func(Options) (Sink, error)
	switch o.Format {
	case FormatBSON, "":
		o.Format = FormatBSON
		newSink = func(o Options) (Sink, error) { return newFileSink(o, bsonCodec) }
	case FormatMsgpack:
		newSink = func(o Options) (Sink, error) { return newFileSink(o, msgpackCodec) }
	case FormatSqlite:
		newSink = func(o Options) (Sink, error) { return newSqliteSink(o) }
	default:
		return nil, errors.Wrap(ErrUnsupportedFormat, o.Format)
	}

	dir := o.Dir()
	if err := os.MkdirAll(o.Path, 0755); err != nil {
		return nil, errors.Wrapf(err, "create trace path %s", o.Path)
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrap(ErrArchiveExists, dir)
		}
		return nil, errors.Wrapf(err, "create archive %s", dir)
	}

	s, err := newSink(o)
	if err != nil {
		if rerr := os.RemoveAll(dir); rerr != nil {
			log.Warningf("failed to remove %s: %v", dir, rerr)
		}
		return nil, err
	}

	if o.CopyMemoryMap {
		if err := copyMemoryMap(dir); err != nil {
			log.Errorf("failed to copy memory map: %v", err)
		}
	}
	log.Infof("opened %s archive %s", o.Format, dir)
	return s, nil
}
