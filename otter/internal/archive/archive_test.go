// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/otter-trace/otter-go/otter/internal/host"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSample(t *testing.T, s Sink) {
	require.NoError(t, s.WriteStringDef(0, ""))
	require.NoError(t, s.WriteStringDef(1, "1.0.0"))
	require.NoError(t, s.WriteStringDef(2, "Thread 0"))
	require.NoError(t, s.WriteStringDef(3, "Parallel Region 7"))
	require.NoError(t, s.WriteAttributeDef(AttributeDef{Ref: uint32(attr.CPU), Name: 2, Desc: 3, Type: attr.TypeInt32}))
	require.NoError(t, s.WriteLocationGroupDef(LocationGroupDef{Ref: 0, Name: 1}))
	require.NoError(t, s.WriteClockProperties(ClockProperties{TicksPerSecond: 1e9, Epoch: 42, Length: ^uint64(0)}))
	require.NoError(t, s.SetProperty("OTTER::EVENT_MODEL", "OMP"))

	w0, err := s.EventWriter(0)
	require.NoError(t, err)
	w1, err := s.EventWriter(1)
	require.NoError(t, err)

	require.NoError(t, w0.WriteEvent(&Event{Kind: ThreadBegin, Time: 10, Region: UndefinedRef}))
	require.NoError(t, w0.WriteEvent(&Event{Kind: Enter, Time: 11, Region: 5, Attributes: []attr.Attribute{
		{Key: attr.CPU, Type: attr.TypeInt32, Value: ^uint64(0)},
		{Key: attr.UniqueID, Type: attr.TypeUint64, Value: ^uint64(0)},
		{Key: attr.EventType, Type: attr.TypeStringRef, Value: 3},
	}}))
	require.NoError(t, w0.WriteEvent(&Event{Kind: Leave, Time: 12, Region: 5}))
	require.NoError(t, w1.WriteEvent(&Event{Kind: TaskSwitch, Time: 13, Region: UndefinedRef}))

	require.NoError(t, s.WriteRegionDef(RegionDef{Ref: 5, Name: 3, Role: RoleParallel, Paradigm: ParadigmUnknown, EndLine: 9}))
	require.NoError(t, s.WriteLocationDef(LocationDef{Ref: 0, Name: 2, Type: LocationTypeThread, Events: 3}))
	require.NoError(t, s.WriteLocationDef(LocationDef{Ref: 1, Name: 2, Type: LocationTypeThread, Events: 1}))
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []string{FormatBSON, FormatMsgpack, FormatSqlite} {
		t.Run(format, func(t *testing.T) {
			o := Options{Path: t.TempDir(), Name: "rt", Format: format, EventModel: "omp", BatchSize: 2}
			s, err := Open(o)
			require.NoError(t, err)
			writeSample(t, s)
			require.NoError(t, s.Close())

			tr, err := Read(o.Dir())
			require.NoError(t, err)

			assert.Equal(t, FormatVersion, tr.Anchor.Version)
			assert.Equal(t, format, tr.Anchor.Format)
			assert.Equal(t, "omp", tr.Anchor.EventModel)
			assert.Equal(t, host.PID(), tr.Anchor.PID)
			assert.Equal(t, "OMP", tr.Anchor.Properties["OTTER::EVENT_MODEL"])
			assert.Equal(t, ^uint64(0), tr.Anchor.Clock.Length)
			assert.Equal(t, 2, tr.Anchor.Locations)

			assert.Equal(t, "", tr.Label(0))
			assert.Equal(t, "Thread 0", tr.Label(2))
			assert.Equal(t, attr.TypeInt32, tr.Attributes[uint32(attr.CPU)].Type)
			assert.Equal(t, "Thread 0", tr.AttributeName(uint32(attr.CPU)))
			assert.Equal(t, RoleParallel, tr.Regions[5].Role)
			assert.Equal(t, uint32(9), tr.Regions[5].EndLine)
			assert.Equal(t, uint64(3), tr.Locations[0].Events)
			assert.Equal(t, LocationTypeThread, tr.Locations[1].Type)
			assert.Len(t, tr.LocationGroups, 1)

			require.Len(t, tr.Events[0], 3)
			require.Len(t, tr.Events[1], 1)
			assert.Equal(t, []uint32{0, 1}, tr.LocationRefs())
			assert.Len(t, tr.AllEvents(), 4)

			e := tr.Events[0][1]
			assert.Equal(t, Enter, e.Kind)
			assert.Equal(t, uint64(11), e.Time)
			assert.Equal(t, uint32(5), e.Region)
			cpu, ok := e.Attr(attr.CPU)
			require.True(t, ok)
			assert.Equal(t, int32(-1), cpu.Int32())
			id, _ := e.Attr(attr.UniqueID)
			assert.Equal(t, ^uint64(0), id.Value)
			assert.Equal(t, "Parallel Region 7", tr.EventType(&e))

			assert.Equal(t, UndefinedRef, tr.Events[0][0].Region)
			assert.Equal(t, TaskSwitch, tr.Events[1][0].Kind)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(Options{Path: dir, Name: "x", Format: "otf2"})
	assert.Equal(t, ErrUnsupportedFormat, errors.Cause(err))
	assert.NoDirExists(t, filepath.Join(dir, "x"))

	s, err := Open(Options{Path: dir, Name: "y"})
	require.NoError(t, err)
	defer s.Close()
	_, err = Open(Options{Path: dir, Name: "y"})
	assert.Equal(t, ErrArchiveExists, errors.Cause(err))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = Open(Options{Path: file, Name: "z"})
	assert.Error(t, err)
}

func TestWriteAfterClose(t *testing.T) {
	for _, format := range []string{FormatBSON, FormatSqlite} {
		s, err := Open(Options{Path: t.TempDir(), Name: "c", Format: format})
		require.NoError(t, err)
		w, err := s.EventWriter(0)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		assert.Equal(t, ErrArchiveClosed, s.WriteStringDef(0, ""))
		assert.Equal(t, ErrArchiveClosed, w.WriteEvent(&Event{Kind: Enter}))
		_, err = s.EventWriter(1)
		assert.Equal(t, ErrArchiveClosed, err)
		assert.Equal(t, ErrArchiveClosed, s.Close())
	}
}

func TestMemoryMapCopy(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("no /proc on this platform")
	}
	o := Options{Path: t.TempDir(), Name: "maps", CopyMemoryMap: true}
	s, err := Open(o)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	b, err := os.ReadFile(filepath.Join(o.Dir(), auxDir, mapsName))
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}

func TestVersionCheck(t *testing.T) {
	assert.NoError(t, checkVersion("1.0.0"))
	assert.NoError(t, checkVersion("1.7.2"))
	assert.Equal(t, ErrIncompatibleVersion, errors.Cause(checkVersion("2.0.0")))
	assert.Equal(t, ErrIncompatibleVersion, errors.Cause(checkVersion("0.9")))
	assert.Equal(t, ErrIncompatibleVersion, errors.Cause(checkVersion("banana")))

	o := Options{Path: t.TempDir(), Name: "v"}
	s, err := Open(o)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	a, err := readAnchor(o.Dir())
	require.NoError(t, err)
	a.Version = "2.1.0"
	require.NoError(t, writeAnchor(o.Dir(), a))
	_, err = Read(o.Dir())
	assert.Equal(t, ErrIncompatibleVersion, errors.Cause(err))
}

func TestReadMissingAnchor(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.Error(t, err)
}

func TestArchiveName(t *testing.T) {
	assert.True(t, strings.HasPrefix(ArchiveName("run", false), "run."))
	assert.True(t, strings.HasSuffix(ArchiveName("run", true), "."+host.SafeHostname()+"."+itoa(host.PID())))
	assert.True(t, strings.HasPrefix(ArchiveName("", false), defaultName+"_"))
	assert.NotEqual(t, ArchiveName("", false), ArchiveName("", false))
}

func TestEventKind(t *testing.T) {
	for _, k := range []EventKind{ThreadBegin, ThreadEnd, Enter, Leave, TaskCreate, TaskSwitch} {
		got, err := ParseEventKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseEventKind("bogus")
	assert.Error(t, err)
	assert.Equal(t, "EventKind(99)", EventKind(99).String())
}

func TestTestSink(t *testing.T) {
	var seen []uint32
	s := NewTestSink(TestSinkOnRegionDef(func(d RegionDef) { seen = append(seen, d.Ref) }))
	writeSample(t, s)
	assert.Equal(t, []uint32{5}, seen)
	assert.Equal(t, 1, s.RegionDefCount(5))
	assert.Equal(t, 1, s.NumRegionDefs())
	assert.Error(t, s.WriteStringDef(2, "changed"))

	tr := s.Trace()
	assert.Len(t, tr.Events[0], 3)
	assert.Equal(t, "OMP", tr.Anchor.Properties["OTTER::EVENT_MODEL"])

	require.NoError(t, s.Close())
	assert.Equal(t, ErrArchiveClosed, s.Close())

	s = NewTestSink(TestSinkShouldError(true))
	w, err := s.EventWriter(0)
	require.NoError(t, err)
	assert.Error(t, w.WriteEvent(&Event{Kind: Enter}))
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
