// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Trace is a decoded archive.
type Trace struct {
	Dir            string
	Anchor         Anchor
	Strings        map[uint32]string
	Attributes     map[uint32]AttributeDef
	LocationGroups map[uint32]LocationGroupDef
	Locations      map[uint32]LocationDef
	Regions        map[uint32]RegionDef
	Events         map[uint32][]Event
}

func newTrace(dir string) *Trace {
	return &Trace{
		Dir:            dir,
		Strings:        make(map[uint32]string),
		Attributes:     make(map[uint32]AttributeDef),
		LocationGroups: make(map[uint32]LocationGroupDef),
		Locations:      make(map[uint32]LocationDef),
		Regions:        make(map[uint32]RegionDef),
		Events:         make(map[uint32][]Event),
	}
}

// Label returns the string with the given reference, or "" if undefined.
func (t *Trace) Label(ref uint32) string {
	return t.Strings[ref]
}

// AttributeName returns the defined name of an attribute reference.
func (t *Trace) AttributeName(ref uint32) string {
	if d, ok := t.Attributes[ref]; ok {
		return t.Label(d.Name)
	}
	return "attr" + strconv.FormatUint(uint64(ref), 10)
}

// StringAttr resolves a string-ref attribute of e.
func (t *Trace) StringAttr(e *Event, k attr.Key) string {
	if a, ok := e.Attr(k); ok && a.Type == attr.TypeStringRef {
		return t.Label(uint32(a.Value))
	}
	return ""
}

// EventType returns the event_type label of e.
func (t *Trace) EventType(e *Event) string { return t.StringAttr(e, attr.EventType) }

// Endpoint returns the endpoint label of e.
func (t *Trace) Endpoint(e *Event) string { return t.StringAttr(e, attr.Endpoint) }

// AttrMap returns e's attributes keyed by name. String references are
// resolved.
func (t *Trace) AttrMap(e *Event) map[string]interface{} {
	m := make(map[string]interface{}, len(e.Attributes))
	for _, a := range e.Attributes {
		if a.Type == attr.TypeStringRef {
			m[t.AttributeName(uint32(a.Key))] = t.Label(uint32(a.Value))
		} else {
			m[t.AttributeName(uint32(a.Key))] = a.Interface()
		}
	}
	return m
}

// LocationRefs returns the locations with events or definitions, sorted.
func (t *Trace) LocationRefs() []uint32 {
	seen := make(map[uint32]struct{})
	for ref := range t.Locations {
		seen[ref] = struct{}{}
	}
	for ref := range t.Events {
		seen[ref] = struct{}{}
	}
	refs := make([]uint32, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// AllEvents returns every event, grouped by location in ascending order.
func (t *Trace) AllEvents() []Event {
	var out []Event
	for _, ref := range t.LocationRefs() {
		out = append(out, t.Events[ref]...)
	}
	return out
}

// Read decodes the archive in dir.
func Read(dir string) (*Trace, error) {
	a, err := readAnchor(dir)
	if err != nil {
		return nil, err
	}
	t := newTrace(dir)
	t.Anchor = *a

	switch a.Format {
	case FormatBSON:
		err = readFiles(t, bsonCodec)
	case FormatMsgpack:
		err = readFiles(t, msgpackCodec)
	case FormatSqlite:
		err = readSqlite(t)
	default:
		err = errors.Wrap(ErrUnsupportedFormat, a.Format)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func readFiles(t *Trace, c codec) error {
	path := filepath.Join(t.Dir, defsName+c.ext)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	dec := c.newDecoder(f)
	for {
		var r defRecord
		err := dec.decodeDef(&r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if err := r.apply(t); err != nil {
			return err
		}
	}

	streams, err := filepath.Glob(filepath.Join(t.Dir, eventsDir, "*"+c.ext))
	if err != nil {
		return errors.Wrap(err, "list event streams")
	}
	for _, p := range streams {
		loc, err := strconv.ParseUint(strings.TrimSuffix(filepath.Base(p), c.ext), 10, 32)
		if err != nil {
			return errors.Wrapf(err, "bad event stream name %s", p)
		}
		events, err := readEventStream(p, c)
		if err != nil {
			return err
		}
		t.Events[uint32(loc)] = events
	}
	return nil
}

func readEventStream(path string, c codec) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var events []Event
	dec := c.newDecoder(f)
	for {
		var r eventRecord
		err := dec.decodeEvent(&r)
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		events = append(events, r.event())
	}
}

func readSqlite(t *Trace) error {
	db, err := sql.Open("sqlite3", filepath.Join(t.Dir, sqliteName))
	if err != nil {
		return errors.Wrap(err, "open sqlite database")
	}
	defer db.Close()

	queries := []struct {
		query string
		scan  func(*sql.Rows) error
	}{
		{"SELECT Ref, Text FROM " + tableStrings, func(rows *sql.Rows) error {
			var r stringRow
			if err := rows.Scan(&r.Ref, &r.Text); err != nil {
				return err
			}
			t.Strings[uint32(r.Ref)] = r.Text
			return nil
		}},
		{"SELECT Ref, Name, Description, AttrType FROM " + tableAttributes, func(rows *sql.Rows) error {
			var r attributeRow
			if err := rows.Scan(&r.Ref, &r.Name, &r.Description, &r.AttrType); err != nil {
				return err
			}
			return (&defRecord{Type: recAttribute, Ref: uint32(r.Ref), Name: uint32(r.Name),
				Desc: uint32(r.Description), AttrType: r.AttrType}).apply(t)
		}},
		{"SELECT Ref, Name FROM " + tableLocationGroups, func(rows *sql.Rows) error {
			var r locationGroupRow
			if err := rows.Scan(&r.Ref, &r.Name); err != nil {
				return err
			}
			t.LocationGroups[uint32(r.Ref)] = LocationGroupDef{Ref: uint32(r.Ref), Name: uint32(r.Name)}
			return nil
		}},
		{"SELECT Ref, Name, LocType, Events, LocationGroup FROM " + tableLocations, func(rows *sql.Rows) error {
			var r locationRow
			if err := rows.Scan(&r.Ref, &r.Name, &r.LocType, &r.Events, &r.LocationGroup); err != nil {
				return err
			}
			t.Locations[uint32(r.Ref)] = LocationDef{Ref: uint32(r.Ref), Name: uint32(r.Name),
				Type: r.LocType, Events: uint64(r.Events), Group: uint32(r.LocationGroup)}
			return nil
		}},
		{"SELECT Ref, Name, Canonical, Description, Role, Paradigm, SourceFile, BeginLine, EndLine FROM " + tableRegions,
			func(rows *sql.Rows) error {
				var r regionRow
				if err := rows.Scan(&r.Ref, &r.Name, &r.Canonical, &r.Description, &r.Role, &r.Paradigm,
					&r.SourceFile, &r.BeginLine, &r.EndLine); err != nil {
					return err
				}
				t.Regions[uint32(r.Ref)] = RegionDef{Ref: uint32(r.Ref), Name: uint32(r.Name),
					Canonical: uint32(r.Canonical), Desc: uint32(r.Description), Role: Role(r.Role),
					Paradigm: r.Paradigm, SourceFile: uint32(r.SourceFile), BeginLine: uint32(r.BeginLine),
					EndLine: uint32(r.EndLine)}
				return nil
			}},
		{"SELECT Location, Seq, Kind, Time, Region, Attributes FROM " + tableEvents + " ORDER BY Location, Seq",
			func(rows *sql.Rows) error {
				var r eventRow
				if err := rows.Scan(&r.Location, &r.Seq, &r.Kind, &r.Time, &r.Region, &r.Attributes); err != nil {
					return err
				}
				var recs []attrRecord
				if err := msgpack.Unmarshal(r.Attributes, &recs); err != nil {
					return errors.Wrap(err, "decode event attributes")
				}
				loc := uint32(r.Location)
				t.Events[loc] = append(t.Events[loc], Event{
					Kind:       EventKind(r.Kind),
					Time:       uint64(r.Time),
					Region:     uint32(r.Region),
					Attributes: fromAttrRecords(recs),
				})
				return nil
			}},
	}

	for _, q := range queries {
		if err := scanAll(db, q.query, q.scan); err != nil {
			return err
		}
	}
	return nil
}

func scanAll(db *sql.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.Query(query)
	if err != nil {
		return errors.Wrapf(err, "query %q", query)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return errors.Wrapf(err, "scan %q", query)
		}
	}
	return errors.Wrapf(rows.Err(), "iterate %q", query)
}
