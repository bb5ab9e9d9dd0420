// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"database/sql"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/structs"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/pkg/errors"
	"github.com/tebeka/atexit"
	"github.com/vmihailenco/msgpack/v5"

	// registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

const defaultBatchSize = 10000

// table rows; column names are the field names
type stringRow struct {
	Ref  int64
	Text string
}

type attributeRow struct {
	Ref         int64
	Name        int64
	Description int64
	AttrType    string
}

type locationGroupRow struct {
	Ref  int64
	Name int64
}

type locationRow struct {
	Ref           int64
	Name          int64
	LocType       string
	Events        int64
	LocationGroup int64
}

type regionRow struct {
	Ref         int64
	Name        int64
	Canonical   int64
	Description int64
	Role        string
	Paradigm    string
	SourceFile  int64
	BeginLine   int64
	EndLine     int64
}

// eventRow stores the attributes as a msgpack blob. Time is the bit pattern of
// the uint64 timestamp.
type eventRow struct {
	Location   int64
	Seq        int64
	Kind       int64
	Time       int64
	Region     int64
	Attributes []byte
}

const (
	tableStrings        = "strings"
	tableAttributes     = "attributes"
	tableLocationGroups = "location_groups"
	tableLocations      = "locations"
	tableRegions        = "regions"
	tableEvents         = "events"
)

type sqliteTable struct {
	name    string
	insert  string
	entries []interface{}
}

// sqliteSink buffers rows per table and inserts them in one transaction per
// batch.
type sqliteSink struct {
	opts Options
	dir  string
	db   *sql.DB

	mu         sync.Mutex
	closed     bool
	tables     map[string]*sqliteTable
	order      []string
	entryCount int
	writers    map[uint32]*sqliteEventWriter
	props      map[string]string
	clock      ClockProperties
}

func newSqliteSink(o Options) (*sqliteSink, error) {
	dir := o.Dir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, sqliteName))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	db.SetMaxOpenConns(1)

	s := &sqliteSink{
		opts:    o,
		dir:     dir,
		db:      db,
		tables:  make(map[string]*sqliteTable),
		writers: make(map[uint32]*sqliteEventWriter),
		props:   make(map[string]string),
	}
	for _, t := range []struct {
		name   string
		sample interface{}
	}{
		{tableStrings, stringRow{}},
		{tableAttributes, attributeRow{}},
		{tableLocationGroups, locationGroupRow{}},
		{tableLocations, locationRow{}},
		{tableRegions, regionRow{}},
		{tableEvents, eventRow{}},
	} {
		if err := s.createTable(t.name, t.sample); err != nil {
			db.Close()
			return nil, err
		}
	}

	atexit.Register(func() {
		if err := s.Flush(); err != nil && err != ErrArchiveClosed {
			log.Errorf("flush sqlite archive at exit: %v", err)
		}
	})
	return s, nil
}

func (s *sqliteSink) createTable(name string, sample interface{}) error {
	n := structs.Names(sample)
	stmt := "CREATE TABLE " + name + " (\n\t" + strings.Join(n, ", \n\t") + "\n);"
	if _, err := s.db.Exec(stmt); err != nil {
		return errors.Wrapf(err, "create table %s", name)
	}
	marks := make([]string, len(n))
	for i := range marks {
		marks[i] = "?"
	}
	s.tables[name] = &sqliteTable{
		name:   name,
		insert: "INSERT INTO " + name + " VALUES (" + strings.Join(marks, ", ") + ")",
	}
	s.order = append(s.order, name)
	return nil
}

func (s *sqliteSink) insert(table string, row interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	return s.insertLocked(table, row)
}

func (s *sqliteSink) insertLocked(table string, row interface{}) error {
	t := s.tables[table]
	t.entries = append(t.entries, row)
	s.entryCount++
	if s.entryCount >= s.opts.BatchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush writes every buffered row.
func (s *sqliteSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	return s.flushLocked()
}

func (s *sqliteSink) flushLocked() error {
	if s.entryCount == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	for _, name := range s.order {
		t := s.tables[name]
		if len(t.entries) == 0 {
			continue
		}
		stmt, err := tx.Prepare(t.insert)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "prepare insert into %s", name)
		}
		for _, row := range t.entries {
			if _, err := stmt.Exec(structs.Values(row)...); err != nil {
				stmt.Close()
				tx.Rollback()
				return errors.Wrapf(err, "insert into %s", name)
			}
		}
		stmt.Close()
		t.entries = nil
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	log.Debugf("flushed %d rows to %s", s.entryCount, s.dir)
	s.entryCount = 0
	return nil
}

func (s *sqliteSink) WriteStringDef(ref uint32, text string) error {
	return s.insert(tableStrings, stringRow{Ref: int64(ref), Text: text})
}

func (s *sqliteSink) WriteAttributeDef(d AttributeDef) error {
	return s.insert(tableAttributes, attributeRow{
		Ref: int64(d.Ref), Name: int64(d.Name), Description: int64(d.Desc), AttrType: d.Type.String(),
	})
}

func (s *sqliteSink) WriteLocationGroupDef(d LocationGroupDef) error {
	return s.insert(tableLocationGroups, locationGroupRow{Ref: int64(d.Ref), Name: int64(d.Name)})
}

func (s *sqliteSink) WriteLocationDef(d LocationDef) error {
	return s.insert(tableLocations, locationRow{
		Ref: int64(d.Ref), Name: int64(d.Name), LocType: d.Type, Events: int64(d.Events), LocationGroup: int64(d.Group),
	})
}

func (s *sqliteSink) WriteRegionDef(d RegionDef) error {
	return s.insert(tableRegions, regionRow{
		Ref:         int64(d.Ref),
		Name:        int64(d.Name),
		Canonical:   int64(d.Canonical),
		Description: int64(d.Desc),
		Role:        string(d.Role),
		Paradigm:    d.Paradigm,
		SourceFile:  int64(d.SourceFile),
		BeginLine:   int64(d.BeginLine),
		EndLine:     int64(d.EndLine),
	})
}

func (s *sqliteSink) WriteClockProperties(c ClockProperties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	s.clock = c
	return nil
}

func (s *sqliteSink) SetProperty(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	s.props[key] = value
	return nil
}

func (s *sqliteSink) EventWriter(location uint32) (EventWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrArchiveClosed
	}
	w, ok := s.writers[location]
	if !ok {
		w = &sqliteEventWriter{sink: s, location: location}
		s.writers[location] = w
	}
	return w, nil
}

// Close flushes the remaining rows, closes the database and writes the anchor.
func (s *sqliteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	err := s.flushLocked()
	s.closed = true
	if cerr := s.db.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close sqlite database")
	}
	if aerr := writeAnchor(s.dir, newAnchor(s.opts, s.clock, s.props, len(s.writers))); err == nil {
		err = aerr
	}
	return err
}

type sqliteEventWriter struct {
	sink     *sqliteSink
	location uint32
	seq      int64
}

// WriteEvent buffers one event row. The sink lock also guards seq.
func (w *sqliteEventWriter) WriteEvent(e *Event) error {
	blob, err := msgpack.Marshal(toAttrRecords(e.Attributes))
	if err != nil {
		return errors.Wrap(err, "encode event attributes")
	}
	s := w.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	row := eventRow{
		Location:   int64(w.location),
		Seq:        w.seq,
		Kind:       int64(e.Kind),
		Time:       int64(e.Time),
		Region:     int64(e.Region),
		Attributes: blob,
	}
	w.seq++
	return s.insertLocked(tableEvents, row)
}
