// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const streamBufferSize = 64 * 1024

// stream is one buffered, encoded output file.
type stream struct {
	f   *os.File
	buf *bufio.Writer
	enc recordEncoder
}

func createStream(path string, c codec) (*stream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	buf := bufio.NewWriterSize(f, streamBufferSize)
	return &stream{f: f, buf: buf, enc: c.newEncoder(buf)}, nil
}

func (s *stream) write(v interface{}) error {
	return s.enc.Encode(v)
}

func (s *stream) close() error {
	err := s.buf.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "close %s", s.f.Name())
}

// fileSink writes a definitions stream and one event stream per location,
// all encoded with the same codec.
type fileSink struct {
	opts  Options
	codec codec
	dir   string

	mu      sync.Mutex
	closed  bool
	defs    *stream
	writers map[uint32]*fileEventWriter
	props   map[string]string
	clock   ClockProperties
}

func newFileSink(o Options, c codec) (*fileSink, error) {
	dir := o.Dir()
	if err := os.Mkdir(filepath.Join(dir, eventsDir), 0755); err != nil {
		return nil, errors.Wrap(err, "create events directory")
	}
	defs, err := createStream(filepath.Join(dir, defsName+c.ext), c)
	if err != nil {
		return nil, err
	}
	return &fileSink{
		opts:    o,
		codec:   c,
		dir:     dir,
		defs:    defs,
		writers: make(map[uint32]*fileEventWriter),
		props:   make(map[string]string),
	}, nil
}

func (s *fileSink) writeDef(r *defRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	if err := s.defs.write(r); err != nil {
		return errors.Wrapf(err, "write %s definition %d", r.Type, r.Ref)
	}
	return nil
}

func (s *fileSink) WriteStringDef(ref uint32, text string) error {
	return s.writeDef(stringRecord(ref, text))
}

func (s *fileSink) WriteAttributeDef(d AttributeDef) error {
	return s.writeDef(attributeRecord(d))
}

func (s *fileSink) WriteLocationGroupDef(d LocationGroupDef) error {
	return s.writeDef(locationGroupRecord(d))
}

func (s *fileSink) WriteLocationDef(d LocationDef) error {
	return s.writeDef(locationRecord(d))
}

func (s *fileSink) WriteRegionDef(d RegionDef) error {
	return s.writeDef(regionRecord(d))
}

func (s *fileSink) WriteClockProperties(c ClockProperties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	s.clock = c
	return nil
}

func (s *fileSink) SetProperty(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	s.props[key] = value
	return nil
}

// EventWriter returns the writer for a location, creating its stream on first
// use.
func (s *fileSink) EventWriter(location uint32) (EventWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrArchiveClosed
	}
	if w, ok := s.writers[location]; ok {
		return w, nil
	}
	path := filepath.Join(s.dir, eventsDir, fmt.Sprintf("%d%s", location, s.codec.ext))
	st, err := createStream(path, s.codec)
	if err != nil {
		return nil, err
	}
	w := &fileEventWriter{location: location, stream: st}
	s.writers[location] = w
	return w, nil
}

// Close flushes every stream, closing the event streams concurrently, and
// writes the anchor.
func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrArchiveClosed
	}
	s.closed = true

	var g errgroup.Group
	for _, w := range s.writers {
		w := w
		g.Go(w.close)
	}
	err := g.Wait()
	if derr := s.defs.close(); err == nil {
		err = derr
	}
	if aerr := writeAnchor(s.dir, newAnchor(s.opts, s.clock, s.props, len(s.writers))); err == nil {
		err = aerr
	}
	log.Debugf("closed archive %s (%d event streams)", s.dir, len(s.writers))
	return err
}

type fileEventWriter struct {
	location uint32

	mu     sync.Mutex
	closed bool
	count  uint64
	stream *stream
}

func (w *fileEventWriter) WriteEvent(e *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrArchiveClosed
	}
	if err := w.stream.write(toEventRecord(e)); err != nil {
		return errors.Wrapf(err, "write event to location %d", w.location)
	}
	w.count++
	return nil
}

func (w *fileEventWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.stream.close()
}
