// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/otter-trace/otter-go/otter/internal/bson"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	mbson "gopkg.in/mgo.v2/bson"
)

// the largest document a bson stream may contain
const maxDocSize = 16 * 1024 * 1024

type recordEncoder interface {
	Encode(v interface{}) error
}

// recordDecoder returns io.EOF once the stream is exhausted.
type recordDecoder interface {
	decodeDef(r *defRecord) error
	decodeEvent(r *eventRecord) error
}

type codec struct {
	ext        string
	newEncoder func(w io.Writer) recordEncoder
	newDecoder func(r io.Reader) recordDecoder
}

var bsonCodec = codec{
	ext:        ".bson",
	newEncoder: func(w io.Writer) recordEncoder { return &bsonEncoder{w: w, b: bson.NewBuffer()} },
	newDecoder: func(r io.Reader) recordDecoder { return &bsonDecoder{r: bufio.NewReader(r)} },
}

var msgpackCodec = codec{
	ext:        ".msgpack",
	newEncoder: func(w io.Writer) recordEncoder { return msgpack.NewEncoder(w) },
	newDecoder: func(r io.Reader) recordDecoder { return &msgpackDecoder{d: msgpack.NewDecoder(bufio.NewReader(r))} },
}

type bsonEncoder struct {
	w io.Writer
	b *bson.Buffer
}

func (e *bsonEncoder) Encode(v interface{}) error {
	e.b.Init()
	switch r := v.(type) {
	case *defRecord:
		e.encodeDef(r)
	case *eventRecord:
		e.encodeEvent(r)
	default:
		return errors.Errorf("bson: cannot encode %T", v)
	}
	e.b.Finish()
	_, err := e.w.Write(e.b.GetBuf())
	return err
}

func (e *bsonEncoder) encodeDef(r *defRecord) {
	b := e.b
	b.AppendString("t", r.Type)
	b.AppendUint32("ref", r.Ref)
	switch r.Type {
	case recString:
		b.AppendString("text", r.Text)
	case recAttribute:
		b.AppendUint32("name", r.Name)
		b.AppendUint32("desc", r.Desc)
		b.AppendString("attr_type", r.AttrType)
	case recLocationGroup:
		b.AppendUint32("name", r.Name)
	case recLocation:
		b.AppendUint32("name", r.Name)
		b.AppendString("loc_type", r.LocType)
		b.AppendUint64("events", r.Events)
		b.AppendUint32("group", r.Group)
	case recRegion:
		b.AppendUint32("name", r.Name)
		b.AppendUint32("canonical", r.Canonical)
		b.AppendUint32("desc", r.Desc)
		b.AppendString("role", r.Role)
		b.AppendString("paradigm", r.Paradigm)
		b.AppendUint32("src", r.SourceFile)
		b.AppendUint32("begin", r.BeginLine)
		b.AppendUint32("end", r.EndLine)
	}
}

func (e *bsonEncoder) encodeEvent(r *eventRecord) {
	b := e.b
	b.AppendInt32("k", int32(r.Kind))
	b.AppendUint64("ts", r.Time)
	b.AppendUint32("r", r.Region)
	arr := b.AppendStartArray("a")
	for i, a := range r.Attrs {
		obj := b.AppendStartObject(strconv.Itoa(i))
		b.AppendUint32("k", a.Key)
		b.AppendInt32("t", int32(a.Type))
		b.AppendUint64("v", a.Value)
		b.AppendFinishObject(obj)
	}
	b.AppendFinishObject(arr)
}

type bsonDecoder struct {
	r *bufio.Reader
}

// next reads one length-prefixed document.
func (d *bsonDecoder) next() (mbson.M, error) {
	var head [4]byte
	if _, err := io.ReadFull(d.r, head[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "bson: read document length")
	}
	n := int(binary.LittleEndian.Uint32(head[:]))
	if n < 5 || n > maxDocSize {
		return nil, errors.Errorf("bson: bad document length %d", n)
	}
	doc := make([]byte, n)
	copy(doc, head[:])
	if _, err := io.ReadFull(d.r, doc[4:]); err != nil {
		return nil, errors.Wrap(err, "bson: read document")
	}
	m := mbson.M{}
	if err := mbson.Unmarshal(doc, &m); err != nil {
		return nil, errors.Wrap(err, "bson: decode document")
	}
	return m, nil
}

func (d *bsonDecoder) decodeDef(r *defRecord) error {
	m, err := d.next()
	if err != nil {
		return err
	}
	*r = defRecord{
		Type:       bsonString(m["t"]),
		Ref:        uint32(bsonUint(m["ref"])),
		Text:       bsonString(m["text"]),
		Name:       uint32(bsonUint(m["name"])),
		Desc:       uint32(bsonUint(m["desc"])),
		Canonical:  uint32(bsonUint(m["canonical"])),
		AttrType:   bsonString(m["attr_type"]),
		LocType:    bsonString(m["loc_type"]),
		Events:     bsonUint(m["events"]),
		Group:      uint32(bsonUint(m["group"])),
		Role:       bsonString(m["role"]),
		Paradigm:   bsonString(m["paradigm"]),
		SourceFile: uint32(bsonUint(m["src"])),
		BeginLine:  uint32(bsonUint(m["begin"])),
		EndLine:    uint32(bsonUint(m["end"])),
	}
	return nil
}

func (d *bsonDecoder) decodeEvent(r *eventRecord) error {
	m, err := d.next()
	if err != nil {
		return err
	}
	*r = eventRecord{
		Kind:   uint8(bsonUint(m["k"])),
		Time:   bsonUint(m["ts"]),
		Region: uint32(bsonUint(m["r"])),
	}
	arr, _ := m["a"].([]interface{})
	for _, item := range arr {
		a, ok := item.(mbson.M)
		if !ok {
			return errors.Errorf("bson: bad attribute %v", item)
		}
		r.Attrs = append(r.Attrs, attrRecord{
			Key:   uint32(bsonUint(a["k"])),
			Type:  uint8(bsonUint(a["t"])),
			Value: bsonUint(a["v"]),
		})
	}
	return nil
}

// bsonUint recovers an unsigned value stored as a signed BSON integer.
func bsonUint(v interface{}) uint64 {
	switch x := v.(type) {
	case int:
		return uint64(x)
	case int32:
		return uint64(uint32(x))
	case int64:
		return uint64(x)
	case float64:
		return uint64(x)
	}
	return 0
}

func bsonString(v interface{}) string {
	s, _ := v.(string)
	return s
}

type msgpackDecoder struct {
	d *msgpack.Decoder
}

func (d *msgpackDecoder) decodeDef(r *defRecord) error {
	*r = defRecord{}
	return msgpackErr(d.d.Decode(r))
}

func (d *msgpackDecoder) decodeEvent(r *eventRecord) error {
	*r = eventRecord{}
	return msgpackErr(d.d.Decode(r))
}

func msgpackErr(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return errors.Wrap(err, "msgpack: decode")
}
