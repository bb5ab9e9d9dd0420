// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/pkg/errors"
)

// definition record types
const (
	recString        = "string"
	recAttribute     = "attribute"
	recLocationGroup = "location_group"
	recLocation      = "location"
	recRegion        = "region"
)

// defRecord is the stream representation of every definition type. Only the
// fields relevant to Type are set.
type defRecord struct {
	Type       string `msgpack:"t"`
	Ref        uint32 `msgpack:"ref"`
	Text       string `msgpack:"text,omitempty"`
	Name       uint32 `msgpack:"name,omitempty"`
	Desc       uint32 `msgpack:"desc,omitempty"`
	Canonical  uint32 `msgpack:"canonical,omitempty"`
	AttrType   string `msgpack:"attr_type,omitempty"`
	LocType    string `msgpack:"loc_type,omitempty"`
	Events     uint64 `msgpack:"events,omitempty"`
	Group      uint32 `msgpack:"group,omitempty"`
	Role       string `msgpack:"role,omitempty"`
	Paradigm   string `msgpack:"paradigm,omitempty"`
	SourceFile uint32 `msgpack:"src,omitempty"`
	BeginLine  uint32 `msgpack:"begin,omitempty"`
	EndLine    uint32 `msgpack:"end,omitempty"`
}

type attrRecord struct {
	Key   uint32 `msgpack:"k"`
	Type  uint8  `msgpack:"t"`
	Value uint64 `msgpack:"v"`
}

type eventRecord struct {
	Kind   uint8        `msgpack:"k"`
	Time   uint64       `msgpack:"ts"`
	Region uint32       `msgpack:"r"`
	Attrs  []attrRecord `msgpack:"a"`
}

func stringRecord(ref uint32, text string) *defRecord {
	return &defRecord{Type: recString, Ref: ref, Text: text}
}

func attributeRecord(d AttributeDef) *defRecord {
	return &defRecord{Type: recAttribute, Ref: d.Ref, Name: d.Name, Desc: d.Desc, AttrType: d.Type.String()}
}

func locationGroupRecord(d LocationGroupDef) *defRecord {
	return &defRecord{Type: recLocationGroup, Ref: d.Ref, Name: d.Name}
}

func locationRecord(d LocationDef) *defRecord {
	return &defRecord{Type: recLocation, Ref: d.Ref, Name: d.Name, LocType: d.Type, Events: d.Events, Group: d.Group}
}

func regionRecord(d RegionDef) *defRecord {
	return &defRecord{
		Type:       recRegion,
		Ref:        d.Ref,
		Name:       d.Name,
		Canonical:  d.Canonical,
		Desc:       d.Desc,
		Role:       string(d.Role),
		Paradigm:   d.Paradigm,
		SourceFile: d.SourceFile,
		BeginLine:  d.BeginLine,
		EndLine:    d.EndLine,
	}
}

func toAttrRecords(attrs []attr.Attribute) []attrRecord {
	out := make([]attrRecord, len(attrs))
	for i, a := range attrs {
		out[i] = attrRecord{Key: uint32(a.Key), Type: uint8(a.Type), Value: a.Value}
	}
	return out
}

func fromAttrRecords(recs []attrRecord) []attr.Attribute {
	out := make([]attr.Attribute, len(recs))
	for i, r := range recs {
		out[i] = attr.Attribute{Key: attr.Key(r.Key), Type: attr.Type(r.Type), Value: r.Value}
	}
	return out
}

func toEventRecord(e *Event) *eventRecord {
	return &eventRecord{
		Kind:   uint8(e.Kind),
		Time:   e.Time,
		Region: e.Region,
		Attrs:  toAttrRecords(e.Attributes),
	}
}

func (r *eventRecord) event() Event {
	return Event{
		Kind:       EventKind(r.Kind),
		Time:       r.Time,
		Region:     r.Region,
		Attributes: fromAttrRecords(r.Attrs),
	}
}

// apply adds a decoded definition to t.
func (r *defRecord) apply(t *Trace) error {
	switch r.Type {
	case recString:
		t.Strings[r.Ref] = r.Text
	case recAttribute:
		typ, ok := attr.ParseType(r.AttrType)
		if !ok {
			return errors.Errorf("attribute %d has unknown type %q", r.Ref, r.AttrType)
		}
		t.Attributes[r.Ref] = AttributeDef{Ref: r.Ref, Name: r.Name, Desc: r.Desc, Type: typ}
	case recLocationGroup:
		t.LocationGroups[r.Ref] = LocationGroupDef{Ref: r.Ref, Name: r.Name}
	case recLocation:
		t.Locations[r.Ref] = LocationDef{Ref: r.Ref, Name: r.Name, Type: r.LocType, Events: r.Events, Group: r.Group}
	case recRegion:
		t.Regions[r.Ref] = RegionDef{
			Ref:        r.Ref,
			Name:       r.Name,
			Canonical:  r.Canonical,
			Desc:       r.Desc,
			Role:       Role(r.Role),
			Paradigm:   r.Paradigm,
			SourceFile: r.SourceFile,
			BeginLine:  r.BeginLine,
			EndLine:    r.EndLine,
		}
	default:
		return errors.Errorf("unknown definition record %q", r.Type)
	}
	return nil
}
