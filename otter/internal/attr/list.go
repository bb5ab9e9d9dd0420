// Copyright (C) 2026 The Otter Authors. All rights reserved.

package attr

import "fmt"

// Attribute is one typed value in a List. Value holds the raw bits: signed
// values are stored sign-extended and string refs as the reference.
type Attribute struct {
	Key   Key
	Type  Type
	Value uint64
}

// Int32 returns the value of an int32 attribute.
func (a Attribute) Int32() int32 { return int32(a.Value) }

// Interface returns the value converted to its Go type.
func (a Attribute) Interface() interface{} {
	switch a.Type {
	case TypeUint8:
		return uint8(a.Value)
	case TypeUint32, TypeStringRef:
		return uint32(a.Value)
	case TypeInt32:
		return int32(a.Value)
	default:
		return a.Value
	}
}

// List is the ordered attribute set attached to one event. Adding a key that
// is already present replaces its value in place. A List is not safe for
// concurrent use.
type List struct {
	attrs  []Attribute
	labels *LabelTable
}

// NewList returns an empty list that resolves labels through t.
func NewList(t *LabelTable) *List {
	return &List{attrs: make([]Attribute, 0, 16), labels: t}
}

func (l *List) add(k Key, typ Type, v uint64) {
	if k.Type() != typ {
		panic(fmt.Sprintf("attr: %s is %s, not %s", k.Name(), k.Type(), typ))
	}
	for i := range l.attrs {
		if l.attrs[i].Key == k {
			l.attrs[i].Value = v
			return
		}
	}
	l.attrs = append(l.attrs, Attribute{Key: k, Type: typ, Value: v})
}

func (l *List) AddUint8(k Key, v uint8)   { l.add(k, TypeUint8, uint64(v)) }
func (l *List) AddUint32(k Key, v uint32) { l.add(k, TypeUint32, uint64(v)) }
func (l *List) AddUint64(k Key, v uint64) { l.add(k, TypeUint64, v) }
func (l *List) AddInt32(k Key, v int32)   { l.add(k, TypeInt32, uint64(int64(v))) }

// AddBool stores b as a uint8 of 0 or 1.
func (l *List) AddBool(k Key, b bool) {
	var v uint8
	if b {
		v = 1
	}
	l.AddUint8(k, v)
}

// AddStringRef stores a string reference.
func (l *List) AddStringRef(k Key, ref uint32) { l.add(k, TypeStringRef, uint64(ref)) }

// AddLabel stores the string reference of label.
func (l *List) AddLabel(k Key, label Label) {
	l.AddStringRef(k, l.labels.Ref(label))
}

// Get returns the attribute stored under k.
func (l *List) Get(k Key) (Attribute, bool) {
	for _, a := range l.attrs {
		if a.Key == k {
			return a, true
		}
	}
	return Attribute{}, false
}

func (l *List) Len() int { return len(l.attrs) }

// Each visits the attributes in insertion order.
func (l *List) Each(fn func(Attribute)) {
	for _, a := range l.attrs {
		fn(a)
	}
}

// Take returns the attributes and empties the list.
func (l *List) Take() []Attribute {
	out := make([]Attribute, len(l.attrs))
	copy(out, l.attrs)
	l.Reset()
	return out
}

// Reset empties the list, keeping its storage.
func (l *List) Reset() { l.attrs = l.attrs[:0] }
