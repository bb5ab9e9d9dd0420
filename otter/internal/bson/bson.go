// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package bson is a minimal append-only BSON document encoder. Definitions and
// events are encoded with it so the hot path avoids reflection.
package bson

import "math"

// Buffer holds one BSON document under construction.
type Buffer struct {
	buf []byte
}

// GetBuf returns the encoded bytes. It is only valid after Finish.
func (b *Buffer) GetBuf() []byte { return b.buf }

// NewBuffer creates a new bson buffer
func NewBuffer() *Buffer {
	var bbuf = &Buffer{}
	bbuf.Init()
	return bbuf
}

// WithBuf wraps an existing byte slice. The caller must call Init before
// appending.
func WithBuf(buf []byte) *Buffer {
	return &Buffer{buf: buf}
}

// Init starts a new document, reusing the underlying storage.
func (b *Buffer) Init() {
	if cap(b.buf) == 0 {
		b.buf = make([]byte, 0, 64)
	}
	b.buf = b.buf[:0]
	b.reserveInt32()
}

// Finish terminates the document and patches its length prefix.
func (b *Buffer) Finish() {
	b.addBytes(0)
	b.setInt32(0, int32(len(b.buf)))
}

func (b *Buffer) AppendString(k, v string) {
	b.addElemName('\x02', k)
	b.addStr(v)
}

func (b *Buffer) AppendBinary(k string, v []byte) {
	b.addElemName('\x05', k)
	b.addBinary(v)
}

func (b *Buffer) AppendInt32(k string, v int32) {
	b.addElemName('\x10', k)
	b.addInt32(v)
}

func (b *Buffer) AppendInt64(k string, v int64) {
	b.addElemName('\x12', k)
	b.addInt64(v)
}

// AppendUint32 stores v as an int64 since BSON has no unsigned 32-bit type.
func (b *Buffer) AppendUint32(k string, v uint32) {
	b.AppendInt64(k, int64(v))
}

// AppendUint64 stores the bit pattern of v as an int64. Readers convert back
// with uint64(int64Value).
func (b *Buffer) AppendUint64(k string, v uint64) {
	b.AppendInt64(k, int64(v))
}

func (b *Buffer) AppendFloat64(k string, v float64) {
	b.addElemName('\x01', k)
	b.addFloat64(v)
}

func (b *Buffer) AppendBool(k string, v bool) {
	b.addElemName('\x08', k)
	if v {
		b.addBytes(1)
	} else {
		b.addBytes(0)
	}
}

func (b *Buffer) AppendStartObject(k string) (start int) {
	b.addElemName('\x03', k)
	start = b.reserveInt32()
	return
}

func (b *Buffer) AppendStartArray(k string) (start int) {
	b.addElemName('\x04', k)
	start = b.reserveInt32()
	return
}

func (b *Buffer) AppendFinishObject(start int) {
	b.addBytes(0)
	b.setInt32(start, int32(len(b.buf)-start))
}

// Element encoding follows gopkg.in/mgo.v2/bson/encode.go.

func (b *Buffer) addElemName(kind byte, name string) {
	b.addBytes(kind)
	b.buf = append(b.buf, name...)
	b.addBytes(0)
}

func (b *Buffer) addBinary(v []byte) {
	subtype := byte(0)
	b.addInt32(int32(len(v)))
	b.addBytes(subtype)
	b.addBytes(v...)
}

func (b *Buffer) addStr(v string) {
	b.addInt32(int32(len(v) + 1))
	b.addCStr(v)
}

func (b *Buffer) addCStr(v string) {
	b.buf = append(b.buf, v...)
	b.addBytes(0)
}

func (b *Buffer) reserveInt32() (pos int) {
	pos = len(b.buf)
	b.addBytes(0, 0, 0, 0)
	return pos
}

func (b *Buffer) setInt32(pos int, v int32) {
	b.buf[pos+0] = byte(v)
	b.buf[pos+1] = byte(v >> 8)
	b.buf[pos+2] = byte(v >> 16)
	b.buf[pos+3] = byte(v >> 24)
}

func (b *Buffer) addInt32(v int32) {
	u := uint32(v)
	b.addBytes(byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
}

func (b *Buffer) addInt64(v int64) {
	u := uint64(v)
	b.addBytes(byte(u), byte(u>>8), byte(u>>16), byte(u>>24),
		byte(u>>32), byte(u>>40), byte(u>>48), byte(u>>56))
}

func (b *Buffer) addFloat64(v float64) {
	b.addInt64(int64(math.Float64bits(v)))
}

func (b *Buffer) addBytes(v ...byte) {
	b.buf = append(b.buf, v...)
}
