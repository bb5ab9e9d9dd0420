// Copyright (C) 2026 The Otter Authors. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
)

// output formats
const (
	formatJSON  = "json"
	formatTable = "table"
)

// printer writes rows grouped in sections. Every row of a section has one
// value per column.
type printer interface {
	section(name string, cols ...string)
	row(vals ...interface{})
	flush() error
}

func newPrinter(w io.Writer, format string) (printer, error) {
	switch format {
	case formatJSON:
		return &jsonPrinter{enc: json.NewEncoder(w)}, nil
	case formatTable:
		return &tablePrinter{w: w, tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}, nil
	}
	return nil, errors.Errorf("unknown output format %q (want %s or %s)", format, formatJSON, formatTable)
}

// jsonPrinter writes one JSON object per row, tagged with its section.
type jsonPrinter struct {
	enc  *json.Encoder
	name string
	cols []string
	err  error
}

func (p *jsonPrinter) section(name string, cols ...string) {
	p.name, p.cols = name, cols
}

func (p *jsonPrinter) row(vals ...interface{}) {
	if p.err != nil {
		return
	}
	m := make(map[string]interface{}, len(vals)+1)
	m["section"] = p.name
	for i, v := range vals {
		if i < len(p.cols) {
			m[p.cols[i]] = v
		}
	}
	p.err = p.enc.Encode(m)
}

func (p *jsonPrinter) flush() error { return p.err }

// tablePrinter aligns the rows of each section under a header.
type tablePrinter struct {
	w       io.Writer
	tw      *tabwriter.Writer
	started bool
	err     error
}

func (p *tablePrinter) section(name string, cols ...string) {
	if p.started {
		p.endSection()
		fmt.Fprintln(p.w)
	}
	p.started = true
	fmt.Fprintf(p.w, "== %s ==\n", name)
	fmt.Fprintln(p.tw, strings.ToUpper(strings.Join(cols, "\t")))
}

func (p *tablePrinter) row(vals ...interface{}) {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = cell(v)
	}
	fmt.Fprintln(p.tw, strings.Join(s, "\t"))
}

func (p *tablePrinter) endSection() {
	if err := p.tw.Flush(); err != nil && p.err == nil {
		p.err = err
	}
}

func (p *tablePrinter) flush() error {
	p.endSection()
	return p.err
}

// cell renders a value for a table column.
func cell(v interface{}) string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return "-"
		}
		return v
	case map[string]interface{}:
		return formatAttrs(v)
	}
	return fmt.Sprint(v)
}
