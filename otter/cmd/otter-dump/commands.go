// Copyright (C) 2026 The Otter Authors. All rights reserved.

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	"github.com/spf13/cobra"
)

func newDefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defs <archive-dir>",
		Short: "Print the strings, attributes, locations and regions of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, p, err := load(cmd, args)
			if err != nil {
				return err
			}
			printDefs(p, tr)
			return p.flush()
		},
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <archive-dir>",
		Short: "Print the events of an archive with their attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, p, err := load(cmd, args)
			if err != nil {
				return err
			}
			loc, _ := cmd.Flags().GetInt64("location")
			printEvents(p, tr, loc)
			return p.flush()
		},
	}
	cmd.Flags().Int64("location", -1, "only print the events of this location")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <archive-dir>",
		Short: "Print event counts per event type and per location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, p, err := load(cmd, args)
			if err != nil {
				return err
			}
			printSummary(p, tr)
			return p.flush()
		},
	}
}

// sortedRefs returns the keys of m in ascending order.
func sortedRefs[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func printDefs(p printer, tr *archive.Trace) {
	p.section("strings", "ref", "text")
	for _, ref := range sortedRefs(tr.Strings) {
		p.row(ref, tr.Strings[ref])
	}

	p.section("attributes", "ref", "name", "description", "type")
	for _, ref := range sortedRefs(tr.Attributes) {
		d := tr.Attributes[ref]
		p.row(ref, tr.Label(d.Name), tr.Label(d.Desc), d.Type.String())
	}

	p.section("locations", "ref", "name", "type", "events", "group")
	for _, ref := range tr.LocationRefs() {
		d, ok := tr.Locations[ref]
		if !ok {
			continue
		}
		p.row(ref, tr.Label(d.Name), d.Type, d.Events, tr.Label(tr.LocationGroups[d.Group].Name))
	}

	p.section("regions", "ref", "name", "role", "paradigm", "source", "line")
	for _, ref := range sortedRefs(tr.Regions) {
		d := tr.Regions[ref]
		p.row(ref, tr.Label(d.Name), string(d.Role), d.Paradigm, tr.Label(d.SourceFile), d.BeginLine)
	}
}

// printEvents prints the events of every location, or of loc when it is not
// negative.
func printEvents(p printer, tr *archive.Trace, loc int64) {
	p.section("events", "location", "time", "kind", "region", "event_type", "endpoint", "attributes")
	for _, ref := range tr.LocationRefs() {
		if loc >= 0 && uint32(loc) != ref {
			continue
		}
		events := tr.Events[ref]
		for i := range events {
			e := &events[i]
			attrs := tr.AttrMap(e)
			delete(attrs, "event_type")
			delete(attrs, "endpoint")
			p.row(ref, e.Time, e.Kind.String(), regionRef(e.Region), tr.EventType(e), tr.Endpoint(e), attrs)
		}
	}
}

func regionRef(ref uint32) interface{} {
	if ref == archive.UndefinedRef {
		return "-"
	}
	return ref
}

func printSummary(p printer, tr *archive.Trace) {
	counts := make(map[string]int)
	var total int
	for _, ref := range tr.LocationRefs() {
		events := tr.Events[ref]
		for i := range events {
			e := &events[i]
			key := tr.EventType(e) + "/" + tr.Endpoint(e)
			counts[key]++
			total++
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p.section("archive", "name", "format", "event_model", "version", "host", "pid", "events", "regions")
	a := tr.Anchor
	p.row(a.Name, a.Format, a.EventModel, a.Version, a.Host, a.PID, total, len(tr.Regions))

	p.section("event types", "event_type", "endpoint", "count")
	for _, k := range keys {
		i := strings.LastIndexByte(k, '/')
		p.row(k[:i], k[i+1:], counts[k])
	}

	p.section("locations", "location", "name", "events")
	for _, ref := range tr.LocationRefs() {
		p.row(ref, tr.Label(tr.Locations[ref].Name), len(tr.Events[ref]))
	}
}

// formatAttrs renders attributes as space separated key=value pairs sorted
// by key.
func formatAttrs(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, m[k])
	}
	return b.String()
}
