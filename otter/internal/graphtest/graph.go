// Copyright (C) 2016 Librato, Inc. All rights reserved.

// Package graphtest provides test utilities for asserting properties of
// recorded trace archives.
package graphtest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Node is a decoded event used for testing assertions.
type Node struct {
	EventType, Endpoint string
	Kind                archive.EventKind
	Location            uint32
	Region              uint32
	Time                uint64
	Map                 map[string]interface{}
}

// Uint64 returns a numeric attribute of the node.
func (n Node) Uint64(name string) (uint64, bool) {
	switch v := n.Map[name].(type) {
	case uint64:
		return v, true
	case uint32:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	}
	return 0, false
}

// Decode reads the archive in dir.
func Decode(t *testing.T, dir string) *archive.Trace {
	tr, err := archive.Read(dir)
	require.NoError(t, err)
	return tr
}

// Nodes returns every event of tr with its attributes resolved, grouped by
// location.
func Nodes(t *testing.T, tr *archive.Trace) []Node {
	var nodes []Node
	for _, loc := range tr.LocationRefs() {
		events := tr.Events[loc]
		for i := range events {
			e := &events[i]
			n := Node{
				EventType: tr.EventType(e),
				Endpoint:  tr.Endpoint(e),
				Kind:      e.Kind,
				Location:  loc,
				Region:    e.Region,
				Time:      e.Time,
				Map:       tr.AttrMap(e),
			}
			if os.Getenv("LOG_EVENTS") != "" {
				t.Logf("# location %d event %d: %s/%s %v", loc, i, n.EventType, n.Endpoint, n.Map)
			}
			nodes = append(nodes, n)
		}
	}
	t.Logf("got %v events", len(nodes))
	return nodes
}

// MatchNode describes a node by its event type and endpoint.
type MatchNode struct{ EventType, Endpoint string }

// MatchNodeKV allows a test to assert properties of a node by specifying its
// event type, endpoint and a string attribute.
type MatchNodeKV struct{ EventType, Endpoint, K, V string }

// NodeAsserter calls Callback to run more asserts for a node. Count is the
// number of nodes expected to match; zero means exactly one.
type NodeAsserter struct {
	Callback func(n Node)
	Count    int
	Seen     bool
}

// an AsserterMap looks up NodeAsserters for Nodes, keeping track of which
// have been seen.
type AsserterMap interface {
	Match(n Node) (NodeAsserter, bool)
	Size() int
	AssertSeen(t *testing.T, n Node)
	AssertMissing(t *testing.T)
}

// An AssertNodeMap describes nodes by {EventType, Endpoint} and assertions
// about them.
type AssertNodeMap map[MatchNode]NodeAsserter

// An AssertNodeKVMap describes nodes by {EventType, Endpoint, K, V} and
// assertions about them.
type AssertNodeKVMap map[MatchNodeKV]NodeAsserter

func size(asserters []NodeAsserter) (ret int) {
	for _, a := range asserters {
		switch {
		case a.Count == 0:
			ret++
		case a.Count > 0:
			ret += a.Count
		}
	}
	return
}

// seen decrements the asserter's count and marks it seen when the count is
// used up.
func seen(t *testing.T, a NodeAsserter, n Node) NodeAsserter {
	if a.Count > 0 {
		a.Count--
	}
	if a.Count == 0 {
		assert.False(t, a.Seen, "Already saw node %s/%s %v", n.EventType, n.Endpoint, n.Map)
		a.Seen = true
	}
	return a
}

// Match a node, returning an asserter.
func (m AssertNodeMap) Match(n Node) (NodeAsserter, bool) {
	ret, ok := m[MatchNode{n.EventType, n.Endpoint}]
	return ret, ok
}

// Size returns the number of nodes expected.
func (m AssertNodeMap) Size() int {
	as := make([]NodeAsserter, 0, len(m))
	for _, a := range m {
		as = append(as, a)
	}
	return size(as)
}

// AssertSeen ensures each node is seen no more often than expected.
func (m AssertNodeMap) AssertSeen(t *testing.T, n Node) {
	mn := MatchNode{n.EventType, n.Endpoint}
	m[mn] = seen(t, m[mn], n)
}

// AssertMissing ensures each node is seen.
func (m AssertNodeMap) AssertMissing(t *testing.T) {
	for mn, a := range m {
		assert.True(t, a.Seen, "Didn't see node %v (%d left)", mn, a.Count)
	}
}

// Match a node by KV pair, returning an asserter.
func (m AssertNodeKVMap) Match(n Node) (ret NodeAsserter, ok bool) {
	var mn MatchNodeKV
	if mn, ok = m.match(n); ok {
		ret, ok = m[mn]
	}
	return
}

func (m AssertNodeKVMap) match(n Node) (mn MatchNodeKV, ok bool) {
	// look for node with same KV pair as specified in assert structure
	keys := make([]string, 0, len(n.Map))
	for k := range n.Map {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vs, isString := n.Map[k].(string)
		if !isString {
			continue
		}
		mn = MatchNodeKV{n.EventType, n.Endpoint, k, vs}
		if _, ok = m[mn]; ok {
			return
		}
	}
	// or look for node matching just on event type/endpoint, no KV pair
	mn = MatchNodeKV{n.EventType, n.Endpoint, "", ""}
	_, ok = m[mn]
	return
}

// Size returns the number of nodes expected.
func (m AssertNodeKVMap) Size() int {
	as := make([]NodeAsserter, 0, len(m))
	for _, a := range m {
		as = append(as, a)
	}
	return size(as)
}

// AssertSeen ensures each node is seen no more often than expected.
func (m AssertNodeKVMap) AssertSeen(t *testing.T, n Node) {
	mn, ok := m.match(n)
	assert.True(t, ok)
	m[mn] = seen(t, m[mn], n)
}

// AssertMissing ensures each node is seen.
func (m AssertNodeKVMap) AssertMissing(t *testing.T) {
	for mn, a := range m {
		assert.True(t, a.Seen, "Didn't see node %v (%d left)", mn, a.Count)
	}
}

var checkedNodes = 0

// AssertEvents decodes every event of tr and asserts each one against
// asserterMap. Every asserter must be matched as often as it expects.
func AssertEvents(t *testing.T, tr *archive.Trace, numNodes int, asserterMap AsserterMap) []Node {
	nodes := Nodes(t, tr)
	assert.Equal(t, numNodes, len(nodes), "events expected %d, actual %d", numNodes, len(nodes))
	assert.Equal(t, numNodes, asserterMap.Size())
	for _, n := range nodes {
		asserter, ok := asserterMap.Match(n)
		assert.True(t, ok, "Unrecognized event: "+fmt.Sprintf("%s/%s %v", n.EventType, n.Endpoint, n.Map))
		if !ok {
			continue
		}
		if asserter.Callback != nil {
			asserter.Callback(n)
		}
		asserterMap.AssertSeen(t, n)
		checkedNodes++
	}
	asserterMap.AssertMissing(t)
	t.Logf("Total %d nodes checked", checkedNodes)

	if os.Getenv("DOT_GRAPHS") != "" { // save the task tree to a file named for the caller
		saveDotGraph(t, nodes)
	}
	return nodes
}

// CountDefs returns the number of region definitions per role.
func CountDefs(tr *archive.Trace) map[archive.Role]int {
	counts := make(map[archive.Role]int)
	for _, d := range tr.Regions {
		counts[d.Role]++
	}
	return counts
}

// ParentOf maps every task seen in nodes to its parent task.
func ParentOf(nodes []Node) map[uint64]uint64 {
	parents := make(map[uint64]uint64)
	name := attr.ParentTaskID.Name()
	for _, n := range nodes {
		id, ok := n.Uint64(attr.UniqueID.Name())
		if !ok {
			continue
		}
		if p, ok := n.Uint64(name); ok {
			parents[id] = p
		}
	}
	return parents
}

func saveDotGraph(t *testing.T, nodes []Node) {
	var pc uintptr
	var line int
	funcDepth := func(d int) string {
		pc, _, line, _ = runtime.Caller(d)
		f := runtime.FuncForPC(pc).Name()
		return f[strings.LastIndex(f, "/")+1:]
	}
	caller := funcDepth(2)
	for i := 3; strings.HasPrefix(caller, "graphtest."); i++ {
		caller = funcDepth(i)
	}
	fname := fmt.Sprintf("graph_%s-%d_%d.dot", caller, line, os.Getpid())
	if dir := os.Getenv("DOT_GRAPHDIR"); dir != "" {
		fname = filepath.Join(dir, fname)
	}
	output, err := os.Create(fname)
	if err != nil {
		t.Logf("cannot save DOT graph: %v", err)
		return
	}
	defer output.Close()
	t.Logf("Saving DOT graph %s", fname)
	dotGraph(nodes, output)
}

// dotGraph writes the task tree as a graphviz dot file to output Writer
func dotGraph(nodes []Node, output io.Writer) {
	fmt.Fprintln(output, "digraph main{")
	fmt.Fprintln(output, "\tedge[arrowhead=vee]")
	fmt.Fprintln(output, "\tgraph [rankdir=TB,compound=true,ranksep=1.0];")

	parents := ParentOf(nodes)
	ids := make([]uint64, 0, len(parents))
	for id := range parents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(output, "\ttask%d[shape=box,label=\"task %d\"];\n", id, id)
		if p := parents[id]; p != archive.UndefinedID {
			fmt.Fprintf(output, "\ttask%d -> task%d;\n", p, id)
		}
	}
	fmt.Fprintln(output, "}")
}
