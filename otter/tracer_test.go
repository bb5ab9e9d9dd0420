// Copyright (C) 2026 The Otter Authors. All rights reserved.

package otter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	g "github.com/otter-trace/otter-go/otter/internal/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestTracer(t *testing.T, opts ...Option) *Tracer {
	opts = append([]Option{
		WithTracePath(t.TempDir()),
		WithTraceName("otter_test"),
		WithCopyMemoryMap(false),
	}, opts...)
	tr, err := NewTracer(opts...)
	require.NoError(t, err)
	return tr
}

func finalise(t *testing.T, tr *Tracer) *archive.Trace {
	require.NoError(t, tr.Finalise())
	return g.Decode(t, tr.Dir())
}

func TestTaskGraph(t *testing.T) {
	tr := newTestTracer(t)
	assert.True(t, tr.Active())
	assert.Equal(t, uint64(1), tr.Root().ID())

	a := tr.TaskBegin(nil, "child %d", 1)
	require.NotNil(t, a)
	assert.Equal(t, uint64(2), a.ID())
	assert.Equal(t, uint64(1), a.ParentID())
	assert.Equal(t, "child 1", a.Label())

	b := tr.TaskInitialise(a, 7, false, "grandchild")
	assert.Equal(t, uint64(2), b.ParentID())
	assert.Same(t, b, tr.TaskStart(b))
	tr.TaskEnd(b)
	assert.True(t, b.Ended())

	tr.Synchronise(a, SyncChildren)
	tr.TaskEnd(a)
	tr.Synchronise(nil, SyncDescendants)

	arc := finalise(t, tr)
	var flavoured int
	nodes := g.AssertEvents(t, arc, 12, g.AssertNodeMap{
		{EventType: "thread_begin", Endpoint: "enter"}: {},
		{EventType: "thread_end", Endpoint: "leave"}:   {},
		{EventType: "task_create", Endpoint: "discrete"}: {Count: 2, Callback: func(n g.Node) {
			assert.Equal(t, archive.TaskCreate, n.Kind)
			assert.Equal(t, "explicit_task", n.Map["region_type"])
		}},
		{EventType: "task_switch", Endpoint: "enter"}: {Count: 3},
		{EventType: "task_switch", Endpoint: "leave"}: {Count: 3, Callback: func(n g.Node) {
			if n.Map["task_flavour"] == int32(7) {
				flavoured++
				assert.Equal(t, "grandchild", n.Map["task_label"])
			}
		}},
		{EventType: "sync_begin", Endpoint: "discrete"}: {Count: 2, Callback: func(n g.Node) {
			id, _ := n.Uint64("encountering_task_id")
			switch id {
			case 1:
				assert.Equal(t, "taskgroup", n.Map["sync_type"])
				assert.Equal(t, uint8(1), n.Map["sync_descendant_tasks"])
			case 2:
				assert.Equal(t, "taskwait", n.Map["sync_type"])
			default:
				t.Errorf("unexpected encountering task %d", id)
			}
		}},
	})
	assert.Equal(t, 1, flavoured)

	parents := g.ParentOf(nodes)
	assert.Equal(t, uint64(1), parents[2])
	assert.Equal(t, uint64(2), parents[3])
	assert.Equal(t, map[archive.Role]int{archive.RoleTask: 3}, g.CountDefs(arc))

	var rootLabel bool
	for _, s := range arc.Strings {
		if strings.HasPrefix(s, "OTTER ROOT TASK (otter.newTestTracer:") {
			rootLabel = true
		}
	}
	assert.True(t, rootLabel)
}

func TestInitialTaskCreate(t *testing.T) {
	tr := newTestTracer(t, WithSuppressInitialTaskCreate(false))
	arc := finalise(t, tr)
	g.AssertEvents(t, arc, 5, g.AssertNodeKVMap{
		{EventType: "thread_begin", Endpoint: "enter", K: "", V: ""}:                          {},
		{EventType: "thread_end", Endpoint: "leave", K: "", V: ""}:                            {},
		{EventType: "task_create", Endpoint: "discrete", K: "region_type", V: "initial_task"}: {},
		{EventType: "task_switch", Endpoint: "enter", K: "", V: ""}:                           {},
		{EventType: "task_switch", Endpoint: "leave", K: "", V: ""}:                           {},
	})
}

func TestStartStop(t *testing.T) {
	tr := newTestTracer(t)
	tr.Stop()
	assert.False(t, tr.Active())
	assert.Nil(t, tr.TaskBegin(nil, "ignored"))
	assert.Nil(t, tr.TaskInitialise(nil, 0, true, "ignored"))
	tr.PhaseBegin("ignored")
	assert.Nil(t, tr.Phase())
	tr.Synchronise(nil, SyncChildren)

	tr.Start()
	assert.Nil(t, tr.TaskStart(nil))
	tr.TaskEnd(nil)
	task := tr.TaskBegin(nil, "recorded")
	tr.TaskEnd(task)
	tr.TaskEnd(task)

	arc := finalise(t, tr)
	assert.False(t, tr.Active())
	assert.Nil(t, tr.TaskBegin(nil, "after finalise"))
	assert.NoError(t, tr.Finalise())

	g.AssertEvents(t, arc, 7, g.AssertNodeMap{
		{EventType: "thread_begin", Endpoint: "enter"}:   {},
		{EventType: "thread_end", Endpoint: "leave"}:     {},
		{EventType: "task_create", Endpoint: "discrete"}: {},
		{EventType: "task_switch", Endpoint: "enter"}:    {Count: 2},
		{EventType: "task_switch", Endpoint: "leave"}:    {Count: 2},
	})
	assert.Equal(t, map[archive.Role]int{archive.RoleTask: 2}, g.CountDefs(arc))
}

func TestDisabled(t *testing.T) {
	tr := newTestTracer(t, WithDisabled(true))
	assert.False(t, tr.Active())
	assert.Nil(t, tr.TaskBegin(nil, "ignored"))

	arc := finalise(t, tr)
	g.AssertEvents(t, arc, 4, g.AssertNodeMap{
		{EventType: "thread_begin", Endpoint: "enter"}: {},
		{EventType: "thread_end", Endpoint: "leave"}:   {},
		{EventType: "task_switch", Endpoint: "enter"}:  {},
		{EventType: "task_switch", Endpoint: "leave"}:  {},
	})
}

func TestLabelPool(t *testing.T) {
	tr := newTestTracer(t)
	a := tr.TaskInitialise(nil, 0, true, "work %d", 1)
	b := tr.TaskInitialise(nil, 0, false, "other")
	tr.TaskPushLabel(b, "work %d", 1)
	tr.TaskPushLabel(nil, "work %d", 1)
	assert.Equal(t, 2, tr.pool.len("work 1"))

	assert.Same(t, a, tr.TaskBorrowLabel("work %d", 1))
	assert.Same(t, a, tr.TaskPopLabel("work %d", 1))
	assert.Same(t, b, tr.TaskPopLabel("work 1"))
	assert.Nil(t, tr.TaskPopLabel("work 1"))
	assert.Nil(t, tr.TaskBorrowLabel("missing"))

	tr.TaskEnd(tr.TaskStart(a))
	tr.TaskEnd(tr.TaskStart(b))
	arc := finalise(t, tr)
	assert.Equal(t, map[archive.Role]int{archive.RoleTask: 3}, g.CountDefs(arc))
}

func TestPhases(t *testing.T) {
	tr := newTestTracer(t)
	tr.PhaseEnd()

	tr.PhaseBegin("load")
	load := tr.Phase()
	require.NotNil(t, load)
	assert.Equal(t, uint64(1), load.ParentID())
	assert.True(t, strings.HasPrefix(load.Label(), `OTTER PHASE: "load" (otter.TestPhases:`))

	inPhase := tr.TaskBegin(nil, "in phase")
	assert.Equal(t, load.ID(), inPhase.ParentID())
	tr.TaskEnd(inPhase)

	tr.PhaseBegin("compute")
	assert.True(t, load.Ended())
	compute := tr.Phase()
	tr.Synchronise(nil, SyncChildren)

	tr.PhaseSwitch("write")
	assert.True(t, compute.Ended())
	write := tr.Phase()
	assert.Equal(t, uint64(1), write.ParentID())
	tr.PhaseEnd()
	assert.Nil(t, tr.Phase())
	tr.PhaseEnd()

	outside := tr.TaskBegin(nil, "outside")
	assert.Equal(t, uint64(1), outside.ParentID())
	tr.TaskEnd(outside)
	tr.PhaseBegin("left open")

	arc := finalise(t, tr)
	// root, four phases and two tasks
	assert.Equal(t, map[archive.Role]int{archive.RoleTask: 7}, g.CountDefs(arc))

	nodes := g.Nodes(t, arc)
	parents := g.ParentOf(nodes)
	assert.Equal(t, load.ID(), parents[inPhase.ID()])
	for _, n := range nodes {
		if n.EventType == "sync_begin" {
			id, _ := n.Uint64("encountering_task_id")
			assert.Equal(t, compute.ID(), id)
		}
	}
}

func TestConcurrentTasks(t *testing.T) {
	const workers, tasks = 8, 50
	tr := newTestTracer(t)

	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		eg.Go(func() error {
			for i := 0; i < tasks; i++ {
				task := tr.TaskBegin(nil, "worker %d task %d", w, i)
				tr.TaskEnd(task)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	tr.Synchronise(nil, SyncDescendants)

	arc := finalise(t, tr)
	assert.Equal(t, map[archive.Role]int{archive.RoleTask: workers*tasks + 1}, g.CountDefs(arc))
	parents := g.ParentOf(g.Nodes(t, arc))
	for id, p := range parents {
		if id != 1 {
			assert.Equal(t, uint64(1), p)
		}
	}
}

func TestFormats(t *testing.T) {
	for _, format := range []string{"bson", "msgpack", "sqlite"} {
		t.Run(format, func(t *testing.T) {
			tr := newTestTracer(t, WithFormat(format))
			tr.TaskEnd(tr.TaskBegin(nil, "task"))
			arc := finalise(t, tr)
			assert.Equal(t, format, arc.Anchor.Format)
			assert.Equal(t, "task-graph", arc.Anchor.EventModel)
			g.AssertEvents(t, arc, 7, g.AssertNodeMap{
				{EventType: "thread_begin", Endpoint: "enter"}:   {},
				{EventType: "thread_end", Endpoint: "leave"}:     {},
				{EventType: "task_create", Endpoint: "discrete"}: {},
				{EventType: "task_switch", Endpoint: "enter"}:    {Count: 2},
				{EventType: "task_switch", Endpoint: "leave"}:    {Count: 2},
			})
		})
	}
}

func TestFormatLabel(t *testing.T) {
	assert.Equal(t, "plain %d", formatLabel("plain %d", nil))
	assert.Equal(t, "task 3", formatLabel("task %d", []interface{}{3}))

	long := formatLabel(strings.Repeat("x", 300), nil)
	assert.Len(t, long, MaxLabelLen)

	// a multi-byte rune cut by the limit is dropped
	runes := formatLabel(strings.Repeat("€", 100), nil)
	assert.True(t, utf8.ValidString(runes))
	assert.Len(t, runes, 255)
}

func TestSetLogLevel(t *testing.T) {
	old := GetLogLevel()
	defer SetLogLevel(old)

	assert.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, "DEBUG", GetLogLevel())
	assert.Error(t, SetLogLevel("verbose"))
	assert.Equal(t, "DEBUG", GetLogLevel())
	assert.NotEmpty(t, Version())
}
