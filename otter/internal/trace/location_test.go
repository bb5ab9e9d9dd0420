// Copyright (C) 2026 The Otter Authors. All rights reserved.

package trace

import (
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

func TestStackDiscipline(t *testing.T) {
	s, _ := newTestSession(t)
	l := newTestLocation(t, s)
	r1 := s.NewWorkshareRegion(0, WorkLoop, 4)
	r2 := s.NewSyncRegion(0, SyncBarrier, false)

	l.Enter(r1)
	l.Enter(r2)
	assert.Equal(t, 2, l.StackDepth())
	assert.Equal(t, r2, l.Top())
	assert.Equal(t, []*Region{r1, r2}, l.Stack())
	assert.Equal(t, r2, l.Leave())
	assert.Equal(t, r1, l.Leave())
	assert.Nil(t, l.Top())

	requireViolation(t, ErrStackUnderflow, func() { l.Leave() })
	requireViolation(t, ErrNilRegion, func() { l.Enter(nil) })
	assert.Equal(t, uint64(4), l.Events())
}

func TestEventAttributes(t *testing.T) {
	s, sink := newTestSession(t)
	l := newTestLocation(t, s)
	root := s.NewTask(nil, TaskInitial, false, nil, 0)
	p := s.NewParallelRegion(root.ID(), l.ID(), 4, false)

	l.ThreadBegin()
	l.Enter(p)
	l.Leave()
	l.ThreadEnd()
	l.Destroy()
	require.NoError(t, s.Close())

	tr := sink.Trace()
	events := tr.Events[l.Ref()]
	require.Len(t, events, 4)

	begin := events[0]
	assert.Equal(t, archive.ThreadBegin, begin.Kind)
	assert.Equal(t, archive.UndefinedRef, begin.Region)
	assert.Equal(t, "thread_begin", tr.EventType(&begin))
	assert.Equal(t, "worker", tr.StringAttr(&begin, attr.ThreadType))
	id, _ := begin.Attr(attr.UniqueID)
	assert.Equal(t, l.ID(), id.Value)

	enter := events[1]
	assert.Equal(t, archive.Enter, enter.Kind)
	assert.Equal(t, p.Ref(), enter.Region)
	m := tr.AttrMap(&enter)
	assert.Equal(t, "parallel_begin", m["event_type"])
	assert.Equal(t, "enter", m["endpoint"])
	assert.Equal(t, "parallel", m["region_type"])
	assert.Equal(t, "false", m["is_league"])
	assert.Equal(t, uint32(4), m["requested_parallelism"])
	assert.Equal(t, root.ID(), m["encountering_task_id"])
	assert.Contains(t, m, "cpu")

	leave := events[2]
	assert.Equal(t, archive.Leave, leave.Kind)
	assert.Equal(t, "parallel_end", tr.EventType(&leave))
	assert.Equal(t, "leave", tr.Endpoint(&leave))

	assert.Equal(t, "thread_end", tr.EventType(&events[3]))
	assert.True(t, events[0].Time < events[3].Time)
}

// Four locations enter the same parallel region. Only the fourth leave
// destroys it.
func TestParallelFourWorkers(t *testing.T) {
	var destroyed []*Region
	s, sink := newTestSession(t, WithDestroyHook(func(r *Region) { destroyed = append(destroyed, r) }))
	p := s.NewParallelRegion(0, 0, 4, false)

	locs := make([]*Location, 4)
	for i := range locs {
		locs[i] = newTestLocation(t, s)
		locs[i].Enter(p)
	}
	assert.Equal(t, int64(4), p.RefCount())
	assert.Equal(t, int64(4), p.EnterCount())

	for i, l := range locs[:3] {
		l.Leave()
		assert.Equal(t, int64(3-i), p.RefCount())
		assert.Empty(t, destroyed)
		assert.False(t, p.Destroyed())
	}
	locs[3].Leave()
	assert.Equal(t, int64(0), p.RefCount())
	require.Len(t, destroyed, 1)
	assert.Equal(t, p, destroyed[0])
	assert.Equal(t, 1, sink.RegionDefCount(p.Ref()))
	assert.Equal(t, 1, sink.NumRegionDefs())
}

// One location leaves before the other enters. The region stays open until
// both requested threads have been through it and is defined once.
func TestParallelEnterLeaveInSequence(t *testing.T) {
	var destroys int
	s, sink := newTestSession(t, WithDestroyHook(func(r *Region) {
		if r.Kind() == KindParallel {
			destroys++
		}
	}))
	p := s.NewParallelRegion(0, 0, 2, false)
	l1, l2 := newTestLocation(t, s), newTestLocation(t, s)

	l1.Enter(p)
	l1.Leave()
	assert.Equal(t, int64(0), p.RefCount())
	assert.False(t, p.Destroyed())
	assert.Zero(t, sink.NumRegionDefs())

	l2.Enter(p)
	loop := s.NewWorkshareRegion(0, WorkLoop, 1)
	l2.Enter(loop)
	l2.Leave()
	l2.StoreRegionDef(loop)
	l2.Leave()

	assert.True(t, p.Destroyed())
	assert.Equal(t, 1, destroys)
	assert.Equal(t, 1, sink.RegionDefCount(p.Ref()))
	assert.Equal(t, 1, sink.RegionDefCount(loop.Ref()))
	assert.Equal(t, 2, sink.NumRegionDefs())

	l1.Destroy()
	l2.Destroy()
	require.NoError(t, s.Close())
	assert.Equal(t, 1, destroys)
	assert.Equal(t, 2, sink.NumRegionDefs())
}

// A parallel region entered by fewer threads than requested is defined when
// the session closes.
func TestParallelUnfilledAtClose(t *testing.T) {
	s, sink := newTestSession(t)
	p := s.NewParallelRegion(0, 0, 4, false)
	l := newTestLocation(t, s)
	l.Enter(p)
	l.Leave()
	l.Destroy()
	assert.False(t, p.Destroyed())
	assert.Zero(t, sink.RegionDefCount(p.Ref()))

	require.NoError(t, s.Close())
	assert.True(t, p.Destroyed())
	assert.Equal(t, 1, sink.RegionDefCount(p.Ref()))
	requireViolation(t, ErrDoubleDestroy, func() { p.destroy() })
	assert.Equal(t, 1, sink.RegionDefCount(p.Ref()))
}

// K locations race through one parallel region, each creating child regions
// inside it. The region is destroyed once, after every leave, and exactly the
// children plus the region itself are defined.
func TestParallelSingleDestroy(t *testing.T) {
	const (
		rounds  = 20
		workers = 8
	)
	for round := 0; round < rounds; round++ {
		var (
			parallelDestroys atomic.Int32
			leaves           atomic.Int32
			destroyedEarly   atomic.Bool
			children         atomic.Int32
		)
		s, sink := newTestSession(t, WithDestroyHook(func(r *Region) {
			if r.Kind() == KindParallel {
				parallelDestroys.Inc()
				if leaves.Load() != workers || r.RefCount() != 0 {
					destroyedEarly.Store(true)
				}
			}
		}))
		p := s.NewParallelRegion(0, 0, workers, false)

		locs := make([]*Location, workers)
		for i := range locs {
			locs[i] = newTestLocation(t, s)
		}

		var g errgroup.Group
		for i := 0; i < workers; i++ {
			l := locs[i]
			rnd := rand.New(rand.NewSource(int64(round*workers + i)))
			g.Go(func() error {
				task := s.NewTask(nil, TaskImplicit, false, nil, 0)
				time.Sleep(time.Duration(rnd.Intn(200)) * time.Microsecond)
				l.Enter(p)
				for j := rnd.Intn(5); j > 0; j-- {
					var r *Region
					switch rnd.Intn(3) {
					case 0:
						r = s.NewWorkshareRegion(task.ID(), WorkLoop, uint64(j))
					case 1:
						r = s.NewSyncRegion(task.ID(), SyncBarrierImplicit, false)
					default:
						r = s.NewMasterRegion(task.ID(), l.ID())
					}
					l.Enter(r)
					runtime.Gosched()
					l.Leave()
					l.StoreRegionDef(r)
					children.Inc()
				}
				task.Region().SetTaskStatus(StatusComplete)
				l.StoreRegionDef(task.Region())
				children.Inc()
				leaves.Inc()
				l.Leave()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(1), parallelDestroys.Load())
		assert.False(t, destroyedEarly.Load())
		assert.Equal(t, int(children.Load())+1, sink.NumRegionDefs())
		for _, d := range sink.RegionDefs {
			assert.Equal(t, 1, sink.RegionDefCount(d.Ref), "region %d", d.Ref)
		}

		for _, l := range locs {
			l.Destroy()
		}
		require.NoError(t, s.Close())
		assert.Equal(t, int(children.Load())+1, sink.NumRegionDefs())
	}
}

// Regions stored inside nested parallel regions go to the innermost one.
func TestNestedParallelQueues(t *testing.T) {
	s, sink := newTestSession(t)
	l := newTestLocation(t, s)
	outer := s.NewParallelRegion(0, 0, 1, false)
	inner := s.NewParallelRegion(0, 0, 1, false)
	a := s.NewWorkshareRegion(0, WorkLoop, 1)
	b := s.NewWorkshareRegion(0, WorkLoop, 1)
	c := s.NewWorkshareRegion(0, WorkLoop, 1)

	l.StoreRegionDef(c)
	l.Enter(outer)
	l.StoreRegionDef(a)
	l.Enter(inner)
	l.StoreRegionDef(b)
	l.Leave()
	assert.True(t, inner.Destroyed())
	assert.True(t, b.Destroyed())
	assert.False(t, a.Destroyed())
	assert.Equal(t, 2, sink.NumRegionDefs())

	l.Leave()
	assert.True(t, a.Destroyed())
	assert.Equal(t, 4, sink.NumRegionDefs())
	assert.False(t, c.Destroyed())

	l.Destroy()
	assert.True(t, c.Destroyed())
	assert.Equal(t, 5, sink.NumRegionDefs())
	requireViolation(t, ErrDoubleDestroy, func() { l.Destroy() })
	requireViolation(t, ErrInvalidRegionKind, func() { newTestLocation(t, s).StoreRegionDef(outer) })
}

func TestTaskSwitchTransplant(t *testing.T) {
	s, sink := newTestSession(t)
	l := newTestLocation(t, s)
	a := s.NewTask(nil, TaskImplicit, false, nil, 0)
	b := s.NewTask(a, TaskExplicit, false, nil, 0)
	x := s.NewWorkshareRegion(a.ID(), WorkLoop, 1)
	y := s.NewSyncRegion(a.ID(), SyncTaskwait, false)
	z := s.NewMasterRegion(b.ID(), l.ID())

	l.Enter(a.Region())
	l.Enter(x)
	l.Enter(y)
	before := l.Stack()

	l.TaskSwitch(a.Region(), StatusSwitch, b.Region())
	assert.Equal(t, 0, l.StackDepth())
	assert.Equal(t, 3, a.Region().SavedStackDepth())
	assert.Equal(t, StatusSwitch, a.Status())

	l.Enter(z)
	l.TaskSwitch(b.Region(), StatusYield, a.Region())
	assert.Equal(t, before, l.Stack())
	assert.Equal(t, 0, a.Region().SavedStackDepth())
	assert.Equal(t, 1, b.Region().SavedStackDepth())

	l.TaskSwitch(a.Region(), StatusYield, b.Region())
	assert.Equal(t, []*Region{z}, l.Stack())
	l.TaskSwitch(b.Region(), StatusComplete, a.Region())
	assert.Equal(t, before, l.Stack())

	// switching to the running task leaves the stack alone
	l.TaskSwitch(a.Region(), StatusYield, a.Region())
	assert.Equal(t, before, l.Stack())

	requireViolation(t, ErrInvalidRegionKind, func() { l.TaskSwitch(x, StatusYield, b.Region()) })
	requireViolation(t, ErrNilRegion, func() { l.TaskSwitch(a.Region(), StatusYield, nil) })

	l.Destroy()
	require.NoError(t, s.Close())
	tr := sink.Trace()
	var switches []archive.Event
	for _, e := range tr.Events[l.Ref()] {
		if e.Kind == archive.TaskSwitch {
			switches = append(switches, e)
		}
	}
	require.Len(t, switches, 5)
	e := switches[0]
	assert.Equal(t, b.Region().Ref(), e.Region)
	m := tr.AttrMap(&e)
	assert.Equal(t, "task_switch", m["event_type"])
	assert.Equal(t, "discrete", m["endpoint"])
	assert.Equal(t, a.ID(), m["prior_task_id"])
	assert.Equal(t, b.ID(), m["next_task_id"])
	assert.Equal(t, "switch", m["prior_task_status"])
	assert.Equal(t, "explicit_task", m["next_task_region_type"])
	assert.Equal(t, "implicit_task", m["region_type"])
}

func TestTaskSwitchSavedStackNotEmpty(t *testing.T) {
	s, _ := newTestSession(t)
	l := newTestLocation(t, s)
	a := s.NewTask(nil, TaskImplicit, false, nil, 0)
	b := s.NewTask(a, TaskExplicit, false, nil, 0)
	x := s.NewWorkshareRegion(a.ID(), WorkLoop, 1)
	y := s.NewWorkshareRegion(a.ID(), WorkLoop, 1)

	l.Enter(x)
	l.TaskSwitch(a.Region(), StatusYield, b.Region())
	l.Enter(y)
	// a still holds x: the regions are kept, not overwritten
	l.TaskSwitch(a.Region(), StatusYield, b.Region())
	assert.Equal(t, 2, a.Region().SavedStackDepth())
	assert.Equal(t, 0, l.StackDepth())
}

func TestTaskSwitchPair(t *testing.T) {
	s, sink := newTestSession(t, WithTaskSwitchMode(SwitchPair))
	l := newTestLocation(t, s)
	a := s.NewTask(nil, TaskImplicit, false, nil, 0)
	b := s.NewTask(a, TaskExplicit, false, nil, 0)

	l.TaskSwitch(a.Region(), StatusYield, b.Region())
	require.NoError(t, s.Close())

	tr := sink.Trace()
	events := tr.Events[l.Ref()]
	require.Len(t, events, 2)
	assert.Equal(t, archive.Leave, events[0].Kind)
	assert.Equal(t, a.Region().Ref(), events[0].Region)
	assert.Equal(t, "task_leave", tr.EventType(&events[0]))
	assert.Equal(t, "yield", tr.StringAttr(&events[0], attr.PriorTaskStatus))
	assert.Equal(t, archive.Enter, events[1].Kind)
	assert.Equal(t, b.Region().Ref(), events[1].Region)
	assert.Equal(t, "task_enter", tr.EventType(&events[1]))
	next, _ := events[1].Attr(attr.NextTaskID)
	assert.Equal(t, b.ID(), next.Value)
}

func TestTaskSchedule(t *testing.T) {
	s, _ := newTestSession(t)
	l := newTestLocation(t, s)
	a := s.NewTask(nil, TaskExplicit, false, nil, 0)
	l.TaskSchedule(a.Region(), StatusEarlyFulfil)
	assert.Equal(t, StatusEarlyFulfil, a.Status())
	assert.Equal(t, uint64(0), l.Events())
}

// Two sibling tasks under one parent, followed by a wait for the children.
func TestTwoSiblingTasks(t *testing.T) {
	s, sink := newTestSession(t)
	l := newTestLocation(t, s)
	parent := s.NewTask(nil, TaskInitial, false, nil, 0)

	var children []*Task
	for i := 0; i < 2; i++ {
		c := s.NewTask(parent, TaskExplicit, false, nil, uintptr(0x1000+i))
		l.TaskCreate(c.Region())
		l.Enter(c.Region())
		l.Leave()
		c.Region().SetTaskStatus(StatusComplete)
		l.StoreRegionDef(c.Region())
		children = append(children, c)
	}
	l.Synchronise(parent.Region(), false)
	l.Destroy()
	require.NoError(t, s.Close())

	tr := sink.Trace()
	events := tr.Events[l.Ref()]
	require.Len(t, events, 7)

	counts := make(map[string]int)
	for i := range events {
		counts[tr.EventType(&events[i])+"/"+tr.Endpoint(&events[i])]++
	}
	assert.Equal(t, map[string]int{
		"task_create/discrete": 2,
		"task_enter/enter":     2,
		"task_leave/leave":     2,
		"sync_begin/discrete":  1,
	}, counts)

	assert.NotEqual(t, events[1].Region, events[4].Region)
	assert.Equal(t, events[1].Region, events[2].Region)
	ra, _ := events[3].Attr(attr.TaskCreateRA)
	assert.Equal(t, uint64(0x1001), ra.Value)

	sync := events[6]
	enc, _ := sync.Attr(attr.EncounteringTaskID)
	assert.Equal(t, parent.ID(), enc.Value)
	assert.Equal(t, archive.UndefinedRef, sync.Region)
	assert.Equal(t, "taskwait", tr.StringAttr(&sync, attr.SyncType))

	assert.Equal(t, 2, sink.NumRegionDefs())
	for _, c := range children {
		d := tr.Regions[c.Region().Ref()]
		assert.Equal(t, archive.RoleTask, d.Role)
		assert.True(t, c.Region().Destroyed())
	}
}

func TestGraphTaskEvents(t *testing.T) {
	s, sink := newTestSession(t)
	l := newTestLocation(t, s)
	root := s.NewTask(nil, TaskInitial, false, nil, 0)
	src := s.SourceRef("main.go", "main.work", 7)
	task := s.NewTask(root, TaskExplicit, false, &src, 0)
	task.SetLabel("work 1")

	l.TaskBegin(task.Region())
	l.TaskEnd(task.Region())
	l.Synchronise(root.Region(), true)
	assert.Equal(t, StatusComplete, task.Status())
	assert.Equal(t, 0, l.StackDepth())
	require.NoError(t, s.Close())

	tr := sink.Trace()
	events := tr.Events[l.Ref()]
	require.Len(t, events, 3)
	for i, endpoint := range []string{"enter", "leave"} {
		e := events[i]
		assert.Equal(t, archive.TaskSwitch, e.Kind)
		assert.Equal(t, "task_switch", tr.EventType(&e))
		assert.Equal(t, endpoint, tr.Endpoint(&e))
		assert.Equal(t, "work 1", tr.StringAttr(&e, attr.TaskLabel))
		assert.Equal(t, "main.go", tr.StringAttr(&e, attr.SourceFileName))
		parent, _ := e.Attr(attr.ParentTaskID)
		assert.Equal(t, root.ID(), parent.Value)
	}
	enc, _ := events[0].Attr(attr.EncounteringTaskID)
	assert.Equal(t, root.ID(), enc.Value)
	enc, _ = events[1].Attr(attr.EncounteringTaskID)
	assert.Equal(t, task.ID(), enc.Value)

	desc, _ := events[2].Attr(attr.SyncDescendantTasks)
	assert.Equal(t, uint64(1), desc.Value)
	assert.Equal(t, "taskgroup", tr.StringAttr(&events[2], attr.SyncType))
}
