// Copyright (C) 2026 The Otter Authors. All rights reserved.

package trace

import (
	"fmt"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/otter-trace/otter-go/otter/internal/host"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"go.uber.org/atomic"
)

// Location is the trace's view of one executing goroutine or thread. It owns
// the stack of open regions and the queues collecting definitions of regions
// created under it. A Location must only be used by one goroutine at a time.
type Location struct {
	session    *Session
	id         uint64
	ref        uint32
	threadType ThreadType
	writer     archive.EventWriter

	stack  regionStack
	events atomic.Uint64
	// queues[0] is the location's own queue; each open parallel region
	// pushes another.
	queues []*defQueue
	attrs  *attr.List

	destroyed bool
}

// NewLocation creates a location with a fresh thread id and opens its event
// stream.
func (s *Session) NewLocation(threadType ThreadType) (*Location, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	l := &Location{
		session:    s,
		id:         s.refs.NextID(),
		ref:        s.refs.NextLocation(),
		threadType: threadType,
		queues:     []*defQueue{{}},
		attrs:      attr.NewList(s.labels),
	}
	w, err := s.sink.EventWriter(l.ref)
	if err != nil {
		return nil, err
	}
	l.writer = w
	s.addLocation(l)
	log.Debugf("new %s location %d (thread %d)", threadType, l.ref, l.id)
	return l, nil
}

func (l *Location) ID() uint64 { return l.id }

func (l *Location) Ref() uint32 { return l.ref }

func (l *Location) ThreadType() ThreadType { return l.threadType }

// Events returns the number of events written to the location.
func (l *Location) Events() uint64 { return l.events.Load() }

// StackDepth returns the number of open regions.
func (l *Location) StackDepth() int { return l.stack.len() }

// Top returns the innermost open region, or nil.
func (l *Location) Top() *Region { return l.stack.top() }

// Stack returns the open regions, outermost first.
func (l *Location) Stack() []*Region {
	return append([]*Region(nil), l.stack...)
}

func (l *Location) String() string {
	return fmt.Sprintf("location %d", l.ref)
}

// write appends one event to the location's stream. Failures are logged and
// counted, never retried.
func (l *Location) write(kind archive.EventKind, region uint32, attrs []attr.Attribute) {
	e := &archive.Event{
		Kind:       kind,
		Time:       l.session.now(),
		Region:     region,
		Attributes: attrs,
	}
	if err := l.writer.WriteEvent(e); err != nil {
		l.session.dropped.Inc()
		log.Errorf("%s: dropped %s event: %v", l, kind, err)
		return
	}
	l.events.Inc()
}

func (l *Location) threadEvent(kind archive.EventKind, event, endpoint attr.Label) {
	a := l.attrs
	a.AddUint64(attr.UniqueID, l.id)
	a.AddLabel(attr.ThreadType, l.threadType.label())
	a.AddInt32(attr.CPU, host.CPU())
	a.AddLabel(attr.EventType, event)
	a.AddLabel(attr.Endpoint, endpoint)
	l.write(kind, archive.UndefinedRef, a.Take())
}

// ThreadBegin records the start of the location's thread.
func (l *Location) ThreadBegin() {
	log.Debugf("%s: thread begin", l)
	l.threadEvent(archive.ThreadBegin, attr.EventThreadBegin, attr.EndpointEnter)
}

// ThreadEnd records the end of the location's thread.
func (l *Location) ThreadEnd() {
	log.Debugf("%s: thread end", l)
	l.threadEvent(archive.ThreadEnd, attr.EventThreadEnd, attr.EndpointLeave)
}

// addCommon appends the attributes every region event carries.
func addCommon(a *attr.List, encountering uint64, regionType attr.Label) {
	a.AddInt32(attr.CPU, host.CPU())
	a.AddUint64(attr.EncounteringTaskID, encountering)
	a.AddLabel(attr.RegionType, regionType)
}

func (l *Location) regionEvent(r *Region, kind archive.EventKind, event, endpoint attr.Label) {
	a := r.attrs
	addCommon(a, r.encounteringTask, r.typeLabel())
	a.AddLabel(attr.EventType, event)
	a.AddLabel(attr.Endpoint, endpoint)
	r.addAttributes(a)
	l.write(kind, r.ref, a.Take())
}

// Enter records entry into r and pushes it. Entering a shared region also
// starts a new definition queue for regions created inside it on this
// location.
func (l *Location) Enter(r *Region) {
	if r == nil {
		violation("enter", ErrNilRegion, "%s", l)
	}
	shared := r.IsShared()
	if shared {
		l.queues = append(l.queues, &defQueue{})
		r.Lock()
	}

	begin, _ := r.eventLabels()
	l.regionEvent(r, archive.Enter, begin, attr.EndpointEnter)
	l.stack.push(r)

	if shared {
		r.IncRef()
		r.Unlock()
	}
	log.Debugf("%s: enter %s (depth %d)", l, r, l.stack.len())
}

// Leave pops and records leaving the innermost open region, which it
// returns. A shared region is destroyed by the leave that empties it once it
// has been entered as many times as its requested parallelism. A region that
// empties earlier stays open for the remaining threads and is destroyed when
// the session closes if they never arrive.
func (l *Location) Leave() *Region {
	r, ok := l.stack.pop()
	if !ok {
		violation("leave", ErrStackUnderflow, "%s", l)
	}
	shared := r.IsShared()
	if shared {
		r.Lock()
	}

	_, end := r.eventLabels()
	l.regionEvent(r, archive.Leave, end, attr.EndpointLeave)

	if !shared {
		log.Debugf("%s: leave %s", l, r)
		return r
	}

	p := r.payload.(*ParallelAttr)
	p.queue.appendQueue(l.popQueue())
	empty := r.DecRef() == 0
	last := empty && r.EnterCount() >= int64(p.RequestedParallelism)
	r.Unlock()

	log.Debugf("%s: leave %s (last=%v)", l, r, last)
	switch {
	case last:
		l.session.unpark(r)
		r.destroy()
	case empty:
		l.session.park(r)
	}
	return r
}

// popQueue removes the queue pushed by the matching Enter. The location's own
// queue is never removed.
func (l *Location) popQueue() *defQueue {
	n := len(l.queues)
	if n == 1 {
		log.Warningf("%s: no nested definition queue to hand over", l)
		q := &defQueue{}
		q.appendQueue(l.queues[0])
		return q
	}
	q := l.queues[n-1]
	l.queues[n-1] = nil
	l.queues = l.queues[:n-1]
	return q
}

// TaskCreate records the creation of the task region r. The task is not
// entered.
func (l *Location) TaskCreate(r *Region) {
	t := r.task("task create")
	a := r.attrs
	addCommon(a, r.encounteringTask, r.typeLabel())
	a.AddLabel(attr.EventType, attr.EventTaskCreate)
	a.AddLabel(attr.Endpoint, attr.EndpointDiscrete)
	a.AddUint64(attr.TaskCreateRA, t.CreateRA)
	r.addAttributes(a)
	l.write(archive.TaskCreate, r.ref, a.Take())
	log.Debugf("%s: task create %d", l, t.ID)
}

// TaskSwitch suspends prior with status and resumes next on this location.
// The open regions move to prior's saved stack and next's saved regions
// become the location's open regions. The switch is recorded as one discrete
// event, or as a task leave and task enter pair when the session is in pair
// mode.
func (l *Location) TaskSwitch(prior *Region, status TaskStatus, next *Region) {
	pt := prior.task("task switch")
	nt := next.task("task switch")
	pt.Status = status

	if l.session.switchMode == SwitchPair {
		l.taskSwitchEvent(prior, archive.Leave, attr.EventTaskLeave, attr.EndpointLeave, next)
	}

	if prior != next {
		if pt.stack.len() != 0 {
			log.Errorf("%s: task %d: %v (%d regions)", l, pt.ID, ErrStackNotEmpty, pt.stack.len())
		}
		open := l.stack.take()
		l.stack = nt.stack.take()
		pt.stack = append(pt.stack, open...)
	}

	if l.session.switchMode == SwitchPair {
		l.taskSwitchEvent(next, archive.Enter, attr.EventTaskEnter, attr.EndpointEnter, prior)
	} else {
		l.taskSwitchEvent(prior, archive.TaskSwitch, attr.EventTaskSwitch, attr.EndpointDiscrete, next)
	}
	log.Debugf("%s: task switch %d (%s) -> %d", l, pt.ID, status, nt.ID)
}

// taskSwitchEvent records one side of a task switch. The event refers to
// subject; other is the task on the far side of the switch.
func (l *Location) taskSwitchEvent(subject *Region, kind archive.EventKind, event, endpoint attr.Label, other *Region) {
	st, ot := subject.payload.(*TaskAttr), other.payload.(*TaskAttr)
	prior, next := st, ot
	if kind == archive.Enter {
		prior, next = ot, st
	}

	a := l.attrs
	addCommon(a, prior.ID, prior.Flags.typeLabel())
	a.AddLabel(attr.PriorTaskStatus, prior.Status.label())
	a.AddUint64(attr.PriorTaskID, prior.ID)
	a.AddUint64(attr.UniqueID, next.ID)
	a.AddUint64(attr.NextTaskID, next.ID)
	a.AddLabel(attr.NextTaskRegionType, next.Flags.typeLabel())
	a.AddLabel(attr.EventType, event)
	a.AddLabel(attr.Endpoint, endpoint)
	ref := subject.ref
	if kind == archive.TaskSwitch {
		ref = other.ref
	}
	l.write(kind, ref, a.Take())
}

// TaskSchedule records that prior reached a scheduling point with status.
// No event is written.
func (l *Location) TaskSchedule(prior *Region, status TaskStatus) {
	prior.SetTaskStatus(status)
}

// TaskBegin records the start of a task-graph task. Task-graph tasks are not
// pushed: tasks on a shared location may begin and end in any order.
func (l *Location) TaskBegin(r *Region) {
	l.graphTaskEvent(r, attr.EndpointEnter, r.encounteringTask)
}

// TaskEnd records the end of a task-graph task and marks it complete.
func (l *Location) TaskEnd(r *Region) {
	t := r.task("task end")
	t.Status = StatusComplete
	l.graphTaskEvent(r, attr.EndpointLeave, t.ID)
}

func (l *Location) graphTaskEvent(r *Region, endpoint attr.Label, encountering uint64) {
	t := r.task("task " + endpoint.String())
	a := r.attrs
	addCommon(a, encountering, r.typeLabel())
	a.AddLabel(attr.EventType, attr.EventTaskSwitch)
	a.AddLabel(attr.Endpoint, endpoint)
	a.AddUint64(attr.UniqueID, t.ID)
	a.AddUint64(attr.ParentTaskID, t.ParentID)
	a.AddInt32(attr.TaskFlavour, t.Flavour)
	if !t.Source.IsZero() {
		a.AddUint32(attr.SourceLineNumber, t.Source.Line)
		a.AddStringRef(attr.SourceFileName, t.Source.File)
		a.AddStringRef(attr.SourceFuncName, t.Source.Func)
	}
	if t.Label != 0 {
		a.AddStringRef(attr.TaskLabel, t.Label)
	}
	l.write(archive.TaskSwitch, r.ref, a.Take())
	log.Debugf("%s: task %d %s", l, t.ID, endpoint)
}

// Synchronise records a discrete sync event for the task that waits on its
// children, or on all of its descendants. No region is allocated.
func (l *Location) Synchronise(encountering *Region, descendants bool) {
	t := encountering.task("synchronise")
	kind := SyncTaskwait
	if descendants {
		kind = SyncTaskgroup
	}
	a := l.attrs
	addCommon(a, t.ID, kind.label())
	a.AddLabel(attr.SyncType, kind.label())
	a.AddLabel(attr.EventType, attr.EventSyncBegin)
	a.AddLabel(attr.Endpoint, attr.EndpointDiscrete)
	a.AddBool(attr.SyncDescendantTasks, descendants)
	l.write(archive.Enter, archive.UndefinedRef, a.Take())
	log.Debugf("%s: synchronise task %d (descendants=%v)", l, t.ID, descendants)
}

// StoreRegionDef queues the definition of r. It is written when the
// innermost parallel region open on this location is destroyed, or when the
// location is destroyed if there is none.
func (l *Location) StoreRegionDef(r *Region) {
	if r == nil {
		violation("store region definition", ErrNilRegion, "%s", l)
	}
	if r.IsShared() {
		violation("store region definition", ErrInvalidRegionKind, "%s writes its own definition", r)
	}
	l.queues[len(l.queues)-1].push(r)
}

// Destroy writes every definition still queued on the location, followed by
// the location's own definition. The location cannot be used afterwards.
func (l *Location) Destroy() {
	if l.destroyed {
		violation("destroy location", ErrDoubleDestroy, "%s", l)
	}
	l.destroyed = true
	s := l.session

	if n := l.stack.len(); n != 0 {
		log.Warningf("%s: destroyed with %d open regions", l, n)
	}
	if n := len(l.queues); n != 1 {
		log.Warningf("%s: destroyed inside %d parallel regions", l, n-1)
	}

	s.defMu.Lock()
	var count int
	for _, q := range l.queues {
		count += q.drain(func(r *Region) {
			r.writeDefinition()
			r.destroy()
		})
	}
	name := s.refs.NextString()
	if err := s.sink.WriteStringDef(name, fmt.Sprintf("Thread %d", l.id)); err != nil {
		s.defError(err, "%s name", l)
	}
	def := archive.LocationDef{
		Ref:    l.ref,
		Name:   name,
		Type:   archive.LocationTypeThread,
		Events: l.events.Load(),
		Group:  0,
	}
	if err := s.sink.WriteLocationDef(def); err != nil {
		s.defError(err, "%s", l)
	}
	s.defMu.Unlock()

	l.queues = nil
	s.removeLocation(l)
	log.Debugf("destroyed %s: %d events, %d queued definitions", l, def.Events, count)
}
