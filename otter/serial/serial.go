// Copyright (C) 2026 The Otter Authors. All rights reserved.

// Package serial annotates a sequential program as if its structure were
// executed by a parallel runtime. Tasks, loops, single regions and
// synchronisation points are recorded on one location, so the trace can be
// compared with the trace of a parallel implementation of the same
// algorithm.
//
// Calls must nest: every Begin is matched by the corresponding End before
// the enclosing construct ends.
package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/otter-trace/otter-go/otter"
	"github.com/otter-trace/otter-go/otter/internal/config"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/otter-trace/otter-go/otter/internal/trace"
	"github.com/otter-trace/otter-go/otter/internal/utils"
	"github.com/pkg/errors"
	"github.com/tebeka/atexit"
	"go.uber.org/atomic"
)

// Tracer records the annotated structure of a sequential program.
type Tracer struct {
	session *trace.Session

	mu    sync.Mutex // guards the fields below
	loc   *trace.Location
	tasks []*trace.Task
	phase *trace.Region

	active    atomic.Bool
	finalised atomic.Bool
}

// NewTracer opens a trace archive and enters the initial task.
func NewTracer(opts ...otter.Option) (*Tracer, error) {
	src := utils.GetCaller(1)
	cfg := config.NewConfig(append(opts[:len(opts):len(opts)], config.WithEventModel(config.EventModelSerial))...)

	session, err := trace.Open(cfg, trace.WithEventModel(config.EventModelSerial))
	if err != nil {
		return nil, errors.Wrap(err, "serial: cannot start tracer")
	}
	loc, err := session.NewLocation(trace.ThreadInitial)
	if err != nil {
		session.Close()
		return nil, errors.Wrap(err, "serial: cannot start tracer")
	}

	t := &Tracer{session: session, loc: loc}
	loc.ThreadBegin()
	initial := t.newTask(nil, trace.TaskInitial, src)
	if !cfg.GetSuppressInitialTaskCreate() {
		loc.TaskCreate(initial.Region())
	}
	loc.Enter(initial.Region())
	t.tasks = append(t.tasks, initial)

	t.active.Store(!cfg.GetDisabled())
	atexit.Register(func() {
		if err := t.Finalise(); err != nil {
			log.Error(err)
		}
	})
	return t, nil
}

// Dir returns the folder the archive is written to.
func (t *Tracer) Dir() string { return t.session.Dir() }

// Start resumes recording.
func (t *Tracer) Start() {
	if t.active.Swap(true) {
		log.Info("serial tracer already started")
		return
	}
	log.Info("serial tracer started")
}

// Stop pauses recording. Begin and End calls made while stopped are not
// recorded, so a construct must not span a Stop and Start.
func (t *Tracer) Stop() {
	if !t.active.Swap(false) {
		log.Info("serial tracer already stopped")
		return
	}
	log.Info("serial tracer stopped")
}

// Finalise leaves the initial task and closes the archive. Calls after the
// first do nothing.
func (t *Tracer) Finalise() error {
	if !t.finalised.CAS(false, true) {
		return nil
	}

	t.mu.Lock()
	if t.phase != nil {
		t.endPhaseLocked()
	}
	if n := len(t.tasks); n != 1 {
		log.Warningf("serial tracer finalised with %d tasks still running", n-1)
	}
	if r := t.loc.Top(); r != nil && r == t.tasks[0].Region() {
		t.loc.Leave()
		r.SetTaskStatus(trace.StatusComplete)
		t.loc.StoreRegionDef(r)
	} else {
		log.Warningf("serial tracer finalised inside %v", r)
	}
	t.loc.ThreadEnd()
	t.loc.Destroy()
	t.mu.Unlock()

	err := t.session.Close()
	if dir := t.session.Dir(); dir != "" {
		if abs, aerr := filepath.Abs(dir); aerr == nil {
			dir = abs
		}
		fmt.Fprintf(os.Stderr, "OTTER_TRACE_FOLDER=%s\n", dir)
	}
	return err
}

// ThreadsBegin enters a parallel region and its implicit task.
func (t *Tracer) ThreadsBegin() {
	if !t.lock("ThreadsBegin") {
		return
	}
	defer t.mu.Unlock()
	src := utils.GetCaller(1)

	enc := t.current()
	par := t.session.NewParallelRegion(enc.ID(), t.loc.ID(), 1, false)
	t.loc.Enter(par)

	implicit := t.newTask(enc, trace.TaskImplicit, src)
	t.loc.Enter(implicit.Region())
	t.tasks = append(t.tasks, implicit)
}

// ThreadsEnd leaves the implicit task and the parallel region begun by
// ThreadsBegin.
func (t *Tracer) ThreadsEnd() {
	if !t.lock("ThreadsEnd") {
		return
	}
	defer t.mu.Unlock()

	implicit := t.current()
	if !implicit.Flags().Has(trace.TaskImplicit) {
		log.Errorf("ThreadsEnd called outside an implicit task (task %d)", implicit.ID())
		return
	}
	t.tasks = t.tasks[:len(t.tasks)-1]
	r := t.leave(trace.KindTask, "ThreadsEnd")
	r.SetTaskStatus(trace.StatusComplete)
	t.loc.StoreRegionDef(r)
	t.leave(trace.KindParallel, "ThreadsEnd")
}

// TaskBegin creates an explicit task and switches to it.
func (t *Tracer) TaskBegin() {
	if !t.lock("TaskBegin") {
		return
	}
	defer t.mu.Unlock()
	src := utils.GetCaller(1)

	enc := t.current()
	task := t.newTask(enc, trace.TaskExplicit, src)
	t.loc.TaskCreate(task.Region())
	t.loc.TaskSwitch(enc.Region(), trace.StatusSwitch, task.Region())
	t.tasks = append(t.tasks, task)
}

// TaskEnd completes the task begun by the matching TaskBegin and switches
// back to the task that created it.
func (t *Tracer) TaskEnd() {
	if !t.lock("TaskEnd") {
		return
	}
	defer t.mu.Unlock()

	task := t.current()
	if !task.Flags().Has(trace.TaskExplicit) {
		log.Errorf("TaskEnd called outside an explicit task (task %d)", task.ID())
		return
	}
	t.tasks = t.tasks[:len(t.tasks)-1]
	t.loc.TaskSwitch(task.Region(), trace.StatusComplete, t.current().Region())
	t.loc.StoreRegionDef(task.Region())
}

// TaskSingleBegin enters a single region executed by this thread.
func (t *Tracer) TaskSingleBegin() {
	t.workshareBegin("TaskSingleBegin", trace.WorkSingleExecutor)
}

// TaskSingleEnd leaves the single region begun by TaskSingleBegin.
func (t *Tracer) TaskSingleEnd() {
	t.workshareEnd("TaskSingleEnd", trace.WorkSingleExecutor)
}

// LoopBegin enters a loop region.
func (t *Tracer) LoopBegin() {
	t.workshareBegin("LoopBegin", trace.WorkLoop)
}

// LoopEnd leaves the loop region begun by LoopBegin.
func (t *Tracer) LoopEnd() {
	t.workshareEnd("LoopEnd", trace.WorkLoop)
}

// LoopIterationBegin marks the start of a loop iteration. Iterations are
// not recorded.
func (t *Tracer) LoopIterationBegin() {
	if !t.active.Load() {
		log.Debug("LoopIterationBegin [INACTIVE]")
	}
}

// LoopIterationEnd marks the end of a loop iteration.
func (t *Tracer) LoopIterationEnd() {
	if !t.active.Load() {
		log.Debug("LoopIterationEnd [INACTIVE]")
	}
}

// SynchroniseTasks records the current task waiting for its children, or
// for all of its descendants.
func (t *Tracer) SynchroniseTasks(mode otter.SyncMode) {
	if !t.lock("SynchroniseTasks") {
		return
	}
	defer t.mu.Unlock()

	r := t.session.NewSyncRegion(t.current().ID(), trace.SyncTaskwait, mode == otter.SyncDescendants)
	t.loc.Enter(r)
	t.loc.Leave()
	t.loc.StoreRegionDef(r)
}

// SynchroniseDescendantTasksBegin enters a taskgroup: the current task waits
// at SynchroniseDescendantTasksEnd for every task created inside it.
func (t *Tracer) SynchroniseDescendantTasksBegin() {
	if !t.lock("SynchroniseDescendantTasksBegin") {
		return
	}
	defer t.mu.Unlock()
	t.loc.Enter(t.session.NewSyncRegion(t.current().ID(), trace.SyncTaskgroup, true))
}

// SynchroniseDescendantTasksEnd leaves the taskgroup.
func (t *Tracer) SynchroniseDescendantTasksEnd() {
	if !t.lock("SynchroniseDescendantTasksEnd") {
		return
	}
	defer t.mu.Unlock()
	r := t.leave(trace.KindSync, "SynchroniseDescendantTasksEnd")
	if sa, ok := r.Attributes().(*trace.SyncAttr); ok && sa.Type != trace.SyncTaskgroup {
		log.Errorf("SynchroniseDescendantTasksEnd left %s", r)
	}
	t.loc.StoreRegionDef(r)
}

// PhaseBegin enters a phase named name. A phase that is still active is
// ended first.
func (t *Tracer) PhaseBegin(name string) {
	if !t.lock("PhaseBegin") {
		return
	}
	defer t.mu.Unlock()
	if t.phase != nil {
		log.Warningf("phase %q begun while another phase is active", name)
		t.endPhaseLocked()
	}
	t.beginPhaseLocked(name)
}

// PhaseEnd leaves the active phase.
func (t *Tracer) PhaseEnd() {
	if !t.lock("PhaseEnd") {
		return
	}
	defer t.mu.Unlock()
	if t.phase == nil {
		log.Warning("PhaseEnd called with no active phase")
		return
	}
	t.endPhaseLocked()
}

// PhaseSwitch ends the active phase, if any, and begins a new one.
func (t *Tracer) PhaseSwitch(name string) {
	if !t.lock("PhaseSwitch") {
		return
	}
	defer t.mu.Unlock()
	if t.phase != nil {
		t.endPhaseLocked()
	}
	t.beginPhaseLocked(name)
}

func (t *Tracer) beginPhaseLocked(name string) {
	t.phase = t.session.NewPhaseRegion(t.current().ID(), trace.PhaseGeneric, name)
	t.loc.Enter(t.phase)
}

func (t *Tracer) endPhaseLocked() {
	if t.loc.Top() != t.phase {
		log.Errorf("phase %s ended inside %v", t.phase, t.loc.Top())
		t.phase = nil
		return
	}
	t.loc.Leave()
	t.loc.StoreRegionDef(t.phase)
	t.phase = nil
}

func (t *Tracer) workshareBegin(op string, kind trace.WorkKind) {
	if !t.lock(op) {
		return
	}
	defer t.mu.Unlock()
	t.loc.Enter(t.session.NewWorkshareRegion(t.current().ID(), kind, 1))
}

func (t *Tracer) workshareEnd(op string, kind trace.WorkKind) {
	if !t.lock(op) {
		return
	}
	defer t.mu.Unlock()
	r := t.leave(trace.KindWorkshare, op)
	if wa, ok := r.Attributes().(*trace.WorkshareAttr); ok && wa.Type != kind {
		log.Errorf("%s left %s", op, r)
	}
	t.loc.StoreRegionDef(r)
}

// leave pops the innermost region, which should be of kind.
func (t *Tracer) leave(kind trace.Kind, op string) *trace.Region {
	r := t.loc.Leave()
	if r.Kind() != kind {
		log.Errorf("%s expected to leave a %s region, left %s", op, kind, r)
	}
	return r
}

// lock takes the tracer's lock if the tracer is recording.
func (t *Tracer) lock(op string) bool {
	if !t.active.Load() {
		log.Debugf("%s [INACTIVE]", op)
		return false
	}
	t.mu.Lock()
	if t.finalised.Load() {
		t.mu.Unlock()
		log.Debugf("%s [FINALISED]", op)
		return false
	}
	return true
}

// current returns the innermost running task.
func (t *Tracer) current() *trace.Task {
	return t.tasks[len(t.tasks)-1]
}

func (t *Tracer) newTask(parent *trace.Task, flags trace.TaskFlag, src utils.Caller) *trace.Task {
	ref := t.session.SourceRef(src.File, src.Func, src.Line)
	return t.session.NewTask(parent, flags, false, &ref, src.PC)
}
