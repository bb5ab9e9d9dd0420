// Copyright (C) 2026 The Otter Authors. All rights reserved.

package otter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/otter-trace/otter-go/otter/internal/config"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/otter-trace/otter-go/otter/internal/trace"
	"github.com/otter-trace/otter-go/otter/internal/utils"
	"github.com/pkg/errors"
	"github.com/tebeka/atexit"
	"go.uber.org/atomic"
)

// MaxLabelLen is the longest task label recorded. Longer labels are
// truncated.
const MaxLabelLen = 256

// SyncMode selects which tasks a Synchronise call waits for.
type SyncMode int

const (
	// SyncChildren waits for the task's children.
	SyncChildren SyncMode = iota
	// SyncDescendants waits for all of the task's descendants.
	SyncDescendants
)

func (m SyncMode) String() string {
	if m == SyncDescendants {
		return "descendants"
	}
	return "children"
}

// Task is a handle to a task recorded by a Tracer. A nil *Task is accepted
// wherever a Task is.
type Task struct {
	task  *trace.Task
	label string
	ended atomic.Bool
}

// ID returns the task's unique id, or 0 for a nil task.
func (t *Task) ID() uint64 {
	if t == nil {
		return 0
	}
	return t.task.ID()
}

// Label returns the label the task was created with.
func (t *Task) Label() string {
	if t == nil {
		return ""
	}
	return t.label
}

// ParentID returns the id of the task's parent.
func (t *Task) ParentID() uint64 {
	if t == nil {
		return 0
	}
	return t.task.ParentID()
}

// Ended reports whether TaskEnd has been called on the task.
func (t *Task) Ended() bool {
	return t != nil && t.ended.Load()
}

// Tracer records the task graph of one program run. All of its methods are
// safe for concurrent use. Events are written to a single location, so the
// recording calls are serialized on the tracer's lock.
type Tracer struct {
	cfg     *config.Config
	session *trace.Session

	mu    sync.Mutex // guards loc and phase
	loc   *trace.Location
	root  *Task
	phase *Task

	pool      *labelPool
	active    atomic.Bool
	finalised atomic.Bool
}

// NewTracer opens a trace archive and starts the root task. The archive is
// configured from the environment, the config file and opts, in that order.
// Finalise is registered to run on Exit.
func NewTracer(opts ...Option) (*Tracer, error) {
	caller := utils.GetCaller(1)
	cfg := config.NewConfig(append(opts[:len(opts):len(opts)], config.WithEventModel(config.EventModelTaskGraph))...)

	session, err := trace.Open(cfg, trace.WithEventModel(config.EventModelTaskGraph))
	if err != nil {
		return nil, errors.Wrap(err, "otter: cannot start tracer")
	}
	loc, err := session.NewLocation(trace.ThreadInitial)
	if err != nil {
		session.Close()
		return nil, errors.Wrap(err, "otter: cannot start tracer")
	}

	t := &Tracer{
		cfg:     cfg,
		session: session,
		loc:     loc,
		pool:    newLabelPool(),
	}
	label := fmt.Sprintf("OTTER ROOT TASK (%s:%d)", caller.Func, caller.Line)
	t.root = t.newTask(nil, trace.TaskInitial, label, caller)

	loc.ThreadBegin()
	if !cfg.GetSuppressInitialTaskCreate() {
		loc.TaskCreate(t.root.task.Region())
	}
	loc.TaskBegin(t.root.task.Region())

	t.active.Store(!cfg.GetDisabled())
	atexit.Register(func() {
		if err := t.Finalise(); err != nil {
			log.Error(err)
		}
	})
	log.Infof("tracer started: archive=%s active=%v", session.Dir(), t.active.Load())
	return t, nil
}

// Dir returns the folder the archive is written to.
func (t *Tracer) Dir() string { return t.session.Dir() }

// Root returns the root task.
func (t *Tracer) Root() *Task { return t.root }

// Start resumes recording after Stop.
func (t *Tracer) Start() {
	t.active.Store(true)
	log.Debug("tracer started")
}

// Stop pauses recording. Until Start is called every recording call is a
// no-op that returns a nil task.
func (t *Tracer) Stop() {
	t.active.Store(false)
	log.Debug("tracer stopped")
}

// Active reports whether the tracer is recording.
func (t *Tracer) Active() bool {
	return t.active.Load() && !t.finalised.Load()
}

// Finalise ends the open phase and the root task and closes the archive.
// Calls after the first do nothing.
func (t *Tracer) Finalise() error {
	if !t.finalised.CAS(false, true) {
		return nil
	}

	t.mu.Lock()
	if t.phase != nil {
		t.endTaskLocked(t.phase)
		t.phase = nil
	}
	t.endTaskLocked(t.root)
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

// TaskInitialise creates a task without starting it. A nil parent makes the
// task a child of the current phase, or of the root task outside a phase.
// If addToPool is set the task is pushed under its label, as TaskPushLabel
// does. flavour is recorded with the task's events.
func (t *Tracer) TaskInitialise(parent *Task, flavour int, addToPool bool, format string, args ...interface{}) *Task {
	if !t.Active() {
		return nil
	}
	return t.taskInitialise(utils.GetCaller(1), parent, flavour, addToPool, format, args)
}

func (t *Tracer) taskInitialise(src utils.Caller, parent *Task, flavour int, addToPool bool, format string, args []interface{}) *Task {
	label := formatLabel(format, args)

	if !t.lockActive() {
		return nil
	}
	defer t.mu.Unlock()
	if parent == nil {
		parent = t.currentLocked()
	}
	task := t.newTask(parent, trace.TaskExplicit, label, src)
	task.task.SetFlavour(int32(flavour))
	t.loc.TaskCreate(task.task.Region())

	if addToPool {
		t.pool.push(label, task)
	}
	return task
}

// TaskStart records the start of task.
func (t *Tracer) TaskStart(task *Task) *Task {
	if !t.Active() {
		return nil
	}
	if task == nil {
		log.Warning("TaskStart called with a nil task")
		return nil
	}
	if !t.lockActive() {
		return nil
	}
	defer t.mu.Unlock()
	t.loc.TaskBegin(task.task.Region())
	return task
}

// TaskBegin creates a task and starts it.
func (t *Tracer) TaskBegin(parent *Task, format string, args ...interface{}) *Task {
	if !t.Active() {
		return nil
	}
	task := t.taskInitialise(utils.GetCaller(1), parent, 0, false, format, args)
	return t.TaskStart(task)
}

// TaskEnd records the end of task. A nil task is logged and ignored.
func (t *Tracer) TaskEnd(task *Task) {
	if !t.Active() {
		return
	}
	if task == nil {
		log.Warning("TaskEnd called with a nil task")
		return
	}
	if !t.lockActive() {
		return
	}
	defer t.mu.Unlock()
	t.endTaskLocked(task)
}

func (t *Tracer) endTaskLocked(task *Task) {
	if !task.ended.CAS(false, true) {
		log.Warningf("task %d (%s) ended twice", task.ID(), task.label)
		return
	}
	r := task.task.Region()
	t.loc.TaskEnd(r)
	t.loc.StoreRegionDef(r)
}

// TaskPushLabel pushes task onto the queue for the formatted label.
func (t *Tracer) TaskPushLabel(task *Task, format string, args ...interface{}) {
	if !t.Active() {
		return
	}
	if task == nil {
		log.Warning("TaskPushLabel called with a nil task")
		return
	}
	t.pool.push(formatLabel(format, args), task)
}

// TaskPopLabel removes and returns the oldest task pushed under the
// formatted label. It returns nil if no task was pushed under it.
func (t *Tracer) TaskPopLabel(format string, args ...interface{}) *Task {
	if !t.Active() {
		return nil
	}
	label := formatLabel(format, args)
	task, ok := t.pool.pop(label)
	if !ok {
		log.Warningf("no task queue for label %q", label)
		return nil
	}
	return task
}

// TaskBorrowLabel returns the oldest task pushed under the formatted label
// without removing it.
func (t *Tracer) TaskBorrowLabel(format string, args ...interface{}) *Task {
	if !t.Active() {
		return nil
	}
	label := formatLabel(format, args)
	task, ok := t.pool.borrow(label)
	if !ok {
		log.Warningf("no task queue for label %q", label)
		return nil
	}
	return task
}

// Synchronise records that task waits for its children or descendants. A nil
// task stands for the current phase, or the root task outside a phase.
func (t *Tracer) Synchronise(task *Task, mode SyncMode) {
	if !t.Active() {
		return
	}
	if !t.lockActive() {
		return
	}
	defer t.mu.Unlock()
	if task == nil {
		task = t.currentLocked()
	}
	t.loc.Synchronise(task.task.Region(), mode == SyncDescendants)
}

// PhaseBegin starts a phase named name. Tasks created with a nil parent
// until PhaseEnd are children of the phase. A phase that is still active is
// ended first.
func (t *Tracer) PhaseBegin(name string) {
	if !t.Active() {
		return
	}
	if !t.lockActive() {
		return
	}
	defer t.mu.Unlock()
	if t.phase != nil {
		log.Warningf("phase %q begun while %q is active", name, t.phase.label)
		t.endPhaseLocked()
	}
	t.beginPhaseLocked(utils.GetCaller(1), name)
}

// PhaseEnd ends the active phase.
func (t *Tracer) PhaseEnd() {
	if !t.Active() {
		return
	}
	if !t.lockActive() {
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
	if !t.Active() {
		return
	}
	if !t.lockActive() {
		return
	}
	defer t.mu.Unlock()
	if t.phase != nil {
		t.endPhaseLocked()
	}
	t.beginPhaseLocked(utils.GetCaller(1), name)
}

// Phase returns the active phase's task, or nil.
func (t *Tracer) Phase() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

func (t *Tracer) beginPhaseLocked(src utils.Caller, name string) {
	label := fmt.Sprintf("OTTER PHASE: %q (%s:%d)", name, src.Func, src.Line)
	t.phase = t.newTask(t.root, trace.TaskExplicit, label, src)
	t.loc.TaskBegin(t.phase.task.Region())
}

func (t *Tracer) endPhaseLocked() {
	t.endTaskLocked(t.phase)
	t.phase = nil
}

// lockActive takes the tracer's lock unless the tracer has been finalised.
func (t *Tracer) lockActive() bool {
	t.mu.Lock()
	if t.finalised.Load() {
		t.mu.Unlock()
		return false
	}
	return true
}

// currentLocked returns the task that stands in for a nil task.
func (t *Tracer) currentLocked() *Task {
	if t.phase != nil {
		return t.phase
	}
	return t.root
}

func (t *Tracer) newTask(parent *Task, flags trace.TaskFlag, label string, src utils.Caller) *Task {
	ref := t.session.SourceRef(src.File, src.Func, src.Line)
	var pt *trace.Task
	if parent != nil {
		pt = parent.task
	}
	tt := t.session.NewTask(pt, flags, false, &ref, src.PC)
	if label != "" {
		tt.SetLabel(label)
	}
	return &Task{task: tt, label: label}
}

// formatLabel formats a task label and truncates it to MaxLabelLen bytes.
func formatLabel(format string, args []interface{}) string {
	label := format
	if len(args) > 0 {
		label = fmt.Sprintf(format, args...)
	}
	if len(label) > MaxLabelLen {
		log.Warningf("task label truncated to %d bytes: %.32q...", MaxLabelLen, label)
		label = strings.ToValidUTF8(label[:MaxLabelLen], "")
	}
	return label
}
