// Copyright (C) 2026 The Otter Authors. All rights reserved.

package trace

import (
	"github.com/otter-trace/otter-go/otter/internal/archive"
)

// Task is one logical task and the region that represents it.
type Task struct {
	id     uint64
	flags  TaskFlag
	parent *Task
	region *Region
}

// NewTask allocates a task id and the task's region. A nil parent makes the
// task an orphan. src may be nil when no source location is known.
func (s *Session) NewTask(parent *Task, flags TaskFlag, hasDeps bool, src *SourceRef, createRA uintptr) *Task {
	t := &Task{
		id:     s.refs.NextID(),
		flags:  flags,
		parent: parent,
	}
	var pr *Region
	if parent != nil {
		pr = parent.region
	}
	var sr SourceRef
	if src != nil {
		sr = *src
	}
	t.region = s.NewTaskRegion(pr, t.id, flags, hasDeps, sr, uint64(createRA))
	return t
}

func (t *Task) ID() uint64 { return t.id }

// Kind returns the kind bits of the task's flags.
func (t *Task) Kind() TaskFlag { return t.flags.Kind() }

func (t *Task) Flags() TaskFlag { return t.flags }

func (t *Task) Region() *Region { return t.region }

// Parent returns the parent task, or nil for an orphan.
func (t *Task) Parent() *Task { return t.parent }

// ParentID returns the parent's id, or archive.UndefinedID for an orphan.
func (t *Task) ParentID() uint64 {
	if t.parent == nil {
		return archive.UndefinedID
	}
	return t.parent.id
}

// Status returns the task's current status.
func (t *Task) Status() TaskStatus { return t.region.TaskStatus() }

// SetLabel interns text and attaches it to the task's events.
func (t *Task) SetLabel(text string) {
	ta := t.region.payload.(*TaskAttr)
	ta.Label = t.region.session.strings.MustInsert(text)
}

// Label returns the string reference of the task's label, or 0.
func (t *Task) Label() uint32 {
	return t.region.payload.(*TaskAttr).Label
}

// SetFlavour records a user-defined classification of the task.
func (t *Task) SetFlavour(flavour int32) {
	t.region.payload.(*TaskAttr).Flavour = flavour
}
