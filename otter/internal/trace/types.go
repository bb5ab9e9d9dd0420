// Copyright (C) 2026 The Otter Authors. All rights reserved.

package trace

import (
	"fmt"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	"github.com/otter-trace/otter-go/otter/internal/attr"
)

// TaskFlag holds a task's kind bits and modifiers.
type TaskFlag uint32

// task flags
const (
	TaskInitial  TaskFlag = 0x00000001
	TaskImplicit TaskFlag = 0x00000002
	TaskExplicit TaskFlag = 0x00000004
	TaskTarget   TaskFlag = 0x00000008
	TaskTaskwait TaskFlag = 0x00000010

	TaskUndeferred TaskFlag = 0x08000000
	TaskUntied     TaskFlag = 0x10000000
	TaskFinal      TaskFlag = 0x20000000
	TaskMergeable  TaskFlag = 0x40000000
	TaskMerged     TaskFlag = 0x80000000

	taskKindMask = TaskInitial | TaskImplicit | TaskExplicit | TaskTarget
)

// Kind returns only the kind bits of f.
func (f TaskFlag) Kind() TaskFlag { return f & taskKindMask }

// Has reports whether every bit of flag is set.
func (f TaskFlag) Has(flag TaskFlag) bool { return f&flag == flag }

func (f TaskFlag) typeLabel() attr.Label {
	switch f.Kind() {
	case TaskInitial:
		return attr.TaskTypeInitial
	case TaskImplicit:
		return attr.TaskTypeImplicit
	case TaskExplicit:
		return attr.TaskTypeExplicit
	case TaskTarget:
		return attr.TaskTypeTarget
	}
	return attr.TaskTypeUndefined
}

func (f TaskFlag) kindName() string {
	switch f.Kind() {
	case TaskInitial:
		return "initial"
	case TaskImplicit:
		return "implicit"
	case TaskExplicit:
		return "explicit"
	case TaskTarget:
		return "target"
	}
	return "undefined"
}

// TaskStatus is the reason a task reached a scheduling point.
type TaskStatus uint8

// task statuses
const (
	StatusUndefined TaskStatus = iota
	StatusComplete
	StatusYield
	StatusCancel
	StatusDetach
	StatusEarlyFulfil
	StatusLateFulfil
	StatusSwitch
)

var statusLabels = map[TaskStatus]attr.Label{
	StatusUndefined:   attr.StatusUndefined,
	StatusComplete:    attr.StatusComplete,
	StatusYield:       attr.StatusYield,
	StatusCancel:      attr.StatusCancel,
	StatusDetach:      attr.StatusDetach,
	StatusEarlyFulfil: attr.StatusEarlyFulfil,
	StatusLateFulfil:  attr.StatusLateFulfil,
	StatusSwitch:      attr.StatusSwitch,
}

func (s TaskStatus) label() attr.Label {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return attr.StatusUndefined
}

func (s TaskStatus) String() string { return s.label().String() }

// ThreadType classifies a location.
type ThreadType uint8

// thread types
const (
	ThreadInitial ThreadType = iota + 1
	ThreadWorker
	ThreadOther
	ThreadUnknown
)

func (t ThreadType) label() attr.Label {
	switch t {
	case ThreadInitial:
		return attr.ThreadInitial
	case ThreadWorker:
		return attr.ThreadWorker
	case ThreadOther:
		return attr.ThreadOther
	}
	return attr.ThreadUnknown
}

func (t ThreadType) String() string { return t.label().String() }

// WorkKind is the construct a workshare region represents.
type WorkKind uint8

// workshare kinds
const (
	WorkLoop WorkKind = iota + 1
	WorkSections
	WorkSingleExecutor
	WorkSingleOther
	WorkWorkshare
	WorkDistribute
	WorkTaskloop
)

var workKinds = map[WorkKind]struct {
	label attr.Label
	role  archive.Role
}{
	WorkLoop:           {attr.RegionLoop, archive.RoleLoop},
	WorkSections:       {attr.RegionSections, archive.RoleSections},
	WorkSingleExecutor: {attr.RegionSingleExecutor, archive.RoleSingle},
	WorkSingleOther:    {attr.RegionSingleOther, archive.RoleSingle},
	WorkWorkshare:      {attr.RegionWorkshareGeneric, archive.RoleWorkshare},
	WorkDistribute:     {attr.RegionDistribute, archive.RoleUnknown},
	WorkTaskloop:       {attr.RegionTaskloop, archive.RoleLoop},
}

func (w WorkKind) label() attr.Label {
	if k, ok := workKinds[w]; ok {
		return k.label
	}
	return attr.LabelNotDefined
}

func (w WorkKind) role() archive.Role {
	if k, ok := workKinds[w]; ok {
		return k.role
	}
	return archive.RoleUnknown
}

func (w WorkKind) String() string { return w.label().String() }

// SyncKind is the construct a sync region represents.
type SyncKind uint8

// sync kinds
const (
	SyncBarrier SyncKind = iota + 1
	SyncBarrierImplicit
	SyncBarrierExplicit
	SyncBarrierImplementation
	SyncTaskwait
	SyncTaskgroup
)

var syncKinds = map[SyncKind]struct {
	label attr.Label
	role  archive.Role
}{
	SyncBarrier:               {attr.RegionBarrier, archive.RoleBarrier},
	SyncBarrierImplicit:       {attr.RegionBarrierImplicit, archive.RoleImplicitBarrier},
	SyncBarrierExplicit:       {attr.RegionBarrierExplicit, archive.RoleBarrier},
	SyncBarrierImplementation: {attr.RegionBarrierImplementation, archive.RoleBarrier},
	SyncTaskwait:              {attr.RegionTaskwait, archive.RoleTaskWait},
	SyncTaskgroup:             {attr.RegionTaskgroup, archive.RoleTaskWait},
}

func (s SyncKind) label() attr.Label {
	if k, ok := syncKinds[s]; ok {
		return k.label
	}
	return attr.LabelNotDefined
}

func (s SyncKind) role() archive.Role {
	if k, ok := syncKinds[s]; ok {
		return k.role
	}
	return archive.RoleUnknown
}

func (s SyncKind) String() string { return s.label().String() }

// PhaseKind classifies an algorithmic phase. Only generic phases exist.
type PhaseKind uint8

// PhaseGeneric is the only phase kind.
const PhaseGeneric PhaseKind = 1

func (p PhaseKind) label() attr.Label { return attr.RegionGenericPhase }

// SourceRef locates the construct that created a region. File and Func are
// string references; a zero File means no source location is known.
type SourceRef struct {
	File uint32
	Func uint32
	Line uint32
}

// IsZero reports whether no source location is recorded.
func (s SourceRef) IsZero() bool { return s.File == 0 }

func (s SourceRef) String() string {
	return fmt.Sprintf("file=%d func=%d line=%d", s.File, s.Func, s.Line)
}
