// Copyright (C) 2026 The Otter Authors. All rights reserved.

// Package attr defines the attribute keys and label strings attached to
// trace events, and the ordered attribute list each event carries.
package attr

import "fmt"

// Type is the value type of an attribute.
type Type uint8

// attribute value types
const (
	TypeUint8 Type = iota + 1
	TypeUint32
	TypeUint64
	TypeInt32
	TypeStringRef
)

var typeNames = map[Type]string{
	TypeUint8:     "uint8",
	TypeUint32:    "uint32",
	TypeUint64:    "uint64",
	TypeInt32:     "int32",
	TypeStringRef: "string",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Key identifies an attribute. Its numeric value doubles as the attribute
// reference written to the archive.
type Key uint32

// attribute keys
const (
	UniqueID Key = iota
	PriorTaskID
	NextTaskID
	EncounteringTaskID
	RequestedParallelism
	IsLeague
	WorkshareType
	WorkshareCount
	SyncType
	SyncDescendantTasks
	ParentTaskID
	TaskFlags
	TaskHasDependences
	PhaseType
	EventType
	CPU
	Endpoint
	TaskType
	ParentTaskType
	TaskIsUndeferred
	TaskIsUntied
	TaskIsFinal
	TaskIsMergeable
	TaskIsMerged
	ThreadType
	NextTaskRegionType
	RegionType
	PriorTaskStatus
	SourceLineNumber
	SourceFileName
	SourceFuncName
	PhaseName
	TaskCreateRA
	TaskLabel
	TaskFlavour
	numKeys
)

type keyDef struct {
	name, desc string
	typ        Type
}

var keyDefs = [numKeys]keyDef{
	UniqueID:             {"unique_id", "unique ID of a task, parallel region or thread", TypeUint64},
	PriorTaskID:          {"prior_task_id", "unique ID of a task suspended at a task-scheduling point", TypeUint64},
	NextTaskID:           {"next_task_id", "unique ID of a task resumed at a task-scheduling point", TypeUint64},
	EncounteringTaskID:   {"encountering_task_id", "unique ID of the task that encountered this region", TypeUint64},
	RequestedParallelism: {"requested_parallelism", "requested parallelism of parallel region", TypeUint32},
	IsLeague:             {"is_league", "is this parallel region a league of teams?", TypeStringRef},
	WorkshareType:        {"workshare_type", "type of workshare region", TypeStringRef},
	WorkshareCount:       {"workshare_count", "number of iterations associated with workshare region", TypeUint64},
	SyncType:             {"sync_type", "type of synchronisation region", TypeStringRef},
	SyncDescendantTasks:  {"sync_descendant_tasks", "whether this region synchronises descendant tasks", TypeUint8},
	ParentTaskID:         {"parent_task_id", "unique ID of the parent task of this task", TypeUint64},
	TaskFlags:            {"task_flags", "flags set for this task", TypeUint32},
	TaskHasDependences:   {"task_has_dependences", "whether this task has dependences", TypeUint8},
	PhaseType:            {"phase_type", "type of phase region", TypeStringRef},
	EventType:            {"event_type", "type of event", TypeStringRef},
	CPU:                  {"cpu", "cpu on which the encountering thread is running", TypeInt32},
	Endpoint:             {"endpoint", "is this a region-enter or region-leave event", TypeStringRef},
	TaskType:             {"task_type", "task classification", TypeStringRef},
	ParentTaskType:       {"parent_task_type", "task classification of the parent task of this task", TypeStringRef},
	TaskIsUndeferred:     {"task_is_undeferred", "task is undeferred", TypeUint8},
	TaskIsUntied:         {"task_is_untied", "task is untied", TypeUint8},
	TaskIsFinal:          {"task_is_final", "task is final", TypeUint8},
	TaskIsMergeable:      {"task_is_mergeable", "task is mergeable", TypeUint8},
	TaskIsMerged:         {"task_is_merged", "task is merged", TypeUint8},
	ThreadType:           {"thread_type", "thread type", TypeStringRef},
	NextTaskRegionType:   {"next_task_region_type", "region type of a task resumed at a task-scheduling point", TypeStringRef},
	RegionType:           {"region_type", "region type", TypeStringRef},
	PriorTaskStatus:      {"prior_task_status", "status of the task that arrived at a task scheduling point", TypeStringRef},
	SourceLineNumber:     {"source_line_number", "the line number of the construct which caused this region to be created", TypeUint32},
	SourceFileName:       {"source_file_name", "the source file containing the construct which caused this region to be created", TypeStringRef},
	SourceFuncName:       {"source_func_name", "the name of the function containing the construct which caused this region to be created", TypeStringRef},
	PhaseName:            {"phase_name", "the name of an algorithmic phase", TypeStringRef},
	TaskCreateRA:         {"task_create_ra", "return address of a task-create event", TypeUint64},
	TaskLabel:            {"task_label", "the label given to a task when it was created", TypeStringRef},
	TaskFlavour:          {"task_flavour", "user-defined classification of a task", TypeInt32},
}

// Keys returns every attribute key in reference order.
func Keys() []Key {
	keys := make([]Key, numKeys)
	for i := range keys {
		keys[i] = Key(i)
	}
	return keys
}

// Valid reports whether k is a defined key.
func (k Key) Valid() bool { return k < numKeys }

// Name is the attribute name written to the archive.
func (k Key) Name() string { return k.def().name }

// Desc is the attribute description written to the archive.
func (k Key) Desc() string { return k.def().desc }

// Type is the value type the attribute is defined with.
func (k Key) Type() Type { return k.def().typ }

func (k Key) String() string { return k.Name() }

func (k Key) def() keyDef {
	if !k.Valid() {
		panic(fmt.Sprintf("attr: undefined key %d", uint32(k)))
	}
	return keyDefs[k]
}

// KeyByName looks a key up by its archive name.
func KeyByName(name string) (Key, bool) {
	for i, d := range keyDefs {
		if d.name == name {
			return Key(i), true
		}
	}
	return 0, false
}
