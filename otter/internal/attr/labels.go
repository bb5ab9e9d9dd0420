// Copyright (C) 2026 The Otter Authors. All rights reserved.

package attr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Label is one of the fixed strings used as attribute values.
type Label uint16

// labels
const (
	LabelNotDefined Label = iota

	FlagY
	FlagN
	FlagTrue
	FlagFalse

	EventThreadBegin
	EventThreadEnd
	EventParallelBegin
	EventParallelEnd
	EventWorkshareBegin
	EventWorkshareEnd
	EventSyncBegin
	EventSyncEnd
	EventTaskCreate
	EventTaskSwitch
	EventTaskEnter
	EventTaskLeave
	EventMasterBegin
	EventMasterEnd
	EventPhaseBegin
	EventPhaseEnd

	EndpointEnter
	EndpointLeave
	EndpointDiscrete

	TaskTypeInitial
	TaskTypeImplicit
	TaskTypeExplicit
	TaskTypeTarget
	TaskTypeUndefined

	ThreadInitial
	ThreadWorker
	ThreadOther
	ThreadUnknown

	RegionParallel
	RegionWorkshare
	RegionSync
	RegionTask
	RegionSections
	RegionSingleExecutor
	RegionSingleOther
	RegionWorkshareGeneric
	RegionDistribute
	RegionLoop
	RegionTaskloop
	RegionMaster
	RegionBarrier
	RegionBarrierImplicit
	RegionBarrierExplicit
	RegionBarrierImplementation
	RegionTaskwait
	RegionTaskgroup
	RegionGenericPhase

	StatusUndefined
	StatusComplete
	StatusYield
	StatusCancel
	StatusDetach
	StatusEarlyFulfil
	StatusLateFulfil
	StatusSwitch

	numLabels
)

var labelText = [numLabels]string{
	LabelNotDefined: "string_not_defined",

	FlagY:     "Y",
	FlagN:     "N",
	FlagTrue:  "true",
	FlagFalse: "false",

	EventThreadBegin:    "thread_begin",
	EventThreadEnd:      "thread_end",
	EventParallelBegin:  "parallel_begin",
	EventParallelEnd:    "parallel_end",
	EventWorkshareBegin: "workshare_begin",
	EventWorkshareEnd:   "workshare_end",
	EventSyncBegin:      "sync_begin",
	EventSyncEnd:        "sync_end",
	EventTaskCreate:     "task_create",
	EventTaskSwitch:     "task_switch",
	EventTaskEnter:      "task_enter",
	EventTaskLeave:      "task_leave",
	EventMasterBegin:    "master_begin",
	EventMasterEnd:      "master_end",
	EventPhaseBegin:     "phase_begin",
	EventPhaseEnd:       "phase_end",

	EndpointEnter:    "enter",
	EndpointLeave:    "leave",
	EndpointDiscrete: "discrete",

	TaskTypeInitial:   "initial_task",
	TaskTypeImplicit:  "implicit_task",
	TaskTypeExplicit:  "explicit_task",
	TaskTypeTarget:    "target_task",
	TaskTypeUndefined: "undefined_task",

	ThreadInitial: "initial",
	ThreadWorker:  "worker",
	ThreadOther:   "other",
	ThreadUnknown: "unknown",

	RegionParallel:              "parallel",
	RegionWorkshare:             "workshare",
	RegionSync:                  "sync",
	RegionTask:                  "task",
	RegionSections:              "sections",
	RegionSingleExecutor:        "single_executor",
	RegionSingleOther:           "single_other",
	RegionWorkshareGeneric:      "workshare_generic",
	RegionDistribute:            "distribute",
	RegionLoop:                  "loop",
	RegionTaskloop:              "taskloop",
	RegionMaster:                "master",
	RegionBarrier:               "barrier",
	RegionBarrierImplicit:       "barrier_implicit",
	RegionBarrierExplicit:       "barrier_explicit",
	RegionBarrierImplementation: "barrier_implementation",
	RegionTaskwait:              "taskwait",
	RegionTaskgroup:             "taskgroup",
	RegionGenericPhase:          "generic_phase",

	StatusUndefined:   "undefined",
	StatusComplete:    "complete",
	StatusYield:       "yield",
	StatusCancel:      "cancel",
	StatusDetach:      "detach",
	StatusEarlyFulfil: "early_fulfil",
	StatusLateFulfil:  "late_fulfil",
	StatusSwitch:      "switch",
}

func (l Label) String() string {
	if l >= numLabels {
		return fmt.Sprintf("Label(%d)", uint16(l))
	}
	return labelText[l]
}

// Labels returns every label.
func Labels() []Label {
	ls := make([]Label, numLabels)
	for i := range ls {
		ls[i] = Label(i)
	}
	return ls
}

// Bool returns FlagTrue or FlagFalse.
func Bool(b bool) Label {
	if b {
		return FlagTrue
	}
	return FlagFalse
}

// LabelTable resolves keys and labels to the string references they were
// registered under.
type LabelTable struct {
	labels [numLabels]uint32
	names  [numKeys]uint32
	descs  [numKeys]uint32
}

// NewLabelTable interns every label, key name and key description.
func NewLabelTable(insert func(string) (uint32, error)) (*LabelTable, error) {
	t := &LabelTable{}
	for i := range labelText {
		ref, err := insert(labelText[i])
		if err != nil {
			return nil, errors.Wrapf(err, "register label %q", labelText[i])
		}
		t.labels[i] = ref
	}
	for i, d := range keyDefs {
		name, err := insert(d.name)
		if err != nil {
			return nil, errors.Wrapf(err, "register attribute %q", d.name)
		}
		desc, err := insert(d.desc)
		if err != nil {
			return nil, errors.Wrapf(err, "register attribute %q", d.name)
		}
		t.names[i], t.descs[i] = name, desc
	}
	return t, nil
}

// Ref returns the string reference of l.
func (t *LabelTable) Ref(l Label) uint32 {
	if l >= numLabels {
		return t.labels[LabelNotDefined]
	}
	return t.labels[l]
}

// NameRef returns the string reference of k's name.
func (t *LabelTable) NameRef(k Key) uint32 { return t.names[k] }

// DescRef returns the string reference of k's description.
func (t *LabelTable) DescRef(k Key) uint32 { return t.descs[k] }
