// Copyright (C) 2026 The Otter Authors. All rights reserved.

package trace

import (
	"fmt"
	"sync"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	"github.com/otter-trace/otter-go/otter/internal/attr"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"go.uber.org/atomic"
)

// Kind is the discriminant of a Region.
type Kind uint8

// region kinds
const (
	KindParallel Kind = iota + 1
	KindWorkshare
	KindSync
	KindTask
	KindMaster
	KindPhase
)

var kindNames = map[Kind]string{
	KindParallel:  "parallel",
	KindWorkshare: "workshare",
	KindSync:      "sync",
	KindTask:      "task",
	KindMaster:    "master",
	KindPhase:     "phase",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Payload is the kind-specific part of a region. It is one of *ParallelAttr,
// *WorkshareAttr, *SyncAttr, *TaskAttr, *MasterAttr or *PhaseAttr.
type Payload interface {
	regionKind() Kind
}

// ParallelAttr is the payload of a parallel region. The mutex guards the
// reference count and the nested-definition queue.
type ParallelAttr struct {
	ID                   uint64
	MasterThread         uint64
	IsLeague             bool
	RequestedParallelism uint32

	mu         sync.Mutex
	refCount   atomic.Int64
	enterCount atomic.Int64
	queue      defQueue
}

// WorkshareAttr is the payload of a workshare region.
type WorkshareAttr struct {
	Type  WorkKind
	Count uint64
}

// SyncAttr is the payload of a sync region.
type SyncAttr struct {
	Type               SyncKind
	SyncDescendants    bool
	EncounteringTaskID uint64
}

// TaskAttr is the payload of a task region. The saved stack holds the regions
// that were open when the task was last suspended.
type TaskAttr struct {
	ID             uint64
	Flags          TaskFlag
	HasDependences bool
	ParentID       uint64
	ParentType     TaskFlag
	Status         TaskStatus
	Source         SourceRef
	CreateRA       uint64
	Label          uint32
	Flavour        int32

	stack regionStack
}

// MasterAttr is the payload of a master region.
type MasterAttr struct {
	Thread uint64
}

// PhaseAttr is the payload of a phase region.
type PhaseAttr struct {
	Type PhaseKind
	Name uint32
}

func (*ParallelAttr) regionKind() Kind  { return KindParallel }
func (*WorkshareAttr) regionKind() Kind { return KindWorkshare }
func (*SyncAttr) regionKind() Kind      { return KindSync }
func (*TaskAttr) regionKind() Kind      { return KindTask }
func (*MasterAttr) regionKind() Kind    { return KindMaster }
func (*PhaseAttr) regionKind() Kind     { return KindPhase }

// Region is one traced extent of time. Its definition is written once, when
// it is destroyed. Only parallel regions are shared between locations; every
// other kind is used by one goroutine at a time.
type Region struct {
	session          *Session
	ref              uint32
	kind             Kind
	role             archive.Role
	encounteringTask uint64
	payload          Payload

	// event attribute buffer, guarded by the region lock when shared
	attrs *attr.List

	destroyed atomic.Bool
}

func (s *Session) newRegion(encountering uint64, p Payload) *Region {
	r := &Region{
		session:          s,
		ref:              s.refs.NextRegion(),
		kind:             p.regionKind(),
		encounteringTask: encountering,
		payload:          p,
		attrs:            attr.NewList(s.labels),
	}
	r.role = r.roleOf()
	log.Debugf("new %s region %d", r.kind, r.ref)
	return r
}

// NewParallelRegion returns a parallel region with a fresh id and a reference
// count of zero.
func (s *Session) NewParallelRegion(encountering, masterThread uint64, requested uint32, league bool) *Region {
	return s.newRegion(encountering, &ParallelAttr{
		ID:                   s.refs.NextID(),
		MasterThread:         masterThread,
		IsLeague:             league,
		RequestedParallelism: requested,
	})
}

// NewWorkshareRegion returns a workshare region.
func (s *Session) NewWorkshareRegion(encountering uint64, kind WorkKind, count uint64) *Region {
	return s.newRegion(encountering, &WorkshareAttr{Type: kind, Count: count})
}

// NewSyncRegion returns a sync region.
func (s *Session) NewSyncRegion(encountering uint64, kind SyncKind, descendants bool) *Region {
	return s.newRegion(encountering, &SyncAttr{
		Type:               kind,
		SyncDescendants:    descendants,
		EncounteringTaskID: encountering,
	})
}

// NewTaskRegion returns a task region with id and an empty saved stack. A nil
// parent records the task as an orphan.
func (s *Session) NewTaskRegion(parent *Region, id uint64, flags TaskFlag, hasDeps bool, src SourceRef, createRA uint64) *Region {
	ta := &TaskAttr{
		ID:             id,
		Flags:          flags,
		HasDependences: hasDeps,
		ParentID:       archive.UndefinedID,
		Source:         src,
		CreateRA:       createRA,
	}
	if parent != nil {
		pt := parent.task("new task region")
		ta.ParentID, ta.ParentType = pt.ID, pt.Flags.Kind()
	}
	return s.newRegion(ta.ParentID, ta)
}

// NewMasterRegion returns a master region owned by thread.
func (s *Session) NewMasterRegion(encountering, thread uint64) *Region {
	return s.newRegion(encountering, &MasterAttr{Thread: thread})
}

// NewPhaseRegion returns a phase region. The name is interned.
func (s *Session) NewPhaseRegion(encountering uint64, kind PhaseKind, name string) *Region {
	return s.newRegion(encountering, &PhaseAttr{Type: kind, Name: s.strings.MustInsert(name)})
}

func (r *Region) Kind() Kind { return r.kind }

func (r *Region) Ref() uint32 { return r.ref }

// Role is the structural role written in the region's definition.
func (r *Region) Role() archive.Role { return r.role }

// EncounteringTaskID returns the id of the task that opened the region, or
// archive.UndefinedID.
func (r *Region) EncounteringTaskID() uint64 { return r.encounteringTask }

// Attributes returns the kind-specific payload.
func (r *Region) Attributes() Payload { return r.payload }

// IsShared reports whether r is a parallel region.
func (r *Region) IsShared() bool { return r.kind == KindParallel }

// Destroyed reports whether the region has been destroyed.
func (r *Region) Destroyed() bool { return r.destroyed.Load() }

func (r *Region) String() string {
	return fmt.Sprintf("%s region %d", r.kind, r.ref)
}

func (r *Region) parallel(op string) *ParallelAttr {
	if r == nil {
		violation(op, ErrNilRegion, "")
	}
	p, ok := r.payload.(*ParallelAttr)
	if !ok {
		violation(op, ErrInvalidRegionKind, "%s is not shared", r)
	}
	return p
}

func (r *Region) task(op string) *TaskAttr {
	if r == nil {
		violation(op, ErrNilRegion, "")
	}
	t, ok := r.payload.(*TaskAttr)
	if !ok {
		violation(op, ErrInvalidRegionKind, "%s is not a task", r)
	}
	return t
}

// SetTaskStatus records the status of a task region. It panics for any other
// kind.
func (r *Region) SetTaskStatus(status TaskStatus) {
	r.task("set task status").Status = status
}

// TaskStatus returns the status of a task region.
func (r *Region) TaskStatus() TaskStatus {
	return r.task("task status").Status
}

// SavedStackDepth returns the number of regions a task region holds while
// suspended.
func (r *Region) SavedStackDepth() int {
	return r.task("saved stack depth").stack.len()
}

// Lock acquires the lock of a shared region.
func (r *Region) Lock() { r.parallel("lock").mu.Lock() }

// Unlock releases the lock of a shared region.
func (r *Region) Unlock() { r.parallel("unlock").mu.Unlock() }

// IncRef adds a thread to a shared region. The caller must hold its lock.
func (r *Region) IncRef() int64 {
	p := r.parallel("inc ref")
	p.enterCount.Inc()
	return p.refCount.Inc()
}

// DecRef removes a thread from a shared region and returns the remaining
// count. The caller must hold its lock.
func (r *Region) DecRef() int64 {
	return r.parallel("dec ref").refCount.Dec()
}

// RefCount returns the number of threads inside a shared region.
func (r *Region) RefCount() int64 { return r.parallel("ref count").refCount.Load() }

// EnterCount returns how many times a shared region has been entered.
func (r *Region) EnterCount() int64 { return r.parallel("enter count").enterCount.Load() }

// QueueLen returns the number of nested definitions a shared region holds.
func (r *Region) QueueLen() int {
	p := r.parallel("queue len")
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

// eventLabels returns the event_type labels recorded when r is entered and
// left.
func (r *Region) eventLabels() (begin, end attr.Label) {
	switch r.kind {
	case KindParallel:
		return attr.EventParallelBegin, attr.EventParallelEnd
	case KindWorkshare:
		return attr.EventWorkshareBegin, attr.EventWorkshareEnd
	case KindSync:
		return attr.EventSyncBegin, attr.EventSyncEnd
	case KindTask:
		return attr.EventTaskEnter, attr.EventTaskLeave
	case KindMaster:
		return attr.EventMasterBegin, attr.EventMasterEnd
	case KindPhase:
		return attr.EventPhaseBegin, attr.EventPhaseEnd
	default:
		violation("event labels", ErrInvalidRegionKind, "kind %d", r.kind)
	}
	return
}

// typeLabel is the region_type attribute of r.
func (r *Region) typeLabel() attr.Label {
	switch p := r.payload.(type) {
	case *ParallelAttr:
		return attr.RegionParallel
	case *WorkshareAttr:
		return p.Type.label()
	case *SyncAttr:
		return p.Type.label()
	case *TaskAttr:
		return p.Flags.typeLabel()
	case *MasterAttr:
		return attr.RegionMaster
	case *PhaseAttr:
		return p.Type.label()
	default:
		violation("region type", ErrInvalidRegionKind, "payload %T", p)
	}
	return attr.LabelNotDefined
}

func (r *Region) roleOf() archive.Role {
	switch p := r.payload.(type) {
	case *ParallelAttr:
		return archive.RoleParallel
	case *WorkshareAttr:
		return p.Type.role()
	case *SyncAttr:
		return p.Type.role()
	case *TaskAttr:
		return archive.RoleTask
	case *MasterAttr:
		return archive.RoleMaster
	case *PhaseAttr:
		return archive.RoleCode
	default:
		violation("region role", ErrInvalidRegionKind, "payload %T", p)
	}
	return archive.RoleUnknown
}

// addAttributes appends the kind-specific attributes of r to l.
func (r *Region) addAttributes(l *attr.List) {
	switch p := r.payload.(type) {
	case *ParallelAttr:
		l.AddUint64(attr.UniqueID, p.ID)
		l.AddUint32(attr.RequestedParallelism, p.RequestedParallelism)
		l.AddLabel(attr.IsLeague, attr.Bool(p.IsLeague))
	case *WorkshareAttr:
		l.AddLabel(attr.WorkshareType, p.Type.label())
		l.AddUint64(attr.WorkshareCount, p.Count)
	case *SyncAttr:
		l.AddLabel(attr.SyncType, p.Type.label())
		l.AddBool(attr.SyncDescendantTasks, p.SyncDescendants)
	case *TaskAttr:
		p.addAttributes(l)
	case *MasterAttr:
		l.AddUint64(attr.UniqueID, p.Thread)
	case *PhaseAttr:
		l.AddLabel(attr.PhaseType, p.Type.label())
		l.AddStringRef(attr.PhaseName, p.Name)
	default:
		violation("region attributes", ErrInvalidRegionKind, "payload %T", p)
	}
}

func (t *TaskAttr) addAttributes(l *attr.List) {
	l.AddUint64(attr.UniqueID, t.ID)
	l.AddLabel(attr.TaskType, t.Flags.typeLabel())
	l.AddUint32(attr.TaskFlags, uint32(t.Flags))
	l.AddUint64(attr.ParentTaskID, t.ParentID)
	l.AddLabel(attr.ParentTaskType, t.ParentType.typeLabel())
	l.AddBool(attr.TaskHasDependences, t.HasDependences)
	l.AddBool(attr.TaskIsUndeferred, t.Flags.Has(TaskUndeferred))
	l.AddBool(attr.TaskIsUntied, t.Flags.Has(TaskUntied))
	l.AddBool(attr.TaskIsFinal, t.Flags.Has(TaskFinal))
	l.AddBool(attr.TaskIsMergeable, t.Flags.Has(TaskMergeable))
	l.AddBool(attr.TaskIsMerged, t.Flags.Has(TaskMerged))
	l.AddLabel(attr.PriorTaskStatus, t.Status.label())
	if !t.Source.IsZero() {
		l.AddUint32(attr.SourceLineNumber, t.Source.Line)
		l.AddStringRef(attr.SourceFileName, t.Source.File)
		l.AddStringRef(attr.SourceFuncName, t.Source.Func)
	}
	if t.Label != 0 {
		l.AddStringRef(attr.TaskLabel, t.Label)
	}
}

// definition builds the region's definition. Parallel and task regions are
// named by a fresh string which the caller must write first.
func (r *Region) definition() (archive.RegionDef, string) {
	s := r.session
	def := archive.RegionDef{
		Ref:      r.ref,
		Role:     r.role,
		Paradigm: archive.ParadigmUnknown,
	}
	var fresh string
	switch p := r.payload.(type) {
	case *ParallelAttr:
		fresh = fmt.Sprintf("Parallel Region %d", p.ID)
	case *TaskAttr:
		fresh = fmt.Sprintf("%s task %d", p.Flags.kindName(), p.ID)
		def.Paradigm = archive.ParadigmTasking
		def.SourceFile = p.Source.File
		def.BeginLine = p.Source.Line
	case *WorkshareAttr, *SyncAttr, *MasterAttr:
		def.Name = s.labels.Ref(r.typeLabel())
	case *PhaseAttr:
		def.Name = p.Name
		if def.Name == 0 {
			def.Name = s.labels.Ref(p.Type.label())
		}
	default:
		violation("region definition", ErrInvalidRegionKind, "payload %T", p)
	}
	if fresh != "" {
		def.Name = s.refs.NextString()
	}
	def.Canonical = def.Name
	return def, fresh
}

// writeDefinition writes r's definition. The caller holds the session's
// definition lock.
func (r *Region) writeDefinition() {
	s := r.session
	def, name := r.definition()
	if name != "" {
		if err := s.sink.WriteStringDef(def.Name, name); err != nil {
			s.defError(err, "region %d name", r.ref)
		}
	}
	if err := s.sink.WriteRegionDef(def); err != nil {
		s.defError(err, "region %d", r.ref)
	}
}

// destroy releases r once its definition has been handled. Parallel regions
// write their own definition and drain their queue first. The region is
// claimed before anything is written so a second destroy writes nothing.
func (r *Region) destroy() {
	if !r.destroyed.CAS(false, true) {
		violation("destroy", ErrDoubleDestroy, "%s", r)
	}
	switch r.kind {
	case KindParallel:
		r.destroyParallel()
	case KindTask:
		t := r.payload.(*TaskAttr)
		if t.Status != StatusComplete && t.Status != StatusCancel {
			log.Warningf("destroying task %d with status %s", t.ID, t.Status)
		}
		if t.stack.len() != 0 {
			log.Warningf("destroying task %d with %d saved regions", t.ID, t.stack.len())
		}
	case KindWorkshare, KindSync, KindMaster, KindPhase:
	default:
		violation("destroy", ErrInvalidRegionKind, "kind %d", r.kind)
	}
	if hook := r.session.destroyHook; hook != nil {
		hook(r)
	}
}

// destroyParallel is run by the last thread to leave a parallel region. The
// global definition lock is held while the region and everything nested in it
// is written.
func (r *Region) destroyParallel() {
	s := r.session
	p := r.payload.(*ParallelAttr)

	s.defMu.Lock()
	r.writeDefinition()
	n := p.queue.drain(func(child *Region) {
		child.writeDefinition()
		child.destroy()
	})
	s.defMu.Unlock()

	log.Debugf("destroyed %s with %d nested definitions", r, n)
	p.queue = defQueue{}
}

// regionStack is a LIFO of open regions.
type regionStack []*Region

func (s *regionStack) push(r *Region) { *s = append(*s, r) }

func (s *regionStack) pop() (*Region, bool) {
	n := len(*s)
	if n == 0 {
		return nil, false
	}
	r := (*s)[n-1]
	(*s)[n-1] = nil
	*s = (*s)[:n-1]
	return r, true
}

func (s regionStack) top() *Region {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

func (s regionStack) len() int { return len(s) }

// take moves the contents out, leaving s empty.
func (s *regionStack) take() regionStack {
	out := *s
	*s = nil
	return out
}

// defQueue collects regions whose definitions are written later.
type defQueue struct {
	regions []*Region
}

func (q *defQueue) push(r *Region) { q.regions = append(q.regions, r) }

func (q *defQueue) len() int { return len(q.regions) }

// appendQueue moves every region of other to the end of q.
func (q *defQueue) appendQueue(other *defQueue) {
	q.regions = append(q.regions, other.regions...)
	other.regions = nil
}

// drain calls fn on every region in insertion order and empties q.
func (q *defQueue) drain(fn func(*Region)) int {
	regions := q.regions
	q.regions = nil
	for _, r := range regions {
		fn(r)
	}
	return len(regions)
}
