// Copyright (C) 2026 The Otter Authors. All rights reserved.

package otter

import "sync"

// labelPool maps a label to the queue of tasks pushed under it. Tasks are
// popped in the order they were pushed.
type labelPool struct {
	sync.Mutex
	queues map[string][]*Task
}

func newLabelPool() *labelPool {
	return &labelPool{queues: make(map[string][]*Task)}
}

func (p *labelPool) push(label string, t *Task) {
	p.Lock()
	defer p.Unlock()
	p.queues[label] = append(p.queues[label], t)
}

// pop removes the oldest task queued under label. ok is false when no queue
// exists for label.
func (p *labelPool) pop(label string) (t *Task, ok bool) {
	p.Lock()
	defer p.Unlock()
	q, ok := p.queues[label]
	if !ok {
		return nil, false
	}
	t = q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(p.queues, label)
	} else {
		p.queues[label] = q[1:]
	}
	return t, true
}

// borrow returns the oldest task queued under label without removing it.
func (p *labelPool) borrow(label string) (*Task, bool) {
	p.Lock()
	defer p.Unlock()
	q, ok := p.queues[label]
	if !ok {
		return nil, false
	}
	return q[0], true
}

// len returns the number of tasks queued under label.
func (p *labelPool) len(label string) int {
	p.Lock()
	defer p.Unlock()
	return len(p.queues[label])
}
