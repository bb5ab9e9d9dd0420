// Copyright (C) 2026 The Otter Authors. All rights reserved.

package trace

import (
	"fmt"

	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/pkg/errors"
)

// errors
var (
	ErrInvalidRegionKind = errors.New("invalid region kind")
	ErrStackUnderflow    = errors.New("region stack underflow")
	ErrNilRegion         = errors.New("nil region")
	ErrDoubleDestroy     = errors.New("destroyed twice")
	ErrStackNotEmpty     = errors.New("task region stack not empty")
	ErrSessionClosed     = errors.New("session closed")
)

// ProtocolError is the value the engine panics with when a caller breaks the
// region protocol. The trace cannot be trusted after one, so it is never
// returned as an ordinary error.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("trace protocol violation in %s: %v", e.Op, e.Err)
}

// Cause returns the sentinel error.
func (e *ProtocolError) Cause() error { return e.Err }

// Unwrap returns the sentinel error.
func (e *ProtocolError) Unwrap() error { return e.Err }

// violation logs and panics. It never returns.
func violation(op string, err error, format string, args ...interface{}) {
	pe := &ProtocolError{Op: op, Err: err}
	if format != "" {
		pe.Err = errors.WithMessagef(err, format, args...)
	}
	log.Error(pe.Error())
	panic(pe)
}
