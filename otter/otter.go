// Copyright (C) 2026 The Otter Authors. All rights reserved.

// Package otter records the task graph of a Go program into a trace archive.
//
// A Tracer owns one trace session. Tasks are created with TaskInitialise or
// TaskBegin and finished with TaskEnd; Synchronise records a point where a
// task waits for its children, and phases group the tasks created between
// PhaseBegin and PhaseEnd. The archive is written to the folder reported by
// Tracer.Dir when Finalise returns.
//
//	tr, err := otter.NewTracer(otter.WithTraceName("fib"))
//	if err != nil {
//		return err
//	}
//	defer tr.Finalise()
//
//	t := tr.TaskBegin(nil, "fib(%d)", n)
//	...
//	tr.TaskEnd(t)
package otter

import (
	"github.com/otter-trace/otter-go/otter/internal/config"
	otlog "github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/otter-trace/otter-go/otter/internal/utils"
	"github.com/pkg/errors"
	"github.com/tebeka/atexit"
)

var (
	errInvalidLogLevel = errors.New("invalid log level")
)

// Option customizes the configuration of a Tracer. Options are applied on
// top of the environment and the config file.
type Option = config.Option

// WithTracePath sets the folder the archive is created in.
func WithTracePath(path string) Option { return config.WithTracePath(path) }

// WithTraceName sets the name of the archive.
func WithTraceName(name string) Option { return config.WithTraceName(name) }

// WithFormat selects the archive format: bson, msgpack or sqlite.
func WithFormat(format string) Option { return config.WithFormat(format) }

// WithAppendHostname appends the host name to the archive name.
func WithAppendHostname(append bool) Option { return config.WithAppendHostname(append) }

// WithTaskSwitchMode selects how task switches are recorded: discrete or pair.
func WithTaskSwitchMode(mode string) Option { return config.WithTaskSwitchMode(mode) }

// WithSuppressInitialTaskCreate controls whether the root task's creation is
// left out of the trace.
func WithSuppressInitialTaskCreate(suppress bool) Option {
	return config.WithSuppressInitialTaskCreate(suppress)
}

// WithCopyMemoryMap controls whether /proc/self/maps is copied into the
// archive.
func WithCopyMemoryMap(copy bool) Option { return config.WithCopyMemoryMap(copy) }

// WithDisabled starts the tracer stopped.
func WithDisabled(disabled bool) Option { return config.WithDisabled(disabled) }

// SetLogLevel changes the logging level of the tracer
// Valid logging levels: DEBUG, INFO, WARN, ERROR
func SetLogLevel(level string) error {
	l, ok := otlog.ToLogLevel(level)
	if !ok {
		return errInvalidLogLevel
	}
	otlog.SetLevel(l)
	return nil
}

// GetLogLevel returns the current logging level of the tracer
func GetLogLevel() string {
	return otlog.LevelStr[otlog.Level()]
}

// Version returns the version of the tracer.
func Version() string {
	return utils.Version()
}

// Exit finalises every tracer that has not been finalised yet and exits the
// process with code. Use it instead of os.Exit so the archives are complete.
func Exit(code int) {
	atexit.Exit(code)
}
