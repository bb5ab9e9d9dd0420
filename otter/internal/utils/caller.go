// Copyright (C) 2017 Librato, Inc. All rights reserved.

package utils

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Caller describes the source location of an annotated call.
type Caller struct {
	File string
	Func string
	Line int
	// PC is the return address of the annotated call.
	PC uintptr
}

// GetCaller returns the source location skip frames above its own caller.
// Unknown fields are reported as "unknown" and line 0.
func GetCaller(skip int) Caller {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return Caller{File: "unknown", Func: "unknown"}
	}
	// resolves inlined frames
	frame, _ := runtime.CallersFrames(pcs[:]).Next()
	c := Caller{File: frame.File, Func: "unknown", Line: frame.Line, PC: frame.PC}
	if frame.Function != "" {
		c.Func = shortFuncName(frame.Function)
	}
	if c.File == "" {
		c.File = "unknown"
	}
	return c
}

// shortFuncName strips the import path: "a/b/pkg.(*T).M" becomes
// "pkg.(*T).M".
func shortFuncName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// BaseFile returns the file name without its directory.
func (c Caller) BaseFile() string {
	return filepath.Base(c.File)
}
