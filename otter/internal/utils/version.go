// Copyright (C) 2017 Librato, Inc. All rights reserved.

package utils

import (
	"runtime"
	"strings"
)

var (
	// The otter-go version
	version = "1.0.0"

	// The Go version
	goVersion = strings.TrimPrefix(runtime.Version(), "go")
)

// Version returns the tracer's version
func Version() string {
	return version
}

// GoVersion returns the Go version
func GoVersion() string {
	return goVersion
}

// VersionString is written at string reference 1 of every archive.
func VersionString() string {
	return "otter-go " + version + " (go" + goVersion + ")"
}
