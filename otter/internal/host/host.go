// Copyright (c) 2017 Librato, Inc. All rights reserved.

// Package host reports facts about the traced process and its machine.
package host

import (
	"os"
	"strings"
	"sync"

	"github.com/otter-trace/otter-go/otter/internal/log"
)

var (
	hostnameOnce sync.Once
	hostname     string

	distroOnce sync.Once
	distro     string

	// the cache for pid
	pid = os.Getpid()
)

// PID returns the cached process ID
func PID() int {
	return pid
}

// Hostname returns the host name, resolved once. It falls back to
// "unknown" if the name cannot be read.
func Hostname() string {
	hostnameOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil {
			log.Warningf("failed to get hostname: %v", err)
			h = "unknown"
		}
		hostname = h
	})
	return hostname
}

// SafeHostname returns Hostname with path separators and spaces replaced so
// the result can be embedded in a file name.
func SafeHostname() string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ':
			return '_'
		}
		return r
	}, Hostname())
}

// Distro returns the distribution name of the system
func Distro() string {
	distroOnce.Do(func() { distro = initDistro() })
	return distro
}

// CPU returns the id of the cpu the calling goroutine's thread is running on,
// or -1 if it cannot be determined. The goroutine may migrate immediately
// after the call.
func CPU() int32 {
	return getCPU()
}
