// Copyright (c) 2017 Librato, Inc. All rights reserved.

package host

import (
	"bufio"
	"os"
	"strings"
	"unsafe"

	"github.com/otter-trace/otter-go/otter/internal/log"
	"golang.org/x/sys/unix"
)

const (
	osRelease = "/etc/os-release"
	issue     = "/etc/issue"

	// MemoryMapPath is read to resolve return addresses offline.
	MemoryMapPath = "/proc/self/maps"
)

func getCPU() int32 {
	var cpu, node uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return -1
	}
	return int32(cpu)
}

// initDistro reads the distribution name from os-release, falling back to the
// first line of /etc/issue.
func initDistro() string {
	if d := keyFromFile(osRelease, "PRETTY_NAME"); d != "" {
		return strings.Trim(d, `"`)
	}
	if d := keyFromFile(issue, ""); d != "" {
		return d
	}
	return "Linux unknown"
}

// keyFromFile returns the value of the first KEY=value line matching key, or
// the first non-empty line when key is empty.
func keyFromFile(path, key string) string {
	f, err := os.Open(path)
	if err != nil {
		log.Debugf("cannot open %s: %v", path, err)
		return ""
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if key == "" {
			return line
		}
		if strings.HasPrefix(line, key+"=") {
			return strings.TrimPrefix(line, key+"=")
		}
	}
	return ""
}
