// Copyright (c) 2017 Librato, Inc. All rights reserved.

package host

import (
	"os"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPID(t *testing.T) {
	assert.Equal(t, os.Getpid(), PID())
}

func TestHostname(t *testing.T) {
	h, err := os.Hostname()
	if err == nil {
		assert.Equal(t, h, Hostname())
	}
	assert.NotEmpty(t, Hostname())
	assert.False(t, strings.ContainsAny(SafeHostname(), "/ "))
}

func TestDistro(t *testing.T) {
	assert.NotEmpty(t, Distro())
}

func TestCPU(t *testing.T) {
	cpu := CPU()
	if runtime.GOOS == "linux" {
		assert.True(t, cpu >= 0, "cpu %d", cpu)
	} else {
		assert.Equal(t, int32(-1), cpu)
	}
}
