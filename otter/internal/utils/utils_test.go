// Copyright (C) 2017 Librato, Inc. All rights reserved.

package utils

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, version, Version())
	assert.Equal(t, strings.TrimPrefix(runtime.Version(), "go"), GoVersion())
	assert.True(t, strings.HasPrefix(VersionString(), "otter-go "+version))
}

func helper() Caller { return GetCaller(1) }

func TestGetCaller(t *testing.T) {
	c := GetCaller(0)
	assert.Equal(t, "utils_test.go", c.BaseFile())
	assert.Equal(t, "utils.TestGetCaller", c.Func)
	assert.True(t, c.Line > 0)
	assert.NotZero(t, c.PC)

	c = helper()
	assert.Equal(t, "utils.TestGetCaller", c.Func)

	c = GetCaller(1000)
	assert.Equal(t, "unknown", c.File)
	assert.Equal(t, 0, c.Line)
}

func TestShortFuncName(t *testing.T) {
	assert.Equal(t, "pkg.(*T).M", shortFuncName("a/b/pkg.(*T).M"))
	assert.Equal(t, "main.main", shortFuncName("main.main"))
}
