// Copyright (C) 2017 Librato, Inc. All rights reserved.

package log

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type safeBuffer struct {
	b bytes.Buffer
	sync.Mutex
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.Lock()
	defer s.Unlock()
	return s.b.String()
}

func (s *safeBuffer) Reset() {
	s.Lock()
	defer s.Unlock()
	s.b.Reset()
}

func TestDebugLevel(t *testing.T) {
	tests := []struct {
		val      string
		expected LogLevel
	}{
		{"DEBUG", DEBUG},
		{"Info", INFO},
		{"warn", WARNING},
		{"erroR", ERROR},
		{"erroR  ", ERROR},
		{"HelloWorld", defaultLogLevel},
		{"0", DEBUG},
		{"1", INFO},
		{"2", WARNING},
		{"3", ERROR},
		{"4", defaultLogLevel},
		{"-1", defaultLogLevel},
		{"1000", defaultLogLevel},
	}

	for _, test := range tests {
		os.Setenv(envOtterDebugLevel, test.val)
		initLog()
		assert.EqualValues(t, test.expected, Level(), "Test-"+test.val)
	}

	os.Unsetenv(envOtterDebugLevel)
	initLog()
	assert.EqualValues(t, defaultLogLevel, Level())
}

func TestLog(t *testing.T) {
	var buffer safeBuffer
	SetOutput(&buffer)
	defer SetOutput(os.Stderr)

	SetLevel(DEBUG)
	defer SetLevel(defaultLogLevel)

	tests := map[string]string{
		"hello world": "hello world\n",
		"":            "\n",
		"hello %s":    "hello %!s(MISSING)\n",
	}

	for str, expected := range tests {
		buffer.Reset()
		Logf(INFO, str)
		assert.True(t, strings.HasSuffix(buffer.String(), expected))
	}

	buffer.Reset()
	Log(INFO, 1, 2, 3)
	assert.True(t, strings.HasSuffix(buffer.String(), "1 2 3\n"))

	buffer.Reset()
	Debug(1, "abc", 3)
	assert.True(t, strings.HasSuffix(buffer.String(), "1abc3\n"))
	assert.Contains(t, buffer.String(), "logging_test.go:")
	assert.Contains(t, buffer.String(), prefix)

	buffer.Reset()
	Error(errors.New("hello"))
	assert.True(t, strings.HasSuffix(buffer.String(), "hello\n"))

	buffer.Reset()
	Warning("Áú")
	assert.True(t, strings.HasSuffix(buffer.String(), "Áú\n"))

	buffer.Reset()
	Warningf("hello %s", "world")
	assert.True(t, strings.HasSuffix(buffer.String(), "hello world\n"))

	buffer.Reset()
	Infof("show me the %v", "code")
	assert.True(t, strings.HasSuffix(buffer.String(), "show me the code\n"))
}

func TestStrToLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"DEBUG": DEBUG,
		"INFO":  INFO,
		"WARN":  WARNING,
		"ERROR": ERROR,
	}
	for str, lvl := range tests {
		l, err := StrToLevel(str)
		assert.Nil(t, err)
		assert.Equal(t, lvl, l)
	}
	_, err := StrToLevel("TRACE")
	assert.NotNil(t, err)
}

func TestVerifyLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"DEBUG":   DEBUG,
		"Debug":   DEBUG,
		"debug":   DEBUG,
		" dEbUg ": DEBUG,
		"INFO":    INFO,
		"WARN":    WARNING,
		"ERROR":   ERROR,
		"ABC":     defaultLogLevel,
		"warning": WARNING,
		"Err":     ERROR,
	}
	for str, lvl := range tests {
		l, _ := ToLogLevel(str)
		assert.Equal(t, lvl, l)
	}
}

func TestSetLevel(t *testing.T) {
	var buf safeBuffer
	SetOutput(io.MultiWriter(&buf, os.Stderr))
	defer SetOutput(os.Stderr)
	defer SetLevel(defaultLogLevel)

	SetLevel(INFO)
	assert.False(t, IsDebug())
	var wg = &sync.WaitGroup{}
	wg.Add(100)
	for i := 0; i < 100; i++ {
		go func(wg *sync.WaitGroup) {
			time.Sleep(time.Millisecond * time.Duration(rand.Intn(5)))
			Debug("hello world")
			wg.Done()
		}(wg)
	}
	wg.Wait()
	assert.Equal(t, "", buf.String())

	buf.Reset()
	SetLevel(DEBUG)
	assert.True(t, IsDebug())
	Debug("test")
	assert.True(t, strings.Contains(buf.String(), "test"))
	buf.Reset()
	Error("", "one", "two", "three")
	assert.Equal(t, DEBUG, Level())
	assert.True(t, strings.Contains(buf.String(), "onetwothree"))
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otter.log")
	os.Setenv(envOtterLogFile, path)
	defer os.Unsetenv(envOtterLogFile)
	defer SetOutput(os.Stderr)

	initLog()
	Error("to the file")
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Contains(t, string(data), "ERROR [OTTER] to the file")

	assert.Error(t, openLogFile(filepath.Join(path, "not-a-dir", "x.log")))
}
