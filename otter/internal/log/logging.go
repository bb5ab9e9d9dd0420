// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package log implements the leveled logger used by the tracer. Messages
// below the current level are dropped before they are formatted, so the
// level check on the event path is a single atomic load.
//
// OTTER_DEBUG_LEVEL sets the level by name or number. OTTER_LOG_FILE sends
// the log to a file instead of stderr, which keeps tracer output apart from
// the traced program's own.
package log

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/atomic"
)

// LogLevel is a type that defines the log level.
type LogLevel uint8

// log levels
const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

const (
	envOtterDebugLevel = "OTTER_DEBUG_LEVEL"
	envOtterLogFile    = "OTTER_LOG_FILE"
	prefix             = "[OTTER]"
)

// LevelStr represents the log levels in strings
var LevelStr = []string{
	DEBUG:   "DEBUG",
	INFO:    "INFO",
	WARNING: "WARN",
	ERROR:   "ERROR",
}

// levelAliases are accepted by ToLogLevel besides LevelStr.
var levelAliases = map[string]LogLevel{
	"WARNING": WARNING,
	"ERR":     ERROR,
}

// defaultLogLevel defines the level used when OTTER_DEBUG_LEVEL is unset or
// invalid.
const defaultLogLevel = WARNING

var (
	level  = atomic.NewUint32(uint32(defaultLogLevel))
	logger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func init() {
	initLog()
}

func initLog() {
	SetLevelFromStr(os.Getenv(envOtterDebugLevel))
	if path := strings.TrimSpace(os.Getenv(envOtterLogFile)); path != "" {
		if err := openLogFile(path); err != nil {
			Warningf("logging to stderr: %v", err)
		}
	}
}

// openLogFile appends the log to path.
func openLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%s=%s: %v", envOtterLogFile, path, err)
	}
	SetOutput(f)
	return nil
}

// SetOutput sets the output destination for the internal logger.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevelFromStr sets the level named by s, or the default level when s
// names none.
func SetLevelFromStr(s string) {
	l, ok := ToLogLevel(s)
	if !ok {
		l = defaultLogLevel
	}
	SetLevel(l)
}

// ToLogLevel converts a level name, alias or number to a LogLevel. It returns
// the default level and false when s is none of these.
func ToLogLevel(s string) (LogLevel, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i, err := strconv.Atoi(s); err == nil {
		if i < 0 || i >= len(LevelStr) {
			return defaultLogLevel, false
		}
		return LogLevel(i), true
	}
	if l, ok := levelAliases[s]; ok {
		return l, true
	}
	l, err := StrToLevel(s)
	return l, err == nil
}

// SetLevel sets the level below which messages are dropped.
func SetLevel(l LogLevel) { level.Store(uint32(l)) }

// Level returns the current level.
func Level() LogLevel { return LogLevel(level.Load()) }

// StrToLevel converts an exact entry of LevelStr to its LogLevel.
func StrToLevel(e string) (LogLevel, error) {
	for idx, s := range LevelStr {
		if s == e {
			return LogLevel(idx), nil
		}
	}
	return defaultLogLevel, errors.New("not found")
}

// IsDebug reports whether debug messages are currently printed. Callers use it
// to skip building expensive debug arguments.
func IsDebug() bool {
	return shouldLog(DEBUG)
}

func shouldLog(lv LogLevel) bool {
	return lv >= Level()
}

// logIt prints one message. Debug messages carry the file, line and function
// of the call into this package.
func logIt(lv LogLevel, msg string, args []interface{}) {
	if !shouldLog(lv) {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s ", LevelStr[lv], prefix)
	if lv == DEBUG {
		// logIt and its exported wrapper
		if pc, file, line, ok := runtime.Caller(2); ok {
			fmt.Fprintf(&b, "%s:%d %s ", filepath.Base(file), line, funcName(pc))
		}
	}
	if msg == "" {
		fmt.Fprint(&b, args...)
	} else {
		fmt.Fprintf(&b, msg, args...)
	}
	logger.Print(b.String())
}

// funcName returns the function at pc without its package path.
func funcName(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "?"
	}
	name := fn.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Logf prints a formatted message at level lv.
func Logf(lv LogLevel, msg string, args ...interface{}) { logIt(lv, msg, args) }

// Log prints args at level lv.
func Log(lv LogLevel, args ...interface{}) { logIt(lv, "", args) }

func Debugf(msg string, args ...interface{})   { logIt(DEBUG, msg, args) }
func Debug(args ...interface{})                { logIt(DEBUG, "", args) }
func Infof(msg string, args ...interface{})    { logIt(INFO, msg, args) }
func Info(args ...interface{})                 { logIt(INFO, "", args) }
func Warningf(msg string, args ...interface{}) { logIt(WARNING, msg, args) }
func Warning(args ...interface{})              { logIt(WARNING, "", args) }
func Errorf(msg string, args ...interface{})   { logIt(ERROR, msg, args) }
func Error(args ...interface{})                { logIt(ERROR, "", args) }
