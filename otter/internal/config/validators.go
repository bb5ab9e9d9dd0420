// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Archive formats
const (
	FormatBSON    = "bson"
	FormatMsgpack = "msgpack"
	FormatSqlite  = "sqlite"
)

// Event models
const (
	EventModelTaskGraph = "task-graph"
	EventModelSerial    = "serial"
	EventModelOMP       = "omp"
)

// Task-switch recording modes
const (
	TaskSwitchDiscrete = "discrete"
	TaskSwitchPair     = "pair"
)

// the smallest cache freecache accepts is 512KB
const minCacheSize = 512 * 1024

// InvalidEnv returns a string indicating invalid environment variables
func InvalidEnv(env string, val string) string {
	return fmt.Sprintf("invalid env, discarded - %s: \"%s\"", env, val)
}

// MissingEnv returns a string indicating missing environment variables
func MissingEnv(env string) string {
	return fmt.Sprintf("missing env - %s", env)
}

// IsValidTracePath checks if the trace path is usable as a directory name.
func IsValidTracePath(p string) bool {
	return p != "" && !strings.ContainsRune(p, 0)
}

// IsValidTraceName checks if the name can be used as a single path element.
func IsValidTraceName(n string) bool {
	if n == "" || n == "." || n == ".." {
		return false
	}
	return filepath.Base(n) == n && !strings.ContainsRune(n, 0)
}

// IsValidFormat checks if the archive format is supported.
func IsValidFormat(f string) bool {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case FormatBSON, FormatMsgpack, FormatSqlite:
		return true
	}
	return false
}

// IsValidEventModel checks if the event model is known.
func IsValidEventModel(m string) bool {
	switch m {
	case EventModelTaskGraph, EventModelSerial, EventModelOMP:
		return true
	}
	return false
}

// ToEventModel converts a string to an event model, accepting the spellings
// used in archive properties.
func ToEventModel(m string) string {
	model := strings.ToLower(strings.TrimSpace(m))
	switch model {
	case "taskgraph", "task_graph":
		model = EventModelTaskGraph
	case "openmp":
		model = EventModelOMP
	}
	return model
}

// IsValidTaskSwitchMode checks if the mode is valid
func IsValidTaskSwitchMode(m string) bool {
	t := strings.ToLower(strings.TrimSpace(m))
	return t == TaskSwitchDiscrete || t == TaskSwitchPair
}

// IsValidCacheSize checks if the string cache size is acceptable.
func IsValidCacheSize(size int) bool {
	return size >= minCacheSize
}

// ToInteger converts a string to an integer
func ToInteger(i string) int {
	n, _ := strconv.Atoi(i)
	return n
}
