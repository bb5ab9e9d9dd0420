//go:build !linux
// +build !linux

// Copyright (c) 2017 Librato, Inc. All rights reserved.

package host

// MemoryMapPath is empty where the platform has no /proc maps file.
const MemoryMapPath = ""

func getCPU() int32 { return -1 }

// initDistro returns the ditro information of the system, it returns Unkown-not-Linux
// for non-Linux platforms.
func initDistro() string {
	return "Unknown-not-Linux"
}
