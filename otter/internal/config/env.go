// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/pkg/errors"
)

// EnvPrefix starts the name of every environment variable the tracer reads.
const EnvPrefix = "OTTER_"

// EnvVar is an OTTER_ environment variable.
type EnvVar string

// Env returns the variable called name, adding EnvPrefix when it is missing,
// so Env("FORMAT") and Env("OTTER_FORMAT") are the same variable.
func Env(name string) EnvVar {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, EnvPrefix) {
		name = EnvPrefix + name
	}
	return EnvVar(name)
}

// Name returns the full variable name.
func (e EnvVar) Name() string { return string(e) }

// Lookup returns the trimmed value of e. A variable holding only blanks
// counts as unset.
func (e EnvVar) Lookup() (string, bool) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	return v, v != ""
}

// ToString returns the value of e, or fallback when it is unset.
func (e EnvVar) ToString(fallback string) string {
	if v, ok := e.Lookup(); ok {
		return v
	}
	return fallback
}

// ToBool returns the value of e as a bool, or fallback when it is unset or
// not a boolean word.
func (e EnvVar) ToBool(fallback bool) bool {
	v, ok := e.Lookup()
	if !ok {
		return fallback
	}
	b, err := parseBool(v)
	if err != nil {
		log.Warningf("%s=%q ignored: %v", e, v, err)
		return fallback
	}
	return b
}

// ToInt returns the value of e parsed by parseSize, or fallback when it is
// unset or malformed.
func (e EnvVar) ToInt(fallback int) int {
	v, ok := e.Lookup()
	if !ok {
		return fallback
	}
	n, err := parseSize(v)
	if err != nil {
		log.Warningf("%s=%q ignored: %v", e, v, err)
		return fallback
	}
	return int(n)
}

// parseBool accepts yes/no, on/off, enabled/disabled, true/false and 1/0 in
// any case.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "enabled", "on", "1":
		return true, nil
	case "no", "false", "disabled", "off", "0":
		return false, nil
	}
	return false, errors.Errorf("%q is not a boolean", s)
}

// parseSize parses a decimal integer with an optional K, M or G suffix in
// powers of 1024, as used for the string cache size.
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	shift := uint(0)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'K':
			shift = 10
		case 'M':
			shift = 20
		case 'G':
			shift = 30
		}
		if shift != 0 {
			s = s[:n-1]
		}
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Errorf("%q is not a size", s)
	}
	if i < 0 || i > (1<<62)>>shift {
		return 0, errors.Errorf("size %d out of range", i)
	}
	return i << shift, nil
}
