// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/otter-trace/otter-go/otter/internal/host"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// readers accept anything matching this constraint
const versionConstraint = "~> 1.0"

// Anchor is the YAML file that identifies an archive directory.
type Anchor struct {
	Version    string            `yaml:"version"`
	Format     string            `yaml:"format"`
	EventModel string            `yaml:"event_model"`
	Name       string            `yaml:"name"`
	Host       string            `yaml:"host"`
	Distro     string            `yaml:"distro,omitempty"`
	PID        int               `yaml:"pid"`
	Created    string            `yaml:"created"`
	Clock      ClockProperties   `yaml:"clock"`
	Locations  int               `yaml:"locations"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

func anchorPath(dir string) string {
	return filepath.Join(dir, filepath.Base(filepath.Clean(dir))+anchorExt)
}

func newAnchor(o Options, clock ClockProperties, props map[string]string, locations int) *Anchor {
	p := make(map[string]string, len(props))
	for k, v := range props {
		p[k] = v
	}
	return &Anchor{
		Version:    FormatVersion,
		Format:     o.Format,
		EventModel: o.EventModel,
		Name:       o.Name,
		Host:       host.Hostname(),
		Distro:     host.Distro(),
		PID:        host.PID(),
		Created:    time.Now().UTC().Format(time.RFC3339Nano),
		Clock:      clock,
		Locations:  locations,
		Properties: p,
	}
}

func writeAnchor(dir string, a *Anchor) error {
	out, err := yaml.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "marshal anchor")
	}
	path := anchorPath(dir)
	if err := os.WriteFile(path, out, 0644); err != nil {
		return errors.Wrapf(err, "write anchor %s", path)
	}
	return nil
}

func readAnchor(dir string) (*Anchor, error) {
	path := anchorPath(dir)
	in, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read anchor %s", path)
	}
	a := &Anchor{}
	if err := yaml.Unmarshal(in, a); err != nil {
		return nil, errors.Wrapf(err, "parse anchor %s", path)
	}
	if err := checkVersion(a.Version); err != nil {
		return nil, err
	}
	return a, nil
}

func checkVersion(v string) error {
	got, err := version.NewVersion(v)
	if err != nil {
		return errors.Wrapf(ErrIncompatibleVersion, "bad version %q", v)
	}
	c, err := version.NewConstraint(versionConstraint)
	if err != nil {
		return errors.Wrap(err, "parse version constraint")
	}
	if !c.Check(got) {
		return errors.Wrapf(ErrIncompatibleVersion, "%s does not satisfy %s", v, versionConstraint)
	}
	return nil
}
