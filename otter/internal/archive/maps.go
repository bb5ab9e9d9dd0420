// Copyright (C) 2026 The Otter Authors. All rights reserved.

package archive

import (
	"io"
	"os"
	"path/filepath"

	"github.com/otter-trace/otter-go/otter/internal/host"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/pkg/errors"
)

// copyMemoryMap copies the process memory map into dir/aux/maps so return
// addresses can be resolved offline.
func copyMemoryMap(dir string) error {
	if host.MemoryMapPath == "" {
		log.Debug("no memory map on this platform")
		return nil
	}
	aux := filepath.Join(dir, auxDir)
	if err := os.MkdirAll(aux, 0755); err != nil {
		return errors.Wrapf(err, "create %s", aux)
	}

	in, err := os.Open(host.MemoryMapPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", host.MemoryMapPath)
	}
	defer in.Close()

	dst := filepath.Join(aux, mapsName)
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "copy memory map to %s", dst)
	}
	log.Debugf("copied %d bytes of memory map to %s", n, dst)
	return nil
}
