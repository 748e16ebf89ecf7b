// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sysstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoLoopDevice is returned when no loop device is backed by a file
var ErrNoLoopDevice = errors.New("no loop device found")

// FindLoopDevice finds the loop device for a given file by reading /sys
func (p *Probe) FindLoopDevice(file string) (string, error) {
	absFile, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(p.sysBlock())
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "loop") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(p.sysBlock(), name, "loop", "backing_file")) // #nosec G304 -- sysfs path constructed from known prefix
		if err != nil {
			continue
		}

		// the kernel appends " (deleted)" once the backing file is unlinked
		backingFile := strings.TrimSuffix(strings.TrimSpace(string(data)), " (deleted)")
		if filepath.Clean(backingFile) == absFile {
			return "/dev/" + name, nil
		}
	}

	return "", fmt.Errorf("%w for %s", ErrNoLoopDevice, file)
}

// Holders returns the devices stacked on top of dev (e.g. the dm-N
// mapping of an unlocked loop device)
func (p *Probe) Holders(dev string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.sysBlock(), filepath.Base(dev), "holders"))
	if err != nil {
		return nil, err
	}

	holders := make([]string, 0, len(entries))
	for _, e := range entries {
		holders = append(holders, "/dev/"+e.Name())
	}
	return holders, nil
}

// MapperName returns the device-mapper name of a dm-N device
func (p *Probe) MapperName(dev string) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.sysBlock(), filepath.Base(dev), "dm", "name")) // #nosec G304 -- sysfs path constructed from known prefix
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
