// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sysstate

import (
	"fmt"

	"github.com/moby/sys/mountinfo"
)

// Mounted reports whether dir is a mount point
func (p *Probe) Mounted(dir string) (bool, error) {
	mounted, err := mountinfo.Mounted(dir)
	if err != nil {
		return false, fmt.Errorf("failed to check mount point %s: %w", dir, err)
	}
	return mounted, nil
}

// MountSource returns the source device mounted at dir, if any
func (p *Probe) MountSource(dir string) (string, bool, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(dir))
	if err != nil {
		return "", false, fmt.Errorf("failed to read mount table: %w", err)
	}
	if len(mounts) == 0 {
		return "", false, nil
	}
	return mounts[len(mounts)-1].Source, true, nil
}

// MountPoints returns every mount point whose source is one of sources
func (p *Probe) MountPoints(sources ...string) ([]string, error) {
	want := make(map[string]bool, len(sources))
	for _, s := range sources {
		want[s] = true
	}

	mounts, err := mountinfo.GetMounts(func(m *mountinfo.Info) (skip, stop bool) {
		return !want[m.Source], false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	points := make([]string, 0, len(mounts))
	for _, m := range mounts {
		points = append(points, m.Mountpoint)
	}
	return points, nil
}
