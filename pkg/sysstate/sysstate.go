// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package sysstate queries the kernel for the current state of loop
// devices, device-mapper mappings and mounts. Nothing here changes state;
// lifecycle state is re-derived from these queries on every invocation.
package sysstate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/anatol/devmapper.go"
)

// DefaultSysBlock is where the kernel exposes block devices
const DefaultSysBlock = "/sys/block"

// Probe reads system state. The zero value reads the live system.
type Probe struct {
	// SysBlock overrides /sys/block (tests)
	SysBlock string

	// MappingInfo overrides the device-mapper lookup (tests)
	MappingInfo func(name string) error
}

func (p *Probe) sysBlock() string {
	if p.SysBlock == "" {
		return DefaultSysBlock
	}
	return p.SysBlock
}

// MappingActive reports whether a device-mapper mapping called name exists.
// Only root can open the device-mapper control node; when the lookup fails
// the mapping is searched for in sysfs instead.
func (p *Probe) MappingActive(name string) bool {
	lookup := p.MappingInfo
	if lookup == nil {
		lookup = func(name string) error {
			_, err := devmapper.InfoByName(name)
			return err
		}
	}
	if lookup(name) == nil {
		return true
	}
	return p.mappedInSysfs(name)
}

// mappedInSysfs looks for a dm-N device whose dm/name is name
func (p *Probe) mappedInSysfs(name string) bool {
	entries, err := os.ReadDir(p.sysBlock())
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "dm-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.sysBlock(), e.Name(), "dm", "name")) // #nosec G304 -- sysfs path constructed from known prefix
		if err == nil && strings.TrimSpace(string(data)) == name {
			return true
		}
	}
	return false
}
