// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeremyhahn/cryptcache/pkg/syscmd"
	"github.com/jeremyhahn/cryptcache/pkg/volume"
)

const testUUID = "ac892918-d26d-4bf7-a03c-78af9f70b6f4"

type mapping struct {
	dm     string // /dev/dm-N
	mapper string // /dev/mapper/luks-<uuid>
	mount  string
}

// fakeHost simulates udisks and the kernel state it manipulates
type fakeHost struct {
	calls []string

	// MountDir is where Mount attaches filesystems
	MountDir string

	loops    map[string]string   // loop device -> container
	mappings map[string]*mapping // loop device -> mapping
	next     int

	Busy bool

	// Overrides
	LoopSetupFunc   func(file string) (volume.Outcome, error)
	BackingLoopFunc func(mappedDev string) (volume.Outcome, error)
	UnmountFunc     func(luksPath string) (volume.Outcome, error)
	LockFunc        func(loopDev string) (volume.Outcome, error)
	LuksFormatFunc  func(opts volume.LuksFormatOptions) error

	Formatted  []volume.LuksFormatOptions
	Filesystem []volume.FilesystemOptions
}

func newFakeHost(mountDir string) *fakeHost {
	return &fakeHost{
		MountDir: mountDir,
		loops:    make(map[string]string),
		mappings: make(map[string]*mapping),
	}
}

func (h *fakeHost) record(format string, args ...interface{}) {
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded operation names without arguments
func (h *fakeHost) Calls() []string {
	ops := make([]string, 0, len(h.calls))
	for _, c := range h.calls {
		ops = append(ops, strings.Fields(c)[0])
	}
	return ops
}

func (h *fakeHost) mappingBy(dev string) (string, *mapping) {
	for loop, m := range h.mappings {
		if m.dm == dev || m.mapper == dev {
			return loop, m
		}
	}
	return "", nil
}

func (h *fakeHost) LoopSetup(_ context.Context, file string) (volume.Outcome, error) {
	h.record("loop-setup %s", file)
	if h.LoopSetupFunc != nil {
		return h.LoopSetupFunc(file)
	}
	dev := fmt.Sprintf("/dev/loop%d", h.next)
	h.next++
	h.loops[dev] = file
	return volume.Outcome{Token: dev}, nil
}

func (h *fakeHost) Unlock(_ context.Context, loopDev, keyFile string) (volume.Outcome, error) {
	h.record("unlock %s %s", loopDev, keyFile)
	if _, ok := h.loops[loopDev]; !ok {
		return volume.Outcome{}, &syscmd.CommandError{ExitCode: 1}
	}
	if m, ok := h.mappings[loopDev]; ok {
		return volume.Outcome{Token: m.dm, ExitCode: 1}, nil
	}
	n := len(h.mappings)
	h.mappings[loopDev] = &mapping{
		dm:     fmt.Sprintf("/dev/dm-%d", n),
		mapper: "/dev/mapper/luks-" + testUUID,
	}
	return volume.Outcome{Token: h.mappings[loopDev].dm}, nil
}

func (h *fakeHost) Mount(_ context.Context, mappedDev string) (volume.Outcome, error) {
	h.record("mount %s", mappedDev)
	_, m := h.mappingBy(mappedDev)
	if m == nil {
		return volume.Outcome{}, &syscmd.CommandError{ExitCode: 2}
	}
	if m.mount != "" {
		return volume.Outcome{Token: m.mount, ExitCode: 1}, nil
	}
	m.mount = h.MountDir
	return volume.Outcome{Token: m.mount}, nil
}

func (h *fakeHost) Unmount(_ context.Context, luksPath string) (volume.Outcome, error) {
	h.record("unmount %s", luksPath)
	if h.UnmountFunc != nil {
		return h.UnmountFunc(luksPath)
	}
	_, m := h.mappingBy(luksPath)
	if m == nil || m.mount == "" {
		return volume.Outcome{}, &syscmd.CommandError{ExitCode: 1}
	}
	m.mount = ""
	return volume.Outcome{Token: luksPath}, nil
}

func (h *fakeHost) Lock(_ context.Context, loopDev string) (volume.Outcome, error) {
	h.record("lock %s", loopDev)
	if h.LockFunc != nil {
		return h.LockFunc(loopDev)
	}
	m, ok := h.mappings[loopDev]
	if !ok {
		return volume.Outcome{}, &syscmd.CommandError{ExitCode: 1}
	}
	if m.mount != "" {
		return volume.Outcome{}, &syscmd.CommandError{ExitCode: 1}
	}
	delete(h.mappings, loopDev)
	return volume.Outcome{Token: loopDev}, nil
}

func (h *fakeHost) LoopDelete(_ context.Context, loopDev string) (volume.Outcome, error) {
	h.record("loop-delete %s", loopDev)
	if _, ok := h.loops[loopDev]; !ok {
		return volume.Outcome{}, &syscmd.CommandError{ExitCode: 1}
	}
	delete(h.loops, loopDev)
	return volume.Outcome{}, nil
}

func (h *fakeHost) BackingLoop(_ context.Context, mappedDev string) (volume.Outcome, error) {
	h.record("info %s", mappedDev)
	if h.BackingLoopFunc != nil {
		return h.BackingLoopFunc(mappedDev)
	}
	loop, _ := h.mappingBy(mappedDev)
	return volume.Outcome{Token: loop}, nil
}

func (h *fakeHost) FindLUKSPath(_ context.Context, dir string) (volume.Outcome, error) {
	h.record("mount-table %s", dir)
	for _, m := range h.mappings {
		if m.mount != "" && m.mount == filepath.Clean(dir) {
			return volume.Outcome{Token: m.mapper}, nil
		}
	}
	return volume.Outcome{}, nil
}

func (h *fakeHost) LuksFormat(_ context.Context, opts volume.LuksFormatOptions) error {
	h.record("luksFormat %s", opts.Container)
	if h.LuksFormatFunc != nil {
		return h.LuksFormatFunc(opts)
	}
	h.Formatted = append(h.Formatted, opts)
	return nil
}

func (h *fakeHost) MakeFilesystem(_ context.Context, opts volume.FilesystemOptions) error {
	h.record("mkfs %s", opts.Device)
	h.Filesystem = append(h.Filesystem, opts)
	return nil
}

func (h *fakeHost) FindLoopDevice(file string) (string, error) {
	devs := make([]string, 0, len(h.loops))
	for dev, f := range h.loops {
		if f == file {
			devs = append(devs, dev)
		}
	}
	if len(devs) == 0 {
		return "", fmt.Errorf("no loop device found for %s", file)
	}
	sort.Strings(devs)
	return devs[0], nil
}

func (h *fakeHost) Holders(dev string) ([]string, error) {
	if m, ok := h.mappings[dev]; ok {
		return []string{m.dm}, nil
	}
	return nil, nil
}

func (h *fakeHost) MapperName(dev string) (string, error) {
	if _, m := h.mappingBy(dev); m != nil {
		return filepath.Base(m.mapper), nil
	}
	return "", fmt.Errorf("%s is not a mapped device", dev)
}

func (h *fakeHost) MappingActive(name string) bool {
	_, m := h.mappingBy("/dev/mapper/" + name)
	return m != nil
}

func (h *fakeHost) MountSource(dir string) (string, bool, error) {
	for _, m := range h.mappings {
		if m.mount == dir {
			return m.mapper, true, nil
		}
	}
	return "", false, nil
}

func (h *fakeHost) MountPoints(sources ...string) ([]string, error) {
	var points []string
	for _, s := range sources {
		if _, m := h.mappingBy(s); m != nil && m.mount != "" {
			points = append(points, m.mount)
			break
		}
	}
	return points, nil
}

func (h *fakeHost) IsBlockDevice(path string) (bool, error) {
	_, m := h.mappingBy(path)
	return m != nil, nil
}

type fakeLock struct {
	released *bool
}

func (l fakeLock) Release() error {
	*l.released = true
	return nil
}

func (h *fakeHost) AcquireLock(path string) (Releaser, error) {
	if h.Busy {
		return nil, fmt.Errorf("failed to acquire lock on %s: resource temporarily unavailable", path)
	}
	released := false
	return fakeLock{released: &released}, nil
}
