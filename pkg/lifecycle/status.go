// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jeremyhahn/cryptcache/pkg/volume"
)

// State is the lifecycle state of a container as observed on the system
type State int

const (
	StateAbsent State = iota
	StateLocked
	StateAttached
	StateUnlocked
	StateMounted
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "ABSENT"
	case StateLocked:
		return "LOCKED"
	case StateAttached:
		return "ATTACHED"
	case StateUnlocked:
		return "UNLOCKED"
	case StateMounted:
		return "MOUNTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status describes what is known about a container or mount directory
type Status struct {
	State        State
	Container    string
	LoopDevice   string
	MappedDevice string
	UUID         uuid.UUID
	MountPoints  []string
}

// Status re-derives the lifecycle state of path, which is either a
// container file or the directory a container is mounted at.
func (m *Manager) Status(ctx context.Context, path string) (*Status, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve path")
	}

	fi, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return &Status{State: StateAbsent, Container: path}, nil
	case err != nil:
		return nil, &Error{Op: "status", Path: path, Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	case fi.IsDir():
		return m.mountStatus(ctx, path)
	case fi.Mode().IsRegular():
		return m.containerStatus(path)
	}
	return nil, &Error{Op: "status", Path: path, Err: fmt.Errorf("%w: not a file or directory", ErrInvalidInput)}
}

func (m *Manager) containerStatus(container string) (*Status, error) {
	st := &Status{State: StateLocked, Container: container}

	loopDev, err := m.System.FindLoopDevice(container)
	if err != nil {
		m.log().WithError(err).Debug("container not attached")
		return st, nil
	}
	st.State = StateAttached
	st.LoopDevice = loopDev

	holders, err := m.System.Holders(loopDev)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list holders of %s", loopDev)
	}

	for _, h := range holders {
		name, err := m.System.MapperName(h)
		if err != nil || !m.System.MappingActive(name) {
			continue
		}

		st.State = StateUnlocked
		st.MappedDevice = "/dev/mapper/" + name
		m.setUUID(st)

		points, err := m.System.MountPoints(st.MappedDevice, h)
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			st.State = StateMounted
			st.MountPoints = points
		}
		break
	}

	return st, nil
}

func (m *Manager) mountStatus(ctx context.Context, dir string) (*Status, error) {
	source, ok, err := m.System.MountSource(dir)
	if err != nil {
		return nil, err
	}
	if !ok || !strings.HasPrefix(source, m.config().MapperPrefix) {
		return nil, &Error{Op: "status", Path: dir, Err: ErrNoMount}
	}

	st := &Status{State: StateMounted, MappedDevice: source, MountPoints: []string{dir}}
	m.setUUID(st)

	backing, err := m.Volumes.BackingLoop(ctx, source)
	if err != nil {
		return nil, err
	}
	st.LoopDevice = backing.Token

	return st, nil
}

func (m *Manager) setUUID(st *Status) {
	if id, err := volume.MapperUUID(m.config().MapperPrefix, st.MappedDevice); err == nil {
		st.UUID = id
	}
}
