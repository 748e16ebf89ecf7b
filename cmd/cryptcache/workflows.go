// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/jeremyhahn/cryptcache/pkg/keys"
	"github.com/jeremyhahn/cryptcache/pkg/lifecycle"
	"github.com/jeremyhahn/cryptcache/pkg/syscmd"
	"github.com/jeremyhahn/cryptcache/pkg/sysstate"
	"github.com/jeremyhahn/cryptcache/pkg/volume"
)

// host adapts sysstate to lifecycle.System
type host struct {
	*sysstate.Probe
}

func (h host) AcquireLock(path string) (lifecycle.Releaser, error) {
	l, err := sysstate.AcquireFileLock(path)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// defaultWorkflows wires the lifecycle manager to the real system
func defaultWorkflows(s Setup) (Workflows, error) {
	lookupEnv := s.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	id, err := keys.CurrentIdentity(lookupEnv, s.Config.ElevationEnv)
	if err != nil {
		return nil, err
	}
	s.Log.WithField("user", id.Current.Name).WithField("euid", id.EUID).Debug("resolved identity")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}

	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		exeDir = filepath.Dir(exe)
	}

	runner := syscmd.NewExecRunner(s.Log)
	vols := volume.New(runner, s.Config.VolumeTools(), s.Config.MapperPrefix, s.Log)
	vols.Diag = s.Stderr

	mgr := lifecycle.NewManager(s.Config, vols, host{Probe: &sysstate.Probe{}}, id, s.Log)
	mgr.Cwd = cwd
	mgr.ExeDir = exeDir
	mgr.Executable = s.Executable
	return mgr, nil
}
