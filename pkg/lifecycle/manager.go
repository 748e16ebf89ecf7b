// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle sequences volume operations into the init, unlock and
// lock workflows of an encrypted container file.
//
// Lifecycle state is never persisted. Each workflow re-derives it from the
// operating system: the mount table, udisks device information and sysfs.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jeremyhahn/cryptcache/pkg/config"
	"github.com/jeremyhahn/cryptcache/pkg/keys"
	"github.com/jeremyhahn/cryptcache/pkg/volume"
)

// Volumes runs the external volume operations
type Volumes interface {
	LoopSetup(ctx context.Context, file string) (volume.Outcome, error)
	Unlock(ctx context.Context, loopDev, keyFile string) (volume.Outcome, error)
	Mount(ctx context.Context, mappedDev string) (volume.Outcome, error)
	Unmount(ctx context.Context, luksPath string) (volume.Outcome, error)
	Lock(ctx context.Context, loopDev string) (volume.Outcome, error)
	LoopDelete(ctx context.Context, loopDev string) (volume.Outcome, error)
	BackingLoop(ctx context.Context, mappedDev string) (volume.Outcome, error)
	FindLUKSPath(ctx context.Context, dir string) (volume.Outcome, error)
	LuksFormat(ctx context.Context, opts volume.LuksFormatOptions) error
	MakeFilesystem(ctx context.Context, opts volume.FilesystemOptions) error
}

// Releaser releases an acquired lock
type Releaser interface {
	Release() error
}

// System answers read-only questions about devices and mounts
type System interface {
	FindLoopDevice(file string) (string, error)
	Holders(dev string) ([]string, error)
	MapperName(dev string) (string, error)
	MappingActive(name string) bool
	MountSource(dir string) (string, bool, error)
	MountPoints(sources ...string) ([]string, error)
	IsBlockDevice(path string) (bool, error)
	AcquireLock(path string) (Releaser, error)
}

// Manager runs the lifecycle workflows
type Manager struct {
	Volumes  Volumes
	System   System
	Config   *config.Config
	Keys     keys.Locator
	Identity keys.Identity

	// Cwd and ExeDir are the first two places searched for a disk marker
	Cwd    string
	ExeDir string

	// Executable is the name used in re-exec hints
	Executable string

	// CreateFile allocates new containers (defaults to volume.CreateContainer)
	CreateFile func(volume.ContainerOptions) error

	Log logrus.FieldLogger
}

// NewManager creates a Manager using the key layout of cfg
func NewManager(cfg *config.Config, vols Volumes, sys System, id keys.Identity, log logrus.FieldLogger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		Volumes:    vols,
		System:     sys,
		Config:     cfg,
		Keys:       cfg.Locator(),
		Identity:   id,
		Executable: "cryptcache",
		CreateFile: volume.CreateContainer,
		Log:        log,
	}
}

func (m *Manager) log() logrus.FieldLogger {
	if m.Log == nil {
		return logrus.StandardLogger()
	}
	return m.Log
}

func (m *Manager) config() *config.Config {
	if m.Config == nil {
		return config.Default()
	}
	return m.Config
}

// resolveKey finds the disk ID for container and the key file belonging to it
func (m *Manager) resolveKey(op, container string) (string, error) {
	cfg := m.config()
	log := m.log().WithFields(logrus.Fields{"op": op, "container": container})

	dirs := keys.SearchDirs(m.Cwd, m.ExeDir, container)
	id, marker, err := keys.FindDiskID(dirs, cfg.DiskMarkerExt)
	if err != nil {
		return "", &Error{
			Op:   op,
			Path: container,
			Hint: fmt.Sprintf("create an empty <disk-id>%s file next to the container", cfg.DiskMarkerExt),
			Err:  err,
		}
	}
	log = log.WithField("disk_id", id)
	log.WithField("marker", marker).Debug("found disk ID")

	keyFile, ok := m.Keys.Resolve(id, m.Identity)
	if !ok {
		expected := m.Keys.Expected(id, m.Identity)
		return "", &Error{
			Op:   op,
			Path: container,
			Hint: "generate a key with: " + keys.GenerateHint(expected, cfg.KeyBytes),
			Err:  fmt.Errorf("%w: %s", ErrKeyMissing, expected),
		}
	}

	info, err := keys.Inspect(keyFile)
	if err != nil {
		log.WithError(err).Warn("unable to inspect key file")
		return keyFile, nil
	}
	log = log.WithFields(logrus.Fields{"key": keyFile, "fingerprint": info.Fingerprint.String()})
	if info.Size != int64(cfg.KeyBytes) {
		log.WithField("size", info.Size).Warnf("key file is not %d bytes", cfg.KeyBytes)
	} else {
		log.Debug("resolved key file")
	}

	return keyFile, nil
}

// Init creates, formats and validates a new container, leaving it locked.
// The process must run as root; under elevation the container and its
// filesystem root belong to the invoking user.
func (m *Manager) Init(ctx context.Context, container string) error {
	cfg := m.config()
	if !m.Identity.Privileged() {
		return &Error{
			Op:   "init",
			Path: container,
			Hint: fmt.Sprintf("re-run with: sudo %s init %s", m.Executable, container),
			Err:  ErrNotElevated,
		}
	}

	container, err := filepath.Abs(container)
	if err != nil {
		return errors.Wrap(err, "failed to resolve container path")
	}
	log := m.log().WithFields(logrus.Fields{"op": "init", "container": container})

	if _, err := os.Lstat(container); err == nil {
		return &Error{Op: "init", Path: container, Err: ErrContainerExists}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to stat %s", container)
	}

	keyFile, err := m.resolveKey("init", container)
	if err != nil {
		return err
	}

	size, err := cfg.ContainerBytes()
	if err != nil {
		return errors.Wrap(err, "invalid container size")
	}

	target := m.Identity.Target()
	opts := volume.ContainerOptions{Path: container, Size: size}
	if m.Identity.Elevated() {
		opts.Owner = &volume.Owner{UID: target.UID, GID: target.GID}
	}
	create := m.CreateFile
	if create == nil {
		create = volume.CreateContainer
	}
	if err := create(opts); err != nil {
		return err
	}
	log.WithField("size", size).Debug("created container")

	err = m.Volumes.LuksFormat(ctx, volume.LuksFormatOptions{
		Container: container,
		KeyFile:   keyFile,
		Cipher:    cfg.Cipher,
		KeySize:   cfg.KeySize,
		Type:      cfg.LUKSType,
	})
	if err != nil {
		if rmErr := os.Remove(container); rmErr != nil {
			log.WithError(rmErr).Warn("failed to remove container after format failure")
		}
		return err
	}

	loop, err := m.Volumes.LoopSetup(ctx, container)
	if err != nil {
		return err
	}
	if !loop.Found() {
		return &Error{Op: "init", Path: container, Err: errors.New("loop-setup reported no loop device")}
	}
	log = log.WithField("device", loop.Token)

	mapped, err := m.Volumes.Unlock(ctx, loop.Token, keyFile)
	if err != nil {
		return err
	}
	if !mapped.Found() {
		return &Error{Op: "init", Path: container, Err: errors.Errorf("unlock of %s reported no mapped device", loop.Token)}
	}

	isBlock, err := m.System.IsBlockDevice(mapped.Token)
	if err != nil {
		return err
	}
	if !isBlock {
		return &Error{Op: "init", Path: container, Err: errors.Errorf("%s is not a block device", mapped.Token)}
	}

	err = m.Volumes.MakeFilesystem(ctx, volume.FilesystemOptions{
		Device:    mapped.Token,
		Label:     cfg.FilesystemLabel,
		RootOwner: &volume.Owner{UID: target.UID, GID: target.GID},
	})
	if err != nil {
		return err
	}
	log.WithField("owner", fmt.Sprintf("%d:%d", target.UID, target.GID)).Debug("created filesystem")

	backing, err := m.Volumes.BackingLoop(ctx, mapped.Token)
	if err != nil {
		return err
	}
	loopDev := backing.Token
	if !backing.Found() {
		log.Warn("no backing device reported, using loop device from setup")
		loopDev = loop.Token
	}

	return m.teardown(ctx, "", loopDev)
}

// Unlock attaches, unlocks and mounts container and returns the mount path.
// An already unlocked or mounted container yields the existing mount path.
// When a step reports no device the workflow stops and returns "".
func (m *Manager) Unlock(ctx context.Context, container string) (string, error) {
	container, err := filepath.Abs(container)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve container path")
	}
	log := m.log().WithFields(logrus.Fields{"op": "unlock", "container": container})

	fi, err := os.Stat(container)
	if err != nil {
		return "", &Error{Op: "unlock", Path: container, Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}
	if !fi.Mode().IsRegular() {
		return "", &Error{Op: "unlock", Path: container, Err: fmt.Errorf("%w: not a regular file", ErrInvalidInput)}
	}

	lock, err := m.System.AcquireLock(container)
	if err != nil {
		return "", &Error{
			Op:   "unlock",
			Path: container,
			Hint: "another invocation is operating on this container",
			Err:  fmt.Errorf("%w: %v", ErrBusy, err),
		}
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WithError(err).Warn("failed to release container lock")
		}
	}()

	keyFile, err := m.resolveKey("unlock", container)
	if err != nil {
		return "", err
	}

	loopDev, err := m.attach(ctx, container)
	if err != nil || loopDev == "" {
		return "", err
	}
	log = log.WithField("device", loopDev)

	mapped, err := m.Volumes.Unlock(ctx, loopDev, keyFile)
	if err != nil || !mapped.Found() {
		return "", err
	}
	if mapped.Tolerated() {
		log.WithField("mapped", mapped.Token).Debug("already unlocked")
	}

	mnt, err := m.Volumes.Mount(ctx, mapped.Token)
	if err != nil || !mnt.Found() {
		return "", err
	}
	if mnt.Tolerated() {
		log.WithField("mount_dir", mnt.Token).Debug("already mounted")
	}

	return mnt.Token, nil
}

// attach returns the loop device backed by container, setting one up
// unless it is already attached
func (m *Manager) attach(ctx context.Context, container string) (string, error) {
	log := m.log().WithFields(logrus.Fields{"op": "unlock", "container": container})

	dev, err := m.System.FindLoopDevice(container)
	if err == nil {
		log.WithField("device", dev).Debug("reusing attached loop device")
		return dev, nil
	}
	log.WithError(err).Debug("no attached loop device")

	loop, err := m.Volumes.LoopSetup(ctx, container)
	if err != nil {
		return "", err
	}
	return loop.Token, nil
}

// Lock unmounts the LUKS mapping mounted at dir, locks it and detaches its
// loop device.
func (m *Manager) Lock(ctx context.Context, dir string) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrap(err, "failed to resolve mount directory")
	}
	log := m.log().WithFields(logrus.Fields{"op": "lock", "mount_dir": dir})

	fi, err := os.Stat(dir)
	if err != nil {
		return &Error{Op: "lock", Path: dir, Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}
	if !fi.IsDir() {
		return &Error{Op: "lock", Path: dir, Err: fmt.Errorf("%w: not a directory", ErrInvalidInput)}
	}

	luks, err := m.Volumes.FindLUKSPath(ctx, dir)
	if err != nil {
		return err
	}
	if !luks.Found() {
		return &Error{Op: "lock", Path: dir, Err: ErrNoMount}
	}
	log = log.WithField("mapped", luks.Token)

	backing, err := m.Volumes.BackingLoop(ctx, luks.Token)
	if err != nil {
		return err
	}
	if !backing.Found() {
		return &Error{Op: "lock", Path: dir, Err: errors.Wrap(ErrNoBackingDevice, luks.Token)}
	}
	log.WithField("device", backing.Token).Debug("found backing device")

	if err := m.teardown(ctx, luks.Token, backing.Token); err != nil {
		return err
	}

	if name := filepath.Base(luks.Token); m.System.MappingActive(name) {
		log.WithField("mapping", name).Warn("mapping still active after lock")
	}
	return nil
}

// teardown runs unmount (when luksPath is set), lock and loop-delete in
// that order. Absent results do not stop the sequence.
func (m *Manager) teardown(ctx context.Context, luksPath, loopDev string) error {
	log := m.log().WithField("device", loopDev)

	if luksPath != "" {
		out, err := m.Volumes.Unmount(ctx, luksPath)
		if err != nil {
			return err
		}
		log.WithField("unmounted", out.Token).Debug("unmounted")
	}

	out, err := m.Volumes.Lock(ctx, loopDev)
	if err != nil {
		return err
	}
	log.WithField("locked", out.Token).Debug("locked")

	if _, err := m.Volumes.LoopDelete(ctx, loopDev); err != nil {
		return err
	}
	log.Debug("deleted loop device")
	return nil
}
