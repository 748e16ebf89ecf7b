// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/jeremyhahn/cryptcache/pkg/syscmd"
)

const noInteraction = "--no-user-interaction"

// LoopSetup attaches file as a loop device and returns its path (e.g. /dev/loop0)
func (v *Volumes) LoopSetup(ctx context.Context, file string) (Outcome, error) {
	return v.run(ctx, OpLoopSetup, syscmd.Command{
		Path: v.Tools.Udisksctl,
		Args: []string{"loop-setup", "--file=" + absPath(file), noInteraction},
	})
}

// Unlock opens the LUKS volume on loopDev with keyFile and returns the
// mapped device. Exit code 1 ("already unlocked as ...") is tolerated.
func (v *Volumes) Unlock(ctx context.Context, loopDev, keyFile string) (Outcome, error) {
	return v.run(ctx, OpUnlock, syscmd.Command{
		Path:     v.Tools.Udisksctl,
		Args:     []string{"unlock", "--block-device=" + absPath(loopDev), "--key-file", absPath(keyFile), noInteraction},
		Expected: []int{0, 1},
	})
}

// Mount mounts the decrypted device and returns the mount path. Exit code 1
// ("already mounted at ...") is tolerated.
func (v *Volumes) Mount(ctx context.Context, mappedDev string) (Outcome, error) {
	return v.run(ctx, OpMount, syscmd.Command{
		Path:     v.Tools.Udisksctl,
		Args:     []string{"mount", "--block-device=" + absPath(mappedDev), noInteraction},
		Expected: []int{0, 1},
	})
}

// Unmount unmounts the filesystem of luksPath and returns the unmounted device
func (v *Volumes) Unmount(ctx context.Context, luksPath string) (Outcome, error) {
	return v.run(ctx, OpUnmount, syscmd.Command{
		Path: v.Tools.Udisksctl,
		Args: []string{"unmount", "--block-device=" + absPath(luksPath), noInteraction},
	})
}

// Lock removes the decrypted mapping on top of loopDev and returns the locked device
func (v *Volumes) Lock(ctx context.Context, loopDev string) (Outcome, error) {
	return v.run(ctx, OpLock, syscmd.Command{
		Path: v.Tools.Udisksctl,
		Args: []string{"lock", "--block-device=" + absPath(loopDev), noInteraction},
	})
}

// LoopDelete detaches loopDev
func (v *Volumes) LoopDelete(ctx context.Context, loopDev string) (Outcome, error) {
	return v.run(ctx, "", syscmd.Command{
		Path: v.Tools.Udisksctl,
		Args: []string{"loop-delete", "--block-device=" + absPath(loopDev), noInteraction},
	})
}

// BackingLoop queries udisks for the crypto backing device of a decrypted
// device and returns it as a /dev path (e.g. /dev/loop0)
func (v *Volumes) BackingLoop(ctx context.Context, mappedDev string) (Outcome, error) {
	out, err := v.run(ctx, OpInfo, syscmd.Command{
		Path: v.Tools.Udisksctl,
		Args: []string{"info", "--block-device=" + absPath(mappedDev)},
	})
	if err != nil || !out.Found() {
		return out, err
	}
	out.Token = "/dev/" + out.Token
	return out, nil
}

// FindLUKSPath inspects the mount table for a LUKS mapping mounted at dir.
// Nothing mounted at dir is a legitimate, absent result.
func (v *Volumes) FindLUKSPath(ctx context.Context, dir string) (Outcome, error) {
	res, err := v.Runner.Run(ctx, syscmd.Command{Path: v.Tools.Mount})
	if err != nil {
		return Outcome{}, err
	}

	return v.extract(OpMountTable, MountTablePattern(v.MapperPrefix, dir), res, Outcome{ExitCode: res.ExitCode}), nil
}

// MapperUUID extracts the LUKS UUID from a mapper path such as
// /dev/mapper/luks-ac892918-d26d-4bf7-a03c-78af9f70b6f4
func MapperUUID(prefix, path string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimPrefix(path, prefix))
}
