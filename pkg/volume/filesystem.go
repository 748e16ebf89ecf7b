// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeremyhahn/cryptcache/pkg/syscmd"
)

// FilesystemOptions contains options for creating the cache filesystem
type FilesystemOptions struct {
	// Device is the decrypted block device (e.g. /dev/dm-4)
	Device string

	// Label for the filesystem
	Label string

	// RootOwner sets the owner of the filesystem root directory. Ownership
	// cannot be changed later without privileges, so it is embedded at
	// creation time.
	RootOwner *Owner

	// ReservedBlocksPercent (0 = mkfs default)
	ReservedBlocksPercent float64
}

// MakeFilesystem creates an ext4 filesystem on the decrypted device
func (v *Volumes) MakeFilesystem(ctx context.Context, opts FilesystemOptions) error {
	args := []string{"-q"}

	if opts.Label != "" {
		args = append(args, "-L", opts.Label)
	}

	if opts.ReservedBlocksPercent > 0 {
		args = append(args, "-m", fmt.Sprintf("%.1f", opts.ReservedBlocksPercent))
	}

	var extOpts []string
	if opts.RootOwner != nil {
		extOpts = append(extOpts, fmt.Sprintf("root_owner=%d:%d", opts.RootOwner.UID, opts.RootOwner.GID))
	}
	if len(extOpts) > 0 {
		args = append(args, "-E", strings.Join(extOpts, ","))
	}

	args = append(args, absPath(opts.Device))

	_, err := v.run(ctx, "", syscmd.Command{Path: v.Tools.Mkfs, Args: args})
	return err
}
