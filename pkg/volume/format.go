// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/jeremyhahn/cryptcache/pkg/syscmd"
)

// Owner is a numeric file owner
type Owner struct {
	UID int
	GID int
}

// ContainerOptions describes a new container file
type ContainerOptions struct {
	Path string
	Size int64

	// Owner, when set, receives ownership of the file after creation
	Owner *Owner
}

// CreateContainer allocates a sparse container file of opts.Size bytes,
// readable and writable by its owner only. The file must not exist.
func CreateContainer(opts ContainerOptions) error {
	if opts.Size <= 0 {
		return fmt.Errorf("invalid container size: %d", opts.Size)
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 -- user-provided path for container file
	if err != nil {
		return errors.Wrap(err, "failed to create container")
	}

	if err := f.Truncate(opts.Size); err != nil {
		_ = f.Close()
		_ = os.Remove(opts.Path)
		return errors.Wrap(err, "failed to set container size")
	}
	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		_ = os.Remove(opts.Path)
		return errors.Wrap(err, "failed to restrict container permissions")
	}
	if opts.Owner != nil {
		if err := f.Chown(opts.Owner.UID, opts.Owner.GID); err != nil {
			_ = f.Close()
			_ = os.Remove(opts.Path)
			return errors.Wrapf(err, "failed to chown container to %d:%d", opts.Owner.UID, opts.Owner.GID)
		}
	}

	return f.Close()
}

// LuksFormatOptions contains the parameters of a non-interactive luksFormat
type LuksFormatOptions struct {
	Container string
	KeyFile   string
	Cipher    string // e.g. "aes-xts-plain64"
	KeySize   int    // bits
	Type      string // "luks1" or "luks2"; empty uses the cryptsetup default
}

// LuksFormat writes a LUKS header to the container using the key file
func (v *Volumes) LuksFormat(ctx context.Context, opts LuksFormatOptions) error {
	args := []string{"luksFormat", "--batch-mode"}
	if opts.Type != "" {
		args = append(args, "--type", opts.Type)
	}
	if opts.Cipher != "" {
		args = append(args, "--cipher", opts.Cipher)
	}
	if opts.KeySize > 0 {
		args = append(args, "--key-size", fmt.Sprintf("%d", opts.KeySize))
	}
	args = append(args, "--key-file", absPath(opts.KeyFile), absPath(opts.Container))

	_, err := v.run(ctx, "", syscmd.Command{Path: v.Tools.Cryptsetup, Args: args})
	return err
}
