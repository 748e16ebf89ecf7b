// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
)

// Op names a volume operation whose output is parsed
type Op string

const (
	OpLoopSetup  Op = "loop-setup"
	OpUnlock     Op = "unlock"
	OpMount      Op = "mount"
	OpUnmount    Op = "unmount"
	OpLock       Op = "lock"
	OpInfo       Op = "info"
	OpMountTable Op = "mount-table"
)

// Pattern extracts one token from a status line
type Pattern struct {
	Regexp *regexp.Regexp

	// Group is the capture group holding the token
	Group int

	// Optional marks "no match" as a legitimate outcome that needs no
	// diagnostic dump
	Optional bool
}

// Patterns maps every parsed operation to its pattern
type Patterns map[Op]Pattern

// DefaultPatterns returns the udisksctl output patterns. All patterns are
// line anchored; a trailing period is never part of the token.
func DefaultPatterns() Patterns {
	// "Mapped file X as /dev/loop0." and
	// "Error unlocking /dev/loop0: ... is already unlocked as /dev/dm-4."
	as := regexp.MustCompile(`(?m) as (\S+?)\.?\s*$`)

	return Patterns{
		OpLoopSetup: {Regexp: as, Group: 1},
		OpUnlock:    {Regexp: as, Group: 1},
		// "Mounted /dev/dm-6 at /run/media/fs/Y." and
		// "... is already mounted at `/run/media/fs/Y'."
		OpMount:   {Regexp: regexp.MustCompile("(?m) at `?(\\S+?)'?\\.?\\s*$"), Group: 1},
		OpUnmount: {Regexp: regexp.MustCompile(`(?m)^Unmounted (/dev/\S+?)\.?\s*$`), Group: 1},
		OpLock:    {Regexp: regexp.MustCompile(`(?m)^Locked (/dev/\S+?)\.?\s*$`), Group: 1},
		OpInfo: {
			Regexp: regexp.MustCompile(`CryptoBackingDevice:\s+'/org/freedesktop/UDisks2/block_devices/(.+?)'`),
			Group:  1,
		},
	}
}

// MountTablePattern matches a `mount` output line whose source carries
// prefix and whose target is exactly dir, e.g.
// "/dev/mapper/luks-<uuid> on /run/media/user/X type ext4 (rw,...)".
func MountTablePattern(prefix, dir string) Pattern {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	expr := fmt.Sprintf(`(?m)^(%s.+?)\s+on\s+%s\s+type\s`, regexp.QuoteMeta(prefix), regexp.QuoteMeta(dir))
	return Pattern{Regexp: regexp.MustCompile(expr), Group: 1, Optional: true}
}

// Extract searches stdout, then stderr, for p and returns the token.
// When a mandatory pattern does not match, both streams are written to
// diag and an absent result is returned; the caller decides whether that
// is fatal.
func Extract(p Pattern, stdout, stderr []byte, diag io.Writer) (string, bool) {
	for _, out := range [][]byte{stdout, stderr} {
		if len(out) == 0 {
			continue
		}
		if m := p.Regexp.FindSubmatch(out); m != nil && p.Group < len(m) {
			return string(m[p.Group]), true
		}
	}

	if !p.Optional && diag != nil {
		dump(diag, stdout)
		dump(diag, stderr)
	}
	return "", false
}

func dump(w io.Writer, b []byte) {
	b = bytes.TrimRight(b, "\n")
	if len(b) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "%s\n", b)
}
