// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}

func TestSearchDirs(t *testing.T) {
	got := SearchDirs("/home/user", "/opt/cryptcache/bin", "/srv/backup/cache/cache.img")
	want := []string{
		"/home/user",
		"/opt/cryptcache/bin",
		"/srv/backup/cache",
		"/srv/backup",
		"/srv",
	}
	if strings.Join(got, ":") != strings.Join(want, ":") {
		t.Errorf("SearchDirs() = %v, want %v", got, want)
	}
}

func TestSearchDirs_NoContainer(t *testing.T) {
	got := SearchDirs("/home/user", "", "")
	if len(got) != 1 || got[0] != "/home/user" {
		t.Errorf("SearchDirs() = %v, want [/home/user]", got)
	}
}

func TestSearchDirs_ContainerInRoot(t *testing.T) {
	got := SearchDirs("", "", "/cache.img")
	if len(got) != 0 {
		t.Errorf("SearchDirs() = %v, the filesystem root is never searched", got)
	}
}

func TestFindDiskID(t *testing.T) {
	root := t.TempDir()
	cwd := filepath.Join(root, "cwd")
	exe := filepath.Join(root, "bin")
	media := filepath.Join(root, "media", "disk1")
	for _, d := range []string{cwd, exe, media} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	touch(t, filepath.Join(root, "media", "USB-7.DISK"), nil)
	touch(t, filepath.Join(media, "notes.txt"), nil)

	dirs := SearchDirs(cwd, exe, filepath.Join(media, "cache.img"))
	id, marker, err := FindDiskID(dirs, ".DISK")
	if err != nil {
		t.Fatalf("FindDiskID() error = %v", err)
	}
	if id != "USB-7" {
		t.Errorf("FindDiskID() id = %q, want %q", id, "USB-7")
	}
	if marker != filepath.Join(root, "media", "USB-7.DISK") {
		t.Errorf("FindDiskID() marker = %q", marker)
	}

	// the working directory is searched first
	touch(t, filepath.Join(cwd, "HOME-1.DISK"), nil)
	id, _, err = FindDiskID(dirs, ".DISK")
	if err != nil {
		t.Fatalf("FindDiskID() error = %v", err)
	}
	if id != "HOME-1" {
		t.Errorf("FindDiskID() id = %q, want %q", id, "HOME-1")
	}
}

func TestFindDiskID_IgnoresDirectoriesAndBareExtension(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "X.DISK"), 0755); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(dir, ".DISK"), nil)

	_, _, err := FindDiskID([]string{dir}, ".DISK")
	if !errors.Is(err, ErrNoDiskID) {
		t.Errorf("FindDiskID() error = %v, want ErrNoDiskID", err)
	}
}

func TestFindDiskID_NotFound(t *testing.T) {
	_, _, err := FindDiskID([]string{t.TempDir(), "/nonexistent/dir"}, "")
	if !errors.Is(err, ErrNoDiskID) {
		t.Errorf("FindDiskID() error = %v, want ErrNoDiskID", err)
	}
}

func TestLocator_Path(t *testing.T) {
	got := DefaultLocator().Path("/home/alice", "USB-7")
	if got != "/home/alice/.config/borg/borg.cache-USB-7.key" {
		t.Errorf("Path() = %q", got)
	}
}

func TestLocator_Resolve(t *testing.T) {
	root := t.TempDir()
	rootHome := filepath.Join(root, "root")
	userHome := filepath.Join(root, "alice")
	l := DefaultLocator()

	elevated := Identity{
		Current:  Account{Name: "root", HomeDir: rootHome},
		Original: &Account{Name: "alice", UID: 1000, GID: 1000, HomeDir: userHome},
	}
	plain := Identity{Current: Account{Name: "alice", UID: 1000, GID: 1000, HomeDir: userHome}, EUID: 1000}

	if _, ok := l.Resolve("USB-7", elevated); ok {
		t.Fatal("Resolve() found a key that does not exist")
	}

	touch(t, l.Path(userHome, "USB-7"), make([]byte, 512))
	if got, ok := l.Resolve("USB-7", elevated); !ok || got != l.Path(userHome, "USB-7") {
		t.Errorf("Resolve() = %q, %v; want invoking user's key", got, ok)
	}
	if got, ok := l.Resolve("USB-7", plain); !ok || got != l.Path(userHome, "USB-7") {
		t.Errorf("Resolve() = %q, %v; want current user's key", got, ok)
	}

	// the current account's key wins
	touch(t, l.Path(rootHome, "USB-7"), make([]byte, 512))
	if got, _ := l.Resolve("USB-7", elevated); got != l.Path(rootHome, "USB-7") {
		t.Errorf("Resolve() = %q, want root's key", got)
	}
}

func TestLocator_Expected(t *testing.T) {
	l := DefaultLocator()
	elevated := Identity{
		Current:  Account{Name: "root", HomeDir: "/root"},
		Original: &Account{Name: "alice", HomeDir: "/home/alice"},
	}
	if got := l.Expected("X", elevated); got != "/home/alice/.config/borg/borg.cache-X.key" {
		t.Errorf("Expected() = %q under elevation", got)
	}

	plain := Identity{Current: Account{Name: "alice", HomeDir: "/home/alice"}, EUID: 1000}
	if got := l.Expected("X", plain); got != "/home/alice/.config/borg/borg.cache-X.key" {
		t.Errorf("Expected() = %q without elevation", got)
	}
}

func TestIdentity_Target(t *testing.T) {
	id := Identity{Current: Account{Name: "root", UID: 0}}
	if id.Target().Name != "root" || id.Elevated() || !id.Privileged() {
		t.Errorf("unexpected identity %+v", id)
	}

	id.Original = &Account{Name: "alice", UID: 1000, GID: 100}
	if got := id.Target(); got.UID != 1000 || got.GID != 100 {
		t.Errorf("Target() = %+v, want alice", got)
	}
	if !id.Elevated() {
		t.Error("Elevated() = false with an original account")
	}
}

func TestCurrentIdentity(t *testing.T) {
	u, err := user.Current()
	if err != nil {
		t.Skipf("cannot look up current user: %v", err)
	}

	id, err := CurrentIdentity(func(string) (string, bool) { return "", false }, "")
	if err != nil {
		t.Fatalf("CurrentIdentity() error = %v", err)
	}
	if id.Current.Name != u.Username || id.Elevated() {
		t.Errorf("CurrentIdentity() = %+v", id)
	}

	// naming the current user is not elevation
	id, err = CurrentIdentity(func(string) (string, bool) { return u.Username, true }, "SUDO_USER")
	if err != nil {
		t.Fatalf("CurrentIdentity() error = %v", err)
	}
	if id.Elevated() {
		t.Error("CurrentIdentity() reports elevation on behalf of the current user")
	}

	_, err = CurrentIdentity(func(string) (string, bool) { return "no-such-user-cryptcache", true }, "SUDO_USER")
	if err == nil {
		t.Error("CurrentIdentity() error = nil for unknown invoking user")
	}
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.key")
	touch(t, path, []byte("secret"))

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if info.Size != 6 {
		t.Errorf("Size = %d, want 6", info.Size)
	}
	// sha256("secret")
	want := "sha256:2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if info.Fingerprint.String() != want {
		t.Errorf("Fingerprint = %s, want %s", info.Fingerprint, want)
	}

	if _, err := Inspect(filepath.Join(t.TempDir(), "missing.key")); err == nil {
		t.Error("Inspect() error = nil for missing key")
	}
}

func TestGenerateHint(t *testing.T) {
	got := GenerateHint("/home/alice/.config/borg/borg.cache-X.key", 512)
	want := "mkdir -p /home/alice/.config/borg && dd if=/dev/urandom of=/home/alice/.config/borg/borg.cache-X.key bs=512 count=1 && chmod 600 /home/alice/.config/borg/borg.cache-X.key"
	if got != want {
		t.Errorf("GenerateHint() = %q, want %q", got, want)
	}
}
