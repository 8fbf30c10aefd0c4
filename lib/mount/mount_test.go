// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/archfs/archfs/lib/clock"
	"github.com/archfs/archfs/lib/image"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// testMount builds an image from the given tree, mounts it, and
// returns the mountpoint. Unmount and reader close are registered as
// cleanups.
func testMount(t *testing.T, files map[string][]byte) string {
	t.Helper()
	fuseAvailable(t)

	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	imagePath := filepath.Join(t.TempDir(), "test.archfs")
	cfg := image.DefaultSegmentConfig()
	cfg.BlockSizeBits = 16
	if _, err := image.Build(root, imagePath, image.BuildOptions{
		Segment: cfg,
		Clock:   clock.Fake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
	}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	reader, err := image.Open(imagePath, image.ReaderOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { reader.Close() })

	mountpoint := filepath.Join(t.TempDir(), "mnt")
	server, err := Mount(Options{
		Mountpoint: mountpoint,
		Reader:     reader,
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() { server.Unmount() })

	return mountpoint
}

func TestMountReadFile(t *testing.T) {
	content := []byte(strings.Repeat("mounted file content\n", 1000))
	mountpoint := testMount(t, map[string][]byte{
		"docs/readme.txt": content,
	})

	got, err := os.ReadFile(filepath.Join(mountpoint, "docs", "readme.txt"))
	if err != nil {
		t.Fatalf("reading through mount: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("mounted content mismatch: %d bytes, want %d", len(got), len(content))
	}
}

func TestMountDirectoryListing(t *testing.T) {
	mountpoint := testMount(t, map[string][]byte{
		"a.txt":       []byte("a"),
		"sub/b.txt":   []byte("b"),
		"sub/c.txt":   []byte("c"),
		"other/d.bin": []byte("d"),
	})

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("listing root: %v", err)
	}
	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = entry.IsDir()
	}
	if isDir, ok := names["a.txt"]; !ok || isDir {
		t.Errorf("root listing missing regular file a.txt: %v", names)
	}
	if isDir, ok := names["sub"]; !ok || !isDir {
		t.Errorf("root listing missing directory sub: %v", names)
	}

	subEntries, err := os.ReadDir(filepath.Join(mountpoint, "sub"))
	if err != nil {
		t.Fatalf("listing sub: %v", err)
	}
	if len(subEntries) != 2 {
		t.Errorf("sub has %d entries, want 2", len(subEntries))
	}
}

func TestMountStat(t *testing.T) {
	content := []byte("stat me")
	mountpoint := testMount(t, map[string][]byte{"file.bin": content})

	info, err := os.Stat(filepath.Join(mountpoint, "file.bin"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(len(content)) {
		t.Errorf("size = %d, want %d", info.Size(), len(content))
	}
	if info.IsDir() {
		t.Error("regular file reported as directory")
	}
}

func TestMountReadOnly(t *testing.T) {
	mountpoint := testMount(t, map[string][]byte{"ro.txt": []byte("read only")})

	if _, err := os.OpenFile(filepath.Join(mountpoint, "ro.txt"), os.O_WRONLY, 0); err == nil {
		t.Error("opening a mounted file for writing succeeded")
	}
}

func TestMountSymlink(t *testing.T) {
	fuseAvailable(t)

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "target.txt"), []byte("target"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("target.txt", filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	imagePath := filepath.Join(t.TempDir(), "sym.archfs")
	if _, err := image.Build(root, imagePath, image.BuildOptions{
		Clock: clock.Fake(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
	}); err != nil {
		t.Fatal(err)
	}
	reader, err := image.Open(imagePath, image.ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reader.Close() })

	mountpoint := filepath.Join(t.TempDir(), "mnt")
	server, err := Mount(Options{Mountpoint: mountpoint, Reader: reader})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { server.Unmount() })

	target, err := os.Readlink(filepath.Join(mountpoint, "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "target.txt" {
		t.Errorf("readlink = %q, want target.txt", target)
	}
}
