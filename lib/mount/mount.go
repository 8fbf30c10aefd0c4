// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/archfs/archfs/lib/image"
	"github.com/archfs/archfs/lib/manifest"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the image is mounted. It is
	// created if it does not exist.
	Mountpoint string

	// Reader is the opened image to serve.
	Reader *image.Reader

	// AllowOther permits other users (including root) to access
	// the mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Mount mounts a read-only view of the image at the configured
// mountpoint. The inode tree is built from the manifest up front —
// the image is immutable, so there is nothing to look up lazily.
// The caller must call Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Reader == nil {
		return nil, fmt.Errorf("image reader is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{options: &options}

	// The image never changes, so entries and attributes can cache
	// for a long time. One hour is effectively "forever" for a
	// typical mount lifetime without being literally unbounded.
	entryTimeout := 1 * time.Hour
	attrTimeout := 1 * time.Hour

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "archfs",
			Name:       "archfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("image mounted",
		slog.String("mountpoint", options.Mountpoint),
		slog.Int("files", len(options.Reader.Manifest().Files)))
	return server, nil
}

// rootNode is the filesystem root. OnAdd materializes the manifest's
// entire tree as persistent inodes.
type rootNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	m := r.options.Reader.Manifest()

	dirs := make(map[string]*gofuse.Inode)

	// ensureDir returns the inode for a directory path, creating it
	// and any missing parents. The empty path is the root.
	var ensureDir func(path string) *gofuse.Inode
	ensureDir = func(path string) *gofuse.Inode {
		if path == "" {
			return &r.Inode
		}
		if node, ok := dirs[path]; ok {
			return node
		}
		parent := ensureDir(parentPath(path))
		node := parent.NewPersistentInode(ctx, &gofuse.Inode{},
			gofuse.StableAttr{Mode: syscall.S_IFDIR})
		parent.AddChild(baseName(path), node, true)
		dirs[path] = node
		return node
	}

	for _, dir := range m.Dirs {
		ensureDir(dir.Path)
	}
	for i := range m.Files {
		file := &m.Files[i]
		parent := ensureDir(parentPath(file.Path))
		node := parent.NewPersistentInode(ctx, &fileNode{
			reader: r.options.Reader,
			file:   file,
		}, gofuse.StableAttr{Mode: syscall.S_IFREG})
		parent.AddChild(baseName(file.Path), node, true)
	}
	for _, link := range m.Symlinks {
		parent := ensureDir(parentPath(link.Path))
		node := parent.NewPersistentInode(ctx, &symlinkNode{target: link.Target},
			gofuse.StableAttr{Mode: syscall.S_IFLNK})
		parent.AddChild(baseName(link.Path), node, true)
	}
}

func parentPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// fileNode serves one regular file's metadata and content.
type fileNode struct {
	gofuse.Inode
	reader *image.Reader
	file   *manifest.File
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | f.file.Mode
	out.Size = uint64(f.file.Size)
	out.Blocks = (out.Size + 511) / 512
	mtime := uint64(f.file.ModTime.Unix())
	out.Mtime = mtime
	out.Ctime = mtime
	out.Atime = mtime
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// Image content is immutable; the kernel page cache is always
	// valid.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := f.reader.ReadFileRange(f.file, dest, off)
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// symlinkNode serves one symbolic link.
type symlinkNode struct {
	gofuse.Inode
	target string
}

var _ gofuse.InodeEmbedder = (*symlinkNode)(nil)
var _ gofuse.NodeReadlinker = (*symlinkNode)(nil)

func (s *symlinkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	return []byte(s.target), 0
}
