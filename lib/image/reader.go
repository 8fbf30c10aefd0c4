// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/archfs/archfs/lib/blockcache"
	"github.com/archfs/archfs/lib/blockhash"
	"github.com/archfs/archfs/lib/blockstore"
	"github.com/archfs/archfs/lib/manifest"
)

// DefaultCacheBlocks is the decompressed-block cache capacity used
// when ReaderOptions.CacheBlocks is zero. At the default 4 MiB block
// size this is a 64 MiB cache.
const DefaultCacheBlocks = 16

// ReaderOptions configures an image [Reader].
type ReaderOptions struct {
	// CacheBlocks is the number of decompressed blocks held in
	// memory. Zero uses DefaultCacheBlocks.
	CacheBlocks int

	// Logger receives diagnostic messages. May be nil.
	Logger *slog.Logger
}

// Reader provides random-access reads over a built image file:
// metadata from the manifest, file content by resolving chunk
// references through the decompressed-block cache.
//
// Reader is safe for concurrent use; the FUSE mount issues reads
// from many kernel threads at once.
type Reader struct {
	file      *os.File
	manifest  *manifest.Manifest
	container *blockstore.ContainerReader
	cache     *blockcache.Cache
	logger    *slog.Logger

	// loadMu serializes cache-miss loads: container extraction
	// seeks the shared file handle, which is not concurrency-safe.
	loadMu sync.Mutex
}

// Open opens an image file for reading. The manifest is loaded and
// validated eagerly; block data is decompressed lazily on first
// access.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	if opts.CacheBlocks <= 0 {
		opts.CacheBlocks = DefaultCacheBlocks
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}

	reader, err := newReader(file, opts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("reading image %s: %w", path, err)
	}
	return reader, nil
}

func newReader(file *os.File, opts ReaderOptions) (*Reader, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	containerSize, manifestSize, err := readFooter(file, info.Size())
	if err != nil {
		return nil, err
	}

	if _, err := file.Seek(containerSize, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to manifest: %w", err)
	}
	manifestBytes := make([]byte, manifestSize)
	if _, err := io.ReadFull(file, manifestBytes); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := manifest.Unmarshal(manifestBytes)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating manifest: %w", err)
	}

	reader := &Reader{
		file:     file,
		manifest: m,
		logger:   opts.Logger,
	}

	if m.BlockCount > 0 {
		container, err := blockstore.ReadContainerIndexAt(file, 0)
		if err != nil {
			return nil, err
		}
		if len(container.Index) != int(m.BlockCount) {
			return nil, fmt.Errorf("container holds %d blocks, manifest says %d",
				len(container.Index), m.BlockCount)
		}
		reader.container = container

		cache, err := blockcache.New(opts.CacheBlocks, reader.loadBlock)
		if err != nil {
			return nil, err
		}
		reader.cache = cache
	}

	return reader, nil
}

// loadBlock is the blockcache loader: extract and decompress one
// block from the container, verifying its hash.
func (r *Reader) loadBlock(blockID uint32) ([]byte, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	data, err := r.container.ExtractBlock(r.file, blockID)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("block decompressed",
		slog.Uint64("block_id", uint64(blockID)),
		slog.Int("size", len(data)))
	return data, nil
}

// Manifest returns the image's file table. Callers must not mutate
// it.
func (r *Reader) Manifest() *manifest.Manifest {
	return r.manifest
}

// ReadFile reads and returns the full content of the named file,
// verifying its file-domain hash.
func (r *Reader) ReadFile(path string) ([]byte, error) {
	file, ok := r.manifest.LookupFile(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}

	data := make([]byte, file.Size)
	if _, err := r.ReadFileRange(file, data, 0); err != nil {
		return nil, err
	}

	if actual := blockhash.HashFile(data); actual != file.Hash {
		return nil, fmt.Errorf("file %s hash mismatch: expected %s, got %s",
			path, blockhash.FormatHash(file.Hash), blockhash.FormatHash(actual))
	}
	return data, nil
}

// ReadFileRange reads file content starting at offset off into dest,
// resolving chunk references through the block cache. It returns the
// number of bytes read, which is short only when the range extends
// past the end of the file. Reads entirely past EOF return 0, nil
// (the io.ReaderAt EOF error convention is left to callers that need
// it; the FUSE layer treats a short read as EOF directly).
func (r *Reader) ReadFileRange(file *manifest.File, dest []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= file.Size || len(dest) == 0 {
		return 0, nil
	}
	want := int64(len(dest))
	if off+want > file.Size {
		want = file.Size - off
	}

	var read int64
	var chunkStart int64
	for _, chunk := range file.Chunks {
		chunkEnd := chunkStart + int64(chunk.Length)
		if chunkEnd <= off {
			chunkStart = chunkEnd
			continue
		}
		if chunkStart >= off+want {
			break
		}

		block, err := r.cache.Block(chunk.Block)
		if err != nil {
			return int(read), err
		}
		if int(chunk.Offset)+int(chunk.Length) > len(block) {
			return int(read), fmt.Errorf("chunk range [%d, %d) exceeds block %d size %d",
				chunk.Offset, int(chunk.Offset)+int(chunk.Length), chunk.Block, len(block))
		}

		// Intersect [off, off+want) with this chunk's span.
		from := chunkStart
		if off > from {
			from = off
		}
		to := chunkEnd
		if off+want < to {
			to = off + want
		}

		source := block[int64(chunk.Offset)+(from-chunkStart) : int64(chunk.Offset)+(to-chunkStart)]
		copy(dest[from-off:], source)
		read += to - from

		chunkStart = chunkEnd
	}

	if read != want {
		return int(read), fmt.Errorf("file %s: chunk table produced %d bytes for range [%d, %d)",
			file.Path, read, off, off+want)
	}
	return int(read), nil
}

// CacheStats reports the block cache's hit/miss counters. Zero for
// an image with no block data.
func (r *Reader) CacheStats() blockcache.Stats {
	if r.cache == nil {
		return blockcache.Stats{}
	}
	return r.cache.Stats()
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Extract materializes the image's full tree under targetDir:
// directories first, then files (content hash-verified), then
// symlinks. Permissions and file modification times are restored;
// ownership is not.
func (r *Reader) Extract(targetDir string) error {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	for _, dir := range r.manifest.Dirs {
		path := filepath.Join(targetDir, filepath.FromSlash(dir.Path))
		if err := os.MkdirAll(path, os.FileMode(dir.Mode)); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir.Path, err)
		}
	}

	for i := range r.manifest.Files {
		file := &r.manifest.Files[i]
		data, err := r.ReadFile(file.Path)
		if err != nil {
			return err
		}
		path := filepath.Join(targetDir, filepath.FromSlash(file.Path))
		if err := os.WriteFile(path, data, os.FileMode(file.Mode)); err != nil {
			return fmt.Errorf("writing %s: %w", file.Path, err)
		}
		if err := os.Chtimes(path, file.ModTime, file.ModTime); err != nil {
			return fmt.Errorf("restoring times on %s: %w", file.Path, err)
		}
	}

	for _, link := range r.manifest.Symlinks {
		path := filepath.Join(targetDir, filepath.FromSlash(link.Path))
		if err := os.Symlink(link.Target, path); err != nil {
			return fmt.Errorf("creating symlink %s: %w", link.Path, err)
		}
	}

	return nil
}
