// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/archfs/archfs/lib/blockhash"
	"github.com/archfs/archfs/lib/codec"
)

// Version is the current manifest format version.
const Version = 1

// Chunk names a byte range within an emitted block. Concatenating a
// file's chunks in order reproduces the file bit-for-bit.
type Chunk struct {
	// Block is the id of the block holding this range.
	Block uint32 `json:"block"`

	// Offset is the byte offset of the range within the block's
	// uncompressed data.
	Offset uint32 `json:"offset"`

	// Length is the byte length of the range.
	Length uint32 `json:"length"`
}

// File is one regular file in the image.
type File struct {
	// Path is the file's slash-separated path relative to the image
	// root. Never absolute, never containing "." or ".." elements.
	Path string `json:"path"`

	// Size is the file's uncompressed size in bytes.
	Size int64 `json:"size"`

	// Mode is the file's permission bits (the low 12 bits of the
	// POSIX mode).
	Mode uint32 `json:"mode"`

	// ModTime is the file's modification time.
	ModTime time.Time `json:"mod_time"`

	// Category tags the file's content for compression selection
	// and diagnostics. Empty means unknown.
	Category string `json:"category,omitempty"`

	// Hash is the file-domain BLAKE3 hash of the full content,
	// checked after chunk reassembly on read.
	Hash blockhash.Hash `json:"hash"`

	// Chunks is the ordered chunk sequence reproducing the file.
	// Empty only for a zero-length file.
	Chunks []Chunk `json:"chunks"`
}

// Dir is one directory in the image.
type Dir struct {
	Path string `json:"path"`
	Mode uint32 `json:"mode"`
}

// Symlink is one symbolic link in the image.
type Symlink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

// Manifest is the image-level file table: every directory, regular
// file, and symlink packed into the image, plus the block geometry
// the chunk references are resolved against. Stored in the image as
// CBOR using Core Deterministic Encoding, so identical logical
// content always serializes to identical bytes.
type Manifest struct {
	// Version is the manifest format version. Currently 1.
	Version int `json:"version"`

	// CreatedAt is when the image was built.
	CreatedAt time.Time `json:"created_at"`

	// BlockSizeBits is the block capacity exponent the image was
	// segmented with: every chunk satisfies
	// offset + length <= 1 << BlockSizeBits.
	BlockSizeBits uint `json:"block_size_bits"`

	// BlockCount is the number of blocks in the image's container.
	BlockCount uint32 `json:"block_count"`

	// Dirs, Files, and Symlinks are each sorted by path.
	Dirs     []Dir     `json:"dirs,omitempty"`
	Files    []File    `json:"files,omitempty"`
	Symlinks []Symlink `json:"symlinks,omitempty"`
}

// Marshal encodes the manifest to CBOR using Core Deterministic
// Encoding.
func Marshal(m *Manifest) ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a CBOR-encoded manifest. Unknown fields from
// future versions are silently ignored (forward compatibility).
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Version < 1 {
		return nil, fmt.Errorf("manifest version %d is invalid (minimum 1)", m.Version)
	}
	return &m, nil
}

// SortEntries sorts the directory, file, and symlink tables by path.
// Build code calls this once before marshaling so lookups on the
// read side can binary search.
func (m *Manifest) SortEntries() {
	sort.Slice(m.Dirs, func(i, j int) bool { return m.Dirs[i].Path < m.Dirs[j].Path })
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	sort.Slice(m.Symlinks, func(i, j int) bool { return m.Symlinks[i].Path < m.Symlinks[j].Path })
}

// LookupFile returns the file entry for path, using binary search
// over the sorted file table.
func (m *Manifest) LookupFile(path string) (*File, bool) {
	i := sort.Search(len(m.Files), func(i int) bool { return m.Files[i].Path >= path })
	if i < len(m.Files) && m.Files[i].Path == path {
		return &m.Files[i], true
	}
	return nil, false
}

// Validate checks that the manifest is internally consistent: chunk
// lengths sum to file sizes, every chunk fits within the block
// geometry, every referenced block id exists, and paths are clean
// relative paths.
func (m *Manifest) Validate() error {
	if m.Version < 1 {
		return fmt.Errorf("version %d is invalid (minimum 1)", m.Version)
	}
	if m.BlockSizeBits == 0 || m.BlockSizeBits > 31 {
		return fmt.Errorf("block size bits %d out of range [1, 31]", m.BlockSizeBits)
	}

	blockCapacity := uint64(1) << m.BlockSizeBits

	for i, dir := range m.Dirs {
		if err := validatePath(dir.Path); err != nil {
			return fmt.Errorf("dir %d: %w", i, err)
		}
	}
	for i, link := range m.Symlinks {
		if err := validatePath(link.Path); err != nil {
			return fmt.Errorf("symlink %d: %w", i, err)
		}
		if link.Target == "" {
			return fmt.Errorf("symlink %d (%s): empty target", i, link.Path)
		}
	}

	for i, file := range m.Files {
		if err := validatePath(file.Path); err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		if file.Size < 0 {
			return fmt.Errorf("file %s: negative size %d", file.Path, file.Size)
		}

		var total int64
		for j, chunk := range file.Chunks {
			if chunk.Length == 0 {
				return fmt.Errorf("file %s chunk %d: zero length", file.Path, j)
			}
			if chunk.Block >= m.BlockCount {
				return fmt.Errorf("file %s chunk %d: block %d out of range (image has %d blocks)",
					file.Path, j, chunk.Block, m.BlockCount)
			}
			if uint64(chunk.Offset)+uint64(chunk.Length) > blockCapacity {
				return fmt.Errorf("file %s chunk %d: range [%d, %d) exceeds block capacity %d",
					file.Path, j, chunk.Offset, uint64(chunk.Offset)+uint64(chunk.Length), blockCapacity)
			}
			total += int64(chunk.Length)
		}
		if total != file.Size {
			return fmt.Errorf("file %s: chunk lengths sum to %d, size is %d", file.Path, total, file.Size)
		}
	}

	return nil
}

// validatePath rejects absolute paths and path traversal so a
// hostile manifest cannot direct extraction outside the target
// directory.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("absolute path %q", path)
	}
	for _, element := range strings.Split(path, "/") {
		if element == "" || element == "." || element == ".." {
			return fmt.Errorf("path %q contains invalid element %q", path, element)
		}
	}
	return nil
}
