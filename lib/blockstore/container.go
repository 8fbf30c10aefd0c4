// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/archfs/archfs/lib/blockhash"
)

// Container format constants.
const (
	// containerVersion is the on-disk format version. Version 1 is
	// the initial format.
	containerVersion = 1

	// containerHeaderSize is the fixed header: 8-byte magic + 4-byte
	// block count.
	containerHeaderSize = 12

	// blockIndexEntrySize is the size of each block index entry:
	// 32-byte hash + 1-byte compression tag + 3-byte reserved
	// + 4-byte compressed size + 4-byte uncompressed size
	// + 4-byte reserved. The reserved bytes ensure 4-byte alignment
	// for the uint32 fields and an 8-byte stride for the entry.
	blockIndexEntrySize = 48
)

// containerMagic is the 8-byte container signature: "ARCHFS" +
// version byte + reserved byte.
var containerMagic = [8]byte{'A', 'R', 'C', 'H', 'F', 'S', containerVersion, 0}

// BlockIndexEntry describes a single block within a container. The
// block's id is its position in the index: the segmenter emits
// blocks with dense, ascending ids starting at zero, and the
// container preserves that order, so no id field is stored.
type BlockIndexEntry struct {
	// Hash is the block-domain BLAKE3 hash of the uncompressed
	// block data.
	Hash blockhash.Hash

	// Compression is the algorithm used to compress this block.
	Compression CompressionTag

	// CompressedSize is the byte length of the compressed block data
	// stored in the container.
	CompressedSize uint32

	// UncompressedSize is the original byte length before compression.
	UncompressedSize uint32
}

// ContainerBuilder accumulates compressed blocks and writes them as
// a container. The container format has the block index before the
// data, so the builder buffers all block data in memory until
// [ContainerBuilder.Flush] is called.
//
// Blocks must be added in ascending block-id order starting at id 0
// with no gaps; AddBlock enforces this because the container format
// encodes ids positionally.
type ContainerBuilder struct {
	index []BlockIndexEntry
	data  [][]byte
}

// NewContainerBuilder creates a builder for a new container.
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{}
}

// AddBlock appends a compressed block to the container being built.
// The blockHash must be the block-domain BLAKE3 hash of the
// UNCOMPRESSED data. The compressedData is the block after
// compression (or the raw data if tag is CompressionNone). blockID
// must equal the number of blocks already added.
func (b *ContainerBuilder) AddBlock(blockID uint32, blockHash blockhash.Hash, compressedData []byte, tag CompressionTag, uncompressedSize uint32) error {
	if int(blockID) != len(b.index) {
		return fmt.Errorf("block %d added out of order: expected block %d next", blockID, len(b.index))
	}
	b.index = append(b.index, BlockIndexEntry{
		Hash:             blockHash,
		Compression:      tag,
		CompressedSize:   uint32(len(compressedData)),
		UncompressedSize: uncompressedSize,
	})
	b.data = append(b.data, compressedData)
	return nil
}

// BlockCount returns the number of blocks added so far.
func (b *ContainerBuilder) BlockCount() int {
	return len(b.index)
}

// DataSize returns the total compressed data size accumulated so far.
func (b *ContainerBuilder) DataSize() int64 {
	var total int64
	for _, d := range b.data {
		total += int64(len(d))
	}
	return total
}

// Flush writes the complete container to w. The builder is reset
// after flushing. Returns the number of bytes written.
//
// Returns an error if the builder is empty (no blocks added).
func (b *ContainerBuilder) Flush(w io.Writer) (int64, error) {
	if len(b.index) == 0 {
		return 0, fmt.Errorf("cannot flush empty container")
	}

	blockCount := uint32(len(b.index))

	// Write header.
	if _, err := w.Write(containerMagic[:]); err != nil {
		return 0, fmt.Errorf("writing container magic: %w", err)
	}

	var countBytes [4]byte
	binary.LittleEndian.PutUint32(countBytes[:], blockCount)
	if _, err := w.Write(countBytes[:]); err != nil {
		return 0, fmt.Errorf("writing block count: %w", err)
	}

	// Write block index.
	for i, entry := range b.index {
		if _, err := w.Write(entry.Hash[:]); err != nil {
			return 0, fmt.Errorf("writing block %d hash: %w", i, err)
		}

		if _, err := w.Write([]byte{byte(entry.Compression)}); err != nil {
			return 0, fmt.Errorf("writing block %d compression tag: %w", i, err)
		}

		// 3 reserved bytes after compression tag for 4-byte alignment.
		var reserved3 [3]byte
		if _, err := w.Write(reserved3[:]); err != nil {
			return 0, fmt.Errorf("writing block %d reserved bytes: %w", i, err)
		}

		var sizeBytes [4]byte
		binary.LittleEndian.PutUint32(sizeBytes[:], entry.CompressedSize)
		if _, err := w.Write(sizeBytes[:]); err != nil {
			return 0, fmt.Errorf("writing block %d compressed size: %w", i, err)
		}

		binary.LittleEndian.PutUint32(sizeBytes[:], entry.UncompressedSize)
		if _, err := w.Write(sizeBytes[:]); err != nil {
			return 0, fmt.Errorf("writing block %d uncompressed size: %w", i, err)
		}

		// 4 reserved bytes for 8-byte entry stride.
		var reserved4 [4]byte
		if _, err := w.Write(reserved4[:]); err != nil {
			return 0, fmt.Errorf("writing block %d trailing reserved bytes: %w", i, err)
		}
	}

	// Write block data.
	var dataSize int64
	for i, d := range b.data {
		if _, err := w.Write(d); err != nil {
			return 0, fmt.Errorf("writing block %d data: %w", i, err)
		}
		dataSize += int64(len(d))
	}

	total := int64(containerHeaderSize) + int64(blockCount)*int64(blockIndexEntrySize) + dataSize

	// Reset the builder for reuse.
	b.index = b.index[:0]
	b.data = b.data[:0]

	return total, nil
}

// ContainerReader reads blocks from a container. Create one with
// [ReadContainerIndex] and then extract individual blocks with
// [ContainerReader.ExtractBlock].
type ContainerReader struct {
	// Index is the parsed block index from the container header.
	// Index[i] describes block id i.
	Index []BlockIndexEntry

	// dataOffset is the byte offset where block data begins (after
	// header + index), relative to the start of the container.
	dataOffset int64

	// blockOffsets[i] is the byte offset of block i's compressed
	// data relative to dataOffset.
	blockOffsets []int64

	// base is the byte offset of the container itself within the
	// enclosing file. Zero for a standalone container; an image
	// file may embed the container at a non-zero offset.
	base int64
}

// ReadContainerIndex reads and validates the container header and
// block index from r. The reader must be positioned at the start of
// the container. After this call, the reader is positioned at the
// start of block data.
func ReadContainerIndex(r io.Reader) (*ContainerReader, error) {
	// Read and validate magic.
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading container magic: %w", err)
	}
	if magic != containerMagic {
		if magic[0] == 'A' && magic[1] == 'R' && magic[2] == 'C' &&
			magic[3] == 'H' && magic[4] == 'F' && magic[5] == 'S' {
			return nil, fmt.Errorf("container version %d is not supported (this code supports version %d)",
				magic[6], containerVersion)
		}
		return nil, fmt.Errorf("not an archfs container (invalid magic bytes)")
	}

	// Read block count.
	var countBytes [4]byte
	if _, err := io.ReadFull(r, countBytes[:]); err != nil {
		return nil, fmt.Errorf("reading block count: %w", err)
	}
	blockCount := binary.LittleEndian.Uint32(countBytes[:])

	if blockCount == 0 {
		return nil, fmt.Errorf("container has zero blocks")
	}

	// Read block index.
	index := make([]BlockIndexEntry, blockCount)
	for i := uint32(0); i < blockCount; i++ {
		var hash [32]byte
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, fmt.Errorf("reading block %d hash: %w", i, err)
		}
		index[i].Hash = hash

		var tagByte [1]byte
		if _, err := io.ReadFull(r, tagByte[:]); err != nil {
			return nil, fmt.Errorf("reading block %d compression tag: %w", i, err)
		}
		tag := CompressionTag(tagByte[0])
		if tag >= compressionReservedMax {
			return nil, fmt.Errorf("block %d has unsupported compression tag %d", i, tag)
		}
		index[i].Compression = tag

		// 3 reserved bytes after compression tag (alignment padding).
		var reserved3 [3]byte
		if _, err := io.ReadFull(r, reserved3[:]); err != nil {
			return nil, fmt.Errorf("reading block %d reserved bytes: %w", i, err)
		}
		if reserved3 != [3]byte{} {
			return nil, fmt.Errorf("block %d has non-zero reserved bytes after compression tag: %x", i, reserved3)
		}

		var sizeBytes [4]byte
		if _, err := io.ReadFull(r, sizeBytes[:]); err != nil {
			return nil, fmt.Errorf("reading block %d compressed size: %w", i, err)
		}
		index[i].CompressedSize = binary.LittleEndian.Uint32(sizeBytes[:])

		if _, err := io.ReadFull(r, sizeBytes[:]); err != nil {
			return nil, fmt.Errorf("reading block %d uncompressed size: %w", i, err)
		}
		index[i].UncompressedSize = binary.LittleEndian.Uint32(sizeBytes[:])

		// 4 trailing reserved bytes (entry stride padding).
		var reserved4 [4]byte
		if _, err := io.ReadFull(r, reserved4[:]); err != nil {
			return nil, fmt.Errorf("reading block %d trailing reserved bytes: %w", i, err)
		}
		if reserved4 != [4]byte{} {
			return nil, fmt.Errorf("block %d has non-zero trailing reserved bytes: %x", i, reserved4)
		}
	}

	// Compute block data offsets.
	dataOffset := int64(containerHeaderSize) + int64(blockCount)*int64(blockIndexEntrySize)
	blockOffsets := make([]int64, blockCount)
	var offset int64
	for i := range index {
		blockOffsets[i] = offset
		offset += int64(index[i].CompressedSize)
	}

	return &ContainerReader{
		Index:        index,
		dataOffset:   dataOffset,
		blockOffsets: blockOffsets,
	}, nil
}

// ReadContainerIndexAt is like [ReadContainerIndex] for a container
// embedded at a non-zero offset within a larger file (the archfs
// image layout places the container first, but readers that have
// already consumed a prefix use this to keep seek arithmetic
// correct).
func ReadContainerIndexAt(rs io.ReadSeeker, base int64) (*ContainerReader, error) {
	if _, err := rs.Seek(base, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to container at offset %d: %w", base, err)
	}
	cr, err := ReadContainerIndex(rs)
	if err != nil {
		return nil, err
	}
	cr.base = base
	return cr, nil
}

// ReadBlockData reads a single block's compressed data from a
// seekable reader positioned over the container.
func (cr *ContainerReader) ReadBlockData(rs io.ReadSeeker, blockID uint32) ([]byte, error) {
	if int(blockID) >= len(cr.Index) {
		return nil, fmt.Errorf("block id %d out of range [0, %d)", blockID, len(cr.Index))
	}

	entry := cr.Index[blockID]
	offset := cr.base + cr.dataOffset + cr.blockOffsets[blockID]

	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to block %d at offset %d: %w", blockID, offset, err)
	}

	data := make([]byte, entry.CompressedSize)
	if _, err := io.ReadFull(rs, data); err != nil {
		return nil, fmt.Errorf("reading block %d data (%d bytes): %w", blockID, entry.CompressedSize, err)
	}

	return data, nil
}

// ExtractBlock reads, decompresses, and verifies a single block from
// a seekable container. Returns the uncompressed block data.
// Verifies the block hash matches the index entry.
func (cr *ContainerReader) ExtractBlock(rs io.ReadSeeker, blockID uint32) ([]byte, error) {
	compressed, err := cr.ReadBlockData(rs, blockID)
	if err != nil {
		return nil, err
	}

	entry := cr.Index[blockID]
	decompressed, err := DecompressBlock(compressed, entry.Compression, int(entry.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("decompressing block %d: %w", blockID, err)
	}

	actualHash := blockhash.HashBlock(decompressed)
	if actualHash != entry.Hash {
		return nil, fmt.Errorf("block %d hash mismatch: expected %s, got %s",
			blockID, blockhash.FormatHash(entry.Hash), blockhash.FormatHash(actualHash))
	}

	return decompressed, nil
}

// TotalSize returns the total serialized size of the container in
// bytes (header + block index + all compressed block data).
func (cr *ContainerReader) TotalSize() int64 {
	headerAndIndex := int64(containerHeaderSize) + int64(len(cr.Index))*int64(blockIndexEntrySize)
	var dataSize int64
	for _, entry := range cr.Index {
		dataSize += int64(entry.CompressedSize)
	}
	return headerAndIndex + dataSize
}
