// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockstore is the segmenter's output collaborator: it owns
// the on-disk block container format and the compression applied to
// each block.
//
// A container is a magic header, a fixed-stride block index (hash,
// compression tag, sizes), and the compressed block data in
// ascending block-id order. [CompressingWriter] implements
// segment.Writer on top of a worker pool: blocks compress
// concurrently, the collector restores submission order, and a
// byte-counted queue applies the memory-limit back-pressure the
// segmenter engine expects at block-seal points.
//
// Compression is category-tagged per block (none, lz4, zstd); the
// tag travels in the block index entry so the read side never
// guesses.
package blockstore
