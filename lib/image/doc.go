// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package image ties the segmenter and its collaborators together:
// [Build] walks a directory tree, segments every regular file
// through lib/segment, compresses the resulting blocks through
// lib/blockstore, and writes a single image file of container +
// manifest + footer. [Reader] opens that file for metadata queries,
// random-access content reads through the lib/blockcache, and full
// extraction.
//
// Exact-duplicate files are short-circuited with a whole-file SHA256
// digest before segmentation; the segmenter would find the same
// dedup byte-by-byte, the digest just skips the pass.
package image
