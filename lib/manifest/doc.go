// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the image-level file table of an archfs
// image: the directory tree, per-file ordered chunk-reference lists,
// and symlinks, serialized as CBOR with Core Deterministic Encoding.
//
// The manifest holds the logical layout; the physical block data
// lives in the lib/blockstore container that precedes it in the
// image file.
package manifest
