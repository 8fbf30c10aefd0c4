// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockhash computes the BLAKE3 content fingerprints stored
// in an archfs image: block-domain hashes over each uncompressed
// block (checked when a block is decompressed on read) and
// file-domain hashes over each file's full content (checked after
// chunk reassembly). The two domains use distinct BLAKE3 keys so a
// block and a file with identical bytes never share a hash.
//
// These hashes are integrity checks, not an addressing scheme:
// blocks are addressed by their numeric block id, files by path.
package blockhash
