// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides archfs's standard CBOR encoding configuration.
//
// archfs uses CBOR for every on-disk structured record the format
// owns: the image manifest with its per-file chunk-reference lists
// (lib/manifest). Fixed-layout binary framing (the block container,
// the image footer) stays hand-encoded for random access; everything
// with variable structure goes through CBOR. There is no JSON
// boundary inside the core or its collaborators — CLI flag parsing
// is the only place a human-readable format shows up, and it uses
// the standard flag package, not a serialization library.
//
// This package provides the shared CBOR encoding and decoding modes
// so every package that touches on-disk state encodes identically
// without duplicating configuration. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Same logical data
// always produces identical bytes — required for the format's
// determinism guarantee (repeated runs produce identical
// block bytes and chunk sequences).
//
// For buffer-oriented operations (manifest files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
