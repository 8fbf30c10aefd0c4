// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides SHA256 content hashing for whole files.
//
// lib/image uses binary content hashes to short-circuit segmentation
// for exact-duplicate files within a single image build: before
// handing a source's bytes to the segmenter, the builder hashes the
// whole file and checks a per-run seen-file set. A hit means the
// file is byte-identical to one already segmented in this run, so
// its chunk-reference list can be copied directly instead of paying
// for a full rolling-hash pass the segmenter would resolve to the
// same references anyway, just more slowly.
//
// The API surface is three functions:
//
//   - [HashFile] -- streams a file through SHA256, returning a [32]byte
//     digest with constant memory usage regardless of file size
//   - [FormatDigest] -- converts a [32]byte digest to its canonical
//     hex-encoded string representation, used in the image builder's
//     debug log of whole-file duplicates
//   - [ParseDigest] -- parses a hex-encoded digest string back to a
//     [32]byte array, validating length and encoding
//
// This package has no dependencies on any other package in this module.
package binhash
