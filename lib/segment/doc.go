// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package segment implements the content-defined segmenter at the
// core of an archfs image: it turns a sequence of input files into a
// sequence of compressed-ready blocks while discovering and
// eliminating byte-level duplication across the entire input corpus.
//
// The segmenter computes a rolling hash over every input byte, checks
// a bloom-filtered index of previously-seen content, verifies and
// extends candidate matches, and emits either a chunk reference back
// into an earlier block or a literal byte run. Sealed blocks are
// handed to a [Writer] in ascending block-id order; the segmenter
// itself never compresses or persists anything.
//
// Engine is single-producer, single-threaded with respect to its own
// state: one goroutine calls [Engine.AddChunkable] and [Engine.Finish].
// The Writer boundary may run compression and I/O on its own worker
// pool; the engine only blocks at block-seal points when the writer's
// queue is full.
package segment
