// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package progress implements the segmenter's progress collaborator:
// monotone counters for bytes in, literal bytes, bytes out, and
// blocks emitted, plus the derived dedup ratio. Purely
// observational — nothing reads these counters back into the
// segmenting pipeline.
package progress

import "sync/atomic"

// Counters collects monotone progress counters from the segmenter
// engine (bytes in, literal bytes, blocks emitted) and the block
// writer (bytes out). All methods are safe for concurrent use; the
// counters sit on the engine's per-source path and the writer's
// worker pool simultaneously, so they are atomics rather than a
// mutex-guarded struct.
//
// Counters implements segment.Progress and blockstore.ProgressSink.
type Counters struct {
	bytesIn       atomic.Int64
	literalBytes  atomic.Int64
	bytesOut      atomic.Int64
	blocksEmitted atomic.Int64
}

// AddBytesIn records n bytes of source input consumed.
func (c *Counters) AddBytesIn(n int64) { c.bytesIn.Add(n) }

// AddLiteralBytes records n bytes appended to a block as literals.
func (c *Counters) AddLiteralBytes(n int64) { c.literalBytes.Add(n) }

// AddBytesOut records n bytes of compressed output produced.
func (c *Counters) AddBytesOut(n int64) { c.bytesOut.Add(n) }

// AddBlockEmitted records that a block of the given size was sealed
// and handed to the writer.
func (c *Counters) AddBlockEmitted(size int64) { c.blocksEmitted.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	BytesIn       int64
	LiteralBytes  int64
	BytesOut      int64
	BlocksEmitted int64
}

// DedupRatio is 1 - (literal_bytes / bytes_in): the fraction of
// input bytes eliminated by deduplication. Zero when no input has
// been consumed. Always in [0, 1].
func (s Snapshot) DedupRatio() float64 {
	if s.BytesIn <= 0 {
		return 0
	}
	ratio := 1 - float64(s.LiteralBytes)/float64(s.BytesIn)
	if ratio < 0 {
		return 0
	}
	return ratio
}

// Snapshot returns a point-in-time copy of the counters. The copy is
// not atomic across counters — individual counters may advance
// between reads — which is fine for the informational reporting this
// package exists for.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		BytesIn:       c.bytesIn.Load(),
		LiteralBytes:  c.literalBytes.Load(),
		BytesOut:      c.bytesOut.Load(),
		BlocksEmitted: c.blocksEmitted.Load(),
	}
}
