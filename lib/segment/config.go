// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"errors"
	"fmt"
)

// ErrConfigInvalid is wrapped by every error returned from
// [Config.Validate]. Callers that want to distinguish configuration
// failures from I/O or writer failures should check with
// [errors.Is](err, segment.ErrConfigInvalid).
var ErrConfigInvalid = errors.New("segment: invalid configuration")

// ErrFinished is returned by [Engine.AddChunkable] and a second call
// to [Engine.Finish] once the engine has already finished. An engine
// in this state is terminal; it cannot be reused.
var ErrFinished = errors.New("segment: engine already finished")

// Config holds the immutable tunables for an [Engine]. Construct one
// with [DefaultConfig] and override individual fields, or build one
// directly and call [Config.Validate] before passing it to [NewEngine]
// (NewEngine validates again regardless, so a hand-built Config is
// always checked before use).
type Config struct {
	// WindowSize is W: the number of bytes in the rolling-hash
	// window. Must be >= 1. Typical values are 4-1024.
	WindowSize int

	// WindowStepShift is s: only every 2^s-th window position is
	// indexed into the Block Index. Reduces index size at the cost
	// of match recall. Default 1.
	WindowStepShift uint

	// BlockSizeBits is B: each emitted block has capacity 2^B bytes.
	// Typical values are 20-26.
	BlockSizeBits uint

	// MaxActiveBlocks is A: at most this many sealed blocks remain
	// match-eligible simultaneously. Must be >= 1.
	MaxActiveBlocks int

	// MemoryLimit is a soft cap, in bytes, on buffered uncompressed
	// data held by the engine and the writer's queue. It is
	// informational to the engine itself; the actual back-pressure
	// is enforced by the [Writer] implementation blocking on
	// WriteBlock.
	MemoryLimit int64

	// BloomFilterSizeFactor is k: the bloom bit array is sized as
	// k * (entries_per_active_block * MaxActiveBlocks) bits, rounded
	// up to a power of two. Zero disables the filter and forces
	// direct index lookup.
	BloomFilterSizeFactor int
}

// DefaultConfig returns a Config with the stock defaults:
// WindowStepShift=1, MaxActiveBlocks=1, MemoryLimit=256 MiB,
// BlockSizeBits=22, BloomFilterSizeFactor=4.
// WindowSize has no sensible universal default and is left at zero;
// callers must set it before use (Validate rejects zero).
func DefaultConfig() Config {
	return Config{
		WindowStepShift:       1,
		BlockSizeBits:         22,
		MaxActiveBlocks:       1,
		MemoryLimit:           256 << 20,
		BloomFilterSizeFactor: 4,
	}
}

// BlockCapacity returns 2^BlockSizeBits, the maximum byte size of a
// single block.
func (c Config) BlockCapacity() int {
	return 1 << c.BlockSizeBits
}

// WindowStep returns 2^WindowStepShift, the index-sampling stride.
func (c Config) WindowStep() int {
	return 1 << c.WindowStepShift
}

// Validate checks that every field is within range. It is called
// automatically by [NewEngine]; callers constructing a Config by hand
// may call it earlier to fail fast.
func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: window size %d must be >= 1", ErrConfigInvalid, c.WindowSize)
	}
	if c.BlockSizeBits == 0 || c.BlockSizeBits > 31 {
		return fmt.Errorf("%w: block size bits %d must be in [1, 31]", ErrConfigInvalid, c.BlockSizeBits)
	}
	if c.MaxActiveBlocks < 1 {
		return fmt.Errorf("%w: max active blocks %d must be >= 1", ErrConfigInvalid, c.MaxActiveBlocks)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("%w: memory limit %d must be >= 0", ErrConfigInvalid, c.MemoryLimit)
	}
	if c.BloomFilterSizeFactor < 0 {
		return fmt.Errorf("%w: bloom filter size factor %d must be >= 0", ErrConfigInvalid, c.BloomFilterSizeFactor)
	}
	if c.WindowSize > c.BlockCapacity() {
		return fmt.Errorf("%w: window size %d exceeds block capacity %d", ErrConfigInvalid, c.WindowSize, c.BlockCapacity())
	}
	return nil
}
