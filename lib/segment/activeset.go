// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"log/slog"
)

// ActiveSet is the bounded ordered queue of sealed blocks still
// eligible as a match target, plus the single currently-open block.
// Retirement marks the evicted block's state so stale references
// become detectable in O(1), purges its Index entries, and rebuilds
// the Bloom from the survivors.
//
// ActiveSet is not safe for concurrent use; the Engine is its only
// caller and the Engine is itself single-threaded with respect to
// its internal state.
type ActiveSet struct {
	config Config
	index  *Index
	bloom  *Bloom
	logger *slog.Logger

	nextID      uint32
	open        *Block
	sealedOrder []uint32
	blocks      map[uint32]*Block
}

// NewActiveSet returns an ActiveSet configured per cfg, with a fresh
// open block numbered 0. logger may be nil.
func NewActiveSet(cfg Config, logger *slog.Logger) *ActiveSet {
	entriesPerBlock := cfg.BlockCapacity() / cfg.WindowStep()
	bloomBits := BloomSizeBits(cfg.BloomFilterSizeFactor, entriesPerBlock, cfg.MaxActiveBlocks)

	as := &ActiveSet{
		config: cfg,
		index:  NewIndex(),
		bloom:  NewBloom(bloomBits),
		logger: logger,
		blocks: make(map[uint32]*Block),
	}
	as.open = newBlock(0, cfg.BlockCapacity())
	as.blocks[0] = as.open
	as.nextID = 1
	return as
}

// Open returns the currently-open block.
func (as *ActiveSet) Open() *Block { return as.open }

// Index returns the Block Index backing this active set.
func (as *ActiveSet) Index() *Index { return as.index }

// Bloom returns the prefilter backing this active set.
func (as *ActiveSet) Bloom() *Bloom { return as.bloom }

// Block returns the block with the given id, provided it is still
// active (sealed-and-not-retired, or open). Returns ok=false for a
// retired or unknown id — the Engine relies on this to enforce the
// invariant that no chunk reference names an already-retired block.
func (as *ActiveSet) Block(id uint32) (*Block, bool) {
	b, ok := as.blocks[id]
	if !ok || b.state == blockRetired {
		return nil, false
	}
	return b, true
}

// SealCurrent marks the open block sealed, registers its every
// 2^WindowStepShift-th window (starting at offset 0) into the Index
// and Bloom, makes it match-eligible, admits a fresh open block, and
// retires the oldest active block if this pushed the sealed count
// above MaxActiveBlocks. It returns the now-sealed block so the
// caller can hand its bytes to the writer.
//
// The open block is never indexed before this call — indexing it
// while it is still being appended to would race with extension, so
// intra-block self-similarity in a still-open block is only caught
// once it seals (see design notes on this tradeoff in DESIGN.md).
func (as *ActiveSet) SealCurrent() *Block {
	sealed := as.open
	sealed.seal()
	as.indexBlock(sealed)
	as.sealedOrder = append(as.sealedOrder, sealed.id)

	as.admitNewOpen()
	as.retireIfOverfull()

	return sealed
}

func (as *ActiveSet) admitNewOpen() {
	id := as.nextID
	as.nextID++
	as.open = newBlock(id, as.config.BlockCapacity())
	as.blocks[id] = as.open
}

// indexBlock inserts every step-aligned window of a newly sealed
// block into the Index and Bloom, using the rolling hash to do it in
// O(n) rather than recomputing each window from scratch.
func (as *ActiveSet) indexBlock(b *Block) {
	w := as.config.WindowSize
	step := as.config.WindowStep()
	data := b.Bytes()
	if len(data) < w {
		return
	}

	rh := NewRollingHash(w)
	rh.Init(data[:w])
	as.index.Insert(rh.Value(), b.id, 0)
	as.bloom.Insert(rh.Value())

	for offset := 1; offset+w <= len(data); offset++ {
		fp := rh.Roll(data[offset-1], data[offset+w-1])
		if offset%step == 0 {
			as.index.Insert(fp, b.id, uint32(offset))
			as.bloom.Insert(fp)
		}
	}
}

func (as *ActiveSet) retireIfOverfull() {
	rebuilt := false
	for len(as.sealedOrder) > as.config.MaxActiveBlocks {
		oldestID := as.sealedOrder[0]
		as.sealedOrder = as.sealedOrder[1:]

		old := as.blocks[oldestID]
		old.retire()
		as.index.PurgeBlock(oldestID)
		delete(as.blocks, oldestID)
		rebuilt = true

		if as.logger != nil {
			as.logger.Debug("block retired", slog.Uint64("block_id", uint64(oldestID)))
		}
	}
	if rebuilt {
		as.bloom.Reset()
		as.index.ForEachFingerprint(as.bloom.Insert)
	}
}
