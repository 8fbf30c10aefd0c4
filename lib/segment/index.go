// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

// indexRef is one entry in the Block Index's per-fingerprint list:
// a candidate location within a sealed, still-active block.
type indexRef struct {
	BlockID uint32
	Offset  uint32
}

// Index is a multimap from rolling-hash fingerprint to an
// insertion-ordered list of (block_id, offset) candidates within
// sealed, non-retired blocks. Collisions are expected and tolerated
// — the engine byte-verifies every candidate before accepting a
// match.
type Index struct {
	entries map[uint32][]indexRef
	byBlock map[uint32][]uint32
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[uint32][]indexRef),
		byBlock: make(map[uint32][]uint32),
	}
}

// Insert records that fingerprint fp occurs at offset within
// blockID. Offsets are only ever inserted for sealed blocks (the
// open block is never indexed) and only at positions satisfying
// offset mod 2^s == 0 (enforced by the caller, [ActiveSet]).
func (idx *Index) Insert(fp uint32, blockID uint32, offset uint32) {
	idx.entries[fp] = append(idx.entries[fp], indexRef{BlockID: blockID, Offset: offset})
	idx.byBlock[blockID] = append(idx.byBlock[blockID], fp)
}

// Lookup returns the candidates recorded for fp, in insertion order.
// The returned slice must not be mutated or retained past the next
// call to [Index.PurgeBlock] for any of the blocks it references.
func (idx *Index) Lookup(fp uint32) []indexRef {
	return idx.entries[fp]
}

// PurgeBlock removes every entry contributed by blockID. If a
// fingerprint's candidate list becomes empty, the key itself is
// removed — the Index must contain entries only for sealed,
// non-retired blocks.
func (idx *Index) PurgeBlock(blockID uint32) {
	for _, fp := range idx.byBlock[blockID] {
		list := idx.entries[fp]
		filtered := list[:0]
		for _, ref := range list {
			if ref.BlockID != blockID {
				filtered = append(filtered, ref)
			}
		}
		if len(filtered) == 0 {
			delete(idx.entries, fp)
		} else {
			idx.entries[fp] = filtered
		}
	}
	delete(idx.byBlock, blockID)
}

// ForEachFingerprint calls fn once per distinct fingerprint currently
// present in the index. Used to rebuild the bloom filter after a
// retirement.
func (idx *Index) ForEachFingerprint(fn func(fp uint32)) {
	for fp := range idx.entries {
		fn(fp)
	}
}

// Len returns the number of distinct fingerprints currently indexed.
func (idx *Index) Len() int {
	return len(idx.entries)
}
