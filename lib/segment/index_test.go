// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import "testing"

func TestIndexLookupInsertionOrder(t *testing.T) {
	idx := NewIndex()
	idx.Insert(0xabc, 0, 100)
	idx.Insert(0xabc, 1, 200)
	idx.Insert(0xabc, 0, 300)

	refs := idx.Lookup(0xabc)
	want := []indexRef{
		{BlockID: 0, Offset: 100},
		{BlockID: 1, Offset: 200},
		{BlockID: 0, Offset: 300},
	}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs, want %d", len(refs), len(want))
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("ref %d = %+v, want %+v (insertion order must be preserved)", i, refs[i], want[i])
		}
	}
}

func TestIndexLookupMissing(t *testing.T) {
	idx := NewIndex()
	if refs := idx.Lookup(0x123); len(refs) != 0 {
		t.Errorf("lookup of absent fingerprint returned %d refs", len(refs))
	}
}

func TestIndexPurgeBlock(t *testing.T) {
	idx := NewIndex()
	idx.Insert(0x111, 0, 10)
	idx.Insert(0x111, 1, 20)
	idx.Insert(0x222, 0, 30)
	idx.Insert(0x333, 2, 40)

	idx.PurgeBlock(0)

	// Shared fingerprint keeps the survivor.
	refs := idx.Lookup(0x111)
	if len(refs) != 1 || refs[0].BlockID != 1 {
		t.Errorf("0x111 after purge = %+v, want only block 1", refs)
	}
	// Fingerprint contributed only by block 0 disappears entirely.
	if refs := idx.Lookup(0x222); len(refs) != 0 {
		t.Errorf("0x222 still has %d refs after purging its only block", len(refs))
	}
	// Unrelated block untouched.
	if refs := idx.Lookup(0x333); len(refs) != 1 {
		t.Errorf("0x333 = %+v, want untouched", refs)
	}

	if idx.Len() != 2 {
		t.Errorf("Len() = %d after purge, want 2", idx.Len())
	}
}

func TestIndexPurgeUnknownBlock(t *testing.T) {
	idx := NewIndex()
	idx.Insert(0x111, 0, 10)
	idx.PurgeBlock(99) // no-op
	if idx.Len() != 1 {
		t.Errorf("Len() = %d, want 1", idx.Len())
	}
}

func TestIndexForEachFingerprint(t *testing.T) {
	idx := NewIndex()
	idx.Insert(0x1, 0, 0)
	idx.Insert(0x2, 0, 2)
	idx.Insert(0x2, 1, 4)

	seen := make(map[uint32]int)
	idx.ForEachFingerprint(func(fp uint32) { seen[fp]++ })

	if len(seen) != 2 || seen[0x1] != 1 || seen[0x2] != 1 {
		t.Errorf("ForEachFingerprint visited %v, want each distinct fingerprint once", seen)
	}
}
