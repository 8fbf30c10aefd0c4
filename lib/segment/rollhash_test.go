// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"fmt"
	"math/rand/v2"
	"testing"
)

// testBytes returns n deterministic pseudo-random bytes.
func testBytes(n int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(rng.Uint32())
	}
	return data
}

func TestRollingHashRollMatchesInit(t *testing.T) {
	// The defining contract: after Init on b[i..i+W) and a Roll of
	// (b[i], b[i+W]), the value equals Init over b[i+1..i+1+W).
	data := testBytes(4096, 1)

	for _, window := range []int{4, 8, 32, 64, 255} {
		t.Run(fmt.Sprintf("window%d", window), func(t *testing.T) {
			rolled := NewRollingHash(window)
			rolled.Init(data[:window])

			fresh := NewRollingHash(window)
			for i := 0; i+window < len(data); i++ {
				got := rolled.Roll(data[i], data[i+window])
				fresh.Init(data[i+1 : i+1+window])
				if got != fresh.Value() {
					t.Fatalf("window %d, shift %d: rolled %08x, fresh init %08x",
						window, i, got, fresh.Value())
				}
			}
		})
	}
}

func TestRollingHashDeterministic(t *testing.T) {
	data := testBytes(256, 2)
	first := NewRollingHash(32)
	first.Init(data[:32])
	second := NewRollingHash(32)
	second.Init(data[:32])
	if first.Value() != second.Value() {
		t.Error("identical windows hashed differently")
	}
}

func TestRollingHashEqualContentEqualHash(t *testing.T) {
	// The same window content at different positions must produce
	// the same fingerprint — this is what makes index lookups find
	// repeated content at all.
	pattern := []byte("abcdefgh")
	data := append(append(testBytes(100, 3), pattern...), testBytes(100, 4)...)
	data = append(data, pattern...)

	h := NewRollingHash(len(pattern))
	h.Init(pattern)
	want := h.Value()

	found := 0
	scan := NewRollingHash(len(pattern))
	scan.Init(data[:len(pattern)])
	if scan.Value() == want {
		found++
	}
	for i := 1; i+len(pattern) <= len(data); i++ {
		if scan.Roll(data[i-1], data[i+len(pattern)-1]) == want {
			found++
		}
	}
	if found < 2 {
		t.Errorf("found %d occurrences of the pattern fingerprint, want >= 2", found)
	}
}

func TestRollingHashDistribution(t *testing.T) {
	// Coarse uniformity check: hash every window of a random input
	// and verify the values spread across all four quadrants of the
	// 32-bit space without gross skew.
	data := testBytes(64*1024, 5)
	const window = 16

	var quadrants [4]int
	h := NewRollingHash(window)
	h.Init(data[:window])
	quadrants[h.Value()>>30]++
	for i := 1; i+window <= len(data); i++ {
		quadrants[h.Roll(data[i-1], data[i+window-1])>>30]++
	}

	total := 0
	for _, count := range quadrants {
		total += count
	}
	for q, count := range quadrants {
		share := float64(count) / float64(total)
		if share < 0.15 || share > 0.35 {
			t.Errorf("quadrant %d holds %.1f%% of hashes, want roughly 25%%", q, 100*share)
		}
	}
}

func TestRollingHashInitResets(t *testing.T) {
	h := NewRollingHash(8)
	h.Init([]byte("aaaaaaaa"))
	first := h.Value()
	h.Roll('a', 'b')
	h.Init([]byte("aaaaaaaa"))
	if h.Value() != first {
		t.Error("Init did not discard previously accumulated state")
	}
}
