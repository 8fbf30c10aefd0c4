// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"bytes"
	"strings"
	"testing"

	"github.com/archfs/archfs/lib/blockhash"
)

// buildTestContainer compresses the given blocks and flushes them
// into a serialized container.
func buildTestContainer(t *testing.T, blocks [][]byte) []byte {
	t.Helper()

	builder := NewContainerBuilder()
	for i, data := range blocks {
		compressed, tag, err := CompressBlockAuto(data, "")
		if err != nil {
			t.Fatalf("compressing block %d: %v", i, err)
		}
		if err := builder.AddBlock(uint32(i), blockhash.HashBlock(data), compressed, tag, uint32(len(data))); err != nil {
			t.Fatalf("adding block %d: %v", i, err)
		}
	}

	var buffer bytes.Buffer
	written, err := builder.Flush(&buffer)
	if err != nil {
		t.Fatalf("flushing container: %v", err)
	}
	if written != int64(buffer.Len()) {
		t.Errorf("Flush reported %d bytes, wrote %d", written, buffer.Len())
	}
	return buffer.Bytes()
}

func TestContainerRoundTrip(t *testing.T) {
	blocks := [][]byte{
		[]byte(strings.Repeat("block zero content ", 200)),
		[]byte(strings.Repeat("block one content ", 300)),
		[]byte("tiny"),
	}
	serialized := buildTestContainer(t, blocks)

	reader, err := ReadContainerIndex(bytes.NewReader(serialized))
	if err != nil {
		t.Fatalf("ReadContainerIndex: %v", err)
	}
	if len(reader.Index) != len(blocks) {
		t.Fatalf("index has %d entries, want %d", len(reader.Index), len(blocks))
	}

	rs := bytes.NewReader(serialized)
	for i, want := range blocks {
		got, err := reader.ExtractBlock(rs, uint32(i))
		if err != nil {
			t.Fatalf("ExtractBlock(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("block %d does not round trip", i)
		}
	}
}

func TestContainerAtOffset(t *testing.T) {
	blocks := [][]byte{[]byte(strings.Repeat("offset container ", 100))}
	serialized := buildTestContainer(t, blocks)

	// Embed the container after a prefix, as the image layout does.
	prefix := []byte("some unrelated leading bytes")
	file := append(append([]byte{}, prefix...), serialized...)

	rs := bytes.NewReader(file)
	reader, err := ReadContainerIndexAt(rs, int64(len(prefix)))
	if err != nil {
		t.Fatalf("ReadContainerIndexAt: %v", err)
	}
	got, err := reader.ExtractBlock(rs, 0)
	if err != nil {
		t.Fatalf("ExtractBlock: %v", err)
	}
	if !bytes.Equal(got, blocks[0]) {
		t.Error("embedded container block does not round trip")
	}
}

func TestContainerTotalSize(t *testing.T) {
	blocks := [][]byte{
		[]byte(strings.Repeat("a", 5000)),
		[]byte(strings.Repeat("b", 3000)),
	}
	serialized := buildTestContainer(t, blocks)

	reader, err := ReadContainerIndex(bytes.NewReader(serialized))
	if err != nil {
		t.Fatal(err)
	}
	if reader.TotalSize() != int64(len(serialized)) {
		t.Errorf("TotalSize() = %d, serialized length = %d", reader.TotalSize(), len(serialized))
	}
}

func TestContainerBadMagic(t *testing.T) {
	serialized := buildTestContainer(t, [][]byte{[]byte("data")})

	corrupted := append([]byte{}, serialized...)
	corrupted[0] = 'X'
	if _, err := ReadContainerIndex(bytes.NewReader(corrupted)); err == nil {
		t.Error("accepted corrupted magic")
	}

	// Wrong version reports a version error, not a generic one.
	versioned := append([]byte{}, serialized...)
	versioned[6] = 99
	_, err := ReadContainerIndex(bytes.NewReader(versioned))
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("wrong version error = %v, want version complaint", err)
	}
}

func TestContainerCorruptBlockData(t *testing.T) {
	data := []byte(strings.Repeat("corrupt me please ", 500))
	serialized := buildTestContainer(t, [][]byte{data})

	reader, err := ReadContainerIndex(bytes.NewReader(serialized))
	if err != nil {
		t.Fatal(err)
	}

	// Flip a byte in the block data region.
	corrupted := append([]byte{}, serialized...)
	corrupted[len(corrupted)-10] ^= 0xff

	if _, err := reader.ExtractBlock(bytes.NewReader(corrupted), 0); err == nil {
		t.Error("ExtractBlock accepted corrupted block data")
	}
}

func TestContainerBuilderOutOfOrder(t *testing.T) {
	builder := NewContainerBuilder()
	if err := builder.AddBlock(1, blockhash.Hash{}, []byte("x"), CompressionNone, 1); err == nil {
		t.Error("AddBlock accepted block 1 before block 0")
	}
}

func TestEmptyContainerRejected(t *testing.T) {
	builder := NewContainerBuilder()
	var buffer bytes.Buffer
	if _, err := builder.Flush(&buffer); err == nil {
		t.Error("Flush accepted an empty container")
	}
}
