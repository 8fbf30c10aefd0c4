// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"
)

func TestCompressingWriterRoundTrip(t *testing.T) {
	blocks := [][]byte{
		[]byte(strings.Repeat("first block ", 1000)),
		[]byte(strings.Repeat("second block ", 1000)),
		[]byte(strings.Repeat("third block ", 1000)),
	}

	var output bytes.Buffer
	writer := NewCompressingWriter(&output, WriterOptions{Workers: 2})

	for i, data := range blocks {
		if err := writer.WriteBlock(uint32(i), data); err != nil {
			t.Fatalf("WriteBlock(%d): %v", i, err)
		}
	}
	if err := writer.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	reader, err := ReadContainerIndex(bytes.NewReader(output.Bytes()))
	if err != nil {
		t.Fatalf("ReadContainerIndex: %v", err)
	}
	if len(reader.Index) != len(blocks) {
		t.Fatalf("container has %d blocks, want %d", len(reader.Index), len(blocks))
	}

	rs := bytes.NewReader(output.Bytes())
	for i, want := range blocks {
		got, err := reader.ExtractBlock(rs, uint32(i))
		if err != nil {
			t.Fatalf("ExtractBlock(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("block %d does not round trip through the writer", i)
		}
	}
}

func TestCompressingWriterOrderPreservedUnderConcurrency(t *testing.T) {
	// Many blocks with very different compression costs: workers
	// finish out of order, the collector must still frame by id.
	const blockCount = 64
	blocks := make([][]byte, blockCount)
	for i := range blocks {
		// Alternate tiny and large blocks so compression times vary.
		if i%2 == 0 {
			blocks[i] = []byte(strings.Repeat("even ", 20000))
		} else {
			blocks[i] = []byte(strings.Repeat("odd", 10+i))
		}
	}

	var output bytes.Buffer
	writer := NewCompressingWriter(&output, WriterOptions{Workers: 8})
	for i, data := range blocks {
		if err := writer.WriteBlock(uint32(i), data); err != nil {
			t.Fatalf("WriteBlock(%d): %v", i, err)
		}
	}
	if err := writer.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	reader, err := ReadContainerIndex(bytes.NewReader(output.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	rs := bytes.NewReader(output.Bytes())
	for i, want := range blocks {
		got, err := reader.ExtractBlock(rs, uint32(i))
		if err != nil {
			t.Fatalf("ExtractBlock(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("block %d content mismatch: ordering not preserved", i)
		}
	}
}

func TestCompressingWriterBackPressure(t *testing.T) {
	// A tiny memory limit forces WriteBlock to stall until the
	// pipeline drains. The writes must still all complete.
	blocks := make([][]byte, 16)
	for i := range blocks {
		blocks[i] = []byte(strings.Repeat("pressure ", 4000))
	}

	var output bytes.Buffer
	writer := NewCompressingWriter(&output, WriterOptions{
		Workers:     2,
		MemoryLimit: int64(len(blocks[0])) + 1,
	})
	for i, data := range blocks {
		if err := writer.WriteBlock(uint32(i), data); err != nil {
			t.Fatalf("WriteBlock(%d): %v", i, err)
		}
	}
	if err := writer.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	reader, err := ReadContainerIndex(bytes.NewReader(output.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(reader.Index) != len(blocks) {
		t.Errorf("container has %d blocks, want %d", len(reader.Index), len(blocks))
	}
}

type countingSink struct {
	bytesOut atomic.Int64
}

func (s *countingSink) AddBytesOut(n int64) { s.bytesOut.Add(n) }

func TestCompressingWriterProgress(t *testing.T) {
	sink := &countingSink{}
	var output bytes.Buffer
	writer := NewCompressingWriter(&output, WriterOptions{Workers: 1, Progress: sink})

	data := []byte(strings.Repeat("progress ", 10000))
	if err := writer.WriteBlock(0, data); err != nil {
		t.Fatal(err)
	}
	if err := writer.Finish(); err != nil {
		t.Fatal(err)
	}

	out := sink.bytesOut.Load()
	if out <= 0 {
		t.Error("progress sink recorded no output bytes")
	}
	if out >= int64(len(data)) {
		t.Errorf("compressed output %d >= input %d for compressible data", out, len(data))
	}
}

func TestCompressingWriterDoubleFinish(t *testing.T) {
	var output bytes.Buffer
	writer := NewCompressingWriter(&output, WriterOptions{Workers: 1})
	if err := writer.WriteBlock(0, []byte(strings.Repeat("x", 1000))); err != nil {
		t.Fatal(err)
	}
	if err := writer.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := writer.Finish(); err == nil {
		t.Error("second Finish succeeded, want error")
	}
}
