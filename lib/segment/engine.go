// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
)

// Engine is the segmenter state machine: it consumes input files,
// drives the rolling hash, consults the Bloom Prefilter then the
// Block Index, verifies and extends candidate matches, emits chunk
// references for matched ranges and literal bytes for unmatched
// ranges, and hands finished blocks to the [Writer].
//
// Engine is single-producer, single-threaded with respect to its own
// state: exactly one goroutine should call [Engine.AddChunkable]
// and [Engine.Finish], and never concurrently with each other.
type Engine struct {
	config    Config
	active    *ActiveSet
	writer    Writer
	progress  Progress
	logger    *slog.Logger
	terminal  bool
	finished  bool
}

// NewEngine constructs an Engine. cfg is validated immediately; an
// invalid configuration is reported at construction, never later.
// progress and logger may both be nil.
func NewEngine(cfg Config, writer Writer, progress Progress, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if writer == nil {
		return nil, fmt.Errorf("%w: writer is required", ErrConfigInvalid)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		config:   cfg,
		active:   NewActiveSet(cfg, logger),
		writer:   writer,
		progress: progress,
		logger:   logger,
	}, nil
}

// AddChunkable consumes every byte of src and returns the ordered
// chunk-reference sequence that reproduces it. It may be called
// repeatedly; sources are processed in submission order but
// deduplication against previously submitted sources is global.
//
// Any error returned leaves the Engine terminal — subsequent calls
// to AddChunkable or Finish return [ErrFinished]. There is no
// partial recovery; callers discard the in-progress image.
func (e *Engine) AddChunkable(src Source) ([]ChunkRef, error) {
	if e.terminal || e.finished {
		return nil, ErrFinished
	}

	data, err := io.ReadAll(src)
	if err != nil {
		e.terminal = true
		return nil, fmt.Errorf("reading source %q: %w", src.Identity(), err)
	}
	if e.progress != nil {
		e.progress.AddBytesIn(int64(len(data)))
	}

	chunks, literalBytes, err := e.segmentSource(data)
	if err != nil {
		e.terminal = true
		return nil, err
	}
	if e.progress != nil {
		e.progress.AddLiteralBytes(literalBytes)
	}

	var sum int64
	for _, c := range chunks {
		sum += int64(c.Length)
	}
	if sum != int64(len(data)) {
		panic(fmt.Sprintf("segment: internal invariant violated: chunk lengths sum to %d, source %q is %d bytes", sum, src.Identity(), len(data)))
	}

	return chunks, nil
}

// Finish flushes the pending literal buffer, seals the open block,
// and drains the writer. After Finish returns without error, the
// Engine is terminal; any further call returns [ErrFinished].
func (e *Engine) Finish() error {
	if e.terminal || e.finished {
		return ErrFinished
	}
	e.finished = true

	open := e.active.Open()
	if open.Len() > 0 {
		if err := e.sealAndHandOff(); err != nil {
			e.terminal = true
			return err
		}
	}

	if err := e.writer.Finish(); err != nil {
		e.terminal = true
		return fmt.Errorf("finishing writer: %w", err)
	}
	return nil
}

// segmentSource runs the match loop over a single source's
// fully-buffered bytes. Buffering the whole source keeps the
// forward/backward extension logic simple (plain slice comparisons)
// while preserving the byte-at-a-time contract exactly: every byte
// still passes through the rolling hash and the match pipeline in
// order.
func (e *Engine) segmentSource(data []byte) ([]ChunkRef, int64, error) {
	w := e.config.WindowSize
	step := e.config.WindowStep()

	var chunks []ChunkRef
	var literalBytes int64

	boundary := 0 // emit_cursor: start of the unflushed pending literal region
	pos := 0      // read_cursor, exclusive end of the window under consideration

	rh := NewRollingHash(w)
	primed := false
	offsetSinceResync := 0

	flush := func(end int) error {
		if end <= boundary {
			return nil
		}
		n, err := e.appendLiteral(data[boundary:end], &chunks)
		literalBytes += n
		boundary = end
		return err
	}

	for pos < len(data) {
		available := pos + 1 - boundary
		if available < w {
			pos++
			continue
		}

		windowStart := pos + 1 - w
		if !primed {
			rh.Init(data[windowStart : windowStart+w])
			primed = true
			offsetSinceResync = 0
		} else {
			rh.Roll(data[windowStart-1], data[pos])
			offsetSinceResync++
		}

		if offsetSinceResync%step != 0 {
			pos++
			flushed, err := e.pressureFlush(data, &boundary, pos, &chunks, &literalBytes)
			if err != nil {
				return nil, 0, err
			}
			if flushed {
				primed = false
			}
			continue
		}

		fp := rh.Value()
		if !e.active.Bloom().Test(fp) {
			pos++
			flushed, err := e.pressureFlush(data, &boundary, pos, &chunks, &literalBytes)
			if err != nil {
				return nil, 0, err
			}
			if flushed {
				primed = false
			}
			continue
		}

		matched, err := e.tryMatch(data, &boundary, windowStart, pos, w, fp, &chunks, flush)
		if err != nil {
			return nil, 0, err
		}
		if matched >= 0 {
			boundary = matched
			pos = matched
			primed = false
			continue
		}

		pos++
		flushed, err := e.pressureFlush(data, &boundary, pos, &chunks, &literalBytes)
		if err != nil {
			return nil, 0, err
		}
		if flushed {
			primed = false
		}
	}

	if err := flush(len(data)); err != nil {
		return nil, 0, err
	}

	return chunks, literalBytes, nil
}

// tryMatch consults the Index for fp and attempts to verify+extend
// each candidate in insertion order, accepting the first one whose
// extended length reaches the window-size threshold (first that
// verifies, not longest — bounded latency and insertion-order
// locality win over maximal matches). On acceptance it
// flushes the preceding literal run and appends the match's
// ChunkRef, returning the new read_cursor position. Returns -1 if no
// candidate was accepted.
func (e *Engine) tryMatch(data []byte, boundary *int, windowStart, pos, w int, fp uint32, chunks *[]ChunkRef, flush func(int) error) (int, error) {
	// The flush below can retire a block, and PurgeBlock compacts
	// candidate lists in place; iterate a copy so the walk stays
	// stable.
	candidates := append([]indexRef(nil), e.active.Index().Lookup(fp)...)
	for _, ref := range candidates {
		block, ok := e.active.Block(ref.BlockID)
		if !ok {
			// Retired since the reference was inserted: a chunk
			// must never reference a retired block, so skipping
			// this candidate is the only correct move, not an
			// error.
			continue
		}

		blockData := block.Bytes()
		offset := int(ref.Offset)
		if offset+w > len(blockData) {
			continue
		}
		if !bytes.Equal(blockData[offset:offset+w], data[windowStart:windowStart+w]) {
			continue
		}

		forward := extendForward(blockData, offset+w, data, pos+1)
		backward := extendBackward(blockData, offset, data, windowStart, *boundary)

		length := w + forward + backward
		if length < w {
			continue
		}

		matchStart := windowStart - backward
		blockOffset := offset - backward

		if err := flush(matchStart); err != nil {
			return 0, err
		}
		if _, ok := e.active.Block(ref.BlockID); !ok {
			// Flushing the preceding literals rotated the open
			// block and the rotation retired the candidate. The
			// reference would name a retired block, so the match
			// cannot be used; the flushed literals stand (they had
			// to be emitted eventually) and scanning continues.
			continue
		}
		*chunks = append(*chunks, ChunkRef{
			BlockID: ref.BlockID,
			Offset:  uint32(blockOffset),
			Length:  uint32(length),
		})
		return matchStart + length, nil
	}
	return -1, nil
}

// extendForward compares candidate block bytes starting at blockPos
// against data starting at dataPos, stopping at the first mismatch,
// end of the candidate block, or end of the source.
func extendForward(blockData []byte, blockPos int, data []byte, dataPos int) int {
	n := 0
	for blockPos+n < len(blockData) && dataPos+n < len(data) && blockData[blockPos+n] == data[dataPos+n] {
		n++
	}
	return n
}

// extendBackward compares candidate block bytes ending just before
// blockOffset against the pending literal buffer ending just before
// windowStart, stopping at mismatch, the start of the candidate
// block, or boundary — the start of the pending literal region.
// Bytes before boundary have already been emitted to a block and
// cannot be un-emitted.
func extendBackward(blockData []byte, blockOffset int, data []byte, windowStart int, boundary int) int {
	n := 0
	for blockOffset-1-n >= 0 && windowStart-1-n >= boundary && blockData[blockOffset-1-n] == data[windowStart-1-n] {
		n++
	}
	return n
}

// pressureFlush flushes the pending literal region when it has grown
// large enough to risk overrunning the open block's remaining
// capacity. It reports whether a flush happened: the emit boundary
// moved, so the caller must re-prime the rolling hash on the bytes
// after it (matching is suspended for the next W-1 bytes, the same
// resync the engine performs after an accepted match).
func (e *Engine) pressureFlush(data []byte, boundary *int, pos int, chunks *[]ChunkRef, literalBytes *int64) (bool, error) {
	open := e.active.Open()
	if pos-*boundary < open.Remaining() {
		return false, nil
	}
	n, err := e.appendLiteral(data[*boundary:pos], chunks)
	*literalBytes += n
	*boundary = pos
	return true, err
}

// appendLiteral appends lit to the open block as one or more literal
// chunk references, rotating blocks (seal + admit + retire) whenever
// the open block fills before all of lit is consumed. It returns the
// number of bytes appended (always len(lit), barring an error from
// the writer).
func (e *Engine) appendLiteral(lit []byte, chunks *[]ChunkRef) (int64, error) {
	var total int64
	for len(lit) > 0 {
		open := e.active.Open()
		if open.Remaining() == 0 {
			if err := e.sealAndHandOff(); err != nil {
				return total, err
			}
			continue
		}

		offset := open.Len()
		n := open.Append(lit)
		*chunks = append(*chunks, ChunkRef{
			BlockID: open.ID(),
			Offset:  uint32(offset),
			Length:  uint32(n),
		})
		lit = lit[n:]
		total += int64(n)

		if open.Full() {
			if err := e.sealAndHandOff(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// sealAndHandOff seals the currently-open block via the ActiveSet
// and hands its bytes to the Writer. This is the only suspension
// point in the Engine: WriteBlock may block under the writer's
// memory-limit back-pressure.
func (e *Engine) sealAndHandOff() error {
	sealed := e.active.SealCurrent()
	e.logger.Debug("block sealed", slog.Uint64("block_id", uint64(sealed.ID())), slog.Int("size", sealed.Len()))

	if err := e.writer.WriteBlock(sealed.ID(), sealed.Bytes()); err != nil {
		return fmt.Errorf("writing block %d: %w", sealed.ID(), err)
	}
	if e.progress != nil {
		e.progress.AddBlockEmitted(int64(sealed.Len()))
	}
	return nil
}
