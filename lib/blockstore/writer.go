// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/archfs/archfs/lib/blockhash"
)

// ProgressSink receives the compressed-output byte counter from the
// writer. Satisfied by progress.Counters; nil is always safe.
type ProgressSink interface {
	AddBytesOut(n int64)
}

// WriterOptions configures a [CompressingWriter].
type WriterOptions struct {
	// Workers is the number of concurrent compression workers.
	// Zero uses runtime.NumCPU().
	Workers int

	// MemoryLimit is the soft cap, in bytes, on uncompressed block
	// data buffered between WriteBlock and the collector. When the
	// cap is reached, WriteBlock blocks until compression catches
	// up — this is the back-pressure the segmenter engine sees at
	// block-seal points. Zero uses DefaultMemoryLimit. One block is
	// always admitted regardless of the cap, so a block larger than
	// the limit cannot deadlock the writer.
	MemoryLimit int64

	// QueueDepth bounds the number of blocks in flight between
	// WriteBlock and the collector. Zero uses DefaultQueueDepth.
	// The byte-based MemoryLimit is the real bound; this only caps
	// channel buffering.
	QueueDepth int

	// Category optionally short-circuits per-block compression
	// probing (see SelectCompression). Empty means probe each
	// block's bytes.
	Category string

	// Progress receives compressed-output byte counts. May be nil.
	Progress ProgressSink

	// Logger receives diagnostic messages. May be nil.
	Logger *slog.Logger
}

// DefaultMemoryLimit is the buffered-bytes cap used when
// WriterOptions.MemoryLimit is zero. Matches the segmenter's own
// default memory limit.
const DefaultMemoryLimit = 256 << 20

// DefaultQueueDepth is the in-flight block cap used when
// WriterOptions.QueueDepth is zero.
const DefaultQueueDepth = 256

// CompressingWriter is the production implementation of
// segment.Writer: it accepts sealed blocks in ascending block-id
// order, compresses them on a worker pool, and frames them into a
// block container on the underlying output.
//
// Compression runs concurrently and may finish out of order; the
// collector reassembles results in submission order, so the
// container's framing always lists blocks by ascending id (the
// ordering guarantee the engine relies on). The container index is
// written ahead of the data, so compressed blocks are buffered in
// memory until Finish.
//
// WriteBlock and Finish must be called from a single goroutine, in
// that order — the same single-producer discipline the segmenter
// engine already follows.
type CompressingWriter struct {
	output io.Writer
	opts   WriterOptions
	logger *slog.Logger

	builder *ContainerBuilder

	jobs  chan *compressJob
	order chan *compressJob

	workerWG      sync.WaitGroup
	collectorDone chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	buffered int64
	err      error

	nextID   uint32
	finished bool
}

// compressJob carries one sealed block through the worker pool. The
// done channel is buffered so a worker never blocks on a slow
// collector.
type compressJob struct {
	id   uint32
	data []byte
	done chan compressResult
}

type compressResult struct {
	hash       blockhash.Hash
	compressed []byte
	tag        CompressionTag
	err        error
}

// NewCompressingWriter returns a CompressingWriter that frames its
// container onto output when Finish is called. The workers start
// immediately.
func NewCompressingWriter(output io.Writer, opts WriterOptions) *CompressingWriter {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = DefaultMemoryLimit
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	w := &CompressingWriter{
		output:        output,
		opts:          opts,
		logger:        opts.Logger,
		builder:       NewContainerBuilder(),
		jobs:          make(chan *compressJob, opts.Workers),
		order:         make(chan *compressJob, opts.QueueDepth),
		collectorDone: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)

	for i := 0; i < opts.Workers; i++ {
		w.workerWG.Add(1)
		go w.worker()
	}
	go w.collector()

	return w
}

// WriteBlock hands a sealed block to the compression pipeline. Calls
// must arrive strictly in ascending block-id order starting at zero.
// WriteBlock blocks while the buffered-bytes cap is exceeded; that
// is back-pressure, not an error.
//
// data is shared with the engine's active block set and is treated
// as read-only; it is never mutated or retained past Finish.
func (w *CompressingWriter) WriteBlock(blockID uint32, data []byte) error {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return fmt.Errorf("blockstore: writer already finished")
	}
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		return err
	}
	if blockID != w.nextID {
		w.mu.Unlock()
		panic(fmt.Sprintf("blockstore: internal invariant violated: block %d written out of order, expected %d", blockID, w.nextID))
	}
	w.nextID++

	stalled := false
	for w.buffered > 0 && w.buffered+int64(len(data)) > w.opts.MemoryLimit && w.err == nil {
		if !stalled {
			stalled = true
			w.logger.Warn("writer back-pressure stall",
				slog.Uint64("block_id", uint64(blockID)),
				slog.Int64("buffered_bytes", w.buffered),
				slog.Int64("memory_limit", w.opts.MemoryLimit))
		}
		w.cond.Wait()
	}
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		return err
	}
	w.buffered += int64(len(data))
	w.mu.Unlock()

	job := &compressJob{
		id:   blockID,
		data: data,
		done: make(chan compressResult, 1),
	}
	w.order <- job
	w.jobs <- job
	return nil
}

// Finish drains the pipeline, stops the workers, and writes the
// completed container to the output. Called exactly once, after the
// last WriteBlock.
func (w *CompressingWriter) Finish() error {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return fmt.Errorf("blockstore: writer already finished")
	}
	w.finished = true
	w.mu.Unlock()

	close(w.order)
	close(w.jobs)
	w.workerWG.Wait()
	<-w.collectorDone

	w.mu.Lock()
	err := w.err
	w.mu.Unlock()
	if err != nil {
		return err
	}

	if w.builder.BlockCount() == 0 {
		// An image of empty files has no block data at all; the
		// container is simply absent and the manifest records zero
		// blocks.
		return nil
	}

	written, err := w.builder.Flush(w.output)
	if err != nil {
		return fmt.Errorf("flushing container: %w", err)
	}
	w.logger.Debug("container flushed",
		slog.Int("blocks", int(w.nextID)),
		slog.Int64("bytes", written))
	return nil
}

// BlockCount returns the number of blocks accepted by WriteBlock.
// Stable once Finish has returned.
func (w *CompressingWriter) BlockCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.nextID)
}

func (w *CompressingWriter) worker() {
	defer w.workerWG.Done()
	for job := range w.jobs {
		hash := blockhash.HashBlock(job.data)
		compressed, tag, err := CompressBlockAuto(job.data, w.opts.Category)
		if err != nil {
			job.done <- compressResult{err: fmt.Errorf("compressing block %d: %w", job.id, err)}
			continue
		}
		// CompressBlockAuto returns the input slice unchanged for
		// incompressible data; copy it so the container does not
		// alias bytes the engine's active set may release.
		if tag == CompressionNone {
			cp := make([]byte, len(compressed))
			copy(cp, compressed)
			compressed = cp
		}
		job.done <- compressResult{hash: hash, compressed: compressed, tag: tag}
	}
}

// collector consumes jobs in submission order (which is ascending
// block-id order), waits for each one's compression to complete, and
// appends the framed result to the container builder. Out-of-order
// compression completion is absorbed here: a finished job parks in
// its done channel until its turn.
func (w *CompressingWriter) collector() {
	defer close(w.collectorDone)
	for job := range w.order {
		result := <-job.done

		w.mu.Lock()
		w.buffered -= int64(len(job.data))
		if result.err != nil && w.err == nil {
			w.err = result.err
		}
		failed := w.err != nil
		w.cond.Broadcast()
		w.mu.Unlock()

		if failed {
			continue
		}

		if err := w.builder.AddBlock(job.id, result.hash, result.compressed, result.tag, uint32(len(job.data))); err != nil {
			w.mu.Lock()
			if w.err == nil {
				w.err = err
			}
			w.cond.Broadcast()
			w.mu.Unlock()
			continue
		}
		if w.opts.Progress != nil {
			w.opts.Progress.AddBytesOut(int64(len(result.compressed)))
		}
	}
}
