// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockcache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
)

// Loader fetches and decompresses one block by id on a cache miss.
// Typically image.Reader wires this to container extraction; tests
// supply a fake.
type Loader func(blockID uint32) ([]byte, error)

// Cache is a bounded, in-memory cache of decompressed blocks keyed
// by block id, with least-recently-used eviction. Reads of a mounted
// image hit the same handful of blocks repeatedly (directory scans,
// sequential file reads); keeping their decompressed bytes around
// avoids re-running decompression for every 128 KiB FUSE read.
//
// Cache is safe for concurrent use. Concurrent misses on the same
// block are coalesced: one caller runs the loader, the rest wait for
// its result.
type Cache struct {
	maxBlocks int
	loader    Loader

	mu       sync.Mutex
	entries  map[uint32]*list.Element
	lru      *list.List
	inflight map[uint32]*loadCall

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	blockID uint32
	data    []byte
}

// loadCall tracks one in-progress load so concurrent misses share
// the result instead of decompressing the same block twice.
type loadCall struct {
	done chan struct{}
	data []byte
	err  error
}

// New returns a Cache holding at most maxBlocks decompressed blocks.
func New(maxBlocks int, loader Loader) (*Cache, error) {
	if maxBlocks < 1 {
		return nil, fmt.Errorf("blockcache: max blocks %d must be >= 1", maxBlocks)
	}
	if loader == nil {
		return nil, fmt.Errorf("blockcache: loader is required")
	}
	return &Cache{
		maxBlocks: maxBlocks,
		loader:    loader,
		entries:   make(map[uint32]*list.Element),
		lru:       list.New(),
		inflight:  make(map[uint32]*loadCall),
	}, nil
}

// Block returns the decompressed bytes of blockID, loading them on a
// miss. The returned slice is shared across callers and must be
// treated as read-only.
func (c *Cache) Block(blockID uint32) ([]byte, error) {
	c.mu.Lock()
	if element, ok := c.entries[blockID]; ok {
		c.lru.MoveToFront(element)
		data := element.Value.(*cacheEntry).data
		c.mu.Unlock()
		c.hits.Add(1)
		return data, nil
	}

	if call, ok := c.inflight[blockID]; ok {
		c.mu.Unlock()
		<-call.done
		return call.data, call.err
	}

	call := &loadCall{done: make(chan struct{})}
	c.inflight[blockID] = call
	c.mu.Unlock()

	c.misses.Add(1)
	call.data, call.err = c.loader(blockID)
	close(call.done)

	c.mu.Lock()
	delete(c.inflight, blockID)
	if call.err == nil {
		c.insert(blockID, call.data)
	}
	c.mu.Unlock()

	return call.data, call.err
}

// insert adds a loaded block and evicts from the LRU tail past
// capacity. Caller holds c.mu.
func (c *Cache) insert(blockID uint32, data []byte) {
	if _, ok := c.entries[blockID]; ok {
		return
	}
	c.entries[blockID] = c.lru.PushFront(&cacheEntry{blockID: blockID, data: data})
	for c.lru.Len() > c.maxBlocks {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).blockID)
	}
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits   int64
	Misses int64
	Live   int
}

// Stats returns current hit/miss counters and the number of blocks
// resident.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	live := c.lru.Len()
	c.mu.Unlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Live:   live,
	}
}
