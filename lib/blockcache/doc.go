// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockcache holds recently decompressed image blocks in
// memory with LRU eviction, so random-access reads touch the
// decompression pipeline once per block instead of once per read.
package blockcache
