// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockhash

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. Block and file hashes in an image
// are this size.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// hashes in different contexts, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. These are fixed constants — changing them
// invalidates every hash already stored in an image. The byte values
// are the ASCII encoding of the domain name, zero-padded to 32 bytes,
// so the keys stay inspectable in hex dumps and debuggers.
var (
	blockDomainKey = domainKey{
		'a', 'r', 'c', 'h', 'f', 's', '.',
		'b', 'l', 'o', 'c', 'k', 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	fileDomainKey = domainKey{
		'a', 'r', 'c', 'h', 'f', 's', '.',
		'f', 'i', 'l', 'e', 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashBlock computes the block-domain BLAKE3 keyed hash of a block's
// uncompressed bytes. Stored in the image's block index and verified
// when a block is decompressed on read. Always computed on
// uncompressed bytes so the check survives a compression algorithm
// change.
func HashBlock(data []byte) Hash {
	return keyedHash(blockDomainKey, data)
}

// HashFile computes the file-domain BLAKE3 keyed hash of a file's
// full content. Recorded per file in the image manifest as an
// end-to-end integrity check over the reassembled chunk sequence.
func HashFile(data []byte) Hash {
	return keyedHash(fileDomainKey, data)
}

// FormatHash returns the hex-encoded string representation of a hash.
// This is the format used in the block and file hash-mismatch error
// messages.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing block hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("block hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// keyedHash computes BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	// The error is only returned for wrong key length, so this cannot
	// fail with our fixed-size type.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("blockhash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
