// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Image file layout, front to back:
//
//	[block container]   lib/blockstore framing; absent when the image
//	                    holds no block data (all files empty)
//	[manifest]          CBOR, lib/manifest
//	[footer]            fixed 32 bytes, magic last
//
// The footer goes at the end so an image can be written in one
// sequential pass: the container size is only known after the last
// block compresses, and the manifest size after that. Readers seek
// to EOF-32, validate the magic, and work backwards.
const (
	imageVersion = 1
	footerSize   = 32
)

// imageMagic is the 8-byte footer signature: "ARFSIMG" + version.
var imageMagic = [8]byte{'A', 'R', 'F', 'S', 'I', 'M', 'G', imageVersion}

// writeFooter appends the fixed-size footer: container size,
// manifest size, reserved, magic.
func writeFooter(w io.Writer, containerSize, manifestSize int64) error {
	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], uint64(containerSize))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(manifestSize))
	// footer[16:24] reserved, zero.
	copy(footer[24:32], imageMagic[:])
	if _, err := w.Write(footer[:]); err != nil {
		return fmt.Errorf("writing image footer: %w", err)
	}
	return nil
}

// readFooter validates the footer at the end of an image file of the
// given total size and returns the container and manifest sizes.
func readFooter(rs io.ReadSeeker, fileSize int64) (containerSize, manifestSize int64, err error) {
	if fileSize < footerSize {
		return 0, 0, fmt.Errorf("file of %d bytes is too small to be an archfs image", fileSize)
	}
	if _, err := rs.Seek(fileSize-footerSize, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("seeking to image footer: %w", err)
	}

	var footer [footerSize]byte
	if _, err := io.ReadFull(rs, footer[:]); err != nil {
		return 0, 0, fmt.Errorf("reading image footer: %w", err)
	}

	var magic [8]byte
	copy(magic[:], footer[24:32])
	if magic != imageMagic {
		if magic[0] == 'A' && magic[1] == 'R' && magic[2] == 'F' &&
			magic[3] == 'S' && magic[4] == 'I' && magic[5] == 'M' && magic[6] == 'G' {
			return 0, 0, fmt.Errorf("image version %d is not supported (this code supports version %d)",
				magic[7], imageVersion)
		}
		return 0, 0, fmt.Errorf("not an archfs image (invalid footer magic)")
	}

	containerSize = int64(binary.LittleEndian.Uint64(footer[0:8]))
	manifestSize = int64(binary.LittleEndian.Uint64(footer[8:16]))

	if containerSize < 0 || manifestSize <= 0 ||
		containerSize+manifestSize+footerSize != fileSize {
		return 0, 0, fmt.Errorf("image footer sizes (container %d, manifest %d) do not add up to file size %d",
			containerSize, manifestSize, fileSize)
	}
	return containerSize, manifestSize, nil
}
