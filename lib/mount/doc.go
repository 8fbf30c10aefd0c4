// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mount serves a built archfs image as a read-only FUSE
// filesystem. The manifest's whole tree materializes as persistent
// inodes at mount time; file reads resolve chunk references through
// the image reader's block cache.
package mount
