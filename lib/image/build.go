// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/archfs/archfs/lib/binhash"
	"github.com/archfs/archfs/lib/blockhash"
	"github.com/archfs/archfs/lib/blockstore"
	"github.com/archfs/archfs/lib/clock"
	"github.com/archfs/archfs/lib/manifest"
	"github.com/archfs/archfs/lib/progress"
	"github.com/archfs/archfs/lib/segment"
)

// BuildOptions configures image construction.
type BuildOptions struct {
	// Segment configures the content-defined segmenter. Zero value
	// uses DefaultSegmentConfig.
	Segment segment.Config

	// Workers is the compression worker count. Zero uses the CPU
	// count.
	Workers int

	// Clock supplies the image's creation timestamp. Nil uses the
	// real clock; tests inject clock.Fake for deterministic
	// manifests.
	Clock clock.Clock

	// Progress receives build counters. May be nil; Build allocates
	// its own when it needs one.
	Progress *progress.Counters

	// Logger receives diagnostic messages. May be nil.
	Logger *slog.Logger
}

// DefaultSegmentConfig returns the segmenter configuration used when
// BuildOptions.Segment is the zero value: the segmenter defaults
// plus a 32-byte match window, which balances match recall against
// index size for mixed file trees.
func DefaultSegmentConfig() segment.Config {
	cfg := segment.DefaultConfig()
	cfg.WindowSize = 32
	return cfg
}

// BuildResult summarizes a completed image build.
type BuildResult struct {
	Files      int
	Dirs       int
	Symlinks   int
	Blocks     int
	BytesIn    int64
	BytesOut   int64
	ImageSize  int64
	DedupRatio float64
}

// Build packs the directory tree rooted at sourceDir into a new
// image file at imagePath. The walk order (and therefore the image
// bytes, given a fixed clock) is deterministic: lexical path order.
//
// On any error the partially written image is removed; there is no
// partial recovery, matching the segmenter's own failure semantics.
func Build(sourceDir, imagePath string, opts BuildOptions) (*BuildResult, error) {
	if opts.Segment == (segment.Config{}) {
		opts.Segment = DefaultSegmentConfig()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Progress == nil {
		opts.Progress = &progress.Counters{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	tree, err := scanTree(sourceDir, opts.Logger)
	if err != nil {
		return nil, err
	}

	output, err := os.Create(imagePath)
	if err != nil {
		return nil, fmt.Errorf("creating image file: %w", err)
	}

	result, err := build(sourceDir, output, tree, opts)
	if err != nil {
		output.Close()
		os.Remove(imagePath)
		return nil, err
	}

	if err := output.Sync(); err != nil {
		output.Close()
		os.Remove(imagePath)
		return nil, fmt.Errorf("syncing image file: %w", err)
	}
	if err := output.Close(); err != nil {
		os.Remove(imagePath)
		return nil, fmt.Errorf("closing image file: %w", err)
	}
	return result, nil
}

// treeEntry is one filesystem object found by scanTree.
type treeEntry struct {
	relPath string
	info    fs.FileInfo
	target  string // symlink target, when the entry is a symlink
}

// scannedTree is the walk result, split by kind, each in lexical
// path order.
type scannedTree struct {
	dirs     []treeEntry
	files    []treeEntry
	symlinks []treeEntry
}

// scanTree walks sourceDir and classifies every entry. Irregular
// files (sockets, devices, fifos) are skipped with a warning — the
// image format only represents directories, regular files, and
// symlinks.
func scanTree(sourceDir string, logger *slog.Logger) (*scannedTree, error) {
	tree := &scannedTree{}

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", path, err)
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		switch {
		case d.IsDir():
			tree.dirs = append(tree.dirs, treeEntry{relPath: relPath, info: info})
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			tree.symlinks = append(tree.symlinks, treeEntry{relPath: relPath, info: info, target: target})
		case info.Mode().IsRegular():
			tree.files = append(tree.files, treeEntry{relPath: relPath, info: info})
		default:
			logger.Warn("skipping irregular file",
				slog.String("path", relPath),
				slog.String("mode", info.Mode().String()))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", sourceDir, err)
	}
	return tree, nil
}

// fileSource adapts one regular file's buffered content to
// segment.Source.
type fileSource struct {
	reader   *bytes.Reader
	identity string
	category string
}

func (s *fileSource) Read(p []byte) (int, error) { return s.reader.Read(p) }
func (s *fileSource) Identity() string           { return s.identity }
func (s *fileSource) Category() string           { return s.category }

// segmented is the per-file output the manifest needs.
type segmented struct {
	chunks []manifest.Chunk
	hash   blockhash.Hash
	size   int64
}

func build(sourceDir string, output *os.File, tree *scannedTree, opts BuildOptions) (*BuildResult, error) {
	writer := blockstore.NewCompressingWriter(output, blockstore.WriterOptions{
		Workers:     opts.Workers,
		MemoryLimit: opts.Segment.MemoryLimit,
		Progress:    opts.Progress,
		Logger:      opts.Logger,
	})
	engineFinished := false
	defer func() {
		if !engineFinished {
			// Error path: stop the writer's goroutines. The partial
			// container it flushes is discarded with the image file.
			writer.Finish()
		}
	}()

	engine, err := segment.NewEngine(opts.Segment, writer, opts.Progress, opts.Logger)
	if err != nil {
		return nil, err
	}

	// Whole-file dedup shortcut: files with an identical SHA256
	// digest share the first occurrence's chunk list without a
	// second segmentation pass. The segmenter would rediscover the
	// same chunks byte-by-byte; the digest check skips that work.
	bySHA := make(map[[32]byte]*segmented)
	results := make([]*segmented, len(tree.files))

	for i, entry := range tree.files {
		absPath := filepath.Join(sourceDir, filepath.FromSlash(entry.relPath))

		digest, err := binhash.HashFile(absPath)
		if err != nil {
			return nil, err
		}
		if prior, ok := bySHA[digest]; ok && prior.size == entry.info.Size() {
			results[i] = prior
			opts.Progress.AddBytesIn(entry.info.Size())
			opts.Logger.Debug("whole-file duplicate",
				slog.String("path", entry.relPath),
				slog.String("digest", binhash.FormatDigest(digest)))
			continue
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.relPath, err)
		}

		refs, err := engine.AddChunkable(&fileSource{
			reader:   bytes.NewReader(data),
			identity: entry.relPath,
			category: Categorize(entry.relPath),
		})
		if err != nil {
			return nil, fmt.Errorf("segmenting %s: %w", entry.relPath, err)
		}

		chunks := make([]manifest.Chunk, len(refs))
		for j, ref := range refs {
			chunks[j] = manifest.Chunk{Block: ref.BlockID, Offset: ref.Offset, Length: ref.Length}
		}
		seg := &segmented{
			chunks: chunks,
			hash:   blockhash.HashFile(data),
			size:   int64(len(data)),
		}
		results[i] = seg
		bySHA[digest] = seg
	}

	if err := engine.Finish(); err != nil {
		return nil, fmt.Errorf("finishing segmenter: %w", err)
	}
	engineFinished = true

	containerSize, err := output.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locating end of container: %w", err)
	}

	m := &manifest.Manifest{
		Version:       manifest.Version,
		CreatedAt:     opts.Clock.Now().UTC(),
		BlockSizeBits: opts.Segment.BlockSizeBits,
		BlockCount:    uint32(writer.BlockCount()),
	}
	for _, entry := range tree.dirs {
		m.Dirs = append(m.Dirs, manifest.Dir{
			Path: entry.relPath,
			Mode: uint32(entry.info.Mode().Perm()),
		})
	}
	for i, entry := range tree.files {
		m.Files = append(m.Files, manifest.File{
			Path:     entry.relPath,
			Size:     results[i].size,
			Mode:     uint32(entry.info.Mode().Perm()),
			ModTime:  entry.info.ModTime().UTC(),
			Category: Categorize(entry.relPath),
			Hash:     results[i].hash,
			Chunks:   results[i].chunks,
		})
	}
	for _, entry := range tree.symlinks {
		m.Symlinks = append(m.Symlinks, manifest.Symlink{
			Path:   entry.relPath,
			Target: entry.target,
		})
	}
	m.SortEntries()
	if err := m.Validate(); err != nil {
		panic("image: internal invariant violated: built manifest fails validation: " + err.Error())
	}

	manifestBytes, err := manifest.Marshal(m)
	if err != nil {
		return nil, err
	}
	if _, err := output.Write(manifestBytes); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	if err := writeFooter(output, containerSize, int64(len(manifestBytes))); err != nil {
		return nil, err
	}

	snapshot := opts.Progress.Snapshot()
	return &BuildResult{
		Files:      len(tree.files),
		Dirs:       len(tree.dirs),
		Symlinks:   len(tree.symlinks),
		Blocks:     writer.BlockCount(),
		BytesIn:    snapshot.BytesIn,
		BytesOut:   snapshot.BytesOut,
		ImageSize:  containerSize + int64(len(manifestBytes)) + footerSize,
		DedupRatio: snapshot.DedupRatio(),
	}, nil
}

// Categorize maps a file path to the content category tag that
// drives compression selection (see blockstore.SelectCompression)
// and is recorded per file in the manifest. Unknown extensions map
// to the empty category, which means "probe the bytes".
func Categorize(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".log", ".go", ".c", ".h", ".cc", ".cpp", ".py", ".rs", ".sh":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".sql":
		return "application/sql"
	case ".xml":
		return "application/xml"
	case ".zip", ".jar":
		return "application/zip"
	case ".gz", ".tgz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	default:
		return ""
	}
}
