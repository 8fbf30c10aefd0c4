// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/archfs/archfs/lib/image"
	"github.com/archfs/archfs/lib/mount"
	"github.com/archfs/archfs/lib/segment"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "create":
		return runCreate(os.Args[2:])
	case "ls":
		return runList(os.Args[2:])
	case "cat":
		return runCat(os.Args[2:])
	case "extract":
		return runExtract(os.Args[2:])
	case "mount":
		return runMount(os.Args[2:])
	case "version":
		fmt.Printf("mkarchfs %s\n", version)
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: mkarchfs <subcommand> [flags]

Subcommands:
  create      Pack a directory tree into an image
  ls          List an image's contents
  cat         Print one file's content from an image
  extract     Materialize an image's tree into a directory
  mount       Mount an image read-only via FUSE
  version     Print version information

Run 'mkarchfs <subcommand> --help' for subcommand flags.
`)
}

// newLogger builds the CLI's logger: text to stderr, debug level
// when requested.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runCreate(args []string) error {
	flags := flag.NewFlagSet("create", flag.ContinueOnError)
	sourceDir := flags.String("source", "", "directory tree to pack (required)")
	imagePath := flags.String("output", "", "image file to write (required)")
	windowSize := flags.Int("window-size", 32, "rolling-hash window size in bytes")
	blockSizeBits := flags.Uint("block-size-bits", 22, "block capacity exponent (block = 2^n bytes)")
	maxActiveBlocks := flags.Int("max-active-blocks", 1, "dedup horizon in blocks")
	windowStepShift := flags.Uint("window-step-shift", 1, "index every 2^n-th window position")
	bloomSizeFactor := flags.Int("bloom-size-factor", 4, "bloom filter bits per index entry, 0 disables")
	memoryLimit := flags.Int64("memory-limit", 256<<20, "buffered uncompressed bytes before back-pressure")
	workers := flags.Int("workers", 0, "compression workers (0 = CPU count)")
	verbose := flags.Bool("verbose", false, "log per-block activity")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *sourceDir == "" || *imagePath == "" {
		return fmt.Errorf("create: --source and --output are required")
	}

	result, err := image.Build(*sourceDir, *imagePath, image.BuildOptions{
		Segment: segment.Config{
			WindowSize:            *windowSize,
			WindowStepShift:       *windowStepShift,
			BlockSizeBits:         *blockSizeBits,
			MaxActiveBlocks:       *maxActiveBlocks,
			MemoryLimit:           *memoryLimit,
			BloomFilterSizeFactor: *bloomSizeFactor,
		},
		Workers: *workers,
		Logger:  newLogger(*verbose),
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d files, %d dirs, %d symlinks in %d blocks\n",
		*imagePath, result.Files, result.Dirs, result.Symlinks, result.Blocks)
	fmt.Printf("input %d bytes, image %d bytes, dedup ratio %.2f%%\n",
		result.BytesIn, result.ImageSize, 100*result.DedupRatio)
	return nil
}

func runList(args []string) error {
	flags := flag.NewFlagSet("ls", flag.ContinueOnError)
	long := flags.Bool("l", false, "long listing (size, mode, mtime)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("ls: exactly one image path required")
	}

	reader, err := image.Open(flags.Arg(0), image.ReaderOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	m := reader.Manifest()
	for _, dir := range m.Dirs {
		if *long {
			fmt.Printf("%s %12s  %s/\n", os.FileMode(dir.Mode)|os.ModeDir, "", dir.Path)
		} else {
			fmt.Printf("%s/\n", dir.Path)
		}
	}
	for _, file := range m.Files {
		if *long {
			fmt.Printf("%s %12d  %s\n", os.FileMode(file.Mode), file.Size, file.Path)
		} else {
			fmt.Println(file.Path)
		}
	}
	for _, link := range m.Symlinks {
		if *long {
			fmt.Printf("%s %12s  %s -> %s\n", os.FileMode(0o777)|os.ModeSymlink, "", link.Path, link.Target)
		} else {
			fmt.Printf("%s -> %s\n", link.Path, link.Target)
		}
	}
	return nil
}

func runCat(args []string) error {
	flags := flag.NewFlagSet("cat", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return fmt.Errorf("cat: image path and file path required")
	}

	reader, err := image.Open(flags.Arg(0), image.ReaderOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	data, err := reader.ReadFile(flags.Arg(1))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runExtract(args []string) error {
	flags := flag.NewFlagSet("extract", flag.ContinueOnError)
	target := flags.String("target", "", "directory to extract into (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 || *target == "" {
		return fmt.Errorf("extract: image path and --target required")
	}

	reader, err := image.Open(flags.Arg(0), image.ReaderOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	return reader.Extract(*target)
}

func runMount(args []string) error {
	flags := flag.NewFlagSet("mount", flag.ContinueOnError)
	mountpoint := flags.String("mountpoint", "", "directory to mount at (required)")
	allowOther := flags.Bool("allow-other", false, "permit other users to access the mount")
	cacheBlocks := flags.Int("cache-blocks", 0, "decompressed blocks held in memory (0 = default)")
	verbose := flags.Bool("verbose", false, "log FUSE diagnostics")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 || *mountpoint == "" {
		return fmt.Errorf("mount: image path and --mountpoint required")
	}

	logger := newLogger(*verbose)

	reader, err := image.Open(flags.Arg(0), image.ReaderOptions{
		CacheBlocks: *cacheBlocks,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer reader.Close()

	server, err := mount.Mount(mount.Options{
		Mountpoint: *mountpoint,
		Reader:     reader,
		AllowOther: *allowOther,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// Serve until interrupted, then unmount cleanly.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	logger.Info("unmounting", slog.String("mountpoint", *mountpoint))
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmounting %s: %w", *mountpoint, err)
	}
	server.Wait()
	return nil
}
