// Package jpg2mp4 is a CLI utility that converts a directory of JPEG images into a mp4 file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mp4mjpeg/pkg/mjpeg"
	"mp4mjpeg/pkg/video/mp4muxer"
)

const usage = `convert a directory of JPEG images into a mp4 file
example: jpg2mp4 [-reuse=true] [-ignore=30] ./frames out.mp4`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

var errOutputExists = errors.New("output file already exists")

func run(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("jpg2mp4", flag.ContinueOnError)
	flags.SetOutput(stdout)
	reuse := flags.Bool("reuse", true, "reuse the data of identical consecutive frames")
	ignore := flags.Int("ignore", 30, "drop identical frames after this many repeats, 0 disables")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() != 2 {
		fmt.Fprintln(stdout, usage)
		return nil
	}
	inputDir, output := flags.Arg(0), flags.Arg(1)

	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("%w: %v", errOutputExists, output)
	}

	images, err := findImages(inputDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Found %v images.\n", len(images))

	opts := mp4muxer.DefaultOptions(output)
	opts.ReuseLastFrame = *reuse
	opts.IgnoreIdenticalFrames = *ignore

	stats, err := convert(images, opts)
	if err != nil {
		return err
	}

	var samples, dropped int
	for _, s := range stats.Streams {
		samples += s.Samples
		dropped += s.Dropped
	}
	fmt.Fprintf(stdout, "Wrote %v: %v samples, %v dropped, %v bytes.\n",
		output, samples, dropped, stats.FileSize)
	return nil
}

// findImages returns the JPEG files in dir in lexical order.
func findImages(dir string) ([]string, error) {
	var images []string
	walkFunc := func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%v %w", path, err)
		}
		if info.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg":
			images = append(images, path)
		}
		return nil
	}
	if err := filepath.WalkDir(dir, walkFunc); err != nil {
		return nil, err
	}
	sort.Strings(images)
	return images, nil
}

func convert(images []string, opts mp4muxer.Options) (mp4muxer.Stats, error) {
	w, err := mjpeg.New(opts)
	if err != nil {
		return mp4muxer.Stats{}, fmt.Errorf("create: %w", err)
	}

	for _, path := range images {
		image, err := os.ReadFile(path)
		if err != nil {
			w.Close()
			return mp4muxer.Stats{}, err
		}
		if err := w.AppendImage(image); err != nil {
			w.Close()
			return mp4muxer.Stats{}, fmt.Errorf("append %v: %w", path, err)
		}
	}

	if err := w.Finalize(); err != nil {
		return mp4muxer.Stats{}, fmt.Errorf("finalize: %w", err)
	}
	return w.Stats(), nil
}
