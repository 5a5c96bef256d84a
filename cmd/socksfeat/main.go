// Package main implements socksfeat, the offline feature extraction tool.
// It reads session CSV files produced by the recorder, slides the same
// windows the live pipeline uses, and writes one feature vector per
// window through the same extractor. Training and live inference
// therefore see byte-identical feature definitions.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/powerpig99/smart-socks-sub000/feature"
	"github.com/powerpig99/smart-socks-sub000/process/classify"
)

func main() {
	if err := run(); err != nil {
		slog.Error("extraction failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	liveDefaults := classify.DefaultConfig()
	var (
		inPath  = flag.String("in", "", "session CSV file or directory of session CSVs")
		outPath = flag.String("out", "features.csv", "output feature CSV")
		window  = flag.Int("window", liveDefaults.WindowSize, "window length in frames")
		stride  = flag.Int("stride", liveDefaults.Stride, "window stride in frames")
	)
	flag.Parse()

	if *inPath == "" {
		flag.Usage()
		return fmt.Errorf("-in is required")
	}
	if *window <= 0 || *stride <= 0 || *stride > *window {
		return fmt.Errorf("bad window/stride: %d/%d", *window, *stride)
	}

	extractor, err := feature.NewExtractor(feature.DefaultConfig())
	if err != nil {
		return err
	}

	job := &extractJob{
		extractor: extractor,
		window:    *window,
		stride:    *stride,
	}
	summary, err := job.Run(*inPath, *outPath)
	if err != nil {
		return err
	}
	slog.Info("extraction complete",
		"sessions", summary.Sessions,
		"frames", summary.Frames,
		"windows", summary.Windows,
		"output", *outPath)
	return nil
}
