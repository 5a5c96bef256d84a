package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/feature"
	"github.com/powerpig99/smart-socks-sub000/message"
)

// Summary reports what one extraction run processed.
type Summary struct {
	Sessions int
	Frames   int
	Windows  int
}

// extractJob holds the shared extractor and window geometry.
type extractJob struct {
	extractor *feature.Extractor
	window    int
	stride    int
}

// Run extracts features from one session file or every *.csv in a
// directory, writing all windows into a single output file.
func (j *extractJob) Run(inPath, outPath string) (Summary, error) {
	var summary Summary

	files, err := sessionFiles(inPath)
	if err != nil {
		return summary, err
	}
	if len(files) == 0 {
		return summary, errors.WrapInvalid(
			fmt.Errorf("no session files under %s", inPath),
			"extractJob", "Run", "input listing")
	}

	out, err := os.Create(outPath)
	if err != nil {
		return summary, errors.WrapFatal(err, "extractJob", "Run", "output create")
	}
	defer out.Close()
	w := csv.NewWriter(out)

	header := append(append([]string{}, j.extractor.Names()...), "subject", "label")
	if err := w.Write(header); err != nil {
		return summary, errors.WrapFatal(err, "extractJob", "Run", "header write")
	}

	for _, path := range files {
		frames, err := readSession(path)
		if err != nil {
			return summary, err
		}
		subject, label := sessionLabels(path)

		windows, err := j.writeWindows(w, frames, subject, label)
		if err != nil {
			return summary, err
		}
		summary.Sessions++
		summary.Frames += len(frames)
		summary.Windows += windows
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return summary, errors.WrapFatal(err, "extractJob", "Run", "output flush")
	}
	return summary, nil
}

// writeWindows slides the window over one session and writes a feature
// row per window. A session shorter than one window yields nothing.
func (j *extractJob) writeWindows(w *csv.Writer, frames []message.MergedFrame, subject, label string) (int, error) {
	count := 0
	for start := 0; start+j.window <= len(frames); start += j.stride {
		vec, err := j.extractor.Extract(message.Window{
			Frames:   frames[start : start+j.window],
			StartSeq: int64(start),
		})
		if err != nil {
			return count, err
		}

		row := make([]string, 0, len(vec.Values)+2)
		for _, v := range vec.Values {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		row = append(row, subject, label)
		if err := w.Write(row); err != nil {
			return count, errors.WrapFatal(err, "extractJob", "writeWindows", "row write")
		}
		count++
	}
	return count, nil
}

// sessionFiles resolves the input to a sorted list of CSV paths.
func sessionFiles(inPath string) ([]string, error) {
	info, err := os.Stat(inPath)
	if err != nil {
		return nil, errors.WrapInvalid(err, "socksfeat", "sessionFiles", "input stat")
	}
	if !info.IsDir() {
		return []string{inPath}, nil
	}

	entries, err := os.ReadDir(inPath)
	if err != nil {
		return nil, errors.WrapInvalid(err, "socksfeat", "sessionFiles", "directory read")
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			files = append(files, filepath.Join(inPath, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// readSession parses one recorder CSV into merged frames.
func readSession(path string) ([]message.MergedFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "socksfeat", "readSession", "session open")
	}
	defer file.Close()

	r := csv.NewReader(file)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.WrapInvalid(err, "socksfeat", "readSession", "csv parse")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) != 1+message.TotalChannels {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s has %d columns, want %d",
				errors.ErrParsingFailed, filepath.Base(path), len(rows[0]), 1+message.TotalChannels),
			"socksfeat", "readSession", "column check")
	}

	frames := make([]message.MergedFrame, 0, len(rows)-1)
	for i, row := range rows[1:] {
		var f message.MergedFrame
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: row %d timestamp %q", errors.ErrParsingFailed, i+2, row[0]),
				"socksfeat", "readSession", "timestamp parse")
		}
		f.TimestampMs = ts
		for c := 0; c < message.TotalChannels; c++ {
			v, err := strconv.Atoi(row[1+c])
			if err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: row %d value %q", errors.ErrParsingFailed, i+2, row[1+c]),
					"socksfeat", "readSession", "value parse")
			}
			f.Values[c] = v
			f.Valid[c] = true
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// sessionLabels derives subject and activity from the recorder's
// <subject>_<activity>_<timestamp>.csv naming. Files named differently
// get placeholder labels rather than an error so ad-hoc captures still
// extract.
func sessionLabels(path string) (subject, label string) {
	base := strings.TrimSuffix(filepath.Base(path), ".csv")
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return "subject", "unlabeled"
	}
	// The last two parts are the date and time stamps.
	subject = parts[0]
	label = strings.Join(parts[1:len(parts)-2], "_")
	if subject == "" || label == "" {
		return "subject", "unlabeled"
	}
	return subject, label
}
