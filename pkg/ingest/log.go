// Package ingest turns log files and packet captures into analyzer
// batches: one sample per informative log line, one structural sample
// per decoded fronthaul message, with a synthetic fallback for captures
// nothing could decode.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"l1sentry/pkg/analyzer"
	"l1sentry/pkg/features"
	"l1sentry/shared/logging"
)

var log = logging.New("ingest")

// maxLineBytes caps scanner lines; fronthaul logs occasionally carry
// multi-KB hexdump lines.
const maxLineBytes = 1 << 20

// ReadLog extracts one sample per informative line. Position is the
// 0-based line index within the stream, counting skipped lines too, so
// reported positions match the file.
func ReadLog(r io.Reader, source string) (analyzer.Batch, error) {
	batch := analyzer.Batch{Source: source}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	skipped := 0
	for scanner.Scan() {
		if vec, ok := features.FromLogLine(scanner.Text(), line); ok {
			batch.Samples = append(batch.Samples, analyzer.Sample{Position: line, Vector: vec})
		} else {
			skipped++
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return batch, fmt.Errorf("read log %s: %w", source, err)
	}

	log.WithFields(logrus.Fields{
		"source":  source,
		"lines":   line,
		"samples": len(batch.Samples),
		"skipped": skipped,
	}).Debug("log scanned")
	return batch, nil
}

// ReadLogFile scans the file at path. The batch source is the base name
// so category classification sees the file name, not the directory.
func ReadLogFile(path string) (analyzer.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return analyzer.Batch{}, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	return ReadLog(f, filepath.Base(path))
}
