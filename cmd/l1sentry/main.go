// Command l1sentry batch-analyzes telecom log files and packet captures
// and prints a run summary. Inputs come from L1SENTRY_INPUT (comma
// separated files or directories); results persist to Postgres when the
// DB_* or DATABASE_URL environment is present.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"l1sentry/pkg/analyzer"
	"l1sentry/pkg/ecpri"
	"l1sentry/pkg/ingest"
	"l1sentry/pkg/storage"
	"l1sentry/shared/config"
	"l1sentry/shared/logging"
)

var log = logging.New("l1sentry")

const writeTimeout = 10 * time.Second

func main() {
	inputs := strings.Split(config.Get("L1SENTRY_INPUT", "."), ",")

	targets, err := collectTargets(inputs)
	if err != nil {
		log.WithError(err).Fatal("input scan failed")
	}
	if len(targets) == 0 {
		log.WithField("inputs", inputs).Fatal("no .log/.txt or .pcap/.pcapng/.cap files found")
	}

	engine := analyzer.New(analyzer.ConfigFromEnv())

	var store *storage.Store
	if os.Getenv("DATABASE_URL") != "" || os.Getenv("DB_HOST") != "" {
		s, err := storage.Open(storage.ConfigFromEnv())
		if err != nil {
			log.WithError(err).Warn("postgres unavailable, persistence disabled")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.Migrate(ctx); err != nil {
				log.WithError(err).Warn("schema migration failed")
			}
			cancel()
			store = s
			defer store.Close()
		}
	}

	r := &runner{
		engine:  engine,
		scanner: ingest.NewPCAPScanner(scannerConfig(engine.Config())),
		store:   store,
		sess:    ingest.NewSession(),
	}
	r.startSession()

	var failed int
	for _, tgt := range targets {
		logger := log.WithFields(logrus.Fields{"file": tgt.path, "type": tgt.kind})
		logger.Info("analyzing")

		var err error
		switch tgt.kind {
		case storage.FileTypeLog:
			err = r.processLog(tgt.path)
		case storage.FileTypePCAP:
			err = r.processPCAP(tgt.path)
		}
		if err != nil {
			failed++
			logger.WithError(err).Error("analysis failed")
			r.recordFailure(tgt, err)
		}
	}

	r.sess.Finish()
	r.finishSession(failed)
	printSummary(r.sess, len(targets), failed)
}

func scannerConfig(cfg analyzer.Config) ingest.ScannerConfig {
	return ingest.ScannerConfig{
		ChunkPackets:      config.GetInt("L1SENTRY_CHUNK_PACKETS", ingest.DefaultChunkPackets),
		MaxPayloadBytes:   cfg.OversizeThreshold,
		SequenceWidthBits: cfg.SequenceWidthBits,
	}
}

// target is one routed input file.
type target struct {
	path string
	kind storage.FileType
}

// collectTargets expands files and directories into routed inputs,
// sorted within each root for stable run order.
func collectTargets(inputs []string) ([]target, error) {
	var targets []target
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", input, err)
		}

		if !info.IsDir() {
			if kind, ok := routeExt(input); ok {
				targets = append(targets, target{path: input, kind: kind})
			} else {
				log.WithField("file", input).Warn("unsupported extension, skipping")
			}
			continue
		}

		var found []target
		err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if kind, ok := routeExt(path); ok {
				found = append(found, target{path: path, kind: kind})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", input, err)
		}
		sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
		targets = append(targets, found...)
	}
	return targets, nil
}

func routeExt(path string) (storage.FileType, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".log", ".txt":
		return storage.FileTypeLog, true
	case ".pcap", ".pcapng", ".cap":
		return storage.FileTypePCAP, true
	}
	return "", false
}

// runner drives the pipeline over one session. Persistence failures are
// logged and swallowed; analysis output always reaches the summary.
type runner struct {
	engine  *analyzer.Engine
	scanner *ingest.PCAPScanner
	store   *storage.Store
	sess    *ingest.Session
}

func (r *runner) processLog(path string) error {
	batch, err := ingest.ReadLogFile(path)
	if err != nil {
		return err
	}
	report, err := r.engine.AnalyzeBatch(batch)
	if err != nil {
		return err
	}

	r.sess.ObserveFile()
	r.sess.Observe(report)
	r.saveRecords(report.Records, storage.FileTypeLog)
	r.saveFile(storage.ProcessedFile{
		Filename:     batch.Source,
		FileType:     storage.FileTypeLog,
		FileSize:     fileSize(path),
		TotalSamples: report.SamplesAnalyzed,
		Anomalies:    len(report.Records),
		SessionID:    r.sess.ID,
	})
	return nil
}

func (r *runner) processPCAP(path string) error {
	source := filepath.Base(path)
	var samples, flagged int

	result, err := r.scanner.ScanFile(path, func(chunk ingest.PacketChunk) error {
		report, err := r.engine.AnalyzeBatch(chunk.Batch)
		if err != nil {
			return err
		}
		r.sess.Observe(report)
		samples += report.SamplesAnalyzed
		flagged += len(report.Records)
		r.saveRecords(report.Records, storage.FileTypePCAP)
		for _, pa := range chunk.Anomalies {
			r.saveProtocol(pa, source)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.sess.ObserveFile()
	r.sess.ObserveProtocol(result.ProtocolAnomalies)
	r.saveFile(storage.ProcessedFile{
		Filename:     source,
		FileType:     storage.FileTypePCAP,
		FileSize:     fileSize(path),
		TotalSamples: samples,
		Anomalies:    flagged + result.ProtocolAnomalies,
		SessionID:    r.sess.ID,
	})

	log.WithFields(logrus.Fields{
		"file":     source,
		"packets":  result.Packets,
		"messages": result.Messages,
		"gaps":     result.ProtocolAnomalies,
	}).Info("capture scanned")
	return nil
}

func (r *runner) recordFailure(tgt target, failure error) {
	r.saveFile(storage.ProcessedFile{
		Filename:  filepath.Base(tgt.path),
		FileType:  tgt.kind,
		FileSize:  fileSize(tgt.path),
		Status:    storage.StatusFailed,
		SessionID: r.sess.ID,
		Error:     failure.Error(),
	})
}

func (r *runner) saveRecords(records []analyzer.AnomalyRecord, ft storage.FileType) {
	if r.store == nil {
		return
	}
	for _, rec := range records {
		if !rec.Persist {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.SaveAnomaly(ctx, storage.FromRecord(rec, r.sess.ID, ft)); err != nil {
			log.WithError(err).Warn("anomaly write failed")
		}
		cancel()
	}
}

func (r *runner) saveProtocol(pa ecpri.Anomaly, source string) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.SaveAnomaly(ctx, storage.FromProtocol(pa, source, r.sess.ID)); err != nil {
		log.WithError(err).Warn("protocol anomaly write failed")
	}
}

func (r *runner) saveFile(f storage.ProcessedFile) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.SaveProcessedFile(ctx, f); err != nil {
		log.WithError(err).Warn("file record write failed")
	}
}

func (r *runner) startSession() {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.StartSession(ctx, storage.FromSession(r.sess, storage.StatusActive)); err != nil {
		log.WithError(err).Warn("session open failed")
	}
}

func (r *runner) finishSession(failed int) {
	if r.store == nil {
		return
	}
	status := storage.StatusCompleted
	if failed > 0 && r.sess.Files == 0 {
		status = storage.StatusFailed
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.FinishSession(ctx, storage.FromSession(r.sess, status)); err != nil {
		log.WithError(err).Warn("session finalize failed")
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func printSummary(sess *ingest.Session, total, failed int) {
	fmt.Println()
	fmt.Println("=== L1 Sentry run summary ===")
	fmt.Printf("session:          %s\n", sess.ID)
	fmt.Printf("files processed:  %d/%d", sess.Files, total)
	if failed > 0 {
		fmt.Printf("  (%d failed)", failed)
	}
	fmt.Println()
	fmt.Printf("samples analyzed: %d\n", sess.Samples)
	fmt.Printf("anomalies:        %d (protocol rules: %d)\n", sess.Anomalies, sess.Protocol)
	fmt.Printf("severity:         %d critical / %d high / %d medium / %d low\n",
		sess.Critical, sess.High, sess.Medium, sess.Low)
	fmt.Printf("elapsed:          %s\n", sess.Duration().Round(time.Millisecond))
}
