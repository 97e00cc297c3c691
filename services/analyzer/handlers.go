package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"l1sentry/pkg/analyzer"
	"l1sentry/pkg/ecpri"
	"l1sentry/pkg/features"
	"l1sentry/pkg/ingest"
	"l1sentry/pkg/ml"
	"l1sentry/pkg/storage"
	"l1sentry/shared/config"
	"l1sentry/shared/eventbus"
)

// Server carries the request-scoped pipeline dependencies. store and
// drift may be nil; analysis works without either.
type Server struct {
	engine  *analyzer.Engine
	scanner *ingest.PCAPScanner
	bus     *eventbus.Bus
	store   *storage.Store
	drift   *ml.FeatureDriftMonitor
	maxBody int64
}

func NewServer(engine *analyzer.Engine, bus *eventbus.Bus, store *storage.Store, drift *ml.FeatureDriftMonitor) *Server {
	cfg := engine.Config()
	return &Server{
		engine: engine,
		scanner: ingest.NewPCAPScanner(ingest.ScannerConfig{
			MaxPayloadBytes:   cfg.OversizeThreshold,
			SequenceWidthBits: cfg.SequenceWidthBits,
		}),
		bus:     bus,
		store:   store,
		drift:   drift,
		maxBody: int64(config.GetInt("MAX_UPLOAD_MB", 512)) << 20,
	}
}

// annotatedRecord is an anomaly record plus its statistical explanation
// relative to the batch it came from.
type annotatedRecord struct {
	analyzer.AnomalyRecord
	TopFeatures []analyzer.FeatureContribution `json:"top_features,omitempty"`
}

type logResponse struct {
	SessionID       string                  `json:"session_id"`
	Source          string                  `json:"source"`
	SamplesAnalyzed int                     `json:"samples_analyzed"`
	Models          []string                `json:"models"`
	Skipped         []analyzer.SkippedModel `json:"skipped,omitempty"`
	Anomalies       []annotatedRecord       `json:"anomalies"`
	ElapsedMS       int64                   `json:"elapsed_ms"`
}

func (s *Server) handleAnalyzeLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := r.URL.Query().Get("filename")
	if source == "" {
		source = "upload.log"
	}
	source = filepath.Base(source)

	body := &countingReader{r: http.MaxBytesReader(w, r.Body, s.maxBody)}
	batch, err := ingest.ReadLog(body, source)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := s.engine.AnalyzeBatch(batch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if s.drift != nil {
		s.drift.ObserveBatch(r.Context(), vectors(batch))
	}

	sess := ingest.NewSession()
	sess.ObserveFile()
	sess.Observe(report)
	sess.Finish()

	s.publishResults(source, storage.FileTypeLog, sess, report.Records, nil, body.n)

	writeJSON(w, http.StatusOK, logResponse{
		SessionID:       sess.ID,
		Source:          report.Source,
		SamplesAnalyzed: report.SamplesAnalyzed,
		Models:          report.Models,
		Skipped:         report.Skipped,
		Anomalies:       annotate(report, batch, features.LogFeatureNames),
		ElapsedMS:       report.Elapsed.Milliseconds(),
	})
}

type pcapResponse struct {
	SessionID         string                   `json:"session_id"`
	Source            string                   `json:"source"`
	Packets           int                      `json:"packets"`
	Messages          int                      `json:"messages"`
	Synthetic         bool                     `json:"synthetic,omitempty"`
	SamplesAnalyzed   int                      `json:"samples_analyzed"`
	Anomalies         []analyzer.AnomalyRecord `json:"anomalies"`
	ProtocolAnomalies []ecpri.Anomaly          `json:"protocol_anomalies"`
	Stats             ecpri.Stats              `json:"stats"`
	ElapsedMS         int64                    `json:"elapsed_ms"`
}

func (s *Server) handleAnalyzePCAP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var (
		src      io.ReadSeeker
		source   string
		sizeHint int64
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "multipart field 'file' required", http.StatusBadRequest)
			return
		}
		defer file.Close()
		src, source, sizeHint = file, filepath.Base(header.Filename), header.Size
	} else {
		var req struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
			http.Error(w, `multipart upload or JSON {"path": "..."} required`, http.StatusBadRequest)
			return
		}
		f, err := os.Open(req.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		src, source, sizeHint = f, filepath.Base(req.Path), info.Size()
	}

	start := time.Now()
	sess := ingest.NewSession()
	sess.ObserveFile()

	var (
		records  []analyzer.AnomalyRecord
		protocol []ecpri.Anomaly
	)
	result, err := s.scanner.Scan(src, source, sizeHint, func(chunk ingest.PacketChunk) error {
		report, err := s.engine.AnalyzeBatch(chunk.Batch)
		if err != nil {
			return err
		}
		sess.Observe(report)
		records = append(records, report.Records...)
		protocol = append(protocol, chunk.Anomalies...)
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess.ObserveProtocol(result.ProtocolAnomalies)
	sess.Finish()

	s.publishResults(source, storage.FileTypePCAP, sess, records, protocol, sizeHint)

	writeJSON(w, http.StatusOK, pcapResponse{
		SessionID:         sess.ID,
		Source:            result.Source,
		Packets:           result.Packets,
		Messages:          result.Messages,
		Synthetic:         result.Synthetic,
		SamplesAnalyzed:   sess.Samples,
		Anomalies:         records,
		ProtocolAnomalies: protocol,
		Stats:             result.Stats,
		ElapsedMS:         time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if s.store != nil {
		dbStatus = "up"
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			dbStatus = "down"
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   serviceName,
		"database":  dbStatus,
		"timestamp": time.Now().UTC(),
	})
}

// publishResults hands findings to the bus for asynchronous persistence.
// With no registered sink the events dissipate; analysis never depends on
// the write path.
func (s *Server) publishResults(source string, ft storage.FileType, sess *ingest.Session, records []analyzer.AnomalyRecord, protocol []ecpri.Anomaly, size int64) {
	for _, rec := range records {
		if !rec.Persist {
			continue
		}
		s.bus.TryPublish(eventbus.Event{
			Topic:   eventbus.TopicAnomaly,
			Source:  source,
			Payload: storage.FromRecord(rec, sess.ID, ft),
		})
	}
	for _, pa := range protocol {
		s.bus.TryPublish(eventbus.Event{
			Topic:   eventbus.TopicAnomaly,
			Source:  source,
			Payload: storage.FromProtocol(pa, source, sess.ID),
		})
	}

	row := storage.FromSession(sess, storage.StatusCompleted)
	row.SourceFile = source
	s.bus.TryPublish(eventbus.Event{
		Topic:  eventbus.TopicSession,
		Source: source,
		Payload: sessionDone{
			Session: row,
			File: storage.ProcessedFile{
				Filename:     source,
				FileType:     ft,
				FileSize:     size,
				TotalSamples: sess.Samples,
				Anomalies:    sess.Anomalies,
				SessionID:    sess.ID,
			},
		},
	})
}

// annotate attaches each record's top contributing features, computed
// against the batch it came from.
func annotate(report *analyzer.Report, batch analyzer.Batch, names []string) []annotatedRecord {
	X := vectors(batch)
	out := make([]annotatedRecord, 0, len(report.Records))
	for _, rec := range report.Records {
		ar := annotatedRecord{AnomalyRecord: rec}
		if rec.SampleIndex < len(batch.Samples) {
			ar.TopFeatures = analyzer.Explain(names, batch.Samples[rec.SampleIndex].Vector, X, 5)
		}
		out = append(out, ar)
	}
	return out
}

func vectors(batch analyzer.Batch) [][]float64 {
	X := make([][]float64, len(batch.Samples))
	for i, smp := range batch.Samples {
		X[i] = smp.Vector
	}
	return X
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("response encode failed")
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
