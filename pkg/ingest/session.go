package ingest

import (
	"time"

	"github.com/google/uuid"

	"l1sentry/pkg/analyzer"
)

// Session accumulates per-run totals across every file of one analysis
// run. Not safe for concurrent use; runs are file-sequential.
type Session struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time

	Files     int
	Samples   int
	Anomalies int
	Protocol  int

	Critical int
	High     int
	Medium   int
	Low      int
}

func NewSession() *Session {
	return &Session{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
}

// ObserveFile counts one input file against the session. Batches and
// files are tracked separately because chunked captures produce many
// reports per file.
func (s *Session) ObserveFile() {
	s.Files++
}

// Observe folds one batch report into the running totals.
func (s *Session) Observe(report *analyzer.Report) {
	if report == nil {
		return
	}
	s.Samples += report.SamplesAnalyzed
	s.Anomalies += len(report.Records)
	for _, rec := range report.Records {
		switch rec.Severity {
		case analyzer.SeverityCritical:
			s.Critical++
		case analyzer.SeverityHigh:
			s.High++
		case analyzer.SeverityMedium:
			s.Medium++
		default:
			s.Low++
		}
	}
}

// ObserveProtocol counts rule-detector findings, which bypass the
// ensemble but belong to the same session.
func (s *Session) ObserveProtocol(count int) {
	s.Anomalies += count
	s.Protocol += count
}

// Finish stamps the session end time.
func (s *Session) Finish() {
	s.FinishedAt = time.Now().UTC()
}

// Duration reports elapsed run time, using the current clock while the
// session is still open.
func (s *Session) Duration() time.Duration {
	end := s.FinishedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Sub(s.StartedAt)
}
