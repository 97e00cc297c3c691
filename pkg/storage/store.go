// Package storage persists analysis output to Postgres. The pipeline
// depends only on the AnomalySink and SessionStore interfaces; all writes
// are context-bounded and callers treat failures as non-fatal.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"l1sentry/pkg/analyzer"
	"l1sentry/pkg/ecpri"
	"l1sentry/pkg/ingest"
)

// FileType tags which pipeline produced a record.
type FileType string

const (
	FileTypeLog  FileType = "log"
	FileTypePCAP FileType = "pcap"
)

// Row status values.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// VoteProtocolRule marks findings from the stateful protocol rules. Rule
// findings carry a fixed severity and must not read as ensemble votes.
const VoteProtocolRule = "protocol_rule"

// AnomalySink persists findings.
type AnomalySink interface {
	SaveAnomaly(ctx context.Context, a Anomaly) error
}

// SessionStore tracks analysis sessions and per-file progress.
type SessionStore interface {
	StartSession(ctx context.Context, s Session) error
	FinishSession(ctx context.Context, s Session) error
	SaveProcessedFile(ctx context.Context, f ProcessedFile) error
}

// Anomaly is one persisted finding, from either the ML ensemble or the
// protocol rule detector.
type Anomaly struct {
	ID           string
	Timestamp    time.Time
	AnomalyType  string
	Description  string
	Severity     string
	SourceFile   string
	PacketNumber int
	LineNumber   int
	SessionID    string
	Confidence   float64
	Agreement    int
	Details      []byte // ml_algorithm_details JSON document
	EnsembleVote string
	Status       string
}

// Session is the persisted lifecycle of one analysis run.
type Session struct {
	ID             string
	SourceFile     string
	StartedAt      time.Time
	EndedAt        time.Time
	FilesProcessed int
	TotalSamples   int
	TotalAnomalies int
	Protocol       int
	Critical       int
	High           int
	Medium         int
	Low            int
	Seconds        float64
	Status         string
}

// ProcessedFile is the per-file bookkeeping row.
type ProcessedFile struct {
	Filename     string
	FileType     FileType
	FileSize     int64
	Status       string
	TotalSamples int
	Anomalies    int
	SessionID    string
	Error        string
}

// anomalyDetails is the ml_algorithm_details document for ensemble rows.
type anomalyDetails struct {
	ModelVotes         map[string]analyzer.ModelVote `json:"model_votes"`
	EnsembleConfidence float64                       `json:"ensemble_confidence"`
	ModelAgreement     int                           `json:"model_agreement"`
	ModelsExecuted     int                           `json:"models_executed"`
}

// protocolDetails is the ml_algorithm_details document for rule rows.
type protocolDetails struct {
	Rule        string `json:"rule"`
	MessageType string `json:"message_type"`
	FlowID      uint16 `json:"flow_id"`
	PrevSeq     uint16 `json:"prev_seq,omitempty"`
	ExpectedSeq uint16 `json:"expected_seq,omitempty"`
	ObservedSeq uint16 `json:"observed_seq,omitempty"`
	PayloadSize uint16 `json:"payload_size,omitempty"`
}

// FromRecord converts an ensemble finding into its persisted row. Log
// positions land in line_number, packet positions in packet_number.
func FromRecord(rec analyzer.AnomalyRecord, sessionID string, ft FileType) Anomaly {
	details, _ := json.Marshal(anomalyDetails{
		ModelVotes:         rec.Votes,
		EnsembleConfidence: rec.Confidence,
		ModelAgreement:     rec.ModelAgreement,
		ModelsExecuted:     rec.ModelsExecuted,
	})

	a := Anomaly{
		ID:           uuid.NewString(),
		Timestamp:    rec.Timestamp,
		AnomalyType:  rec.Category,
		Description:  rec.Description,
		Severity:     string(rec.Severity),
		SourceFile:   rec.Source,
		SessionID:    sessionID,
		Confidence:   rec.Confidence,
		Agreement:    rec.ModelAgreement,
		Details:      details,
		EnsembleVote: fmt.Sprintf("%d/%d", rec.ModelAgreement, rec.ModelsExecuted),
		Status:       StatusActive,
	}
	if ft == FileTypePCAP {
		a.PacketNumber = rec.Position
	} else {
		a.LineNumber = rec.Position
	}
	return a
}

// FromProtocol converts a protocol rule finding. The row keeps the rule's
// fixed severity; confidence and agreement stay zero and the vote column
// carries the protocol_rule marker instead of a tally.
func FromProtocol(pa ecpri.Anomaly, source, sessionID string) Anomaly {
	details, _ := json.Marshal(protocolDetails{
		Rule:        string(pa.Kind),
		MessageType: pa.MessageType.String(),
		FlowID:      pa.FlowID,
		PrevSeq:     pa.PrevSeq,
		ExpectedSeq: pa.ExpectedSeq,
		ObservedSeq: pa.ObservedSeq,
		PayloadSize: pa.PayloadSize,
	})

	return Anomaly{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		AnomalyType:  pa.Kind.TypeName(),
		Description:  pa.Description(),
		Severity:     pa.Severity,
		SourceFile:   source,
		PacketNumber: pa.PacketIndex,
		SessionID:    sessionID,
		Details:      details,
		EnsembleVote: VoteProtocolRule,
		Status:       StatusActive,
	}
}

// FromSession snapshots the in-memory session counters for persistence.
func FromSession(s *ingest.Session, status string) Session {
	return Session{
		ID:             s.ID,
		StartedAt:      s.StartedAt,
		EndedAt:        s.FinishedAt,
		FilesProcessed: s.Files,
		TotalSamples:   s.Samples,
		TotalAnomalies: s.Anomalies,
		Protocol:       s.Protocol,
		Critical:       s.Critical,
		High:           s.High,
		Medium:         s.Medium,
		Low:            s.Low,
		Seconds:        s.Duration().Seconds(),
		Status:         status,
	}
}
