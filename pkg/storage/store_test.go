package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l1sentry/pkg/analyzer"
	"l1sentry/pkg/ecpri"
	"l1sentry/pkg/ingest"
)

func sampleRecord() analyzer.AnomalyRecord {
	return analyzer.AnomalyRecord{
		SampleIndex:    4,
		Position:       17,
		Source:         "du_ru_capture.log",
		Description:    "Anomaly detected by 3/4 detectors",
		Confidence:     0.82,
		ModelAgreement: 3,
		ModelsExecuted: 4,
		Votes: map[string]analyzer.ModelVote{
			"isolation_forest": {Prediction: 1, Confidence: 0.91},
			"one_class_svm":    {Prediction: 1, Confidence: 0.76},
			"dbscan":           {Prediction: 1, Confidence: 0.80},
			"random_forest":    {Prediction: 0, Confidence: 0.10},
		},
		Severity:  analyzer.SeverityHigh,
		Category:  analyzer.CategoryDURU,
		Persist:   true,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFromRecord_LogRow(t *testing.T) {
	row := FromRecord(sampleRecord(), "session-1", FileTypeLog)

	_, err := uuid.Parse(row.ID)
	require.NoError(t, err, "row id must be a uuid")

	assert.Equal(t, analyzer.CategoryDURU, row.AnomalyType)
	assert.Equal(t, "Anomaly detected by 3/4 detectors", row.Description)
	assert.Equal(t, "high", row.Severity)
	assert.Equal(t, "du_ru_capture.log", row.SourceFile)
	assert.Equal(t, 17, row.LineNumber)
	assert.Equal(t, 0, row.PacketNumber)
	assert.Equal(t, "session-1", row.SessionID)
	assert.Equal(t, 0.82, row.Confidence)
	assert.Equal(t, 3, row.Agreement)
	assert.Equal(t, "3/4", row.EnsembleVote)
	assert.Equal(t, StatusActive, row.Status)

	var details struct {
		ModelVotes         map[string]analyzer.ModelVote `json:"model_votes"`
		EnsembleConfidence float64                       `json:"ensemble_confidence"`
		ModelAgreement     int                           `json:"model_agreement"`
		ModelsExecuted     int                           `json:"models_executed"`
	}
	require.NoError(t, json.Unmarshal(row.Details, &details))
	assert.Len(t, details.ModelVotes, 4)
	assert.Equal(t, 1, details.ModelVotes["isolation_forest"].Prediction)
	assert.Equal(t, 0.82, details.EnsembleConfidence)
	assert.Equal(t, 3, details.ModelAgreement)
	assert.Equal(t, 4, details.ModelsExecuted)
}

func TestFromRecord_PacketRow(t *testing.T) {
	row := FromRecord(sampleRecord(), "session-2", FileTypePCAP)

	assert.Equal(t, 17, row.PacketNumber)
	assert.Equal(t, 0, row.LineNumber)
}

func TestFromProtocol(t *testing.T) {
	pa := ecpri.Anomaly{
		Kind:        ecpri.KindSequenceGap,
		FlowID:      7,
		PacketIndex: 42,
		MessageType: ecpri.TypeIQData,
		PrevSeq:     2,
		ExpectedSeq: 3,
		ObservedSeq: 5,
		Severity:    "high",
	}

	row := FromProtocol(pa, "fronthaul.pcap", "session-3")

	_, err := uuid.Parse(row.ID)
	require.NoError(t, err)

	assert.Equal(t, "eCPRI Sequence Gap", row.AnomalyType)
	assert.Equal(t, pa.Description(), row.Description)
	assert.Equal(t, "high", row.Severity)
	assert.Equal(t, "fronthaul.pcap", row.SourceFile)
	assert.Equal(t, 42, row.PacketNumber)
	assert.Equal(t, 0, row.LineNumber)
	assert.Equal(t, "session-3", row.SessionID)

	// Rule findings must not look like ensemble votes.
	assert.Equal(t, VoteProtocolRule, row.EnsembleVote)
	assert.Zero(t, row.Confidence)
	assert.Zero(t, row.Agreement)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(row.Details, &details))
	assert.Equal(t, "sequence_gap", details["rule"])
	assert.Equal(t, float64(5), details["observed_seq"])
	assert.Equal(t, float64(7), details["flow_id"])
}

func TestFromSession(t *testing.T) {
	sess := ingest.NewSession()
	sess.Files = 3
	sess.Samples = 1200
	sess.Anomalies = 9
	sess.Protocol = 2
	sess.Critical = 1
	sess.High = 4
	sess.Medium = 1
	sess.Low = 1
	sess.Finish()

	row := FromSession(sess, StatusCompleted)

	assert.Equal(t, sess.ID, row.ID)
	assert.Equal(t, sess.StartedAt, row.StartedAt)
	assert.Equal(t, sess.FinishedAt, row.EndedAt)
	assert.Equal(t, 3, row.FilesProcessed)
	assert.Equal(t, 1200, row.TotalSamples)
	assert.Equal(t, 9, row.TotalAnomalies)
	assert.Equal(t, 2, row.Protocol)
	assert.Equal(t, 1, row.Critical)
	assert.Equal(t, 4, row.High)
	assert.Equal(t, 1, row.Medium)
	assert.Equal(t, 1, row.Low)
	assert.GreaterOrEqual(t, row.Seconds, 0.0)
	assert.Equal(t, StatusCompleted, row.Status)
}
