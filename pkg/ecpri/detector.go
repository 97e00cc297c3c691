package ecpri

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AnomalyKind enumerates the rule findings the detector can emit.
type AnomalyKind string

const (
	KindSequenceGap      AnomalyKind = "sequence_gap"
	KindOversizedMessage AnomalyKind = "oversized_message"
)

// TypeName is the human-readable finding name used in persisted records.
func (k AnomalyKind) TypeName() string {
	switch k {
	case KindSequenceGap:
		return "eCPRI Sequence Gap"
	case KindOversizedMessage:
		return "eCPRI Oversized Message"
	}
	return string(k)
}

// Rule findings carry a fixed severity, not a scored one.
const (
	gapSeverity      = "high"
	oversizeSeverity = "medium"
)

// Anomaly is one protocol rule finding. Sequence fields are populated for
// gaps, PayloadSize for oversized messages.
type Anomaly struct {
	Kind        AnomalyKind `json:"kind"`
	FlowID      uint16      `json:"flow_id"`
	PacketIndex int         `json:"packet_index"`
	MessageType MessageType `json:"message_type"`
	PrevSeq     uint16      `json:"prev_seq"`
	ExpectedSeq uint16      `json:"expected_seq"`
	ObservedSeq uint16      `json:"observed_seq"`
	PayloadSize uint16      `json:"payload_size"`
	Severity    string      `json:"severity"`
}

// Description renders the finding the way downstream sinks store it.
func (a Anomaly) Description() string {
	switch a.Kind {
	case KindSequenceGap:
		return fmt.Sprintf("Missing sequence numbers between %d and %d", a.PrevSeq, a.ObservedSeq)
	case KindOversizedMessage:
		return fmt.Sprintf("Message size %d exceeds recommended limit", a.PayloadSize)
	}
	return string(a.Kind)
}

// Stats aggregates over one packet-stream scan.
type Stats struct {
	TotalMessages int            `json:"total_messages"`
	TypeCounts    map[string]int `json:"message_type_counts"`
	PayloadBytes  uint64         `json:"bandwidth_usage"`
}

var (
	ecpriMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "l1sentry", Subsystem: "ecpri", Name: "messages_total", Help: "Total parsed eCPRI messages by type."},
		[]string{"type"},
	)
	ecpriAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "l1sentry", Subsystem: "ecpri", Name: "anomalies_total", Help: "Total eCPRI rule findings by kind."},
		[]string{"kind"},
	)
	ecpriPayloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "l1sentry", Subsystem: "ecpri", Name: "payload_bytes_total", Help: "Cumulative on-wire bytes of parsed eCPRI messages."},
	)
)

func init() {
	_ = prometheus.Register(ecpriMessages)
	_ = prometheus.Register(ecpriAnomalies)
	_ = prometheus.Register(ecpriPayloadBytes)
}

// Detector checks sequence continuity per flow and payload size bounds.
// Flow state lives for one scan: packets of the same flow must arrive in
// order, so a Detector must not be shared across concurrent scans.
type Detector struct {
	maxPayload int
	seqMod     uint32
	lastSeq    map[uint16]uint16
	stats      Stats
}

// NewDetector builds a detector with the given payload bound in bytes
// (default 9600) and sequence counter width in bits (default 16).
func NewDetector(maxPayloadBytes, sequenceWidthBits int) *Detector {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = 9600
	}
	if sequenceWidthBits <= 0 || sequenceWidthBits > 16 {
		sequenceWidthBits = 16
	}
	return &Detector{
		maxPayload: maxPayloadBytes,
		seqMod:     1 << uint(sequenceWidthBits),
		lastSeq:    make(map[uint16]uint16),
		stats:      Stats{TypeCounts: make(map[string]int)},
	}
}

// Inspect parses one packet payload, updates flow state and statistics,
// and returns any rule findings. ok is false when the payload is too
// short to hold a header; such packets are skipped without touching
// state.
func (d *Detector) Inspect(packetIndex int, payload []byte) (Header, []Anomaly, bool) {
	h, err := ParseHeader(payload)
	if err != nil {
		return Header{}, nil, false
	}

	typeName := h.Type.String()
	d.stats.TotalMessages++
	d.stats.TypeCounts[typeName]++
	d.stats.PayloadBytes += uint64(h.TotalSize())
	ecpriMessages.WithLabelValues(typeName).Inc()
	ecpriPayloadBytes.Add(float64(h.TotalSize()))

	var anomalies []Anomaly

	if last, seen := d.lastSeq[h.PCID]; seen {
		expected := uint16((uint32(last) + 1) % d.seqMod)
		if h.SeqID != expected {
			anomalies = append(anomalies, Anomaly{
				Kind:        KindSequenceGap,
				FlowID:      h.PCID,
				PacketIndex: packetIndex,
				MessageType: h.Type,
				PrevSeq:     last,
				ExpectedSeq: expected,
				ObservedSeq: h.SeqID,
				Severity:    gapSeverity,
			})
			ecpriAnomalies.WithLabelValues(string(KindSequenceGap)).Inc()
		}
	}
	d.lastSeq[h.PCID] = h.SeqID

	if int(h.PayloadSize) > d.maxPayload {
		anomalies = append(anomalies, Anomaly{
			Kind:        KindOversizedMessage,
			FlowID:      h.PCID,
			PacketIndex: packetIndex,
			MessageType: h.Type,
			PayloadSize: h.PayloadSize,
			Severity:    oversizeSeverity,
		})
		ecpriAnomalies.WithLabelValues(string(KindOversizedMessage)).Inc()
	}

	return h, anomalies, true
}

// Stats returns a copy of the scan statistics.
func (d *Detector) Stats() Stats {
	cp := Stats{
		TotalMessages: d.stats.TotalMessages,
		TypeCounts:    make(map[string]int, len(d.stats.TypeCounts)),
		PayloadBytes:  d.stats.PayloadBytes,
	}
	for k, v := range d.stats.TypeCounts {
		cp.TypeCounts[k] = v
	}
	return cp
}

// Flows returns the number of distinct flows seen this scan.
func (d *Detector) Flows() int {
	return len(d.lastSeq)
}

// Reset clears flow state and statistics for a new scan.
func (d *Detector) Reset() {
	d.lastSeq = make(map[uint16]uint16)
	d.stats = Stats{TypeCounts: make(map[string]int)}
}
