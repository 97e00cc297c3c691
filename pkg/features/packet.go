package features

import (
	"math/rand"

	"l1sentry/pkg/ecpri"
)

// PacketFeatureCount is the dimensionality of packet-derived vectors,
// shared by the synthetic and structural paths so either can feed the
// same pipeline.
const PacketFeatureCount = 8

// SyntheticPacketFeatureNames index-aligns with SyntheticBatch vectors.
var SyntheticPacketFeatureNames = []string{
	"packet_size", "inter_arrival_time", "protocol_type", "header_length",
	"error_flag", "jitter_estimate", "packet_sequence", "quality_score",
}

// StructuralPacketFeatureNames index-aligns with vectors from
// StructuralExtractor.FromMessage.
var StructuralPacketFeatureNames = []string{
	"payload_size", "message_type", "sequence_delta", "concatenated",
	"revision", "index_delta", "flow_activity", "payload_ratio",
}

// SyntheticBatch fabricates min(100, fileSize/1000) vectors from
// file-size-seeded randomness. This is a non-semantic stand-in used only
// when a capture yields no decodable messages: the vectors exercise the
// scoring pipeline but carry no information about the actual packets.
// Prefer the structural path whenever framing headers decode.
func SyntheticBatch(fileSize int64) [][]float64 {
	n := fileSize / 1000
	if n > 100 {
		n = 100
	}
	if n <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(fileSize))
	batch := make([][]float64, n)
	for i := range batch {
		batch[i] = []float64{
			rng.Float64()*1460 + 40, // packet size
			rng.Float64() * 1000,    // inter-arrival time
			float64(rng.Intn(255)),  // protocol type
			rng.Float64() * 100,     // header length
			float64(rng.Intn(2)),    // error flag
			rng.Float64() * 10,      // jitter estimate
			float64(i),              // packet sequence
			rng.Float64(),           // quality score
		}
	}
	return batch
}

// StructuralExtractor derives per-message vectors from decoded framing
// headers, carrying per-flow context (previous sequence number, previous
// packet index, activity count) across the scan. Like the protocol
// detector's flow state, it is scoped to one packet stream.
type StructuralExtractor struct {
	maxPayload float64
	lastSeq    map[uint16]uint16
	lastIndex  map[uint16]int
	activity   map[uint16]int
}

func NewStructuralExtractor(maxPayloadBytes int) *StructuralExtractor {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = 9600
	}
	return &StructuralExtractor{
		maxPayload: float64(maxPayloadBytes),
		lastSeq:    make(map[uint16]uint16),
		lastIndex:  make(map[uint16]int),
		activity:   make(map[uint16]int),
	}
}

// FromMessage produces the structural vector for one decoded header at
// its packet index within the stream.
func (e *StructuralExtractor) FromMessage(h ecpri.Header, packetIndex int) []float64 {
	flow := h.PCID

	seqDelta := 0.0
	indexDelta := 0.0
	if last, seen := e.lastSeq[flow]; seen {
		// 0 for contiguous sequence numbers, positive for gaps/reorders.
		seqDelta = float64((int(h.SeqID) - int(last) - 1 + 65536) % 65536)
		indexDelta = float64(packetIndex - e.lastIndex[flow])
	}
	e.lastSeq[flow] = h.SeqID
	e.lastIndex[flow] = packetIndex
	e.activity[flow]++

	return []float64{
		float64(h.PayloadSize),
		float64(h.Type),
		seqDelta,
		indicator(h.Concatenated),
		float64(h.Revision),
		indexDelta,
		float64(e.activity[flow]),
		float64(h.PayloadSize) / e.maxPayload,
	}
}

// Reset clears flow context for a new stream.
func (e *StructuralExtractor) Reset() {
	e.lastSeq = make(map[uint16]uint16)
	e.lastIndex = make(map[uint16]int)
	e.activity = make(map[uint16]int)
}
