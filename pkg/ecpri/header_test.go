package ecpri

import (
	"testing"
)

func TestParseHeader(t *testing.T) {
	// revision 1, concatenated, type 2 (real-time control), payload 1024,
	// pc_id 0x0102, seq 0x0304
	raw := []byte{0x1A, 0x04, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04}

	h, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Revision != 1 {
		t.Errorf("Revision = %d, want 1", h.Revision)
	}
	if !h.Concatenated {
		t.Error("Concatenated flag not decoded")
	}
	if h.Type != TypeRealTimeControl {
		t.Errorf("Type = %d, want %d", h.Type, TypeRealTimeControl)
	}
	if h.PayloadSize != 1024 {
		t.Errorf("PayloadSize = %d, want 1024", h.PayloadSize)
	}
	if h.PCID != 0x0102 {
		t.Errorf("PCID = %#04x, want 0x0102", h.PCID)
	}
	if h.SeqID != 0x0304 {
		t.Errorf("SeqID = %#04x, want 0x0304", h.SeqID)
	}
	if h.TotalSize() != 1024+HeaderSize {
		t.Errorf("TotalSize = %d, want %d", h.TotalSize(), 1024+HeaderSize)
	}
}

func TestParseHeader_RoundTrip(t *testing.T) {
	headers := []Header{
		{Revision: 1, Type: TypeIQData, PayloadSize: 100, PCID: 1, SeqID: 0},
		{Revision: 2, Concatenated: true, Type: TypeEventIndication, PayloadSize: 65535, PCID: 65535, SeqID: 65535},
		{Type: TypeRemoteReset, PayloadSize: 0, PCID: 42, SeqID: 7},
	}
	for _, want := range headers {
		raw := AppendHeader(nil, want)
		if len(raw) != HeaderSize {
			t.Fatalf("AppendHeader produced %d bytes", len(raw))
		}
		got, err := ParseHeader(raw)
		if err != nil {
			t.Fatalf("ParseHeader failed: %v", err)
		}
		if got != want {
			t.Errorf("Round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestParseHeader_Short(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		if _, err := ParseHeader(make([]byte, n)); err != ErrShortHeader {
			t.Errorf("ParseHeader(%d bytes) error = %v, want ErrShortHeader", n, err)
		}
	}
	// Exactly 8 bytes is a complete header.
	if _, err := ParseHeader(make([]byte, HeaderSize)); err != nil {
		t.Errorf("ParseHeader(8 bytes) failed: %v", err)
	}
}

func TestMessageTypeNames(t *testing.T) {
	tests := []struct {
		t    MessageType
		want string
	}{
		{TypeIQData, "IQ Data Transfer"},
		{TypeBitSequence, "Bit Sequence"},
		{TypeRealTimeControl, "Real-Time Control Data"},
		{TypeGenericDataTransfer, "Generic Data Transfer"},
		{TypeRemoteMemoryAccess, "Remote Memory Access"},
		{TypeOneWayDelay, "One-Way Delay Measurement"},
		{TypeRemoteReset, "Remote Reset"},
		{TypeEventIndication, "Event Indication"},
		{MessageType(200), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("MessageType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}
