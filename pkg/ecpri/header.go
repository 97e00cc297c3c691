// Package ecpri implements parsing and rule-based anomaly detection for
// eCPRI fronthaul framing: the fixed 8-byte common header, per-flow
// sequence continuity, and payload size bounds.
package ecpri

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed eCPRI common header length in bytes.
const HeaderSize = 8

// MessageType is the 3-bit eCPRI message type field.
type MessageType uint8

const (
	TypeIQData MessageType = iota
	TypeBitSequence
	TypeRealTimeControl
	TypeGenericDataTransfer
	TypeRemoteMemoryAccess
	TypeOneWayDelay
	TypeRemoteReset
	TypeEventIndication
)

var messageTypeNames = map[MessageType]string{
	TypeIQData:              "IQ Data Transfer",
	TypeBitSequence:         "Bit Sequence",
	TypeRealTimeControl:     "Real-Time Control Data",
	TypeGenericDataTransfer: "Generic Data Transfer",
	TypeRemoteMemoryAccess:  "Remote Memory Access",
	TypeOneWayDelay:         "One-Way Delay Measurement",
	TypeRemoteReset:         "Remote Reset",
	TypeEventIndication:     "Event Indication",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Header is the decoded eCPRI common header.
//
//	byte 0: revision (bits 7-4), concatenation flag (bit 3), message type (bits 2-0)
//	bytes 1-2: payload size, big-endian
//	byte 3: reserved
//	bytes 4-5: PC/flow identifier, big-endian
//	bytes 6-7: sequence number, big-endian
type Header struct {
	Revision     uint8
	Concatenated bool
	Type         MessageType
	PayloadSize  uint16
	PCID         uint16
	SeqID        uint16
}

// TotalSize is payload plus the fixed header, the on-wire footprint used
// for bandwidth accounting.
func (h Header) TotalSize() int {
	return int(h.PayloadSize) + HeaderSize
}

// ErrShortHeader is returned when a buffer cannot hold the common header.
var ErrShortHeader = fmt.Errorf("ecpri: buffer shorter than %d-byte header", HeaderSize)

// ParseHeader decodes the common header from the front of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Revision:     b[0] >> 4,
		Concatenated: b[0]&0x08 != 0,
		Type:         MessageType(b[0] & 0x07),
		PayloadSize:  binary.BigEndian.Uint16(b[1:3]),
		PCID:         binary.BigEndian.Uint16(b[4:6]),
		SeqID:        binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// AppendHeader encodes h into the 8-byte wire form and appends it to dst.
// Used by tests and traffic generators.
func AppendHeader(dst []byte, h Header) []byte {
	b0 := h.Revision<<4 | uint8(h.Type)&0x07
	if h.Concatenated {
		b0 |= 0x08
	}
	var buf [HeaderSize]byte
	buf[0] = b0
	binary.BigEndian.PutUint16(buf[1:3], h.PayloadSize)
	binary.BigEndian.PutUint16(buf[4:6], h.PCID)
	binary.BigEndian.PutUint16(buf[6:8], h.SeqID)
	return append(dst, buf[:]...)
}
