package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"l1sentry/pkg/analyzer"
	"l1sentry/pkg/ecpri"
	"l1sentry/pkg/features"
)

// DefaultChunkPackets bounds how many packets are read before the
// accumulated batch is handed off, so multi-GB captures never sit in
// memory whole.
const DefaultChunkPackets = 10000

var (
	ingestPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "l1sentry",
		Subsystem: "ingest",
		Name:      "packets_total",
		Help:      "Packets read from captures.",
	})
	ingestChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "l1sentry",
		Subsystem: "ingest",
		Name:      "chunks_total",
		Help:      "Capture chunks handed to the analyzer.",
	})
	ingestSynthetic = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "l1sentry",
		Subsystem: "ingest",
		Name:      "synthetic_fallbacks_total",
		Help:      "Captures that decoded no framing messages and fell back to synthetic features.",
	})
)

func init() {
	_ = prometheus.Register(ingestPackets)
	_ = prometheus.Register(ingestChunks)
	_ = prometheus.Register(ingestSynthetic)
}

// ScannerConfig sizes a capture scan.
type ScannerConfig struct {
	ChunkPackets      int
	MaxPayloadBytes   int
	SequenceWidthBits int
}

func (c ScannerConfig) withDefaults() ScannerConfig {
	if c.ChunkPackets <= 0 {
		c.ChunkPackets = DefaultChunkPackets
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = analyzer.DefaultOversizeBytes
	}
	if c.SequenceWidthBits <= 0 || c.SequenceWidthBits > 16 {
		c.SequenceWidthBits = analyzer.DefaultSeqWidthBits
	}
	return c
}

// PacketChunk is one bounded slice of a capture: a structural sample per
// decoded message plus the protocol anomalies raised inside the chunk.
// Synthetic marks the fallback batch emitted when nothing in the capture
// decoded.
type PacketChunk struct {
	Index     int
	Batch     analyzer.Batch
	Anomalies []ecpri.Anomaly
	Synthetic bool
}

// ChunkFunc consumes one chunk; returning an error stops the scan.
type ChunkFunc func(chunk PacketChunk) error

// ScanResult summarizes one capture pass.
type ScanResult struct {
	Source            string
	Packets           int
	Messages          int
	ProtocolAnomalies int
	Synthetic         bool
	Stats             ecpri.Stats
}

// PCAPScanner reads capture files chunk by chunk, feeding decoded
// framing messages to the protocol rule detector and the structural
// feature extractor. Sequence state spans chunk boundaries; it belongs
// to the scan, not the chunk.
type PCAPScanner struct {
	cfg ScannerConfig
}

func NewPCAPScanner(cfg ScannerConfig) *PCAPScanner {
	return &PCAPScanner{cfg: cfg.withDefaults()}
}

// ScanFile scans the capture at path. The batch source is the base name.
func (s *PCAPScanner) ScanFile(path string, fn ChunkFunc) (*ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat capture: %w", err)
	}
	return s.Scan(f, filepath.Base(path), info.Size(), fn)
}

// Scan reads every packet from r, invoking fn once per filled chunk. A
// capture that decodes zero framing messages produces one synthetic
// chunk sized from sizeHint instead, keeping the downstream pipeline
// shape intact for opaque captures.
func (s *PCAPScanner) Scan(r io.ReadSeeker, source string, sizeHint int64, fn ChunkFunc) (*ScanResult, error) {
	src, linkType, err := openPacketSource(r)
	if err != nil {
		return nil, fmt.Errorf("read capture %s: %w", source, err)
	}

	packetSource := gopacket.NewPacketSource(src, linkType)
	packetSource.DecodeOptions.Lazy = true
	packetSource.DecodeOptions.NoCopy = true

	detector := ecpri.NewDetector(s.cfg.MaxPayloadBytes, s.cfg.SequenceWidthBits)
	extractor := features.NewStructuralExtractor(s.cfg.MaxPayloadBytes)

	result := &ScanResult{Source: source}
	chunk := PacketChunk{Batch: analyzer.Batch{Source: source}}

	flush := func() error {
		if len(chunk.Batch.Samples) == 0 && len(chunk.Anomalies) == 0 {
			return nil
		}
		ingestChunks.Inc()
		log.WithFields(logrus.Fields{
			"source":    source,
			"chunk":     chunk.Index,
			"samples":   len(chunk.Batch.Samples),
			"anomalies": len(chunk.Anomalies),
		}).Debug("capture chunk ready")
		if err := fn(chunk); err != nil {
			return err
		}
		chunk = PacketChunk{Index: chunk.Index + 1, Batch: analyzer.Batch{Source: source}}
		return nil
	}

	for {
		packet, err := packetSource.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Truncated or corrupt tail; keep what decoded so far.
			log.WithFields(logrus.Fields{"source": source, "packet": result.Packets}).
				WithError(err).Warn("capture read stopped early")
			break
		}

		idx := result.Packets
		result.Packets++
		ingestPackets.Inc()

		payload, ok := protocolPayload(packet)
		if ok {
			if h, anomalies, parsed := detector.Inspect(idx, payload); parsed {
				result.Messages++
				chunk.Batch.Samples = append(chunk.Batch.Samples, analyzer.Sample{
					Position: idx,
					Vector:   extractor.FromMessage(h, idx),
				})
				if len(anomalies) > 0 {
					chunk.Anomalies = append(chunk.Anomalies, anomalies...)
					result.ProtocolAnomalies += len(anomalies)
				}
			}
		}

		if result.Packets%s.cfg.ChunkPackets == 0 {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	if result.Messages == 0 {
		if synthetic := syntheticChunk(source, sizeHint, chunk.Index); synthetic != nil {
			ingestSynthetic.Inc()
			log.WithFields(logrus.Fields{
				"source":  source,
				"samples": len(synthetic.Batch.Samples),
			}).Info("no framing messages decoded, using synthetic packet features")
			if err := fn(*synthetic); err != nil {
				return result, err
			}
			result.Synthetic = true
		}
	}

	result.Stats = detector.Stats()
	return result, nil
}

// openPacketSource tries classic pcap framing first, then pcapng.
func openPacketSource(r io.ReadSeeker) (gopacket.PacketDataSource, layers.LinkType, error) {
	if reader, err := pcapgo.NewReader(r); err == nil {
		return reader, reader.LinkType(), nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, 0, err
	}
	return ng, ng.LinkType(), nil
}

// protocolPayload picks the bytes handed to the framing detector: the
// UDP payload when one decodes, the inner payload of non-IP ethertypes
// (native fronthaul transport, VLAN-tagged or not), or the raw packet
// for captures without an Ethernet layer. IP traffic that is not UDP is
// never framing, so it contributes packet counts only.
func protocolPayload(packet gopacket.Packet) ([]byte, bool) {
	if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		return udp.Payload, true
	}
	if dot1q, ok := packet.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); ok {
		switch dot1q.Type {
		case layers.EthernetTypeIPv4, layers.EthernetTypeIPv6, layers.EthernetTypeARP:
			return nil, false
		default:
			return dot1q.Payload, true
		}
	}
	if eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		switch eth.EthernetType {
		case layers.EthernetTypeIPv4, layers.EthernetTypeIPv6, layers.EthernetTypeARP:
			return nil, false
		default:
			return eth.Payload, true
		}
	}
	if data := packet.Data(); len(data) > 0 {
		return data, true
	}
	return nil, false
}

func syntheticChunk(source string, sizeHint int64, index int) *PacketChunk {
	vectors := features.SyntheticBatch(sizeHint)
	if len(vectors) == 0 {
		return nil
	}
	batch := analyzer.Batch{Source: source}
	for i, vec := range vectors {
		batch.Samples = append(batch.Samples, analyzer.Sample{Position: i, Vector: vec})
	}
	return &PacketChunk{Index: index, Batch: batch, Synthetic: true}
}
