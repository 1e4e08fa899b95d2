package rtp

import (
	"encoding/binary"

	"github.com/opd-ai/rtpcast/limits"
)

// AV1 OBU types relevant to RTP transport.
const (
	obuSequenceHeader     = 1
	obuTemporalDelimiter  = 2
	obuTileList           = 8
	obuPadding            = 15
	obuHasSizeField  byte = 0x02
	obuHasExtension  byte = 0x04
)

// Aggregation header bits.
const (
	av1Z byte = 0x80 // first element continues an OBU from the previous packet
	av1Y byte = 0x40 // last element continues in the next packet
	av1N byte = 0x08 // first packet of a coded video sequence
)

// AV1Packetizer packetizes AV1 temporal units following the AV1 RTP payload
// format. Parameter sets are never prepended: the sequence header travels
// in-band as an OBU.
type AV1Packetizer struct {
	packetizer
	configured bool
}

// NewAV1Packetizer creates an AV1 packetizer producing packets of at most mtu bytes.
func NewAV1Packetizer(mtu int) *AV1Packetizer {
	return &AV1Packetizer{
		packetizer: newPacketizer(MediaVideo, PayloadTypeVideo, VideoClockRate, mtu),
	}
}

// Codec returns CodecAV1.
func (p *AV1Packetizer) Codec() VideoCodec {
	return CodecAV1
}

// Configure marks the packetizer ready. The sequence header is carried in-band.
func (p *AV1Packetizer) Configure(sps, pps, vps []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured = true
}

// Packetize splits one temporal unit into RTP frames.
func (p *AV1Packetizer) Packetize(sample Sample, sink FrameSink) {
	if sample.Config || limits.ValidateSample(sample.Data) != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.configured {
		return
	}

	elements, hasSequenceHeader := parseOBUs(sample.Data)
	if len(elements) == 0 {
		return
	}

	packets := p.aggregate(elements)
	if sample.KeyFrame || hasSequenceHeader {
		packets[0][0] |= av1N
	}

	ts := p.rtpTimestamp(sample.TimestampUs)
	for i, payload := range packets {
		p.emit(sink, payload, ts, i == len(packets)-1)
	}
}

// aggregate packs OBU elements into payloads, each element preceded by its
// LEB128 length, fragmenting elements that cross a packet boundary.
func (p *AV1Packetizer) aggregate(elements [][]byte) [][]byte {
	budget := p.maxPayload()
	packets := make([][]byte, 0, 2)
	current := make([]byte, 1, budget)

	flush := func(next byte) {
		packets = append(packets, current)
		current = make([]byte, 1, budget)
		current[0] = next
	}

	for _, element := range elements {
		rest := element
		for len(rest) > 0 {
			space := budget - len(current)
			if uvarintLen(len(rest))+len(rest) <= space {
				current = binary.AppendUvarint(current, uint64(len(rest)))
				current = append(current, rest...)
				break
			}
			n := space - uvarintLen(space)
			if n <= 0 {
				flush(0)
				continue
			}
			current = binary.AppendUvarint(current, uint64(n))
			current = append(current, rest[:n]...)
			rest = rest[n:]
			current[0] |= av1Y
			flush(av1Z)
		}
	}
	if len(current) > 1 {
		packets = append(packets, current)
	}
	return packets
}

// av1MaxLEB128Len is the longest leb128() field AV1 allows.
const av1MaxLEB128Len = 8

// parseOBUs splits a temporal unit into RTP elements. Temporal delimiters,
// tile lists and padding are dropped and obu_has_size_field is cleared.
// Parsing stops at the first truncated OBU.
func parseOBUs(data []byte) ([][]byte, bool) {
	var elements [][]byte
	hasSequenceHeader := false

	for len(data) > 0 {
		header := data[0]
		obuType := (header >> 3) & 0x0F
		headerLen := 1
		if header&obuHasExtension != 0 {
			headerLen = 2
		}
		if len(data) < headerLen {
			break
		}

		size := uint64(len(data) - headerLen)
		sizeLen := 0
		if header&obuHasSizeField != 0 {
			var n int
			size, n = binary.Uvarint(data[headerLen:])
			if n <= 0 || n > av1MaxLEB128Len {
				break
			}
			sizeLen = n
		}
		if size > uint64(len(data)-headerLen-sizeLen) {
			break
		}
		end := headerLen + sizeLen + int(size)
		payload := data[headerLen+sizeLen : end]

		switch obuType {
		case obuTemporalDelimiter, obuTileList, obuPadding:
		default:
			if obuType == obuSequenceHeader {
				hasSequenceHeader = true
			}
			element := make([]byte, 0, headerLen+len(payload))
			element = append(element, header&^obuHasSizeField)
			if headerLen == 2 {
				element = append(element, data[1])
			}
			element = append(element, payload...)
			elements = append(elements, element)
		}
		data = data[end:]
	}
	return elements, hasSequenceHeader
}

func uvarintLen(v int) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
