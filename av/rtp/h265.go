package rtp

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/limits"
)

// H.265 NAL unit types (RFC 7798).
const (
	h265NALUIRAPFirst = 16
	h265NALUIRAPLast  = 21
	h265NALUVPS       = 32
	h265NALUSPS       = 33
	h265NALUPPS       = 34
	h265NALUAUD       = 35
	h265NALUAP        = 48
	h265NALUFU        = 49
)

func h265NALUType(nalu []byte) byte {
	return (nalu[0] >> 1) & 0x3F
}

// H265Packetizer packetizes H.265 access units according to RFC 7798
// (single NAL, aggregation packets and fragmentation units).
type H265Packetizer struct {
	packetizer
	vps []byte
	sps []byte
	pps []byte
}

// NewH265Packetizer creates an H.265 packetizer producing packets of at most mtu bytes.
func NewH265Packetizer(mtu int) *H265Packetizer {
	return &H265Packetizer{
		packetizer: newPacketizer(MediaVideo, PayloadTypeVideo, VideoClockRate, mtu),
	}
}

// Codec returns CodecH265.
func (p *H265Packetizer) Codec() VideoCodec {
	return CodecH265
}

// Configure stores the VPS, SPS and PPS sent ahead of every key frame.
func (p *H265Packetizer) Configure(sps, pps, vps []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vps = cloneParameterSet(vps)
	p.sps = cloneParameterSet(sps)
	p.pps = cloneParameterSet(pps)
}

// Packetize splits one access unit into RTP frames.
func (p *H265Packetizer) Packetize(sample Sample, sink FrameSink) {
	if sample.Config || limits.ValidateSample(sample.Data) != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.vps) == 0 || len(p.sps) == 0 || len(p.pps) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "H265Packetizer.Packetize",
		}).Debug("Parameter sets not configured, dropping sample")
		return
	}

	nalus := make([][]byte, 0, 4)
	keyFrame := sample.KeyFrame
	hasParams := false
	for _, nalu := range splitNALUs(sample.Data) {
		if len(nalu) < 2 {
			continue
		}
		switch typ := h265NALUType(nalu); {
		case typ == h265NALUAUD:
			continue
		case typ >= h265NALUIRAPFirst && typ <= h265NALUIRAPLast:
			keyFrame = true
		case typ == h265NALUVPS:
			hasParams = true
		}
		nalus = append(nalus, nalu)
	}
	if len(nalus) == 0 {
		return
	}

	ts := p.rtpTimestamp(sample.TimestampUs)
	if keyFrame && !hasParams {
		p.writeParameterSets(sink, ts)
	}
	for i, nalu := range nalus {
		p.writeNALU(sink, nalu, ts, i == len(nalus)-1)
	}
}

// writeParameterSets sends VPS, SPS and PPS in one aggregation packet, or as
// single NAL packets when the aggregate would not fit.
func (p *H265Packetizer) writeParameterSets(sink FrameSink, ts uint32) {
	sets := [][]byte{p.vps, p.sps, p.pps}
	size := 2
	for _, set := range sets {
		size += 2 + len(set)
	}
	if size > p.maxPayload() {
		for _, set := range sets {
			p.writeNALU(sink, set, ts, false)
		}
		return
	}

	payload := make([]byte, 0, size)
	payload = append(payload, h265NALUAP<<1, 0x01)
	for _, set := range sets {
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(set)))
		payload = append(payload, set...)
	}
	p.emit(sink, payload, ts, false)
}

// writeNALU sends a NAL unit as a single packet or as FU fragments.
func (p *H265Packetizer) writeNALU(sink FrameSink, nalu []byte, ts uint32, last bool) {
	budget := p.maxPayload()
	if len(nalu) <= budget {
		p.emit(sink, nalu, ts, last)
		return
	}

	header0 := nalu[0]&0x81 | h265NALUFU<<1
	header1 := nalu[1]
	naluType := h265NALUType(nalu)
	data := nalu[2:]
	chunk := budget - 3

	for offset := 0; offset < len(data); offset += chunk {
		end := offset + chunk
		if end > len(data) {
			end = len(data)
		}
		fuHeader := naluType
		if offset == 0 {
			fuHeader |= 0x80
		}
		final := end == len(data)
		if final {
			fuHeader |= 0x40
		}

		payload := make([]byte, 0, 3+end-offset)
		payload = append(payload, header0, header1, fuHeader)
		payload = append(payload, data[offset:end]...)
		p.emit(sink, payload, ts, last && final)
	}
}
