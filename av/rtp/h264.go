package rtp

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/limits"
)

// H.264 NAL unit types (RFC 6184).
const (
	h264NALUIDR   = 5
	h264NALUSPS   = 7
	h264NALUPPS   = 8
	h264NALUAUD   = 9
	h264NALUSTAPA = 24
	h264NALUFUA   = 28
)

// H264Packetizer packetizes H.264 access units according to RFC 6184
// (packetization-mode=1: single NAL, STAP-A and FU-A).
type H264Packetizer struct {
	packetizer
	sps []byte
	pps []byte
}

// NewH264Packetizer creates an H.264 packetizer producing packets of at most mtu bytes.
func NewH264Packetizer(mtu int) *H264Packetizer {
	return &H264Packetizer{
		packetizer: newPacketizer(MediaVideo, PayloadTypeVideo, VideoClockRate, mtu),
	}
}

// Codec returns CodecH264.
func (p *H264Packetizer) Codec() VideoCodec {
	return CodecH264
}

// Configure stores the SPS and PPS sent ahead of every key frame. vps is ignored.
func (p *H264Packetizer) Configure(sps, pps, vps []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sps = cloneParameterSet(sps)
	p.pps = cloneParameterSet(pps)
}

// Packetize splits one access unit into RTP frames.
func (p *H264Packetizer) Packetize(sample Sample, sink FrameSink) {
	if sample.Config || limits.ValidateSample(sample.Data) != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sps) == 0 || len(p.pps) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "H264Packetizer.Packetize",
		}).Debug("Parameter sets not configured, dropping sample")
		return
	}

	nalus := make([][]byte, 0, 4)
	keyFrame := sample.KeyFrame
	hasParams := false
	for _, nalu := range splitNALUs(sample.Data) {
		switch nalu[0] & 0x1F {
		case h264NALUAUD:
			continue
		case h264NALUIDR:
			keyFrame = true
		case h264NALUSPS:
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

// writeParameterSets sends SPS and PPS in one STAP-A, or as two single NAL
// packets when the aggregate would not fit.
func (p *H264Packetizer) writeParameterSets(sink FrameSink, ts uint32) {
	size := 1 + 2 + len(p.sps) + 2 + len(p.pps)
	if size > p.maxPayload() {
		p.writeNALU(sink, p.sps, ts, false)
		p.writeNALU(sink, p.pps, ts, false)
		return
	}

	nri := p.sps[0] & 0x60
	if p.pps[0]&0x60 > nri {
		nri = p.pps[0] & 0x60
	}
	payload := make([]byte, 0, size)
	payload = append(payload, nri|h264NALUSTAPA)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(p.sps)))
	payload = append(payload, p.sps...)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(p.pps)))
	payload = append(payload, p.pps...)
	p.emit(sink, payload, ts, false)
}

// writeNALU sends a NAL unit as a single packet or as FU-A fragments.
func (p *H264Packetizer) writeNALU(sink FrameSink, nalu []byte, ts uint32, last bool) {
	budget := p.maxPayload()
	if len(nalu) <= budget {
		p.emit(sink, nalu, ts, last)
		return
	}

	indicator := nalu[0]&0xE0 | h264NALUFUA
	naluType := nalu[0] & 0x1F
	data := nalu[1:]
	chunk := budget - 2

	for offset := 0; offset < len(data); offset += chunk {
		end := offset + chunk
		if end > len(data) {
			end = len(data)
		}
		header := naluType
		if offset == 0 {
			header |= 0x80
		}
		final := end == len(data)
		if final {
			header |= 0x40
		}

		payload := make([]byte, 0, 2+end-offset)
		payload = append(payload, indicator, header)
		payload = append(payload, data[offset:end]...)
		p.emit(sink, payload, ts, last && final)
	}
}
