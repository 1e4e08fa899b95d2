package rtp

import (
	"github.com/opd-ai/rtpcast/limits"
)

// G711Packetizer packetizes G.711 (PCMU or PCMA) audio per RFC 3551.
// Each byte is one sample, so fragments split anywhere are sample aligned.
type G711Packetizer struct {
	packetizer
	codec AudioCodec
}

// NewG711Packetizer creates a G.711 packetizer for CodecG711U or CodecG711A.
func NewG711Packetizer(codec AudioCodec, sampleRate, mtu int) *G711Packetizer {
	payloadType := uint8(PayloadTypePCMU)
	if codec == CodecG711A {
		payloadType = PayloadTypePCMA
	}
	if sampleRate <= 0 {
		sampleRate = G711ClockRate
	}
	return &G711Packetizer{
		packetizer: newPacketizer(MediaAudio, payloadType, uint32(sampleRate), mtu),
		codec:      codec,
	}
}

// Codec returns the configured G.711 law.
func (p *G711Packetizer) Codec() AudioCodec {
	return p.codec
}

// Packetize splits raw G.711 bytes into RTP frames. Each fragment's timestamp
// advances by the number of samples before it.
func (p *G711Packetizer) Packetize(sample Sample, sink FrameSink) {
	if sample.Config || limits.ValidateSample(sample.Data) != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.rtpTimestamp(sample.TimestampUs)
	chunk := p.maxPayload()
	data := sample.Data
	for offset := 0; offset < len(data); offset += chunk {
		end := offset + chunk
		if end > len(data) {
			end = len(data)
		}
		p.emit(sink, data[offset:end], ts+uint32(offset), end == len(data))
	}
}
