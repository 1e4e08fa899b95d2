package rtp

import (
	"encoding/binary"

	"github.com/nareix/joy4/codec/aacparser"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/limits"
)

const (
	// aacSamplesPerAU is the number of PCM samples coded in one AAC access unit
	aacSamplesPerAU = 1024

	// aacMaxAUSize is the largest AU the 13-bit AU-size field can describe
	aacMaxAUSize = 1<<13 - 1

	// aacAUHeaderSize is one 16-bit AU header (13-bit size, 3-bit index)
	aacAUHeaderSize = 2
)

// AACPacketizer packetizes AAC access units in RFC 3640 AAC-hbr mode.
// ADTS headers are stripped; several complete AUs share a packet when they fit.
type AACPacketizer struct {
	packetizer
	sampleRate int
}

// NewAACPacketizer creates an AAC packetizer clocked at sampleRate.
func NewAACPacketizer(sampleRate, mtu int) *AACPacketizer {
	return &AACPacketizer{
		packetizer: newPacketizer(MediaAudio, PayloadTypeAudio, uint32(sampleRate), mtu),
		sampleRate: sampleRate,
	}
}

// Codec returns CodecAAC.
func (p *AACPacketizer) Codec() AudioCodec {
	return CodecAAC
}

// Packetize splits one AAC buffer (raw AU or one or more ADTS frames) into RTP frames.
func (p *AACPacketizer) Packetize(sample Sample, sink FrameSink) {
	if sample.Config || limits.ValidateSample(sample.Data) != nil || p.sampleRate <= 0 {
		return
	}

	aus := splitADTS(sample.Data)
	if len(aus) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.rtpTimestamp(sample.TimestampUs)
	budget := p.maxPayload() - aacAUHeaderSize

	for i := 0; i < len(aus); {
		j, size := i, 0
		for j < len(aus) && len(aus[j]) <= aacMaxAUSize && size+aacAUHeaderSize+len(aus[j]) <= budget {
			size += aacAUHeaderSize + len(aus[j])
			j++
		}
		auTimestamp := ts + uint32(i*aacSamplesPerAU)
		if j == i {
			p.writeFragmented(sink, aus[i], auTimestamp)
			i++
			continue
		}
		p.writeAggregate(sink, aus[i:j], auTimestamp)
		i = j
	}
}

// writeAggregate sends complete AUs in one packet.
func (p *AACPacketizer) writeAggregate(sink FrameSink, aus [][]byte, ts uint32) {
	size := aacAUHeaderSize
	for _, au := range aus {
		size += aacAUHeaderSize + len(au)
	}

	payload := make([]byte, 0, size)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(aus)*16))
	for _, au := range aus {
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(au))<<3)
	}
	for _, au := range aus {
		payload = append(payload, au...)
	}
	p.emit(sink, payload, ts, true)
}

// writeFragmented spreads one oversized AU over several packets. Every
// fragment carries the full AU size; the marker is set on the last one.
func (p *AACPacketizer) writeFragmented(sink FrameSink, au []byte, ts uint32) {
	if len(au) > aacMaxAUSize {
		logrus.WithFields(logrus.Fields{
			"function": "AACPacketizer.writeFragmented",
			"au_size":  len(au),
			"max_size": aacMaxAUSize,
		}).Warn("AAC access unit too large, dropping")
		return
	}

	chunk := p.maxPayload() - 2*aacAUHeaderSize
	for offset := 0; offset < len(au); offset += chunk {
		end := offset + chunk
		if end > len(au) {
			end = len(au)
		}
		payload := make([]byte, 0, 2*aacAUHeaderSize+end-offset)
		payload = binary.BigEndian.AppendUint16(payload, 16)
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(au))<<3)
		payload = append(payload, au[offset:end]...)
		p.emit(sink, payload, ts, end == len(au))
	}
}

// splitADTS returns the raw access units of an ADTS stream, or the buffer
// itself when it carries no ADTS sync word.
func splitADTS(data []byte) [][]byte {
	if !isADTS(data) {
		return [][]byte{data}
	}

	var aus [][]byte
	for isADTS(data) {
		_, hdrlen, framelen, _, err := aacparser.ParseADTSHeader(data)
		if err != nil || framelen <= hdrlen || framelen > len(data) {
			break
		}
		aus = append(aus, data[hdrlen:framelen])
		data = data[framelen:]
	}
	return aus
}

func isADTS(data []byte) bool {
	return len(data) >= 7 && data[0] == 0xFF && data[1]&0xF0 == 0xF0
}
