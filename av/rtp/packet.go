// Package rtp provides RTP packetization for the rtpcast delivery engine.
//
// This package turns encoded samples into fully formed RTP packets.
// It uses the pion/rtp library for standards-compliant header marshalling.
//
// Design principles:
// - Packetization never performs I/O; frames are handed to a FrameSink
// - One packetizer per media stream owns its sequence state
// - Malformed or unconfigured input produces zero frames, never an error
package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/limits"
)

// MediaType identifies the logical stream a frame belongs to.
type MediaType uint8

const (
	// MediaVideo is the video stream
	MediaVideo MediaType = iota
	// MediaAudio is the audio stream
	MediaAudio
)

// String returns the media type name.
func (m MediaType) String() string {
	switch m {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	default:
		return fmt.Sprintf("media(%d)", uint8(m))
	}
}

// Clock rates and payload types used by the packetizers.
const (
	VideoClockRate = 90000
	G711ClockRate  = 8000

	PayloadTypePCMU  = 0
	PayloadTypePCMA  = 8
	PayloadTypeVideo = 96
	PayloadTypeAudio = 97
)

// Sample is one encoded access unit handed over by the encoder.
//
// Data is owned by the caller for the duration of the Packetize call only.
type Sample struct {
	Data        []byte
	TimestampUs int64 // capture time, monotonic clock
	KeyFrame    bool
	Config      bool // codec configuration buffer, never packetized
}

// Frame is one RTP or RTCP packet ready for the wire.
//
// Frames are immutable once created: Payload must not be modified after the
// frame has been handed to a FrameSink.
type Frame struct {
	Payload   []byte
	Media     MediaType
	RTCP      bool
	Timestamp uint32 // RTP timestamp, used to pair Sender Reports
}

// Len returns the frame size in bytes.
func (f Frame) Len() int {
	return len(f.Payload)
}

// FrameSink receives frames produced by a Packetizer.
type FrameSink func(Frame)

// Packetizer converts samples of one media stream into RTP frames.
type Packetizer interface {
	// SetSSRC sets the synchronization source embedded in every frame.
	SetSSRC(ssrc uint32)

	// Packetize splits one sample into frames, calling sink once per frame.
	Packetize(sample Sample, sink FrameSink)

	// Reset rewinds the sequence state for a new session.
	Reset()
}

// SSRCProvider generates synchronization source identifiers.
type SSRCProvider interface {
	GenerateSSRC() (uint32, error)
}

// DefaultSSRCProvider draws SSRCs from crypto/rand.
type DefaultSSRCProvider struct{}

// GenerateSSRC returns a random 32-bit SSRC.
func (DefaultSSRCProvider) GenerateSSRC() (uint32, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return 0, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	return binary.BigEndian.Uint32(b), nil
}

// packetizer holds the header state shared by every codec variant.
type packetizer struct {
	mu          sync.Mutex
	media       MediaType
	ssrc        uint32
	seq         uint16
	payloadType uint8
	clockRate   uint32
	mtu         int
}

func newPacketizer(media MediaType, payloadType uint8, clockRate uint32, mtu int) packetizer {
	return packetizer{
		media:       media,
		payloadType: payloadType,
		clockRate:   clockRate,
		mtu:         mtu,
	}
}

// SetSSRC sets the SSRC used for subsequent frames.
func (p *packetizer) SetSSRC(ssrc uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ssrc = ssrc
}

// SSRC returns the current SSRC.
func (p *packetizer) SSRC() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ssrc
}

// Reset restarts the sequence numbering at zero.
func (p *packetizer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq = 0
}

// ClockRate returns the RTP clock rate in Hz.
func (p *packetizer) ClockRate() uint32 {
	return p.clockRate
}

func (p *packetizer) maxPayload() int {
	return limits.MaxPayload(p.mtu)
}

// rtpTimestamp scales a capture time in microseconds to the codec clock.
// Seconds and remainder are scaled separately so large uptimes do not overflow.
func (p *packetizer) rtpTimestamp(us int64) uint32 {
	if us < 0 {
		us = 0
	}
	secs := uint64(us) / 1_000_000
	rem := uint64(us) % 1_000_000
	clock := uint64(p.clockRate)
	return uint32(secs*clock + rem*clock/1_000_000)
}

// emit marshals one RTP packet and hands it to sink. Caller holds p.mu.
func (p *packetizer) emit(sink FrameSink, payload []byte, timestamp uint32, marker bool) {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.seq,
			Timestamp:      timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "packetizer.emit",
			"media":    p.media.String(),
			"error":    err.Error(),
		}).Error("Failed to marshal RTP packet")
		return
	}

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function":  "packetizer.emit",
			"media":     p.media.String(),
			"sequence":  p.seq,
			"timestamp": timestamp,
			"marker":    marker,
			"size":      len(data),
		}).Trace("Created RTP packet")
	}

	p.seq++
	sink(Frame{
		Payload:   data,
		Media:     p.media,
		Timestamp: timestamp,
	})
}
