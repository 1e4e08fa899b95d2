package rtp

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/limits"
)

// VideoCodec identifies a video payload format.
type VideoCodec int

const (
	CodecH264 VideoCodec = iota
	CodecH265
	CodecAV1
)

// String returns the codec name.
func (c VideoCodec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	case CodecAV1:
		return "AV1"
	default:
		return fmt.Sprintf("VideoCodec(%d)", int(c))
	}
}

// AudioCodec identifies an audio payload format.
type AudioCodec int

const (
	CodecAAC AudioCodec = iota
	CodecG711U
	CodecG711A
)

// String returns the codec name.
func (c AudioCodec) String() string {
	switch c {
	case CodecAAC:
		return "AAC"
	case CodecG711U:
		return "PCMU"
	case CodecG711A:
		return "PCMA"
	default:
		return fmt.Sprintf("AudioCodec(%d)", int(c))
	}
}

// IsG711 reports whether the codec uses G.711 framing.
func (c AudioCodec) IsG711() bool {
	return c == CodecG711U || c == CodecG711A
}

// ParseAudioCodec maps a configuration name to an AudioCodec.
func ParseAudioCodec(name string) (AudioCodec, error) {
	switch strings.ToLower(name) {
	case "aac", "":
		return CodecAAC, nil
	case "pcmu", "g711u", "g711-ulaw", "ulaw":
		return CodecG711U, nil
	case "pcma", "g711a", "g711-alaw", "alaw":
		return CodecG711A, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCodec, name)
	}
}

// VideoPacketizer is a Packetizer that takes codec parameter sets.
type VideoPacketizer interface {
	Packetizer
	Configure(sps, pps, vps []byte)
	Codec() VideoCodec
}

// AudioPacketizer is a Packetizer for one audio codec.
type AudioPacketizer interface {
	Packetizer
	Codec() AudioCodec
}

// SelectVideoCodec picks the payload format from the parameter sets present:
// no PPS and no VPS is AV1, PPS alone is H.264, PPS and VPS is H.265.
// A VPS without a PPS matches no format and is rejected.
func SelectVideoCodec(pps, vps []byte) (VideoCodec, error) {
	switch {
	case len(pps) == 0 && len(vps) == 0:
		return CodecAV1, nil
	case len(vps) == 0:
		return CodecH264, nil
	case len(pps) > 0:
		return CodecH265, nil
	default:
		return 0, fmt.Errorf("%w: vps present without pps", ErrInvalidParameterSets)
	}
}

// NewVideoPacketizer selects and configures a video packetizer.
//
// Parameters:
//   - sps: sequence parameter set (AV1: sequence header OBU, may be empty)
//   - pps: picture parameter set, nil for AV1
//   - vps: video parameter set, only for H.265
//   - mtu: largest RTP packet to produce
//
// Returns:
//   - VideoPacketizer: configured packetizer
//   - error: ErrInvalidParameterSets or an MTU validation error
func NewVideoPacketizer(sps, pps, vps []byte, mtu int) (VideoPacketizer, error) {
	if err := limits.ValidateMTU(mtu); err != nil {
		return nil, err
	}

	codec, err := SelectVideoCodec(pps, vps)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewVideoPacketizer",
			"sps_size": len(sps),
			"pps_size": len(pps),
			"vps_size": len(vps),
		}).Warn("Rejecting parameter set combination")
		return nil, err
	}

	var p VideoPacketizer
	switch codec {
	case CodecH264:
		p = NewH264Packetizer(mtu)
	case CodecH265:
		p = NewH265Packetizer(mtu)
	default:
		p = NewAV1Packetizer(mtu)
	}
	p.Configure(sps, pps, vps)

	logrus.WithFields(logrus.Fields{
		"function": "NewVideoPacketizer",
		"codec":    codec.String(),
		"mtu":      mtu,
	}).Info("Video packetizer created")

	return p, nil
}

// NewAudioPacketizer creates the packetizer for an audio codec: G.711 framing
// for the G.711 laws, AAC framing otherwise.
func NewAudioPacketizer(codec AudioCodec, sampleRate, mtu int) (AudioPacketizer, error) {
	if err := limits.ValidateMTU(mtu); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}

	var p AudioPacketizer
	if codec.IsG711() {
		p = NewG711Packetizer(codec, sampleRate, mtu)
	} else {
		p = NewAACPacketizer(sampleRate, mtu)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewAudioPacketizer",
		"codec":       p.Codec().String(),
		"sample_rate": sampleRate,
		"mtu":         mtu,
	}).Info("Audio packetizer created")

	return p, nil
}
