package rtp

import "errors"

// Packetizer construction errors.
var (
	// ErrInvalidParameterSets indicates a parameter set combination that maps
	// to no video payload format (VPS without PPS).
	ErrInvalidParameterSets = errors.New("invalid parameter set combination")

	// ErrInvalidSampleRate indicates a non-positive audio sample rate.
	ErrInvalidSampleRate = errors.New("invalid sample rate")

	// ErrUnsupportedCodec indicates a codec name with no packetizer.
	ErrUnsupportedCodec = errors.New("unsupported codec")
)
