package av

import (
	"errors"

	"github.com/opd-ai/rtpcast/av/rtp"
)

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Configuration errors. Operations returning them leave the sender unchanged.
var (
	// ErrInvalidArgument indicates an argument outside its valid range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCacheTooSmall indicates a resize below the number of queued frames.
	ErrCacheTooSmall = errors.New("cache smaller than queued frames")

	// ErrTransportNotConfigured indicates Start without a transport.
	ErrTransportNotConfigured = errors.New("transport not configured")

	// ErrInvalidParameterSets indicates a video parameter set combination
	// that maps to no payload format.
	ErrInvalidParameterSets = rtp.ErrInvalidParameterSets
)

// ErrAlreadyRunning indicates the sender is already streaming.
var ErrAlreadyRunning = errors.New("sender is already running")
