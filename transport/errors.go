package transport

import "errors"

// Socket configuration errors
var (
	// ErrInvalidProtocol indicates an unknown transport protocol name
	ErrInvalidProtocol = errors.New("invalid transport protocol")

	// ErrInvalidChannel indicates an interleaved channel id outside 0-255
	ErrInvalidChannel = errors.New("invalid interleaved channel")

	// ErrInvalidPort indicates a port outside 0-65535
	ErrInvalidPort = errors.New("invalid port")

	// ErrBind indicates a local UDP socket could not be bound
	ErrBind = errors.New("failed to bind local socket")
)

// Socket state errors
var (
	// ErrNoDestination indicates SendFrame was called before SetDataStream
	ErrNoDestination = errors.New("no destination set")

	// ErrDestinationSet indicates SetDataStream was called twice
	ErrDestinationSet = errors.New("destination already set")

	// ErrClosed indicates the socket has been closed
	ErrClosed = errors.New("socket closed")

	// ErrFrameTooLarge indicates a frame longer than the interleaved length field allows
	ErrFrameTooLarge = errors.New("frame too large")
)
