package rtcp

import "errors"

var (
	// ErrClosed indicates Update was called after Close
	ErrClosed = errors.New("sender report generator closed")

	// ErrSendFailed indicates the report could not be written
	ErrSendFailed = errors.New("failed to send sender report")
)
