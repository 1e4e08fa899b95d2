package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/av/rtp"
	"github.com/opd-ai/rtpcast/limits"
)

// DefaultWriteTimeout bounds a single interleaved write on a net.Conn.
const DefaultWriteTimeout = 5 * time.Second

const interleavedMagic = '$'

// InterleavedSocket multiplexes RTP and RTCP on the RTSP connection.
type InterleavedSocket struct {
	channels     PortPairs
	writeTimeout time.Duration

	mu     sync.Mutex // guards w and closed
	w      io.Writer
	closed bool

	writeMu sync.Mutex // serializes writes so frames never interleave
	buf     []byte
}

// NewInterleavedSocket creates a TCP interleaved socket using the given
// channel pairs (RTSP "interleaved=" values).
func NewInterleavedSocket(video, audio Ports) (*InterleavedSocket, error) {
	for _, p := range []Ports{video, audio} {
		if err := validatePorts(p, 0xFF, ErrInvalidChannel); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewInterleavedSocket",
		"video_channel": video.RTP,
		"audio_channel": audio.RTP,
	}).Debug("Created interleaved socket")

	return &InterleavedSocket{
		channels:     PortPairs{Video: video, Audio: audio},
		writeTimeout: DefaultWriteTimeout,
		buf:          make([]byte, 0, limits.InterleavedHeaderSize+limits.DefaultMTU),
	}, nil
}

// SetWriteTimeout changes the per-write deadline used on a net.Conn.
// A non-positive value disables deadlines.
func (s *InterleavedSocket) SetWriteTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeTimeout = d
}

// SetDataStream sets the RTSP connection frames are written to. host is unused.
func (s *InterleavedSocket) SetDataStream(w io.Writer, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if w == nil {
		return ErrNoDestination
	}
	if s.w != nil {
		return ErrDestinationSet
	}
	s.w = w
	return nil
}

// SendFrame writes the 4-byte interleaved header and the frame in one Write.
func (s *InterleavedSocket) SendFrame(frame rtp.Frame) error {
	s.mu.Lock()
	w, closed, timeout := s.w, s.closed, s.writeTimeout
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if w == nil {
		return ErrNoDestination
	}
	if frame.Len() > limits.MaxInterleavedPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, frame.Len())
	}

	channel := s.channels.For(frame.Media).For(frame.RTCP)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.buf = append(s.buf[:0], interleavedMagic, byte(channel))
	s.buf = binary.BigEndian.AppendUint16(s.buf, uint16(frame.Len()))
	s.buf = append(s.buf, frame.Payload...)

	if conn, ok := w.(net.Conn); ok && timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	// Close may have run while this write waited for writeMu. Checking after
	// the deadline is set lets an expiry from Close override it.
	s.mu.Lock()
	closed = s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := w.Write(s.buf); err != nil {
		return fmt.Errorf("interleaved write on channel %d failed: %w", channel, err)
	}
	return nil
}

// Overhead returns the interleaved header size.
func (s *InterleavedSocket) Overhead() int {
	return limits.InterleavedHeaderSize
}

// Close marks the socket closed. The RTSP connection stays open: a write
// blocked on it is released by expiring its deadline, and once that write has
// returned the deadline is cleared so the owner can keep using the connection.
func (s *InterleavedSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w := s.w
	s.mu.Unlock()

	conn, ok := w.(net.Conn)
	if !ok {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to clear write deadline: %w", err)
	}
	return nil
}
