package transport

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/av/rtp"
)

// UDPSocket sends each stream from its own local port pair to the matching
// server port pair.
type UDPSocket struct {
	remote PortPairs

	mu     sync.RWMutex
	conns  [2][2]net.PacketConn // [media][rtcp]
	addrs  [2][2]net.Addr
	closed bool
}

// NewUDPSocket binds the four local sockets. A zero local port binds an
// ephemeral port; a zero remote pair reuses the local pair.
//
// Parameters:
//   - local: client port pairs for video and audio
//   - remote: server port pairs for video and audio
//
// Returns:
//   - *UDPSocket: the bound socket
//   - error: ErrInvalidPort, or ErrBind wrapping the listen error
func NewUDPSocket(local, remote PortPairs) (*UDPSocket, error) {
	for _, p := range []Ports{local.Video, local.Audio, remote.Video, remote.Audio} {
		if err := validatePorts(p, 0xFFFF, ErrInvalidPort); err != nil {
			return nil, err
		}
	}
	if remote.Video.IsZero() {
		remote.Video = local.Video
	}
	if remote.Audio.IsZero() {
		remote.Audio = local.Audio
	}

	s := &UDPSocket{remote: remote}
	for _, media := range []rtp.MediaType{rtp.MediaVideo, rtp.MediaAudio} {
		for i, isRTCP := range []bool{false, true} {
			port := local.For(media).For(isRTCP)
			conn, err := net.ListenPacket("udp", ":"+strconv.Itoa(port))
			if err != nil {
				s.closeConns()
				return nil, fmt.Errorf("%w: %s port %d: %w", ErrBind, media, port, err)
			}
			s.conns[media][i] = conn
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPSocket",
		"video_rtp":  s.LocalPorts().Video.RTP,
		"audio_rtp":  s.LocalPorts().Audio.RTP,
		"server_rtp": remote.Video.RTP,
	}).Debug("Bound UDP sockets")

	return s, nil
}

// LocalPorts returns the bound local ports.
func (s *UDPSocket) LocalPorts() PortPairs {
	s.mu.RLock()
	defer s.mu.RUnlock()

	port := func(conn net.PacketConn) int {
		if conn == nil {
			return 0
		}
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.Port
		}
		return 0
	}
	return PortPairs{
		Video: Ports{RTP: port(s.conns[rtp.MediaVideo][0]), RTCP: port(s.conns[rtp.MediaVideo][1])},
		Audio: Ports{RTP: port(s.conns[rtp.MediaAudio][0]), RTCP: port(s.conns[rtp.MediaAudio][1])},
	}
}

// SetDataStream resolves host against the server ports. w is unused.
func (s *UDPSocket) SetDataStream(w io.Writer, host string) error {
	if host == "" {
		return ErrNoDestination
	}

	var addrs [2][2]net.Addr
	for _, media := range []rtp.MediaType{rtp.MediaVideo, rtp.MediaAudio} {
		for i, isRTCP := range []bool{false, true} {
			port := s.remote.For(media).For(isRTCP)
			addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", host, err)
			}
			addrs[media][i] = addr
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.addrs[rtp.MediaVideo][0] != nil {
		return ErrDestinationSet
	}
	s.addrs = addrs
	return nil
}

// SendFrame writes the frame as one datagram on the stream's socket.
func (s *UDPSocket) SendFrame(frame rtp.Frame) error {
	media := frame.Media
	if media != rtp.MediaAudio {
		media = rtp.MediaVideo
	}
	i := 0
	if frame.RTCP {
		i = 1
	}

	s.mu.RLock()
	conn, addr, closed := s.conns[media][i], s.addrs[media][i], s.closed
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if addr == nil {
		return ErrNoDestination
	}

	if _, err := conn.WriteTo(frame.Payload, addr); err != nil {
		return fmt.Errorf("udp write to %s failed: %w", addr, err)
	}
	return nil
}

// Overhead returns 0: UDP adds no framing counted by the sender.
func (s *UDPSocket) Overhead() int {
	return 0
}

// Close closes the four local sockets.
func (s *UDPSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeConnsLocked()
}

func (s *UDPSocket) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.closeConnsLocked()
}

func (s *UDPSocket) closeConnsLocked() error {
	var firstErr error
	for m := range s.conns {
		for i, conn := range s.conns[m] {
			if conn == nil {
				continue
			}
			if err := conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			s.conns[m][i] = nil
		}
	}
	return firstErr
}
