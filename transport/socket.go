package transport

import (
	"fmt"
	"io"
	"strings"

	"github.com/opd-ai/rtpcast/av/rtp"
)

// Socket delivers RTP and RTCP frames to one destination.
type Socket interface {
	// SetDataStream sets the destination: the RTSP connection for TCP
	// interleaving, the server host for UDP. It may be called once.
	SetDataStream(w io.Writer, host string) error

	// SendFrame writes one frame. Errors are fatal for the session.
	SendFrame(frame rtp.Frame) error

	// Overhead returns the framing bytes added to every frame on the wire.
	Overhead() int

	// Close releases the socket. It is safe to call more than once.
	Close() error
}

// Protocol selects how frames reach the server.
type Protocol int

const (
	// ProtocolUDP sends each frame as a datagram on a per-stream port
	ProtocolUDP Protocol = iota
	// ProtocolTCP interleaves frames on the RTSP connection
	ProtocolTCP
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "udp"
	case ProtocolTCP:
		return "tcp"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// ParseProtocol maps "udp" or "tcp" (any case) to a Protocol.
func ParseProtocol(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "udp":
		return ProtocolUDP, nil
	case "tcp", "interleaved":
		return ProtocolTCP, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidProtocol, name)
	}
}

// Ports is an RTP/RTCP pair: UDP port numbers, or interleaved channel ids in
// TCP mode.
type Ports struct {
	RTP  int
	RTCP int
}

// For returns the RTP or RTCP member of the pair.
func (p Ports) For(rtcp bool) int {
	if rtcp {
		return p.RTCP
	}
	return p.RTP
}

// IsZero reports whether neither member is set.
func (p Ports) IsZero() bool {
	return p.RTP == 0 && p.RTCP == 0
}

// PortPairs holds the port pair of each media stream.
type PortPairs struct {
	Video Ports
	Audio Ports
}

// For returns the pair of the given media stream.
func (p PortPairs) For(media rtp.MediaType) Ports {
	if media == rtp.MediaAudio {
		return p.Audio
	}
	return p.Video
}

func validatePorts(p Ports, upper int, sentinel error) error {
	for _, v := range []int{p.RTP, p.RTCP} {
		if v < 0 || v > upper {
			return fmt.Errorf("%w: %d", sentinel, v)
		}
	}
	return nil
}
