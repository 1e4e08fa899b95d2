// Package transport writes RTP and RTCP frames to the network.
//
// # Architecture
//
// Every delivery mode satisfies the Socket interface:
//
//	type Socket interface {
//	    SetDataStream(w io.Writer, host string) error
//	    SendFrame(frame rtp.Frame) error
//	    Overhead() int
//	    Close() error
//	}
//
// The destination is set exactly once per session, before the first frame.
// Frames carry their media type and RTCP flag, so the socket picks the
// channel or port pair without re-parsing packet headers.
//
// # TCP Interleaved
//
// RTP and RTCP share the RTSP control connection (RFC 2326 §10.12). Each frame
// is prefixed with '$', a one-byte channel id and a 16-bit big-endian length,
// and the prefix and payload go out in a single Write:
//
//	sock, err := transport.NewInterleavedSocket(
//	    transport.Ports{RTP: 0, RTCP: 1}, // video
//	    transport.Ports{RTP: 2, RTCP: 3}, // audio
//	)
//	err = sock.SetDataStream(rtspConn, "")
//
// When the writer is a net.Conn every write carries a deadline (5 seconds by
// default). Close does not close the caller's connection; it expires the
// deadline so a blocked write returns.
//
// # UDP
//
// Four local datagram sockets are bound, one per (media, RTP/RTCP) pair, and
// each frame is sent as one datagram to the matching server port:
//
//	sock, err := transport.NewUDPSocket(
//	    transport.PortPairs{Video: transport.Ports{RTP: 5000, RTCP: 5001}, Audio: transport.Ports{RTP: 5002, RTCP: 5003}},
//	    transport.PortPairs{Video: transport.Ports{RTP: 6000, RTCP: 6001}, Audio: transport.Ports{RTP: 6002, RTCP: 6003}},
//	)
//	err = sock.SetDataStream(nil, "media.example.com")
//
// # Errors
//
// Bind failures wrap ErrBind. Sending before a destination is set returns
// ErrNoDestination and sending after Close returns ErrClosed. Write errors are
// wrapped with the failing channel or address and are fatal for the session.
package transport
