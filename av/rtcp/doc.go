// Package rtcp generates RTCP Sender Reports (RFC 3550 §6.4.1) for the
// outgoing video and audio streams.
//
// A SenderReport tracks the cumulative packet and payload octet counts of each
// media stream. The transmit loop feeds it every RTP frame it writes; when a
// stream has not reported yet or its reporting interval has elapsed, the
// generator marshals a report with github.com/pion/rtcp and writes it through
// the same FrameSender as an RTCP frame.
//
//	sr := rtcp.NewSenderReport(rtcp.DefaultInterval)
//	sr.SetSSRC(videoSSRC, audioSSRC)
//	n, err := sr.Update(frame, socket)
//
// The generator is written by a single goroutine; Reset and Close are safe to
// call once that goroutine has stopped.
package rtcp
