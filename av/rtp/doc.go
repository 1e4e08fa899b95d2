// Package rtp provides RTP packetization for the rtpcast delivery engine.
//
// Encoded samples from a capture pipeline are split into RTP frames that fit
// the transport MTU. Header marshalling uses the pion/rtp library; Annex-B and
// ADTS parsing uses joy4's h264parser and aacparser.
//
// # Payload Formats
//
//   - H264Packetizer: RFC 6184 single NAL, STAP-A (SPS+PPS on key frames), FU-A
//   - H265Packetizer: RFC 7798 single NAL, AP (VPS+SPS+PPS on key frames), FU
//   - AV1Packetizer: AV1 RTP payload format, OBU elements with LEB128 lengths
//   - AACPacketizer: RFC 3640 AAC-hbr, ADTS stripped, AUs aggregated or fragmented
//   - G711Packetizer: RFC 3551 PCMU/PCMA, split on sample boundaries
//
// # Variant Selection
//
// The video format follows from the parameter sets the encoder reports:
//
//	p, err := rtp.NewVideoPacketizer(sps, pps, vps, limits.DefaultMTU)
//	// pps == nil && vps == nil -> AV1
//	// pps != nil && vps == nil -> H.264
//	// pps != nil && vps != nil -> H.265
//	// pps == nil && vps != nil -> ErrInvalidParameterSets
//
// # Packetization
//
// Packetize never performs I/O. Each produced frame is handed to a FrameSink,
// so the caller decides how to queue it:
//
//	p.SetSSRC(ssrc)
//	p.Packetize(rtp.Sample{Data: au, TimestampUs: pts, KeyFrame: key}, func(f rtp.Frame) {
//	    queue.TryPush(f)
//	})
//
// Sequence numbers increase by one per frame and wrap at 2^16. Timestamps are
// derived from the capture time at the codec clock (90kHz for video). The
// marker bit is set on the last frame of an access unit. Empty samples,
// codec-config samples and unconfigured packetizers produce no frames.
//
// # Thread Safety
//
// Each packetizer guards its own sequence state, so Reset may be called while
// a producer goroutine is packetizing.
package rtp
