package rtcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/av/rtp"
	"github.com/opd-ai/rtpcast/limits"
)

// DefaultInterval is the time between two reports of the same stream.
const DefaultInterval = 3 * time.Second

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2208988800

// FrameSender writes a frame to the network.
type FrameSender interface {
	SendFrame(frame rtp.Frame) error
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// streamState is the per-media reporting state.
type streamState struct {
	ssrc       uint32
	packets    uint32
	octets     uint32
	lastReport time.Time
	reported   bool
}

// SenderReport produces RTCP Sender Reports for the video and audio streams.
type SenderReport struct {
	mu           sync.Mutex
	interval     time.Duration
	timeProvider TimeProvider
	streams      [2]streamState
	closed       bool
}

// NewSenderReport creates a generator reporting every interval per stream.
// A non-positive interval selects DefaultInterval.
func NewSenderReport(interval time.Duration) *SenderReport {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &SenderReport{
		interval:     interval,
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider replaces the clock, for tests.
func (s *SenderReport) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeProvider = tp
}

// Interval returns the reporting interval.
func (s *SenderReport) Interval() time.Duration {
	return s.interval
}

// SetSSRC sets the stream identifiers reports are issued for.
func (s *SenderReport) SetSSRC(video, audio uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[rtp.MediaVideo].ssrc = video
	s.streams[rtp.MediaAudio].ssrc = audio
	s.closed = false
}

// Update accounts for one transmitted frame and sends a report for its
// stream when one is due.
//
// Parameters:
//   - frame: the RTP frame just written; RTCP frames are ignored
//   - sender: where the report is written
//
// Returns:
//   - int: size of the report written, 0 when none was due
//   - error: ErrClosed, or ErrSendFailed wrapping the write error
func (s *SenderReport) Update(frame rtp.Frame, sender FrameSender) (int, error) {
	if frame.RTCP || int(frame.Media) >= len(s.streams) {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	stream := &s.streams[frame.Media]
	stream.packets++
	if payload := frame.Len() - limits.RTPHeaderSize; payload > 0 {
		stream.octets += uint32(payload)
	}

	if stream.reported && s.timeProvider.Since(stream.lastReport) < s.interval {
		return 0, nil
	}

	now := s.timeProvider.Now()
	report := &rtcp.SenderReport{
		SSRC:        stream.ssrc,
		NTPTime:     toNTP(now),
		RTPTime:     frame.Timestamp,
		PacketCount: stream.packets,
		OctetCount:  stream.octets,
	}
	data, err := report.Marshal()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal sender report: %w", err)
	}

	if err := sender.SendFrame(rtp.Frame{
		Payload:   data,
		Media:     frame.Media,
		RTCP:      true,
		Timestamp: frame.Timestamp,
	}); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	stream.lastReport = now
	stream.reported = true

	logrus.WithFields(logrus.Fields{
		"function":     "SenderReport.Update",
		"media":        frame.Media.String(),
		"ssrc":         stream.ssrc,
		"packet_count": stream.packets,
		"octet_count":  stream.octets,
	}).Debug("Sent RTCP sender report")

	return len(data), nil
}

// Stats returns the cumulative packet and octet counts of a stream.
func (s *SenderReport) Stats(media rtp.MediaType) (packets, octets uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(media) >= len(s.streams) {
		return 0, 0
	}
	return s.streams[media].packets, s.streams[media].octets
}

// Reset zeroes the counters and forgets when the last reports were sent.
// SSRCs are kept.
func (s *SenderReport) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.streams {
		ssrc := s.streams[i].ssrc
		s.streams[i] = streamState{ssrc: ssrc}
	}
}

// Close releases the generator. Further updates return ErrClosed until SetSSRC
// starts a new session.
func (s *SenderReport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// toNTP converts a wallclock time to the 64-bit NTP timestamp format.
func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}
