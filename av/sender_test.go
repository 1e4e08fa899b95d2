package av

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtpcast/av/rtp"
	"github.com/opd-ai/rtpcast/limits"
	"github.com/opd-ai/rtpcast/transport"
)

var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1F, 0xDA, 0x01}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollTimeout = 20 * time.Millisecond
	cfg.BitrateInterval = time.Hour
	return cfg
}

// newTestSender returns a sender with PCMU audio, H.264 video and sock installed.
func newTestSender(t *testing.T, cfg Config, sock transport.Socket) *Sender {
	t.Helper()
	s, err := NewSender(cfg)
	require.NoError(t, err)
	s.SetSSRCProvider(&fixedSSRCProvider{next: 1000})
	require.NoError(t, s.ConfigureAudio(8000, rtp.CodecG711U))
	require.NoError(t, s.ConfigureVideo(testSPS, testPPS, nil))
	if sock != nil {
		require.NoError(t, s.SetSocket(sock))
	}
	t.Cleanup(s.Stop)
	return s
}

func pcmu(n int, value byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = value
	}
	return b
}

func h264Slice(size int) []byte {
	out := []byte{0, 0, 0, 1, 0x41}
	for i := 0; i < size-1; i++ {
		out = append(out, 0xAA)
	}
	return out
}

// TestNewSender verifies defaults and configuration validation.
func TestNewSender(t *testing.T) {
	s, err := NewSender(Config{})
	require.NoError(t, err)
	assert.Equal(t, limits.DefaultCacheBytes/limits.DefaultMTU, s.CacheSize())
	assert.False(t, s.IsRunning())
	assert.Equal(t, StateIdle, s.State())

	_, err = NewSender(Config{MTU: 10})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, limits.ErrMTUTooSmall)
}

// TestSender_StartRequiresTransport verifies Start fails without a socket.
func TestSender_StartRequiresTransport(t *testing.T) {
	s := newTestSender(t, testConfig(), nil)
	assert.ErrorIs(t, s.Start(), ErrTransportNotConfigured)
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.SetDestination(nil, "host"), ErrTransportNotConfigured)
}

// TestSender_Lifecycle verifies Start/Stop transitions.
func TestSender_Lifecycle(t *testing.T) {
	sock := newMockSocket(0)
	s := newTestSender(t, testConfig(), sock)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
	assert.ErrorIs(t, s.ConfigureAudio(8000, rtp.CodecG711A), ErrAlreadyRunning)
	assert.ErrorIs(t, s.SetSocket(newMockSocket(0)), ErrAlreadyRunning)

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.True(t, sock.isClosed())

	// Stopping again is a no-op
	s.Stop()
	assert.False(t, s.IsRunning())

	// The socket is consumed by the session
	assert.ErrorIs(t, s.Start(), ErrTransportNotConfigured)
}

// TestSender_IdleIgnoresFrames verifies samples are dropped silently while idle.
func TestSender_IdleIgnoresFrames(t *testing.T) {
	s := newTestSender(t, testConfig(), newMockSocket(0))

	s.SendAudioFrame(pcmu(160, 1), FrameInfo{})
	s.SendVideoFrame(h264Slice(100), FrameInfo{})
	assert.Zero(t, s.ItemsInCache())
	assert.Zero(t, s.DroppedAudioFrames())
}

// TestSender_FIFODelivery verifies frames reach the socket in order with
// consecutive sequence numbers and the session SSRC.
func TestSender_FIFODelivery(t *testing.T) {
	sock := newMockSocket(0)
	s := newTestSender(t, testConfig(), sock)
	require.NoError(t, s.Start())

	const count = 50
	for i := 0; i < count; i++ {
		s.SendAudioFrame(pcmu(160, byte(i)), FrameInfo{TimestampUs: int64(i) * 20_000})
	}

	require.Eventually(t, func() bool { return s.SentAudioFrames() == count }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, s.DroppedAudioFrames())
	require.Len(t, sock.rtpFrames(), count)

	for i, frame := range sock.rtpFrames() {
		pkt := &pionrtp.Packet{}
		require.NoError(t, pkt.Unmarshal(frame.Payload))
		assert.Equal(t, uint16(i), pkt.SequenceNumber)
		assert.Equal(t, uint32(1001), pkt.SSRC, "audio SSRC is the second one generated")
		assert.Equal(t, pcmu(160, byte(i)), pkt.Payload)
		assert.Equal(t, rtp.MediaAudio, frame.Media)
	}

	// The first audio frame triggers a Sender Report
	var reports int
	for _, frame := range sock.allFrames() {
		if frame.RTCP {
			reports++
			assert.Equal(t, rtp.MediaAudio, frame.Media)
		}
	}
	assert.Equal(t, 1, reports)
}

// TestSender_DropOnFull verifies a full queue drops the frame, counts it once
// and leaves occupancy unchanged.
func TestSender_DropOnFull(t *testing.T) {
	s := newTestSender(t, testConfig(), nil)
	require.NoError(t, s.ResizeCache(2))

	s.enqueue(rtp.Frame{Payload: []byte{1}, Media: rtp.MediaAudio})
	s.enqueue(rtp.Frame{Payload: []byte{2}, Media: rtp.MediaVideo})
	require.Equal(t, 2, s.ItemsInCache())

	s.enqueue(rtp.Frame{Payload: []byte{3}, Media: rtp.MediaVideo})
	assert.Equal(t, 2, s.ItemsInCache())
	assert.Equal(t, uint64(1), s.DroppedVideoFrames())
	assert.Zero(t, s.DroppedAudioFrames())

	s.enqueue(rtp.Frame{Payload: []byte{4}, Media: rtp.MediaAudio})
	assert.Equal(t, 2, s.ItemsInCache())
	assert.Equal(t, uint64(1), s.DroppedVideoFrames())
	assert.Equal(t, uint64(1), s.DroppedAudioFrames())
}

// TestSender_HasCongestion verifies argument validation and the threshold.
func TestSender_HasCongestion(t *testing.T) {
	s := newTestSender(t, testConfig(), nil)
	require.NoError(t, s.ResizeCache(10))

	empty, err := s.HasCongestion(0)
	require.NoError(t, err)
	assert.True(t, empty, "p=0 is always congested")

	for i := 0; i < 5; i++ {
		s.enqueue(rtp.Frame{Payload: []byte{byte(i)}})
	}

	tests := []struct {
		name    string
		percent float64
		want    bool
		wantErr bool
	}{
		{"zero", 0, true, false},
		{"below occupancy", 20, true, false},
		{"exactly at occupancy", 50, true, false},
		{"above occupancy", 51, false, false},
		{"full", 100, false, false},
		{"negative", -1, false, true},
		{"over hundred", 100.5, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.HasCongestion(tt.percent)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestSender_ResizeCache verifies resize success and failure semantics.
func TestSender_ResizeCache(t *testing.T) {
	s := newTestSender(t, testConfig(), nil)
	require.NoError(t, s.ResizeCache(5))
	for i := 0; i < 3; i++ {
		s.enqueue(rtp.Frame{Payload: []byte{byte(i)}, Timestamp: uint32(i)})
	}

	assert.ErrorIs(t, s.ResizeCache(2), ErrCacheTooSmall)
	assert.Equal(t, 5, s.CacheSize())
	assert.ErrorIs(t, s.ResizeCache(-1), ErrInvalidArgument)

	require.NoError(t, s.ResizeCache(3))
	assert.Equal(t, 3, s.CacheSize())
	assert.Equal(t, 3, s.ItemsInCache())

	for i := 0; i < 3; i++ {
		frame, ok := s.queue.tryPop()
		require.True(t, ok)
		assert.Equal(t, uint32(i), frame.Timestamp)
	}

	require.NoError(t, s.ResizeCache(0))
	assert.Zero(t, s.CacheSize())

	s.ClearCache()
	assert.Zero(t, s.ItemsInCache())
}

// TestSender_StopResetsState verifies Stop zeroes counters and empties the queue.
func TestSender_StopResetsState(t *testing.T) {
	sock := newMockSocket(0)
	sock.gate = make(chan struct{})
	s := newTestSender(t, testConfig(), sock)
	require.NoError(t, s.Start())

	// The first frame blocks in the socket, the rest stay queued
	for i := 0; i < 5; i++ {
		s.SendAudioFrame(pcmu(160, byte(i)), FrameInfo{})
	}
	require.Eventually(t, func() bool { return sock.sendCalls() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, s.ItemsInCache())

	require.NoError(t, s.ResizeCache(4))
	s.SendAudioFrame(pcmu(160, 9), FrameInfo{})
	assert.Equal(t, uint64(1), s.DroppedAudioFrames())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the socket write was blocked")
	}

	stats := s.Stats()
	assert.Equal(t, StateIdle, stats.State)
	assert.Zero(t, stats.SentAudioFrames)
	assert.Zero(t, stats.DroppedAudioFrames)
	assert.Zero(t, stats.ItemsInCache)
}

// TestSender_ConnectionFailed verifies a write error halts the session and
// notifies the callback exactly once.
func TestSender_ConnectionFailed(t *testing.T) {
	sock := newMockSocket(0)
	sock.err = errors.New("broken pipe")
	s := newTestSender(t, testConfig(), sock)

	var calls atomic.Int32
	reasons := make(chan string, 4)
	s.OnConnectionFailed(func(reason string) {
		calls.Add(1)
		reasons <- reason
	})
	require.NoError(t, s.Start())

	for i := 0; i < 5; i++ {
		s.SendAudioFrame(pcmu(160, byte(i)), FrameInfo{})
	}

	select {
	case reason := <-reasons:
		assert.Contains(t, reason, "broken pipe")
	case <-time.After(2 * time.Second):
		t.Fatal("connection failure callback not called")
	}
	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 5*time.Millisecond)

	// Further samples are ignored and no second notification arrives
	s.SendAudioFrame(pcmu(160, 1), FrameInfo{})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	s.Stop()
	assert.True(t, sock.isClosed())
}

// TestSender_BitrateAccounting verifies every written byte, including the
// interleaved header and Sender Reports, reaches the bitrate monitor.
func TestSender_BitrateAccounting(t *testing.T) {
	tests := []struct {
		name     string
		overhead int
	}{
		{"udp", 0},
		{"tcp interleaved", limits.InterleavedHeaderSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock := newMockSocket(tt.overhead)
			s := newTestSender(t, testConfig(), sock)
			require.NoError(t, s.Start())

			const count = 20
			for i := 0; i < count; i++ {
				s.SendAudioFrame(pcmu(160, byte(i)), FrameInfo{TimestampUs: int64(i) * 20_000})
			}
			require.Eventually(t, func() bool { return len(sock.rtpFrames()) == count }, 2*time.Second, 5*time.Millisecond)
			s.Stop()

			var want uint64
			for _, frame := range sock.allFrames() {
				want += uint64(frame.Len() + tt.overhead)
			}
			assert.Equal(t, want, s.bitrate.Pending())
			assert.Greater(t, len(sock.allFrames()), count, "sender report included")
		})
	}
}

// TestSender_BitrateCallback verifies OnBitrate receives periodic reports.
func TestSender_BitrateCallback(t *testing.T) {
	cfg := testConfig()
	cfg.BitrateInterval = 20 * time.Millisecond
	s := newTestSender(t, cfg, newMockSocket(0))

	reports := make(chan uint64, 100)
	s.OnBitrate(func(bps uint64) {
		select {
		case reports <- bps:
		default:
		}
	})
	require.NoError(t, s.Start())

	s.SendAudioFrame(pcmu(160, 1), FrameInfo{})

	var total uint64
	deadline := time.After(2 * time.Second)
	for total == 0 {
		select {
		case bps := <-reports:
			total += bps
		case <-deadline:
			t.Fatal("no non-zero bitrate report")
		}
	}
	assert.Positive(t, s.Stats().Bitrate+total)
}

// TestSender_KeyFrameRequest verifies the request fires once per drop burst
// and re-arms after a key frame.
func TestSender_KeyFrameRequest(t *testing.T) {
	s := newTestSender(t, testConfig(), newMockSocket(0))

	var requests atomic.Int32
	s.OnKeyFrameRequest(func() { requests.Add(1) })
	require.NoError(t, s.Start())
	require.NoError(t, s.ResizeCache(0))

	s.SendVideoFrame(h264Slice(100), FrameInfo{})
	require.Eventually(t, func() bool { return requests.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.SendVideoFrame(h264Slice(100), FrameInfo{})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), requests.Load())

	s.SendVideoFrame(h264Slice(100), FrameInfo{KeyFrame: true})
	s.SendVideoFrame(h264Slice(100), FrameInfo{})
	require.Eventually(t, func() bool { return requests.Load() == 2 }, time.Second, 5*time.Millisecond)

	// Audio drops never request key frames
	s.SendAudioFrame(pcmu(160, 1), FrameInfo{})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), requests.Load())
	assert.Positive(t, s.DroppedAudioFrames())
}

// TestSender_VideoFragmentation verifies a large video sample is split at the MTU.
func TestSender_VideoFragmentation(t *testing.T) {
	cfg := testConfig()
	cfg.MTU = 188
	sock := newMockSocket(0)
	s := newTestSender(t, cfg, sock)
	require.NoError(t, s.Start())

	s.SendVideoFrame(h264Slice(196), FrameInfo{TimestampUs: 1_000_000})
	require.Eventually(t, func() bool { return s.SentVideoFrames() == 2 }, 2*time.Second, 5*time.Millisecond)

	frames := sock.rtpFrames()
	require.Len(t, frames, 2)
	for i, frame := range frames {
		assert.LessOrEqual(t, frame.Len(), 188)
		pkt := &pionrtp.Packet{}
		require.NoError(t, pkt.Unmarshal(frame.Payload))
		assert.Equal(t, i == len(frames)-1, pkt.Marker)
		assert.Equal(t, uint32(90000), pkt.Timestamp)
	}
}

// TestSender_CounterResets verifies the per-counter resets.
func TestSender_CounterResets(t *testing.T) {
	s := newTestSender(t, testConfig(), nil)
	s.sentVideo.Store(3)
	s.sentAudio.Store(4)
	s.droppedVideo.Store(5)
	s.droppedAudio.Store(6)

	s.ResetSentVideoFrames()
	assert.Zero(t, s.SentVideoFrames())
	assert.Equal(t, uint64(4), s.SentAudioFrames())

	s.ResetSentAudioFrames()
	s.ResetDroppedVideoFrames()
	assert.Zero(t, s.SentAudioFrames())
	assert.Zero(t, s.DroppedVideoFrames())
	assert.Equal(t, uint64(6), s.DroppedAudioFrames())

	s.ResetDroppedAudioFrames()
	assert.Zero(t, s.DroppedAudioFrames())
}

// TestSender_ConfigureVideoRejectsVPSWithoutPPS verifies the invalid combination is refused.
func TestSender_ConfigureVideoRejectsVPSWithoutPPS(t *testing.T) {
	s, err := NewSender(testConfig())
	require.NoError(t, err)
	err = s.ConfigureVideo(testSPS, nil, []byte{0x40, 0x01})
	assert.ErrorIs(t, err, ErrInvalidParameterSets)
}

// TestSender_SetTransport verifies socket construction per protocol.
func TestSender_SetTransport(t *testing.T) {
	s := newTestSender(t, testConfig(), nil)

	err := s.SetTransport(TransportConfig{Protocol: transport.Protocol(9)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = s.SetTransport(TransportConfig{
		Protocol:   transport.ProtocolTCP,
		VideoPorts: transport.Ports{RTP: 300, RTCP: 301},
	})
	assert.ErrorIs(t, err, transport.ErrInvalidChannel)

	require.NoError(t, s.SetTransport(TransportConfig{Protocol: transport.ProtocolUDP}))
	require.NoError(t, s.SetDestination(nil, "127.0.0.1"))
	assert.ErrorIs(t, s.SetDestination(nil, "127.0.0.1"), transport.ErrDestinationSet)
}

// TestSender_InterleavedEndToEnd streams audio over an in-memory RTSP
// connection and parses the interleaved output.
func TestSender_InterleavedEndToEnd(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newTestSender(t, testConfig(), nil)
	require.NoError(t, s.SetTransport(TransportConfig{
		Protocol:   transport.ProtocolTCP,
		VideoPorts: transport.Ports{RTP: 0, RTCP: 1},
		AudioPorts: transport.Ports{RTP: 2, RTCP: 3},
	}))
	require.NoError(t, s.SetDestination(client, ""))
	require.NoError(t, s.Start())

	s.SendAudioFrame(pcmu(160, 7), FrameInfo{TimestampUs: 1_000_000})

	readFrame := func() (byte, []byte) {
		require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
		header := make([]byte, limits.InterleavedHeaderSize)
		_, err := io.ReadFull(server, header)
		require.NoError(t, err)
		require.Equal(t, byte('$'), header[0])
		payload := make([]byte, binary.BigEndian.Uint16(header[2:]))
		_, err = io.ReadFull(server, payload)
		require.NoError(t, err)
		return header[1], payload
	}

	channel, payload := readFrame()
	assert.Equal(t, byte(2), channel)
	pkt := &pionrtp.Packet{}
	require.NoError(t, pkt.Unmarshal(payload))
	assert.Equal(t, uint8(rtp.PayloadTypePCMU), pkt.PayloadType)
	assert.Equal(t, uint32(8000), pkt.Timestamp)

	channel, _ = readFrame()
	assert.Equal(t, byte(3), channel, "sender report on the audio RTCP channel")

	require.Eventually(t, func() bool { return s.SentAudioFrames() == 1 }, time.Second, 5*time.Millisecond)
}

// TestSender_LoggingAndStats verifies per-frame logging does not change
// delivery and Stats reflects the counters.
func TestSender_LoggingAndStats(t *testing.T) {
	sock := newMockSocket(0)
	s := newTestSender(t, testConfig(), sock)
	require.NoError(t, s.Start())

	s.SetLogging(true)
	for i := 0; i < 3; i++ {
		s.SendAudioFrame(pcmu(160, byte(i)), FrameInfo{TimestampUs: int64(i) * 20_000})
	}
	require.Eventually(t, func() bool { return s.SentAudioFrames() == 3 }, 2*time.Second, 5*time.Millisecond)

	s.SetLogging(false)
	s.SendAudioFrame(pcmu(160, 3), FrameInfo{TimestampUs: 60_000})
	require.Eventually(t, func() bool { return s.SentAudioFrames() == 4 }, 2*time.Second, 5*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, StateRunning, stats.State)
	assert.Equal(t, uint64(4), stats.SentAudioFrames)
	assert.Zero(t, stats.SentVideoFrames)
	assert.Zero(t, stats.DroppedAudioFrames)
	assert.Equal(t, s.CacheSize(), stats.CacheSize)
	assert.Len(t, sock.rtpFrames(), 4)
}
