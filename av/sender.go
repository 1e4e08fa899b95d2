package av

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/rtpcast/av/rtcp"
	"github.com/opd-ai/rtpcast/av/rtp"
	"github.com/opd-ai/rtpcast/limits"
	"github.com/opd-ai/rtpcast/transport"
)

// Sender packetizes encoded samples, queues the frames and transmits them
// with periodic RTCP Sender Reports.
//
// Producers call SendVideoFrame and SendAudioFrame from their own goroutines;
// neither call blocks. While running, one goroutine drains the queue into the
// transport and another reports the outgoing bitrate.
//
// Example usage:
//
//	sender, err := av.NewSender(av.DefaultConfig())
//	sender.ConfigureVideo(sps, pps, nil)
//	sender.ConfigureAudio(44100, rtp.CodecAAC)
//	sender.SetTransport(av.TransportConfig{Protocol: transport.ProtocolTCP, ...})
//	sender.SetDestination(rtspConn, host)
//	sender.OnConnectionFailed(func(reason string) { ... })
//	sender.Start()
//	defer sender.Stop()
type Sender struct {
	config Config

	// lifecycle serializes Start, Stop and reconfiguration
	lifecycle sync.Mutex
	state     atomic.Int32

	// mu guards the fields below
	mu           sync.RWMutex
	video        rtp.VideoPacketizer
	audio        rtp.AudioPacketizer
	socket       transport.Socket
	ssrcProvider rtp.SSRCProvider

	// Callbacks
	connectionFailedCallback func(reason string)
	bitrateCallback          func(bps uint64)
	keyFrameRequestCallback  func()

	queue   *frameQueue
	report  *rtcp.SenderReport
	bitrate *BitrateMonitor

	// Counters
	sentVideo    atomic.Uint64
	sentAudio    atomic.Uint64
	droppedVideo atomic.Uint64
	droppedAudio atomic.Uint64
	lastBitrate  atomic.Uint64

	logging       atomic.Bool
	failed        atomic.Bool // failure callback already fired this session
	keyFrameArmed atomic.Bool

	// Session
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSender creates an idle sender.
//
// Parameters:
//   - config: tuning knobs; zero fields take DefaultConfig values
//
// Returns:
//   - *Sender: the sender
//   - error: ErrInvalidArgument wrapping the validation failure
func NewSender(config Config) (*Sender, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Sender{
		config:       config,
		ssrcProvider: rtp.DefaultSSRCProvider{},
		queue:        newFrameQueue(limits.CacheCapacity(config.CacheBytes, config.MTU)),
		report:       rtcp.NewSenderReport(config.ReportInterval),
	}
	s.bitrate = NewBitrateMonitor(config.BitrateInterval, s.reportBitrate)
	s.logging.Store(config.Logging)

	logrus.WithFields(logrus.Fields{
		"function":       "NewSender",
		"mtu":            config.MTU,
		"cache_size":     s.queue.Cap(),
		"poll_timeout":   config.PollTimeout,
		"sr_interval":    config.ReportInterval,
		"bitrate_period": config.BitrateInterval,
	}).Info("Sender created")

	return s, nil
}

// SetSSRCProvider replaces the SSRC source used at Start.
func (s *Sender) SetSSRCProvider(provider rtp.SSRCProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ssrcProvider = provider
}

// ConfigureVideo selects and configures the video packetizer from the
// parameter sets: H.264 (sps, pps), H.265 (sps, pps, vps) or AV1 (no pps, no vps).
func (s *Sender) ConfigureVideo(sps, pps, vps []byte) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.IsRunning() {
		return ErrAlreadyRunning
	}

	packetizer, err := rtp.NewVideoPacketizer(sps, pps, vps, s.config.MTU)
	if err != nil {
		return fmt.Errorf("configure video: %w", err)
	}

	s.mu.Lock()
	s.video = packetizer
	s.mu.Unlock()
	return nil
}

// ConfigureAudio configures the audio packetizer.
func (s *Sender) ConfigureAudio(sampleRate int, codec rtp.AudioCodec) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.IsRunning() {
		return ErrAlreadyRunning
	}

	packetizer, err := rtp.NewAudioPacketizer(codec, sampleRate, s.config.MTU)
	if err != nil {
		return fmt.Errorf("configure audio: %w", err)
	}

	s.mu.Lock()
	s.audio = packetizer
	s.mu.Unlock()
	return nil
}

// SetTransport builds the transport socket. In UDP mode the local ports are
// bound immediately and bind failures are returned.
func (s *Sender) SetTransport(cfg TransportConfig) error {
	var (
		sock transport.Socket
		err  error
	)
	switch cfg.Protocol {
	case transport.ProtocolTCP:
		sock, err = transport.NewInterleavedSocket(cfg.VideoPorts, cfg.AudioPorts)
	case transport.ProtocolUDP:
		sock, err = transport.NewUDPSocket(
			transport.PortPairs{Video: cfg.VideoPorts, Audio: cfg.AudioPorts},
			transport.PortPairs{Video: cfg.ServerVideoPorts, Audio: cfg.ServerAudioPorts},
		)
	default:
		err = fmt.Errorf("%w: protocol %d", ErrInvalidArgument, int(cfg.Protocol))
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Sender.SetTransport",
			"protocol": cfg.Protocol.String(),
			"error":    err.Error(),
		}).Error("Failed to create transport")
		return err
	}

	if err := s.SetSocket(sock); err != nil {
		_ = sock.Close()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sender.SetTransport",
		"protocol": cfg.Protocol.String(),
	}).Info("Transport configured")
	return nil
}

// SetSocket installs a transport socket, closing the previous one.
func (s *Sender) SetSocket(sock transport.Socket) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.IsRunning() {
		return ErrAlreadyRunning
	}
	s.stopLocked()

	s.mu.Lock()
	old := s.socket
	s.socket = sock
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// SetDestination points the socket at the server: the RTSP connection in TCP
// mode, the server host in UDP mode.
func (s *Sender) SetDestination(w io.Writer, host string) error {
	s.mu.RLock()
	sock := s.socket
	s.mu.RUnlock()

	if sock == nil {
		return ErrTransportNotConfigured
	}
	return sock.SetDataStream(w, host)
}

// Start begins a session: counters and queue are cleared, fresh SSRCs are
// assigned and the transmit and bitrate loops start.
func (s *Sender) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.IsRunning() {
		return ErrAlreadyRunning
	}
	// A session that ended on a transport failure still owns its socket
	s.stopLocked()

	s.mu.RLock()
	sock, video, audio, provider := s.socket, s.video, s.audio, s.ssrcProvider
	s.mu.RUnlock()

	if sock == nil {
		return ErrTransportNotConfigured
	}

	videoSSRC, err := provider.GenerateSSRC()
	if err != nil {
		return err
	}
	audioSSRC, err := provider.GenerateSSRC()
	if err != nil {
		return err
	}

	s.queue.Clear()
	s.zeroCounters()
	s.bitrate.Reset()
	s.lastBitrate.Store(0)
	s.failed.Store(false)
	s.keyFrameArmed.Store(true)

	if video != nil {
		video.Reset()
		video.SetSSRC(videoSSRC)
	}
	if audio != nil {
		audio.Reset()
		audio.SetSSRC(audioSSRC)
	}
	s.report.SetSSRC(videoSSRC, audioSSRC)
	s.report.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = group
	s.state.Store(int32(StateRunning))

	group.Go(func() error { return s.transmitLoop(gctx, sock) })
	group.Go(func() error { return s.bitrate.Run(gctx) })

	logrus.WithFields(logrus.Fields{
		"function":   "Sender.Start",
		"video_ssrc": videoSSRC,
		"audio_ssrc": audioSSRC,
	}).Info("Sender started")

	return nil
}

// Stop ends the session and waits for both loops to exit. It is safe to call
// when idle and after a connection failure. The socket is closed and must be
// configured again before the next Start.
func (s *Sender) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

// stopLocked tears down the current or failed session. Caller holds s.lifecycle.
func (s *Sender) stopLocked() {
	if s.cancel == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sender.Stop",
	}).Info("Stopping sender")

	s.state.Store(int32(StateIdle))
	s.cancel()

	s.mu.Lock()
	sock := s.socket
	s.socket = nil
	video, audio := s.video, s.audio
	s.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}

	if err := s.group.Wait(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Sender.Stop",
			"error":    err.Error(),
		}).Debug("Session ended with error")
	}
	s.cancel = nil
	s.group = nil

	s.report.Reset()
	_ = s.report.Close()
	if video != nil {
		video.Reset()
	}
	if audio != nil {
		audio.Reset()
	}
	s.zeroCounters()
	s.queue.Clear()

	logrus.WithFields(logrus.Fields{
		"function": "Sender.Stop",
	}).Info("Sender stopped")
}

// IsRunning reports whether a session is active.
func (s *Sender) IsRunning() bool {
	return SessionState(s.state.Load()) == StateRunning
}

// State returns the session state.
func (s *Sender) State() SessionState {
	return SessionState(s.state.Load())
}

// SendVideoFrame packetizes one encoded video sample and queues the frames.
// It does nothing unless the sender is running with video configured.
func (s *Sender) SendVideoFrame(data []byte, info FrameInfo) {
	if !s.IsRunning() {
		return
	}
	s.mu.RLock()
	video := s.video
	s.mu.RUnlock()
	if video == nil {
		return
	}

	video.Packetize(sampleFrom(data, info), s.enqueue)
	if info.KeyFrame && !info.Config {
		s.keyFrameArmed.Store(true)
	}
}

// SendAudioFrame packetizes one encoded audio sample and queues the frames.
// It does nothing unless the sender is running with audio configured.
func (s *Sender) SendAudioFrame(data []byte, info FrameInfo) {
	if !s.IsRunning() {
		return
	}
	s.mu.RLock()
	audio := s.audio
	s.mu.RUnlock()
	if audio == nil {
		return
	}

	audio.Packetize(sampleFrom(data, info), s.enqueue)
}

func sampleFrom(data []byte, info FrameInfo) rtp.Sample {
	return rtp.Sample{
		Data:        data,
		TimestampUs: info.TimestampUs,
		KeyFrame:    info.KeyFrame,
		Config:      info.Config,
	}
}

// enqueue is the packetizer sink: a non-blocking push that counts drops.
func (s *Sender) enqueue(frame rtp.Frame) {
	if s.queue.Push(frame) {
		return
	}

	if frame.Media == rtp.MediaVideo {
		s.droppedVideo.Add(1)
		if s.keyFrameArmed.CompareAndSwap(true, false) {
			s.mu.RLock()
			callback := s.keyFrameRequestCallback
			s.mu.RUnlock()
			if callback != nil {
				go callback()
			}
		}
	} else {
		s.droppedAudio.Add(1)
	}

	if s.logging.Load() {
		logrus.WithFields(logrus.Fields{
			"function": "Sender.enqueue",
			"media":    frame.Media.String(),
			"size":     frame.Len(),
		}).Debug("Queue full, frame dropped")
	}
}

// transmitLoop drains the queue into the socket until ctx is done or a
// write fails.
func (s *Sender) transmitLoop(ctx context.Context, sock transport.Socket) error {
	overhead := sock.Overhead()

	logrus.WithFields(logrus.Fields{
		"function": "Sender.transmitLoop",
		"overhead": overhead,
	}).Debug("Starting transmit loop")

	for ctx.Err() == nil && s.IsRunning() {
		frame, ok := s.queue.Pop(ctx, s.config.PollTimeout)
		if !ok {
			continue
		}

		if err := sock.SendFrame(frame); err != nil {
			s.fail(err)
			return err
		}
		s.bitrate.Add(frame.Len() + overhead)

		if frame.Media == rtp.MediaVideo {
			s.sentVideo.Add(1)
		} else {
			s.sentAudio.Add(1)
		}

		n, err := s.report.Update(frame, sock)
		if err != nil {
			s.fail(err)
			return err
		}
		if n > 0 {
			s.bitrate.Add(n + overhead)
		}

		if s.logging.Load() {
			logrus.WithFields(logrus.Fields{
				"function":  "Sender.transmitLoop",
				"media":     frame.Media.String(),
				"size":      frame.Len(),
				"timestamp": frame.Timestamp,
				"report":    n,
			}).Debug("Frame sent")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sender.transmitLoop",
	}).Debug("Transmit loop stopped")
	return nil
}

// fail ends the session after a transport error and notifies the
// connection-failed callback once per session.
func (s *Sender) fail(err error) {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle)) {
		// Stop already moved the session to idle; the error is its doing
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sender.fail",
		"error":    err.Error(),
	}).Error("Transport failure, session halted")

	if !s.failed.CompareAndSwap(false, true) {
		return
	}
	s.mu.RLock()
	callback := s.connectionFailedCallback
	s.mu.RUnlock()
	if callback != nil {
		go callback(err.Error())
	}
}

func (s *Sender) reportBitrate(bps uint64) {
	s.lastBitrate.Store(bps)

	s.mu.RLock()
	callback := s.bitrateCallback
	s.mu.RUnlock()
	if callback != nil {
		callback(bps)
	}
}

// OnConnectionFailed registers the callback fired, on its own goroutine, when
// a transport write fails. It fires at most once per session.
func (s *Sender) OnConnectionFailed(callback func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionFailedCallback = callback
}

// OnBitrate registers the callback receiving the outgoing bitrate in bits
// per second, once per bitrate interval.
func (s *Sender) OnBitrate(callback func(bps uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitrateCallback = callback
}

// OnKeyFrameRequest registers the callback fired when a video frame is
// dropped. It fires once, then again only after a key frame has been sent,
// so the encoder can emit a key frame to resynchronize the receiver.
func (s *Sender) OnKeyFrameRequest(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyFrameRequestCallback = callback
}

// HasCongestion reports whether the queue is at least percent full.
//
// Parameters:
//   - percent: threshold in [0, 100]
//
// Returns:
//   - bool: occupancy >= percent/100 of capacity
//   - error: ErrInvalidArgument when percent is out of range
func (s *Sender) HasCongestion(percent float64) (bool, error) {
	if percent < 0 || percent > 100 {
		return false, fmt.Errorf("%w: percent %v", ErrInvalidArgument, percent)
	}
	items, capacity := s.queue.Len(), s.queue.Cap()
	return float64(items) >= percent/100*float64(capacity), nil
}

// ResizeCache changes the queue capacity, keeping queued frames in order.
func (s *Sender) ResizeCache(size int) error {
	if size < 0 {
		return fmt.Errorf("%w: cache size %d", ErrInvalidArgument, size)
	}
	if err := s.queue.Resize(size); err != nil {
		return fmt.Errorf("resize cache to %d: %w", size, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sender.ResizeCache",
		"size":     size,
	}).Info("Cache resized")
	return nil
}

// CacheSize returns the queue capacity in frames.
func (s *Sender) CacheSize() int {
	return s.queue.Cap()
}

// ItemsInCache returns the number of queued frames.
func (s *Sender) ItemsInCache() int {
	return s.queue.Len()
}

// ClearCache drops every queued frame.
func (s *Sender) ClearCache() {
	s.queue.Clear()
}

// SetLogging enables or disables per-frame debug logs.
func (s *Sender) SetLogging(enabled bool) {
	s.logging.Store(enabled)
}

// SentVideoFrames returns the number of video frames written since Start.
func (s *Sender) SentVideoFrames() uint64 { return s.sentVideo.Load() }

// SentAudioFrames returns the number of audio frames written since Start.
func (s *Sender) SentAudioFrames() uint64 { return s.sentAudio.Load() }

// DroppedVideoFrames returns the number of video frames dropped on a full queue.
func (s *Sender) DroppedVideoFrames() uint64 { return s.droppedVideo.Load() }

// DroppedAudioFrames returns the number of audio frames dropped on a full queue.
func (s *Sender) DroppedAudioFrames() uint64 { return s.droppedAudio.Load() }

// ResetSentVideoFrames and its siblings zero one counter without touching the session.
func (s *Sender) ResetSentVideoFrames()    { s.sentVideo.Store(0) }
func (s *Sender) ResetSentAudioFrames()    { s.sentAudio.Store(0) }
func (s *Sender) ResetDroppedVideoFrames() { s.droppedVideo.Store(0) }
func (s *Sender) ResetDroppedAudioFrames() { s.droppedAudio.Store(0) }

func (s *Sender) zeroCounters() {
	s.sentVideo.Store(0)
	s.sentAudio.Store(0)
	s.droppedVideo.Store(0)
	s.droppedAudio.Store(0)
}

// Stats returns a snapshot of the counters.
func (s *Sender) Stats() Statistics {
	return Statistics{
		State:              s.State(),
		SentVideoFrames:    s.sentVideo.Load(),
		SentAudioFrames:    s.sentAudio.Load(),
		DroppedVideoFrames: s.droppedVideo.Load(),
		DroppedAudioFrames: s.droppedAudio.Load(),
		CacheSize:          s.queue.Cap(),
		ItemsInCache:       s.queue.Len(),
		Bitrate:            s.lastBitrate.Load(),
	}
}
