package av

import (
	"fmt"
	"time"

	"github.com/opd-ai/rtpcast/av/rtcp"
	"github.com/opd-ai/rtpcast/limits"
	"github.com/opd-ai/rtpcast/transport"
)

// SessionState is the lifecycle state of a Sender.
type SessionState int32

const (
	// StateIdle means no frames are accepted or transmitted
	StateIdle SessionState = iota
	// StateRunning means the transmit and bitrate loops are active
	StateRunning
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Defaults applied by Config.withDefaults.
const (
	DefaultPollTimeout     = time.Second
	DefaultBitrateInterval = time.Second
)

// Config holds the Sender tuning knobs. Zero values select defaults.
type Config struct {
	// MTU is the largest RTP packet produced by the packetizers
	MTU int

	// CacheBytes is the queue memory budget; capacity is CacheBytes / MTU frames
	CacheBytes int

	// PollTimeout bounds how long the transmit loop waits for a frame
	PollTimeout time.Duration

	// BitrateInterval is the bitrate reporting period
	BitrateInterval time.Duration

	// ReportInterval is the RTCP Sender Report period per stream
	ReportInterval time.Duration

	// Logging enables per-frame debug logs
	Logging bool
}

// DefaultConfig returns the default sender configuration.
func DefaultConfig() Config {
	return Config{
		MTU:             limits.DefaultMTU,
		CacheBytes:      limits.DefaultCacheBytes,
		PollTimeout:     DefaultPollTimeout,
		BitrateInterval: DefaultBitrateInterval,
		ReportInterval:  rtcp.DefaultInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MTU == 0 {
		c.MTU = d.MTU
	}
	if c.CacheBytes == 0 {
		c.CacheBytes = d.CacheBytes
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.BitrateInterval <= 0 {
		c.BitrateInterval = d.BitrateInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = d.ReportInterval
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if err := limits.ValidateMTU(c.MTU); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if c.CacheBytes < 0 {
		return fmt.Errorf("%w: cache bytes %d", ErrInvalidArgument, c.CacheBytes)
	}
	return nil
}

// TransportConfig describes how frames reach the server.
//
// In UDP mode the port pairs are local ports and the server pairs the
// destination ports (zero server pairs reuse the local pairs). In TCP mode the
// port pairs are the RTSP interleaved channel ids and the server pairs are unused.
type TransportConfig struct {
	Protocol         transport.Protocol
	VideoPorts       transport.Ports
	AudioPorts       transport.Ports
	ServerVideoPorts transport.Ports
	ServerAudioPorts transport.Ports
}

// FrameInfo carries the encoder metadata of one sample.
type FrameInfo struct {
	TimestampUs int64
	KeyFrame    bool
	Config      bool
}

// Statistics is a point-in-time snapshot of the sender counters.
type Statistics struct {
	State              SessionState
	SentVideoFrames    uint64
	SentAudioFrames    uint64
	DroppedVideoFrames uint64
	DroppedAudioFrames uint64
	CacheSize          int
	ItemsInCache       int
	Bitrate            uint64 // last reported bits per second
}
