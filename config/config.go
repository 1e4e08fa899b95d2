// Package config loads the rtpcast configuration using viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opd-ai/rtpcast/av"
	"github.com/opd-ai/rtpcast/limits"
	"github.com/opd-ai/rtpcast/transport"
)

// ErrInvalidConfig indicates a configuration value that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level configuration. Maps to the `rtpcast:` root key in YAML.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Sender    SenderConfig    `mapstructure:"sender"`
	Transport TransportConfig `mapstructure:"transport"`
}

// configRoot wraps Config under the `rtpcast:` key.
type configRoot struct {
	Rtpcast Config `mapstructure:"rtpcast"`
}

// ─── Logging ───

// LogConfig configures the logrus logger.
type LogConfig struct {
	Level  string        `mapstructure:"level"`  // trace | debug | info | warn | error
	Format string        `mapstructure:"format"` // text | json
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig configures the rotating log file.
type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// ─── Sender ───

// SenderConfig mirrors av.Config.
type SenderConfig struct {
	MTU             int           `mapstructure:"mtu"`
	CacheBytes      int           `mapstructure:"cache_bytes"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	BitrateInterval time.Duration `mapstructure:"bitrate_interval"`
	ReportInterval  time.Duration `mapstructure:"report_interval"`
	FrameLogging    bool          `mapstructure:"frame_logging"`
}

// ─── Transport ───

// PortPair is an RTP/RTCP port or interleaved channel pair.
type PortPair struct {
	RTP  int `mapstructure:"rtp"`
	RTCP int `mapstructure:"rtcp"`
}

// TransportConfig selects the delivery mode and the destination.
type TransportConfig struct {
	Protocol    string   `mapstructure:"protocol"` // udp | tcp
	Host        string   `mapstructure:"host"`
	TCPPort     int      `mapstructure:"tcp_port"` // RTSP port dialed in tcp mode
	Video       PortPair `mapstructure:"video"`
	Audio       PortPair `mapstructure:"audio"`
	ServerVideo PortPair `mapstructure:"server_video"`
	ServerAudio PortPair `mapstructure:"server_audio"`
}

// Load reads the configuration file at path. An empty path loads defaults and
// environment overrides only.
//
// Environment variables override file values: key "rtpcast.transport.host"
// maps to RTPCAST_TRANSPORT_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Rtpcast

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "config.Load",
		"path":     path,
		"protocol": cfg.Transport.Protocol,
	}).Debug("Configuration loaded")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("rtpcast.log.level", "info")
	v.SetDefault("rtpcast.log.format", "text")
	v.SetDefault("rtpcast.log.file.enabled", false)
	v.SetDefault("rtpcast.log.file.path", "rtpcast.log")
	v.SetDefault("rtpcast.log.file.max_size_mb", 100)
	v.SetDefault("rtpcast.log.file.max_age_days", 30)
	v.SetDefault("rtpcast.log.file.max_backups", 5)
	v.SetDefault("rtpcast.log.file.compress", true)

	// Sender defaults
	v.SetDefault("rtpcast.sender.mtu", limits.DefaultMTU)
	v.SetDefault("rtpcast.sender.cache_bytes", limits.DefaultCacheBytes)
	v.SetDefault("rtpcast.sender.poll_timeout", "1s")
	v.SetDefault("rtpcast.sender.bitrate_interval", "1s")
	v.SetDefault("rtpcast.sender.report_interval", "3s")
	v.SetDefault("rtpcast.sender.frame_logging", false)

	// Transport defaults
	v.SetDefault("rtpcast.transport.protocol", "udp")
	v.SetDefault("rtpcast.transport.host", "127.0.0.1")
	v.SetDefault("rtpcast.transport.tcp_port", 554)
	v.SetDefault("rtpcast.transport.video.rtp", 5000)
	v.SetDefault("rtpcast.transport.video.rtcp", 5001)
	v.SetDefault("rtpcast.transport.audio.rtp", 5002)
	v.SetDefault("rtpcast.transport.audio.rtcp", 5003)
	v.SetDefault("rtpcast.transport.server_video.rtp", 0)
	v.SetDefault("rtpcast.transport.server_video.rtcp", 0)
	v.SetDefault("rtpcast.transport.server_audio.rtp", 0)
	v.SetDefault("rtpcast.transport.server_audio.rtcp", 0)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("%w: log.file.path is required when file logging is enabled", ErrInvalidConfig)
	}

	if err := c.Sender.Options().Validate(); err != nil {
		return fmt.Errorf("%w: sender: %w", ErrInvalidConfig, err)
	}

	if _, err := c.Transport.Options(); err != nil {
		return err
	}
	if c.Transport.Host == "" {
		return fmt.Errorf("%w: transport.host is required", ErrInvalidConfig)
	}
	if c.Transport.TCPPort < 0 || c.Transport.TCPPort > 0xFFFF {
		return fmt.Errorf("%w: transport.tcp_port %d", ErrInvalidConfig, c.Transport.TCPPort)
	}
	return nil
}

// Options converts the section into av.Config.
func (s SenderConfig) Options() av.Config {
	return av.Config{
		MTU:             s.MTU,
		CacheBytes:      s.CacheBytes,
		PollTimeout:     s.PollTimeout,
		BitrateInterval: s.BitrateInterval,
		ReportInterval:  s.ReportInterval,
		Logging:         s.FrameLogging,
	}
}

// Options converts the section into av.TransportConfig.
func (t TransportConfig) Options() (av.TransportConfig, error) {
	protocol, err := transport.ParseProtocol(t.Protocol)
	if err != nil {
		return av.TransportConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return av.TransportConfig{
		Protocol:         protocol,
		VideoPorts:       t.Video.ports(),
		AudioPorts:       t.Audio.ports(),
		ServerVideoPorts: t.ServerVideo.ports(),
		ServerAudioPorts: t.ServerAudio.ports(),
	}, nil
}

func (p PortPair) ports() transport.Ports {
	return transport.Ports{RTP: p.RTP, RTCP: p.RTCP}
}
