package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/rtpcast/av"
	"github.com/opd-ai/rtpcast/av/rtp"
	"github.com/opd-ai/rtpcast/transport"
)

const (
	dialTimeout        = 5 * time.Second
	congestionPercent  = 80
	congestionLogEvery = time.Second
)

var errNoInput = errors.New("at least one of --video or --audio is required")

type pushOptions struct {
	videoPath string
	audioPath string
	// audioCodec names the codec of audioPath: aac, pcmu or pcma
	audioCodec string
	sampleRate int
	fps       float64
	loops     int
	host      string
	protocol  string
}

func newPushCommand(a *app) *cobra.Command {
	opts := &pushOptions{}

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Stream H.264 and AAC files in real time",
		Example: `  rtpcast push --video in.h264 --audio in.aac --host 192.168.1.10
  rtpcast push --audio in.ulaw --audio-codec pcmu --sample-rate 8000
  rtpcast push --video in.h264 --protocol tcp --host server`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.videoPath == "" && opts.audioPath == "" {
				return errNoInput
			}
			if opts.host != "" {
				a.config.Transport.Host = opts.host
			}
			if opts.protocol != "" {
				a.config.Transport.Protocol = opts.protocol
			}
			return runPush(cmd.Context(), a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.videoPath, "video", "", "Annex-B H.264 elementary stream")
	flags.StringVar(&opts.audioPath, "audio", "", "ADTS AAC stream, or raw G.711 with --audio-codec")
	flags.StringVar(&opts.audioCodec, "audio-codec", "aac", "audio codec: aac, pcmu or pcma")
	flags.IntVar(&opts.sampleRate, "sample-rate", defaultG711Rate, "G.711 sample rate (AAC reads it from ADTS)")
	flags.Float64Var(&opts.fps, "fps", 30, "video frame rate")
	flags.IntVar(&opts.loops, "loops", 1, "number of times to play the input (0 loops forever)")
	flags.StringVar(&opts.host, "host", "", "destination host (overrides config)")
	flags.StringVar(&opts.protocol, "protocol", "", "udp or tcp (overrides config)")
	return cmd
}

// runPush configures a sender from the loaded config and paces the input
// samples onto it until the input ends, the context is cancelled or the
// connection fails.
func runPush(ctx context.Context, a *app, opts *pushOptions) error {
	video, audio, err := loadInputs(opts)
	if err != nil {
		return err
	}

	sender, err := av.NewSender(a.config.Sender.Options())
	if err != nil {
		return err
	}
	samples, duration, err := configureCodecs(sender, video, audio)
	if err != nil {
		return err
	}

	tc, err := a.config.Transport.Options()
	if err != nil {
		return err
	}
	if err := sender.SetTransport(tc); err != nil {
		return err
	}
	conn, err := connect(ctx, sender, tc.Protocol, a.config.Transport.Host, a.config.Transport.TCPPort)
	if err != nil {
		return err
	}
	if conn != nil {
		defer conn.Close()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sender.OnConnectionFailed(func(reason string) {
		cancel(fmt.Errorf("connection failed: %s", reason))
	})
	sender.OnBitrate(func(bps uint64) {
		logrus.WithFields(logrus.Fields{
			"function": "runPush",
			"bitrate":  bps,
		}).Info("Bitrate")
	})
	sender.OnKeyFrameRequest(func() {
		logrus.WithFields(logrus.Fields{
			"function": "runPush",
		}).Warn("Video frame dropped, receiver needs a key frame")
	})

	if err := sender.Start(); err != nil {
		return err
	}
	defer sender.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "runPush",
		"protocol": tc.Protocol.String(),
		"host":     a.config.Transport.Host,
		"samples":  len(samples),
	}).Info("Streaming started")

	err = pace(ctx, sender, samples, duration, opts.loops)

	stats := sender.Stats()
	logrus.WithFields(logrus.Fields{
		"function":       "runPush",
		"sent_video":     stats.SentVideoFrames,
		"sent_audio":     stats.SentAudioFrames,
		"dropped_video":  stats.DroppedVideoFrames,
		"dropped_audio":  stats.DroppedAudioFrames,
		"items_in_cache": stats.ItemsInCache,
	}).Info("Streaming finished")

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadInputs reads and parses the input files named on the command line.
func loadInputs(opts *pushOptions) (*videoSource, *audioSource, error) {
	var (
		video *videoSource
		audio *audioSource
	)

	if opts.videoPath != "" {
		data, err := os.ReadFile(opts.videoPath)
		if err != nil {
			return nil, nil, err
		}
		if video, err = loadH264(data, opts.fps); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", opts.videoPath, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "loadInputs",
			"file":     opts.videoPath,
			"frames":   len(video.samples),
			"width":    video.width,
			"height":   video.height,
		}).Info("Loaded video")
	}

	if opts.audioPath != "" {
		data, err := os.ReadFile(opts.audioPath)
		if err != nil {
			return nil, nil, err
		}
		codec, err := rtp.ParseAudioCodec(opts.audioCodec)
		if err != nil {
			return nil, nil, err
		}
		if codec.IsG711() {
			audio, err = loadG711(data, codec, opts.sampleRate)
		} else {
			audio, err = loadADTS(data)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", opts.audioPath, err)
		}
		logrus.WithFields(logrus.Fields{
			"function":    "loadInputs",
			"file":        opts.audioPath,
			"codec":       audio.codec.String(),
			"frames":      len(audio.samples),
			"sample_rate": audio.sampleRate,
			"channels":    audio.channels,
		}).Info("Loaded audio")
	}

	return video, audio, nil
}

// configureCodecs applies the inputs' parameter sets and sample rate and
// returns the merged sample schedule with its duration.
func configureCodecs(sender *av.Sender, video *videoSource, audio *audioSource) ([]mediaSample, int64, error) {
	var (
		streams  [][]mediaSample
		duration int64
	)
	if video != nil {
		if err := sender.ConfigureVideo(video.sps, video.pps, nil); err != nil {
			return nil, 0, err
		}
		streams = append(streams, video.samples)
		duration = max(duration, video.duration)
	}
	if audio != nil {
		if err := sender.ConfigureAudio(audio.sampleRate, audio.codec); err != nil {
			return nil, 0, err
		}
		streams = append(streams, audio.samples)
		duration = max(duration, audio.duration)
	}
	return mergeSamples(streams...), duration, nil
}

// connect points the sender at its destination. In TCP mode it dials the RTSP
// port and returns the connection, which the caller owns.
func connect(ctx context.Context, sender *av.Sender, protocol transport.Protocol, host string, tcpPort int) (net.Conn, error) {
	if protocol != transport.ProtocolTCP {
		return nil, sender.SetDestination(nil, host)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(tcpPort)))
	if err != nil {
		return nil, err
	}
	if err := sender.SetDestination(conn, host); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// pace hands each sample to the sender at its presentation time.
func pace(ctx context.Context, sender *av.Sender, samples []mediaSample, duration int64, loops int) error {
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	var lastWarning time.Time
	for loop := 0; loops <= 0 || loop < loops; loop++ {
		offset := int64(loop) * duration
		for _, sample := range samples {
			at := offset + sample.info.TimestampUs
			if wait := time.Until(start.Add(time.Duration(at) * time.Microsecond)); wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
				}
			} else if ctx.Err() != nil {
				return ctx.Err()
			}

			info := sample.info
			info.TimestampUs = at
			if sample.media == rtp.MediaVideo {
				sender.SendVideoFrame(sample.data, info)
			} else {
				sender.SendAudioFrame(sample.data, info)
			}

			if congested, err := sender.HasCongestion(congestionPercent); err == nil && congested &&
				time.Since(lastWarning) >= congestionLogEvery {
				lastWarning = time.Now()
				logrus.WithFields(logrus.Fields{
					"function":       "pace",
					"items_in_cache": sender.ItemsInCache(),
					"cache_size":     sender.CacheSize(),
				}).Warn("Send queue congested")
			}
		}
	}
	return nil
}
