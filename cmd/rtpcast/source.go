package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpcast/av"
	"github.com/opd-ai/rtpcast/av/rtp"
)

// G.711 input is cut into 20 ms packets.
const (
	defaultG711Rate = 8000
	g711PacketMs    = 20
)

var (
	errNoParameterSets = errors.New("no SPS/PPS found in stream")
	errNoAccessUnits   = errors.New("no access units found")
	errNoADTSFrames    = errors.New("no ADTS frames found")
	errNoAudioSamples  = errors.New("no audio samples found")
)

// H.264 NAL unit types used to find access unit boundaries.
const (
	naluSlice = 1
	naluIDR   = 5
	naluSEI   = 6
	naluSPS   = 7
	naluPPS   = 8
	naluAUD   = 9
)

// mediaSample is one encoded sample scheduled at info.TimestampUs.
type mediaSample struct {
	media rtp.MediaType
	data  []byte
	info  av.FrameInfo
}

// videoSource holds the access units of an Annex-B H.264 stream.
type videoSource struct {
	sps, pps []byte
	width    int
	height   int
	samples  []mediaSample
	duration int64 // microseconds
}

// loadH264 splits an Annex-B H.264 stream into access units timed at fps.
func loadH264(data []byte, fps float64) (*videoSource, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", fps)
	}
	nalus, _ := h264parser.SplitNALUs(data)

	src := &videoSource{}
	var (
		au       [][]byte
		hasVCL   bool
		keyFrame bool
	)
	flush := func() {
		if !hasVCL {
			au = au[:0]
			return
		}
		var buf []byte
		for _, nalu := range au {
			buf = append(buf, 0, 0, 0, 1)
			buf = append(buf, nalu...)
		}
		ts := int64(float64(len(src.samples)) * 1e6 / fps)
		src.samples = append(src.samples, mediaSample{
			media: rtp.MediaVideo,
			data:  buf,
			info:  av.FrameInfo{TimestampUs: ts, KeyFrame: keyFrame},
		})
		au, hasVCL, keyFrame = nil, false, false
	}

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		typ := nalu[0] & 0x1F
		vcl := typ >= naluSlice && typ <= naluIDR

		switch {
		case typ == naluAUD:
			flush()
			continue
		case vcl && hasVCL && len(nalu) > 1 && nalu[1]&0x80 != 0:
			// first_mb_in_slice == 0 starts a new picture
			flush()
		case !vcl && hasVCL && (typ == naluSEI || typ == naluSPS || typ == naluPPS):
			flush()
		}

		switch typ {
		case naluSPS:
			if src.sps == nil {
				src.sps = append([]byte(nil), nalu...)
			}
		case naluPPS:
			if src.pps == nil {
				src.pps = append([]byte(nil), nalu...)
			}
		case naluIDR:
			keyFrame = true
		}

		au = append(au, nalu)
		if vcl {
			hasVCL = true
		}
	}
	flush()

	if src.sps == nil || src.pps == nil {
		return nil, errNoParameterSets
	}
	if len(src.samples) == 0 {
		return nil, errNoAccessUnits
	}
	src.duration = int64(float64(len(src.samples)) * 1e6 / fps)

	if codec, err := h264parser.NewCodecDataFromSPSAndPPS(src.sps, src.pps); err == nil {
		src.width, src.height = codec.Width(), codec.Height()
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "loadH264",
			"error":    err.Error(),
		}).Warn("Could not parse SPS, resolution unknown")
	}

	return src, nil
}

// audioSource holds the frames of an AAC or G.711 stream.
type audioSource struct {
	codec      rtp.AudioCodec
	sampleRate int
	channels   int
	samples    []mediaSample
	duration   int64 // microseconds
}

// loadADTS splits an ADTS stream into frames, each timed by its sample count.
func loadADTS(data []byte) (*audioSource, error) {
	src := &audioSource{codec: rtp.CodecAAC}
	var position int64 // in samples

	for len(data) >= 7 {
		cfg, _, frameLen, samples, err := aacparser.ParseADTSHeader(data)
		if err != nil {
			return nil, fmt.Errorf("invalid ADTS frame at sample %d: %w", position, err)
		}
		if frameLen > len(data) {
			break
		}
		if src.sampleRate == 0 {
			src.sampleRate = cfg.SampleRate
			src.channels = cfg.ChannelLayout.Count()
		}

		src.samples = append(src.samples, mediaSample{
			media: rtp.MediaAudio,
			data:  data[:frameLen],
			info:  av.FrameInfo{TimestampUs: position * 1_000_000 / int64(src.sampleRate)},
		})
		position += int64(samples)
		data = data[frameLen:]
	}

	if len(src.samples) == 0 || src.sampleRate <= 0 {
		return nil, errNoADTSFrames
	}
	src.duration = position * 1_000_000 / int64(src.sampleRate)
	return src, nil
}

// loadG711 cuts raw mu-law or A-law samples into 20 ms packets.
func loadG711(data []byte, codec rtp.AudioCodec, sampleRate int) (*audioSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(data) == 0 {
		return nil, errNoAudioSamples
	}

	src := &audioSource{codec: codec, sampleRate: sampleRate, channels: 1}
	step := max(sampleRate*g711PacketMs/1000, 1)
	for pos := 0; pos < len(data); pos += step {
		end := min(pos+step, len(data))
		src.samples = append(src.samples, mediaSample{
			media: rtp.MediaAudio,
			data:  data[pos:end],
			info:  av.FrameInfo{TimestampUs: int64(pos) * 1_000_000 / int64(sampleRate)},
		})
	}
	src.duration = int64(len(data)) * 1_000_000 / int64(sampleRate)
	return src, nil
}

// mergeSamples interleaves samples of both streams by timestamp.
func mergeSamples(streams ...[]mediaSample) []mediaSample {
	var out []mediaSample
	for _, s := range streams {
		out = append(out, s...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].info.TimestampUs < out[j].info.TimestampUs
	})
	return out
}
