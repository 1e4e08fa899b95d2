package rtp

import (
	"bytes"

	"github.com/nareix/joy4/codec/h264parser"
)

var (
	startCode4 = []byte{0, 0, 0, 1}
	startCode3 = []byte{0, 0, 1}
)

// splitNALUs splits an Annex-B or AVCC access unit into bare NAL units.
// The start code layout is shared by H.264 and H.265, so one splitter serves both.
func splitNALUs(data []byte) [][]byte {
	nalus, _ := h264parser.SplitNALUs(data)
	out := make([][]byte, 0, len(nalus))
	for _, nalu := range nalus {
		nalu = trimStartCode(nalu)
		if len(nalu) > 0 {
			out = append(out, nalu)
		}
	}
	return out
}

// trimStartCode removes a leading Annex-B start code, if any.
func trimStartCode(b []byte) []byte {
	switch {
	case bytes.HasPrefix(b, startCode4):
		return b[4:]
	case bytes.HasPrefix(b, startCode3):
		return b[3:]
	default:
		return b
	}
}

// cloneParameterSet strips the start code and copies the bytes so the caller's
// buffer is not retained.
func cloneParameterSet(b []byte) []byte {
	b = trimStartCode(b)
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
