package rtp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1F, 0xDA, 0x01}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
	testVPS = []byte{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, nalu...)
	}
	return out
}

func nalu(header byte, size int) []byte {
	return append([]byte{header}, filler(size-1)...)
}

func TestH264Packetizer_FragmentsAt188(t *testing.T) {
	p := NewH264Packetizer(188)
	p.Configure(testSPS, testPPS, nil)

	// 4-byte start code + 196-byte non-IDR slice = 200 bytes
	sample := annexB(nalu(0x41, 196))
	require.Len(t, sample, 200)

	c := &collector{}
	p.Packetize(Sample{Data: sample, TimestampUs: 1_000_000}, c.sink)

	packets := c.packets(t)
	require.GreaterOrEqual(t, len(packets), 2)
	for i, pkt := range packets {
		assert.LessOrEqual(t, len(pkt.Payload), 188)
		assert.LessOrEqual(t, len(c.frames[i].Payload), 188)
		assert.Equal(t, uint32(90000), pkt.Timestamp)
		assert.Equal(t, i == len(packets)-1, pkt.Marker, "marker on packet %d", i)
		assert.Equal(t, MediaVideo, c.frames[i].Media)
		assert.Equal(t, uint32(90000), c.frames[i].Timestamp)
	}

	// FU-A indicator keeps NRI, header carries S on first and E on last
	first, last := packets[0].Payload, packets[len(packets)-1].Payload
	assert.Equal(t, byte(0x40|28), first[0])
	assert.Equal(t, byte(0x80|1), first[1])
	assert.Equal(t, byte(0x40|1), last[1])

	var reassembled []byte
	for _, pkt := range packets {
		reassembled = append(reassembled, pkt.Payload[2:]...)
	}
	assert.Equal(t, filler(195), reassembled)
}

func TestH264Packetizer_SingleNALUnits(t *testing.T) {
	p := NewH264Packetizer(1200)
	p.Configure(testSPS, testPPS, nil)

	sei := nalu(0x06, 20)
	slice := nalu(0x41, 300)
	c := &collector{}
	p.Packetize(Sample{Data: annexB(sei, slice)}, c.sink)

	packets := c.packets(t)
	require.Len(t, packets, 2)
	assert.Equal(t, sei, packets[0].Payload)
	assert.False(t, packets[0].Marker)
	assert.Equal(t, slice, packets[1].Payload)
	assert.True(t, packets[1].Marker)
	assert.Equal(t, packets[0].SequenceNumber+1, packets[1].SequenceNumber)
}

func TestH264Packetizer_KeyFramePrependsSTAPA(t *testing.T) {
	p := NewH264Packetizer(1200)
	p.Configure(annexB(testSPS), annexB(testPPS), nil)

	idr := nalu(0x65, 100)
	c := &collector{}
	p.Packetize(Sample{Data: annexB(idr), KeyFrame: true}, c.sink)

	packets := c.packets(t)
	require.Len(t, packets, 2)

	stap := packets[0].Payload
	assert.Equal(t, byte(24), stap[0]&0x1F)
	assert.False(t, packets[0].Marker)
	spsLen := int(binary.BigEndian.Uint16(stap[1:3]))
	assert.Equal(t, testSPS, stap[3:3+spsLen])
	rest := stap[3+spsLen:]
	ppsLen := int(binary.BigEndian.Uint16(rest[0:2]))
	assert.Equal(t, testPPS, rest[2:2+ppsLen])

	assert.Equal(t, idr, packets[1].Payload)
	assert.True(t, packets[1].Marker)
}

func TestH264Packetizer_IDRWithoutFlagStillPrependsParameters(t *testing.T) {
	p := NewH264Packetizer(1200)
	p.Configure(testSPS, testPPS, nil)

	c := &collector{}
	p.Packetize(Sample{Data: annexB(nalu(0x65, 50))}, c.sink)
	require.Len(t, c.frames, 2)
}

func TestH264Packetizer_InBandParametersNotDuplicated(t *testing.T) {
	p := NewH264Packetizer(1200)
	p.Configure(testSPS, testPPS, nil)

	c := &collector{}
	p.Packetize(Sample{Data: annexB(testSPS, testPPS, nalu(0x65, 50)), KeyFrame: true}, c.sink)
	assert.Len(t, c.frames, 3)
}

func TestH264Packetizer_NoOutput(t *testing.T) {
	configured := NewH264Packetizer(1200)
	configured.Configure(testSPS, testPPS, nil)

	tests := []struct {
		name       string
		packetizer *H264Packetizer
		sample     Sample
	}{
		{"empty buffer", configured, Sample{Data: nil}},
		{"config sample", configured, Sample{Data: annexB(testSPS, testPPS), Config: true}},
		{"only access unit delimiter", configured, Sample{Data: annexB([]byte{0x09, 0xF0})}},
		{"not configured", NewH264Packetizer(1200), Sample{Data: annexB(nalu(0x41, 50))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collector{}
			tt.packetizer.Packetize(tt.sample, c.sink)
			assert.Empty(t, c.frames)
		})
	}
}

func TestH264Packetizer_AUDDropped(t *testing.T) {
	p := NewH264Packetizer(1200)
	p.Configure(testSPS, testPPS, nil)

	c := &collector{}
	p.Packetize(Sample{Data: annexB([]byte{0x09, 0xF0}, nalu(0x41, 40))}, c.sink)
	packets := c.packets(t)
	require.Len(t, packets, 1)
	assert.Equal(t, byte(0x41), packets[0].Payload[0])
}

func TestH264Packetizer_SequenceAcrossSamples(t *testing.T) {
	p := NewH264Packetizer(188)
	p.Configure(testSPS, testPPS, nil)

	c := &collector{}
	for i := 0; i < 5; i++ {
		p.Packetize(Sample{Data: annexB(nalu(0x41, 100+i*150)), TimestampUs: int64(i) * 33_333}, c.sink)
	}

	packets := c.packets(t)
	for i := 1; i < len(packets); i++ {
		assert.Equal(t, packets[i-1].SequenceNumber+1, packets[i].SequenceNumber)
		assert.GreaterOrEqual(t, packets[i].Timestamp, packets[i-1].Timestamp)
	}
}
