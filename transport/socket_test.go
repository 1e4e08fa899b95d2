package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtpcast/av/rtp"
)

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		input   string
		want    Protocol
		wantErr bool
	}{
		{"udp", ProtocolUDP, false},
		{"UDP", ProtocolUDP, false},
		{"tcp", ProtocolTCP, false},
		{" interleaved ", ProtocolTCP, false},
		{"quic", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProtocol(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProtocol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.String(), map[Protocol]string{ProtocolUDP: "udp", ProtocolTCP: "tcp"}[got])
		})
	}
}

func TestPortPairs_For(t *testing.T) {
	pairs := PortPairs{
		Video: Ports{RTP: 0, RTCP: 1},
		Audio: Ports{RTP: 2, RTCP: 3},
	}

	assert.Equal(t, 0, pairs.For(rtp.MediaVideo).For(false))
	assert.Equal(t, 1, pairs.For(rtp.MediaVideo).For(true))
	assert.Equal(t, 2, pairs.For(rtp.MediaAudio).For(false))
	assert.Equal(t, 3, pairs.For(rtp.MediaAudio).For(true))
	assert.True(t, Ports{}.IsZero())
	assert.False(t, pairs.Audio.IsZero())
}
