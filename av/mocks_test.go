package av

import (
	"errors"
	"io"
	"sync"

	"github.com/opd-ai/rtpcast/av/rtp"
	"github.com/opd-ai/rtpcast/transport"
)

var errMockClosed = errors.New("mock socket closed")

// mockSocket records every frame written through it.
type mockSocket struct {
	mu       sync.Mutex
	frames   []rtp.Frame
	overhead int
	err      error         // returned by every SendFrame when set
	gate     chan struct{} // when set, SendFrame waits for a value or Close
	entered  int           // SendFrame calls started
	closed   bool
	done     chan struct{}
	dest     io.Writer
	host     string
}

func newMockSocket(overhead int) *mockSocket {
	return &mockSocket{
		overhead: overhead,
		done:     make(chan struct{}),
	}
}

func (m *mockSocket) SetDataStream(w io.Writer, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.host != "" || m.dest != nil {
		return transport.ErrDestinationSet
	}
	m.dest, m.host = w, host
	return nil
}

func (m *mockSocket) SendFrame(frame rtp.Frame) error {
	m.mu.Lock()
	m.entered++
	gate, closed, err := m.gate, m.closed, m.err
	m.mu.Unlock()

	if closed {
		return errMockClosed
	}
	if err != nil {
		return err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-m.done:
			return errMockClosed
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
	return nil
}

func (m *mockSocket) Overhead() int {
	return m.overhead
}

func (m *mockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *mockSocket) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSocket) sendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entered
}

// rtpFrames returns the recorded RTP (non-RTCP) frames.
func (m *mockSocket) rtpFrames() []rtp.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rtp.Frame
	for _, f := range m.frames {
		if !f.RTCP {
			out = append(out, f)
		}
	}
	return out
}

func (m *mockSocket) allFrames() []rtp.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rtp.Frame(nil), m.frames...)
}

// fixedSSRCProvider hands out consecutive SSRCs starting at next.
type fixedSSRCProvider struct {
	mu   sync.Mutex
	next uint32
}

func (p *fixedSSRCProvider) GenerateSSRC() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ssrc := p.next
	p.next++
	return ssrc, nil
}
