package av

import (
	"context"
	"sync"
	"time"

	"github.com/opd-ai/rtpcast/av/rtp"
)

// frameQueue is a bounded FIFO of frames with a non-blocking push.
// Push, pop, resize and clear share one lock, so FIFO order survives a resize.
type frameQueue struct {
	mu    sync.Mutex
	buf   []rtp.Frame
	head  int
	count int
	wake  chan struct{}
}

func newFrameQueue(capacity int) *frameQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &frameQueue{
		buf:  make([]rtp.Frame, capacity),
		wake: make(chan struct{}, 1),
	}
}

// Push appends a frame. It returns false, leaving the queue unchanged, when full.
func (q *frameQueue) Push(frame rtp.Frame) bool {
	q.mu.Lock()
	if q.count == len(q.buf) {
		q.mu.Unlock()
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = frame
	q.count++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest frame, waiting up to timeout for one to arrive.
// It returns false on timeout or when ctx is done.
func (q *frameQueue) Pop(ctx context.Context, timeout time.Duration) (rtp.Frame, bool) {
	if frame, ok := q.tryPop(); ok {
		return frame, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return rtp.Frame{}, false
		case <-timer.C:
			return q.tryPop()
		case <-q.wake:
			if frame, ok := q.tryPop(); ok {
				return frame, true
			}
		}
	}
}

func (q *frameQueue) tryPop() (rtp.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return rtp.Frame{}, false
	}
	frame := q.buf[q.head]
	q.buf[q.head] = rtp.Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return frame, true
}

// Len returns the number of queued frames.
func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the capacity in frames.
func (q *frameQueue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Clear drops every queued frame.
func (q *frameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	clear(q.buf)
	q.head = 0
	q.count = 0
}

// Resize moves the queued frames, in order, into a buffer of the new capacity.
func (q *frameQueue) Resize(capacity int) error {
	if capacity < 0 {
		return ErrInvalidArgument
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if capacity < q.count {
		return ErrCacheTooSmall
	}

	buf := make([]rtp.Frame, capacity)
	for i := 0; i < q.count; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
	return nil
}
