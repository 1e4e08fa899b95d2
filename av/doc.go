// Package av implements the real-time delivery engine: the Sender
// orchestrator, its bounded frame queue and the bitrate monitor.
//
// # Data Flow
//
// SendVideoFrame and SendAudioFrame run the media packetizer on the caller's
// goroutine. Each RTP frame is pushed into a bounded FIFO without blocking;
// when the queue is full the frame is discarded and the drop counter of its
// media incremented. A single transmit goroutine pops frames, writes them to
// the transport socket, feeds the bitrate monitor and the RTCP Sender Report
// generator. A second goroutine reports the outgoing bitrate once per second.
// Both goroutines belong to one errgroup, so a transport failure in the
// transmit loop also ends the bitrate loop.
//
// # Lifecycle
//
//	Idle --Start--> Running --Stop--> Idle
//	                Running --write error--> Idle (OnConnectionFailed)
//
// Start and Stop are serialized. Stop is synchronous: on return both loops
// have exited, the socket is closed, counters are zero and the queue is empty.
//
// # Backpressure
//
// HasCongestion compares the queue occupancy to a percentage of its capacity
// and ResizeCache changes the capacity without reordering queued frames.
// OnKeyFrameRequest fires after a video drop so the encoder can restart the
// stream from a key frame.
//
// # Bitrate Accounting
//
// Every written frame counts len(frame)+Overhead() bytes, where the overhead
// is the 4-byte interleaved header in TCP mode and 0 in UDP mode. Sender
// Reports are counted the same way.
package av
