// Package limits provides centralized size limits for RTP delivery.
// This ensures consistent packet sizing and validation across packetizers,
// transport sockets and the frame queue.
package limits

import (
	"errors"
	"fmt"
)

const (
	// EthernetMTU is the link MTU the default packet size is derived from.
	EthernetMTU = 1500

	// IPUDPOverhead is the IPv4 (20 bytes) plus UDP (8 bytes) header size
	IPUDPOverhead = 28

	// DefaultMTU is the largest RTP packet (header + payload) a packetizer emits
	// by default: EthernetMTU - IPUDPOverhead.
	DefaultMTU = EthernetMTU - IPUDPOverhead

	// MinMTU is the smallest MTU that still leaves room for fragmentation headers
	MinMTU = RTPHeaderSize + 16

	// RTPHeaderSize is the fixed RTP header size (no CSRC, no extension)
	RTPHeaderSize = 12

	// InterleavedHeaderSize is the '$' + channel + 16-bit length prefix used
	// when RTP/RTCP is carried on the RTSP connection (RFC 2326 §10.12).
	InterleavedHeaderSize = 4

	// MaxInterleavedPayload is the largest payload a 16-bit length field can carry
	MaxInterleavedPayload = 0xFFFF

	// DefaultCacheBytes is the memory budget the frame queue capacity is derived from
	DefaultCacheBytes = 10 * 1024 * 1024

	// MaxSampleSize bounds a single encoded sample (8MB)
	// This prevents a runaway encoder from exhausting memory in one call
	MaxSampleSize = 8 * 1024 * 1024
)

var (
	// ErrSampleEmpty indicates an empty sample buffer was provided
	ErrSampleEmpty = errors.New("empty sample")

	// ErrSampleTooLarge indicates a sample exceeds MaxSampleSize
	ErrSampleTooLarge = errors.New("sample too large")

	// ErrMTUTooSmall indicates an MTU below MinMTU
	ErrMTUTooSmall = errors.New("mtu too small")
)

// ValidateSample validates an encoded sample against MaxSampleSize.
// Returns an error with context including the actual and maximum sizes.
func ValidateSample(data []byte) error {
	if len(data) == 0 {
		return ErrSampleEmpty
	}
	if len(data) > MaxSampleSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrSampleTooLarge, len(data), MaxSampleSize)
	}
	return nil
}

// ValidateMTU checks that an MTU leaves room for the RTP header and the
// largest fragmentation header any packetizer uses.
func ValidateMTU(mtu int) error {
	if mtu < MinMTU {
		return fmt.Errorf("%w: %d is below %d", ErrMTUTooSmall, mtu, MinMTU)
	}
	return nil
}

// MaxPayload returns the RTP payload budget for the given MTU.
func MaxPayload(mtu int) int {
	return mtu - RTPHeaderSize
}

// CacheCapacity converts a byte budget into a queue capacity in frames.
// A non-positive budget or MTU falls back to the defaults.
func CacheCapacity(cacheBytes, mtu int) int {
	if cacheBytes <= 0 {
		cacheBytes = DefaultCacheBytes
	}
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return cacheBytes / mtu
}
