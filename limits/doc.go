// Package limits provides centralized size constants and validation functions
// for the RTP delivery engine.
//
// # Packet Size Hierarchy
//
//   - EthernetMTU (1500 bytes): the link MTU assumed for UDP delivery.
//
//   - DefaultMTU (1472 bytes): the largest RTP packet a packetizer emits, leaving
//     room for the IPv4 and UDP headers.
//
//   - RTPHeaderSize (12 bytes): the fixed RTP header. Payload budgets are always
//     MTU - RTPHeaderSize, see MaxPayload.
//
//   - InterleavedHeaderSize (4 bytes): the per-frame prefix added in TCP
//     interleaved mode. It is counted in bitrate accounting but not in the MTU.
//
// # Queue Sizing
//
// The frame queue is sized in frames, not bytes. CacheCapacity derives the
// capacity once from a byte budget (10MB by default) divided by the MTU:
//
//	capacity := limits.CacheCapacity(limits.DefaultCacheBytes, limits.DefaultMTU)
//
// # Validation Functions
//
//	if err := limits.ValidateSample(sample); err != nil {
//	    if errors.Is(err, limits.ErrSampleEmpty) {
//	        // nothing to send
//	    }
//	}
package limits
