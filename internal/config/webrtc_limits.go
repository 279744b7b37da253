package config

// DefaultWebRTCSCTPMaxReceiveBufferBytes is the floor for the auto-derived SCTP
// receive buffer.
const DefaultWebRTCSCTPMaxReceiveBufferBytes = 1 << 20 // 1MiB

// pion/sctp rejects association setup below this buffer size.
const sctpMinReceiveBufferBytes = 1500

// minWebRTCSCTPReceiveBufferBytes is the smallest buffer that still holds one
// full file chunk.
func minWebRTCSCTPReceiveBufferBytes(chunkBytes int) int {
	if chunkBytes < sctpMinReceiveBufferBytes {
		return sctpMinReceiveBufferBytes
	}
	return chunkBytes
}

// defaultWebRTCSCTPMaxReceiveBufferBytes sizes the buffer so a sender running
// right at its high-water mark does not immediately stall the association.
func defaultWebRTCSCTPMaxReceiveBufferBytes(highWaterMarkBytes int) int {
	buf := DefaultWebRTCSCTPMaxReceiveBufferBytes
	if twice := highWaterMarkBytes * 2; twice > buf {
		buf = twice
	}
	return buf
}
