package config

import "testing"

func TestMinWebRTCSCTPReceiveBufferBytes(t *testing.T) {
	if got := minWebRTCSCTPReceiveBufferBytes(100); got != sctpMinReceiveBufferBytes {
		t.Fatalf("min(100)=%d, want %d", got, sctpMinReceiveBufferBytes)
	}
	if got := minWebRTCSCTPReceiveBufferBytes(MaxTransferChunkBytes); got != MaxTransferChunkBytes {
		t.Fatalf("min(%d)=%d, want %d", MaxTransferChunkBytes, got, MaxTransferChunkBytes)
	}
}

func TestDefaultWebRTCSCTPMaxReceiveBufferBytes(t *testing.T) {
	if got := defaultWebRTCSCTPMaxReceiveBufferBytes(DefaultTransferHighWaterMarkBytes); got != DefaultWebRTCSCTPMaxReceiveBufferBytes {
		t.Fatalf("default(%d)=%d, want %d", DefaultTransferHighWaterMarkBytes, got, DefaultWebRTCSCTPMaxReceiveBufferBytes)
	}
	hwm := 4 << 20
	if got := defaultWebRTCSCTPMaxReceiveBufferBytes(hwm); got != 2*hwm {
		t.Fatalf("default(%d)=%d, want %d", hwm, got, 2*hwm)
	}
}
