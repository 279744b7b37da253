// Package signaling implements the relay side of peer discovery: the JSON
// envelope exchanged over the control WebSocket, the SDP and ICE candidate
// payloads carried inside it, and the hub that routes envelopes between
// connected peer keys and groups.
package signaling
