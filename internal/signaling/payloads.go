package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var errInvalidSDPType = errors.New("signaling: invalid session description type")

// SDP is the JSON form of an RTCSessionDescription.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w %q", errInvalidSDPType, s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is the JSON form of an RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// EncodeDescription renders desc as an offer/answer envelope payload.
func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	b, err := json.Marshal(SDPFromPion(desc))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeDescription parses an offer/answer payload and checks its type.
func DecodeDescription(payload string, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var wire SDP
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode session description: %w", err)
	}
	desc, err := wire.ToPion()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if desc.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: got %s, want %s", errInvalidSDPType, desc.Type, want)
	}
	if desc.SDP == "" {
		return webrtc.SessionDescription{}, errors.New("signaling: missing session description sdp")
	}
	return desc, nil
}

func EncodeCandidate(init webrtc.ICECandidateInit) (string, error) {
	b, err := json.Marshal(CandidateFromPion(init))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeCandidate(payload string) (webrtc.ICECandidateInit, error) {
	var wire Candidate
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("decode candidate: %w", err)
	}
	return wire.ToPion(), nil
}

// ErrorPayload is carried by TypeError envelopes.
type ErrorPayload struct {
	Peer   string `json:"peer"`
	Reason string `json:"reason"`
}

func EncodeError(peer, reason string) string {
	b, _ := json.Marshal(ErrorPayload{Peer: peer, Reason: reason})
	return string(b)
}

func DecodeError(payload string) (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return ErrorPayload{}, fmt.Errorf("decode error payload: %w", err)
	}
	return p, nil
}
