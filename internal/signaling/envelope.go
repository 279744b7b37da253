package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type EnvelopeType string

const (
	TypeWelcome    EnvelopeType = "welcome"
	TypeOffer      EnvelopeType = "offer"
	TypeAnswer     EnvelopeType = "answer"
	TypeCandidate  EnvelopeType = "candidate"
	TypeText       EnvelopeType = "text"
	TypeEnterGroup EnvelopeType = "entergroup"
	TypeClientList EnvelopeType = "clientList"
	// TypeError is sent by the relay when an envelope could not be delivered.
	TypeError EnvelopeType = "error"
)

// ServerSender is the sender of envelopes that originate at the relay.
const ServerSender = "server"

var (
	ErrUnknownType   = errors.New("signaling: unknown envelope type")
	ErrMissingTarget = errors.New("signaling: missing target")
	ErrEmptyPayload  = errors.New("signaling: empty payload")
)

// Envelope is the unit of exchange on the control connection.
type Envelope struct {
	Type    EnvelopeType `json:"type"`
	Sender  string       `json:"sender"`
	Target  string       `json:"target"`
	Payload string       `json:"payload"`
}

// Routed reports whether t is relayed from one peer to another.
func (t EnvelopeType) Routed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeText:
		return true
	}
	return false
}

func (t EnvelopeType) known() bool {
	switch t {
	case TypeWelcome, TypeOffer, TypeAnswer, TypeCandidate, TypeText, TypeEnterGroup, TypeClientList, TypeError:
		return true
	}
	return false
}

// ParseEnvelope decodes exactly one envelope. Unknown fields and trailing data
// are rejected.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := decodeStrictJSON(data, &env); err != nil {
		return Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Validate() error {
	if !e.Type.known() {
		return fmt.Errorf("%w %q", ErrUnknownType, e.Type)
	}
	if e.Type.Routed() && e.Target == "" {
		return fmt.Errorf("%s: %w", e.Type, ErrMissingTarget)
	}
	switch e.Type {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeEnterGroup:
		if e.Payload == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrEmptyPayload)
		}
	}
	return nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseClientList splits a clientList payload, dropping blanks, duplicates and
// self.
func ParseClientList(payload, self string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, key := range strings.Split(payload, ",") {
		key = strings.TrimSpace(key)
		if key == "" || key == self {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// FormatClientList is the inverse of ParseClientList.
func FormatClientList(keys []string) string {
	return strings.Join(keys, ",")
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
