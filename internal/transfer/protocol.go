// Package transfer moves files and short text messages over an ordered,
// reliable, message-oriented channel.
//
// A file is sent as a metadata control message, a run of binary chunks of at
// most MaxChunkSize bytes, and the text sentinel "END":
//
//	{"type":"metadata","data":{"fileName":"a.txt","fileType":"text/plain"}}
//	<binary chunk> ... <binary chunk>
//	END
//
// Text is a single control message {"type":"text","data":"..."}.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// MaxChunkSize is the largest binary message a sender emits and a receiver
	// accepts.
	MaxChunkSize = 16 * 1024
	// DefaultHighWaterMark is the channel buffered amount above which the
	// sender pauses until the drain signal.
	DefaultHighWaterMark = 64 * 1024

	EndSentinel = "END"

	controlTypeMetadata = "metadata"
	controlTypeText     = "text"
)

var (
	ErrProtocolViolation  = errors.New("transfer: protocol violation")
	ErrTransferInProgress = errors.New("transfer: a transfer is already in progress")
	ErrClosed             = errors.New("transfer: engine closed")
)

// ProtocolError describes why an inbound message sequence was rejected.
type ProtocolError struct {
	Reason string
	// File is the name from the aborted transfer's metadata, if any.
	File string
}

func (e *ProtocolError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%v: %s (file %q)", ErrProtocolViolation, e.Reason, e.File)
	}
	return fmt.Sprintf("%v: %s", ErrProtocolViolation, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocolViolation }

// Metadata announces the file that follows.
type Metadata struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type controlMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func encodeMetadata(md Metadata) (string, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(controlMessage{Type: controlTypeMetadata, Data: data})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeText(text string) (string, error) {
	data, err := json.Marshal(text)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(controlMessage{Type: controlTypeText, Data: data})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// File is a fully reassembled transfer.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}
