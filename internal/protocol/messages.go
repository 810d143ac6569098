package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSynthesize MessageType = "synthesize"
	TypeAudioReady MessageType = "audio_ready"
	TypeErrorEvent MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Synthesize is the only client message. SpeakingRate 0 means 1.0.
type Synthesize struct {
	Type         MessageType `json:"type"`
	RequestID    string      `json:"request_id,omitempty"`
	Text         string      `json:"text"`
	Voice        string      `json:"voice"`
	SpeakingRate float32     `json:"speaking_rate,omitempty"`
	Format       string      `json:"format,omitempty"`
	MaxLength    *uint64     `json:"max_length,omitempty"`
}

// AudioReady precedes the binary frame carrying Bytes bytes of audio.
type AudioReady struct {
	Type        MessageType `json:"type"`
	RequestID   string      `json:"request_id"`
	ContentType string      `json:"content_type"`
	Bytes       int         `json:"bytes"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSynthesize:
		var msg Synthesize
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" || strings.TrimSpace(msg.Voice) == "" {
			return nil, errors.New("invalid synthesize: text and voice are required")
		}
		if msg.SpeakingRate < 0 {
			return nil, errors.New("invalid synthesize: speaking_rate must not be negative")
		}
		if msg.SpeakingRate == 0 {
			msg.SpeakingRate = 1.0
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
