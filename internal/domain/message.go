package domain

import (
	"encoding/json"
	"errors"
)

var (
	ErrMessageNoSender   = errors.New("message sender missing")
	ErrMessageNoReceiver = errors.New("message receiver missing")
	ErrMessageEmpty      = errors.New("message has neither text nor image")
)

// ChatMessage is a realtime chat event. Raw keeps the client payload so it can be
// forwarded verbatim; the parsed fields are only used for routing.
type ChatMessage struct {
	SenderID   UserID
	ReceiverID UserID
	Text       string
	Image      string
	Raw        json.RawMessage
}

func (m ChatMessage) Validate() error {
	if m.SenderID == "" {
		return ErrMessageNoSender
	}
	if m.ReceiverID == "" {
		return ErrMessageNoReceiver
	}
	if m.Text == "" && m.Image == "" {
		return ErrMessageEmpty
	}
	return nil
}
