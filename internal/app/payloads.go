package app

import (
	"encoding/json"

	"github.com/dkeye/chatrelay/internal/domain"
)

// Outbound payload shapes for call signaling. Both event families share them;
// the fields one family does not read are simply ignored by its clients.

type IncomingCallPayload struct {
	CallID     domain.CallID   `json:"callId"`
	CallerID   domain.UserID   `json:"callerId"`
	CallerName string          `json:"callerName,omitempty"`
	CallType   domain.CallKind `json:"callType"`
	IsGroup    bool            `json:"isGroup"`
	RoomID     string          `json:"roomId"`
}

type CallAcceptedPayload struct {
	CallID   domain.CallID   `json:"callId"`
	UserID   domain.UserID   `json:"userId"`
	UserName string          `json:"userName,omitempty"`
	RoomID   string          `json:"roomId"`
	Answer   json.RawMessage `json:"answer,omitempty"`
}

type CallRejectedPayload struct {
	CallID   domain.CallID `json:"callId"`
	From     domain.UserID `json:"from"`
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

type CallEndedPayload struct {
	CallID domain.CallID `json:"callId"`
	From   domain.UserID `json:"from,omitempty"`
	UserID domain.UserID `json:"userId,omitempty"`
	RoomID string        `json:"roomId"`
	Reason string        `json:"reason,omitempty"`
}

type ParticipantPayload struct {
	CallID   domain.CallID `json:"callId"`
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName,omitempty"`
}

// NegotiationPayload carries exactly one of the opaque blobs, untouched.
type NegotiationPayload struct {
	CallID    domain.CallID   `json:"callId"`
	CallerID  domain.UserID   `json:"callerId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
