package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid call transition")
	ErrUnknownCallKind   = errors.New("unknown call kind")
	ErrUnknownCallStatus = errors.New("unknown call status")
)

type CallID string

type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// ParseCallKind defaults to video, which is what clients assume when they omit the field.
func ParseCallKind(s string) (CallKind, error) {
	switch CallKind(strings.ToLower(s)) {
	case "", CallVideo:
		return CallVideo, nil
	case CallAudio:
		return CallAudio, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCallKind, s)
}

type CallStatus string

const (
	StatusPending  CallStatus = "pending"
	StatusAccepted CallStatus = "accepted"
	StatusRejected CallStatus = "rejected"
	StatusEnded    CallStatus = "ended"
	StatusMissed   CallStatus = "missed"
)

func ParseCallStatus(s string) (CallStatus, error) {
	switch st := CallStatus(s); st {
	case StatusPending, StatusAccepted, StatusRejected, StatusEnded, StatusMissed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCallStatus, s)
}

func (s CallStatus) Terminal() bool {
	return s == StatusEnded || s == StatusRejected || s == StatusMissed
}

func (s CallStatus) Live() bool {
	return s == StatusPending || s == StatusAccepted
}

// CanTransition encodes the call lifecycle; terminal statuses are absorbing.
func (s CallStatus) CanTransition(to CallStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusAccepted || to == StatusRejected || to == StatusMissed || to == StatusEnded
	case StatusAccepted:
		return to == StatusEnded
	}
	return false
}

// Dialect records which family of client events drives a call, so that
// notifications go out under the names the client listens for.
type Dialect int

const (
	DialectLegacy Dialect = iota // startCall / answerCall / reject-call / end-call
	DialectCamel                 // rejectCall / endCall aliases
	DialectWebRTC                // webrtc:* events
)

type Call struct {
	ID         CallID     `json:"id"`
	RoomID     string     `json:"roomId"`
	Caller     UserID     `json:"callerId"`
	CallerName string     `json:"callerName,omitempty"`
	Recipients []UserID   `json:"recipientIds"`
	Kind       CallKind   `json:"callType"`
	Group      bool       `json:"isGroup"`
	Dialect    Dialect    `json:"-"`
	Status     CallStatus `json:"status"`
	EndReason  string     `json:"endReason,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	AnsweredAt time.Time  `json:"answeredAt,omitzero"`
	EndedAt    time.Time  `json:"endedAt,omitzero"`
}

// RoomIDFor derives the 1:1 session token from the ordered (caller, recipient) pair,
// so both sides agree on it without a round trip.
func RoomIDFor(caller, recipient UserID) string {
	return string(caller) + "-" + string(recipient)
}

// Transition moves the call to status `to`, stamping answer/end times.
func (c *Call) Transition(to CallStatus, at time.Time) error {
	if !c.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	switch {
	case to == StatusAccepted:
		c.AnsweredAt = at
	case to.Terminal():
		c.EndedAt = at
	}
	return nil
}

func (c *Call) HasRecipient(u UserID) bool {
	return slices.Contains(c.Recipients, u)
}

func (c *Call) Involves(u UserID) bool {
	return c.Caller == u || c.HasRecipient(u)
}

// Others returns every party except u, caller first.
func (c *Call) Others(u UserID) []UserID {
	out := make([]UserID, 0, len(c.Recipients))
	if c.Caller != u {
		out = append(out, c.Caller)
	}
	for _, r := range c.Recipients {
		if r != u {
			out = append(out, r)
		}
	}
	return out
}

func (c *Call) RemoveRecipient(u UserID) {
	c.Recipients = slices.DeleteFunc(c.Recipients, func(r UserID) bool { return r == u })
}

// Clone returns a copy that does not share the recipients slice.
func (c *Call) Clone() Call {
	cp := *c
	cp.Recipients = slices.Clone(c.Recipients)
	return cp
}
