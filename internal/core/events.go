package core

import (
	"encoding/json"
	"fmt"
)

// Outbound event names, as listened for by clients.
const (
	EvOnlineUsers   = "onlineUsers"
	EvNewMessage    = "newMessage"
	EvMessageSent   = "messageSent"
	EvIncomingCall  = "incomingCall"
	EvCallAccepted  = "callAccepted"
	EvCallRejected  = "call-rejected"
	EvCallEnded     = "call-ended"
	EvCallEndedAlt  = "callEnded"
	EvRTCIncoming   = "webrtc:incoming-call"
	EvRTCAccepted   = "webrtc:call-accepted"
	EvRTCRejected   = "webrtc:call-rejected"
	EvRTCEnded      = "webrtc:call-ended"
	EvRTCOffer      = "webrtc:offer"
	EvRTCAnswer     = "webrtc:answer"
	EvRTCCandidate  = "webrtc:ice-candidate"
	EvRTCJoined     = "webrtc:participant-joined"
	EvRTCLeft       = "webrtc:participant-left"
	EvRTCError      = "webrtc:error"
)

// Error codes carried by webrtc:error. Stable, clients switch on them.
const (
	CodeUserOffline        = "USER_OFFLINE"
	CodeTargetOffline      = "TARGET_OFFLINE"
	CodeCallerOffline      = "CALLER_OFFLINE"
	CodeCallerDisconnected = "CALLER_DISCONNECTED"
	CodeCallNotFound       = "CALL_NOT_FOUND"
	CodeCallInProgress     = "CALL_IN_PROGRESS"
	CodeNotRegistered      = "NOT_REGISTERED"
	CodeBadPayload         = "BAD_PAYLOAD"
	CodeUnknownEvent       = "UNKNOWN_EVENT"
	CodeRateLimited        = "RATE_LIMITED"
)

// End reasons attached to call-ended notifications.
const (
	ReasonPeerDisconnected = "PEER_DISCONNECTED"
	ReasonMissed           = "MISSED"
	ReasonTerminated       = "TERMINATED"
	ReasonSuperseded       = "SUPERSEDED"
)

// Event is the wire envelope for both directions.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func NewEvent(t string, payload any) Event {
	return Event{Type: t, Payload: payload}
}

func (e Event) Encode() (Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	return b, nil
}

type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

func ErrorEvent(code, msg, target string) Event {
	return NewEvent(EvRTCError, ErrorPayload{Code: code, Message: msg, TargetUserID: target})
}
