package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Inbound event names.
const (
	evUserConnected     = "userConnected"
	evSendMessage       = "sendMessage"
	evStartCall         = "startCall"
	evAnswerCall        = "answerCall"
	evRejectCall        = "reject-call"
	evRejectCallAlias   = "rejectCall"
	evEndCall           = "end-call"
	evEndCallAlias      = "endCall"
	evRTCInitiate       = "webrtc:initiate-call"
	evRTCAddParticipant = "webrtc:add-participant"
	evRTCAccept         = "webrtc:accept-call"
	evRTCReject         = "webrtc:reject-call"
	evRTCEnd            = "webrtc:end-call"
	evRTCOffer          = "webrtc:offer"
	evRTCAnswer         = "webrtc:answer"
	evRTCCandidate      = "webrtc:ice-candidate"
	evPing              = "ping"
	evPong              = "pong"
)

var (
	errBadPayload   = errors.New("bad payload")
	errUnknownEvent = errors.New("unknown event")
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func badPayload(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadPayload, fmt.Sprintf(format, args...))
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return badPayload("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badPayload("%v", err)
	}
	return nil
}

type userConnectedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type sendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Image      string `json:"image"`
}

func (p sendMessagePayload) message(raw json.RawMessage) (domain.ChatMessage, error) {
	msg := domain.ChatMessage{
		SenderID:   domain.UserID(p.SenderID),
		ReceiverID: domain.UserID(p.ReceiverID),
		Text:       p.Text,
		Image:      p.Image,
		Raw:        raw,
	}
	if err := msg.Validate(); err != nil {
		return domain.ChatMessage{}, badPayload("%v", err)
	}
	return msg, nil
}

// callKind resolves callType, falling back to the older "type" field.
func callKind(callType, legacy string) (domain.CallKind, error) {
	raw := callType
	if raw == "" {
		raw = legacy
	}
	k, err := domain.ParseCallKind(raw)
	if err != nil {
		return "", badPayload("%v", err)
	}
	return k, nil
}

func requireUser(field, raw string) (domain.UserID, error) {
	uid, err := domain.ParseUserID(raw)
	if err != nil {
		return "", badPayload("%s: %v", field, err)
	}
	return uid, nil
}

type startCallPayload struct {
	RecipientID string `json:"recipientId"`
	CallType    string `json:"callType"`
	Type        string `json:"type"`
}

type answerCallPayload struct {
	To     string `json:"to"`
	Answer *bool  `json:"answer"`
	RoomID string `json:"roomId"`
}

// accepted treats a missing answer as acceptance.
func (p answerCallPayload) accepted() bool {
	return p.Answer == nil || *p.Answer
}

type legacyPairPayload struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Reason string `json:"reason"`
}

type rtcInitiatePayload struct {
	TargetUserID string `json:"targetUserId"`
	IsGroup      bool   `json:"isGroup"`
	CallType     string `json:"callType"`
	Type         string `json:"type"`
}

type rtcTargetPayload struct {
	TargetUserID string `json:"targetUserId"`
	Reason       string `json:"reason"`
}

type rtcCallerPayload struct {
	CallerID string          `json:"callerId"`
	Reason   string          `json:"reason"`
	Answer   json.RawMessage `json:"answer"`
}

type negotiationPayload struct {
	TargetUserID string          `json:"targetUserId"`
	Offer        json.RawMessage `json:"offer"`
	Answer       json.RawMessage `json:"answer"`
	Candidate    json.RawMessage `json:"candidate"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

type descriptionShape struct {
	Type webrtc.SDPType `json:"type"`
	SDP  *string        `json:"sdp"`
}

// checkDescription verifies blob has the shape of an RTCSessionDescriptionInit:
// a known type and a string sdp. The body is opaque and forwarded untouched.
func checkDescription(blob json.RawMessage) error {
	var d descriptionShape
	if err := json.Unmarshal(blob, &d); err != nil {
		return badPayload("session description: %v", err)
	}
	switch d.Type {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
		if d.SDP == nil {
			return badPayload("session description: missing sdp")
		}
	case webrtc.SDPTypeRollback:
	default:
		return badPayload("session description: unknown type")
	}
	return nil
}

// checkCandidate accepts an RTCIceCandidateInit object. An empty candidate
// string signals end of candidates and is valid.
func checkCandidate(blob json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(blob, &ci); err != nil {
		return badPayload("ice candidate: %v", err)
	}
	return nil
}
