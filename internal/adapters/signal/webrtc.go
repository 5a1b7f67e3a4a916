package signal

import (
	"encoding/json"

	"github.com/dkeye/chatrelay/internal/app"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
)

func (ctl *SignalWSController) handleRTCInitiate(id core.ConnID, raw json.RawMessage) error {
	var p rtcInitiatePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	target, err := requireUser("targetUserId", p.TargetUserID)
	if err != nil {
		return err
	}
	kind, err := callKind(p.CallType, p.Type)
	if err != nil {
		return err
	}
	ctl.Orch.Initiate(id, app.InitiateRequest{Target: target, Kind: kind, Group: p.IsGroup, Dialect: domain.DialectWebRTC})
	return nil
}

func (ctl *SignalWSController) handleRTCAddParticipant(id core.ConnID, raw json.RawMessage) error {
	var p rtcTargetPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	target, err := requireUser("targetUserId", p.TargetUserID)
	if err != nil {
		return err
	}
	ctl.Orch.AddParticipant(id, target)
	return nil
}

func (ctl *SignalWSController) handleRTCAccept(id core.ConnID, raw json.RawMessage) error {
	var p rtcCallerPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	caller, err := requireUser("callerId", p.CallerID)
	if err != nil {
		return err
	}
	var answer json.RawMessage
	if present(p.Answer) {
		if err := checkDescription(p.Answer); err != nil {
			return err
		}
		answer = p.Answer
	}
	ctl.Orch.Accept(id, caller, domain.DialectWebRTC, answer)
	return nil
}

func (ctl *SignalWSController) handleRTCReject(id core.ConnID, raw json.RawMessage) error {
	var p rtcCallerPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	caller, err := requireUser("callerId", p.CallerID)
	if err != nil {
		return err
	}
	ctl.Orch.Reject(id, caller, domain.DialectWebRTC, p.Reason)
	return nil
}

// handleRTCEnd ends calls with targetUserId, or every live call of the sender
// when the target is omitted.
func (ctl *SignalWSController) handleRTCEnd(id core.ConnID, raw json.RawMessage) error {
	var p rtcTargetPayload
	if present(raw) {
		if err := decode(raw, &p); err != nil {
			return err
		}
	}
	var target domain.UserID
	if p.TargetUserID != "" {
		t, err := requireUser("targetUserId", p.TargetUserID)
		if err != nil {
			return err
		}
		target = t
	}
	ctl.Orch.End(id, target, domain.DialectWebRTC, p.Reason)
	return nil
}

func (ctl *SignalWSController) handleOffer(id core.ConnID, raw json.RawMessage) error {
	target, p, err := decodeNegotiation(raw)
	if err != nil {
		return err
	}
	if !present(p.Offer) {
		return badPayload("offer missing")
	}
	if err := checkDescription(p.Offer); err != nil {
		return err
	}
	ctl.Orch.Negotiate(id, app.NegotiationOffer, target, p.Offer)
	return nil
}

func (ctl *SignalWSController) handleAnswer(id core.ConnID, raw json.RawMessage) error {
	target, p, err := decodeNegotiation(raw)
	if err != nil {
		return err
	}
	if !present(p.Answer) {
		return badPayload("answer missing")
	}
	if err := checkDescription(p.Answer); err != nil {
		return err
	}
	ctl.Orch.Negotiate(id, app.NegotiationAnswer, target, p.Answer)
	return nil
}

func (ctl *SignalWSController) handleCandidate(id core.ConnID, raw json.RawMessage) error {
	target, p, err := decodeNegotiation(raw)
	if err != nil {
		return err
	}
	if !present(p.Candidate) {
		return badPayload("candidate missing")
	}
	if err := checkCandidate(p.Candidate); err != nil {
		return err
	}
	ctl.Orch.Negotiate(id, app.NegotiationCandidate, target, p.Candidate)
	return nil
}

func decodeNegotiation(raw json.RawMessage) (domain.UserID, negotiationPayload, error) {
	var p negotiationPayload
	if err := decode(raw, &p); err != nil {
		return "", p, err
	}
	target, err := requireUser("targetUserId", p.TargetUserID)
	return target, p, err
}
