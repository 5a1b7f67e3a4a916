package signal

import (
	"encoding/json"

	"github.com/dkeye/chatrelay/internal/app"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
)

func (ctl *SignalWSController) handleStartCall(id core.ConnID, raw json.RawMessage) error {
	var p startCallPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	target, err := requireUser("recipientId", p.RecipientID)
	if err != nil {
		return err
	}
	kind, err := callKind(p.CallType, p.Type)
	if err != nil {
		return err
	}
	ctl.Orch.Initiate(id, app.InitiateRequest{Target: target, Kind: kind, Dialect: domain.DialectLegacy})
	return nil
}

// handleAnswerCall accepts, or rejects when answer is false.
func (ctl *SignalWSController) handleAnswerCall(id core.ConnID, raw json.RawMessage) error {
	var p answerCallPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	caller, err := requireUser("to", p.To)
	if err != nil {
		return err
	}
	if !p.accepted() {
		ctl.Orch.Reject(id, caller, domain.DialectLegacy, "")
		return nil
	}
	ctl.Orch.Accept(id, caller, domain.DialectLegacy, nil)
	return nil
}

func (ctl *SignalWSController) handleRejectCall(id core.ConnID, raw json.RawMessage, d domain.Dialect) error {
	var p legacyPairPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	caller, err := requireUser("to", p.To)
	if err != nil {
		return err
	}
	ctl.Orch.Reject(id, caller, d, p.Reason)
	return nil
}

func (ctl *SignalWSController) handleEndCall(id core.ConnID, raw json.RawMessage, d domain.Dialect) error {
	var p legacyPairPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	target, err := requireUser("to", p.To)
	if err != nil {
		return err
	}
	ctl.Orch.End(id, target, d, p.Reason)
	return nil
}
