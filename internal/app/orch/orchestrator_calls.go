package orch

import (
	"encoding/json"

	"github.com/dkeye/chatrelay/internal/app"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
)

func (o *Orchestrator) Initiate(id core.ConnID, req app.InitiateRequest) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	from, ok := o.partyLocked(id)
	if !ok {
		return false
	}
	_, ok = o.Calls.Initiate(from, req)
	return ok
}

func (o *Orchestrator) AddParticipant(id core.ConnID, target domain.UserID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	from, ok := o.partyLocked(id)
	if !ok {
		return false
	}
	return o.Calls.AddParticipant(from, target)
}

func (o *Orchestrator) Accept(id core.ConnID, caller domain.UserID, d domain.Dialect, answer json.RawMessage) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	from, ok := o.partyLocked(id)
	if !ok {
		return false
	}
	return o.Calls.Accept(from, caller, d, answer)
}

func (o *Orchestrator) Reject(id core.ConnID, caller domain.UserID, d domain.Dialect, reason string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	from, ok := o.partyLocked(id)
	if !ok {
		return false
	}
	return o.Calls.Reject(from, caller, d, reason)
}

func (o *Orchestrator) Negotiate(id core.ConnID, kind app.NegotiationKind, target domain.UserID, blob json.RawMessage) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	from, ok := o.partyLocked(id)
	if !ok {
		return false
	}
	return o.Calls.Forward(from, kind, target, blob)
}

func (o *Orchestrator) End(id core.ConnID, target domain.UserID, d domain.Dialect, reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	from, ok := o.partyLocked(id)
	if !ok {
		return 0
	}
	return o.Calls.End(from, target, d, reason)
}

// MissCall is the entry point for ring-timeout policy.
func (o *Orchestrator) MissCall(callID domain.CallID, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Calls.Miss(callID, reason)
}

func (o *Orchestrator) TerminateCall(callID domain.CallID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Calls.Terminate(callID)
}

func (o *Orchestrator) Call(callID domain.CallID) (domain.Call, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Calls.Get(callID)
}

func (o *Orchestrator) LiveCalls() []domain.Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Calls.Live()
}
