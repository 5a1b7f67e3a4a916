package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/dkeye/chatrelay/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrCallNotFound = errors.New("call not found")

type NegotiationKind int

const (
	NegotiationOffer NegotiationKind = iota
	NegotiationAnswer
	NegotiationCandidate
)

func (k NegotiationKind) event() string {
	switch k {
	case NegotiationAnswer:
		return core.EvRTCAnswer
	case NegotiationCandidate:
		return core.EvRTCCandidate
	}
	return core.EvRTCOffer
}

type InitiateRequest struct {
	Target  domain.UserID
	Kind    domain.CallKind
	Group   bool
	Dialect domain.Dialect
}

// callEntry is a live call plus the connection that owns each party's side.
type callEntry struct {
	call   *domain.Call
	conns  map[domain.UserID]core.ConnID
	joined map[domain.UserID]bool
}

// Signaling is the per-call state machine. Only live calls are kept; a call
// leaves the table the moment it reaches a terminal status, so late events
// referencing it find nothing and are dropped.
//
// Signaling is not safe for concurrent use. The orchestrator serializes access.
type Signaling struct {
	reg      *Registry
	presence *Presence
	out      core.Sender
	metrics  *metrics.Metrics

	now   func() time.Time
	newID func() domain.CallID

	calls    map[domain.CallID]*callEntry
	onChange []func(domain.Call)
}

func NewSignaling(reg *Registry, presence *Presence, out core.Sender, m *metrics.Metrics) *Signaling {
	return &Signaling{
		reg:      reg,
		presence: presence,
		out:      out,
		metrics:  m,
		now:      time.Now,
		newID:    func() domain.CallID { return domain.CallID(uuid.NewString()) },
		calls:    make(map[domain.CallID]*callEntry),
	}
}

// OnChange registers fn to observe every created or mutated call.
func (s *Signaling) OnChange(fn func(domain.Call)) {
	s.onChange = append(s.onChange, fn)
}

// Initiate rings target. Nothing is created when the target is offline.
func (s *Signaling) Initiate(from core.Party, req InitiateRequest) (domain.CallID, bool) {
	if from.User.Anonymous() {
		s.fail(from, core.CodeNotRegistered, "identify before placing a call", "")
		return "", false
	}
	if req.Target == from.User {
		s.fail(from, core.CodeBadPayload, "cannot call yourself", string(req.Target))
		return "", false
	}
	if e := s.findOwned(from, req.Target); e != nil {
		s.fail(from, core.CodeCallInProgress, "a call to this user is already in progress", string(req.Target))
		return "", false
	}
	targetConn, ok := s.resolve(req.Target)
	if !ok {
		s.fail(from, core.CodeUserOffline, "user is offline", string(req.Target))
		return "", false
	}

	call := &domain.Call{
		ID:         s.newID(),
		Caller:     from.User,
		CallerName: from.Username,
		Recipients: []domain.UserID{req.Target},
		Kind:       req.Kind,
		Group:      req.Group,
		Dialect:    req.Dialect,
		Status:     domain.StatusPending,
		StartedAt:  s.now(),
	}
	if call.Group {
		call.RoomID = "group-" + string(call.ID)
	} else {
		call.RoomID = domain.RoomIDFor(from.User, req.Target)
	}
	e := &callEntry{
		call:   call,
		conns:  map[domain.UserID]core.ConnID{from.User: from.Conn, req.Target: targetConn},
		joined: make(map[domain.UserID]bool),
	}
	s.calls[call.ID] = e

	s.sendConn(targetConn, s.incomingEvent(call))
	s.metrics.CallTransition(string(domain.StatusPending))
	s.changed(call)
	log.Info().Str("module", "app.calls").Str("call", string(call.ID)).
		Str("caller", string(from.User)).Str("target", string(req.Target)).
		Str("kind", string(call.Kind)).Bool("group", call.Group).Msg("call ringing")
	return call.ID, true
}

// AddParticipant rings one more user into the caller's live group call.
func (s *Signaling) AddParticipant(from core.Party, target domain.UserID) bool {
	if from.User.Anonymous() {
		s.fail(from, core.CodeNotRegistered, "identify before placing a call", "")
		return false
	}
	groups := s.live(func(c *domain.Call) bool { return c.Group && c.Caller == from.User })
	if len(groups) == 0 {
		s.fail(from, core.CodeCallNotFound, "no group call to add to", string(target))
		return false
	}
	e := groups[len(groups)-1]
	if e.call.Involves(target) {
		s.fail(from, core.CodeCallInProgress, "user is already in the call", string(target))
		return false
	}
	conn, ok := s.resolve(target)
	if !ok {
		s.fail(from, core.CodeUserOffline, "user is offline", string(target))
		return false
	}
	e.call.Recipients = append(e.call.Recipients, target)
	e.conns[target] = conn
	s.sendConn(conn, s.incomingEvent(e.call))
	s.changed(e.call)
	log.Info().Str("module", "app.calls").Str("call", string(e.call.ID)).Str("target", string(target)).Msg("participant ringing")
	return true
}

// Accept answers a call from caller that is addressed to from.
func (s *Signaling) Accept(from core.Party, caller domain.UserID, d domain.Dialect, answer json.RawMessage) bool {
	if from.User.Anonymous() {
		s.fail(from, core.CodeNotRegistered, "identify before answering", "")
		return false
	}
	e := s.findAddressed(caller, from.User)
	callerConn, online := s.resolve(caller)
	if e == nil {
		if !online {
			s.fail(from, core.CodeCallerDisconnected, "caller is no longer connected", string(caller))
		} else {
			s.fail(from, core.CodeCallNotFound, "no pending call from this user", string(caller))
		}
		return false
	}
	call := e.call
	if !online {
		s.fail(from, core.CodeCallerDisconnected, "caller is no longer connected", string(caller))
		if call.Status == domain.StatusPending {
			s.finish(e, domain.StatusMissed, core.CodeCallerDisconnected)
		}
		return false
	}

	e.conns[from.User] = from.Conn
	e.joined[from.User] = true
	if call.Status == domain.StatusPending {
		s.transition(call, domain.StatusAccepted)
	}
	if !call.Group {
		s.dropCrossing(call)
	}

	name := core.EvCallAccepted
	if d == domain.DialectWebRTC {
		name = core.EvRTCAccepted
	}
	s.sendConn(callerConn, core.NewEvent(name, CallAcceptedPayload{
		CallID: call.ID, UserID: from.User, UserName: from.Username, RoomID: call.RoomID, Answer: answer,
	}))
	if call.Group {
		joined := core.NewEvent(core.EvRTCJoined, ParticipantPayload{CallID: call.ID, UserID: from.User, UserName: from.Username})
		for _, u := range call.Recipients {
			if u != from.User && e.joined[u] {
				s.emit(u, joined)
			}
		}
	}
	s.changed(call)
	log.Info().Str("module", "app.calls").Str("call", string(call.ID)).Str("by", string(from.User)).Msg("call accepted")
	return true
}

// dropCrossing ends the pending 1:1 call ringing in the opposite direction of
// accepted. Both users dialed each other; the first accept wins.
func (s *Signaling) dropCrossing(accepted *domain.Call) {
	recipient := accepted.Recipients[0]
	for _, e := range s.live(func(c *domain.Call) bool {
		return !c.Group && c.Status == domain.StatusPending &&
			c.Caller == recipient && c.HasRecipient(accepted.Caller)
	}) {
		log.Info().Str("module", "app.calls").Str("call", string(e.call.ID)).
			Str("accepted", string(accepted.ID)).Msg("crossing call superseded")
		s.terminate(e, "", domain.StatusEnded, core.ReasonSuperseded, e.call.Dialect, false)
	}
}

// Reject declines a call from caller. It succeeds locally even if the caller is gone.
func (s *Signaling) Reject(from core.Party, caller domain.UserID, d domain.Dialect, reason string) bool {
	e := s.findAddressed(caller, from.User)
	if e == nil {
		log.Debug().Str("module", "app.calls").Str("caller", string(caller)).Str("by", string(from.User)).Msg("reject without pending call ignored")
		return false
	}
	call := e.call
	name := core.EvCallRejected
	if d == domain.DialectWebRTC {
		name = core.EvRTCRejected
	}
	s.emit(caller, core.NewEvent(name, CallRejectedPayload{
		CallID: call.ID, From: from.User, UserID: from.User, UserName: from.Username, Reason: reason,
	}))

	if call.Group {
		call.RemoveRecipient(from.User)
		delete(e.conns, from.User)
		if len(call.Recipients) == 0 && call.Status == domain.StatusPending {
			s.finish(e, domain.StatusRejected, reason)
		} else {
			s.changed(call)
		}
	} else {
		s.finish(e, domain.StatusRejected, reason)
	}
	log.Info().Str("module", "app.calls").Str("call", string(call.ID)).Str("by", string(from.User)).Msg("call rejected")
	return true
}

// Forward relays an opaque negotiation blob to target within a live call.
func (s *Signaling) Forward(from core.Party, kind NegotiationKind, target domain.UserID, blob json.RawMessage) bool {
	if from.User.Anonymous() {
		s.fail(from, core.CodeNotRegistered, "identify before signaling", string(target))
		return false
	}
	e := s.findBetween(from.User, target)
	if e == nil {
		log.Debug().Str("module", "app.calls").Str("from", string(from.User)).Str("target", string(target)).Msg("negotiation for dead call dropped")
		return false
	}
	conn, ok := s.resolve(target)
	if !ok {
		code := core.CodeTargetOffline
		if target == e.call.Caller {
			code = core.CodeCallerOffline
		}
		s.fail(from, code, "peer is offline", string(target))
		return false
	}
	p := NegotiationPayload{CallID: e.call.ID, CallerID: from.User}
	switch kind {
	case NegotiationOffer:
		p.Offer = blob
	case NegotiationAnswer:
		p.Answer = blob
	case NegotiationCandidate:
		p.Candidate = blob
	}
	return s.sendConn(conn, core.NewEvent(kind.event(), p))
}

// End terminates every live call between from and target, or every live call
// of from when target is empty. Ending a dead call is a no-op.
func (s *Signaling) End(from core.Party, target domain.UserID, d domain.Dialect, reason string) int {
	if from.User.Anonymous() {
		return 0
	}
	entries := s.live(func(c *domain.Call) bool {
		return c.Involves(from.User) && (target == "" || c.Involves(target))
	})
	for _, e := range entries {
		s.terminate(e, from.User, domain.StatusEnded, reason, d, d == domain.DialectLegacy)
	}
	if len(entries) == 0 {
		log.Debug().Str("module", "app.calls").Str("from", string(from.User)).Str("target", string(target)).Msg("end without live call ignored")
	}
	return len(entries)
}

// Disconnect force-ends every call side owned by conn. A pending call becomes
// missed. A recipient dropping out of a group call only leaves it.
func (s *Signaling) Disconnect(conn core.ConnID, user domain.UserID) int {
	if user.Anonymous() {
		return 0
	}
	entries := s.live(func(c *domain.Call) bool { return c.Involves(user) })
	n := 0
	for _, e := range entries {
		if e.conns[user] != conn {
			continue
		}
		n++
		call := e.call
		if call.Dialect == domain.DialectWebRTC {
			left := core.NewEvent(core.EvRTCLeft, ParticipantPayload{CallID: call.ID, UserID: user})
			for _, u := range call.Others(user) {
				s.emit(u, left)
			}
		}
		if call.Group && call.Caller != user {
			call.RemoveRecipient(user)
			delete(e.conns, user)
			delete(e.joined, user)
			if len(call.Recipients) > 0 {
				s.changed(call)
				continue
			}
		}
		status := domain.StatusEnded
		if call.Status == domain.StatusPending {
			status = domain.StatusMissed
		}
		s.terminate(e, user, status, core.ReasonPeerDisconnected, call.Dialect, false)
	}
	return n
}

// Miss marks a still-ringing call missed, notifying every party. It is the hook
// for ring-timeout policy owned outside the state machine.
func (s *Signaling) Miss(id domain.CallID, reason string) error {
	e, ok := s.calls[id]
	if !ok {
		return ErrCallNotFound
	}
	if e.call.Status != domain.StatusPending {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, e.call.Status, domain.StatusMissed)
	}
	if reason == "" {
		reason = core.ReasonMissed
	}
	s.terminate(e, "", domain.StatusMissed, reason, e.call.Dialect, false)
	return nil
}

// Terminate ends a live call on behalf of an operator, notifying every party.
func (s *Signaling) Terminate(id domain.CallID) error {
	e, ok := s.calls[id]
	if !ok {
		return ErrCallNotFound
	}
	s.terminate(e, "", domain.StatusEnded, core.ReasonTerminated, e.call.Dialect, false)
	return nil
}

func (s *Signaling) Get(id domain.CallID) (domain.Call, bool) {
	e, ok := s.calls[id]
	if !ok {
		return domain.Call{}, false
	}
	return e.call.Clone(), true
}

// Live returns copies of all live calls, oldest first.
func (s *Signaling) Live() []domain.Call {
	entries := s.live(func(*domain.Call) bool { return true })
	out := make([]domain.Call, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.call.Clone())
	}
	return out
}

func (s *Signaling) Len() int { return len(s.calls) }

// terminate moves e to a terminal status, drops it from the table and tells the
// other parties. by is the acting party; empty means the system acted.
func (s *Signaling) terminate(e *callEntry, by domain.UserID, status domain.CallStatus, reason string, d domain.Dialect, notifyActor bool) {
	call := e.call
	var name string
	switch d {
	case domain.DialectWebRTC:
		name = core.EvRTCEnded
	case domain.DialectCamel:
		name = core.EvCallEndedAlt
	default:
		name = core.EvCallEnded
	}
	ev := core.NewEvent(name, CallEndedPayload{CallID: call.ID, From: by, UserID: by, RoomID: call.RoomID, Reason: reason})
	for _, u := range call.Others(by) {
		s.emit(u, ev)
	}
	if notifyActor && by != "" {
		s.emit(by, ev)
	}
	s.finish(e, status, reason)
	log.Info().Str("module", "app.calls").Str("call", string(call.ID)).Str("by", string(by)).
		Str("status", string(status)).Str("reason", reason).Msg("call terminated")
}

func (s *Signaling) finish(e *callEntry, status domain.CallStatus, reason string) {
	e.call.EndReason = reason
	s.transition(e.call, status)
	delete(s.calls, e.call.ID)
	s.changed(e.call)
}

func (s *Signaling) transition(call *domain.Call, to domain.CallStatus) {
	if err := call.Transition(to, s.now()); err != nil {
		log.Warn().Err(err).Str("module", "app.calls").Str("call", string(call.ID)).Msg("transition refused")
		return
	}
	s.metrics.CallTransition(string(to))
}

func (s *Signaling) changed(call *domain.Call) {
	s.metrics.SetLiveCalls(len(s.calls))
	if len(s.onChange) == 0 {
		return
	}
	snap := call.Clone()
	for _, fn := range s.onChange {
		fn(snap)
	}
}

func (s *Signaling) incomingEvent(call *domain.Call) core.Event {
	name := core.EvIncomingCall
	if call.Dialect == domain.DialectWebRTC {
		name = core.EvRTCIncoming
	}
	return core.NewEvent(name, IncomingCallPayload{
		CallID:     call.ID,
		CallerID:   call.Caller,
		CallerName: call.CallerName,
		CallType:   call.Kind,
		IsGroup:    call.Group,
		RoomID:     call.RoomID,
	})
}

// live returns the live calls matching keep, oldest first.
func (s *Signaling) live(keep func(*domain.Call) bool) []*callEntry {
	var out []*callEntry
	for _, e := range s.calls {
		if e.call.Status.Live() && keep(e.call) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *callEntry) int {
		if c := a.call.StartedAt.Compare(b.call.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.call.ID), string(b.call.ID))
	})
	return out
}

func (s *Signaling) findOwned(from core.Party, target domain.UserID) *callEntry {
	for _, e := range s.live(func(c *domain.Call) bool { return c.Caller == from.User && c.HasRecipient(target) }) {
		if e.conns[from.User] == from.Conn {
			return e
		}
	}
	return nil
}

func (s *Signaling) findAddressed(caller, recipient domain.UserID) *callEntry {
	for _, e := range s.live(func(c *domain.Call) bool { return c.Caller == caller && c.HasRecipient(recipient) }) {
		if !e.joined[recipient] {
			return e
		}
	}
	return nil
}

func (s *Signaling) findBetween(a, b domain.UserID) *callEntry {
	if a == b {
		return nil
	}
	if l := s.live(func(c *domain.Call) bool { return c.Involves(a) && c.Involves(b) }); len(l) > 0 {
		return l[0]
	}
	return nil
}

func (s *Signaling) resolve(uid domain.UserID) (core.ConnID, bool) {
	if !s.presence.IsOnline(uid) {
		return "", false
	}
	return s.reg.Lookup(uid)
}

func (s *Signaling) emit(uid domain.UserID, ev core.Event) bool {
	conn, ok := s.resolve(uid)
	if !ok {
		return false
	}
	return s.sendConn(conn, ev)
}

func (s *Signaling) sendConn(conn core.ConnID, ev core.Event) bool {
	if err := s.out.Send(conn, ev); err != nil {
		log.Warn().Err(err).Str("module", "app.calls").Str("conn", string(conn)).Str("type", ev.Type).Msg("signal not delivered")
		return false
	}
	return true
}

func (s *Signaling) fail(to core.Party, code, msg, target string) {
	s.metrics.SignalError(code)
	log.Warn().Str("module", "app.calls").Str("conn", string(to.Conn)).Str("code", code).Str("target", target).Msg("signal failed")
	_ = s.out.Send(to.Conn, core.ErrorEvent(code, msg, target))
}
