// Package orch binds transport connections to identities and serializes every
// state-changing event, so each handler runs to completion against a consistent
// registry and call table.
package orch

import (
	"sync"
	"time"

	"github.com/dkeye/chatrelay/internal/app"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/dkeye/chatrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Policy      app.Policy
	RingTimeout time.Duration
	Metrics     *metrics.Metrics
}

type Orchestrator struct {
	mu sync.Mutex

	Registry *app.Registry
	Peers    *app.Peers
	Presence *app.Presence
	Relay    *app.MessageRelay
	Calls    *app.Signaling
	Ringer   *app.Ringer

	metrics *metrics.Metrics
}

func New(opts Options) *Orchestrator {
	reg := app.NewRegistry()
	peers := app.NewPeers(opts.Policy, opts.Metrics)
	presence := app.NewPresence(reg, peers, opts.Metrics)
	o := &Orchestrator{
		Registry: reg,
		Peers:    peers,
		Presence: presence,
		Relay:    app.NewMessageRelay(reg, peers, opts.Metrics),
		Calls:    app.NewSignaling(reg, presence, peers, opts.Metrics),
		metrics:  opts.Metrics,
	}
	o.Ringer = app.NewRinger(opts.RingTimeout, func(id domain.CallID) {
		if err := o.MissCall(id, core.ReasonMissed); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("call", string(id)).Msg("ring timeout on settled call")
		}
	})
	o.Calls.OnChange(o.Ringer.Track)
	return o
}

// OnCallChange subscribes fn to call snapshots. fn runs inside the event
// handler and must not block.
func (o *Orchestrator) OnCallChange(fn func(domain.Call)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls.OnChange(fn)
}

// Connect admits a transport connection. A missing or sentinel identity leaves
// it anonymous: it still receives broadcasts but cannot be addressed.
func (o *Orchestrator) Connect(id core.ConnID, conn core.SignalConnection, rawUser, username string) (domain.UserID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Peers.Add(id, conn)
	return o.bindLocked(id, rawUser, username)
}

// Identify handles an explicit (re)registration on a live connection. Switching
// to another identity releases the old one first, including its calls.
func (o *Orchestrator) Identify(id core.ConnID, rawUser, username string) (domain.UserID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	peer, ok := o.Peers.Get(id)
	if !ok {
		return "", false
	}
	user, err := domain.NewUser(rawUser, username)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("identify rejected")
		return "", false
	}
	if !peer.User.Anonymous() && peer.User != user.ID {
		o.Calls.Disconnect(id, peer.User)
		if o.Registry.Unregister(peer.User, id) {
			log.Info().Str("module", "orch").Str("conn", string(id)).Str("from", string(peer.User)).Str("to", string(user.ID)).Msg("identity switched")
		}
	}
	return o.bindLocked(id, rawUser, username)
}

func (o *Orchestrator) bindLocked(id core.ConnID, rawUser, username string) (domain.UserID, bool) {
	user, err := domain.NewUser(rawUser, username)
	if err != nil {
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("claimed", rawUser).Msg("anonymous connection")
		return "", false
	}
	o.Peers.Bind(id, user.ID, user.Username)
	if prev, displaced := o.Registry.Register(user.ID, id); displaced {
		log.Info().Str("module", "orch").Str("user", string(user.ID)).Str("displaced", string(prev)).Msg("newer connection wins")
	}
	o.Presence.Publish()
	return user.ID, true
}

// Disconnect releases everything the connection owned: its registry binding
// (only if still current) and its side of any live call.
func (o *Orchestrator) Disconnect(id core.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	peer, ok := o.Peers.Remove(id)
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(peer.User)).Dur("session", time.Since(peer.ConnectedAt)).Msg("disconnected")
	if peer.User.Anonymous() {
		return
	}
	if o.Registry.Unregister(peer.User, id) {
		o.Presence.Publish()
	}
	if n := o.Calls.Disconnect(id, peer.User); n > 0 {
		log.Info().Str("module", "orch").Str("user", string(peer.User)).Int("calls", n).Msg("calls released on disconnect")
	}
}

// Notify sends ev straight to one connection, outside any call or chat flow.
func (o *Orchestrator) Notify(id core.ConnID, ev core.Event) error {
	if ev.Type == core.EvRTCError {
		if p, ok := ev.Payload.(core.ErrorPayload); ok {
			o.metrics.SignalError(p.Code)
		}
	}
	return o.Peers.Send(id, ev)
}

func (o *Orchestrator) Online() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Presence.Snapshot()
}

// Shutdown stops ring timers, terminates every live call and closes every
// connection. Terminal call snapshots are published before it returns.
func (o *Orchestrator) Shutdown() {
	o.Ringer.Stop()
	o.mu.Lock()
	for _, c := range o.Calls.Live() {
		_ = o.Calls.Terminate(c.ID)
	}
	o.mu.Unlock()
	o.Peers.CloseAll()
	log.Info().Str("module", "orch").Msg("orchestrator stopped")
}

func (o *Orchestrator) partyLocked(id core.ConnID) (core.Party, bool) {
	peer, ok := o.Peers.Get(id)
	if !ok {
		return core.Party{}, false
	}
	return peer.Party(), true
}
