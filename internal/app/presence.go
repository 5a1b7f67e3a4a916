package app

import (
	"slices"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/dkeye/chatrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Presence fans the full online set out to every connection after each
// registry change. It never sends diffs.
type Presence struct {
	reg     *Registry
	out     core.Sender
	metrics *metrics.Metrics
}

func NewPresence(reg *Registry, out core.Sender, m *metrics.Metrics) *Presence {
	return &Presence{reg: reg, out: out, metrics: m}
}

// Snapshot returns the online identifiers sorted, so payloads are stable.
func (p *Presence) Snapshot() []string {
	ids := p.reg.Snapshot()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	slices.Sort(out)
	return out
}

func (p *Presence) IsOnline(uid domain.UserID) bool {
	if uid.Anonymous() {
		return false
	}
	_, ok := p.reg.Lookup(uid)
	return ok
}

// Publish broadcasts the current snapshot as onlineUsers. Delivery is best effort.
func (p *Presence) Publish() core.PublishResult {
	snap := p.Snapshot()
	p.metrics.SetOnline(len(snap))
	res := p.out.Broadcast(core.NewEvent(core.EvOnlineUsers, snap))
	log.Info().Str("module", "app.presence").Int("online", len(snap)).Int("sent_to", res.SendTo).Msg("presence published")
	return res
}
