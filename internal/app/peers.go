package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/dkeye/chatrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Peer is one live transport connection and the identity it claimed.
type Peer struct {
	ID          core.ConnID
	Conn        core.SignalConnection
	User        domain.UserID
	Username    string
	ConnectedAt time.Time
}

// Party returns the identity events from this peer act as.
func (p *Peer) Party() core.Party {
	return core.Party{Conn: p.ID, User: p.User, Username: p.Username}
}

// Peers is the set of live connections, anonymous ones included.
// It implements core.Sender.
type Peers struct {
	mu      sync.RWMutex
	conns   map[core.ConnID]*Peer
	policy  Policy
	metrics *metrics.Metrics
}

func NewPeers(policy Policy, m *metrics.Metrics) *Peers {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Peers{
		conns:   make(map[core.ConnID]*Peer),
		policy:  policy,
		metrics: m,
	}
}

func (p *Peers) Add(id core.ConnID, conn core.SignalConnection) *Peer {
	peer := &Peer{ID: id, Conn: conn, ConnectedAt: time.Now()}
	p.mu.Lock()
	p.conns[id] = peer
	n := len(p.conns)
	p.mu.Unlock()
	p.metrics.ConnOpened()
	log.Debug().Str("module", "app.peers").Str("conn", string(id)).Int("count", n).Msg("peer added")
	return peer
}

// Bind records the identity a connection claimed.
func (p *Peers) Bind(id core.ConnID, uid domain.UserID, username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, ok := p.conns[id]
	if !ok {
		return false
	}
	peer.User = uid
	peer.Username = username
	return true
}

func (p *Peers) Remove(id core.ConnID) (*Peer, bool) {
	p.mu.Lock()
	peer, ok := p.conns[id]
	delete(p.conns, id)
	p.mu.Unlock()
	if ok {
		p.metrics.ConnClosed()
	}
	return peer, ok
}

func (p *Peers) Get(id core.ConnID) (*Peer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	peer, ok := p.conns[id]
	return peer, ok
}

func (p *Peers) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// CloseAll closes every transport; the adapters then report the disconnects.
func (p *Peers) CloseAll() {
	p.mu.RLock()
	conns := make([]core.SignalConnection, 0, len(p.conns))
	for _, peer := range p.conns {
		conns = append(conns, peer.Conn)
	}
	p.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

func (p *Peers) Send(to core.ConnID, ev core.Event) error {
	p.mu.RLock()
	peer, ok := p.conns[to]
	p.mu.RUnlock()
	if !ok {
		return core.ErrConnClosed
	}
	f, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.peers").Msg("encode event")
		return err
	}
	return p.deliver(peer, ev, f)
}

func (p *Peers) Broadcast(ev core.Event) core.PublishResult {
	res := core.PublishResult{}
	f, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.peers").Msg("encode broadcast")
		return res
	}
	p.mu.RLock()
	targets := make([]*Peer, 0, len(p.conns))
	for _, peer := range p.conns {
		targets = append(targets, peer)
	}
	p.mu.RUnlock()

	for _, peer := range targets {
		if err := p.deliver(peer, ev, f); err != nil {
			res.Dropped = append(res.Dropped, peer.ID)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.peers").Str("type", ev.Type).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (p *Peers) deliver(peer *Peer, ev core.Event, f core.Frame) error {
	err := peer.Conn.TrySend(f)
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrBackpressure) {
		p.metrics.Backpressure()
		switch p.policy.OnBackPressure(peer.ID, ev) {
		case KickConnection:
			log.Warn().Str("module", "app.peers").Str("conn", string(peer.ID)).Str("type", ev.Type).Msg("send buffer full, kicking connection")
			peer.Conn.Close()
		case DropEvent, NoAction:
			log.Warn().Str("module", "app.peers").Str("conn", string(peer.ID)).Str("type", ev.Type).Msg("send buffer full, event dropped")
		}
	}
	return err
}
