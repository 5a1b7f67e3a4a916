package app

import (
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/core/coretest"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t        *testing.T
	reg      *Registry
	peers    *Peers
	presence *Presence
	relay    *MessageRelay
	calls    *Signaling

	seq     int
	callSeq int
	clock   time.Time
	changes []domain.Call
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, clock: time.Unix(1_700_000_000, 0)}
	f.reg = NewRegistry()
	f.peers = NewPeers(LenientPolicy{}, nil)
	f.presence = NewPresence(f.reg, f.peers, nil)
	f.relay = NewMessageRelay(f.reg, f.peers, nil)
	f.calls = NewSignaling(f.reg, f.presence, f.peers, nil)
	f.calls.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	f.calls.newID = func() domain.CallID {
		f.callSeq++
		return domain.CallID(fmt.Sprintf("call-%d", f.callSeq))
	}
	f.calls.OnChange(func(c domain.Call) { f.changes = append(f.changes, c) })
	return f
}

// connect opens a connection and, for a non-empty uid, registers it.
func (f *fixture) connect(uid string) (core.Party, *coretest.Conn) {
	f.seq++
	id := core.ConnID(fmt.Sprintf("conn-%d", f.seq))
	c := coretest.NewConn()
	f.peers.Add(id, c)
	if uid != "" {
		require.True(f.t, f.peers.Bind(id, domain.UserID(uid), uid))
		f.reg.Register(domain.UserID(uid), id)
	}
	return core.Party{Conn: id, User: domain.UserID(uid), Username: uid}, c
}

func (f *fixture) disconnect(p core.Party) int {
	f.peers.Remove(p.Conn)
	if f.reg.Unregister(p.User, p.Conn) {
		f.presence.Publish()
	}
	return f.calls.Disconnect(p.Conn, p.User)
}

func drainAll(conns ...*coretest.Conn) {
	for _, c := range conns {
		c.Drain()
	}
}

func errorCodes(c *coretest.Conn) []string {
	var out []string
	for _, ev := range c.OfType(core.EvRTCError) {
		var p core.ErrorPayload
		if err := ev.Decode(&p); err == nil {
			out = append(out, p.Code)
		}
	}
	return out
}

func lastStatus(f *fixture, id domain.CallID) domain.CallStatus {
	for i := len(f.changes) - 1; i >= 0; i-- {
		if f.changes[i].ID == id {
			return f.changes[i].Status
		}
	}
	return ""
}
