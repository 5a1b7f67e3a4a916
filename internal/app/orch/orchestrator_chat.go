package orch

import (
	"errors"

	"github.com/dkeye/chatrelay/internal/app"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
)

var ErrSenderMismatch = errors.New("sender does not match connection identity")

// SendMessage relays msg for connection id. An identified connection may only
// send as itself; an anonymous one is trusted as-is.
func (o *Orchestrator) SendMessage(id core.ConnID, msg domain.ChatMessage) (app.Delivery, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if peer, ok := o.Peers.Get(id); ok && !peer.User.Anonymous() && peer.User != msg.SenderID {
		return app.Delivery{}, ErrSenderMismatch
	}
	return o.Relay.Relay(id, msg), nil
}
