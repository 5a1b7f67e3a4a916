package app

import (
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/dkeye/chatrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Delivery reports which sides of a chat message were reached.
type Delivery struct {
	Receiver bool
	Sender   bool
	Origin   bool
}

// MessageRelay delivers chat events to the online parties of a message. It
// stores nothing; history is the persistence collaborator's job.
type MessageRelay struct {
	reg     *Registry
	out     core.Sender
	metrics *metrics.Metrics
}

func NewMessageRelay(reg *Registry, out core.Sender, m *metrics.Metrics) *MessageRelay {
	return &MessageRelay{reg: reg, out: out, metrics: m}
}

// Relay forwards msg as newMessage to the receiver's and the sender's bound
// connections. When the originating connection is not the sender's bound one
// (a displaced tab), it gets a messageSent acknowledgement instead.
func (r *MessageRelay) Relay(origin core.ConnID, msg domain.ChatMessage) Delivery {
	var d Delivery
	ev := core.NewEvent(core.EvNewMessage, msg.Raw)

	receiverConn, ok := r.reg.Lookup(msg.ReceiverID)
	if ok {
		d.Receiver = r.out.Send(receiverConn, ev) == nil
	}
	senderConn, ok := r.reg.Lookup(msg.SenderID)
	if ok && senderConn != receiverConn {
		d.Sender = r.out.Send(senderConn, ev) == nil
	} else if ok {
		d.Sender = d.Receiver
	}
	if ok && origin != "" && origin != senderConn {
		d.Origin = r.out.Send(origin, core.NewEvent(core.EvMessageSent, msg.Raw)) == nil
	}

	switch {
	case d.Receiver:
		r.metrics.Message(metrics.MessageDelivered)
	case d.Sender || d.Origin:
		r.metrics.Message(metrics.MessagePartial)
	default:
		r.metrics.Message(metrics.MessageDropped)
	}
	log.Debug().Str("module", "app.relay").
		Str("sender", string(msg.SenderID)).
		Str("receiver", string(msg.ReceiverID)).
		Bool("to_receiver", d.Receiver).
		Bool("to_sender", d.Sender).
		Msg("message relayed")
	return d
}
