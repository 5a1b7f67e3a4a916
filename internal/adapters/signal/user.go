package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/chatrelay/internal/app/orch"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleUserConnected(id core.ConnID, raw json.RawMessage) error {
	var p userConnectedPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if _, err := requireUser("userId", p.UserID); err != nil {
		return err
	}
	uid, ok := ctl.Orch.Identify(id, p.UserID, p.Username)
	if !ok {
		return badPayload("identity rejected")
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("user", string(uid)).Msg("user connected")
	return nil
}

func (ctl *SignalWSController) handleSendMessage(id core.ConnID, raw json.RawMessage) error {
	var p sendMessagePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	msg, err := p.message(raw)
	if err != nil {
		return err
	}
	d, err := ctl.Orch.SendMessage(id, msg)
	if errors.Is(err, orch.ErrSenderMismatch) {
		return badPayload("senderId does not match connection identity")
	}
	if err != nil {
		return err
	}
	log.Debug().Str("module", "signal").Str("from", p.SenderID).Str("to", p.ReceiverID).
		Bool("receiver", d.Receiver).Bool("sender", d.Sender).Msg("message relayed")
	return nil
}
