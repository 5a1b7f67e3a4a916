package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id core.ConnID, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id core.ConnID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.limiter.Forget(id)
		ctl.Orch.Disconnect(id)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			ctl.handleFrame(id, data)
		}
	}
}

// handleFrame decodes one inbound frame and runs its handler. A failing
// handler never takes the connection down.
func (ctl *SignalWSController) handleFrame(id core.ConnID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("conn", string(id)).Interface("panic", r).Msg("event handler panicked")
		}
	}()

	if !ctl.limiter.Allow(id) {
		ctl.fail(id, core.CodeRateLimited, "too many events")
		return
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		ctl.fail(id, core.CodeBadPayload, "frame must be {type, payload}")
		return
	}

	err := ctl.dispatch(id, env)
	switch {
	case errors.Is(err, errUnknownEvent):
		ctl.metrics.Event("unknown")
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.fail(id, core.CodeUnknownEvent, "unknown event "+env.Type)
		return
	case errors.Is(err, errBadPayload):
		log.Warn().Err(err).Str("module", "signal").Str("type", env.Type).Msg("bad payload")
		ctl.fail(id, core.CodeBadPayload, err.Error())
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("type", env.Type).Msg("handle signal")
	}
	ctl.metrics.Event(env.Type)
}

func (ctl *SignalWSController) dispatch(id core.ConnID, env envelope) error {
	switch env.Type {
	case evUserConnected:
		return ctl.handleUserConnected(id, env.Payload)
	case evSendMessage:
		return ctl.handleSendMessage(id, env.Payload)
	case evStartCall:
		return ctl.handleStartCall(id, env.Payload)
	case evAnswerCall:
		return ctl.handleAnswerCall(id, env.Payload)
	case evRejectCall:
		return ctl.handleRejectCall(id, env.Payload, domain.DialectLegacy)
	case evRejectCallAlias:
		return ctl.handleRejectCall(id, env.Payload, domain.DialectCamel)
	case evEndCall:
		return ctl.handleEndCall(id, env.Payload, domain.DialectLegacy)
	case evEndCallAlias:
		return ctl.handleEndCall(id, env.Payload, domain.DialectCamel)
	case evRTCInitiate:
		return ctl.handleRTCInitiate(id, env.Payload)
	case evRTCAddParticipant:
		return ctl.handleRTCAddParticipant(id, env.Payload)
	case evRTCAccept:
		return ctl.handleRTCAccept(id, env.Payload)
	case evRTCReject:
		return ctl.handleRTCReject(id, env.Payload)
	case evRTCEnd:
		return ctl.handleRTCEnd(id, env.Payload)
	case evRTCOffer:
		return ctl.handleOffer(id, env.Payload)
	case evRTCAnswer:
		return ctl.handleAnswer(id, env.Payload)
	case evRTCCandidate:
		return ctl.handleCandidate(id, env.Payload)
	case evPing:
		return ctl.handlePing(id)
	default:
		return errUnknownEvent
	}
}

func (ctl *SignalWSController) fail(id core.ConnID, code, msg string) {
	ctl.sendEvent(id, core.ErrorEvent(code, msg, ""))
}

func (ctl *SignalWSController) sendEvent(id core.ConnID, ev core.Event) {
	if err := ctl.Orch.Notify(id, ev); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Str("type", ev.Type).Msg("sendEvent")
	}
}
