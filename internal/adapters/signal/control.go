package signal

import "github.com/dkeye/chatrelay/internal/core"

func (ctl *SignalWSController) handlePing(id core.ConnID) error {
	ctl.sendEvent(id, core.NewEvent(evPong, struct{}{}))
	return nil
}
