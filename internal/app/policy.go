package app

import "github.com/dkeye/chatrelay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	KickConnection
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(conn core.ConnID, ev core.Event) BackpressureAction
}

// SimplePolicy kicks saturated connections. Clients reconnect and re-register.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ConnID, core.Event) BackpressureAction {
	return KickConnection
}

// LenientPolicy only drops the event.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.ConnID, core.Event) BackpressureAction {
	return DropEvent
}
