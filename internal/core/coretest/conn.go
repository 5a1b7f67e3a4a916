// Package coretest provides an in-memory SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/chatrelay/internal/core"
)

// Event is a decoded outbound frame.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Fields decodes an object payload into a generic map; nil for non-objects.
func (e Event) Fields() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil
	}
	return m
}

// Conn records every frame sent to it. Set Full to simulate a saturated send buffer.
type Conn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	Full   bool
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.Full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns every frame received so far, decoded.
func (c *Conn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.frames))
	for _, f := range c.frames {
		var ev Event
		if err := json.Unmarshal(f, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// Drain returns the decoded events and forgets them.
func (c *Conn) Drain() []Event {
	evs := c.Events()
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
	return evs
}

// OfType filters recorded events by type.
func (c *Conn) OfType(t string) []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
