package app

import (
	"sync"
	"time"

	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Ringer is the ring-timeout policy: a call still pending after timeout is
// handed to fire, which is expected to mark it missed. A zero timeout disables it.
type Ringer struct {
	timeout time.Duration
	fire    func(domain.CallID)

	mu     sync.Mutex
	timers map[domain.CallID]*time.Timer
}

func NewRinger(timeout time.Duration, fire func(domain.CallID)) *Ringer {
	return &Ringer{
		timeout: timeout,
		fire:    fire,
		timers:  make(map[domain.CallID]*time.Timer),
	}
}

// Track arms a timer for a newly pending call and disarms it once the call moves on.
func (r *Ringer) Track(call domain.Call) {
	if r == nil || r.timeout <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, armed := r.timers[call.ID]
	switch {
	case call.Status == domain.StatusPending && !armed:
		id := call.ID
		r.timers[id] = time.AfterFunc(r.timeout, func() { r.expire(id) })
	case call.Status != domain.StatusPending && armed:
		t.Stop()
		delete(r.timers, call.ID)
	}
}

func (r *Ringer) expire(id domain.CallID) {
	r.mu.Lock()
	_, armed := r.timers[id]
	delete(r.timers, id)
	r.mu.Unlock()
	if !armed {
		return
	}
	log.Info().Str("module", "app.ringer").Str("call", string(id)).Dur("after", r.timeout).Msg("ring timeout")
	r.fire(id)
}

// Armed reports how many calls are currently ringing under a timer.
func (r *Ringer) Armed() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *Ringer) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
