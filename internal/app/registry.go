package app

import (
	"sync"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps a user identifier to the one connection currently bound to it.
type Registry struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]core.ConnID
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[domain.UserID]core.ConnID),
	}
}

// Register binds uid to conn, silently displacing any previous binding.
// It reports the displaced connection, if there was a different one.
func (r *Registry) Register(uid domain.UserID, conn core.ConnID) (core.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.byUser[uid]
	r.byUser[uid] = conn
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("conn", string(conn)).Msg("registered")
	if had && prev != conn {
		log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("displaced", string(prev)).Msg("binding overwritten")
		return prev, true
	}
	return "", false
}

// Unregister removes the binding only when conn still owns it, so a stale
// disconnect cannot evict a newer connection for the same user.
func (r *Registry) Unregister(uid domain.UserID, conn core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[uid]
	if !ok || cur != conn {
		log.Debug().Str("module", "app.registry").Str("user", string(uid)).Str("conn", string(conn)).Msg("stale unregister ignored")
		return false
	}
	delete(r.byUser, uid)
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("conn", string(conn)).Msg("unregistered")
	return true
}

func (r *Registry) Lookup(uid domain.UserID) (core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[uid]
	return c, ok
}

// Snapshot returns every bound identifier in no particular order.
func (r *Registry) Snapshot() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.byUser))
	for uid := range r.byUser {
		out = append(out, uid)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
