// Package store keeps call records for the history API. Records are written
// asynchronously by a Journal fed from the signaling state machine.
package store

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
)

type Memory struct {
	mu    sync.RWMutex
	calls map[domain.CallID]domain.Call
	// users that were ever party to a call; recipients can leave a group call
	seen map[domain.CallID]map[domain.UserID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		calls: make(map[domain.CallID]domain.Call),
		seen:  make(map[domain.CallID]map[domain.UserID]struct{}),
	}
}

func (m *Memory) Save(_ context.Context, call domain.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := call.Clone()
	m.calls[c.ID] = c
	set, ok := m.seen[c.ID]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.seen[c.ID] = set
	}
	set[c.Caller] = struct{}{}
	for _, r := range c.Recipients {
		set[r] = struct{}{}
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id domain.CallID) (domain.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	if !ok {
		return domain.Call{}, core.ErrRecordNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) History(_ context.Context, user domain.UserID, limit int) ([]domain.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Call, 0)
	for id, c := range m.calls {
		if _, ok := m.seen[id][user]; ok {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, newestFirst)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func newestFirst(a, b domain.Call) int {
	if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
		return c
	}
	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}
