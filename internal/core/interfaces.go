package core

import (
	"context"
	"errors"

	"github.com/dkeye/chatrelay/internal/domain"
)

// PublishResult reports delivery stats/backpressure of a fan-out.
type PublishResult struct {
	SendTo  int
	Dropped []ConnID
}

// Sender delivers events to live connections by id. Unknown ids are reported
// as ErrConnClosed; a full send buffer as ErrBackpressure.
type Sender interface {
	Send(to ConnID, ev Event) error
	Broadcast(ev Event) PublishResult
}

// Party is the identity an inbound event was received from.
// An anonymous party has an empty User.
type Party struct {
	Conn     ConnID
	User     domain.UserID
	Username string
}

var ErrRecordNotFound = errors.New("call record not found")

// CallLog is the call-record store owned by an external collaborator.
// History returns newest first.
type CallLog interface {
	Save(ctx context.Context, call domain.Call) error
	Get(ctx context.Context, id domain.CallID) (domain.Call, error)
	History(ctx context.Context, user domain.UserID, limit int) ([]domain.Call, error)
	Close() error
}
