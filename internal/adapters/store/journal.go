package store

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const saveTimeout = 5 * time.Second

// Journal writes call snapshots to a CallLog off the signaling path. Submit
// never blocks; when the queue is full the snapshot is dropped and logged.
type Journal struct {
	log   core.CallLog
	queue chan domain.Call

	once sync.Once
	done chan struct{}
}

func NewJournal(l core.CallLog, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	return &Journal{
		log:   l,
		queue: make(chan domain.Call, buffer),
		done:  make(chan struct{}),
	}
}

func (j *Journal) Submit(call domain.Call) {
	select {
	case j.queue <- call.Clone():
	default:
		log.Warn().Str("module", "store.journal").Str("call", string(call.ID)).Str("status", string(call.Status)).Msg("journal queue full, snapshot dropped")
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case <-ctx.Done():
			j.flush()
			return
		case call := <-j.queue:
			j.save(call)
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case call := <-j.queue:
			j.save(call)
		default:
			return
		}
	}
}

func (j *Journal) save(call domain.Call) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := j.log.Save(ctx, call); err != nil {
		log.Error().Err(err).Str("module", "store.journal").Str("call", string(call.ID)).Msg("save call")
	}
}

// Wait blocks until Run has returned.
func (j *Journal) Wait() {
	<-j.done
}

// Close waits for Run to finish and closes the underlying log.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.Wait()
		err = j.log.Close()
	})
	return err
}
