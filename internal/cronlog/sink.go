package cronlog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"stepflow/internal/domain"
)

// RetentionAge is how long persisted events live before the janitor
// removes them.
const RetentionAge = 2 * 24 * time.Hour

const (
	persistTimeout  = 5 * time.Second
	janitorInterval = time.Hour
)

// Sink is the job log channel: every Emit is broadcast to live
// subscribers and appended to the durable store. The two side effects are
// independent; a persistence failure never suppresses the broadcast and
// never reaches the caller.
type Sink struct {
	store Store
	hub   *Hub
	now   func() time.Time
}

func NewSink(store Store, hub *Hub) *Sink {
	return &Sink{store: store, hub: hub, now: time.Now}
}

func (s *Sink) Emit(userID string, sev domain.Severity, message string) {
	ev := NewEvent(userID, sev, message, s.now())

	s.hub.Publish(ev)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.Insert(ctx, ev); err != nil {
		// Best-effort persistence: report to the process log only.
		log.Error().Err(err).Str("user", userID).Msg("failed to persist log event")
	}
}

func (s *Sink) Hub() *Hub { return s.hub }

// Run expires old events periodically until ctx is canceled.
func (s *Sink) Run(ctx context.Context) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := s.store.DeleteOlderThan(ctx, now.Add(-RetentionAge))
			if err != nil {
				log.Error().Err(err).Msg("log retention sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("deleted", n).Msg("expired old log events")
			}
		}
	}
}
