package tabsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/logger"
)

// Clearer is the part of the session store a remote logout needs.
type Clearer interface {
	Logout()
}

// Syncer connects one tab to a Channel.
type Syncer struct {
	ch       Channel
	store    Clearer
	onRemote func(Event)
	source   string
	log      *zap.Logger
	now      func() time.Time
}

// NewSyncer returns a Syncer with a fresh tab id. onRemote, if set, runs
// after the store has been cleared for an event from another tab.
func NewSyncer(ch Channel, store Clearer, onRemote func(Event), log *zap.Logger) *Syncer {
	return &Syncer{
		ch:       ch,
		store:    store,
		onRemote: onRemote,
		source:   uuid.NewString(),
		log:      logger.OrNop(log),
		now:      time.Now,
	}
}

// Source returns the tab id stamped on outgoing events.
func (s *Syncer) Source() string { return s.source }

// Broadcast tells the other tabs about a local logout. Failures are logged:
// the local logout has already happened.
func (s *Syncer) Broadcast(ctx context.Context, t EventType) error {
	e := Event{Type: t, Timestamp: s.now().UnixMilli(), Source: s.source}
	if err := s.ch.Publish(ctx, e); err != nil {
		s.log.Warn("broadcast auth event", zap.String("type", string(t)), zap.Error(err))
		return err
	}
	return nil
}

// Start subscribes and handles events in the background until ctx is done
// or the channel closes. The returned channel is closed when handling stops.
func (s *Syncer) Start(ctx context.Context) (<-chan struct{}, error) {
	stream, err := s.ch.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range stream {
			// events buffered before the subscription ended are stale
			if ctx.Err() != nil {
				return
			}
			s.handle(e)
		}
	}()
	return done, nil
}

// Run is Start followed by waiting for handling to stop.
func (s *Syncer) Run(ctx context.Context) error {
	done, err := s.Start(ctx)
	if err != nil {
		return err
	}
	<-done
	return ctx.Err()
}

func (s *Syncer) handle(e Event) {
	if e.Source == s.source {
		return
	}
	s.log.Debug("remote logout", zap.String("type", string(e.Type)), zap.String("source", e.Source))
	s.store.Logout()
	if s.onRemote != nil {
		s.onRemote(e)
	}
}
