package main

import (
	"context"
	"time"

	"l1sentry/pkg/storage"
	"l1sentry/shared/eventbus"
)

// sessionDone carries a finished session row plus its file record.
type sessionDone struct {
	Session storage.Session
	File    storage.ProcessedFile
}

// storeSubscriber drains bus events into Postgres. Write errors are
// logged and swallowed; detection must not depend on the sink.
type storeSubscriber struct {
	store   *storage.Store
	timeout time.Duration
}

func newStoreSubscriber(store *storage.Store) *storeSubscriber {
	return &storeSubscriber{store: store, timeout: 10 * time.Second}
}

func (s *storeSubscriber) Topics() []string {
	return []string{eventbus.TopicAnomaly, eventbus.TopicSession}
}

func (s *storeSubscriber) Handle(ctx context.Context, evt eventbus.Event) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch payload := evt.Payload.(type) {
	case storage.Anomaly:
		if err := s.store.SaveAnomaly(ctx, payload); err != nil {
			log.WithError(err).WithField("source", evt.Source).Warn("anomaly write failed")
		}
	case sessionDone:
		if err := s.store.FinishSession(ctx, payload.Session); err != nil {
			log.WithError(err).WithField("source", evt.Source).Warn("session write failed")
		}
		if err := s.store.SaveProcessedFile(ctx, payload.File); err != nil {
			log.WithError(err).WithField("source", evt.Source).Warn("file record write failed")
		}
	}
}
