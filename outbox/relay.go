/*
relay.go - Outbox relay

PURPOSE:
  Delivers the events written by committed atomic units to a Publisher.
  An event row exists only if its entry committed, so the relay never
  announces a document that was rolled back.

DELIVERY:
  At least once. An event that was published but not yet marked (crash in
  between) goes out again on the next pass; consumers de-duplicate on the
  event ID header. A failing event is retried on later passes until
  MaxAttempts, after which it stays in the table for an operator.

CONFIGURATION:
  - Interval:    How often to poll (default: 2 seconds)
  - BatchSize:   Events per pass (default: 100)
  - MaxAttempts: Give up after this many failures (default: 10)

USAGE:
  relay := outbox.NewRelay(store, publisher, logger)
  relay.Start()
  // ... later
  relay.Stop()

SEE ALSO:
  - ledger/events.go: Event shape and topics
  - events/kafka: Kafka publisher
*/
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/ledger-engine/ledger"
)

// Store is the outbox side of a ledger store.
type Store interface {
	PendingEvents(ctx context.Context, limit, maxAttempts int) ([]ledger.Event, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause string) error
}

// Publisher hands one event to the transport.
type Publisher interface {
	Publish(ctx context.Context, ev ledger.Event) error
}

// Observer is notified of every delivery attempt. metrics.Recorder
// implements it.
type Observer interface {
	EventDelivered(topic string, err error)
}

// Relay polls the outbox and publishes pending events.
type Relay struct {
	Store       Store
	Publisher   Publisher
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Observer    Observer

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRelay creates a relay with default settings.
func NewRelay(store Store, pub Publisher, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		Store:       store,
		Publisher:   pub,
		Interval:    2 * time.Second,
		BatchSize:   100,
		MaxAttempts: 10,
		log:         log,
	}
}

// Start begins polling in the background.
func (r *Relay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.Interval)
	r.stop = make(chan struct{})
	r.wg.Add(1)

	go r.run()

	r.log.Info("outbox relay started", zap.Duration("interval", r.Interval))
}

// Stop stops polling and waits for the current pass to finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil
	r.log.Info("outbox relay stopped")
}

func (r *Relay) run() {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stop
		cancel()
	}()

	r.pass(ctx)
	for {
		select {
		case <-r.ticker.C:
			r.pass(ctx)
		case <-r.stop:
			return
		}
	}
}

func (r *Relay) pass(ctx context.Context) {
	if _, _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.log.Error("outbox pass failed", zap.Error(err))
	}
}

// RunOnce publishes one batch of pending events. It returns how many were
// published and how many failed.
func (r *Relay) RunOnce(ctx context.Context) (published, failed int, err error) {
	events, err := r.Store.PendingEvents(ctx, r.BatchSize, r.MaxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load pending events: %w", err)
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return published, failed, ctx.Err()
		}

		pubErr := r.Publisher.Publish(ctx, ev)
		if r.Observer != nil {
			r.Observer.EventDelivered(ev.Topic, pubErr)
		}
		if pubErr != nil {
			failed++
			r.log.Warn("event publish failed",
				zap.String("event_id", ev.ID),
				zap.String("topic", ev.Topic),
				zap.Int("attempt", ev.Attempts+1),
				zap.Error(pubErr),
			)
			if err := r.Store.MarkFailed(ctx, ev.ID, pubErr.Error()); err != nil {
				return published, failed, fmt.Errorf("failed to record failure of %s: %w", ev.ID, err)
			}
			if r.MaxAttempts > 0 && ev.Attempts+1 >= r.MaxAttempts {
				r.log.Error("event abandoned after max attempts",
					zap.String("event_id", ev.ID),
					zap.String("topic", ev.Topic),
					zap.Int("max_attempts", r.MaxAttempts),
				)
			}
			continue
		}

		if err := r.Store.MarkPublished(ctx, ev.ID, time.Now().UTC()); err != nil {
			return published, failed, fmt.Errorf("failed to mark %s published: %w", ev.ID, err)
		}
		published++
	}
	return published, failed, nil
}
