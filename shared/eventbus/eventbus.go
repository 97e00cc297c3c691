// Package eventbus is a minimal in-memory pub/sub bus decoupling the
// analysis pipeline from persistence and notification side effects.
package eventbus

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"l1sentry/shared/logging"
)

// Topics carried on the bus.
const (
	TopicAnomaly = "anomaly.detected"
	TopicSession = "session.finished"
)

var (
	published = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "l1sentry", Subsystem: "eventbus", Name: "published_total", Help: "Events accepted onto the bus by topic."},
		[]string{"topic"},
	)
	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "l1sentry", Subsystem: "eventbus", Name: "dropped_total", Help: "Events dropped because the bus queue was full."},
		[]string{"topic"},
	)
)

func init() {
	_ = prometheus.Register(published)
	_ = prometheus.Register(dropped)
}

var log = logging.New("eventbus")

// Event is one message on the bus.
type Event struct {
	Topic   string
	Source  string
	Payload interface{}
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscriber receives events for its topics. Handle runs on the dispatch
// goroutine; a stalled subscriber exerts backpressure through the queue.
type Subscriber interface {
	Handle(ctx context.Context, evt Event)
	Topics() []string
}

// Bus fans events out to registered subscribers through a bounded queue.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string][]Subscriber
	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup
}

// New constructs a bus with the given queue depth.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	b := &Bus{
		subs:  make(map[string][]Subscriber),
		queue: make(chan Event, buffer),
		stop:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

func (b *Bus) loop() {
	defer b.wg.Done()
	for {
		select {
		case evt := <-b.queue:
			b.dispatch(evt)
		case <-b.stop:
			// Flush whatever is already queued before stopping.
			for {
				select {
				case evt := <-b.queue:
					b.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

// Close drains the queue and stops dispatching.
func (b *Bus) Close() {
	close(b.stop)
	b.wg.Wait()
}

// Register adds a subscriber for its topics.
func (b *Bus) Register(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range sub.Topics() {
		b.subs[t] = append(b.subs[t], sub)
	}
}

// Publish enqueues an event, blocking until there is room or ctx ends.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	select {
	case b.queue <- evt:
		published.WithLabelValues(evt.Topic).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues without blocking. A full queue drops the event so
// analysis never stalls on a slow sink.
func (b *Bus) TryPublish(evt Event) bool {
	select {
	case b.queue <- evt:
		published.WithLabelValues(evt.Topic).Inc()
		return true
	default:
		dropped.WithLabelValues(evt.Topic).Inc()
		log.WithField("topic", evt.Topic).Debug("bus queue full, event dropped")
		return false
	}
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[evt.Topic]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.Handle(context.Background(), evt)
	}
}
