package pubsub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"convsync/pkg/logger"
	"convsync/pkg/telemetry"
)

// Default and configuration values.
const defaultSubCapacity = 1024
const fallbackSubCapacity = 64

// ErrUnavailable is returned when the transport cannot establish a
// subscription or accept a publish. Callers must treat it as terminal for
// the attempt; the broker never retries on their behalf.
var ErrUnavailable = errors.New("pubsub: transport unavailable")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("pubsub: broker closed")

// ErrPayloadTooLarge is returned for publishes over the configured payload
// limit.
var ErrPayloadTooLarge = errors.New("pubsub: payload exceeds size limit")

// Transport is the pub/sub surface the sync layer consumes. Subscribe opens
// a per-scope event stream; Publish broadcasts an envelope to every open
// stream on the scope. Events on one scope are delivered in publish order;
// no ordering holds across scopes.
type Transport interface {
	Subscribe(scope string) (Stream, error)
	Publish(scope string, kind Kind, payload []byte) error
}

// Stream is a lazily consumed sequence of items for one scope. Close is
// idempotent and synchronously stops delivery.
type Stream interface {
	Events() <-chan *Item
	Close()
}

// Item wraps an Envelope whose payload may be backed by a pooled buffer.
// Consumers must call Done() exactly once after decoding.
type Item struct {
	Env Envelope

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases the pooled payload buffer. The Envelope payload must not be
// retained after Done returns.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			bytebufferpool.Put(it.buf)
			it.buf = nil
		}
		it.Env.Payload = nil
	})
}

// Broker is an in-process Transport with bounded per-subscriber FIFO
// queues. A subscriber that falls behind has events dropped (counted), not
// delivered late; transcripts self-heal through the store reload path.
type Broker struct {
	mu       sync.Mutex
	subs     map[string][]*subscription
	capacity int
	closed   bool
	// unavailable simulates a transport outage for tests and for the
	// degraded-mode path: Subscribe and Publish fail terminally while set.
	unavailable atomic.Bool
	// maxPayload bounds accepted publish payloads; zero means unlimited.
	maxPayload atomic.Int64

	publishTotal uint64
	dropTotal    uint64
}

// NewBroker creates a Broker whose subscriber queues hold capacity items.
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = fallbackSubCapacity
	}
	return &Broker{subs: make(map[string][]*subscription), capacity: capacity}
}

// SetAvailable flips the simulated transport health. While unavailable,
// Subscribe and Publish return ErrUnavailable.
func (b *Broker) SetAvailable(ok bool) { b.unavailable.Store(!ok) }

// SetMaxPayload bounds the accepted publish payload size in bytes; zero or
// negative means unlimited.
func (b *Broker) SetMaxPayload(n int64) { b.maxPayload.Store(n) }

// Subscribe opens a stream on scope. It fails terminally when the broker is
// closed or unavailable so the caller can escalate to degraded mode.
func (b *Broker) Subscribe(scope string) (Stream, error) {
	if b.unavailable.Load() {
		return nil, ErrUnavailable
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &subscription{scope: scope, ch: make(chan *Item, b.capacity), b: b}
	b.subs[scope] = append(b.subs[scope], s)
	logger.Debug("pubsub_subscribed", "scope", scope, "subscribers", len(b.subs[scope]))
	return s, nil
}

// Publish copies payload into a pooled buffer per subscriber and enqueues
// without blocking. Full subscriber queues drop the item.
func (b *Broker) Publish(scope string, kind Kind, payload []byte) error {
	if b.unavailable.Load() {
		return ErrUnavailable
	}
	if max := b.maxPayload.Load(); max > 0 && int64(len(payload)) > max {
		logger.Warn("pubsub_payload_rejected", "scope", scope, "bytes", len(payload), "limit", max)
		return ErrPayloadTooLarge
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*subscription, len(b.subs[scope]))
	copy(targets, b.subs[scope])
	b.mu.Unlock()

	atomic.AddUint64(&b.publishTotal, 1)
	for _, s := range targets {
		var bb *bytebufferpool.ByteBuffer
		var p []byte
		if len(payload) > 0 {
			bb = bytebufferpool.Get()
			bb.B = append(bb.B[:0], payload...)
			p = bb.B[:len(payload)]
		}
		it := &Item{Env: Envelope{Scope: scope, Kind: kind, Payload: p}, buf: bb}
		if !s.enqueue(it) {
			it.Done()
			atomic.AddUint64(&b.dropTotal, 1)
			telemetry.BrokerDrops.Inc()
			logger.Warn("pubsub_subscriber_overrun", "scope", scope)
		}
	}
	return nil
}

// Dropped returns the number of items dropped due to subscriber overrun.
func (b *Broker) Dropped() uint64 { return atomic.LoadUint64(&b.dropTotal) }

// Close tears down every subscription and rejects further use.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()
	for _, list := range subs {
		for _, s := range list {
			s.Close()
		}
	}
	logger.Info("pubsub_broker_closed")
}

type subscription struct {
	scope string
	ch    chan *Item
	b     *Broker

	mu     sync.Mutex
	closed bool
}

func (s *subscription) Events() <-chan *Item { return s.ch }

// enqueue delivers without blocking; returns false when the queue is full
// or the stream is closed.
func (s *subscription) enqueue(it *Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- it:
		return true
	default:
		return false
	}
}

// Close detaches from the broker, closes the event channel and drains any
// queued items so pooled buffers are returned.
func (s *subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	for it := range s.ch {
		it.Done()
	}

	s.b.mu.Lock()
	list := s.b.subs[s.scope]
	for i, cur := range list {
		if cur == s {
			s.b.subs[s.scope] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.b.subs[s.scope]) == 0 {
		delete(s.b.subs, s.scope)
	}
	s.b.mu.Unlock()
}
