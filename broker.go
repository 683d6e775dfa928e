package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Handler processes one delivered message. Returning an error triggers the
// broker's retry/dead-letter path; returning nil completes the message.
type Handler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription that can be closed.
type Subscription interface {
	Close() error
}

// Broker defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 250 * time.Millisecond
	DefaultHandlerTimeout = 30 * time.Second
	DefaultBufferSize     = 1024
)

// BrokerConfig controls delivery behavior.
type BrokerConfig struct {
	// MaxAttempts is the total number of delivery attempts per message
	// before it is dead-lettered (default: 3).
	MaxAttempts int
	// RetryDelay is the base backoff before redelivering a failed message;
	// it doubles on every attempt (default: 250ms).
	RetryDelay time.Duration
	// HandlerTimeout bounds a single handler invocation (default: 30s).
	// Negative disables the timeout; a hung handler then blocks that
	// subscriber indefinitely.
	HandlerTimeout time.Duration
	// BufferSize is the per-subscriber delivery queue size (default: 1024).
	// Publishing never blocks: on overflow the send completes from a
	// goroutine, and sustained overflow can reorder first deliveries.
	BufferSize int
	// Logger and Clock default to the process-wide instances when nil.
	Logger *xlog.Logger
	Clock  xclock.Clock
}

func (c BrokerConfig) withDefaults() BrokerConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	} else if c.HandlerTimeout < 0 {
		c.HandlerTimeout = 0
	}
	if c.BufferSize < 1 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Logger == nil {
		c.Logger = xlog.Default()
	}
	if c.Clock == nil {
		c.Clock = xclock.Default()
	}
	return c
}

// Broker is an in-memory, topic-based message broker with at-least-once
// delivery. Each subscriber gets an independent delivery stream (fan-out);
// within one subscriber, first-attempt delivery follows publish order.
//
// Unlike the usual fire-and-forget event dispatch, a failed delivery is
// rescheduled: the message stays pending and is re-enqueued to the failing
// subscriber after an exponential backoff, until it succeeds or exhausts
// MaxAttempts and moves to the dead-letter collection.
type Broker struct {
	cfg    BrokerConfig
	logger *xlog.Logger
	clock  xclock.Clock

	mu     sync.RWMutex
	topics map[string]*topic
	dead   []DeadLetter

	obsMu     sync.RWMutex
	observers []Observer

	subSeq atomic.Uint64
	closed atomic.Bool
}

// NewBroker constructs a Broker. Zero-value config fields take the package
// defaults.
func NewBroker(cfg BrokerConfig) *Broker {
	cfg = cfg.withDefaults()
	b := &Broker{
		cfg:    cfg,
		logger: cfg.Logger,
		clock:  cfg.Clock,
		topics: make(map[string]*topic),
	}
	b.logger.Info().Msg("in-memory broker initialized")
	return b
}

type topic struct {
	name string

	mu      sync.Mutex
	pending []*Message
	subs    map[uint64]*subscriber
}

// task is one queued delivery. retried marks a backoff redelivery, which is
// dropped if the message completed or dead-lettered in the meantime; first
// deliveries always reach the handler.
type task struct {
	msg     *Message
	retried bool
}

type subscriber struct {
	id      uint64
	handler Handler
	tasks   chan task
	quit    chan struct{}
	once    sync.Once
}

// stop closes the subscriber's quit channel exactly once.
func (s *subscriber) stop() {
	s.once.Do(func() { close(s.quit) })
}

// enqueue hands a message to the subscriber's delivery queue without ever
// blocking the caller; on overflow the send is completed from a goroutine,
// trading strict ordering for progress.
func (s *subscriber) enqueue(msg *Message, retried bool) {
	tk := task{msg: msg, retried: retried}
	select {
	case s.tasks <- tk:
	case <-s.quit:
	default:
		go func() {
			select {
			case s.tasks <- tk:
			case <-s.quit:
			}
		}()
	}
}

// CreateTopic registers a topic. It is idempotent: creating an existing
// topic is a no-op.
func (b *Broker) CreateTopic(name string) error {
	if name == "" {
		return ErrInvalidTopic
	}
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	b.ensureTopic(name)
	return nil
}

func (b *Broker) ensureTopic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t
	}
	t := &topic{
		name: name,
		subs: make(map[uint64]*subscriber),
	}
	b.topics[name] = t
	b.logger.Info().Str("topic", name).Msg("topic created")
	return t
}

// Publish enqueues a record batch on a topic and signals subscribers
// asynchronously. It never blocks on handler completion: the returned
// message id is available before any delivery happens, and handler failures
// never surface here.
func (b *Broker) Publish(ctx context.Context, topicName string, body []Record, meta Metadata) (string, error) {
	if b.closed.Load() {
		return "", ErrBrokerClosed
	}
	if topicName == "" {
		return "", ErrInvalidTopic
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = b.clock.Now()
	}

	msg := &Message{
		ID:       "msg_" + uuid.NewString(),
		Topic:    topicName,
		Body:     body,
		Metadata: meta,
	}

	t := b.ensureTopic(topicName)
	t.mu.Lock()
	t.pending = append(t.pending, msg)
	for _, sub := range t.subs {
		sub.enqueue(msg, false)
	}
	t.mu.Unlock()

	b.notify(Event{Type: EventPublish, Topic: topicName, MessageID: msg.ID})
	b.logger.Debug().
		Str("topic", topicName).
		Str("message_id", msg.ID).
		Str("correlation_id", meta.CorrelationID).
		Int("records", len(body)).
		Msg("message published")
	return msg.ID, nil
}

// Subscribe registers a handler on a topic and returns the active
// subscription. Every message currently pending in the topic is replayed to
// the new handler, in addition to future publishes. Multiple subscribers on
// one topic each receive independent copies (fan-out).
func (b *Broker) Subscribe(ctx context.Context, topicName string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBrokerClosed
	}
	if topicName == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("ingest: subscribe to %q: handler must not be nil", topicName)
	}

	t := b.ensureTopic(topicName)
	sub := &subscriber{
		id:      b.subSeq.Add(1),
		handler: handler,
		tasks:   make(chan task, b.cfg.BufferSize),
		quit:    make(chan struct{}),
	}

	t.mu.Lock()
	t.subs[sub.id] = sub
	// Replay: queue everything already pending before any new publish can
	// interleave.
	for _, msg := range t.pending {
		sub.enqueue(msg, false)
	}
	t.mu.Unlock()

	go b.run(ctx, t, sub)

	b.logger.Info().Str("topic", topicName).Msg("subscribed to topic")
	return &subscription{broker: b, topic: t, sub: sub}, nil
}

type subscription struct {
	broker *Broker
	topic  *topic
	sub    *subscriber
}

func (s *subscription) Close() error {
	s.topic.mu.Lock()
	delete(s.topic.subs, s.sub.id)
	s.topic.mu.Unlock()
	s.sub.stop()
	s.broker.logger.Info().Str("topic", s.topic.name).Msg("unsubscribed from topic")
	return nil
}

// run is the delivery loop: one worker per subscriber, consuming its queue
// in order.
func (b *Broker) run(ctx context.Context, t *topic, sub *subscriber) {
	for {
		select {
		case <-sub.quit:
			return
		case <-ctx.Done():
			return
		case tk := <-sub.tasks:
			b.deliver(ctx, t, sub, tk)
		}
	}
}

// deliver performs one delivery attempt for one subscriber. A first delivery
// always invokes the handler, even when another subscriber has already
// completed the message; only backoff redeliveries are skipped once the
// message left the pending collection.
func (b *Broker) deliver(ctx context.Context, t *topic, sub *subscriber, tk task) {
	msg := tk.msg
	t.mu.Lock()
	if tk.retried && !pendingContains(t.pending, msg.ID) {
		t.mu.Unlock()
		return
	}
	msg.Attempts++
	attempt := msg.Attempts
	t.mu.Unlock()

	hctx := WithCorrelationID(ctx, msg.Metadata.CorrelationID)
	err := b.invoke(hctx, sub.handler, msg)

	if err == nil {
		// Already-removed is a silent no-op: another subscriber or a
		// duplicate delivery may have completed it first.
		t.remove(msg.ID)
		b.notify(Event{Type: EventAck, Topic: t.name, MessageID: msg.ID, Attempt: attempt})
		b.logger.Debug().
			Str("topic", t.name).
			Str("message_id", msg.ID).
			Msg("message processed")
		return
	}

	b.logger.Error().
		Str("topic", t.name).
		Str("message_id", msg.ID).
		Str("correlation_id", msg.Metadata.CorrelationID).
		Int("attempts", attempt).
		Err(err).
		Msg("error processing message")

	if attempt >= b.cfg.MaxAttempts {
		if failed := t.remove(msg.ID); failed != nil {
			b.mu.Lock()
			b.dead = append(b.dead, DeadLetter{Message: failed, Err: err, FailedAt: b.clock.Now()})
			b.mu.Unlock()
			b.notify(Event{Type: EventDeadLetter, Topic: t.name, MessageID: msg.ID, Attempt: attempt, Err: err})
			b.logger.Warn().
				Str("topic", t.name).
				Str("message_id", msg.ID).
				Msg("message moved to dead-letter queue")
		}
		return
	}

	// Redeliver after exponential backoff.
	delay := b.cfg.RetryDelay << (attempt - 1)
	b.notify(Event{Type: EventRetry, Topic: t.name, MessageID: msg.ID, Attempt: attempt, Err: err})
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			sub.enqueue(msg, true)
		case <-sub.quit:
		}
	}()
}

// invoke runs the handler with panic recovery and the configured timeout.
// Handler errors and panics are contained here; they never reach publishers.
func (b *Broker) invoke(ctx context.Context, h Handler, msg *Message) error {
	if b.cfg.HandlerTimeout == 0 {
		return safeCall(ctx, h, msg)
	}
	tctx, cancel := context.WithTimeout(ctx, b.cfg.HandlerTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- safeCall(tctx, h, msg) }()
	select {
	case <-tctx.Done():
		return tctx.Err()
	case err := <-errCh:
		return err
	}
}

func safeCall(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

func pendingContains(pending []*Message, id string) bool {
	for _, m := range pending {
		if m.ID == id {
			return true
		}
	}
	return false
}

// remove takes a message out of the pending collection by id. Returns nil
// if the message is already gone.
func (t *topic) remove(id string) *Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.pending {
		if m.ID == id {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return m
		}
	}
	return nil
}

// Stats returns a read-only snapshot of per-topic pending counts and the
// dead-letter size.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	queues := make(map[string]int, len(b.topics))
	for name, t := range b.topics {
		t.mu.Lock()
		queues[name] = len(t.pending)
		t.mu.Unlock()
	}
	return BrokerStats{
		Queues:          queues,
		DeadLetterCount: len(b.dead),
	}
}

// DeadLetters returns a deep copy of the dead-letter collection for
// inspection. Mutating the snapshot never touches broker-owned messages.
func (b *Broker) DeadLetters() []DeadLetter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DeadLetter, len(b.dead))
	for i, d := range b.dead {
		out[i] = DeadLetter{Message: d.Message.clone(), Err: d.Err, FailedAt: d.FailedAt}
	}
	return out
}

// AddObserver registers an observer for broker lifecycle events.
func (b *Broker) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.obsMu.Lock()
	b.observers = append(b.observers, obs)
	b.obsMu.Unlock()
}

func (b *Broker) notify(e Event) {
	b.obsMu.RLock()
	obs := make([]Observer, len(b.observers))
	copy(obs, b.observers)
	b.obsMu.RUnlock()
	for _, o := range obs {
		o.OnEvent(e)
	}
}

// Close stops all subscribers. Pending and dead-letter state stays readable
// after close.
func (b *Broker) Close(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.topics {
		t.mu.Lock()
		for _, sub := range t.subs {
			sub.stop()
		}
		t.subs = make(map[uint64]*subscriber)
		t.mu.Unlock()
	}
	b.logger.Info().Msg("broker closed")
	return nil
}
