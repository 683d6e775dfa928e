package ingest

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Pipeline is the explicit context object tying broker, store and dispatcher
// together. It is constructed once at process start and injected into
// adapters; there is no package-level singleton.
type Pipeline struct {
	Broker     *Broker
	Store      *Store
	Dispatcher *Dispatcher

	logger *xlog.Logger
	sub    Subscription
}

// PipelineBuilder constructs Pipeline instances.
type PipelineBuilder struct {
	logger         *xlog.Logger
	clock          xclock.Clock
	maxAttempts    int
	retryDelay     time.Duration
	handlerTimeout time.Duration
	bufferSize     int
	observers      []Observer
}

// NewPipelineBuilder returns a builder with package defaults.
func NewPipelineBuilder() *PipelineBuilder {
	return &PipelineBuilder{}
}

func (pb *PipelineBuilder) WithLogger(l *xlog.Logger) *PipelineBuilder {
	pb.logger = l
	return pb
}

func (pb *PipelineBuilder) WithClock(c xclock.Clock) *PipelineBuilder {
	pb.clock = c
	return pb
}

func (pb *PipelineBuilder) WithMaxAttempts(n int) *PipelineBuilder {
	pb.maxAttempts = n
	return pb
}

func (pb *PipelineBuilder) WithRetryDelay(d time.Duration) *PipelineBuilder {
	pb.retryDelay = d
	return pb
}

func (pb *PipelineBuilder) WithHandlerTimeout(d time.Duration) *PipelineBuilder {
	pb.handlerTimeout = d
	return pb
}

func (pb *PipelineBuilder) WithBufferSize(n int) *PipelineBuilder {
	pb.bufferSize = n
	return pb
}

func (pb *PipelineBuilder) WithObserver(obs ...Observer) *PipelineBuilder {
	for _, o := range obs {
		if o != nil {
			pb.observers = append(pb.observers, o)
		}
	}
	return pb
}

// Build wires a complete pipeline: broker with the ingestion topic created,
// store, and dispatcher. Call Start on the result to begin consuming.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	logger := pb.logger
	if logger == nil {
		logger = xlog.Default()
	}
	clock := pb.clock
	if clock == nil {
		clock = xclock.Default()
	}

	broker := NewBroker(BrokerConfig{
		MaxAttempts:    pb.maxAttempts,
		RetryDelay:     pb.retryDelay,
		HandlerTimeout: pb.handlerTimeout,
		BufferSize:     pb.bufferSize,
		Logger:         logger,
		Clock:          clock,
	})
	for _, o := range pb.observers {
		broker.AddObserver(o)
	}
	if err := broker.CreateTopic(TopicIngestion); err != nil {
		return nil, err
	}

	store := NewStore(logger, clock)
	dispatcher := NewDispatcher(broker, store, logger)

	return &Pipeline{
		Broker:     broker,
		Store:      store,
		Dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Start subscribes the dispatcher to the ingestion topic.
func (p *Pipeline) Start(ctx context.Context) error {
	sub, err := p.Dispatcher.Start(ctx)
	if err != nil {
		return err
	}
	p.sub = sub
	p.logger.Info().Msg("ingestion pipeline started")
	return nil
}

// Stats exposes the read-only observability surface of the pipeline.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Datastore: p.Store.Stats(),
		Queues:    p.Broker.Stats(),
	}
}

// Close stops the dispatcher subscription and the broker.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.sub != nil {
		_ = p.sub.Close()
	}
	return p.Broker.Close(ctx)
}
