package ingest

import (
	"context"

	"github.com/trickstertwo/xlog"
)

// knownSources are the tags adapters declare on publish. Anything else is
// stored under SourceUnknown rather than rejected: ingestion must never lose
// data to a tagging gap.
var knownSources = map[string]struct{}{
	SourceAPI:   {},
	SourceCSV:   {},
	SourceQueue: {},
}

// Dispatcher is the single consumer bridging broker and store: it subscribes
// to the ingestion topic and routes each message body to the store under the
// message's declared source tag.
type Dispatcher struct {
	broker *Broker
	store  *Store
	logger *xlog.Logger
}

// NewDispatcher constructs a Dispatcher. A nil logger takes the process
// default.
func NewDispatcher(broker *Broker, store *Store, logger *xlog.Logger) *Dispatcher {
	if logger == nil {
		logger = xlog.Default()
	}
	return &Dispatcher{broker: broker, store: store, logger: logger}
}

// Start subscribes the dispatcher to the ingestion topic. Messages already
// pending there are replayed to it.
func (d *Dispatcher) Start(ctx context.Context) (Subscription, error) {
	sub, err := d.broker.Subscribe(ctx, TopicIngestion, d.handle)
	if err != nil {
		return nil, err
	}
	d.logger.Info().Msg("ingestion consumer initialized")
	return sub, nil
}

// handle processes one delivered message. Returning an error hands the
// message back to the broker's retry/dead-letter path.
func (d *Dispatcher) handle(ctx context.Context, msg *Message) error {
	correlationID := msg.Metadata.CorrelationID
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	log := d.logger.With(
		xlog.Str("correlation_id", correlationID),
		xlog.Str("message_id", msg.ID),
	)

	source := msg.Metadata.Source
	if _, ok := knownSources[source]; !ok {
		log.Warn().Str("source", source).Msg("unknown source, storing as unknown")
		source = SourceUnknown
	}

	log.Info().Str("source", source).Int("records", len(msg.Body)).Msg("processing message")

	count, err := d.store.Store(msg.Body, source)
	if err != nil {
		log.Error().Err(err).Msg("failed to store records")
		return err
	}

	log.Info().Str("source", source).Int("stored", count).Msg("message processed")
	return nil
}
