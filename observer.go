package ingest

import "github.com/trickstertwo/xlog"

// EventType enumerates broker lifecycle events for the Observer pattern.
type EventType string

const (
	EventPublish    EventType = "publish"
	EventAck        EventType = "ack"
	EventRetry      EventType = "retry"
	EventDeadLetter EventType = "dead_letter"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Topic     string
	MessageID string
	Attempt   int
	Err       error
}

// Observer receives broker lifecycle events. Implementations should be
// non-blocking; they run inline on the delivery path.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver emits broker events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("message_id", e.MessageID),
	)
	switch e.Type {
	case EventRetry, EventDeadLetter:
		ev.Warn().Int("attempt", e.Attempt).Err(e.Err).Msg("broker event")
	default:
		ev.Debug().Msg("broker event")
	}
}
