// Package ingest implements an in-process ingestion pipeline: a topic-based
// message broker with at-least-once delivery, bounded retries and
// dead-lettering, feeding an idempotent record store keyed by
// (source, record id).
//
// Source-specific adapters (see adapter/api, adapter/csv, adapter/queue)
// normalize heterogeneous input into record batches and publish them on the
// shared ingestion topic. A single Dispatcher consumes that topic and routes
// each batch to the Store under its declared source tag. Duplicate delivery
// is expected and harmless: the store drops records it has already seen.
package ingest

// TopicIngestion is the shared topic all adapters publish to and the
// Dispatcher consumes from.
const TopicIngestion = "ingestion"

// Source tags carried in message metadata and used to partition stored
// records.
const (
	SourceAPI     = "api"
	SourceCSV     = "csv"
	SourceQueue   = "external-queue"
	SourceUnknown = "unknown"
)
