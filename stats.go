package ingest

// BrokerStats is a point-in-time snapshot of broker state. Taking it never
// mutates anything.
type BrokerStats struct {
	// Queues maps topic name to pending message count.
	Queues map[string]int `json:"queues"`
	// DeadLetterCount is the size of the dead-letter collection.
	DeadLetterCount int `json:"deadLetterQueueSize"`
}

// StoreStats is a point-in-time snapshot of store counters.
type StoreStats struct {
	TotalRecords    int            `json:"totalRecords"`
	UniqueIDs       int            `json:"uniqueIds"`
	SourceBreakdown map[string]int `json:"sourceBreakdown"`
}

// Stats is the combined observability surface for one pipeline.
type Stats struct {
	Datastore StoreStats  `json:"datastore"`
	Queues    BrokerStats `json:"queues"`
}
