// Package csv ingests uploaded CSV files: enforce the size cap, parse with
// numeric coercion, validate row by row, publish the surviving rows on the
// ingestion topic. Invalid rows are filtered rather than fatal, unless no
// valid row remains.
package csv

import (
	"bytes"
	"context"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/trickstertwo/xlog"

	"github.com/streamweld/ingest"
)

// MaxFileSize is the default upload cap (10MB), enforced before parsing.
const MaxFileSize = 10 << 20

// RowValidator decides whether one parsed row is ingestible.
type RowValidator func(row ingest.Record) error

// RequireID is the default validator: a row must carry an identity.
func RequireID(row ingest.Record) error {
	if _, ok := row.ID(); !ok {
		return errors.New("row is missing an id")
	}
	return nil
}

// Config controls the CSV processor.
type Config struct {
	// MaxSize caps the raw payload in bytes (default: MaxFileSize).
	MaxSize int64
	// Validate is applied per row (default: RequireID).
	Validate RowValidator
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = MaxFileSize
	}
	if c.Validate == nil {
		c.Validate = RequireID
	}
	return c
}

// Result reports one processed file.
type Result struct {
	ValidCount   int `json:"validCount"`
	InvalidCount int `json:"invalidCount"`
	TotalCount   int `json:"totalCount"`
}

// Processor parses, validates and publishes CSV uploads.
type Processor struct {
	cfg    Config
	broker *ingest.Broker
	logger *xlog.Logger
}

// NewProcessor constructs a Processor. A nil logger takes the process
// default.
func NewProcessor(cfg Config, broker *ingest.Broker, logger *xlog.Logger) *Processor {
	if logger == nil {
		logger = xlog.Default()
	}
	return &Processor{cfg: cfg.withDefaults(), broker: broker, logger: logger}
}

// Process ingests one uploaded file. Oversized payloads are rejected with a
// CapacityError before any broker interaction; a file with zero valid rows
// fails with ErrNoValidRecords.
func (p *Processor) Process(ctx context.Context, data []byte, fileName, correlationID string) (Result, error) {
	log := p.logger.With(
		xlog.Str("correlation_id", correlationID),
		xlog.Str("file", fileName),
	)
	log.Info().Msg("processing csv file")

	if size := int64(len(data)); size > p.cfg.MaxSize {
		err := &ingest.CapacityError{Size: size, Limit: p.cfg.MaxSize}
		log.Error().Err(err).Msg("file rejected")
		return Result{}, err
	}

	rows, err := Parse(data)
	if err != nil {
		log.Error().Err(err).Msg("error parsing csv")
		return Result{}, fmt.Errorf("parse csv: %w", err)
	}

	valid := make([]ingest.Record, 0, len(rows))
	invalid := 0
	for _, row := range rows {
		if err := p.cfg.Validate(row); err != nil {
			invalid++
			continue
		}
		valid = append(valid, row)
	}

	result := Result{ValidCount: len(valid), InvalidCount: invalid, TotalCount: len(rows)}
	if invalid > 0 {
		log.Warn().
			Int("invalid", invalid).
			Int("total", len(rows)).
			Msg("invalid records filtered from csv")
	}
	if len(valid) == 0 {
		log.Error().Msg("no valid records found in csv file")
		return result, ingest.ErrNoValidRecords
	}

	if _, err := p.broker.Publish(ctx, ingest.TopicIngestion, valid, ingest.Metadata{
		Source:        ingest.SourceCSV,
		CorrelationID: correlationID,
		Extra:         map[string]string{"fileName": fileName},
	}); err != nil {
		return result, err
	}

	log.Info().Int("records", len(valid)).Msg("published csv records for processing")
	return result, nil
}

// Parse reads a header-row CSV payload into records, coercing numeric cell
// values.
func Parse(data []byte) ([]ingest.Record, error) {
	reader := stdcsv.NewReader(bytes.NewReader(data))
	// Tolerate ragged rows; missing cells are simply absent from the record.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []ingest.Record
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(ingest.Record, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = coerce(fields[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// coerce converts numeric-looking cells to numbers, leaving everything else
// as the raw string.
func coerce(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}
	return value
}
