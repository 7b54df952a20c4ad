package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Uploader stores one day's NDJSON export and returns its object key
type Uploader interface {
	Upload(ctx context.Context, day time.Time, data []byte, rows int) (string, error)
}

// Exporter writes a day of events as newline delimited JSON
type Exporter struct {
	events   *Repository
	uploader Uploader
}

// NewExporter creates an exporter
func NewExporter(events *Repository, uploader Uploader) *Exporter {
	return &Exporter{events: events, uploader: uploader}
}

type exportedEvent struct {
	*Event
	APIKeyID string `json:"apiKeyId"`
}

// Encode renders every event of day as NDJSON and returns the row count
func (x *Exporter) Encode(ctx context.Context, day time.Time) ([]byte, int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	rows := 0
	err := x.events.EachEventOfDay(ctx, day, func(e *Event) error {
		rows++
		return enc.Encode(exportedEvent{Event: e, APIKeyID: e.APIKeyID})
	})
	if err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), rows, nil
}

// ExportDay uploads the NDJSON export of day. Days without events upload nothing
// and return an empty key.
func (x *Exporter) ExportDay(ctx context.Context, day time.Time) (string, int, error) {
	data, rows, err := x.Encode(ctx, day)
	if err != nil {
		return "", 0, err
	}
	if rows == 0 {
		return "", 0, nil
	}
	key, err := x.uploader.Upload(ctx, day, data, rows)
	if err != nil {
		return "", rows, fmt.Errorf("failed to archive events: %w", err)
	}
	return key, rows, nil
}
