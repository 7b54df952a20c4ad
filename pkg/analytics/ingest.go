package analytics

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/platinummonkey/tally/pkg/async"
	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/observability"
)

// IngestState is a stage of the ingestion path
type IngestState string

const (
	StateReceived        IngestState = "received"
	StateValidated       IngestState = "validated"
	StatePersisted       IngestState = "persisted"
	StateCountersUpdated IngestState = "counters_updated"
	StateCountersFailed  IngestState = "counters_failed"
)

// Ingestor takes a collect request from RECEIVED to PERSISTED and hands the
// rolling counter update to a background queue
type Ingestor struct {
	events   *Repository
	counters *RollingCounters
	queue    *async.TaskQueue
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewIngestor creates an ingestor. counters may be nil to skip rolling counters.
func NewIngestor(events *Repository, counters *RollingCounters, queue *async.TaskQueue, metrics *observability.Metrics) *Ingestor {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Ingestor{events: events, counters: counters, queue: queue, metrics: metrics, now: time.Now}
}

func (i *Ingestor) observe(state IngestState, status string) {
	i.metrics.IngestEventsTotal.WithLabelValues(string(state), status).Inc()
}

// Ingest decodes, validates and persists one event for key. It returns once the
// row is written; counter updates happen afterwards and never fail the call.
func (i *Ingestor) Ingest(ctx context.Context, key *auth.APIKey, body io.Reader, clientIP string) (*Event, error) {
	logger := observability.FromContext(ctx).WithField("api_key_id", key.ID)

	payload, verr, err := decodePayload(body)
	if err != nil {
		i.observe(StateReceived, "failed")
		return nil, err
	}
	if payload.IPAddress == "" {
		if addr, err := netip.ParseAddr(clientIP); err == nil {
			payload.IPAddress = addr.String()
		}
	}
	i.observe(StateReceived, "ok")

	err = payload.check(verr)
	if err == nil {
		err = verr.Err()
	}
	if err != nil {
		i.observe(StateValidated, "failed")
		return nil, err
	}
	i.observe(StateValidated, "ok")

	event, err := payload.toEvent(key.ID, i.now())
	if err != nil {
		i.observe(StateValidated, "failed")
		return nil, err
	}
	if err := i.events.Insert(ctx, event); err != nil {
		i.observe(StatePersisted, "failed")
		logger.WithError(err).Error("failed to persist event")
		return nil, fmt.Errorf("%w: %v", ErrPersistEvent, err)
	}
	i.observe(StatePersisted, "ok")

	i.updateCounters(ctx, key, event)
	return event, nil
}

func (i *Ingestor) updateCounters(ctx context.Context, key *auth.APIKey, event *Event) {
	if i.counters == nil || i.queue == nil {
		return
	}
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"api_key_id": key.ID,
		"event_id":   event.ID,
	})

	appID, name, trackingUserID := key.AppID, event.Event, event.TrackingUserID
	err := i.queue.Submit(func(ctx context.Context) error {
		if err := i.counters.Record(ctx, appID, name, trackingUserID); err != nil {
			i.observe(StateCountersFailed, "failed")
			i.metrics.CounterUpdatesTotal.WithLabelValues("failed").Inc()
			return err
		}
		i.observe(StateCountersUpdated, "ok")
		i.metrics.CounterUpdatesTotal.WithLabelValues("ok").Inc()
		return nil
	})
	if err != nil {
		i.observe(StateCountersFailed, "dropped")
		i.metrics.CounterUpdatesTotal.WithLabelValues("dropped").Inc()
		logger.WithError(err).Warn("rolling counter update dropped")
	}
}
