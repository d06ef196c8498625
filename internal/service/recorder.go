package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-rate-engine/internal/interest"
	"lending-rate-engine/internal/storage"
)

// EventRecorder sinks registry curve events into the audit table. The
// registry emits synchronously, so writes run under a short deadline to
// keep a slow database from stalling configuration calls.
type EventRecorder struct {
	events storage.CurveEventStore
	logger zerolog.Logger
}

// NewEventRecorder constructs an observer backed by the event store.
// A nil store yields a recorder that only logs.
func NewEventRecorder(events storage.CurveEventStore, logger zerolog.Logger) *EventRecorder {
	return &EventRecorder{
		events: events,
		logger: logger.With().Str("component", "event_recorder").Logger(),
	}
}

// CurveChanged persists the event.
func (r *EventRecorder) CurveChanged(ev interest.CurveEvent) {
	r.logger.Info().
		Str("caller", ev.Caller).
		Str("asset", ev.Key).
		Str("ri", ev.Ri.Dec()).
		Str("tcrit", ev.Tcrit.Dec()).
		Msg("curve changed")

	if r.events == nil {
		return
	}

	params, err := json.Marshal(ev.Params)
	if err != nil {
		r.logger.Error().Err(err).Str("asset", ev.Key).Msg("failed to encode event params")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := storage.CurveEventRecord{
		Caller:   ev.Caller,
		AssetKey: ev.Key,
		Params:   params,
		Ri:       decimal.RequireFromString(ev.Ri.Dec()),
		Tcrit:    decimal.RequireFromString(ev.Tcrit.Dec()),
	}
	if _, err := r.events.InsertCurveEvent(ctx, record); err != nil {
		r.logger.Error().Err(err).Str("asset", ev.Key).Msg("failed to persist curve event")
	}
}

var _ interest.Observer = (*EventRecorder)(nil)
