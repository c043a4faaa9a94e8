// Package pipeline composes the ingestion pipeline: signature
// authentication, device validation, idempotency key derivation, risk
// scoring, idempotent persistence, incident correlation and alert
// dispatch. This is the single ingest path behind the HTTP boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/tdnguyen/sentryhub/internal/alert"
	"github.com/tdnguyen/sentryhub/internal/correlate"
	"github.com/tdnguyen/sentryhub/internal/detection"
	"github.com/tdnguyen/sentryhub/internal/model"
	"github.com/tdnguyen/sentryhub/internal/observability"
	"github.com/tdnguyen/sentryhub/internal/signature"
	"github.com/tdnguyen/sentryhub/internal/store"
)

// Errors surfaced to the boundary. Anything else is an internal failure.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownDevice    = errors.New("unknown device_id")
	ErrInvalidRequest   = errors.New("invalid request")
)

const deviceCacheSize = 4096

// Request is the parsed ingest body. Raw body bytes travel separately so
// authentication runs against exactly what the device signed.
type Request struct {
	DeviceID       string         `json:"device_id"`
	EventType      string         `json:"event_type"`
	OccurredAt     *time.Time     `json:"occurred_at,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idx_idempotency,omitempty"`
	RiskScore      *float64       `json:"risk_score,omitempty"`
	RiskLevel      string         `json:"risk_level,omitempty"`
}

// Result is the ingest outcome returned to the device.
type Result struct {
	RiskLevel  model.RiskLevel
	IncidentID string // empty when no incident was touched
	EventID    int64
	Duplicate  bool
}

// Pipeline is the ingestion orchestrator.
type Pipeline struct {
	store        store.Store
	correlator   *correlate.Correlator
	dispatcher   *alert.Dispatcher
	deviceSecret string
	logger       *zap.Logger

	// knownDevices caches positive registry lookups; devices are never
	// deleted by this service, so positives do not go stale.
	knownDevices *lru.Cache[string, struct{}]
}

// New wires the pipeline against a store.
func New(st store.Store, secret string, logger *zap.Logger) *Pipeline {
	cache, _ := lru.New[string, struct{}](deviceCacheSize)
	return &Pipeline{
		store:        st,
		correlator:   correlate.New(st, logger.Named("correlate")),
		dispatcher:   alert.NewDispatcher(st),
		deviceSecret: secret,
		logger:       logger,
		knownDevices: cache,
	}
}

// Ingest runs the full pipeline. Each step is a hard gate: nothing is
// persisted before authentication and validation pass, and event
// recording completes before correlation so a correlation failure leaves
// the event durably stored.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, sigHeader string, req Request) (*Result, error) {
	start := time.Now()

	if !signature.Verify(raw, sigHeader, p.deviceSecret) {
		observability.SignatureFailures.Inc()
		return nil, ErrInvalidSignature
	}

	if req.DeviceID == "" || req.EventType == "" {
		observability.ValidationFailures.Inc()
		return nil, fmt.Errorf("%w: device_id and event_type are required", ErrInvalidRequest)
	}

	known, err := p.deviceKnown(ctx, req.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("device lookup: %w", err)
	}
	if !known {
		observability.ValidationFailures.Inc()
		return nil, ErrUnknownDevice
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	dedupKey := req.IdempotencyKey
	if dedupKey == "" {
		dedupKey = detection.DeriveKey(req.DeviceID, occurredAt, req.EventType)
	}

	res := detection.Score(req.EventType, req.Payload)
	if req.RiskScore != nil {
		res.Score = *req.RiskScore
		res.Level = detection.LevelForScore(res.Score)
	}
	if req.RiskLevel != "" {
		res.Level = model.ParseRiskLevel(req.RiskLevel)
	}

	eventID, inserted, err := p.recordEvent(ctx, &model.Event{
		DeviceID:   req.DeviceID,
		EventType:  req.EventType,
		Payload:    req.Payload,
		RiskScore:  res.Score,
		RiskLevel:  res.Level,
		OccurredAt: occurredAt,
		DedupKey:   dedupKey,
	})
	if err != nil {
		return nil, err
	}

	if inserted {
		observability.EventsIngested.WithLabelValues(req.EventType, string(res.Level)).Inc()
	} else {
		observability.DuplicatesSuppressed.Inc()
	}

	result := &Result{
		RiskLevel: res.Level,
		EventID:   eventID,
		Duplicate: !inserted,
	}

	if res.Level.Actionable() {
		outcome, err := p.correlator.Correlate(ctx, req.DeviceID, res.Level, res.Category, res.TopSignals)
		if err != nil {
			// The event is durably recorded; the caller retries the same
			// request and the idempotency key makes the replay safe.
			return nil, fmt.Errorf("correlate: %w", err)
		}
		result.IncidentID = outcome.IncidentID

		if outcome.Opened {
			observability.IncidentsOpened.Inc()
		}
		if outcome.Escalated {
			observability.IncidentsEscalated.Inc()
		}

		if _, err := p.dispatcher.Enqueue(ctx, outcome.IncidentID, res.Level, "", ""); err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
		observability.AlertsEnqueued.WithLabelValues(alert.DefaultChannel).Inc()
	}

	observability.IngestDuration.Observe(time.Since(start).Seconds())

	p.logger.Info("event ingested",
		zap.Int64("event_id", eventID),
		zap.String("device_id", req.DeviceID),
		zap.String("event_type", req.EventType),
		zap.String("risk_level", string(res.Level)),
		zap.Bool("duplicate", result.Duplicate),
		zap.String("incident_id", result.IncidentID))

	return result, nil
}

// recordEvent persists the event, recovering a lost dedup-key claim by
// re-reading the row the winning delivery stored.
func (p *Pipeline) recordEvent(ctx context.Context, ev *model.Event) (int64, bool, error) {
	id, inserted, err := p.store.RecordEvent(ctx, ev)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, rerr := p.store.EventByDedupKey(ctx, ev.DedupKey)
		if rerr != nil {
			return 0, false, fmt.Errorf("re-read after key conflict: %w", rerr)
		}
		return existing.ID, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("record event: %w", err)
	}
	return id, inserted, nil
}

func (p *Pipeline) deviceKnown(ctx context.Context, deviceID string) (bool, error) {
	if _, ok := p.knownDevices.Get(deviceID); ok {
		return true, nil
	}
	exists, err := p.store.DeviceExists(ctx, deviceID)
	if err != nil {
		return false, err
	}
	if exists {
		p.knownDevices.Add(deviceID, struct{}{})
	}
	return exists, nil
}
