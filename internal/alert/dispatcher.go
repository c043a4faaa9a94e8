// Package alert enqueues notification jobs for escalated incidents. This
// is a queuing boundary only; delivery belongs to an external worker.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tdnguyen/sentryhub/internal/model"
	"github.com/tdnguyen/sentryhub/internal/store"
)

// Defaults applied when the caller does not specify a route.
const (
	DefaultChannel = "sms"
	DefaultTarget  = "ops-team"
)

// Dispatcher queues alerts against the store.
type Dispatcher struct {
	alerts store.AlertStore
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(alerts store.AlertStore) *Dispatcher {
	return &Dispatcher{alerts: alerts}
}

// Enqueue creates one queued alert for the incident, snapshotting the
// triggering risk level in the payload.
func (d *Dispatcher) Enqueue(ctx context.Context, incidentID string, level model.RiskLevel, channel, target string) (string, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	if target == "" {
		target = DefaultTarget
	}

	a := &model.Alert{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Channel:    channel,
		Target:     target,
		Payload:    map[string]any{"risk_level": string(level)},
		Status:     model.AlertQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.alerts.EnqueueAlert(ctx, a); err != nil {
		return "", fmt.Errorf("enqueue alert: %w", err)
	}
	return a.ID, nil
}
