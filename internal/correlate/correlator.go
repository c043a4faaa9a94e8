// Package correlate merges high-severity events into per-device incidents.
// For a device it either escalates the open incident or opens a new one;
// severity only ever moves upward while an incident is open.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdnguyen/sentryhub/internal/model"
	"github.com/tdnguyen/sentryhub/internal/store"
)

// Correlator maintains the at-most-one-open-incident-per-device invariant.
type Correlator struct {
	incidents store.IncidentStore
	logger    *zap.Logger
}

// New creates a correlator.
func New(incidents store.IncidentStore, logger *zap.Logger) *Correlator {
	return &Correlator{incidents: incidents, logger: logger}
}

// Outcome describes what correlation did.
type Outcome struct {
	IncidentID string
	Opened     bool
	Escalated  bool
}

// Correlate finds the device's open incident and escalates it, or opens a
// new one. The read-then-write runs inside the store's per-device critical
// section so two concurrent high-severity events cannot both open.
func (c *Correlator) Correlate(ctx context.Context, deviceID string, level model.RiskLevel, category string, signals map[string]any) (*Outcome, error) {
	var out *Outcome
	err := c.incidents.WithDeviceLock(ctx, deviceID, func(ctx context.Context) error {
		var err error
		out, err = c.correlateLocked(ctx, deviceID, level, category, signals)
		return err
	})
	return out, err
}

func (c *Correlator) correlateLocked(ctx context.Context, deviceID string, level model.RiskLevel, category string, signals map[string]any) (*Outcome, error) {
	inc, err := c.incidents.LatestOpenIncident(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return c.open(ctx, deviceID, level, category, signals)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup open incident: %w", err)
	}

	escalated := false
	if level.Rank() > inc.RiskLevel.Rank() {
		inc.RiskLevel = level
		escalated = true
	}
	if category != "" {
		inc.Category = category
	}
	if len(signals) > 0 {
		inc.TopSignals = signals
	}

	if err := c.incidents.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	if escalated {
		c.logger.Info("incident escalated",
			zap.String("incident_id", inc.ID),
			zap.String("device_id", deviceID),
			zap.String("risk_level", string(inc.RiskLevel)))
	}
	return &Outcome{IncidentID: inc.ID, Escalated: escalated}, nil
}

func (c *Correlator) open(ctx context.Context, deviceID string, level model.RiskLevel, category string, signals map[string]any) (*Outcome, error) {
	inc := &model.Incident{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Status:     model.IncidentOpen,
		Category:   category,
		RiskLevel:  level,
		TopSignals: signals,
		OpenedAt:   time.Now().UTC(),
	}
	if err := c.incidents.OpenIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("open incident: %w", err)
	}

	c.logger.Info("incident opened",
		zap.String("incident_id", inc.ID),
		zap.String("device_id", deviceID),
		zap.String("risk_level", string(level)))
	return &Outcome{IncidentID: inc.ID, Opened: true}, nil
}
