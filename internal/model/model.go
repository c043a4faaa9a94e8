// Package model defines the persisted entities of the SentryHub pipeline:
// device telemetry events, correlated incidents and queued alerts.
package model

import (
	"strings"
	"time"
)

// RiskLevel is the ordinal severity tag attached to events and incidents.
type RiskLevel string

// Risk levels, ordered LOW < MEDIUM < HIGH < CRITICAL.
const (
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// ParseRiskLevel normalizes a level tag to its canonical upper-case form.
// Unknown tags pass through unchanged (they rank below LOW and never
// trigger correlation).
func ParseRiskLevel(s string) RiskLevel {
	return RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
}

// Rank returns the severity ordering LOW=1, MEDIUM=2, HIGH=3, CRITICAL=4.
// Unknown levels rank 0.
func (l RiskLevel) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

// Actionable reports whether the level is severe enough to open or
// escalate an incident (HIGH or CRITICAL).
func (l RiskLevel) Actionable() bool {
	return l.Rank() >= LevelHigh.Rank()
}

// Incident statuses.
const (
	IncidentOpen         = "open"
	IncidentAcknowledged = "acknowledged"
	IncidentClosed       = "closed"
)

// ValidIncidentStatus reports whether s is a recognized incident status.
func ValidIncidentStatus(s string) bool {
	switch s {
	case IncidentOpen, IncidentAcknowledged, IncidentClosed:
		return true
	}
	return false
}

// Alert statuses.
const (
	AlertQueued = "queued"
	AlertSent   = "sent"
	AlertFailed = "failed"
)

// Event is an immutable record of one device observation. The store
// assigns ID and ReceivedAt; nothing mutates an event after that.
type Event struct {
	ID         int64          `json:"id"`
	DeviceID   string         `json:"device_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	RiskScore  float64        `json:"risk_score"`
	RiskLevel  RiskLevel      `json:"risk_level"`
	OccurredAt time.Time      `json:"occurred_at"`
	ReceivedAt time.Time      `json:"received_at"`

	// DedupKey is the idempotency fingerprint. At most one stored event
	// exists per non-empty key.
	DedupKey string `json:"idx_idempotency,omitempty"`
}

// Incident is the mutable per-device aggregate of correlated high-severity
// events. At most one incident per device is open at a time.
type Incident struct {
	ID             string         `json:"id"`
	DeviceID       string         `json:"device_id"`
	Status         string         `json:"status"`
	Category       string         `json:"category,omitempty"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	TopSignals     map[string]any `json:"top_signals,omitempty"`
	OpenedAt       time.Time      `json:"opened_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
}

// Alert is a queued notification tied to one incident. The pipeline only
// enqueues; delivery belongs to an external worker.
type Alert struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	Channel    string         `json:"channel"`
	Target     string         `json:"target"`
	Payload    map[string]any `json:"payload,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Device is a registered field sensor allowed to submit events.
type Device struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Type      string         `json:"type,omitempty"`
	Serial    string         `json:"serial,omitempty"`
	Location  map[string]any `json:"location,omitempty"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
}
