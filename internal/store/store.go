// Package store defines the durable storage contract the pipeline runs
// against. Implementations live in subpackages: memory (tests, dev mode)
// and redisstore (production).
package store

import (
	"context"
	"errors"

	"github.com/tdnguyen/sentryhub/internal/model"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey surfaces a dedup-key claim lost to a concurrent
	// identical delivery. Callers recover by re-reading the existing
	// event; this never reaches the API boundary.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	ErrDuplicateSerial = errors.New("device serial already registered")
)

// DeviceFilter narrows ListDevices results.
type DeviceFilter struct {
	OwnerID string
	Serial  string
	Limit   int
}

// DeviceStore is the device registry consumed by the pipeline and the
// registration API.
type DeviceStore interface {
	CreateDevice(ctx context.Context, d *model.Device) error
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	ListDevices(ctx context.Context, f DeviceFilter) ([]*model.Device, error)
	DeviceExists(ctx context.Context, id string) (bool, error)
}

// EventStore durably records events with idempotent writes.
type EventStore interface {
	// RecordEvent persists ev, assigning its ID and ReceivedAt. When
	// ev.DedupKey is non-empty and already stored, the existing event's
	// ID is returned with inserted=false and no new row is written.
	// A lost claim race returns ErrDuplicateKey.
	RecordEvent(ctx context.Context, ev *model.Event) (id int64, inserted bool, err error)

	// EventByDedupKey returns the event stored under key, or ErrNotFound.
	EventByDedupKey(ctx context.Context, key string) (*model.Event, error)
}

// IncidentStore holds the per-device incident aggregates.
type IncidentStore interface {
	OpenIncident(ctx context.Context, inc *model.Incident) error
	UpdateIncident(ctx context.Context, inc *model.Incident) error
	GetIncident(ctx context.Context, id string) (*model.Incident, error)

	// LatestOpenIncident returns the most recently opened incident with
	// status open for the device, or ErrNotFound.
	LatestOpenIncident(ctx context.Context, deviceID string) (*model.Incident, error)

	// IncidentsByDevice lists incidents for a device, newest first.
	IncidentsByDevice(ctx context.Context, deviceID string, limit int) ([]*model.Incident, error)

	// SetIncidentStatus transitions an incident and stamps the matching
	// timestamp. Returns ErrNotFound for unknown incidents.
	SetIncidentStatus(ctx context.Context, id, status string) (*model.Incident, error)

	// WithDeviceLock runs fn inside a critical section scoped to the
	// device, serializing the correlator's read-then-write so that at
	// most one open incident exists per device.
	WithDeviceLock(ctx context.Context, deviceID string, fn func(ctx context.Context) error) error
}

// AlertStore queues alerts for the external delivery worker.
type AlertStore interface {
	EnqueueAlert(ctx context.Context, a *model.Alert) error
	AlertsByIncident(ctx context.Context, incidentID string) ([]*model.Alert, error)
}

// Store is the full contract the server wires together.
type Store interface {
	DeviceStore
	EventStore
	IncidentStore
	AlertStore

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
