// Package memory provides a mutex-guarded in-memory implementation of the
// store contract. It backs tests and single-node development mode; the
// redis store is the durable production option.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tdnguyen/sentryhub/internal/model"
	"github.com/tdnguyen/sentryhub/internal/store"
)

// Store holds all entities in process memory.
type Store struct {
	mu sync.RWMutex

	devices  map[string]*model.Device
	serials  map[string]string // serial -> device id
	events   map[int64]*model.Event
	dedup    map[string]int64 // dedup key -> event id
	eventSeq int64

	incidents        map[string]*model.Incident
	incidentsByDev   map[string][]string // device id -> incident ids, append order
	alerts           map[string]*model.Alert
	alertsByIncident map[string][]string

	lockMu      sync.Mutex
	deviceLocks map[string]*sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		devices:          make(map[string]*model.Device),
		serials:          make(map[string]string),
		events:           make(map[int64]*model.Event),
		dedup:            make(map[string]int64),
		incidents:        make(map[string]*model.Incident),
		incidentsByDev:   make(map[string][]string),
		alerts:           make(map[string]*model.Alert),
		alertsByIncident: make(map[string][]string),
		deviceLocks:      make(map[string]*sync.Mutex),
	}
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(ctx context.Context) error { return nil }

// CreateDevice registers a device, rejecting duplicate serials.
func (s *Store) CreateDevice(ctx context.Context, d *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Serial != "" {
		if _, exists := s.serials[d.Serial]; exists {
			return store.ErrDuplicateSerial
		}
	}

	cp := *d
	s.devices[d.ID] = &cp
	if d.Serial != "" {
		s.serials[d.Serial] = d.ID
	}
	return nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListDevices(ctx context.Context, f store.DeviceFilter) ([]*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Device
	for _, d := range s.devices {
		if f.OwnerID != "" && d.OwnerID != f.OwnerID {
			continue
		}
		if f.Serial != "" && d.Serial != f.Serial {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}

	// Newest first, matching the registry listing contract.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) DeviceExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.devices[id]
	return ok, nil
}

// RecordEvent persists ev idempotently: an already-claimed dedup key
// returns the existing event id without a new row.
func (s *Store) RecordEvent(ctx context.Context, ev *model.Event) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.DedupKey != "" {
		if id, ok := s.dedup[ev.DedupKey]; ok {
			return id, false, nil
		}
	}

	s.eventSeq++
	cp := *ev
	cp.ID = s.eventSeq
	cp.ReceivedAt = time.Now().UTC()
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = cp.ReceivedAt
	}

	s.events[cp.ID] = &cp
	if cp.DedupKey != "" {
		s.dedup[cp.DedupKey] = cp.ID
	}

	ev.ID = cp.ID
	ev.ReceivedAt = cp.ReceivedAt
	ev.OccurredAt = cp.OccurredAt
	return cp.ID, true, nil
}

func (s *Store) EventByDedupKey(ctx context.Context, key string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.dedup[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.events[id]
	return &cp, nil
}

func (s *Store) OpenIncident(ctx context.Context, inc *model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inc
	s.incidents[inc.ID] = &cp
	s.incidentsByDev[inc.DeviceID] = append(s.incidentsByDev[inc.DeviceID], inc.ID)
	return nil
}

func (s *Store) UpdateIncident(ctx context.Context, inc *model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[inc.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

func (s *Store) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

func (s *Store) LatestOpenIncident(ctx context.Context, deviceID string) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.incidentsByDev[deviceID]
	for i := len(ids) - 1; i >= 0; i-- {
		if inc := s.incidents[ids[i]]; inc.Status == model.IncidentOpen {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) IncidentsByDevice(ctx context.Context, deviceID string, limit int) ([]*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.incidentsByDev[deviceID]
	var out []*model.Incident
	for i := len(ids) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *s.incidents[ids[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SetIncidentStatus(ctx context.Context, id, status string) (*model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	inc.Status = status
	switch status {
	case model.IncidentAcknowledged:
		inc.AcknowledgedAt = &now
	case model.IncidentClosed:
		inc.ClosedAt = &now
	}

	cp := *inc
	return &cp, nil
}

// WithDeviceLock serializes fn against other correlation runs for the
// same device.
func (s *Store) WithDeviceLock(ctx context.Context, deviceID string, fn func(ctx context.Context) error) error {
	s.lockMu.Lock()
	l, ok := s.deviceLocks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		s.deviceLocks[deviceID] = l
	}
	s.lockMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

func (s *Store) EnqueueAlert(ctx context.Context, a *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.alerts[a.ID] = &cp
	s.alertsByIncident[a.IncidentID] = append(s.alertsByIncident[a.IncidentID], a.ID)
	return nil
}

func (s *Store) AlertsByIncident(ctx context.Context, incidentID string) ([]*model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Alert
	for _, id := range s.alertsByIncident[incidentID] {
		cp := *s.alerts[id]
		out = append(out, &cp)
	}
	return out, nil
}
