// Package redisstore implements the store contract on Redis. Entities are
// JSON blobs under namespaced keys; idempotency and the one-open-incident
// invariant ride on Redis primitives: SETNX claims the dedup key, INCR
// assigns the event sequence, and a per-device SET NX PX advisory lock
// serializes correlation.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tdnguyen/sentryhub/internal/model"
	"github.com/tdnguyen/sentryhub/internal/store"
)

// Key namespaces.
const (
	keyEventSeq    = "sentryhub:events:seq"
	keyEventFmt    = "sentryhub:event:%d"
	keyDedupFmt    = "sentryhub:dedup:%s"
	keyDeviceFmt   = "sentryhub:device:%s"
	keySerialFmt   = "sentryhub:device:serial:%s"
	keyDeviceIndex = "sentryhub:devices"
	keyIncidentFmt = "sentryhub:incident:%s"
	keyIncDevFmt   = "sentryhub:incidents:dev:%s"
	keyOpenIncFmt  = "sentryhub:incident:open:%s"
	keyAlertFmt    = "sentryhub:alert:%s"
	keyAlertIncFmt = "sentryhub:alerts:inc:%s"
	keyAlertQueue  = "sentryhub:alerts:queue"
	keyLockFmt     = "sentryhub:lock:dev:%s"
)

const (
	lockTTL        = 5 * time.Second
	lockRetryDelay = 25 * time.Millisecond
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store is a Redis-backed store.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) CreateDevice(ctx context.Context, d *model.Device) error {
	if d.Serial != "" {
		ok, err := s.rdb.SetNX(ctx, fmt.Sprintf(keySerialFmt, d.Serial), d.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("claim serial: %w", err)
		}
		if !ok {
			return store.ErrDuplicateSerial
		}
	}

	if err := s.setJSON(ctx, fmt.Sprintf(keyDeviceFmt, d.ID), d); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, keyDeviceIndex, redis.Z{
		Score:  float64(d.CreatedAt.UnixNano()),
		Member: d.ID,
	}).Err()
}

func (s *Store) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	var d model.Device
	if err := s.getJSON(ctx, fmt.Sprintf(keyDeviceFmt, id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDevices(ctx context.Context, f store.DeviceFilter) ([]*model.Device, error) {
	ids, err := s.rdb.ZRevRange(ctx, keyDeviceIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var out []*model.Device
	for _, id := range ids {
		d, err := s.GetDevice(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.OwnerID != "" && d.OwnerID != f.OwnerID {
			continue
		}
		if f.Serial != "" && d.Serial != f.Serial {
			continue
		}
		out = append(out, d)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) DeviceExists(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, fmt.Sprintf(keyDeviceFmt, id)).Result()
	if err != nil {
		return false, fmt.Errorf("device exists: %w", err)
	}
	return n > 0, nil
}

// RecordEvent assigns a sequence id and claims the dedup key with SETNX,
// so concurrent identical deliveries resolve to a single row regardless
// of arrival order.
func (s *Store) RecordEvent(ctx context.Context, ev *model.Event) (int64, bool, error) {
	if ev.DedupKey != "" {
		if existing, err := s.dedupLookup(ctx, ev.DedupKey); err == nil {
			return existing, false, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return 0, false, err
		}
	}

	id, err := s.rdb.Incr(ctx, keyEventSeq).Result()
	if err != nil {
		return 0, false, fmt.Errorf("event sequence: %w", err)
	}

	now := time.Now().UTC()
	cp := *ev
	cp.ID = id
	cp.ReceivedAt = now
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = now
	}

	if cp.DedupKey != "" {
		ok, err := s.rdb.SetNX(ctx, fmt.Sprintf(keyDedupFmt, cp.DedupKey), id, 0).Result()
		if err != nil {
			return 0, false, fmt.Errorf("claim dedup key: %w", err)
		}
		if !ok {
			// Lost the claim to a concurrent identical delivery.
			if existing, err := s.dedupLookup(ctx, cp.DedupKey); err == nil {
				return existing, false, nil
			}
			return 0, false, store.ErrDuplicateKey
		}
	}

	if err := s.setJSON(ctx, fmt.Sprintf(keyEventFmt, id), &cp); err != nil {
		return 0, false, err
	}

	ev.ID = cp.ID
	ev.ReceivedAt = cp.ReceivedAt
	ev.OccurredAt = cp.OccurredAt
	return id, true, nil
}

func (s *Store) EventByDedupKey(ctx context.Context, key string) (*model.Event, error) {
	id, err := s.dedupLookup(ctx, key)
	if err != nil {
		return nil, err
	}
	var ev model.Event
	if err := s.getJSON(ctx, fmt.Sprintf(keyEventFmt, id), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) dedupLookup(ctx context.Context, key string) (int64, error) {
	val, err := s.rdb.Get(ctx, fmt.Sprintf(keyDedupFmt, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("dedup lookup: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dedup mapping corrupt: %w", err)
	}
	return id, nil
}

func (s *Store) OpenIncident(ctx context.Context, inc *model.Incident) error {
	if err := s.setJSON(ctx, fmt.Sprintf(keyIncidentFmt, inc.ID), inc); err != nil {
		return err
	}
	if err := s.rdb.ZAdd(ctx, fmt.Sprintf(keyIncDevFmt, inc.DeviceID), redis.Z{
		Score:  float64(inc.OpenedAt.UnixNano()),
		Member: inc.ID,
	}).Err(); err != nil {
		return fmt.Errorf("index incident: %w", err)
	}
	return s.rdb.Set(ctx, fmt.Sprintf(keyOpenIncFmt, inc.DeviceID), inc.ID, 0).Err()
}

func (s *Store) UpdateIncident(ctx context.Context, inc *model.Incident) error {
	key := fmt.Sprintf(keyIncidentFmt, inc.ID)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("incident exists: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return s.setJSON(ctx, key, inc)
}

func (s *Store) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	var inc model.Incident
	if err := s.getJSON(ctx, fmt.Sprintf(keyIncidentFmt, id), &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// LatestOpenIncident follows the per-device open pointer, falling back to
// a scan of the device's incident index if the pointer is stale.
func (s *Store) LatestOpenIncident(ctx context.Context, deviceID string) (*model.Incident, error) {
	id, err := s.rdb.Get(ctx, fmt.Sprintf(keyOpenIncFmt, deviceID)).Result()
	if err == nil {
		inc, err := s.GetIncident(ctx, id)
		if err == nil && inc.Status == model.IncidentOpen {
			return inc, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("open incident pointer: %w", err)
	}

	ids, err := s.rdb.ZRevRange(ctx, fmt.Sprintf(keyIncDevFmt, deviceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("incident index: %w", err)
	}
	for _, candidate := range ids {
		inc, err := s.GetIncident(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if inc.Status == model.IncidentOpen {
			return inc, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) IncidentsByDevice(ctx context.Context, deviceID string, limit int) ([]*model.Incident, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.rdb.ZRevRange(ctx, fmt.Sprintf(keyIncDevFmt, deviceID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("incident index: %w", err)
	}

	var out []*model.Incident
	for _, id := range ids {
		inc, err := s.GetIncident(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

func (s *Store) SetIncidentStatus(ctx context.Context, id, status string) (*model.Incident, error) {
	inc, err := s.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inc.Status = status
	switch status {
	case model.IncidentAcknowledged:
		inc.AcknowledgedAt = &now
	case model.IncidentClosed:
		inc.ClosedAt = &now
	}

	if err := s.setJSON(ctx, fmt.Sprintf(keyIncidentFmt, id), inc); err != nil {
		return nil, err
	}

	pointerKey := fmt.Sprintf(keyOpenIncFmt, inc.DeviceID)
	if status == model.IncidentOpen {
		if err := s.rdb.Set(ctx, pointerKey, inc.ID, 0).Err(); err != nil {
			return nil, fmt.Errorf("open incident pointer: %w", err)
		}
	} else {
		current, err := s.rdb.Get(ctx, pointerKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("open incident pointer: %w", err)
		}
		if current == inc.ID {
			if err := s.rdb.Del(ctx, pointerKey).Err(); err != nil {
				return nil, fmt.Errorf("clear incident pointer: %w", err)
			}
		}
	}
	return inc, nil
}

// WithDeviceLock acquires a per-device advisory lock (SET NX PX) before
// running fn, retrying until the lock is free or ctx expires.
func (s *Store) WithDeviceLock(ctx context.Context, deviceID string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf(keyLockFmt, deviceID)
	token := strconv.FormatInt(time.Now().UnixNano(), 36)

	for {
		ok, err := s.rdb.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire device lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, s.rdb, []string{key}, token).Err()
	}()

	return fn(ctx)
}

// EnqueueAlert records the alert and pushes its id on the delivery queue
// consumed by the external worker.
func (s *Store) EnqueueAlert(ctx context.Context, a *model.Alert) error {
	if err := s.setJSON(ctx, fmt.Sprintf(keyAlertFmt, a.ID), a); err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, fmt.Sprintf(keyAlertIncFmt, a.IncidentID), a.ID).Err(); err != nil {
		return fmt.Errorf("index alert: %w", err)
	}
	return s.rdb.LPush(ctx, keyAlertQueue, a.ID).Err()
}

func (s *Store) AlertsByIncident(ctx context.Context, incidentID string) ([]*model.Alert, error) {
	ids, err := s.rdb.LRange(ctx, fmt.Sprintf(keyAlertIncFmt, incidentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("alert index: %w", err)
	}

	var out []*model.Alert
	for _, id := range ids {
		var a model.Alert
		if err := s.getJSON(ctx, fmt.Sprintf(keyAlertFmt, id), &a); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
