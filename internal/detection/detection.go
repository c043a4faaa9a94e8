// Package detection maps raw event data to a risk score and severity
// level, and derives the idempotency fingerprint that makes retried
// deliveries no-ops.
//
// The scorer is a fixed heuristic: per-type priors plus threshold bands.
// It is deterministic, side-effect free and total over any payload shape.
package detection

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/tdnguyen/sentryhub/internal/model"
)

// Per-event-type score priors, applied when the payload carries no
// explicit score.
var typePriors = map[string]float64{
	"intrusion": 0.90,
	"motion":    0.70,
	"tamper":    0.60,
}

// DefaultPrior is the score for event types without a configured prior.
const DefaultPrior = 0.40

// Threshold bands, inclusive on the lower bound.
const (
	ThresholdCritical = 0.85
	ThresholdHigh     = 0.70
	ThresholdMedium   = 0.50
)

// DefaultCategory is used when the payload carries no category.
const DefaultCategory = "generic"

// Result is the scorer output attached to the event and, for actionable
// levels, carried into the incident.
type Result struct {
	Score      float64
	Level      model.RiskLevel
	Category   string
	TopSignals map[string]any
}

// Score evaluates one event. Explicit score/level in the payload (or the
// request-level overrides passed by the caller) win over the heuristic.
// A nil payload is treated as an empty map.
func Score(eventType string, payload map[string]any) Result {
	score, hasScore := numberField(payload, "score")
	level := stringField(payload, "level")
	category := stringField(payload, "category")

	if !hasScore {
		var ok bool
		if score, ok = typePriors[eventType]; !ok {
			score = DefaultPrior
		}
	}

	if level == "" {
		level = string(LevelForScore(score))
	}
	if category == "" {
		category = DefaultCategory
	}

	return Result{
		Score:    score,
		Level:    model.ParseRiskLevel(level),
		Category: category,
		TopSignals: map[string]any{
			"heuristic": "type-priors",
			"inputs":    map[string]any{"event_type": eventType},
		},
	}
}

// LevelForScore maps a score in [0,1] to its threshold band.
func LevelForScore(score float64) model.RiskLevel {
	switch {
	case score >= ThresholdCritical:
		return model.LevelCritical
	case score >= ThresholdHigh:
		return model.LevelHigh
	case score >= ThresholdMedium:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

// DeriveKey computes the deterministic idempotency fingerprint over
// device, occurrence time and event type. Identical tuples always derive
// the same key regardless of delivery attempt.
//
// Payload contents are deliberately not folded in: two events differing
// only in payload collide, and the second delivery resolves to the first
// stored event.
func DeriveKey(deviceID string, occurredAt time.Time, eventType string) string {
	sum := sha1.Sum([]byte(deviceID + ":" + occurredAt.UTC().Format(time.RFC3339Nano) + ":" + eventType))
	return hex.EncodeToString(sum[:])
}

// numberField reads a numeric payload field, tolerating the types JSON
// decoding can produce.
func numberField(payload map[string]any, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringField(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
