package alert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdnguyen/sentryhub/internal/model"
	"github.com/tdnguyen/sentryhub/internal/store/memory"
)

func TestEnqueueDefaults(t *testing.T) {
	s := memory.New()
	d := NewDispatcher(s)
	ctx := context.Background()

	id, err := d.Enqueue(ctx, "inc-1", model.LevelCritical, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	alerts, err := s.AlertsByIncident(ctx, "inc-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, DefaultChannel, a.Channel)
	assert.Equal(t, DefaultTarget, a.Target)
	assert.Equal(t, model.AlertQueued, a.Status)
	assert.Equal(t, "CRITICAL", a.Payload["risk_level"])
	assert.False(t, a.CreatedAt.IsZero())
}

func TestEnqueueExplicitRoute(t *testing.T) {
	s := memory.New()
	d := NewDispatcher(s)
	ctx := context.Background()

	_, err := d.Enqueue(ctx, "inc-1", model.LevelHigh, "email", "night-shift")
	require.NoError(t, err)

	alerts, err := s.AlertsByIncident(ctx, "inc-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "email", alerts[0].Channel)
	assert.Equal(t, "night-shift", alerts[0].Target)
}
