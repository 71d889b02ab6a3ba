package submission

import (
	"context"
	"testing"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/catalog"
	"github.com/eskrenkovic/price-tracker/internal/modules/storage"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func Test_Registry_Get_Returns_Same_Form_For_Same_ID(t *testing.T) {
	// Arrange
	registry := NewRegistry(catalog.NewMemoryStore(), storage.NewMemoryStorage("/uploads"), Options{}, zap.NewNop())
	id := uuid.New()

	// Act
	first := registry.Get(id)
	second := registry.Get(id)

	// Assert
	require.Same(t, first, second)
	require.Equal(t, 1, registry.Len())
}

func Test_Registry_EvictIdle_Drops_Only_Idle_Forms(t *testing.T) {
	// Arrange
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	registry := NewRegistry(catalog.NewMemoryStore(), storage.NewMemoryStorage("/uploads"), Options{}, zap.NewNop())
	registry.now = func() time.Time { return now }

	idle := uuid.New()
	registry.Get(idle)

	now = now.Add(time.Hour)
	active := uuid.New()
	registry.Get(active)

	// Act
	evicted := registry.EvictIdle(30 * time.Minute)

	// Assert
	require.Equal(t, 1, evicted)
	require.Equal(t, 1, registry.Len())
}

func Test_Registry_EvictIdle_Keeps_Form_When_Progress_Stream_Is_Open(t *testing.T) {
	// Arrange
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	registry := NewRegistry(catalog.NewMemoryStore(), storage.NewMemoryStorage("/uploads"), Options{}, zap.NewNop())
	registry.now = func() time.Time { return now }

	id := uuid.New()
	watched := registry.Get(id)
	changes, stop := watched.Watch()

	now = now.Add(time.Hour)

	// Act
	evicted := registry.EvictIdle(30 * time.Minute)

	// Assert
	require.Zero(t, evicted)
	require.Same(t, watched, registry.Get(id))

	_, err := registry.Get(id).SubmitURL(context.Background(), Input{Name: "Kettle", Price: "19.99", ImageURL: "https://img.example.com/kettle.jpg"})
	require.NoError(t, err)

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected open stream to see the submission")
	}

	stop()
	now = now.Add(time.Hour)
	require.Equal(t, 1, registry.EvictIdle(30*time.Minute))
}

func Test_Registry_ScheduleEviction_Registers_Cron_Job(t *testing.T) {
	// Arrange
	registry := NewRegistry(catalog.NewMemoryStore(), storage.NewMemoryStorage("/uploads"), Options{}, zap.NewNop())
	c := cron.New()

	// Act
	_, err := registry.ScheduleEviction(c, time.Minute)

	// Assert
	require.NoError(t, err)
	require.Len(t, c.Entries(), 1)
}
