package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CoinWatch/internal/model"
	"CoinWatch/internal/storage"
)

func TestManager_DefaultsAndPersistence(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemoryStore()

	m, err := NewManager(ctx, blobs)
	require.NoError(t, err)
	assert.True(t, m.Get().NotificationsEnabled)
	assert.Equal(t, model.Timeframe24H, m.Get().DefaultTimeframe)

	require.NoError(t, m.SetNotifications(ctx, false))
	require.NoError(t, m.SetDefaultTimeframe(ctx, model.Timeframe7D))
	assert.Error(t, m.SetDefaultTimeframe(ctx, "2w"))
	assert.False(t, m.Get().UpdatedAt.IsZero())

	reloaded, err := NewManager(ctx, blobs)
	require.NoError(t, err)
	assert.False(t, reloaded.Get().NotificationsEnabled)
	assert.Equal(t, model.Timeframe7D, reloaded.Get().DefaultTimeframe)
}

func TestLoadState_InvalidTimeframeFallsBack(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemoryStore()
	require.NoError(t, blobs.Set(ctx, StorageKey, []byte(`{"notifications_enabled":false,"default_timeframe":"bogus"}`)))

	state, err := LoadState(ctx, blobs)
	require.NoError(t, err)
	assert.False(t, state.NotificationsEnabled)
	assert.Equal(t, model.Timeframe24H, state.DefaultTimeframe)
}

func TestLoadState_CorruptBlob(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemoryStore()
	require.NoError(t, blobs.Set(ctx, StorageKey, []byte(`{`)))

	_, err := NewManager(ctx, blobs)
	assert.Error(t, err)
}
