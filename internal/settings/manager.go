// Package settings keeps the user preferences that survive restarts.
package settings

import (
	"context"
	"fmt"
	"sync"

	"CoinWatch/internal/model"
	"CoinWatch/internal/storage"
)

// Manager guards the settings and writes every change through.
type Manager struct {
	mu    sync.Mutex
	state model.Settings
	blobs storage.BlobStore
}

// NewManager loads the saved settings or starts from defaults.
func NewManager(ctx context.Context, blobs storage.BlobStore) (*Manager, error) {
	if blobs == nil {
		blobs = storage.NewNoopStore()
	}
	state, err := LoadState(ctx, blobs)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &Manager{state: state, blobs: blobs}, nil
}

// Get returns a copy of the current settings.
func (m *Manager) Get() model.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetNotifications turns alert notifications on or off.
func (m *Manager) SetNotifications(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.NotificationsEnabled = enabled
	return m.save(ctx)
}

// SetDefaultTimeframe changes the timeframe used when /chart has none.
func (m *Manager) SetDefaultTimeframe(ctx context.Context, tf model.Timeframe) error {
	if !tf.Valid() {
		return fmt.Errorf("unsupported timeframe %q", tf)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.DefaultTimeframe = tf
	return m.save(ctx)
}

// save must be called with mu held.
func (m *Manager) save(ctx context.Context) error {
	if err := SaveState(ctx, m.blobs, &m.state); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
