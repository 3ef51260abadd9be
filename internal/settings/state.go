package settings

import (
	"context"
	"errors"
	"time"

	"CoinWatch/internal/model"
	"CoinWatch/internal/storage"
)

// StorageKey is the blob key of the persisted settings.
const StorageKey = "coinwatch:settings"

// Defaults returns the settings used before anything was saved.
func Defaults() model.Settings {
	return model.Settings{
		NotificationsEnabled: true,
		DefaultTimeframe:     model.Timeframe24H,
	}
}

// LoadState reads the settings. Returns defaults if nothing was saved.
func LoadState(ctx context.Context, blobs storage.BlobStore) (model.Settings, error) {
	state := Defaults()
	if err := storage.LoadJSON(ctx, blobs, StorageKey, &state); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Defaults(), nil
		}
		return model.Settings{}, err
	}
	if !state.DefaultTimeframe.Valid() {
		state.DefaultTimeframe = model.Timeframe24H
	}
	return state, nil
}

// SaveState stamps and writes the settings.
func SaveState(ctx context.Context, blobs storage.BlobStore, state *model.Settings) error {
	state.UpdatedAt = time.Now()
	return storage.SaveJSON(ctx, blobs, StorageKey, state)
}
