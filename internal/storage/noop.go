package storage

import "context"

// NoopStore discards writes and never finds anything. Used when persistence
// is disabled.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (n *NoopStore) Get(_ context.Context, _ string) ([]byte, error) { return nil, ErrNotFound }
func (n *NoopStore) Set(_ context.Context, _ string, _ []byte) error { return nil }
func (n *NoopStore) Remove(_ context.Context, _ string) error        { return nil }
func (n *NoopStore) Close() error                                    { return nil }
