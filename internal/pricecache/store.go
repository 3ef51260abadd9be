// Package pricecache owns the latest price snapshots and the polling loop
// that refreshes them.
package pricecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"CoinWatch/internal/collector"
	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
	"CoinWatch/internal/scheduler"
	"CoinWatch/internal/storage"
)

const (
	// DefaultPollInterval is the time between background fetches.
	DefaultPollInterval = 30 * time.Second

	// StorageKey is the blob key of the persisted snapshot.
	StorageKey = "coinwatch:prices"
)

// UpdateFunc receives the full price map after every successful fetch.
type UpdateFunc func(prices map[string]model.PriceSnapshot)

// Options configures a Store. Zero values select defaults.
type Options struct {
	Interval time.Duration
	Blobs    storage.BlobStore
	Now      func() time.Time
	Logger   *zap.Logger
}

// Store is the price cache and polling engine.
type Store struct {
	source   collector.PriceSource
	sched    scheduler.Scheduler
	interval time.Duration
	blobs    storage.BlobStore
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	handle  scheduler.Handle
	hooks   []UpdateFunc
	issued  uint64
	applied uint64

	// applyMu serializes applying results and running hooks so one update
	// is fully processed before the next is accepted.
	applyMu sync.Mutex
}

// New creates a Store reading from source and ticking on sched.
func New(source collector.PriceSource, sched scheduler.Scheduler, opts Options) *Store {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Blobs == nil {
		opts.Blobs = storage.NewNoopStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		source:   source,
		sched:    sched,
		interval: opts.Interval,
		blobs:    opts.Blobs,
		now:      opts.Now,
		logger:   opts.Logger.With(zap.String("component", "pricecache")),
		state:    State{Prices: map[string]model.PriceSnapshot{}},
	}
}

// OnUpdate registers fn to run after every successful fetch.
func (s *Store) OnUpdate(fn UpdateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// StartPolling fetches immediately and then every interval. Calling it
// while already polling does nothing.
func (s *Store) StartPolling(ctx context.Context) error {
	s.mu.Lock()
	if s.state.IsPolling {
		s.mu.Unlock()
		return nil
	}
	handle, err := s.sched.Every(s.interval, func() {
		_ = s.FetchAllPrices(ctx)
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.handle = handle
	s.state.IsPolling = true
	s.mu.Unlock()

	s.logger.Info("polling started", zap.Duration("interval", s.interval))
	_ = s.FetchAllPrices(ctx)
	return nil
}

// StopPolling cancels the poll timer. It is safe to call repeatedly.
func (s *Store) StopPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
		s.logger.Info("polling stopped")
	}
	s.state.IsPolling = false
}

// FetchAllPrices is the background fetch. The loading flag is only raised
// when the previous fetch succeeded, so repeated failures do not flicker.
func (s *Store) FetchAllPrices(ctx context.Context) error {
	s.mu.Lock()
	if s.state.ConsecutiveFailures == 0 {
		s.state.IsLoading = true
	}
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	return s.load(ctx, seq)
}

// RefreshPrices is the user-initiated fetch: it always shows loading and
// starts over from a clean failure count.
func (s *Store) RefreshPrices(ctx context.Context) error {
	s.mu.Lock()
	s.state.IsLoading = true
	s.state.ConsecutiveFailures = 0
	s.state.Err = nil
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	return s.load(ctx, seq)
}

func (s *Store) nextSeqLocked() uint64 {
	s.issued++
	return s.issued
}

func (s *Store) load(ctx context.Context, seq uint64) error {
	snapshots, err := s.source.FetchPrices(ctx)

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if ctxErr := ctx.Err(); ctxErr != nil {
		// The caller is gone; the outcome says nothing about the remote API.
		if seq == s.issued {
			s.state.IsLoading = false
		}
		s.mu.Unlock()
		return fetch.Classify(ctxErr)
	}
	if seq < s.applied {
		// A newer fetch already landed.
		s.mu.Unlock()
		if err != nil {
			return fetch.Classify(err)
		}
		return nil
	}
	s.applied = seq

	if err != nil {
		classified := fetch.Classify(err)
		if seq == s.issued {
			s.state.IsLoading = false
		}
		s.state.Err = classified
		s.state.ConsecutiveFailures++
		failures := s.state.ConsecutiveFailures
		s.mu.Unlock()

		s.logger.Warn("price fetch failed",
			zap.String("kind", string(classified.Kind)),
			zap.Int("consecutive_failures", failures),
			zap.Error(classified),
		)
		return classified
	}

	prices := make(map[string]model.PriceSnapshot, len(snapshots))
	for _, snap := range snapshots {
		prices[snap.InstrumentID] = snap
	}
	s.state.Prices = prices
	s.state.Err = nil
	s.state.LastFetchAtMs = s.now().UnixMilli()
	s.state.ConsecutiveFailures = 0
	if seq == s.issued {
		s.state.IsLoading = false
	}
	hooks := append([]UpdateFunc(nil), s.hooks...)
	record := persisted{Prices: prices, LastFetchAtMs: s.state.LastFetchAtMs}
	s.mu.Unlock()

	s.logger.Debug("prices updated", zap.Int("count", len(prices)))
	s.persist(ctx, record)
	for _, hook := range hooks {
		hook(copyPrices(prices))
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Prices = copyPrices(s.state.Prices)
	return st
}

// Price returns the cached snapshot for id.
func (s *Store) Price(id string) (model.PriceSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.Prices[id]
	return p, ok
}

// IsStale reports whether the cached prices are stale now.
func (s *Store) IsStale() bool {
	return s.Snapshot().IsStale(s.now())
}

// ConnectionStatus derives connectivity from the current state.
func (s *Store) ConnectionStatus() Status {
	return DeriveStatus(s.Snapshot())
}

type persisted struct {
	Prices        map[string]model.PriceSnapshot `json:"prices"`
	LastFetchAtMs int64                          `json:"last_fetch_at_ms"`
}

// Hydrate restores the last persisted snapshot. A missing blob is not an
// error.
func (s *Store) Hydrate(ctx context.Context) error {
	var record persisted
	if err := storage.LoadJSON(ctx, s.blobs, StorageKey, &record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LastFetchAtMs != 0 {
		return nil
	}
	if record.Prices != nil {
		s.state.Prices = record.Prices
	}
	s.state.LastFetchAtMs = record.LastFetchAtMs
	s.logger.Info("prices hydrated", zap.Int("count", len(record.Prices)))
	return nil
}

func (s *Store) persist(ctx context.Context, record persisted) {
	if err := storage.SaveJSON(ctx, s.blobs, StorageKey, record); err != nil {
		s.logger.Warn("persist prices failed", zap.Error(err))
	}
}

func copyPrices(in map[string]model.PriceSnapshot) map[string]model.PriceSnapshot {
	out := make(map[string]model.PriceSnapshot, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
