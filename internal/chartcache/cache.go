// Package chartcache caches chart series per (instrument, timeframe) with
// a TTL and a bounded number of entries.
package chartcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"CoinWatch/internal/collector"
	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
	"CoinWatch/internal/storage"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 20

	// StorageKey is the blob key of the persisted entries.
	StorageKey = "coinwatch:charts"
)

// Entry is one cached chart.
type Entry struct {
	InstrumentID string            `json:"instrument_id"`
	Timeframe    model.Timeframe   `json:"timeframe"`
	Prices       model.ChartSeries `json:"prices"`
	Volumes      model.ChartSeries `json:"volumes"`
	FetchedAtMs  int64             `json:"fetched_at_ms"`
}

// Result is the outcome of GetChartData. Err may accompany cached data,
// in which case the data is stale but still worth showing.
type Result struct {
	Prices  model.ChartSeries
	Volumes model.ChartSeries
	Err     *fetch.Error
}

// KeyState is the loading and error state of one cache key.
type KeyState struct {
	Loading bool
	Err     *fetch.Error
}

// Key builds the cache key for id and tf.
func Key(id string, tf model.Timeframe) string {
	return id + "-" + string(tf)
}

// Options configures a Cache. Zero values select defaults.
type Options struct {
	TTL      time.Duration
	Capacity int
	Blobs    storage.BlobStore
	Now      func() time.Time
	Logger   *zap.Logger
}

// Cache is the chart cache. Concurrent requests for the same key share one
// network call.
type Cache struct {
	source   collector.ChartSource
	ttl      time.Duration
	capacity int
	blobs    storage.BlobStore
	now      func() time.Time
	logger   *zap.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]Entry
	states  map[string]KeyState

	// persistMu orders writes so the last write carries the latest state.
	persistMu sync.Mutex
}

// New creates a Cache over source.
func New(source collector.ChartSource, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
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
	return &Cache{
		source:   source,
		ttl:      opts.TTL,
		capacity: opts.Capacity,
		blobs:    opts.Blobs,
		now:      opts.Now,
		logger:   opts.Logger.With(zap.String("component", "chartcache")),
		entries:  make(map[string]Entry),
		states:   make(map[string]KeyState),
	}
}

func (c *Cache) isFresh(e Entry, tf model.Timeframe, nowMs int64) bool {
	return e.Timeframe == tf && nowMs-e.FetchedAtMs < c.ttl.Milliseconds()
}

// GetChartData returns the chart for id over tf, serving fresh entries
// from memory. On a fetch failure the previous entry, if any, is returned
// alongside the error. The returned series are copies.
//
// Callers of one key share a single fetch that is not bound to any caller's
// context; a caller whose ctx ends stops waiting but the fetch completes
// and still updates the cache for the others.
func (c *Cache) GetChartData(ctx context.Context, id string, tf model.Timeframe) Result {
	key := Key(id, tf)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.isFresh(e, tf, c.now().UnixMilli()) {
		c.mu.Unlock()
		return Result{Prices: copySeries(e.Prices), Volumes: copySeries(e.Volumes)}
	}
	st := c.states[key]
	st.Loading = true
	c.states[key] = st
	c.mu.Unlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.refresh(fetchCtx, key, id, tf)
	})

	var err error
	select {
	case r := <-ch:
		if r.Shared {
			c.logger.Debug("chart fetch coalesced", zap.String("key", key))
		}
		if r.Err == nil {
			data := r.Val.(model.ChartData)
			return Result{Prices: copySeries(data.Prices), Volumes: copySeries(data.Volumes)}
		}
		err = r.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	return c.fallback(key, tf, fetch.Classify(err))
}

// fallback pairs err with the cached entry for key, if any.
func (c *Cache) fallback(key string, tf model.Timeframe, err *fetch.Error) Result {
	res := Result{Prices: model.ChartSeries{}, Volumes: model.ChartSeries{}, Err: err}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.Timeframe == tf {
		res.Prices, res.Volumes = copySeries(e.Prices), copySeries(e.Volumes)
	}
	return res
}

func copySeries(s model.ChartSeries) model.ChartSeries {
	if s == nil {
		return model.ChartSeries{}
	}
	return append(model.ChartSeries(nil), s...)
}

// refresh fetches key and records the outcome.
func (c *Cache) refresh(ctx context.Context, key, id string, tf model.Timeframe) (model.ChartData, error) {
	data, err := c.source.FetchChartSeries(ctx, id, tf)
	if err != nil {
		classified := fetch.Classify(err)
		c.mu.Lock()
		c.states[key] = KeyState{Err: classified}
		c.mu.Unlock()
		c.logger.Warn("chart fetch failed",
			zap.String("key", key),
			zap.String("kind", string(classified.Kind)),
			zap.Error(classified),
		)
		return model.ChartData{}, classified
	}

	c.mu.Lock()
	c.insertLocked(Entry{
		InstrumentID: id,
		Timeframe:    tf,
		Prices:       data.Prices,
		Volumes:      data.Volumes,
		FetchedAtMs:  c.now().UnixMilli(),
	})
	c.states[key] = KeyState{}
	c.mu.Unlock()

	c.persist(ctx)
	return data, nil
}

// insertLocked upserts e and evicts the oldest entries beyond capacity.
func (c *Cache) insertLocked(e Entry) {
	c.entries[Key(e.InstrumentID, e.Timeframe)] = e
	for len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    int64
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.FetchedAtMs < oldest || (e.FetchedAtMs == oldest && k < oldestKey) {
			oldestKey, oldest, found = k, e.FetchedAtMs, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.logger.Debug("chart evicted", zap.String("key", oldestKey))
	}
}

// State returns the loading and error state of the key for id and tf.
func (c *Cache) State(id string, tf model.Timeframe) KeyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[Key(id, tf)]
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry and key state.
func (c *Cache) Clear(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.states = make(map[string]KeyState)
	c.mu.Unlock()

	if err := c.blobs.Remove(ctx, StorageKey); err != nil {
		c.logger.Warn("remove persisted charts failed", zap.Error(err))
	}
}

// Hydrate restores persisted entries. A missing blob is not an error.
func (c *Cache) Hydrate(ctx context.Context) error {
	var persisted []Entry
	if err := storage.LoadJSON(ctx, c.blobs, StorageKey, &persisted); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range persisted {
		if !e.Timeframe.Valid() || e.InstrumentID == "" {
			continue
		}
		c.insertLocked(e)
	}
	c.logger.Info("charts hydrated", zap.Int("count", len(c.entries)))
	return nil
}

// copyEntriesLocked returns the entries ordered by key.
func (c *Cache) copyEntriesLocked() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return Key(out[i].InstrumentID, out[i].Timeframe) < Key(out[j].InstrumentID, out[j].Timeframe)
	})
	return out
}

func (c *Cache) persist(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	entries := c.copyEntriesLocked()
	c.mu.Unlock()

	if err := storage.SaveJSON(ctx, c.blobs, StorageKey, entries); err != nil {
		c.logger.Warn("persist charts failed", zap.Error(err))
	}
}
