package pricecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
	"CoinWatch/internal/scheduler"
	"CoinWatch/internal/storage"
)

type fakeSource struct {
	calls int32
	fn    func(call int) ([]model.PriceSnapshot, error)
}

func (f *fakeSource) FetchPrices(_ context.Context) ([]model.PriceSnapshot, error) {
	n := int(atomic.AddInt32(&f.calls, 1))
	if f.fn == nil {
		return []model.PriceSnapshot{{InstrumentID: "bitcoin", Price: 65000}}, nil
	}
	return f.fn(n)
}

func (f *fakeSource) FetchSinglePrice(_ context.Context, id string) (model.PriceSnapshot, error) {
	return model.PriceSnapshot{}, errors.New("not used")
}

func (f *fakeSource) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

var t0 = time.UnixMilli(1_700_000_000_000)

func newTestStore(src *fakeSource, sched scheduler.Scheduler, now *time.Time) *Store {
	if sched == nil {
		sched = scheduler.NewManual()
	}
	opts := Options{Interval: time.Second}
	if now != nil {
		opts.Now = func() time.Time { return *now }
	}
	return New(src, sched, opts)
}

func networkErr() error {
	return fetch.NewError(fetch.KindNetwork, "network unavailable", nil)
}

func TestStartPolling_Schedule(t *testing.T) {
	src := &fakeSource{}
	sched := scheduler.NewManual()
	s := newTestStore(src, sched, nil)
	ctx := context.Background()

	require.NoError(t, s.StartPolling(ctx))
	assert.Equal(t, 1, src.Calls())
	assert.True(t, s.Snapshot().IsPolling)

	require.NoError(t, s.StartPolling(ctx))
	assert.Equal(t, 1, src.Calls())
	assert.Equal(t, 1, sched.Jobs())

	sched.Advance(time.Second)
	assert.Equal(t, 2, src.Calls())
	sched.Advance(time.Second)
	assert.Equal(t, 3, src.Calls())

	s.StopPolling()
	s.StopPolling()
	sched.Advance(5 * time.Second)
	assert.Equal(t, 3, src.Calls())
	assert.Zero(t, sched.Jobs())
	assert.False(t, s.Snapshot().IsPolling)
}

func TestStartPolling_IndependentStores(t *testing.T) {
	sched := scheduler.NewManual()
	a, b := &fakeSource{}, &fakeSource{}
	sa := newTestStore(a, sched, nil)
	sb := newTestStore(b, sched, nil)

	require.NoError(t, sa.StartPolling(context.Background()))
	require.NoError(t, sb.StartPolling(context.Background()))
	sa.StopPolling()
	sched.Advance(time.Second)

	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 2, b.Calls())
}

func TestFetchAllPrices_LoadingSuppressedAfterFailure(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var fail atomic.Bool
	src := &fakeSource{fn: func(int) ([]model.PriceSnapshot, error) {
		started <- struct{}{}
		<-release
		if fail.Load() {
			return nil, networkErr()
		}
		return []model.PriceSnapshot{{InstrumentID: "bitcoin", Price: 1}}, nil
	}}
	s := newTestStore(src, nil, nil)
	ctx := context.Background()

	// First attempt with no prior failures shows loading.
	fail.Store(true)
	done := make(chan struct{})
	go func() { _ = s.FetchAllPrices(ctx); close(done) }()
	<-started
	assert.True(t, s.Snapshot().IsLoading)
	release <- struct{}{}
	<-done
	assert.False(t, s.Snapshot().IsLoading)
	assert.Equal(t, 1, s.Snapshot().ConsecutiveFailures)

	// A background retry after a failure stays quiet.
	done = make(chan struct{})
	go func() { _ = s.FetchAllPrices(ctx); close(done) }()
	<-started
	assert.False(t, s.Snapshot().IsLoading)
	release <- struct{}{}
	<-done

	// A user refresh always shows loading and clears the failure state.
	fail.Store(false)
	done = make(chan struct{})
	go func() { _ = s.RefreshPrices(ctx); close(done) }()
	<-started
	st := s.Snapshot()
	assert.True(t, st.IsLoading)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Nil(t, st.Err)
	release <- struct{}{}
	<-done
}

func TestFetchAllPrices_FailureCountResets(t *testing.T) {
	failing := true
	src := &fakeSource{fn: func(int) ([]model.PriceSnapshot, error) {
		if failing {
			return nil, networkErr()
		}
		return []model.PriceSnapshot{{InstrumentID: "ethereum", Price: 3200}}, nil
	}}
	s := newTestStore(src, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.FetchAllPrices(ctx)
		assert.Equal(t, fetch.KindNetwork, fetch.KindOf(err))
	}
	st := s.Snapshot()
	assert.Equal(t, 3, st.ConsecutiveFailures)
	require.NotNil(t, st.Err)
	assert.Equal(t, fetch.KindNetwork, st.Err.Kind)

	failing = false
	require.NoError(t, s.FetchAllPrices(ctx))
	st = s.Snapshot()
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Nil(t, st.Err)
	assert.Contains(t, st.Prices, "ethereum")
}

func TestFetchAllPrices_ReplacesWholeMapAndKeepsOldOnFailure(t *testing.T) {
	responses := []func() ([]model.PriceSnapshot, error){
		func() ([]model.PriceSnapshot, error) {
			return []model.PriceSnapshot{{InstrumentID: "bitcoin", Price: 1}, {InstrumentID: "ethereum", Price: 2}}, nil
		},
		func() ([]model.PriceSnapshot, error) { return nil, networkErr() },
		func() ([]model.PriceSnapshot, error) {
			return []model.PriceSnapshot{{InstrumentID: "solana", Price: 3}}, nil
		},
	}
	src := &fakeSource{fn: func(n int) ([]model.PriceSnapshot, error) { return responses[n-1]() }}
	s := newTestStore(src, nil, nil)
	ctx := context.Background()

	require.NoError(t, s.FetchAllPrices(ctx))
	assert.Len(t, s.Snapshot().Prices, 2)

	require.Error(t, s.FetchAllPrices(ctx))
	assert.Len(t, s.Snapshot().Prices, 2)

	require.NoError(t, s.FetchAllPrices(ctx))
	prices := s.Snapshot().Prices
	assert.Len(t, prices, 1)
	assert.Contains(t, prices, "solana")
}

func TestLoad_DiscardsOutOfOrderResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	src := &fakeSource{fn: func(n int) ([]model.PriceSnapshot, error) {
		if n == 1 {
			close(started)
			<-release
			return []model.PriceSnapshot{{InstrumentID: "old", Price: 1}}, nil
		}
		return []model.PriceSnapshot{{InstrumentID: "new", Price: 2}}, nil
	}}
	s := newTestStore(src, nil, nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() { _ = s.FetchAllPrices(ctx); close(done) }()
	<-started
	require.NoError(t, s.RefreshPrices(ctx))
	close(release)
	<-done

	assert.Contains(t, s.Snapshot().Prices, "new")
	assert.NotContains(t, s.Snapshot().Prices, "old")
}

func TestLoad_OlderResultKeepsLoadingForNewer(t *testing.T) {
	releaseOld := make(chan struct{})
	releaseNew := make(chan struct{})
	started := make(chan int, 2)
	src := &fakeSource{fn: func(n int) ([]model.PriceSnapshot, error) {
		started <- n
		if n == 1 {
			<-releaseOld
		} else {
			<-releaseNew
		}
		return []model.PriceSnapshot{{InstrumentID: "bitcoin", Price: float64(n)}}, nil
	}}
	s := newTestStore(src, nil, nil)
	ctx := context.Background()

	oldDone := make(chan struct{})
	go func() { _ = s.FetchAllPrices(ctx); close(oldDone) }()
	require.Equal(t, 1, <-started)

	newDone := make(chan struct{})
	go func() { _ = s.RefreshPrices(ctx); close(newDone) }()
	require.Equal(t, 2, <-started)

	close(releaseOld)
	<-oldDone
	assert.True(t, s.Snapshot().IsLoading, "refresh still in flight")

	close(releaseNew)
	<-newDone
	st := s.Snapshot()
	assert.False(t, st.IsLoading)
	assert.InDelta(t, 2, st.Prices["bitcoin"].Price, 1e-9)
}

func TestLoad_CancelledContextIsNotAFailure(t *testing.T) {
	src := &fakeSource{fn: func(n int) ([]model.PriceSnapshot, error) {
		if n == 1 {
			return []model.PriceSnapshot{{InstrumentID: "bitcoin", Price: 1}}, nil
		}
		return nil, context.Canceled
	}}
	s := newTestStore(src, nil, nil)
	require.NoError(t, s.FetchAllPrices(context.Background()))
	before := s.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.FetchAllPrices(ctx))

	st := s.Snapshot()
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Nil(t, st.Err)
	assert.False(t, st.IsLoading)
	assert.Equal(t, before.LastFetchAtMs, st.LastFetchAtMs)
	assert.Contains(t, st.Prices, "bitcoin")
}

func TestIsStale(t *testing.T) {
	now := t0
	s := newTestStore(&fakeSource{}, nil, &now)

	assert.False(t, s.IsStale(), "never fetched is not stale")

	require.NoError(t, s.FetchAllPrices(context.Background()))
	now = t0.Add(StaleAfter)
	assert.False(t, s.IsStale())
	now = t0.Add(StaleAfter + time.Millisecond)
	assert.True(t, s.IsStale())
}

func TestDeriveStatus(t *testing.T) {
	netErr := fetch.NewError(fetch.KindNetwork, "", nil)
	timeoutErr := fetch.NewError(fetch.KindTimeout, "", nil)
	serverErr := fetch.NewError(fetch.KindServerError, "", nil)

	tests := []struct {
		name  string
		state State
		want  Status
	}{
		{"fresh start", State{}, StatusOnline},
		{"first load", State{IsLoading: true}, StatusChecking},
		{"reload with data", State{IsLoading: true, LastFetchAtMs: 1}, StatusOnline},
		{"one network failure", State{ConsecutiveFailures: 1, Err: netErr}, StatusOnline},
		{"two network failures", State{ConsecutiveFailures: 2, Err: netErr}, StatusOffline},
		{"timeouts", State{ConsecutiveFailures: 5, Err: timeoutErr, LastFetchAtMs: 1}, StatusOffline},
		{"server errors", State{ConsecutiveFailures: 5, Err: serverErr}, StatusOnline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.state))
		})
	}
}

func TestOnUpdate(t *testing.T) {
	s := newTestStore(&fakeSource{}, nil, nil)
	var mu sync.Mutex
	var got []map[string]model.PriceSnapshot
	s.OnUpdate(func(p map[string]model.PriceSnapshot) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	require.NoError(t, s.FetchAllPrices(context.Background()))
	require.Len(t, got, 1)
	assert.InDelta(t, 65000, got[0]["bitcoin"].Price, 1e-9)

	// Hooks receive a copy.
	delete(got[0], "bitcoin")
	_, ok := s.Price("bitcoin")
	assert.True(t, ok)
}

func TestPersistAndHydrate(t *testing.T) {
	blobs := storage.NewMemoryStore()
	now := t0
	ctx := context.Background()

	s := New(&fakeSource{}, scheduler.NewManual(), Options{Blobs: blobs, Now: func() time.Time { return now }})
	require.NoError(t, s.FetchAllPrices(ctx))

	restored := New(&fakeSource{}, scheduler.NewManual(), Options{Blobs: blobs, Now: func() time.Time { return now }})
	require.NoError(t, restored.Hydrate(ctx))

	st := restored.Snapshot()
	assert.Equal(t, t0.UnixMilli(), st.LastFetchAtMs)
	assert.Contains(t, st.Prices, "bitcoin")
	assert.Zero(t, st.ConsecutiveFailures)

	empty := New(&fakeSource{}, scheduler.NewManual(), Options{Blobs: storage.NewMemoryStore()})
	assert.NoError(t, empty.Hydrate(ctx))
}
