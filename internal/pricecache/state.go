package pricecache

import (
	"time"

	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
)

// StaleAfter is the age after which price data is considered stale.
const StaleAfter = 2 * time.Minute

// Status is the connectivity inferred from the cache state.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusChecking Status = "checking"
)

// State is a point-in-time copy of the price cache.
type State struct {
	Prices              map[string]model.PriceSnapshot
	IsLoading           bool
	Err                 *fetch.Error
	LastFetchAtMs       int64 // 0 until the first successful fetch
	ConsecutiveFailures int
	IsPolling           bool
}

// IsStale reports whether the last successful fetch is older than
// StaleAfter. A cache that has never fetched is not stale.
func (s State) IsStale(now time.Time) bool {
	if s.LastFetchAtMs == 0 {
		return false
	}
	return now.UnixMilli()-s.LastFetchAtMs > StaleAfter.Milliseconds()
}

// DeriveStatus infers connectivity from s.
func DeriveStatus(s State) Status {
	if s.ConsecutiveFailures >= 2 && s.Err != nil {
		switch s.Err.Kind {
		case fetch.KindNetwork, fetch.KindTimeout:
			return StatusOffline
		}
	}
	if s.IsLoading && s.LastFetchAtMs == 0 {
		return StatusChecking
	}
	return StatusOnline
}
