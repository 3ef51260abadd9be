package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
)

func TestMockSource(t *testing.T) {
	m := NewMockSource([]string{"bitcoin", "custom"})
	m.Now = func() time.Time { return fixedNow }

	prices, err := m.FetchPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)
	for _, p := range prices {
		assert.Greater(t, p.Price, 0.0)
		assert.Equal(t, fixedNow.UnixMilli(), p.ObservedAtMs)
	}

	_, err = m.FetchSinglePrice(context.Background(), "unknown")
	assert.Equal(t, fetch.KindNotFound, fetch.KindOf(err))

	data, err := m.FetchChartSeries(context.Background(), "bitcoin", model.Timeframe7D)
	require.NoError(t, err)
	require.Len(t, data.Prices, mockPoints)
	assert.Equal(t, fixedNow.UnixMilli(), data.Prices[len(data.Prices)-1].TimestampMs)
	for i := 1; i < len(data.Prices); i++ {
		assert.Less(t, data.Prices[i-1].TimestampMs, data.Prices[i].TimestampMs)
	}
}

func TestSanitizeSeries_StableOrder(t *testing.T) {
	raw := []interface{}{
		[]interface{}{2000.0, 3.0},
		[]interface{}{1000.0, 1.0},
		[]interface{}{2000.0, 4.0},
	}
	got := SanitizeSeries(raw, false)
	assert.Equal(t, model.ChartSeries{{TimestampMs: 1000, Value: 1}, {TimestampMs: 2000, Value: 3}, {TimestampMs: 2000, Value: 4}}, got)
}
