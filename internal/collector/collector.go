package collector

import (
	"context"
	"fmt"
	"math"
	"time"

	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
)

// mockBasePrices seeds MockSource for the default instruments.
var mockBasePrices = map[string]float64{
	"bitcoin":  65000,
	"ethereum": 3200,
	"solana":   150,
	"ripple":   0.55,
	"cardano":  0.45,
	"dogecoin": 0.12,
}

// MockSource returns generated data for offline development.
type MockSource struct {
	IDs  []string
	Base map[string]float64
	Now  func() time.Time
}

// NewMockSource creates a MockSource for ids.
func NewMockSource(ids []string) *MockSource {
	base := make(map[string]float64, len(ids))
	for _, id := range ids {
		if p, ok := mockBasePrices[id]; ok {
			base[id] = p
		} else {
			base[id] = 1
		}
	}
	return &MockSource{IDs: ids, Base: base, Now: time.Now}
}

func (m *MockSource) Name() string { return "mock" }

// priceAt drifts the base price on a slow sine wave so polls see movement.
func (m *MockSource) priceAt(id string, t time.Time) float64 {
	phase := float64(t.Unix()%3600) / 3600 * 2 * math.Pi
	return m.Base[id] * (1 + 0.02*math.Sin(phase))
}

func (m *MockSource) snapshot(id string, t time.Time) model.PriceSnapshot {
	price := m.priceAt(id, t)
	prev := m.priceAt(id, t.Add(-24*time.Hour-17*time.Minute))
	return model.PriceSnapshot{
		InstrumentID:     id,
		Price:            price,
		Change24hPercent: (price - prev) / prev * 100,
		MarketCapUSD:     price * 1e7,
		ObservedAtMs:     t.UnixMilli(),
	}
}

func (m *MockSource) FetchPrices(ctx context.Context) ([]model.PriceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetch.Classify(err)
	}
	now := m.Now()
	out := make([]model.PriceSnapshot, 0, len(m.IDs))
	for _, id := range m.IDs {
		out = append(out, m.snapshot(id, now))
	}
	return out, nil
}

func (m *MockSource) FetchSinglePrice(ctx context.Context, id string) (model.PriceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceSnapshot{}, fetch.Classify(err)
	}
	if _, ok := m.Base[id]; !ok {
		return model.PriceSnapshot{}, fetch.NewError(fetch.KindNotFound, fmt.Sprintf("no price for %q", id), nil)
	}
	return m.snapshot(id, m.Now()), nil
}

// mockPoints is the number of generated samples per chart.
const mockPoints = 60

func (m *MockSource) FetchChartSeries(ctx context.Context, id string, tf model.Timeframe) (model.ChartData, error) {
	if err := ctx.Err(); err != nil {
		return model.ChartData{}, fetch.Classify(err)
	}
	if _, ok := m.Base[id]; !ok {
		return model.ChartData{}, fetch.NewError(fetch.KindNotFound, fmt.Sprintf("unknown instrument %q", id), nil)
	}
	span, ok := timeframeSpan(tf)
	if !ok {
		return model.ChartData{}, &fetch.Error{Kind: fetch.KindUnknown, Message: fmt.Sprintf("unsupported timeframe %q", tf)}
	}

	now := m.Now()
	step := span / mockPoints
	data := model.ChartData{
		Prices:  make(model.ChartSeries, 0, mockPoints),
		Volumes: make(model.ChartSeries, 0, mockPoints),
	}
	for i := mockPoints - 1; i >= 0; i-- {
		t := now.Add(-time.Duration(i) * step)
		price := m.priceAt(id, t)
		data.Prices = append(data.Prices, model.ChartPoint{TimestampMs: t.UnixMilli(), Value: price})
		data.Volumes = append(data.Volumes, model.ChartPoint{TimestampMs: t.UnixMilli(), Value: price * 1000})
	}
	return data, nil
}

func timeframeSpan(tf model.Timeframe) (time.Duration, bool) {
	switch tf {
	case model.Timeframe1H:
		return time.Hour, true
	case model.Timeframe24H:
		return 24 * time.Hour, true
	case model.Timeframe7D:
		return 7 * 24 * time.Hour, true
	case model.Timeframe30D:
		return 30 * 24 * time.Hour, true
	case model.Timeframe90D:
		return 90 * 24 * time.Hour, true
	case model.Timeframe1Y:
		return 365 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
