package collector

import (
	"context"

	"CoinWatch/internal/model"
)

// PriceSource fetches current price snapshots.
type PriceSource interface {
	FetchPrices(ctx context.Context) ([]model.PriceSnapshot, error)
	FetchSinglePrice(ctx context.Context, id string) (model.PriceSnapshot, error)
}

// ChartSource fetches historical price and volume series.
type ChartSource interface {
	FetchChartSeries(ctx context.Context, id string, tf model.Timeframe) (model.ChartData, error)
}

// Source is a complete market data backend.
type Source interface {
	PriceSource
	ChartSource
	Name() string
}
