package notifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{64000.5, "$64,000.50"},
		{1234567.891, "$1,234,567.89"},
		{999, "$999.00"},
		{1, "$1.00"},
		{0.12345678, "$0.123457"},
		{0, "$0.000000"},
		{-1500, "-$1,500.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUSD(tt.in))
	}
}

func TestFormatPrices(t *testing.T) {
	instruments := []model.Instrument{
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
		{ID: "ethereum", Symbol: "ETH", Name: "Ethereum"},
		{ID: "solana", Symbol: "SOL", Name: "Solana"},
	}
	prices := map[string]model.PriceSnapshot{
		"ethereum": {InstrumentID: "ethereum", Price: 3000, Change24hPercent: -1.5},
		"bitcoin":  {InstrumentID: "bitcoin", Price: 64000, Change24hPercent: 2.25},
	}

	out := FormatPrices(instruments, prices, false)
	assert.Contains(t, out, "<b>BTC</b> $64,000.00 (+2.25%)")
	assert.Contains(t, out, "<b>ETH</b> $3,000.00 (-1.50%)")
	assert.NotContains(t, out, "SOL")
	assert.Less(t, strings.Index(out, "BTC"), strings.Index(out, "ETH"))
	assert.NotContains(t, out, "outdated")

	assert.Contains(t, FormatPrices(instruments, prices, true), "outdated")
	assert.Contains(t, FormatPrices(instruments, nil, false), "No prices yet")
}

func TestFormatFetchError(t *testing.T) {
	assert.Equal(t, "", FormatFetchError(nil))
	assert.Equal(t, "not found", FormatFetchError(fetch.FromStatus(404)))
	assert.Equal(t, "rate limited by the pricing service, try again later", FormatFetchError(fetch.FromStatus(429)))
	assert.Equal(t, "&lt;x&gt;", FormatFetchError(&fetch.Error{Kind: fetch.KindUnknown, Message: "<x>"}))
}

func TestFormatChart(t *testing.T) {
	inst := model.Instrument{ID: "bitcoin", Symbol: "BTC"}
	s := model.ChartSummary{First: 100, Last: 110, High: 120, Low: 90, ChangePercent: 10, Position: 2.0 / 3.0, SMA: 105, RSI: 60, Points: 60}

	out := FormatChart(inst, model.Timeframe7D, s, nil)
	assert.Contains(t, out, "BTC</b> | 7d")
	assert.Contains(t, out, "Last: $110.00 (+10.00%)")
	assert.Contains(t, out, "Range position: 67%")
	assert.Contains(t, out, "SMA20")
	assert.NotContains(t, out, "cached")

	stale := FormatChart(inst, model.Timeframe7D, s, fetch.NewError(fetch.KindNetwork, "down", nil))
	assert.Contains(t, stale, "Showing cached data: network unavailable")
}

func TestFormatAlerts(t *testing.T) {
	names := map[string]model.Instrument{"bitcoin": {ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"}}

	assert.Equal(t, "No active alerts.", FormatAlerts(names, nil))
	out := FormatAlerts(names, []model.Alert{
		{InstrumentID: "bitcoin", Direction: model.DirectionAbove, ThresholdPrice: 100000},
		{InstrumentID: "unknown-coin", Direction: model.DirectionBelow, ThresholdPrice: 0.5},
	})
	assert.Contains(t, out, "Bitcoin (BTC) above $100,000.00")
	assert.Contains(t, out, "unknown-coin below $0.500000")
}

func TestFormatTriggeredList(t *testing.T) {
	names := map[string]model.Instrument{"bitcoin": {ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"}}
	list := []model.TriggeredAlert{
		{Alert: model.Alert{InstrumentID: "bitcoin", Direction: model.DirectionAbove, ThresholdPrice: 100}, TriggeredPrice: 101},
		{Alert: model.Alert{InstrumentID: "bitcoin", Direction: model.DirectionBelow, ThresholdPrice: 50}, TriggeredPrice: 49, Viewed: true},
	}

	out := FormatTriggeredList(names, list)
	assert.Contains(t, out, "1. 🆕 Bitcoin (BTC) above $100.00 at $101.00")
	assert.Contains(t, out, "2. • Bitcoin (BTC) below $50.00 at $49.00")
	assert.Equal(t, "No triggered alerts.", FormatTriggeredList(names, nil))

	assert.Contains(t, FormatTriggered(names, list[0]), "Bitcoin (BTC) is above $100.00")
}

func TestFormatStatus(t *testing.T) {
	out := FormatStatus(StatusReport{
		Connection:          "offline",
		Source:              "mock",
		ConsecutiveFailures: 3,
		LastError:           fetch.FromStatus(503),
		ActiveAlerts:        2,
		UnviewedAlerts:      1,
	})
	assert.Contains(t, out, "Connection: offline")
	assert.Contains(t, out, "Last update: never")
	assert.Contains(t, out, "Failures in a row: 3")
	assert.Contains(t, out, "Alerts: 2 active, 1 unviewed")
}
