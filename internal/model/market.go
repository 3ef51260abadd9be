package model

import "time"

// Instrument is static reference data for a tracked coin.
type Instrument struct {
	ID     string `json:"id" yaml:"id"`
	Symbol string `json:"symbol" yaml:"symbol"`
	Name   string `json:"name" yaml:"name"`
	Color  string `json:"color" yaml:"color"`
}

// DefaultInstruments is the tracked set used when the config lists none.
var DefaultInstruments = []Instrument{
	{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Color: "#F7931A"},
	{ID: "ethereum", Symbol: "ETH", Name: "Ethereum", Color: "#627EEA"},
	{ID: "solana", Symbol: "SOL", Name: "Solana", Color: "#14F195"},
	{ID: "ripple", Symbol: "XRP", Name: "XRP", Color: "#23292F"},
	{ID: "cardano", Symbol: "ADA", Name: "Cardano", Color: "#0033AD"},
	{ID: "dogecoin", Symbol: "DOGE", Name: "Dogecoin", Color: "#C2A633"},
}

// InstrumentIDs returns the identifiers of the given instruments in order.
func InstrumentIDs(instruments []Instrument) []string {
	ids := make([]string, len(instruments))
	for i, inst := range instruments {
		ids[i] = inst.ID
	}
	return ids
}

// PriceSnapshot is the latest observed price for one instrument.
type PriceSnapshot struct {
	InstrumentID     string  `json:"instrument_id"`
	Price            float64 `json:"price"`
	Change24hPercent float64 `json:"change_24h_percent"`
	MarketCapUSD     float64 `json:"market_cap_usd"`
	ObservedAtMs     int64   `json:"observed_at_ms"`
}

// ChartPoint is a single sample of a price or volume series.
type ChartPoint struct {
	TimestampMs int64   `json:"t"`
	Value       float64 `json:"v"`
}

// Time returns the point timestamp as a time.Time.
func (p ChartPoint) Time() time.Time {
	return time.UnixMilli(p.TimestampMs)
}

// ChartSeries is ordered by ascending timestamp.
type ChartSeries []ChartPoint

// Values extracts the sample values of the series.
func (s ChartSeries) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Value
	}
	return values
}

// ChartData pairs the price and volume series of one chart.
type ChartData struct {
	Prices  ChartSeries `json:"prices"`
	Volumes ChartSeries `json:"volumes"`
}

// Timeframe selects the span of a chart.
type Timeframe string

const (
	Timeframe1H  Timeframe = "1h"
	Timeframe24H Timeframe = "24h"
	Timeframe7D  Timeframe = "7d"
	Timeframe30D Timeframe = "30d"
	Timeframe90D Timeframe = "90d"
	Timeframe1Y  Timeframe = "1y"
)

// Timeframes lists every supported timeframe, shortest first.
var Timeframes = []Timeframe{Timeframe1H, Timeframe24H, Timeframe7D, Timeframe30D, Timeframe90D, Timeframe1Y}

// Days maps a timeframe to the remote API "days" parameter. 1h is served
// from the one-day series and filtered afterwards.
func (tf Timeframe) Days() (string, bool) {
	switch tf {
	case Timeframe1H, Timeframe24H:
		return "1", true
	case Timeframe7D:
		return "7", true
	case Timeframe30D:
		return "30", true
	case Timeframe90D:
		return "90", true
	case Timeframe1Y:
		return "365", true
	default:
		return "", false
	}
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := tf.Days()
	return ok
}
