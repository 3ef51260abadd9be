package collector

import (
	"encoding/json"
	"math"
	"sort"

	"CoinWatch/internal/model"
)

// oneHourMs is the window kept for the 1h timeframe.
const oneHourMs = int64(3_600_000)

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// SanitizeSeries converts raw [timestamp, value] pairs into a series.
// Pairs with a missing or non-finite timestamp or value are dropped, as are
// values <= 0 unless allowZero is set, in which case values < 0 are dropped.
// The result is stably sorted by ascending timestamp.
func SanitizeSeries(raw []interface{}, allowZero bool) model.ChartSeries {
	series := make(model.ChartSeries, 0, len(raw))
	for _, item := range raw {
		pair, ok := item.([]interface{})
		if !ok || len(pair) < 2 {
			continue
		}
		ts, ok := toFloat(pair[0])
		if !ok {
			continue
		}
		value, ok := toFloat(pair[1])
		if !ok {
			continue
		}
		if value < 0 || (value == 0 && !allowZero) {
			continue
		}
		series = append(series, model.ChartPoint{TimestampMs: int64(ts), Value: value})
	}
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].TimestampMs < series[j].TimestampMs
	})
	return series
}

// filterSince keeps the points at or after sinceMs.
func filterSince(series model.ChartSeries, sinceMs int64) model.ChartSeries {
	kept := make(model.ChartSeries, 0, len(series))
	for _, p := range series {
		if p.TimestampMs >= sinceMs {
			kept = append(kept, p)
		}
	}
	return kept
}
