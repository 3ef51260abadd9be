package calculator

import (
	"errors"

	"CoinWatch/internal/model"
)

const (
	// SMAPeriod and RSIPeriod are the windows used by Summarize.
	SMAPeriod = 20
	RSIPeriod = 14
)

// Summarize computes the statistics shown next to a chart. The SMA falls
// back to the mean of all points when the series is shorter than SMAPeriod.
func Summarize(data model.ChartData) (model.ChartSummary, error) {
	prices := data.Prices.Values()
	if len(prices) == 0 {
		return model.ChartSummary{}, errors.New("empty price series")
	}

	s := model.ChartSummary{
		First:  prices[0],
		Last:   prices[len(prices)-1],
		Points: len(prices),
	}
	s.High, s.Low, _ = CalculateRange(prices)
	s.Position, _ = CalculatePosition(s.Last, s.High, s.Low)
	if change, err := CalculateChangePercent(s.First, s.Last); err == nil {
		s.ChangePercent = change
	}

	period := SMAPeriod
	if len(prices) < period {
		period = len(prices)
	}
	s.SMA, _ = CalculateSMA(prices, period)
	s.RSI, _ = CalculateRSI(prices, RSIPeriod)

	for _, v := range data.Volumes.Values() {
		s.TotalVolume += v
	}
	return s, nil
}
