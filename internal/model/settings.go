package model

import "time"

// Settings holds the user preferences persisted across restarts.
type Settings struct {
	NotificationsEnabled bool      `json:"notifications_enabled"`
	DefaultTimeframe     Timeframe `json:"default_timeframe"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ChartSummary holds the statistics shown next to a chart.
type ChartSummary struct {
	First         float64
	Last          float64
	High          float64
	Low           float64
	ChangePercent float64
	Position      float64 // of Last within [Low, High], 0..1
	SMA           float64
	RSI           float64
	TotalVolume   float64
	Points        int
}
