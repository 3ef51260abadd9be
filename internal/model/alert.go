package model

// Direction is the side of the threshold an alert watches.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Alert is an active threshold alert. At most one exists per instrument.
type Alert struct {
	ID             string    `json:"id"`
	InstrumentID   string    `json:"instrument_id"`
	Direction      Direction `json:"direction"`
	ThresholdPrice float64   `json:"threshold_price"`
	CreatedAtMs    int64     `json:"created_at_ms"`
}

// Matches reports whether price satisfies the alert condition.
// Both directions are inclusive of the threshold.
func (a Alert) Matches(price float64) bool {
	switch a.Direction {
	case DirectionAbove:
		return price >= a.ThresholdPrice
	case DirectionBelow:
		return price <= a.ThresholdPrice
	default:
		return false
	}
}

// TriggeredAlert records an alert that fired.
type TriggeredAlert struct {
	ID             string  `json:"id"`
	Alert          Alert   `json:"alert"`
	TriggeredPrice float64 `json:"triggered_price"`
	TriggeredAtMs  int64   `json:"triggered_at_ms"`
	Viewed         bool    `json:"viewed"`
}
