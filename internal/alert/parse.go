package alert

import (
	"strings"

	"github.com/shopspring/decimal"

	"CoinWatch/internal/model"
)

var thresholdCleaner = strings.NewReplacer("$", "", ",", "", "_", "")

// ParseThreshold parses a user-entered price such as "$100,000.50".
func ParseThreshold(input string) (float64, error) {
	cleaned := thresholdCleaner.Replace(strings.TrimSpace(input))
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, ErrInvalidThreshold
	}
	if !d.IsPositive() {
		return 0, ErrInvalidThreshold
	}
	f, _ := d.Float64()
	return f, nil
}

// ParseDirection accepts "above"/"below" and the comparison operators.
func ParseDirection(input string) (model.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "above", ">", ">=":
		return model.DirectionAbove, nil
	case "below", "<", "<=":
		return model.DirectionBelow, nil
	default:
		return "", ErrInvalidDirection
	}
}
