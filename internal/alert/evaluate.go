package alert

import (
	"time"

	"CoinWatch/internal/model"
)

// Evaluate checks every active alert against prices. Alerts whose
// instrument has no price yet are left untouched. Fired alerts leave the
// active set and come back as triggered records, most recent first.
func Evaluate(active []model.Alert, prices map[string]model.PriceSnapshot, now time.Time, newID func() string) ([]model.Alert, []model.TriggeredAlert) {
	stillActive := make([]model.Alert, 0, len(active))
	var triggered []model.TriggeredAlert

	for _, a := range active {
		snap, ok := prices[a.InstrumentID]
		if !ok || !a.Matches(snap.Price) {
			stillActive = append(stillActive, a)
			continue
		}
		t := model.TriggeredAlert{
			ID:             newID(),
			Alert:          a,
			TriggeredPrice: snap.Price,
			TriggeredAtMs:  now.UnixMilli(),
		}
		triggered = append([]model.TriggeredAlert{t}, triggered...)
	}
	return stillActive, triggered
}
