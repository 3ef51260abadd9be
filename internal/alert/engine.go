// Package alert holds price threshold alerts and the alerts that fired.
package alert

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"CoinWatch/internal/model"
	"CoinWatch/internal/storage"
)

// StorageKey is the blob key of the persisted alert lists.
const StorageKey = "coinwatch:alerts"

var (
	ErrInvalidInstrument = errors.New("invalid instrument")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrAlertNotFound     = errors.New("alert not found")
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Blobs  storage.BlobStore
	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

// Engine owns the active and triggered alert lists. It only reads prices;
// delivering notifications for fired alerts is the caller's job.
type Engine struct {
	blobs  storage.BlobStore
	now    func() time.Time
	newID  func() string
	logger *zap.Logger

	mu        sync.Mutex
	alerts    []model.Alert
	triggered []model.TriggeredAlert

	// persistMu orders writes so the last write carries the latest state.
	persistMu sync.Mutex
}

// NewEngine creates an empty Engine.
func NewEngine(opts Options) *Engine {
	if opts.Blobs == nil {
		opts.Blobs = storage.NewNoopStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		blobs:  opts.Blobs,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: opts.Logger.With(zap.String("component", "alert")),
	}
}

// AddAlert creates an alert for instrumentID, replacing any existing one.
func (e *Engine) AddAlert(ctx context.Context, instrumentID string, direction model.Direction, threshold float64) (model.Alert, error) {
	if instrumentID == "" {
		return model.Alert{}, ErrInvalidInstrument
	}
	if !direction.Valid() {
		return model.Alert{}, ErrInvalidDirection
	}
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return model.Alert{}, ErrInvalidThreshold
	}

	a := model.Alert{
		ID:             e.newID(),
		InstrumentID:   instrumentID,
		Direction:      direction,
		ThresholdPrice: threshold,
		CreatedAtMs:    e.now().UnixMilli(),
	}

	e.mu.Lock()
	kept := make([]model.Alert, 0, len(e.alerts)+1)
	for _, existing := range e.alerts {
		if existing.InstrumentID != instrumentID {
			kept = append(kept, existing)
		}
	}
	e.alerts = append(kept, a)
	e.mu.Unlock()

	e.logger.Info("alert added",
		zap.String("instrument", instrumentID),
		zap.String("direction", string(direction)),
		zap.Float64("threshold", threshold),
	)
	e.persist(ctx)
	return a, nil
}

// RemoveAlert deletes the active alert with the given ID.
func (e *Engine) RemoveAlert(ctx context.Context, id string) error {
	e.mu.Lock()
	idx := -1
	for i, a := range e.alerts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return ErrAlertNotFound
	}
	e.alerts = append(e.alerts[:idx:idx], e.alerts[idx+1:]...)
	e.mu.Unlock()

	e.persist(ctx)
	return nil
}

// Alerts returns the active alerts.
func (e *Engine) Alerts() []model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Alert(nil), e.alerts...)
}

// AlertFor returns the active alert of instrumentID.
func (e *Engine) AlertFor(instrumentID string) (model.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.alerts {
		if a.InstrumentID == instrumentID {
			return a, true
		}
	}
	return model.Alert{}, false
}

// CheckAlerts evaluates the active alerts against prices and returns the
// ones that fired. Evaluation and the state move happen under one lock.
func (e *Engine) CheckAlerts(ctx context.Context, prices map[string]model.PriceSnapshot) []model.TriggeredAlert {
	e.mu.Lock()
	stillActive, fired := Evaluate(e.alerts, prices, e.now(), e.newID)
	if len(fired) == 0 {
		e.mu.Unlock()
		return nil
	}
	e.alerts = stillActive
	e.triggered = append(append([]model.TriggeredAlert(nil), fired...), e.triggered...)
	e.mu.Unlock()

	for _, t := range fired {
		e.logger.Info("alert triggered",
			zap.String("instrument", t.Alert.InstrumentID),
			zap.String("direction", string(t.Alert.Direction)),
			zap.Float64("threshold", t.Alert.ThresholdPrice),
			zap.Float64("price", t.TriggeredPrice),
		)
	}
	e.persist(ctx)
	return fired
}

// Triggered returns the fired alerts, most recent first.
func (e *Engine) Triggered() []model.TriggeredAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.TriggeredAlert(nil), e.triggered...)
}

// MarkAllAsViewed marks every triggered alert as viewed.
func (e *Engine) MarkAllAsViewed(ctx context.Context) {
	e.mu.Lock()
	changed := false
	for i := range e.triggered {
		if !e.triggered[i].Viewed {
			e.triggered[i].Viewed = true
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		e.persist(ctx)
	}
}

// UnviewedCount is the number of triggered alerts not yet viewed.
func (e *Engine) UnviewedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.triggered {
		if !t.Viewed {
			n++
		}
	}
	return n
}

// ClearTriggered drops every triggered alert.
func (e *Engine) ClearTriggered(ctx context.Context) {
	e.mu.Lock()
	e.triggered = nil
	e.mu.Unlock()
	e.persist(ctx)
}

// RemoveTriggered drops one triggered alert.
func (e *Engine) RemoveTriggered(ctx context.Context, id string) error {
	e.mu.Lock()
	idx := -1
	for i, t := range e.triggered {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return ErrAlertNotFound
	}
	e.triggered = append(e.triggered[:idx:idx], e.triggered[idx+1:]...)
	e.mu.Unlock()

	e.persist(ctx)
	return nil
}

type persisted struct {
	Alerts    []model.Alert          `json:"alerts"`
	Triggered []model.TriggeredAlert `json:"triggered"`
}

// Hydrate restores persisted alerts. A missing blob is not an error.
func (e *Engine) Hydrate(ctx context.Context) error {
	var record persisted
	if err := storage.LoadJSON(ctx, e.blobs, StorageKey, &record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = latestPerInstrument(record.Alerts)
	e.triggered = record.Triggered
	e.logger.Info("alerts hydrated",
		zap.Int("active", len(e.alerts)),
		zap.Int("triggered", len(e.triggered)),
	)
	return nil
}

// latestPerInstrument keeps the newest alert of each instrument, in the
// original order. Later entries win ties.
func latestPerInstrument(alerts []model.Alert) []model.Alert {
	newest := make(map[string]int, len(alerts))
	for i, a := range alerts {
		if j, ok := newest[a.InstrumentID]; !ok || a.CreatedAtMs >= alerts[j].CreatedAtMs {
			newest[a.InstrumentID] = i
		}
	}
	out := make([]model.Alert, 0, len(newest))
	for i, a := range alerts {
		if newest[a.InstrumentID] == i {
			out = append(out, a)
		}
	}
	return out
}

// persist writes both lists. Storage failures are logged, not returned.
func (e *Engine) persist(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	record := persisted{
		Alerts:    append([]model.Alert(nil), e.alerts...),
		Triggered: append([]model.TriggeredAlert(nil), e.triggered...),
	}
	e.mu.Unlock()

	if err := storage.SaveJSON(ctx, e.blobs, StorageKey, record); err != nil {
		e.logger.Warn("persist alerts failed", zap.Error(err))
	}
}
