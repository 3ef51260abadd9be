// Package app wires the price, chart and alert stores to the data source,
// the poll timer and the Telegram front end.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"CoinWatch/internal/alert"
	"CoinWatch/internal/chartcache"
	"CoinWatch/internal/collector"
	"CoinWatch/internal/config"
	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
	"CoinWatch/internal/notifier"
	"CoinWatch/internal/pricecache"
	"CoinWatch/internal/scheduler"
	"CoinWatch/internal/settings"
	"CoinWatch/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// App holds every component of a running service.
type App struct {
	Ctx context.Context

	instruments []model.Instrument
	names       map[string]model.Instrument

	blobs    storage.BlobStore
	source   collector.Source
	prices   *pricecache.Store
	charts   *chartcache.Cache
	alerts   *alert.Engine
	settings *settings.Manager
	sender   notifier.Sender

	cron     *scheduler.CronScheduler
	telegram *notifier.TelegramNotifier

	logger  *zap.Logger
	pending sync.WaitGroup
}

// components are the collaborators New builds from config. Tests supply
// their own.
type components struct {
	blobs  storage.BlobStore
	source collector.Source
	sched  scheduler.Scheduler
	sender notifier.Sender
	now    func() time.Time
}

// New builds the service described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	blobs, err := storage.Open(ctx, cfg.StorageOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ids := model.InstrumentIDs(cfg.Instruments)
	var source collector.Source
	switch cfg.Source {
	case config.SourceMock:
		source = collector.NewMockSource(ids)
	default:
		client := fetch.NewClient(cfg.FetchOptions(), logger)
		source = collector.NewCoinGeckoSource(cfg.API.BaseURL, ids, client, logger)
	}

	cron := scheduler.NewCronScheduler(logger)

	var (
		sender   notifier.Sender
		telegram *notifier.TelegramNotifier
	)
	if cfg.TelegramEnabled() {
		telegram = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
		sender = notifier.NewRetrySender(telegram, cfg.Telegram.SendRetries, time.Second, logger)
	} else {
		logger.Warn("telegram is not configured, notifications go to the log")
		sender = notifier.NewLogSender(logger)
	}

	a, err := assemble(ctx, cfg, components{
		blobs:  blobs,
		source: source,
		sched:  cron,
		sender: sender,
		now:    time.Now,
	}, logger)
	if err != nil {
		_ = blobs.Close()
		return nil, err
	}
	a.cron = cron
	a.telegram = telegram
	return a, nil
}

func assemble(ctx context.Context, cfg *config.Config, c components, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		Ctx:         ctx,
		instruments: cfg.Instruments,
		names:       make(map[string]model.Instrument, len(cfg.Instruments)),
		blobs:       c.blobs,
		source:      c.source,
		sender:      c.sender,
		logger:      logger.With(zap.String("component", "app")),
	}
	for _, inst := range cfg.Instruments {
		a.names[inst.ID] = inst
	}

	a.prices = pricecache.New(c.source, c.sched, pricecache.Options{
		Interval: cfg.Poll.Interval,
		Blobs:    c.blobs,
		Now:      c.now,
		Logger:   logger,
	})
	a.charts = chartcache.New(c.source, chartcache.Options{
		TTL:      cfg.Chart.TTL,
		Capacity: cfg.Chart.Capacity,
		Blobs:    c.blobs,
		Now:      c.now,
		Logger:   logger,
	})
	a.alerts = alert.NewEngine(alert.Options{
		Blobs:  c.blobs,
		Now:    c.now,
		Logger: logger,
	})

	sm, err := settings.NewManager(ctx, c.blobs)
	if err != nil {
		return nil, err
	}
	a.settings = sm

	if err := a.prices.Hydrate(ctx); err != nil {
		a.logger.Warn("restore prices failed", zap.Error(err))
	}
	if err := a.charts.Hydrate(ctx); err != nil {
		a.logger.Warn("restore charts failed", zap.Error(err))
	}
	if err := a.alerts.Hydrate(ctx); err != nil {
		a.logger.Warn("restore alerts failed", zap.Error(err))
	}

	a.prices.OnUpdate(a.onPrices)
	return a, nil
}

// onPrices runs after every successful price fetch.
func (a *App) onPrices(prices map[string]model.PriceSnapshot) {
	fired := a.alerts.CheckAlerts(a.Ctx, prices)
	if len(fired) == 0 || !a.settings.Get().NotificationsEnabled {
		return
	}
	for _, t := range fired {
		a.trySend(notifier.FormatTriggered(a.names, t))
	}
}

// trySend delivers text in the background. Failures are logged only.
func (a *App) trySend(text string) {
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		if err := a.sender.Send(a.Ctx, text); err != nil {
			a.logger.Error("send notification failed", zap.Error(err))
		}
	}()
}

// Run starts polling and the command loop and blocks until ctx is
// cancelled. Pending notifications are flushed before it returns.
func (a *App) Run(ctx context.Context) error {
	if a.cron != nil {
		a.cron.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := a.prices.StartPolling(gctx); err != nil {
		return fmt.Errorf("start polling: %w", err)
	}
	if a.telegram != nil {
		g.Go(func() error {
			a.telegram.StartPolling(gctx, a.HandleCommand)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.prices.StopPolling()
		return nil
	})
	a.logger.Info("coinwatch running",
		zap.String("source", a.source.Name()),
		zap.Int("instruments", len(a.instruments)),
	)

	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.cron != nil {
		a.cron.Stop(stopCtx)
	}
	a.pending.Wait()
	a.logger.Info("coinwatch stopped")
	return err
}

// Close releases the storage backend.
func (a *App) Close() error {
	return a.blobs.Close()
}

// Stats is a snapshot of the service state for status reporting.
func (a *App) Stats() notifier.StatusReport {
	snap := a.prices.Snapshot()
	r := notifier.StatusReport{
		Connection:          string(pricecache.DeriveStatus(snap)),
		Source:              a.source.Name(),
		Polling:             snap.IsPolling,
		Stale:               a.prices.IsStale(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastError:           snap.Err,
		ActiveAlerts:        len(a.alerts.Alerts()),
		UnviewedAlerts:      a.alerts.UnviewedCount(),
		CachedCharts:        a.charts.Len(),
		Notifications:       a.settings.Get().NotificationsEnabled,
	}
	if snap.LastFetchAtMs > 0 {
		r.LastFetch = time.UnixMilli(snap.LastFetchAtMs)
	}
	return r
}
