package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetrySender retries failed sends with exponential backoff. Client
// errors reported by the API are not retried.
type RetrySender struct {
	next         Sender
	maxRetries   int
	initialDelay time.Duration
	logger       *zap.Logger
}

// NewRetrySender wraps next.
func NewRetrySender(next Sender, maxRetries int, initialDelay time.Duration, logger *zap.Logger) *RetrySender {
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrySender{next: next, maxRetries: maxRetries, initialDelay: initialDelay, logger: logger}
}

func (r *RetrySender) Send(ctx context.Context, text string) error {
	attempt := 0
	op := func() error {
		attempt++
		err := r.next.Send(ctx, text)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initialDelay
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = &backoff.StopBackOff{}
	if r.maxRetries > 0 {
		b = backoff.WithMaxRetries(exp, uint64(r.maxRetries))
	}

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		r.logger.Warn("send failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxRetries+1),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}

// LogSender writes messages to the log instead of delivering them. Used
// when no chat is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.With(zap.String("component", "notifier"))}
}

func (l *LogSender) Send(_ context.Context, text string) error {
	l.logger.Info("notification", zap.String("text", text))
	return nil
}
