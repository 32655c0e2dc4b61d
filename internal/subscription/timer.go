package subscription

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiryInterval is how often the timer looks for ended subscriptions.
const DefaultExpiryInterval = 1 * time.Hour

// Timer periodically expires subscriptions past their end date.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new subscription expiry timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Catch up on anything that ended while the process was down.
	t.expire(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.expire(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) expire(ctx context.Context) {
	count, err := t.service.ExpireDue(ctx)
	if err != nil {
		t.logger.Warn("failed to expire subscriptions", "error", err)
		return
	}
	if count > 0 {
		t.logger.Info("subscriptions expired", "count", count)
	}
}
