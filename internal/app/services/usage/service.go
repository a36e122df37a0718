// Package usage tracks durable, time-bucketed usage counters: outbound
// RPC rate limiting and federation delivery metering.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tessera-social/app_platform/internal/app/storage"
	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/pkg/logger"
)

const (
	minuteLayout = "200601021504"
	dayLayout    = "20060102"

	minuteTTL = 2 * time.Minute
	dayTTL    = 48 * time.Hour
)

// MinuteBucket formats a UTC minute bucket key component.
func MinuteBucket(t time.Time) string { return t.UTC().Format(minuteLayout) }

// DayBucket formats a UTC day bucket key component.
func DayBucket(t time.Time) string { return t.UTC().Format(dayLayout) }

// Service enforces outbound quotas and records delivery metering.
type Service struct {
	store storage.UsageStore
	log   *logger.Logger
	cron  *cron.Cron
	now   func() time.Time
}

// New constructs a usage service.
func New(store storage.UsageStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("usage")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AllowOutbound counts one outbound call for the user against the
// per-minute limit. The counter is fixed-bucket, not sliding-window: a
// burst at a bucket boundary can briefly approach double the nominal
// rate, which is accepted. A limit of zero blocks outbound entirely.
func (s *Service) AllowOutbound(ctx context.Context, userKey string, limit int64) error {
	if limit <= 0 {
		return platformerrors.QuotaExceeded("outbound_per_minute", 0, 1, 0)
	}
	key := fmt.Sprintf("outbound:minute:%s:%s", userKey, MinuteBucket(s.now()))
	value, err := s.store.IncrementUsage(ctx, key, 1, minuteTTL)
	if err != nil {
		return platformerrors.Internal("increment outbound counter", err)
	}
	if value > limit {
		return platformerrors.QuotaExceeded("outbound_per_minute", value-1, 1, limit)
	}
	return nil
}

// RecordDeliveries increments the per-minute and per-day delivery
// counters for a user. Called before the outbound request executes so
// metering cannot be skipped by a failing call.
func (s *Service) RecordDeliveries(ctx context.Context, userKey string, count int64) error {
	if count <= 0 {
		return nil
	}
	now := s.now()
	minuteKey := fmt.Sprintf("deliveries:minute:%s:%s", userKey, MinuteBucket(now))
	dayKey := fmt.Sprintf("deliveries:day:%s:%s", userKey, DayBucket(now))

	if _, err := s.store.IncrementUsage(ctx, minuteKey, count, minuteTTL); err != nil {
		return platformerrors.Internal("increment minute delivery counter", err)
	}
	if _, err := s.store.IncrementUsage(ctx, dayKey, count, dayTTL); err != nil {
		return platformerrors.Internal("increment day delivery counter", err)
	}
	return nil
}

// DeliveriesToday returns the user's delivery count for the current UTC day.
func (s *Service) DeliveriesToday(ctx context.Context, userKey string) (int64, error) {
	key := fmt.Sprintf("deliveries:day:%s:%s", userKey, DayBucket(s.now()))
	return s.store.GetUsage(ctx, key)
}

// StartPruner schedules hourly pruning of expired counter buckets.
// Redis-backed stores expire keys themselves; the SQL and memory
// stores need the sweep.
func (s *Service) StartPruner() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.store.PruneUsage(ctx, s.now().UTC()); err != nil {
			s.log.WithError(err).Warn("prune usage counters")
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// StopPruner stops the background sweep.
func (s *Service) StopPruner() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}
