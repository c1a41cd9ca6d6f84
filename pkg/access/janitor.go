package access

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tablero/tablero/pkg/cache"
	"github.com/tablero/tablero/pkg/observability"
)

// Janitor periodically deactivates role grants whose expiry has passed and
// drops the cached aggregations they fed. Correctness never depends on it:
// readers filter expired grants themselves. The janitor only keeps the
// user_roles table and the cache tidy.
type Janitor struct {
	store   Store
	cache   cache.Cache
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewJanitor creates an expired-grant janitor. metrics may be nil.
func NewJanitor(store Store, c cache.Cache, logger *observability.Logger, metrics *observability.Metrics) *Janitor {
	return &Janitor{
		store:   store,
		cache:   c,
		logger:  logger.WithField("component", "grant_janitor"),
		metrics: metrics,
		cron:    cron.New(),
	}
}

// Start schedules the sweep with the given cron expression and begins
// running it in the background.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		j.Sweep(ctx)
	}); err != nil {
		return err
	}

	j.cron.Start()
	j.logger.WithField("schedule", schedule).Info("Grant janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("Grant janitor stopped")
}

// Sweep deactivates expired grants and invalidates the affected cached
// role/permission aggregations. Safe to call concurrently with requests.
func (j *Janitor) Sweep(ctx context.Context) {
	keys, err := j.store.DeactivateExpiredGrants(ctx, time.Now())
	if err != nil {
		j.logger.WithError(err).Error("Failed to deactivate expired grants")
		return
	}
	if len(keys) == 0 {
		return
	}

	cacheKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		cacheKeys = append(cacheKeys, cache.RolePermsKey(k.PrincipalID, k.TenantID))
	}
	if err := j.cache.Forget(ctx, cacheKeys...); err != nil {
		j.logger.WithError(err).Warn("Failed to invalidate aggregations for expired grants")
	}

	if j.metrics != nil {
		j.metrics.GrantsExpiredTotal.Add(float64(len(keys)))
	}
	j.logger.WithField("count", len(keys)).Info("Deactivated expired role grants")
}
