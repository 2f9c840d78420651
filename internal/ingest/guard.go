package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyunbridge/hdmeal-backend/internal/canonical"
)

// GuardConfig carries the per-category freshness settings.
type GuardConfig struct {
	// SchoolWait bounds the inline refresh for meal/schedule/timetable
	// cache misses.
	SchoolWait time.Duration
	// AuxWait bounds the inline refresh for weather and water temperature.
	AuxWait time.Duration
	// WeatherMaxAge and WaterMaxAge decide when a stored snapshot is still
	// fresh enough to serve without touching the network.
	WeatherMaxAge time.Duration
	WaterMaxAge   time.Duration
}

// Guard answers interactive reads: cached data when fresh, a bounded inline
// refresh on miss, and on timeout the best available data immediately while
// the refresh finishes in the background.
type Guard struct {
	store  Store
	syncer *Syncer
	log    *zap.Logger
	cfg    GuardConfig

	wg sync.WaitGroup
}

// NewGuard creates a Guard over the syncer and store.
func NewGuard(store Store, syncer *Syncer, log *zap.Logger, cfg GuardConfig) *Guard {
	return &Guard{store: store, syncer: syncer, log: log, cfg: cfg}
}

// Wait blocks until all background refreshes spawned by the guard have
// finished. Intended for shutdown and tests.
func (g *Guard) Wait() {
	g.wg.Wait()
}

// boundedSync runs the sync detached from the caller's context and waits at
// most maxWait for it. On timeout the sync keeps running so its eventual
// write still lands; on a quick failure one background retry is scheduled.
// Returns true when the sync completed successfully within the bound.
func (g *Guard) boundedSync(ctx context.Context, maxWait time.Duration, label string, run func(context.Context) error) bool {
	done := make(chan error, 1)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		done <- run(context.Background())
	}()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case err := <-done:
		if err == nil {
			return true
		}
		g.log.Warn("bounded refresh failed; retrying in background",
			zap.String("category", label), zap.Error(err))
		g.spawn(label, run)
		return false
	case <-timer.C:
		// Abandon the wait; the goroutine above continues and becomes the
		// unattended refresh.
		g.log.Warn("bounded refresh timed out; continuing in background",
			zap.String("category", label), zap.Duration("max_wait", maxWait))
		return false
	case <-ctx.Done():
		return false
	}
}

// spawn runs a fire-and-forget sync, tracked so Wait can drain it and its
// outcome stays visible in logs.
func (g *Guard) spawn(label string, run func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := run(context.Background()); err != nil {
			g.log.Warn("background refresh failed", zap.String("category", label), zap.Error(err))
		}
	}()
}

// EnsureMeal returns the meal for the date, refreshing on miss. Absence
// after the bounded wait is not an error.
func (g *Guard) EnsureMeal(ctx context.Context, day time.Time) (*canonical.MealRecord, error) {
	record, err := g.store.GetMeal(ctx, day)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	if g.boundedSync(ctx, g.cfg.SchoolWait, "meal", func(c context.Context) error {
		return g.syncer.SyncRange(c, day, day)
	}) {
		return g.store.GetMeal(ctx, day)
	}
	return nil, nil
}

// EnsureSchedule returns the schedule for the date, refreshing on miss.
func (g *Guard) EnsureSchedule(ctx context.Context, day time.Time) (*canonical.ScheduleRecord, error) {
	record, err := g.store.GetSchedule(ctx, day)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	if g.boundedSync(ctx, g.cfg.SchoolWait, "schedule", func(c context.Context) error {
		return g.syncer.SyncRange(c, day, day)
	}) {
		return g.store.GetSchedule(ctx, day)
	}
	return nil, nil
}

// EnsureTimetable returns the timetable for the date, refreshing on miss.
func (g *Guard) EnsureTimetable(ctx context.Context, day time.Time) (*canonical.TimetableRecord, error) {
	record, err := g.store.GetTimetable(ctx, day)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	if g.boundedSync(ctx, g.cfg.SchoolWait, "timetable", func(c context.Context) error {
		return g.syncer.SyncRange(c, day, day)
	}) {
		return g.store.GetTimetable(ctx, day)
	}
	return nil, nil
}

// EnsureWeather returns a weather snapshot no older than the configured max
// age when possible, falling back to the stale read when the bounded refresh
// does not finish in time.
func (g *Guard) EnsureWeather(ctx context.Context) (*canonical.WeatherSnapshot, error) {
	record, err := g.store.GetWeatherRecent(ctx)
	if err != nil {
		return nil, err
	}
	if record != nil && time.Since(record.Timestamp) <= g.cfg.WeatherMaxAge {
		return record, nil
	}
	if g.boundedSync(ctx, g.cfg.AuxWait, "weather", g.syncer.SyncWeather) {
		return g.store.GetWeatherRecent(ctx)
	}
	return record, nil
}

// EnsureWaterTemperature is the water-temperature counterpart of
// EnsureWeather.
func (g *Guard) EnsureWaterTemperature(ctx context.Context) (*canonical.WaterTemperatureSnapshot, error) {
	record, err := g.store.GetWaterTemperatureRecent(ctx)
	if err != nil {
		return nil, err
	}
	if record != nil && time.Since(record.Timestamp) <= g.cfg.WaterMaxAge {
		return record, nil
	}
	if g.boundedSync(ctx, g.cfg.AuxWait, "water_temperature", g.syncer.SyncWaterTemperature) {
		return g.store.GetWaterTemperatureRecent(ctx)
	}
	return record, nil
}
