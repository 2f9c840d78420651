// Package ingest drives the source adapters and writes their results into
// the store. The Syncer is the unit of retryable work; the Guard layers
// bounded-latency freshness on top for interactive callers.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyunbridge/hdmeal-backend/internal/canonical"
	"github.com/hyunbridge/hdmeal-backend/internal/timeutil"
)

// SchoolSource provides the three date-ranged school-data categories.
type SchoolSource interface {
	FetchMeals(ctx context.Context, start, end time.Time) (map[string]*canonical.MealRecord, error)
	FetchSchedules(ctx context.Context, start, end time.Time) (map[string]*canonical.ScheduleRecord, error)
	FetchTimetables(ctx context.Context, start, end time.Time) (map[string]*canonical.TimetableRecord, error)
}

// WeatherSource provides the latest forecast snapshot. A nil record with a
// nil error means the upstream had nothing usable.
type WeatherSource interface {
	FetchWeather(ctx context.Context) (*canonical.WeatherSnapshot, error)
}

// WaterSource provides the latest water-temperature snapshot.
type WaterSource interface {
	FetchWaterTemperature(ctx context.Context) (*canonical.WaterTemperatureSnapshot, error)
}

// Store is the persistence contract the syncer and guard depend on,
// satisfied by *store.Store.
type Store interface {
	UpsertMeal(ctx context.Context, record *canonical.MealRecord) (*canonical.MealRecord, error)
	GetMeal(ctx context.Context, day time.Time) (*canonical.MealRecord, error)
	GetMealsInRange(ctx context.Context, start, end time.Time) (map[string]*canonical.MealRecord, error)

	UpsertSchedule(ctx context.Context, record *canonical.ScheduleRecord) (*canonical.ScheduleRecord, error)
	GetSchedule(ctx context.Context, day time.Time) (*canonical.ScheduleRecord, error)
	GetSchedulesInRange(ctx context.Context, start, end time.Time) (map[string]*canonical.ScheduleRecord, error)

	UpsertTimetable(ctx context.Context, record *canonical.TimetableRecord) (*canonical.TimetableRecord, error)
	GetTimetable(ctx context.Context, day time.Time) (*canonical.TimetableRecord, error)
	GetTimetablesInRange(ctx context.Context, start, end time.Time) (map[string]*canonical.TimetableRecord, error)

	UpsertWeather(ctx context.Context, record *canonical.WeatherSnapshot) (*canonical.WeatherSnapshot, error)
	GetWeatherRecent(ctx context.Context) (*canonical.WeatherSnapshot, error)

	UpsertWaterTemperature(ctx context.Context, record *canonical.WaterTemperatureSnapshot) (*canonical.WaterTemperatureSnapshot, error)
	GetWaterTemperatureRecent(ctx context.Context) (*canonical.WaterTemperatureSnapshot, error)
}

// SyncError wraps a failed sync with the operation that failed.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string { return fmt.Sprintf("sync %s: %v", e.Op, e.Err) }

func (e *SyncError) Unwrap() error { return e.Err }

// Syncer fetches from the adapters and upserts into the store. It never
// retries on its own; the retry budget lives in the fetch client.
type Syncer struct {
	store   Store
	school  SchoolSource
	weather WeatherSource
	water   WaterSource
	log     *zap.Logger

	windowBefore int
	windowAfter  int
}

// NewSyncer creates a Syncer. windowBefore/windowAfter shape the rolling
// window used by SyncWindow.
func NewSyncer(store Store, school SchoolSource, weather WeatherSource, water WaterSource, log *zap.Logger, windowBefore, windowAfter int) *Syncer {
	return &Syncer{
		store:        store,
		school:       school,
		weather:      weather,
		water:        water,
		log:          log,
		windowBefore: windowBefore,
		windowAfter:  windowAfter,
	}
}

// SyncRange fetches all three school-data categories concurrently for
// [start, end] and upserts them sequentially per category.
func (s *Syncer) SyncRange(ctx context.Context, start, end time.Time) error {
	var (
		meals      map[string]*canonical.MealRecord
		schedules  map[string]*canonical.ScheduleRecord
		timetables map[string]*canonical.TimetableRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		meals, err = s.school.FetchMeals(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		schedules, err = s.school.FetchSchedules(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		timetables, err = s.school.FetchTimetables(gctx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error("school data fetch failed",
			zap.String("start", timeutil.DateKey(start)),
			zap.String("end", timeutil.DateKey(end)),
			zap.Error(err),
		)
		return &SyncError{Op: "range", Err: err}
	}

	for _, key := range sortedKeys(meals) {
		if _, err := s.store.UpsertMeal(ctx, meals[key]); err != nil {
			s.log.Error("meal upsert failed", zap.String("date", key), zap.Error(err))
			return &SyncError{Op: "range", Err: err}
		}
	}
	for _, key := range sortedKeys(schedules) {
		if _, err := s.store.UpsertSchedule(ctx, schedules[key]); err != nil {
			s.log.Error("schedule upsert failed", zap.String("date", key), zap.Error(err))
			return &SyncError{Op: "range", Err: err}
		}
	}
	for _, key := range sortedKeys(timetables) {
		if _, err := s.store.UpsertTimetable(ctx, timetables[key]); err != nil {
			s.log.Error("timetable upsert failed", zap.String("date", key), zap.Error(err))
			return &SyncError{Op: "range", Err: err}
		}
	}

	s.log.Info("synced range",
		zap.String("start", timeutil.DateKey(start)),
		zap.String("end", timeutil.DateKey(end)),
		zap.Int("meals", len(meals)),
		zap.Int("schedules", len(schedules)),
		zap.Int("timetables", len(timetables)),
	)
	return nil
}

// SyncWindow syncs the rolling window around today (KST).
func (s *Syncer) SyncWindow(ctx context.Context) error {
	today := timeutil.TodayKST()
	return s.SyncRange(ctx, today.AddDate(0, 0, -s.windowBefore), today.AddDate(0, 0, s.windowAfter))
}

// SyncWeather refreshes the weather snapshot. An empty adapter result is not
// an error; there is simply nothing to write.
func (s *Syncer) SyncWeather(ctx context.Context) error {
	snapshot, err := s.weather.FetchWeather(ctx)
	if err != nil {
		s.log.Error("weather fetch failed", zap.Error(err))
		return &SyncError{Op: "weather", Err: err}
	}
	if snapshot == nil {
		s.log.Warn("no weather data available")
		return nil
	}
	if _, err := s.store.UpsertWeather(ctx, snapshot); err != nil {
		s.log.Error("weather upsert failed", zap.Error(err))
		return &SyncError{Op: "weather", Err: err}
	}
	s.log.Info("weather synced", zap.Time("timestamp", snapshot.Timestamp))
	return nil
}

// SyncWaterTemperature refreshes the water-temperature snapshot.
func (s *Syncer) SyncWaterTemperature(ctx context.Context) error {
	snapshot, err := s.water.FetchWaterTemperature(ctx)
	if err != nil {
		s.log.Error("water temperature fetch failed", zap.Error(err))
		return &SyncError{Op: "water_temperature", Err: err}
	}
	if snapshot == nil {
		s.log.Warn("no water temperature data available")
		return nil
	}
	if _, err := s.store.UpsertWaterTemperature(ctx, snapshot); err != nil {
		s.log.Error("water temperature upsert failed", zap.Error(err))
		return &SyncError{Op: "water_temperature", Err: err}
	}
	s.log.Info("water temperature synced",
		zap.Float64("temperature_c", snapshot.TemperatureC),
		zap.Time("timestamp", snapshot.Timestamp),
	)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
