// Package store persists canonical records in sqlite. One record per date
// (meals, schedules, timetables) or per timestamp (weather, water
// temperature); upserts are idempotent and never touch created_at after the
// first insert.
package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hyunbridge/hdmeal-backend/internal/canonical"
	"github.com/hyunbridge/hdmeal-backend/internal/timeutil"
)

// Store wraps the process-wide database handle.
type Store struct {
	db  *gorm.DB
	log *zap.Logger

	mu    sync.Mutex
	ready atomic.Bool
}

// Open connects to the sqlite database at path, creating it if needed.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent syncs.
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureSchema creates tables and unique indexes exactly once per Store.
// Safe under concurrent first callers; the ready flag is only set after the
// migration succeeds.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.Load() {
		return nil
	}

	err := s.db.WithContext(ctx).AutoMigrate(
		&canonical.MealRecord{},
		&canonical.ScheduleRecord{},
		&canonical.TimetableRecord{},
		&canonical.WeatherSnapshot{},
		&canonical.WaterTemperatureSnapshot{},
	)
	if err != nil {
		return err
	}
	s.ready.Store(true)
	return nil
}

// midnightUTC normalizes a date key to 00:00 UTC.
func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// rangeBounds converts the inclusive [start, end] date interval into the
// half-open [start 00:00, end+1 00:00) UTC interval.
func rangeBounds(start, end time.Time) (time.Time, time.Time) {
	return midnightUTC(start), midnightUTC(end).AddDate(0, 0, 1)
}

// ----------------------------------------------------------------------
// Meals
// ----------------------------------------------------------------------

// UpsertMeal inserts or updates the meal for record.Date and returns the
// stored row read back after the write.
func (s *Store) UpsertMeal(ctx context.Context, record *canonical.MealRecord) (*canonical.MealRecord, error) {
	day := midnightUTC(record.Date)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing canonical.MealRecord
		err := tx.Where("date = ?", day).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fresh := *record
			fresh.ID = 0
			fresh.Date = day
			fresh.CreatedAt = time.Time{}
			return tx.Create(&fresh).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).
			Select("menus", "menus_plain", "calories", "source_hash").
			Updates(&canonical.MealRecord{
				Menus:      record.Menus,
				MenusPlain: record.MenusPlain,
				Calories:   record.Calories,
				SourceHash: record.SourceHash,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetMeal(ctx, day)
}

// GetMeal returns the meal for the given date, or nil when absent.
func (s *Store) GetMeal(ctx context.Context, day time.Time) (*canonical.MealRecord, error) {
	var record canonical.MealRecord
	err := s.db.WithContext(ctx).Where("date = ?", midnightUTC(day)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetMealsInRange returns stored meals for [start, end], keyed by ISO date.
// Days without a record are simply absent.
func (s *Store) GetMealsInRange(ctx context.Context, start, end time.Time) (map[string]*canonical.MealRecord, error) {
	lo, hi := rangeBounds(start, end)
	var records []canonical.MealRecord
	err := s.db.WithContext(ctx).Where("date >= ? AND date < ?", lo, hi).Order("date").Find(&records).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]*canonical.MealRecord, len(records))
	for i := range records {
		result[timeutil.DateKey(records[i].Date)] = &records[i]
	}
	return result, nil
}

// ----------------------------------------------------------------------
// Schedules
// ----------------------------------------------------------------------

func (s *Store) UpsertSchedule(ctx context.Context, record *canonical.ScheduleRecord) (*canonical.ScheduleRecord, error) {
	day := midnightUTC(record.Date)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing canonical.ScheduleRecord
		err := tx.Where("date = ?", day).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fresh := *record
			fresh.ID = 0
			fresh.Date = day
			fresh.CreatedAt = time.Time{}
			return tx.Create(&fresh).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).
			Select("entries", "summary").
			Updates(&canonical.ScheduleRecord{
				Entries: record.Entries,
				Summary: record.Summary,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetSchedule(ctx, day)
}

func (s *Store) GetSchedule(ctx context.Context, day time.Time) (*canonical.ScheduleRecord, error) {
	var record canonical.ScheduleRecord
	err := s.db.WithContext(ctx).Where("date = ?", midnightUTC(day)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetSchedulesInRange(ctx context.Context, start, end time.Time) (map[string]*canonical.ScheduleRecord, error) {
	lo, hi := rangeBounds(start, end)
	var records []canonical.ScheduleRecord
	err := s.db.WithContext(ctx).Where("date >= ? AND date < ?", lo, hi).Order("date").Find(&records).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]*canonical.ScheduleRecord, len(records))
	for i := range records {
		result[timeutil.DateKey(records[i].Date)] = &records[i]
	}
	return result, nil
}

// ----------------------------------------------------------------------
// Timetables
// ----------------------------------------------------------------------

func (s *Store) UpsertTimetable(ctx context.Context, record *canonical.TimetableRecord) (*canonical.TimetableRecord, error) {
	day := midnightUTC(record.Date)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing canonical.TimetableRecord
		err := tx.Where("date = ?", day).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fresh := *record
			fresh.ID = 0
			fresh.Date = day
			fresh.CreatedAt = time.Time{}
			return tx.Create(&fresh).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).
			Select("lessons").
			Updates(&canonical.TimetableRecord{Lessons: record.Lessons}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetTimetable(ctx, day)
}

func (s *Store) GetTimetable(ctx context.Context, day time.Time) (*canonical.TimetableRecord, error) {
	var record canonical.TimetableRecord
	err := s.db.WithContext(ctx).Where("date = ?", midnightUTC(day)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetTimetablesInRange(ctx context.Context, start, end time.Time) (map[string]*canonical.TimetableRecord, error) {
	lo, hi := rangeBounds(start, end)
	var records []canonical.TimetableRecord
	err := s.db.WithContext(ctx).Where("date >= ? AND date < ?", lo, hi).Order("date").Find(&records).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]*canonical.TimetableRecord, len(records))
	for i := range records {
		result[timeutil.DateKey(records[i].Date)] = &records[i]
	}
	return result, nil
}

// ----------------------------------------------------------------------
// Weather
// ----------------------------------------------------------------------

func (s *Store) UpsertWeather(ctx context.Context, record *canonical.WeatherSnapshot) (*canonical.WeatherSnapshot, error) {
	ts := record.Timestamp.UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing canonical.WeatherSnapshot
		err := tx.Where("timestamp = ?", ts).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fresh := *record
			fresh.ID = 0
			fresh.Timestamp = ts
			fresh.CreatedAt = time.Time{}
			return tx.Create(&fresh).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).
			Select("temp", "temp_min", "temp_max", "sky", "pty", "precip_probability", "humidity", "first_hour").
			Updates(&canonical.WeatherSnapshot{
				Temp:              record.Temp,
				TempMin:           record.TempMin,
				TempMax:           record.TempMax,
				Sky:               record.Sky,
				Pty:               record.Pty,
				PrecipProbability: record.PrecipProbability,
				Humidity:          record.Humidity,
				FirstHour:         record.FirstHour,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	var stored canonical.WeatherSnapshot
	if err := s.db.WithContext(ctx).Where("timestamp = ?", ts).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetWeatherRecent returns the newest weather snapshot, or nil when none is
// stored yet.
func (s *Store) GetWeatherRecent(ctx context.Context) (*canonical.WeatherSnapshot, error) {
	var record canonical.WeatherSnapshot
	err := s.db.WithContext(ctx).Order("timestamp DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ----------------------------------------------------------------------
// Water temperature
// ----------------------------------------------------------------------

func (s *Store) UpsertWaterTemperature(ctx context.Context, record *canonical.WaterTemperatureSnapshot) (*canonical.WaterTemperatureSnapshot, error) {
	ts := record.Timestamp.UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing canonical.WaterTemperatureSnapshot
		err := tx.Where("timestamp = ?", ts).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fresh := *record
			fresh.ID = 0
			fresh.Timestamp = ts
			fresh.CreatedAt = time.Time{}
			return tx.Create(&fresh).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).
			Select("temperature_c").
			Updates(&canonical.WaterTemperatureSnapshot{TemperatureC: record.TemperatureC}).Error
	})
	if err != nil {
		return nil, err
	}

	var stored canonical.WaterTemperatureSnapshot
	if err := s.db.WithContext(ctx).Where("timestamp = ?", ts).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Store) GetWaterTemperatureRecent(ctx context.Context) (*canonical.WaterTemperatureSnapshot, error) {
	var record canonical.WaterTemperatureSnapshot
	err := s.db.WithContext(ctx).Order("timestamp DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
