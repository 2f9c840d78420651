package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyunbridge/hdmeal-backend/internal/canonical"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func sampleMeal(day time.Time) *canonical.MealRecord {
	calories := 796.6
	return &canonical.MealRecord{
		Date: day,
		Menus: []canonical.MealMenuItem{
			{Name: "비빔밥", Allergies: []int{5, 6}},
			{Name: "우유", Allergies: []int{2}},
		},
		MenusPlain: []string{"비빔밥", "우유"},
		Calories:   &calories,
	}
}

func TestUpsertMealInsertsAndReadsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := date(2024, 3, 4)

	stored, err := s.UpsertMeal(ctx, sampleMeal(day))
	require.NoError(t, err)
	require.NotNil(t, stored)

	assert.NotZero(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.Equal(t, []string{"비빔밥", "우유"}, stored.MenusPlain)
	assert.Equal(t, []int{5, 6}, stored.Menus[0].Allergies)
	require.NotNil(t, stored.Calories)
	assert.InDelta(t, 796.6, *stored.Calories, 0.001)
}

func TestUpsertMealIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := date(2024, 3, 4)

	first, err := s.UpsertMeal(ctx, sampleMeal(day))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	second, err := s.UpsertMeal(ctx, sampleMeal(day))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Menus, second.Menus)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)
}

func TestUpsertMealUpdatesContentKeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := date(2024, 3, 4)

	first, err := s.UpsertMeal(ctx, sampleMeal(day))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	updated := sampleMeal(day)
	updated.MenusPlain = []string{"카레라이스"}
	updated.Menus = []canonical.MealMenuItem{{Name: "카레라이스", Allergies: []int{}}}
	updated.Calories = nil

	second, err := s.UpsertMeal(ctx, updated)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"카레라이스"}, second.MenusPlain)
	assert.Nil(t, second.Calories)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)
}

func TestGetMealAbsent(t *testing.T) {
	s := newTestStore(t)

	record, err := s.GetMeal(context.Background(), date(2024, 3, 4))
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestGetMealsInRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Day 2024-03-05 is deliberately missing.
	for _, day := range []time.Time{date(2024, 3, 4), date(2024, 3, 6)} {
		_, err := s.UpsertMeal(ctx, sampleMeal(day))
		require.NoError(t, err)
	}

	records, err := s.GetMealsInRange(ctx, date(2024, 3, 4), date(2024, 3, 6))
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Contains(t, records, "2024-03-04")
	assert.Contains(t, records, "2024-03-06")
	assert.NotContains(t, records, "2024-03-05")

	// A single-day range is inclusive of exactly that day.
	records, err = s.GetMealsInRange(ctx, date(2024, 3, 4), date(2024, 3, 4))
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Contains(t, records, "2024-03-04")
}

func TestUpsertScheduleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := date(2024, 3, 4)
	summary := "개학식(1학년, 2학년)"

	stored, err := s.UpsertSchedule(ctx, &canonical.ScheduleRecord{
		Date:    day,
		Entries: []canonical.ScheduleEntry{{Name: "개학식", Grades: []int{1, 2}}},
		Summary: &summary,
	})
	require.NoError(t, err)

	require.Len(t, stored.Entries, 1)
	assert.Equal(t, []int{1, 2}, stored.Entries[0].Grades)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, summary, *stored.Summary)

	got, err := s.GetSchedule(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, stored.Entries, got.Entries)
}

func TestUpsertTimetableRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := date(2024, 3, 4)

	lessons := canonical.Lessons{
		"1": {"2": {"국어", "수학", "영어"}},
	}
	stored, err := s.UpsertTimetable(ctx, &canonical.TimetableRecord{Date: day, Lessons: lessons})
	require.NoError(t, err)
	assert.Equal(t, lessons, stored.Lessons)

	lessons["1"]["2"] = []string{"체육"}
	updated, err := s.UpsertTimetable(ctx, &canonical.TimetableRecord{Date: day, Lessons: lessons})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, updated.ID)
	assert.Equal(t, []string{"체육"}, updated.Lessons["1"]["2"])
}

func TestWeatherUpsertAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &canonical.WeatherSnapshot{
		Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Temp:      "5", TempMin: "-1.0", TempMax: "11.0",
		Sky: "☀ 맑음", Pty: "❌ 없음",
	}
	newer := &canonical.WeatherSnapshot{
		Timestamp: time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC),
		Temp:      "8", TempMin: "-", TempMax: "-",
		Sky: "☁ 흐림", Pty: "🌧️ 비",
	}

	// Insert out of order; recency follows the forecast timestamp.
	_, err := s.UpsertWeather(ctx, newer)
	require.NoError(t, err)
	_, err = s.UpsertWeather(ctx, older)
	require.NoError(t, err)

	recent, err := s.GetWeatherRecent(ctx)
	require.NoError(t, err)
	require.NotNil(t, recent)
	assert.Equal(t, "8", recent.Temp)
	assert.Equal(t, newer.Timestamp, recent.Timestamp.UTC())
}

func TestWeatherUpsertSameTimestampUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	first, err := s.UpsertWeather(ctx, &canonical.WeatherSnapshot{Timestamp: ts, Temp: "5"})
	require.NoError(t, err)

	second, err := s.UpsertWeather(ctx, &canonical.WeatherSnapshot{Timestamp: ts, Temp: "6"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "6", second.Temp)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)
}

func TestWaterTemperatureUpsertAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recent, err := s.GetWaterTemperatureRecent(ctx)
	require.NoError(t, err)
	assert.Nil(t, recent)

	_, err = s.UpsertWaterTemperature(ctx, &canonical.WaterTemperatureSnapshot{
		Timestamp:    time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC),
		TemperatureC: 19.0,
	})
	require.NoError(t, err)

	recent, err = s.GetWaterTemperatureRecent(ctx)
	require.NoError(t, err)
	require.NotNil(t, recent)
	assert.Equal(t, 19.0, recent.TemperatureC)
}

func TestEnsureSchemaConcurrent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureSchema(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	// Schema is usable after the concurrent initialization.
	_, err = s.UpsertMeal(context.Background(), sampleMeal(date(2024, 3, 4)))
	assert.NoError(t, err)
}
