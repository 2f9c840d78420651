// Package httpapi is thin presentation glue over the ingestion core. It owns
// no failure handling beyond mapping absence to 404; freshness and retries
// live below it.
package httpapi

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/hyunbridge/hdmeal-backend/internal/canonical"
	"github.com/hyunbridge/hdmeal-backend/internal/ingest"
	"github.com/hyunbridge/hdmeal-backend/internal/timeutil"
)

var validate = validator.New()

// Core bundles the components the HTTP layer serves from.
type Core struct {
	Store  ingest.Store
	Guard  *ingest.Guard
	Syncer *ingest.Syncer

	// Grade/class layout for dense empty timetables in the app payload.
	NumGrades  int
	NumClasses int
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, core Core) {
	v1 := app.Group("/api/v1")

	v1.Get("/meals/:date", func(c *fiber.Ctx) error {
		day, err := parseDate(c.Params("date"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		record, err := core.Guard.EnsureMeal(c.Context(), day)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch meal")
		}
		if record == nil {
			return fiber.NewError(fiber.StatusNotFound, "no meal data for requested date")
		}
		return c.JSON(record)
	})

	v1.Get("/schedules/:date", func(c *fiber.Ctx) error {
		day, err := parseDate(c.Params("date"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		record, err := core.Guard.EnsureSchedule(c.Context(), day)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch schedule")
		}
		if record == nil {
			return fiber.NewError(fiber.StatusNotFound, "no schedule data for requested date")
		}
		return c.JSON(record)
	})

	v1.Get("/timetables/:date", func(c *fiber.Ctx) error {
		day, err := parseDate(c.Params("date"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		record, err := core.Guard.EnsureTimetable(c.Context(), day)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch timetable")
		}
		if record == nil {
			return fiber.NewError(fiber.StatusNotFound, "no timetable data for requested date")
		}
		return c.JSON(record)
	})

	v1.Get("/meals", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		records, err := core.Store.GetMealsInRange(c.Context(), req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch meals")
		}
		return c.JSON(records)
	})

	v1.Get("/schedules", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		records, err := core.Store.GetSchedulesInRange(c.Context(), req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch schedules")
		}
		return c.JSON(records)
	})

	v1.Get("/timetables", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		records, err := core.Store.GetTimetablesInRange(c.Context(), req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch timetables")
		}
		return c.JSON(records)
	})

	v1.Get("/weather/recent", func(c *fiber.Ctx) error {
		record, err := core.Guard.EnsureWeather(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather")
		}
		if record == nil {
			return fiber.NewError(fiber.StatusNotFound, "no weather data available")
		}
		return c.JSON(record)
	})

	v1.Get("/water-temperature/recent", func(c *fiber.Ctx) error {
		record, err := core.Guard.EnsureWaterTemperature(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch water temperature")
		}
		if record == nil {
			return fiber.NewError(fiber.StatusNotFound, "no water temperature data available")
		}
		return c.JSON(record)
	})

	// The legacy app payload: one entry per day in the range, gaps filled
	// with nulls and empty grade/class grids.
	v1.Get("/app/payload", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		payload, err := buildAppPayload(c, core, req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to build payload")
		}
		return c.JSON(payload)
	})
}

// dayPayload is one day's slice of the legacy app payload.
type dayPayload struct {
	Meal      *canonical.MealRecord     `json:"meal"`
	Schedule  *canonical.ScheduleRecord `json:"schedule"`
	Timetable canonical.Lessons         `json:"timetable"`
}

func buildAppPayload(c *fiber.Ctx, core Core, from, to time.Time) (map[string]dayPayload, error) {
	ctx := c.Context()
	meals, err := core.Store.GetMealsInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	schedules, err := core.Store.GetSchedulesInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	timetables, err := core.Store.GetTimetablesInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	payload := make(map[string]dayPayload)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		key := timeutil.DateKey(day)
		entry := dayPayload{
			Meal:      meals[key],
			Schedule:  schedules[key],
			Timetable: canonical.EmptyLessons(core.NumGrades, core.NumClasses),
		}
		if tt, ok := timetables[key]; ok {
			entry.Timetable = tt.Lessons
		}
		payload[key] = entry
	}
	return payload, nil
}

// rangeQuery holds the from/to query parameters for range endpoints.
type rangeQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseDate(fromStr)
	if err != nil {
		return err
	}
	to, err := parseDate(toStr)
	if err != nil {
		return err
	}

	r.From = from
	r.To = to
	return validate.Struct(r)
}

// parseDate accepts ISO calendar dates only.
func parseDate(s string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("invalid date; use YYYY-MM-DD")
	}
	return day, nil
}
