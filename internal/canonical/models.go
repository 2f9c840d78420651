// Package canonical defines the normalized, storage-ready record types shared
// by the source adapters, the store, and the serving layer.
package canonical

import (
	"strconv"
	"time"
)

// MealMenuItem is a single menu line with its extracted allergy codes.
type MealMenuItem struct {
	Name      string `json:"name"`
	Allergies []int  `json:"allergies"`
}

// MealRecord holds one day's meal. Date is the identity key (midnight UTC).
type MealRecord struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	Date       time.Time      `gorm:"uniqueIndex" json:"date"`
	Menus      []MealMenuItem `gorm:"serializer:json" json:"menus"`
	MenusPlain []string       `gorm:"serializer:json" json:"menus_plain"`
	Calories   *float64       `json:"calories,omitempty"`
	SourceHash *string        `json:"source_hash,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (MealRecord) TableName() string { return "meals" }

// ScheduleEntry is one school event with the grades it applies to.
type ScheduleEntry struct {
	Name   string `json:"name"`
	Grades []int  `json:"grades"`
}

// ScheduleRecord holds one day's school schedule. Nil Entries means the
// upstream reported no events for the day.
type ScheduleRecord struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	Date      time.Time       `gorm:"uniqueIndex" json:"date"`
	Entries   []ScheduleEntry `gorm:"serializer:json" json:"entries,omitempty"`
	Summary   *string         `json:"summary,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (ScheduleRecord) TableName() string { return "schedules" }

// Lessons maps grade -> class -> ordered subject list. Keys are normalized
// decimal strings ("1".."N") so the structure serializes cleanly.
type Lessons map[string]map[string][]string

// TimetableRecord holds one day's per-class timetable.
type TimetableRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Date      time.Time `gorm:"uniqueIndex" json:"date"`
	Lessons   Lessons   `gorm:"serializer:json" json:"lessons"`
	CreatedAt time.Time `json:"created_at"`
}

func (TimetableRecord) TableName() string { return "timetables" }

// WeatherSnapshot is one forecast batch's representative slot. Forecast
// values stay in upstream string form; missing min/max are "-".
type WeatherSnapshot struct {
	ID                uint      `gorm:"primaryKey" json:"-"`
	Timestamp         time.Time `gorm:"uniqueIndex" json:"timestamp"`
	Temp              string    `json:"temp"`
	TempMin           string    `json:"temp_min"`
	TempMax           string    `json:"temp_max"`
	Sky               string    `json:"sky"`
	Pty               string    `json:"pty"`
	PrecipProbability string    `json:"precip_probability"`
	Humidity          string    `json:"humidity"`
	FirstHour         string    `json:"first_hour"`
	CreatedAt         time.Time `json:"created_at"`
}

func (WeatherSnapshot) TableName() string { return "weather_snapshots" }

// WaterTemperatureSnapshot is the averaged Han river water temperature for
// one measurement batch.
type WaterTemperatureSnapshot struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Timestamp    time.Time `gorm:"uniqueIndex" json:"timestamp"`
	TemperatureC float64   `json:"temperature_c"`
	CreatedAt    time.Time `json:"created_at"`
}

func (WaterTemperatureSnapshot) TableName() string { return "water_temperatures" }

// EmptyLessons builds the dense grade/class grid with empty subject lists.
// The store never holds placeholder records; serving code uses this to fill
// gaps in range responses.
func EmptyLessons(grades, classes int) Lessons {
	lessons := make(Lessons, grades)
	for grade := 1; grade <= grades; grade++ {
		row := make(map[string][]string, classes)
		for class := 1; class <= classes; class++ {
			row[strconv.Itoa(class)] = []string{}
		}
		lessons[strconv.Itoa(grade)] = row
	}
	return lessons
}
