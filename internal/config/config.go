package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// AppConfig holds everything the process needs, loaded from the environment.
type AppConfig struct {
	// NEIS open API credentials and school identity.
	NEISAPIKey     string `validate:"required"`
	NEISOfficeCode string `validate:"required"`
	NEISSchoolCode string `validate:"required"`

	// Grade/class layout used to build dense empty timetables.
	NumGrades  int `validate:"min=1"`
	NumClasses int `validate:"min=1"`

	// KMA village-forecast credentials and grid cell.
	KMAAPIKey string `validate:"required"`
	KMANx     int
	KMANy     int

	// Seoul open-data token for water temperature.
	SeoulDataToken string `validate:"required"`

	// Sqlite database location.
	DBPath string

	// Periodic refresher interval, its per-run timeout, and the rolling
	// window size in days.
	RefreshInterval  time.Duration
	RefreshTimeout   time.Duration
	WindowDaysBefore int
	WindowDaysAfter  int

	// Freshness guard settings.
	SchoolEnsureWait time.Duration
	AuxEnsureWait    time.Duration
	WeatherMaxAge    time.Duration
	WaterTempMaxAge  time.Duration

	// Outbound HTTP client timeout.
	HTTPTimeout time.Duration

	Port  string
	Debug bool
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		NEISAPIKey:     os.Getenv("NEIS_OPENAPI_TOKEN"),
		NEISOfficeCode: os.Getenv("ATPT_OFCDC_SC_CODE"),
		NEISSchoolCode: os.Getenv("SD_SCHUL_CODE"),
		KMAAPIKey:      os.Getenv("KMA_API_KEY"),
		SeoulDataToken: os.Getenv("SEOUL_DATA_TOKEN"),

		NumGrades:  getenvInt("NUM_OF_GRADES", 3),
		NumClasses: getenvInt("NUM_OF_CLASSES", 10),

		KMANx: getenvInt("KMA_NX", 61),
		KMANy: getenvInt("KMA_NY", 125),

		DBPath: getenvDefault("DB_PATH", "hdmeal.db"),

		WindowDaysBefore: getenvInt("SYNC_WINDOW_DAYS_BEFORE", 10),
		WindowDaysAfter:  getenvInt("SYNC_WINDOW_DAYS_AFTER", 10),

		Port:  getenvDefault("PORT", "8080"),
		Debug: getenvDefault("DEBUG", "false") == "true",
	}

	var err error
	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", "3h"); err != nil {
		return nil, err
	}
	if cfg.RefreshTimeout, err = getenvDuration("REFRESH_TIMEOUT", "5m"); err != nil {
		return nil, err
	}
	if cfg.SchoolEnsureWait, err = getenvDuration("SCHOOL_ENSURE_WAIT", "3s"); err != nil {
		return nil, err
	}
	if cfg.AuxEnsureWait, err = getenvDuration("AUX_ENSURE_WAIT", "2s"); err != nil {
		return nil, err
	}
	if cfg.WeatherMaxAge, err = getenvDuration("WEATHER_MAX_AGE", "1h"); err != nil {
		return nil, err
	}
	if cfg.WaterTempMaxAge, err = getenvDuration("WATER_TEMP_MAX_AGE", "76m"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "15s"); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	raw := getenvDefault(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
