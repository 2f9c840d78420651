package source

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyunbridge/hdmeal-backend/internal/canonical"
	"github.com/hyunbridge/hdmeal-backend/internal/fetch"
	"github.com/hyunbridge/hdmeal-backend/internal/timeutil"
)

// waterBatchSize is the number of recent station rows fetched per call.
const waterBatchSize = 5

// SeoulWater fetches recent Han river water temperature measurements from
// the Seoul open-data service.
type SeoulWater struct {
	client  *fetch.Client
	log     *zap.Logger
	baseURL string
	token   string
}

// NewSeoulWater creates the water-temperature adapter.
func NewSeoulWater(client *fetch.Client, log *zap.Logger, token string) *SeoulWater {
	return &SeoulWater{
		client:  client,
		log:     log,
		baseURL: "http://openapi.seoul.go.kr:8088",
		token:   token,
	}
}

type waterRow struct {
	Date string `json:"YMD"`
	Hour string `json:"HR"`
	// The service is not consistent about numeric encoding, so the reading
	// is decoded loosely and coerced afterwards.
	Temperature any `json:"WATT"`
}

// FetchWaterTemperature averages the latest station batch into a single
// snapshot, or returns nil when the batch is empty or unparsable.
func (w *SeoulWater) FetchWaterTemperature(ctx context.Context) (*canonical.WaterTemperatureSnapshot, error) {
	target := fmt.Sprintf("%s/%s/json/WPOSInformationTime/1/%d/", w.baseURL, w.token, waterBatchSize)

	var payload struct {
		Info struct {
			Row []waterRow `json:"row"`
		} `json:"WPOSInformationTime"`
	}
	opts := fetch.Options{Timeout: 5 * time.Second, Retries: 2, Backoff: 500 * time.Millisecond, Label: "seoul.water"}
	if err := w.client.GetJSON(ctx, target, nil, &payload, opts); err != nil {
		return nil, err
	}

	rows := payload.Info.Row
	if len(rows) == 0 {
		return nil, nil
	}

	// The first row is the most recent measurement; its time stamps the
	// whole batch.
	first := rows[0]
	local, err := time.ParseInLocation("20060102 15:04", first.Date+" "+first.Hour, timeutil.KST)
	if err != nil {
		w.log.Warn("water batch has unparsable timestamp",
			zap.String("ymd", first.Date), zap.String("hr", first.Hour))
		return nil, nil
	}

	var sum float64
	var count int
	for _, row := range rows {
		value, ok := toFloat(row.Temperature)
		if !ok {
			continue
		}
		sum += value
		count++
	}
	if count == 0 {
		return nil, nil
	}

	avg := math.Round(sum/float64(count)*100) / 100
	return &canonical.WaterTemperatureSnapshot{
		Timestamp:    local.UTC(),
		TemperatureC: avg,
	}, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
