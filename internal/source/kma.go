package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyunbridge/hdmeal-backend/internal/canonical"
	"github.com/hyunbridge/hdmeal-backend/internal/fetch"
	"github.com/hyunbridge/hdmeal-backend/internal/timeutil"
)

// baseHours are the KMA village-forecast publication hours, newest first.
// Each batch becomes available roughly ten minutes past the hour.
var baseHours = []int{23, 20, 17, 14, 11, 8, 5, 2}

// KMA fetches the village forecast for one grid cell and reduces it to a
// representative snapshot.
type KMA struct {
	client  *fetch.Client
	log     *zap.Logger
	baseURL string
	apiKey  string
	nx, ny  int

	// now returns the current KST time; overridable in tests.
	now func() time.Time
}

// NewKMA creates the weather adapter for grid cell (nx, ny).
func NewKMA(client *fetch.Client, log *zap.Logger, apiKey string, nx, ny int) *KMA {
	return &KMA{
		client:  client,
		log:     log,
		baseURL: "https://apis.data.go.kr/1360000/VilageFcstInfoService_2.0/getVilageFcst",
		apiKey:  apiKey,
		nx:      nx,
		ny:      ny,
		now:     timeutil.NowKST,
	}
}

type fcstItem struct {
	Category string `json:"category"`
	FcstDate string `json:"fcstDate"`
	FcstTime string `json:"fcstTime"`
	Value    string `json:"fcstValue"`
}

// FetchWeather returns the latest representative forecast snapshot, or nil
// when the batch has nothing usable.
func (k *KMA) FetchWeather(ctx context.Context) (*canonical.WeatherSnapshot, error) {
	now := k.now()
	baseDate, baseTime := selectBase(now)

	params := url.Values{}
	params.Set("serviceKey", k.apiKey)
	params.Set("pageNo", "1")
	params.Set("numOfRows", "1000")
	params.Set("dataType", "JSON")
	params.Set("base_date", baseDate)
	params.Set("base_time", baseTime)
	params.Set("nx", strconv.Itoa(k.nx))
	params.Set("ny", strconv.Itoa(k.ny))

	var payload struct {
		Response struct {
			Header struct {
				ResultCode string `json:"resultCode"`
			} `json:"header"`
			Body struct {
				Items struct {
					Item []fcstItem `json:"item"`
				} `json:"items"`
			} `json:"body"`
		} `json:"response"`
	}
	opts := fetch.Options{Timeout: 10 * time.Second, Retries: 2, Backoff: 500 * time.Millisecond, Label: "kma.weather"}
	if err := k.client.GetJSON(ctx, k.baseURL, params, &payload, opts); err != nil {
		return nil, err
	}

	if code := payload.Response.Header.ResultCode; code != "" && code != "00" {
		k.log.Warn("kma returned error result code", zap.String("result_code", code))
		return nil, nil
	}
	items := payload.Response.Body.Items.Item
	if len(items) == 0 {
		return nil, nil
	}

	rep := pickRepresentative(items, now)
	if rep == nil {
		return nil, nil
	}

	valueAt := func(category string) string {
		for _, item := range items {
			if item.FcstDate == rep.FcstDate && item.FcstTime == rep.FcstTime && item.Category == category {
				return item.Value
			}
		}
		return ""
	}

	// TMN/TMX appear once per day at fixed slots, so scan the whole batch
	// for the representative date.
	tempMin, tempMax := "-", "-"
	for _, item := range items {
		if item.FcstDate != rep.FcstDate {
			continue
		}
		switch item.Category {
		case "TMN":
			tempMin = item.Value
		case "TMX":
			tempMax = item.Value
		}
	}

	local, err := time.ParseInLocation("20060102 1504", rep.FcstDate+" "+rep.FcstTime, timeutil.KST)
	if err != nil {
		k.log.Warn("kma returned unparsable slot", zap.String("date", rep.FcstDate), zap.String("time", rep.FcstTime))
		return nil, nil
	}

	hour, _ := strconv.Atoi(rep.FcstTime[:2])

	return &canonical.WeatherSnapshot{
		Timestamp:         local.UTC(),
		Temp:              rep.Value,
		TempMin:           tempMin,
		TempMax:           tempMax,
		Sky:               mapSky(valueAt("SKY")),
		Pty:               mapPty(valueAt("PTY")),
		PrecipProbability: valueAt("POP"),
		Humidity:          valueAt("REH"),
		FirstHour:         strconv.Itoa(hour),
	}, nil
}

// selectBase picks the most recent published forecast batch as of now (KST).
// Before the day's first batch propagates (02:10) it falls back to
// yesterday's 23:00 batch.
func selectBase(now time.Time) (baseDate, baseTime string) {
	if now.Hour() < 2 || (now.Hour() == 2 && now.Minute() < 10) {
		return now.AddDate(0, 0, -1).Format("20060102"), "2300"
	}

	hour := 2
	for _, h := range baseHours {
		available := time.Date(now.Year(), now.Month(), now.Day(), h, 10, 0, 0, now.Location())
		if !now.Before(available) {
			hour = h
			break
		}
	}
	return now.Format("20060102"), fmt.Sprintf("%02d00", hour)
}

// pickRepresentative chooses the slot summarizing the batch: today's 09:00
// temperature, tomorrow's 09:00 in the evening, else the first temperature
// entry.
func pickRepresentative(items []fcstItem, now time.Time) *fcstItem {
	today := now.Format("20060102")
	tomorrow := now.AddDate(0, 0, 1).Format("20060102")

	for i := range items {
		if items[i].Category == "TMP" && items[i].FcstDate == today && items[i].FcstTime == "0900" {
			return &items[i]
		}
	}
	if now.Hour() >= 17 {
		for i := range items {
			if items[i].Category == "TMP" && items[i].FcstDate == tomorrow && items[i].FcstTime == "0900" {
				return &items[i]
			}
		}
	}
	for i := range items {
		if items[i].Category == "TMP" {
			return &items[i]
		}
	}
	return nil
}

// mapSky translates KMA SKY codes (1 clear, 3 mostly cloudy, 4 overcast).
func mapSky(code string) string {
	switch code {
	case "1":
		return "☀ 맑음"
	case "3":
		return "🌥️ 구름 많음"
	case "4":
		return "☁ 흐림"
	default:
		return "Unknown"
	}
}

// mapPty translates KMA precipitation-type codes.
func mapPty(code string) string {
	switch code {
	case "0":
		return "❌ 없음"
	case "1":
		return "🌧️ 비"
	case "2":
		return "🌨️ 비/눈"
	case "3":
		return "🌨️ 눈"
	case "4":
		return "🚿 소나기"
	default:
		return "⚠ 오류"
	}
}
