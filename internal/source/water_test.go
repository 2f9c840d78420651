package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyunbridge/hdmeal-backend/internal/fetch"
)

func newTestSeoulWater(t *testing.T, handler http.Handler) *SeoulWater {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := fetch.New(srv.Client(), zap.NewNop())
	adapter := NewSeoulWater(client, zap.NewNop(), "token")
	adapter.baseURL = srv.URL
	return adapter
}

func TestFetchWaterTemperatureAveragesParsableRows(t *testing.T) {
	adapter := newTestSeoulWater(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token/json/WPOSInformationTime/1/5/", r.URL.Path)
		w.Write([]byte(`{"WPOSInformationTime": {"row": [
			{"YMD": "20240304", "HR": "14:00", "WATT": 18.0},
			{"YMD": "20240304", "HR": "14:00", "WATT": "19.0"},
			{"YMD": "20240304", "HR": "14:00", "WATT": "n/a"},
			{"YMD": "20240304", "HR": "14:00", "WATT": 20.0}
		]}}`))
	}))

	snapshot, err := adapter.FetchWaterTemperature(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.InDelta(t, 19.0, snapshot.TemperatureC, 0.001)
	// 14:00 KST is 05:00 UTC.
	assert.Equal(t, time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC), snapshot.Timestamp)
}

func TestFetchWaterTemperatureRoundsToTwoDecimals(t *testing.T) {
	adapter := newTestSeoulWater(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"WPOSInformationTime": {"row": [
			{"YMD": "20240304", "HR": "14:00", "WATT": 18.1},
			{"YMD": "20240304", "HR": "14:00", "WATT": 18.2},
			{"YMD": "20240304", "HR": "14:00", "WATT": 18.2}
		]}}`))
	}))

	snapshot, err := adapter.FetchWaterTemperature(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 18.17, snapshot.TemperatureC)
}

func TestFetchWaterTemperatureEmptyBatch(t *testing.T) {
	adapter := newTestSeoulWater(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"WPOSInformationTime": {"row": []}}`))
	}))

	snapshot, err := adapter.FetchWaterTemperature(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestFetchWaterTemperatureAllUnparsable(t *testing.T) {
	adapter := newTestSeoulWater(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"WPOSInformationTime": {"row": [
			{"YMD": "20240304", "HR": "14:00", "WATT": "점검중"},
			{"YMD": "20240304", "HR": "14:00", "WATT": null}
		]}}`))
	}))

	snapshot, err := adapter.FetchWaterTemperature(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestFetchWaterTemperatureBadTimestamp(t *testing.T) {
	adapter := newTestSeoulWater(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"WPOSInformationTime": {"row": [
			{"YMD": "oops", "HR": "14:00", "WATT": 18.0}
		]}}`))
	}))

	snapshot, err := adapter.FetchWaterTemperature(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestToFloat(t *testing.T) {
	value, ok := toFloat(18.5)
	require.True(t, ok)
	assert.Equal(t, 18.5, value)

	value, ok = toFloat("19.25")
	require.True(t, ok)
	assert.Equal(t, 19.25, value)

	_, ok = toFloat("n/a")
	assert.False(t, ok)
	_, ok = toFloat(nil)
	assert.False(t, ok)
}
