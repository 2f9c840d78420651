package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKSTOffset(t *testing.T) {
	_, offset := time.Date(2024, 3, 4, 0, 0, 0, 0, KST).Zone()
	assert.Equal(t, 9*60*60, offset)
}

func TestTodayKSTIsMidnightUTC(t *testing.T) {
	today := TodayKST()
	assert.Equal(t, time.UTC, today.Location())
	assert.Equal(t, 0, today.Hour())
	assert.Equal(t, 0, today.Minute())

	now := NowKST()
	assert.Equal(t, now.Year(), today.Year())
	assert.Equal(t, now.YearDay(), today.YearDay())
}

func TestDateKey(t *testing.T) {
	assert.Equal(t, "2024-03-04", DateKey(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
}
