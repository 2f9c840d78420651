package timeutil

import "time"

// KST is the Korea Standard Time zone. A fixed offset is used so the binary
// does not depend on the host tzdata; KST has no daylight saving.
var KST = time.FixedZone("KST", 9*60*60)

// NowKST returns the current wall-clock time in KST.
func NowKST() time.Time {
	return time.Now().In(KST)
}

// TodayKST returns today's date in KST, normalized to midnight UTC so it can
// be used directly as a store key.
func TodayKST() time.Time {
	now := NowKST()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats a date as the canonical ISO key used throughout the store.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
