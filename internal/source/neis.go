// Package source contains the upstream adapters. Each adapter calls its
// endpoints through the fetch client and normalizes the payload into
// canonical records; structurally broken payloads yield empty results, not
// errors.
package source

import (
	"context"
	_ "embed"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyunbridge/hdmeal-backend/internal/canonical"
	"github.com/hyunbridge/hdmeal-backend/internal/fetch"
	"github.com/hyunbridge/hdmeal-backend/internal/timeutil"
)

// saturdayClosure is double-reported by NEIS as both a schedule event and a
// timetable subject; both adapters drop it.
const saturdayClosure = "토요휴업일"

//go:embed delicious.txt
var deliciousRaw string

// deliciousKeywords marks menu names worth highlighting.
var deliciousKeywords = func() []string {
	var keywords []string
	for _, line := range strings.Split(deliciousRaw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			keywords = append(keywords, line)
		}
	}
	return keywords
}()

var (
	allergyPattern  = regexp.MustCompile(`([0-9]+)\.`)
	trailingMarkers = regexp.MustCompile(`[ #&*-.=@_]+$`)
)

// NEIS fetches meals, schedules and timetables from the NEIS open API.
type NEIS struct {
	client     *fetch.Client
	log        *zap.Logger
	baseURL    string
	apiKey     string
	officeCode string
	schoolCode string
	pageSize   int
}

// NewNEIS creates the school-data adapter.
func NewNEIS(client *fetch.Client, log *zap.Logger, apiKey, officeCode, schoolCode string) *NEIS {
	return &NEIS{
		client:     client,
		log:        log,
		baseURL:    "https://open.neis.go.kr/hub",
		apiKey:     apiKey,
		officeCode: officeCode,
		schoolCode: schoolCode,
		pageSize:   1000,
	}
}

func (n *NEIS) baseParams() url.Values {
	params := url.Values{}
	params.Set("KEY", n.apiKey)
	params.Set("Type", "json")
	params.Set("ATPT_OFCDC_SC_CODE", n.officeCode)
	params.Set("SD_SCHUL_CODE", n.schoolCode)
	return params
}

func (n *NEIS) fetchOpts(label string) fetch.Options {
	return fetch.Options{
		Timeout: 10 * time.Second,
		Retries: 2,
		Backoff: 500 * time.Millisecond,
		Label:   label,
	}
}

type mealRow struct {
	Date     string `json:"MLSV_YMD"`
	Dishes   string `json:"DDISH_NM"`
	Calories string `json:"CAL_INFO"`
}

// FetchMeals returns the meal records for [start, end], keyed by ISO date.
func (n *NEIS) FetchMeals(ctx context.Context, start, end time.Time) (map[string]*canonical.MealRecord, error) {
	params := n.baseParams()
	params.Set("MMEAL_SC_CODE", "2")
	params.Set("MLSV_FROM_YMD", start.Format("20060102"))
	params.Set("MLSV_TO_YMD", end.Format("20060102"))

	var payload struct {
		Blocks []struct {
			Row []mealRow `json:"row"`
		} `json:"mealServiceDietInfo"`
	}
	if err := n.client.GetJSON(ctx, n.baseURL+"/mealServiceDietInfo", params, &payload, n.fetchOpts("neis.meals")); err != nil {
		return nil, err
	}

	records := make(map[string]*canonical.MealRecord)
	if len(payload.Blocks) < 2 {
		return records, nil
	}

	for _, row := range payload.Blocks[1].Row {
		day, err := time.Parse("20060102", row.Date)
		if err != nil {
			n.log.Warn("skipping meal row with bad date", zap.String("date", row.Date))
			continue
		}

		var menus []canonical.MealMenuItem
		var plain []string
		lines := strings.Split(strings.ReplaceAll(row.Dishes, "<br/>", "\n"), "\n")
		for _, line := range lines {
			item, ok := parseMenuLine(line)
			if !ok {
				continue
			}
			menus = append(menus, item)
			plain = append(plain, item.Name)
		}

		records[timeutil.DateKey(day)] = &canonical.MealRecord{
			Date:       day,
			Menus:      menus,
			MenusPlain: plain,
			Calories:   parseCalories(row.Calories),
		}
	}
	return records, nil
}

// parseMenuLine extracts allergy codes from one menu line and cleans the
// display name. Codes outside [1,18] are stripped from the name but not
// treated as allergy markers.
func parseMenuLine(line string) (canonical.MealMenuItem, bool) {
	allergies := []int{}
	for _, match := range allergyPattern.FindAllStringSubmatch(line, -1) {
		code, err := strconv.Atoi(match[1])
		if err == nil && code >= 1 && code <= 18 {
			allergies = append(allergies, code)
		}
	}

	cleaned := allergyPattern.ReplaceAllString(line, "")
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, "()", ""))
	cleaned = trailingMarkers.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return canonical.MealMenuItem{}, false
	}

	for _, keyword := range deliciousKeywords {
		if strings.Contains(cleaned, keyword) {
			cleaned = "⭐" + cleaned
			break
		}
	}
	return canonical.MealMenuItem{Name: cleaned, Allergies: allergies}, true
}

// parseCalories parses the "<number> Kcal" field; anything else is nil.
func parseCalories(raw string) *float64 {
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(raw, " Kcal", "")), 64)
	if err != nil {
		return nil
	}
	return &value
}

type scheduleRow struct {
	Date   string `json:"AA_YMD"`
	Event  string `json:"EVENT_NM"`
	Grade1 string `json:"ONE_GRADE_EVENT_YN"`
	Grade2 string `json:"TW_GRADE_EVENT_YN"`
	Grade3 string `json:"THREE_GRADE_EVENT_YN"`
	Grade4 string `json:"FR_GRADE_EVENT_YN"`
	Grade5 string `json:"FIV_GRADE_EVENT_YN"`
	Grade6 string `json:"SIX_GRADE_EVENT_YN"`
}

func (r scheduleRow) grades() []int {
	flags := []string{r.Grade1, r.Grade2, r.Grade3, r.Grade4, r.Grade5, r.Grade6}
	grades := []int{}
	for i, flag := range flags {
		if flag == "Y" {
			grades = append(grades, i+1)
		}
	}
	return grades
}

// FetchSchedules returns the schedule records for [start, end], keyed by ISO
// date. Saturday-closure rows are dropped.
func (n *NEIS) FetchSchedules(ctx context.Context, start, end time.Time) (map[string]*canonical.ScheduleRecord, error) {
	params := n.baseParams()
	params.Set("AA_FROM_YMD", start.Format("20060102"))
	params.Set("AA_TO_YMD", end.Format("20060102"))

	var payload struct {
		Blocks []struct {
			Row []scheduleRow `json:"row"`
		} `json:"SchoolSchedule"`
	}
	if err := n.client.GetJSON(ctx, n.baseURL+"/SchoolSchedule", params, &payload, n.fetchOpts("neis.schedule")); err != nil {
		return nil, err
	}

	records := make(map[string]*canonical.ScheduleRecord)
	if len(payload.Blocks) < 2 {
		return records, nil
	}

	grouped := make(map[string][]canonical.ScheduleEntry)
	dates := make(map[string]time.Time)
	for _, row := range payload.Blocks[1].Row {
		if row.Event == saturdayClosure {
			continue
		}
		day, err := time.Parse("20060102", row.Date)
		if err != nil {
			n.log.Warn("skipping schedule row with bad date", zap.String("date", row.Date))
			continue
		}
		key := timeutil.DateKey(day)
		grouped[key] = append(grouped[key], canonical.ScheduleEntry{
			Name:   strings.TrimSpace(row.Event),
			Grades: row.grades(),
		})
		dates[key] = day
	}

	for key, entries := range grouped {
		summary := summarizeSchedule(entries)
		record := &canonical.ScheduleRecord{Date: dates[key], Entries: entries}
		if summary != "" {
			record.Summary = &summary
		}
		records[key] = record
	}
	return records, nil
}

// summarizeSchedule renders one line per event, with a grade suffix like
// "(1학년, 2학년)" when grades apply.
func summarizeSchedule(entries []canonical.ScheduleEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		suffix := ""
		if len(entry.Grades) > 0 {
			labels := make([]string, len(entry.Grades))
			for i, grade := range entry.Grades {
				labels[i] = strconv.Itoa(grade) + "학년"
			}
			suffix = "(" + strings.Join(labels, ", ") + ")"
		}
		lines = append(lines, entry.Name+suffix)
	}
	return strings.ReplaceAll(strings.Join(lines, "\n"), "()", "")
}

type timetableRow struct {
	Date    string `json:"ALL_TI_YMD"`
	Grade   string `json:"GRADE"`
	Class   string `json:"CLASS_NM"`
	Subject string `json:"ITRT_CNTNT"`
}

// FetchTimetables returns the timetable records for [start, end], keyed by
// ISO date. The endpoint is paginated; a short page ends the loop.
func (n *NEIS) FetchTimetables(ctx context.Context, start, end time.Time) (map[string]*canonical.TimetableRecord, error) {
	params := n.baseParams()
	params.Set("pSize", strconv.Itoa(n.pageSize))
	params.Set("TI_FROM_YMD", start.Format("20060102"))
	params.Set("TI_TO_YMD", end.Format("20060102"))

	lessons := make(map[string]canonical.Lessons)
	dates := make(map[string]time.Time)

	for page := 1; ; page++ {
		pageParams := url.Values{}
		for key, values := range params {
			pageParams[key] = values
		}
		pageParams.Set("pIndex", strconv.Itoa(page))

		var payload struct {
			Blocks []struct {
				Row []timetableRow `json:"row"`
			} `json:"hisTimetable"`
		}
		if err := n.client.GetJSON(ctx, n.baseURL+"/hisTimetable", pageParams, &payload, n.fetchOpts("neis.timetable")); err != nil {
			return nil, err
		}
		if len(payload.Blocks) < 2 {
			break
		}
		rows := payload.Blocks[1].Row
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if row.Class == "" || row.Subject == "" || row.Subject == saturdayClosure || row.Grade == "" {
				continue
			}
			grade, err := strconv.Atoi(strings.TrimSpace(row.Grade))
			if err != nil {
				continue
			}
			class, err := strconv.Atoi(strings.TrimSpace(row.Class))
			if err != nil {
				continue
			}
			day, err := time.Parse("20060102", row.Date)
			if err != nil {
				continue
			}

			key := timeutil.DateKey(day)
			if _, ok := lessons[key]; !ok {
				lessons[key] = make(canonical.Lessons)
				dates[key] = day
			}
			gradeKey := strconv.Itoa(grade)
			classKey := strconv.Itoa(class)
			if _, ok := lessons[key][gradeKey]; !ok {
				lessons[key][gradeKey] = make(map[string][]string)
			}
			lessons[key][gradeKey][classKey] = append(lessons[key][gradeKey][classKey], row.Subject)
		}

		if len(rows) < n.pageSize {
			break
		}
	}

	records := make(map[string]*canonical.TimetableRecord, len(lessons))
	for key, dayLessons := range lessons {
		records[key] = &canonical.TimetableRecord{Date: dates[key], Lessons: dayLessons}
	}
	return records, nil
}
