package payout

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Granularity selects the length of a reporting period
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
	GranularityAll   Granularity = "all"
)

// IsValid checks if the granularity is known
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth, GranularityYear, GranularityAll:
		return true
	}
	return false
}

// AllGranularities returns every granularity from finest to coarsest
func AllGranularities() []Granularity {
	return []Granularity{GranularityDay, GranularityWeek, GranularityMonth, GranularityYear, GranularityAll}
}

// AllTimeKey is the period key that covers every order
const AllTimeKey = "all"

// Period is a half-open time range [Start, End) identified by Key.
// Keys: "all", "2024", "2024-06", "2024-W23" (ISO week), "2024-06-15".
type Period struct {
	Granularity Granularity
	Key         string
	Start       time.Time
	End         time.Time
}

// AllTime returns the unbounded period
func AllTime() Period {
	return Period{Granularity: GranularityAll, Key: AllTimeKey}
}

// IsAllTime reports whether the period is unbounded
func (p Period) IsAllTime() bool {
	return p.Granularity == GranularityAll
}

// Contains reports whether t falls inside the period
func (p Period) Contains(t time.Time) bool {
	if p.IsAllTime() {
		return true
	}
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) String() string {
	return p.Key
}

// PeriodOf returns the period of granularity g that contains t, with
// boundaries computed in loc (UTC when nil).
func PeriodOf(g Granularity, t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)

	switch g {
	case GranularityDay:
		return Period{Granularity: g, Key: day.Format("2006-01-02"), Start: day, End: day.AddDate(0, 0, 1)}
	case GranularityWeek:
		start := day.AddDate(0, 0, -daysSinceMonday(day))
		year, week := start.ISOWeek()
		return Period{Granularity: g, Key: weekKey(year, week), Start: start, End: start.AddDate(0, 0, 7)}
	case GranularityMonth:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		return Period{Granularity: g, Key: start.Format("2006-01"), Start: start, End: start.AddDate(0, 1, 0)}
	case GranularityYear:
		start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return Period{Granularity: g, Key: start.Format("2006"), Start: start, End: start.AddDate(1, 0, 0)}
	default:
		return AllTime()
	}
}

// ParsePeriod resolves a period key into its boundaries in loc (UTC when nil).
func ParsePeriod(key string, loc *time.Location) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	key = strings.TrimSpace(key)

	switch {
	case key == "":
		return Period{}, newInvalidPeriodError(key, "period is required")
	case strings.EqualFold(key, AllTimeKey):
		return AllTime(), nil
	case strings.Contains(key, "-W"):
		return parseWeek(key, loc)
	case len(key) == len("2006-01-02"):
		d, err := time.ParseInLocation("2006-01-02", key, loc)
		if err != nil {
			return Period{}, newInvalidPeriodError(key, "expected YYYY-MM-DD")
		}
		return PeriodOf(GranularityDay, d, loc), nil
	case len(key) == len("2006-01"):
		d, err := time.ParseInLocation("2006-01", key, loc)
		if err != nil {
			return Period{}, newInvalidPeriodError(key, "expected YYYY-MM")
		}
		return PeriodOf(GranularityMonth, d, loc), nil
	case len(key) == len("2006"):
		d, err := time.ParseInLocation("2006", key, loc)
		if err != nil {
			return Period{}, newInvalidPeriodError(key, "expected YYYY")
		}
		return PeriodOf(GranularityYear, d, loc), nil
	}
	return Period{}, newInvalidPeriodError(key, "unrecognised period format")
}

func parseWeek(key string, loc *time.Location) (Period, error) {
	yearPart, weekPart, ok := strings.Cut(key, "-W")
	if !ok || len(yearPart) != 4 || len(weekPart) != 2 {
		return Period{}, newInvalidPeriodError(key, "expected YYYY-Www")
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil {
		return Period{}, newInvalidPeriodError(key, "expected YYYY-Www")
	}
	week, err := strconv.Atoi(weekPart)
	if err != nil || week < 1 || week > 53 {
		return Period{}, newInvalidPeriodError(key, "week must be between 01 and 53")
	}

	// ISO week 1 is the week containing January 4th.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	start := jan4.AddDate(0, 0, -daysSinceMonday(jan4)+(week-1)*7)
	if y, w := start.ISOWeek(); y != year || w != week {
		return Period{}, newInvalidPeriodError(key, fmt.Sprintf("year %d has no week %d", year, week))
	}
	return Period{Granularity: GranularityWeek, Key: weekKey(year, week), Start: start, End: start.AddDate(0, 0, 7)}, nil
}

func daysSinceMonday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func weekKey(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}
