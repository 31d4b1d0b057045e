package service

import (
	"time"

	"pos-service/internal/store"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days in a location
type DateRange struct {
	Start time.Time
	End   time.Time
}

// TimeRange converts the calendar days to instants: midnight of Start up to,
// but excluding, midnight after End.
func (r DateRange) TimeRange() store.TimeRange {
	from := r.Start
	to := r.End.AddDate(0, 0, 1)
	return store.TimeRange{From: &from, To: &to}
}

func (r DateRange) StartDate() string { return r.Start.Format(dateLayout) }
func (r DateRange) EndDate() string   { return r.End.Format(dateLayout) }

// parseDate reads a YYYY-MM-DD value as midnight in loc
func parseDate(value string, loc *time.Location) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// OrderFilter builds the optional date filter of the order list. Missing or
// malformed bounds are left open.
func OrderFilter(startDate, endDate string, loc *time.Location) store.TimeRange {
	var r store.TimeRange
	if start, ok := parseDate(startDate, loc); ok {
		r.From = &start
	}
	if end, ok := parseDate(endDate, loc); ok {
		next := end.AddDate(0, 0, 1)
		r.To = &next
	}
	return r
}

// ReportRange resolves the reporting period. It defaults to the trailing
// defaultDays ending today; malformed bounds fall back to those defaults.
func ReportRange(startDate, endDate string, now time.Time, loc *time.Location, defaultDays int) DateRange {
	end := midnight(now, loc)
	start := end.AddDate(0, 0, -defaultDays)

	if t, ok := parseDate(startDate, loc); ok {
		start = t
	}
	if t, ok := parseDate(endDate, loc); ok {
		end = t
	}
	return DateRange{Start: start, End: end}
}

// Today is the range covering the current calendar day
func Today(now time.Time, loc *time.Location) DateRange {
	day := midnight(now, loc)
	return DateRange{Start: day, End: day}
}
