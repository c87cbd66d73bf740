// internal/availability/domain.go
package availability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConflict     = errors.New("date range conflicts with an existing reservation")
	ErrInvalidRange = errors.New("invalid date range")
)

// DateLayout is the wire format for all calendar days.
const DateLayout = "2006-01-02"

// DateRange is an inclusive span of calendar days. Both endpoints are
// normalized to midnight UTC.
type DateRange struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// NewDateRange builds an inclusive range. An end before the start is an input
// error, never an empty range.
func NewDateRange(start, end time.Time) (DateRange, error) {
	start = truncateToDay(start)
	end = truncateToDay(end)
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, end.Format(DateLayout), start.Format(DateLayout))
	}
	return DateRange{Start: start, End: end}, nil
}

// ParseDateRange parses two YYYY-MM-DD strings into a range.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: bad start date %q", ErrInvalidRange, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: bad end date %q", ErrInvalidRange, end)
	}
	return NewDateRange(s, e)
}

// Days returns the number of calendar days covered, counting both endpoints.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Overlaps reports whether any day is covered by both ranges.
func (r DateRange) Overlaps(o DateRange) bool {
	return !r.End.Before(o.Start) && !o.End.Before(r.Start)
}

// Contains reports whether the given day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	day = truncateToDay(day)
	return !day.Before(r.Start) && !day.After(r.End)
}

// Dates expands the range into its individual days, formatted and ordered.
func (r DateRange) Dates() []string {
	dates := make([]string, 0, r.Days())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
