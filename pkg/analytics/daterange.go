package analytics

import (
	"time"

	"github.com/platinummonkey/tally/pkg/validation"
)

const (
	dayLayout = "2006-01-02"
	// DefaultRangeDays is how far back a summary looks when no start date is given
	DefaultRangeDays = 7
)

// DateRange is an inclusive time range in UTC
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange normalises optional start and end dates to whole UTC days.
// A missing end means today; a missing start means days before the end.
func ParseDateRange(startDate, endDate string, now time.Time, days int) (DateRange, error) {
	if days <= 0 {
		days = DefaultRangeDays
	}

	end := now.UTC()
	if endDate != "" {
		t, err := validation.ParseISO8601(endDate)
		if err != nil {
			return DateRange{}, ErrInvalidEndDate
		}
		end = t.UTC()
	}
	end = endOfDay(end)

	start := startOfDay(end.AddDate(0, 0, -days))
	if startDate != "" {
		t, err := validation.ParseISO8601(startDate)
		if err != nil {
			return DateRange{}, ErrInvalidStartDate
		}
		start = startOfDay(t.UTC())
	}

	if start.After(end) {
		return DateRange{}, ErrInvalidDateRange
	}
	return DateRange{Start: start, End: end}, nil
}

// DayRange covers one whole UTC day
func DayRange(day time.Time) DateRange {
	return DateRange{Start: startOfDay(day.UTC()), End: endOfDay(day.UTC())}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(24*time.Hour - time.Millisecond)
}
