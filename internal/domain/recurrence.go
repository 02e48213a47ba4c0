package domain

import (
	"errors"
	"fmt"
	"time"
)

type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceYearly  RecurrenceType = "yearly"
)

// RecurrencePattern describes how an exception's occurrences repeat.
// Exactly one of MaxOccurrences or EndDate may bound the series.
type RecurrencePattern struct {
	Type           RecurrenceType `json:"type"`
	Interval       int            `json:"interval,omitempty"`
	DaysOfWeek     []time.Weekday `json:"days_of_week,omitempty"`
	DayOfMonth     int            `json:"day_of_month,omitempty"`
	MonthOfYear    time.Month     `json:"month_of_year,omitempty"`
	MaxOccurrences *int           `json:"max_occurrences,omitempty"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
}

func (p RecurrencePattern) Validate() error {
	switch p.Type {
	case RecurrenceDaily, RecurrenceWeekly:
	case RecurrenceMonthly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return errors.New("day_of_month must be between 1 and 31")
		}
	case RecurrenceYearly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return errors.New("day_of_month must be between 1 and 31")
		}
		if p.MonthOfYear < time.January || p.MonthOfYear > time.December {
			return errors.New("month_of_year must be between 1 and 12")
		}
	default:
		return fmt.Errorf("unsupported recurrence type %q", p.Type)
	}
	if p.Interval < 0 {
		return errors.New("interval must be at least 1")
	}
	for _, wd := range p.DaysOfWeek {
		if wd < time.Sunday || wd > time.Saturday {
			return errors.New("invalid weekday")
		}
	}
	if p.MaxOccurrences != nil {
		if *p.MaxOccurrences < 1 {
			return errors.New("max_occurrences must be at least 1")
		}
		if p.EndDate != nil {
			return errors.New("max_occurrences and end_date are mutually exclusive")
		}
	}
	return nil
}

// ExpandRecurrence lists the occurrence dates of the pattern anchored at
// anchor, restricted to [windowStart, windowEnd]. All arguments are treated
// as civil dates; time-of-day is ignored. Occurrence counting for
// MaxOccurrences always runs from the anchor, the window only filters which
// dates are returned. A weekly pattern with no weekdays selected matches
// nothing.
func ExpandRecurrence(p RecurrencePattern, anchor, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	interval := p.Interval
	if interval == 0 {
		interval = 1
	}

	start := civilDate(anchor)
	wsDate := civilDate(windowStart)
	weDate := civilDate(windowEnd)
	if p.EndDate != nil && civilDate(*p.EndDate).Before(weDate) {
		weDate = civilDate(*p.EndDate)
	}
	if weDate.Before(start) {
		return nil, nil
	}

	maxCount := -1
	if p.MaxOccurrences != nil {
		maxCount = *p.MaxOccurrences
	}

	var out []time.Time
	emit := func(d time.Time) {
		if !d.Before(wsDate) {
			out = append(out, d)
		}
	}

	count := 0
	switch p.Type {
	case RecurrenceDaily:
		for d := start; !d.After(weDate); d = d.AddDate(0, 0, interval) {
			if maxCount >= 0 && count >= maxCount {
				break
			}
			count++
			emit(d)
		}

	case RecurrenceWeekly:
		if len(p.DaysOfWeek) == 0 {
			return nil, nil
		}
		selected := make(map[time.Weekday]struct{}, len(p.DaysOfWeek))
		for _, wd := range p.DaysOfWeek {
			selected[wd] = struct{}{}
		}
		anchorWeek := mondayDateUTC(start)
		for d := start; !d.After(weDate); d = d.AddDate(0, 0, 1) {
			if _, ok := selected[d.Weekday()]; !ok {
				continue
			}
			weeks := int(mondayDateUTC(d).Sub(anchorWeek) / (7 * 24 * time.Hour))
			if weeks%interval != 0 {
				continue
			}
			if maxCount >= 0 && count >= maxCount {
				break
			}
			count++
			emit(d)
		}

	case RecurrenceMonthly:
		for k := 0; ; k++ {
			monthStart := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, k*interval, 0)
			if monthStart.After(weDate) {
				break
			}
			// Months shorter than the configured day have no occurrence.
			if daysInMonth(monthStart) < p.DayOfMonth {
				continue
			}
			d := monthStart.AddDate(0, 0, p.DayOfMonth-1)
			if d.Before(start) {
				continue
			}
			if d.After(weDate) {
				break
			}
			if maxCount >= 0 && count >= maxCount {
				break
			}
			count++
			emit(d)
		}

	case RecurrenceYearly:
		for year := start.Year(); ; year += interval {
			monthStart := time.Date(year, p.MonthOfYear, 1, 0, 0, 0, 0, time.UTC)
			if monthStart.After(weDate) {
				break
			}
			if daysInMonth(monthStart) < p.DayOfMonth {
				continue
			}
			d := monthStart.AddDate(0, 0, p.DayOfMonth-1)
			if d.Before(start) {
				continue
			}
			if d.After(weDate) {
				break
			}
			if maxCount >= 0 && count >= maxCount {
				break
			}
			count++
			emit(d)
		}
	}

	return out, nil
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysInMonth(monthStart time.Time) int {
	return monthStart.AddDate(0, 1, -1).Day()
}

func mondayDateUTC(t time.Time) time.Time {
	wd := t.Weekday()
	offset := 0
	if wd == time.Sunday {
		offset = 6
	} else {
		offset = int(wd) - 1
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -offset)
}
