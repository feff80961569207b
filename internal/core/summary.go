package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Alert reports a collection whose month-to-date spend crossed the alert threshold.
type Alert struct {
	CollectionName string
	Percent        int
	Spent          decimal.Decimal
	Budget         decimal.Decimal
}

// MonthStart returns local midnight of the first day of t's month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// MonthRange returns [first day of year/month, first day of the next month).
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
