package ledger

import (
	"fmt"
	"strconv"
	"time"
)

// MonthKey identifies one monthly snapshot, formatted "{year}-{2-digit month}".
type MonthKey string

// NewMonthKey builds the key for the given year and month (1..12).
func NewMonthKey(year, month int) MonthKey {
	return MonthKey(fmt.Sprintf("%d-%02d", year, month))
}

// ParseMonthKey validates s and returns it as a MonthKey.
func ParseMonthKey(s string) (MonthKey, error) {
	year, month, err := splitMonthKey(s)
	if err != nil {
		return "", err
	}
	return NewMonthKey(year, month), nil
}

// Year returns the key's year, or 0 if the key is malformed.
func (k MonthKey) Year() int {
	year, _, err := splitMonthKey(string(k))
	if err != nil {
		return 0
	}
	return year
}

// Month returns the key's month (1..12), or 0 if the key is malformed.
func (k MonthKey) Month() int {
	_, month, err := splitMonthKey(string(k))
	if err != nil {
		return 0
	}
	return month
}

// Next returns the following month, wrapping December into January of the next year.
func (k MonthKey) Next() MonthKey {
	year, month := k.Year(), k.Month()
	if month == 12 {
		return NewMonthKey(year+1, 1)
	}
	return NewMonthKey(year, month+1)
}

// Prev returns the preceding month, wrapping January into December of the previous year.
func (k MonthKey) Prev() MonthKey {
	year, month := k.Year(), k.Month()
	if month == 1 {
		return NewMonthKey(year-1, 12)
	}
	return NewMonthKey(year, month-1)
}

// DaysInMonth returns the number of days in the key's month.
func (k MonthKey) DaysInMonth() int {
	return DaysInMonth(k.Year(), k.Month())
}

func (k MonthKey) String() string {
	return string(k)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func splitMonthKey(s string) (int, int, error) {
	if len(s) < 6 || s[len(s)-3] != '-' {
		return 0, 0, fmt.Errorf("invalid month key %q: expected YYYY-MM", s)
	}

	year, err := strconv.Atoi(s[:len(s)-3])
	if err != nil || year < 1 {
		return 0, 0, fmt.Errorf("invalid year in month key %q", s)
	}

	month, err := strconv.Atoi(s[len(s)-2:])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month in month key %q", s)
	}

	return year, month, nil
}
