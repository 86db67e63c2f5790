package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/testutil"
)

func TestMonthKey(t *testing.T) {
	assert.Equal(t, ledger.MonthKey("2024-01"), ledger.NewMonthKey(2024, 1))
	assert.Equal(t, ledger.MonthKey("2024-11"), ledger.NewMonthKey(2024, 11))

	k := ledger.NewMonthKey(2024, 12)
	assert.Equal(t, 2024, k.Year())
	assert.Equal(t, 12, k.Month())
	assert.Equal(t, ledger.MonthKey("2025-01"), k.Next())
	assert.Equal(t, ledger.MonthKey("2024-11"), k.Prev())
	assert.Equal(t, ledger.MonthKey("2023-12"), ledger.NewMonthKey(2024, 1).Prev())
}

func TestParseMonthKey(t *testing.T) {
	testutil.RunTestCases(t, []testutil.TestCase[string, ledger.MonthKey]{
		{Name: "february", Input: "2024-02", Expected: "2024-02"},
		{Name: "december", Input: "1999-12", Expected: "1999-12"},
		{Name: "month 13", Input: "2024-13", WantErr: true, ErrMsg: "invalid month"},
		{Name: "month 0", Input: "2024-00", WantErr: true},
		{Name: "single digit month", Input: "2024-1", WantErr: true},
		{Name: "letters", Input: "abcd-01", WantErr: true, ErrMsg: "invalid year"},
		{Name: "empty", Input: "", WantErr: true},
	}, ledger.ParseMonthKey)
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, ledger.DaysInMonth(2024, 2))
	assert.Equal(t, 28, ledger.DaysInMonth(2023, 2))
	assert.Equal(t, 31, ledger.DaysInMonth(2024, 12))
	assert.Equal(t, 30, ledger.NewMonthKey(2024, 4).DaysInMonth())
}
