package ledger_test

import (
	"testing"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollover(t *testing.T) {
	src := item("Paracetamol", 100, ledger.DayMap{1: 20}, ledger.DayMap{1: 30})
	src.IncomingSource = ledger.SourceMap{1: ledger.SourceCompany}
	src.UnitPrice = mustDecimal(t, "3.20")
	src.Selected = true

	snapshots := ledger.Snapshots{"2024-01": {src}}

	out, next := ledger.Rollover(snapshots, "2024-01")

	assert.Equal(t, ledger.MonthKey("2024-02"), next)
	require.Len(t, out["2024-02"], 1)

	got := out["2024-02"][0]
	assert.Equal(t, "Paracetamol", got.Name)
	assert.Equal(t, ledger.Qty(90), got.Opening)
	assert.Empty(t, got.DailyDispense)
	assert.Empty(t, got.DailyIncoming)
	assert.NotNil(t, got.DailyDispense)
	assert.False(t, got.Selected)
	assert.Equal(t, ledger.SourceMap{1: ledger.SourceCompany}, got.IncomingSource)
	assert.True(t, src.UnitPrice.Equal(got.UnitPrice))

	// input untouched
	assert.Len(t, snapshots, 1)
	assert.True(t, snapshots["2024-01"][0].Selected)
	assert.Equal(t, ledger.DayMap{1: 20}, snapshots["2024-01"][0].DailyIncoming)
	assert.Contains(t, out, ledger.MonthKey("2024-01"))
}

func TestRollover_DecemberWrapsYear(t *testing.T) {
	out, next := ledger.Rollover(ledger.Snapshots{
		"2024-12": {item("A", 1, nil, nil)},
	}, "2024-12")

	assert.Equal(t, ledger.MonthKey("2025-01"), next)
	assert.Len(t, out["2025-01"], 1)
}

func TestRollover_KeepsFractionalBalance(t *testing.T) {
	out, next := ledger.Rollover(ledger.Snapshots{
		"2024-03": {item("Syrup", 10.5, ledger.DayMap{2: 0.25}, ledger.DayMap{3: 1})},
	}, "2024-03")

	assert.InDelta(t, 9.75, out[next][0].Opening.Float(), 1e-9)
}

func TestRollover_Idempotent(t *testing.T) {
	snapshots := ledger.Snapshots{
		"2024-05": {
			item("A", 10, ledger.DayMap{1: 5}, ledger.DayMap{2: 3}),
			item("B", 0, nil, nil),
		},
		"2024-06": {item("stale", 999, nil, nil)},
	}

	first, next := ledger.Rollover(snapshots, "2024-05")
	second, _ := ledger.Rollover(first, "2024-05")

	assert.Equal(t, first[next], second[next])
	require.Len(t, second[next], 2)
	assert.Equal(t, ledger.Qty(12), second[next][0].Opening)
	assert.Equal(t, "stale", snapshots["2024-06"][0].Name)
}

func TestRollover_MissingMonthYieldsEmptyList(t *testing.T) {
	out, next := ledger.Rollover(ledger.Snapshots{}, "2024-07")

	assert.Equal(t, ledger.MonthKey("2024-08"), next)
	assert.NotNil(t, out[next])
	assert.Empty(t, out[next])
}
