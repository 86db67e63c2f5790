package ledger

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Policy names the shortage classification a caller asks for.
type Policy string

const (
	// PolicySimple compares stock against the cross-month average consumption.
	PolicySimple Policy = "simple"
	// PolicyGraded grades stock against thresholds derived from this month's daily mean.
	PolicyGraded Policy = "graded"
)

// ParsePolicy maps a query value to a Policy, defaulting to PolicySimple.
func ParsePolicy(s string) (Policy, bool) {
	switch Policy(s) {
	case "", PolicySimple:
		return PolicySimple, true
	case PolicyGraded:
		return PolicyGraded, true
	}
	return "", false
}

// SimpleShortage is a row of the quick shortage list.
type SimpleShortage struct {
	Name               string          `json:"name"`
	CurrentStock       int             `json:"currentStock"`
	AverageConsumption int             `json:"averageConsumption"`
	Shortage           int             `json:"shortage"`
	UnitPrice          decimal.Decimal `json:"unitPrice"`
}

// SimpleShortages lists items whose remaining stock is at or below their
// average monthly consumption, largest shortage first.
func SimpleShortages(items []InventoryItem, history ConsumptionHistory) []SimpleShortage {
	out := make([]SimpleShortage, 0)

	for _, item := range items {
		if item.Name == "" {
			continue
		}

		current := RemainingStock(item)
		avg := history.AverageFor(item.Name)
		if current > avg {
			continue
		}

		out = append(out, SimpleShortage{
			Name:               item.Name,
			CurrentStock:       current,
			AverageConsumption: avg,
			Shortage:           max(0, avg-current),
			UnitPrice:          item.UnitPrice,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Shortage > out[j].Shortage
	})

	return out
}

// Status is the graded stock status.
type Status string

const (
	StatusCritical Status = "critical"
	StatusWarning  Status = "warning"
	StatusNormal   Status = "normal"
)

// Priority is the reorder urgency of a graded shortage.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityNone   Priority = ""
)

func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	}
	return 3
}

// Graded policy floors.
const (
	MinimumStockFloor   = 10
	ReorderPointFloor   = 20
	MinimumStockDays    = 5
	ReorderPointDays    = 10
	unboundedDaysMarker = "unbounded"
)

// DaysLeft is a depletion forecast in days. An item with no daily
// consumption has no forecast and is Unbounded.
type DaysLeft struct {
	Days      int
	Unbounded bool
}

// UnboundedDays is the forecast for an item that is not being consumed.
var UnboundedDays = DaysLeft{Unbounded: true}

// Less orders forecasts ascending with unbounded ones last.
func (d DaysLeft) Less(o DaysLeft) bool {
	if d.Unbounded || o.Unbounded {
		return !d.Unbounded && o.Unbounded
	}
	return d.Days < o.Days
}

// MarshalJSON encodes a number of days, or the string "unbounded".
func (d DaysLeft) MarshalJSON() ([]byte, error) {
	if d.Unbounded {
		return json.Marshal(unboundedDaysMarker)
	}
	return json.Marshal(d.Days)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *DaysLeft) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = UnboundedDays
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = DaysLeft{Days: n}
	return nil
}

// GradedShortage is one item classified by the graded policy.
type GradedShortage struct {
	Name           string          `json:"name"`
	CurrentStock   int             `json:"currentStock"`
	AvgConsumption int             `json:"avgConsumption"`
	MinimumStock   int             `json:"minimumStock"`
	ReorderPoint   int             `json:"reorderPoint"`
	Status         Status          `json:"status"`
	Priority       Priority        `json:"priority,omitempty"`
	SuggestedOrder int             `json:"suggestedOrder"`
	DaysLeft       DaysLeft        `json:"daysLeft"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	EstimatedValue decimal.Decimal `json:"estimatedValue"`
}

// DailyMeanDispense is floor(mean(dailyDispense values)) for the month, or 0
// when nothing was recorded. It is unrelated to the cross-month average.
func DailyMeanDispense(item InventoryItem) int {
	n := len(item.DailyDispense)
	if n == 0 {
		return 0
	}
	return int(math.Floor(item.DailyDispense.Sum() / float64(n)))
}

// ClassifyItem applies the graded policy to a single item.
func ClassifyItem(item InventoryItem) GradedShortage {
	current := RemainingStock(item)
	avg := DailyMeanDispense(item)

	g := GradedShortage{
		Name:           item.Name,
		CurrentStock:   current,
		AvgConsumption: avg,
		MinimumStock:   max(MinimumStockFloor, avg*MinimumStockDays),
		ReorderPoint:   max(ReorderPointFloor, avg*ReorderPointDays),
		UnitPrice:      item.UnitPrice,
		DaysLeft:       UnboundedDays,
	}

	switch {
	case current <= 0:
		g.Status, g.Priority = StatusCritical, PriorityUrgent
		g.SuggestedOrder = g.ReorderPoint
	case current <= g.MinimumStock:
		g.Status, g.Priority = StatusCritical, PriorityHigh
		g.SuggestedOrder = g.ReorderPoint - current
	case current <= g.ReorderPoint:
		g.Status, g.Priority = StatusWarning, PriorityMedium
		g.SuggestedOrder = g.ReorderPoint - current
	default:
		g.Status, g.Priority = StatusNormal, PriorityNone
	}

	if avg > 0 {
		g.DaysLeft = DaysLeft{Days: int(math.Floor(float64(current) / float64(avg)))}
	}

	g.EstimatedValue = decimal.NewFromInt(int64(g.SuggestedOrder)).Mul(item.UnitPrice)
	return g
}

// GradedShortages classifies every named item and returns the non-normal ones
// ordered urgent, high, medium, then by fewest days left.
func GradedShortages(items []InventoryItem) []GradedShortage {
	out := make([]GradedShortage, 0)

	for _, item := range items {
		if item.Name == "" {
			continue
		}
		g := ClassifyItem(item)
		if g.Status == StatusNormal {
			continue
		}
		out = append(out, g)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.rank(), out[j].Priority.rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].DaysLeft.Less(out[j].DaysLeft)
	})

	return out
}

// ShortageSummary aggregates a graded shortage list.
type ShortageSummary struct {
	Urgent              int             `json:"urgent"`
	High                int             `json:"high"`
	Medium              int             `json:"medium"`
	TotalSuggestedOrder int             `json:"totalSuggestedOrder"`
	TotalEstimatedValue decimal.Decimal `json:"totalEstimatedValue"`
}

// Summarize counts shortages per priority and totals their estimated value.
func Summarize(list []GradedShortage) ShortageSummary {
	s := ShortageSummary{TotalEstimatedValue: decimal.Zero}
	for _, g := range list {
		switch g.Priority {
		case PriorityUrgent:
			s.Urgent++
		case PriorityHigh:
			s.High++
		case PriorityMedium:
			s.Medium++
		}
		s.TotalSuggestedOrder += g.SuggestedOrder
		s.TotalEstimatedValue = s.TotalEstimatedValue.Add(g.EstimatedValue)
	}
	return s
}
