package ledger

// DefaultAverageConsumption is the monthly consumption assumed for an item
// with no recorded history. It is a business policy, not a statistic.
const DefaultAverageConsumption = 10

// ConsumptionRecord is one item's dispensing history across loaded months.
type ConsumptionRecord struct {
	Total   int              `json:"total"`
	Average int              `json:"average"`
	Months  map[MonthKey]int `json:"months"`
}

// ConsumptionHistory is keyed by item name.
type ConsumptionHistory map[string]ConsumptionRecord

// AggregateConsumption folds every month's dispense log into per-name totals
// and averages. Items without a name are skipped.
func AggregateConsumption(snapshots Snapshots) ConsumptionHistory {
	history := make(ConsumptionHistory)

	for key, items := range snapshots {
		for _, item := range items {
			if item.Name == "" {
				continue
			}

			monthTotal := TotalDispensed(item)

			rec, ok := history[item.Name]
			if !ok {
				rec = ConsumptionRecord{Months: make(map[MonthKey]int)}
			}
			rec.Total += monthTotal
			rec.Months[key] = monthTotal
			history[item.Name] = rec
		}
	}

	for name, rec := range history {
		if n := len(rec.Months); n > 0 {
			rec.Average = floorInt(float64(rec.Total) / float64(n))
		}
		history[name] = rec
	}

	return history
}

// AverageFor returns the average monthly consumption for name, or
// DefaultAverageConsumption when no month recorded it.
func (h ConsumptionHistory) AverageFor(name string) int {
	rec, ok := h[name]
	if !ok || len(rec.Months) == 0 {
		return DefaultAverageConsumption
	}
	return rec.Average
}
