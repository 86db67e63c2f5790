package ledger

// TotalIncoming is the floored sum of every day's incoming quantity.
func TotalIncoming(item InventoryItem) int {
	return floorInt(item.DailyIncoming.Sum())
}

// TotalDispensed is the floored sum of every day's dispensed quantity.
func TotalDispensed(item InventoryItem) int {
	return floorInt(item.DailyDispense.Sum())
}

// RemainingStock returns the item's current balance:
//
//	floor(opening) + floor(Σ incoming) − floor(Σ dispensed)
//
// Each sum is floored once after summation, not per day.
func RemainingStock(item InventoryItem) int {
	return floorInt(item.Opening.Float()) + TotalIncoming(item) - TotalDispensed(item)
}

// SourceTotals buckets a month's incoming stock by source.
type SourceTotals struct {
	Factory  int `json:"factory"`
	Company  int `json:"company"`
	Scissors int `json:"scissors"`
}

// TotalBySource sums dailyIncoming per source tag of the same day. Days with
// no tag, or an unrecognised one, count towards no bucket.
func TotalBySource(item InventoryItem) SourceTotals {
	var factory, company, scissors float64
	for day, qty := range item.DailyIncoming {
		switch item.IncomingSource[day] {
		case SourceFactory:
			factory += qty.Float()
		case SourceCompany:
			company += qty.Float()
		case SourceScissors:
			scissors += qty.Float()
		}
	}

	return SourceTotals{
		Factory:  floorInt(factory),
		Company:  floorInt(company),
		Scissors: floorInt(scissors),
	}
}
