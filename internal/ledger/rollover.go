package ledger

// Snapshots holds a pharmacy's item lists keyed by month.
type Snapshots map[MonthKey][]InventoryItem

// RolloverItem seeds next month's row from this month's closing balance.
// The balance is not floored here. Name, unit price and incoming sources
// carry over; day logs are cleared.
func RolloverItem(item InventoryItem) InventoryItem {
	next := item.Clone()
	next.Opening = Qty(item.Opening.Float() + item.DailyIncoming.Sum() - item.DailyDispense.Sum())
	next.DailyDispense = DayMap{}
	next.DailyIncoming = DayMap{}
	next.Selected = false
	return next
}

// RolloverItems applies RolloverItem to a whole month.
func RolloverItems(items []InventoryItem) []InventoryItem {
	out := make([]InventoryItem, len(items))
	for i, item := range items {
		out[i] = RolloverItem(item)
	}
	return out
}

// Rollover returns a copy of snapshots with the month after current replaced
// by the rolled-over items of current. The input is not modified. Calling it
// again for the same month overwrites the next month rather than adding to it.
func Rollover(snapshots Snapshots, current MonthKey) (Snapshots, MonthKey) {
	next := current.Next()

	out := make(Snapshots, len(snapshots)+1)
	for k, v := range snapshots {
		out[k] = v
	}
	out[next] = RolloverItems(snapshots[current])

	return out, next
}

// Clone deep-copies every month.
func (s Snapshots) Clone() Snapshots {
	out := make(Snapshots, len(s))
	for k, v := range s {
		out[k] = CloneItems(v)
	}
	return out
}
