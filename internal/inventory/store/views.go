package store

import "github.com/medflow/pharmacy-ledger/internal/ledger"

// ItemView is an item with its balances for the month
type ItemView struct {
	Index     int                  `json:"index"`
	Item      ledger.InventoryItem `json:"item"`
	Incoming  int                  `json:"incoming"`
	Dispensed int                  `json:"dispensed"`
	Remaining int                  `json:"remaining"`
	BySource  ledger.SourceTotals  `json:"bySource"`
}

// BuildViews derives the view of every item, keeping list order
func BuildViews(items []ledger.InventoryItem) []ItemView {
	views := make([]ItemView, len(items))
	for i, item := range items {
		views[i] = ItemView{
			Index:     i,
			Item:      item,
			Incoming:  ledger.TotalIncoming(item),
			Dispensed: ledger.TotalDispensed(item),
			Remaining: ledger.RemainingStock(item),
			BySource:  ledger.TotalBySource(item),
		}
	}
	return views
}
