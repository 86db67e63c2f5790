package store

import (
	"github.com/shopspring/decimal"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
)

// ItemPatch is a partial item update. Nil fields are left alone; a set day
// map replaces the item's whole map.
type ItemPatch struct {
	Name           *string          `json:"name,omitempty"`
	Opening        *ledger.Qty      `json:"opening,omitempty"`
	UnitPrice      *decimal.Decimal `json:"unitPrice,omitempty"`
	DailyDispense  ledger.DayMap    `json:"dailyDispense,omitempty"`
	DailyIncoming  ledger.DayMap    `json:"dailyIncoming,omitempty"`
	IncomingSource ledger.SourceMap `json:"incomingSource,omitempty"`
	Selected       *bool            `json:"selected,omitempty"`
}

// Apply merges the patch into item
func (p ItemPatch) Apply(item *ledger.InventoryItem) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Opening != nil {
		item.Opening = *p.Opening
	}
	if p.UnitPrice != nil {
		item.UnitPrice = *p.UnitPrice
	}
	if p.DailyDispense != nil {
		item.DailyDispense = p.DailyDispense.Clone()
	}
	if p.DailyIncoming != nil {
		item.DailyIncoming = p.DailyIncoming.Clone()
	}
	if p.IncomingSource != nil {
		item.IncomingSource = p.IncomingSource.Clone()
	}
	if p.Selected != nil {
		item.Selected = *p.Selected
	}
}

// Empty reports whether the patch changes nothing
func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.Opening == nil && p.UnitPrice == nil &&
		p.DailyDispense == nil && p.DailyIncoming == nil && p.IncomingSource == nil &&
		p.Selected == nil
}
