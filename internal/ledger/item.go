package ledger

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// InventoryItem is one row of a pharmacy's monthly stock sheet.
type InventoryItem struct {
	Name           string          `json:"name" validate:"max=200"`
	Opening        Qty             `json:"opening" validate:"gte=0"`
	UnitPrice      decimal.Decimal `json:"unitPrice" validate:"money_nonnegative"`
	DailyDispense  DayMap          `json:"dailyDispense" validate:"day_quantities"`
	DailyIncoming  DayMap          `json:"dailyIncoming" validate:"day_quantities"`
	IncomingSource SourceMap       `json:"incomingSource" validate:"day_sources"`

	// Selected is UI state only and takes no part in any calculation.
	Selected bool `json:"selected"`
}

// NewItem returns a zero-valued item with initialised day maps.
func NewItem() InventoryItem {
	return InventoryItem{
		UnitPrice:      decimal.Zero,
		DailyDispense:  DayMap{},
		DailyIncoming:  DayMap{},
		IncomingSource: SourceMap{},
	}
}

// UnmarshalJSON decodes an item, coercing a malformed unit price to zero.
func (it *InventoryItem) UnmarshalJSON(b []byte) error {
	type plain InventoryItem
	aux := struct {
		*plain
		UnitPrice json.RawMessage `json:"unitPrice"`
	}{plain: (*plain)(it)}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	it.UnitPrice = parsePrice(aux.UnitPrice)
	it.ensureMaps()
	return nil
}

// Clone returns a deep copy of the item.
func (it InventoryItem) Clone() InventoryItem {
	out := it
	out.DailyDispense = it.DailyDispense.Clone()
	out.DailyIncoming = it.DailyIncoming.Clone()
	out.IncomingSource = it.IncomingSource.Clone()
	return out
}

func (it *InventoryItem) ensureMaps() {
	if it.DailyDispense == nil {
		it.DailyDispense = DayMap{}
	}
	if it.DailyIncoming == nil {
		it.DailyIncoming = DayMap{}
	}
	if it.IncomingSource == nil {
		it.IncomingSource = SourceMap{}
	}
}

func parsePrice(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero
		}
	}

	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CloneItems deep-copies a month's item list.
func CloneItems(items []InventoryItem) []InventoryItem {
	if items == nil {
		return nil
	}
	out := make([]InventoryItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
