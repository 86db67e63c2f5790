package testutil

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
)

// ItemOption customizes an item fixture
type ItemOption func(*ledger.InventoryItem)

// Item builds an inventory item with empty day maps and a generated name.
func (f *FixtureFactory) Item(opts ...ItemOption) ledger.InventoryItem {
	f.sequence++
	item := ledger.NewItem()
	item.Name = fmt.Sprintf("Item %03d", f.sequence)
	for _, opt := range opts {
		opt(&item)
	}
	return item
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

// WithItemName sets the item name
func WithItemName(name string) ItemOption {
	return func(it *ledger.InventoryItem) {
		it.Name = name
	}
}

// WithOpening sets the opening balance
func WithOpening(opening float64) ItemOption {
	return func(it *ledger.InventoryItem) {
		it.Opening = ledger.Qty(opening)
	}
}

// WithUnitPrice sets the unit price from a decimal string
func WithUnitPrice(price string) ItemOption {
	return func(it *ledger.InventoryItem) {
		it.UnitPrice = decimal.RequireFromString(price)
	}
}

// WithDispense records a dispense quantity for a day
func WithDispense(day int, qty float64) ItemOption {
	return func(it *ledger.InventoryItem) {
		it.DailyDispense[day] += ledger.Qty(qty)
	}
}

// WithIncoming records a delivery for a day, tagged with its source
func WithIncoming(day int, qty float64, source ledger.Source) ItemOption {
	return func(it *ledger.InventoryItem) {
		it.DailyIncoming[day] += ledger.Qty(qty)
		if source != "" {
			it.IncomingSource[day] = source
		}
	}
}
