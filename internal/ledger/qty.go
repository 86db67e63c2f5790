package ledger

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Qty is a stock quantity as it appears in a monthly document.
// Missing, empty or non-numeric values decode as zero instead of failing.
type Qty float64

// UnmarshalJSON accepts numbers and numeric strings; anything else becomes 0.
func (q *Qty) UnmarshalJSON(b []byte) error {
	*q = 0

	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}

	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}

	*q = parseQty(s)
	return nil
}

// Float returns the quantity as a float64.
func (q Qty) Float() float64 {
	return float64(q)
}

func parseQty(s string) Qty {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return Qty(f)
}

// floorInt floors a summed quantity. Sums are always floored as a whole,
// never per addend.
func floorInt(f float64) int {
	return int(math.Floor(f))
}

// DayMap maps a day of month (1..31) to a quantity.
type DayMap map[int]Qty

// UnmarshalJSON decodes an object keyed by day number. Keys that are not
// integers are dropped; a value that is not an object decodes as an empty map.
func (m *DayMap) UnmarshalJSON(b []byte) error {
	var raw map[string]Qty
	if err := json.Unmarshal(b, &raw); err != nil {
		*m = DayMap{}
		return nil
	}

	out := make(DayMap, len(raw))
	for k, v := range raw {
		day, ok := parseDay(k)
		if !ok {
			continue
		}
		out[day] += v
	}
	*m = out
	return nil
}

// Sum adds every value in the map without rounding.
func (m DayMap) Sum() float64 {
	var total float64
	for _, v := range m {
		total += float64(v)
	}
	return total
}

// Clone returns an independent copy of the map.
func (m DayMap) Clone() DayMap {
	out := make(DayMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func parseDay(key string) (int, bool) {
	day, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, false
	}
	return day, true
}
