package ledger

import (
	"encoding/json"
	"strings"
)

// Source tags where an incoming quantity came from.
type Source string

const (
	SourceFactory  Source = "factory"
	SourceCompany  Source = "company"
	SourceScissors Source = "scissors"
)

// Sources lists the recognised incoming sources in display order.
var Sources = []Source{SourceFactory, SourceCompany, SourceScissors}

// IsValid reports whether s is one of the recognised sources.
func (s Source) IsValid() bool {
	switch s {
	case SourceFactory, SourceCompany, SourceScissors:
		return true
	}
	return false
}

// SourceMap maps a day of month to the source of that day's incoming stock.
type SourceMap map[int]Source

// UnmarshalJSON decodes an object keyed by day number. Non-string values and
// non-integer keys are dropped.
func (m *SourceMap) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		*m = SourceMap{}
		return nil
	}

	out := make(SourceMap, len(raw))
	for k, v := range raw {
		day, ok := parseDay(k)
		if !ok {
			continue
		}
		var tag string
		if err := json.Unmarshal(v, &tag); err != nil {
			continue
		}
		out[day] = Source(strings.TrimSpace(tag))
	}
	*m = out
	return nil
}

// Clone returns an independent copy of the map.
func (m SourceMap) Clone() SourceMap {
	out := make(SourceMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
