// internal/domain/entity/rate_table.go
package entity

import (
	"fmt"
	"math"
	"sort"
)

// RateTable maps a currency or asset symbol to its rate
type RateTable map[string]float64

// validRate reports whether a rate may be used as a divisor or multiplier
func validRate(rate float64) bool {
	return rate > 0 && !math.IsInf(rate, 0) && !math.IsNaN(rate)
}

// Rate returns the usable rate for a symbol
func (t RateTable) Rate(symbol string) (float64, error) {
	rate, ok := t[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no rate for %s", ErrInvalidRate, symbol)
	}
	if !validRate(rate) {
		return 0, fmt.Errorf("%w: %s has rate %v", ErrInvalidRate, symbol, rate)
	}
	return rate, nil
}

// Clone returns an independent copy of the table
func (t RateTable) Clone() RateTable {
	if t == nil {
		return nil
	}
	out := make(RateTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Sanitize returns a copy without unusable entries and the symbols that were dropped
func (t RateTable) Sanitize() (RateTable, []string) {
	out := make(RateTable, len(t))
	var dropped []string
	for k, v := range t {
		if validRate(v) {
			out[k] = v
			continue
		}
		dropped = append(dropped, k)
	}
	sort.Strings(dropped)
	return out, dropped
}

// Symbols returns the table's symbols in sorted order
func (t RateTable) Symbols() []string {
	symbols := make([]string, 0, len(t))
	for k := range t {
		symbols = append(symbols, k)
	}
	sort.Strings(symbols)
	return symbols
}

// Equal reports whether both tables hold the same symbols and rates
func (t RateTable) Equal(other RateTable) bool {
	if len(t) != len(other) {
		return false
	}
	for k, v := range t {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Convert computes amount * rate[to] / rate[from], where rates are expressed as
// units per base. The base symbol resolves to 1.0 when the table omits it.
func (t RateTable) Convert(amount float64, from, to, base string) (float64, error) {
	fromRate, err := t.rateOrBase(from, base)
	if err != nil {
		return 0, err
	}
	toRate, err := t.rateOrBase(to, base)
	if err != nil {
		return 0, err
	}

	if from == to {
		return amount, nil
	}
	if from == base {
		return amount * toRate, nil
	}
	return amount * toRate / fromRate, nil
}

func (t RateTable) rateOrBase(symbol, base string) (float64, error) {
	if _, ok := t[symbol]; !ok && symbol == base && base != "" {
		return 1.0, nil
	}
	return t.Rate(symbol)
}
