// internal/domain/entity/domain.go
package entity

import (
	"fmt"
	"strings"
)

// QuoteKind describes how a domain's table expresses its values
type QuoteKind string

const (
	// QuoteUnitsPerBase tables hold how many units of a symbol one base unit buys (fiat)
	QuoteUnitsPerBase QuoteKind = "units_per_base"
	// QuotePricePerUnit tables hold the base price of one unit of a symbol (crypto)
	QuotePricePerUnit QuoteKind = "price_per_unit"
)

// Domain describes one family of rates with its own endpoint payload and fallback table
type Domain struct {
	Name       string
	Base       string
	Symbols    []string
	PayloadKey string
	Quote      QuoteKind
	fallback   RateTable
}

var (
	// CryptoDomain holds USD prices of the supported cryptocurrencies
	CryptoDomain = Domain{
		Name:       "crypto",
		Base:       "USD",
		Symbols:    []string{"BTC", "ETH", "USDC", "USDT"},
		PayloadKey: "prices",
		Quote:      QuotePricePerUnit,
		fallback: RateTable{
			"BTC":  35000.00,
			"ETH":  1800.00,
			"USDC": 1.00,
			"USDT": 1.00,
		},
	}

	// FiatDomain holds exchange rates against USD
	FiatDomain = Domain{
		Name:       "fiat",
		Base:       "USD",
		Symbols:    []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CNY"},
		PayloadKey: "rates",
		Quote:      QuoteUnitsPerBase,
		fallback: RateTable{
			"USD": 1.0,
			"EUR": 0.85,
			"GBP": 0.73,
			"JPY": 110.0,
			"CAD": 1.25,
			"AUD": 1.35,
			"CNY": 6.45,
		},
	}
)

// DomainByName looks up one of the built-in domains
func DomainByName(name string) (Domain, error) {
	switch strings.ToLower(name) {
	case CryptoDomain.Name:
		return CryptoDomain, nil
	case FiatDomain.Name:
		return FiatDomain, nil
	default:
		return Domain{}, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
}

// FallbackTable returns a fresh copy of the domain's built-in table
func (d Domain) FallbackTable() RateTable {
	return d.fallback.Clone()
}

// Supports reports whether symbol belongs to the domain's supported set
func (d Domain) Supports(symbol string) bool {
	for _, s := range d.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// AlternatePayloadKey is the payload key used by the other domain
func (d Domain) AlternatePayloadKey() string {
	if d.PayloadKey == "prices" {
		return "rates"
	}
	return "prices"
}

// Convert converts amount between two symbols of this domain's table. Price tables
// are inverted so that both kinds follow amount * rate[to] / rate[from].
func (d Domain) Convert(table RateTable, amount float64, from, to string) (float64, error) {
	if d.Quote != QuotePricePerUnit {
		return table.Convert(amount, from, to, d.Base)
	}

	inverted := make(RateTable, len(table))
	for symbol, price := range table {
		if validRate(price) {
			inverted[symbol] = 1 / price
		} else {
			inverted[symbol] = price
		}
	}
	if from == to {
		// keep identity exact rather than going through 1/price twice
		if _, err := table.rateOrBase(from, d.Base); err != nil {
			return 0, err
		}
		return amount, nil
	}
	return inverted.Convert(amount, from, to, d.Base)
}
