// internal/domain/entity/currency.go
package entity

// Currency carries the display metadata of a fiat currency
type Currency struct {
	Code   string `json:"code"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

var currencies = map[string]Currency{
	"USD": {Code: "USD", Symbol: "$", Name: "US Dollar"},
	"EUR": {Code: "EUR", Symbol: "€", Name: "Euro"},
	"GBP": {Code: "GBP", Symbol: "£", Name: "British Pound"},
	"JPY": {Code: "JPY", Symbol: "¥", Name: "Japanese Yen"},
	"CAD": {Code: "CAD", Symbol: "$", Name: "Canadian Dollar"},
	"AUD": {Code: "AUD", Symbol: "$", Name: "Australian Dollar"},
	"CNY": {Code: "CNY", Symbol: "¥", Name: "Chinese Yuan"},
}

// LookupCurrency returns display metadata for a supported fiat currency
func LookupCurrency(code string) (Currency, bool) {
	c, ok := currencies[code]
	return c, ok
}
