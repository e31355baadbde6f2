// internal/application/service/payment_quote_service.go
package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
)

// NotAvailable is shown in place of an amount that cannot be computed
const NotAvailable = "N/A"

// ErrInvalidAmount is returned for a missing or non-positive bill amount
var ErrInvalidAmount = errors.New("invalid payment amount")

// RateReader is the read side of a rate provider used by consumers
type RateReader interface {
	State() entity.ProviderState
	Convert(amount float64, from, to string) (float64, error)
}

// BankQuote represents a bank transfer amount in the payer's currency
type BankQuote struct {
	AmountUSD     float64  `json:"amount_usd"`
	Currency      string   `json:"currency"`
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	Rate          *float64 `json:"rate,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Display       string   `json:"display"`
	RateInfo      string   `json:"rate_info,omitempty"`
	UsingFallback bool     `json:"using_fallback"`
}

// CryptoQuote represents the cryptocurrency amount that settles a USD bill
type CryptoQuote struct {
	AmountUSD     float64  `json:"amount_usd"`
	Asset         string   `json:"asset"`
	Price         *float64 `json:"price,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Display       string   `json:"display"`
	UsingFallback bool     `json:"using_fallback"`
}

// CryptoOption is one entry of the asset selector
type CryptoOption struct {
	Asset string `json:"asset"`
	Label string `json:"label"`
}

// PaymentQuoteService computes payment amounts from the current rate tables
type PaymentQuoteService struct {
	fiat   RateReader
	crypto RateReader
	logger logger.Logger
}

// NewPaymentQuoteService creates a new quote service
func NewPaymentQuoteService(fiat, crypto RateReader, log logger.Logger) *PaymentQuoteService {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &PaymentQuoteService{
		fiat:   fiat,
		crypto: crypto,
		logger: log,
	}
}

// roundTo rounds v to the given number of decimal places
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func validAmount(amount float64) bool {
	return amount > 0 && !math.IsInf(amount, 0) && !math.IsNaN(amount)
}

// QuoteBankTransfer converts a USD bill into the selected currency. An unusable
// rate yields a quote whose Display is N/A rather than an error.
func (s *PaymentQuoteService) QuoteBankTransfer(amountUSD float64, currency string) (*BankQuote, error) {
	if !validAmount(amountUSD) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amountUSD)
	}

	info, ok := entity.LookupCurrency(currency)
	if !ok || !entity.FiatDomain.Supports(currency) {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnsupportedSymbol, currency)
	}

	state := s.fiat.State()
	quote := &BankQuote{
		AmountUSD:     amountUSD,
		Currency:      info.Code,
		Symbol:        info.Symbol,
		Name:          info.Name,
		Display:       NotAvailable,
		UsingFallback: state.UsingFallback,
	}

	converted, err := s.fiat.Convert(amountUSD, entity.FiatDomain.Base, currency)
	if err != nil {
		s.logger.Warn("Exchange rate unavailable for quote", map[string]interface{}{
			"currency": currency,
			"error":    err.Error(),
		})
		return quote, nil
	}

	rate := state.Table[currency]
	if currency == entity.FiatDomain.Base {
		rate = 1
	}
	converted = roundTo(converted, 2)

	quote.Rate = &rate
	quote.Amount = &converted
	quote.Display = fmt.Sprintf("%s%.2f", info.Symbol, converted)
	if currency != entity.FiatDomain.Base {
		quote.RateInfo = fmt.Sprintf("Exchange rate: 1 %s = %s%.4f", entity.FiatDomain.Base, info.Symbol, rate)
	}

	return quote, nil
}

// QuoteCrypto computes amountUSD / price for the selected asset
func (s *PaymentQuoteService) QuoteCrypto(amountUSD float64, asset string) (*CryptoQuote, error) {
	if !validAmount(amountUSD) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amountUSD)
	}
	if !entity.CryptoDomain.Supports(asset) {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnsupportedSymbol, asset)
	}

	state := s.crypto.State()
	quote := &CryptoQuote{
		AmountUSD:     amountUSD,
		Asset:         asset,
		Display:       NotAvailable,
		UsingFallback: state.UsingFallback,
	}

	amount, err := s.crypto.Convert(amountUSD, entity.CryptoDomain.Base, asset)
	if err != nil {
		s.logger.Warn("Crypto price unavailable for quote", map[string]interface{}{
			"asset": asset,
			"error": err.Error(),
		})
		return quote, nil
	}

	price := state.Table[asset]
	amount = roundTo(amount, 8)

	quote.Price = &price
	quote.Amount = &amount
	quote.Display = fmt.Sprintf("%.8f", amount)

	return quote, nil
}

// CryptoOptions returns selector labels such as "BTC (1 BTC = $35000.00)"
func (s *PaymentQuoteService) CryptoOptions() []CryptoOption {
	table := s.crypto.State().Table
	options := make([]CryptoOption, 0, len(entity.CryptoDomain.Symbols))

	for _, asset := range entity.CryptoDomain.Symbols {
		price := NotAvailable
		if p, err := table.Rate(asset); err == nil {
			price = fmt.Sprintf("%.2f", p)
		}
		options = append(options, CryptoOption{
			Asset: asset,
			Label: fmt.Sprintf("%s (1 %s = $%s)", asset, asset, price),
		})
	}

	return options
}
