// internal/domain/entity/errors.go
package entity

import "errors"

var (
	// ErrInvalidRate is returned when a rate is missing, zero, negative or not finite.
	// Callers must render a placeholder instead of a computed amount.
	ErrInvalidRate = errors.New("invalid rate")

	// ErrDegraded marks a response that parsed but reported failure or carried no data
	ErrDegraded = errors.New("degraded response")

	// ErrTransient marks network, HTTP or decoding failures
	ErrTransient = errors.New("transient failure")

	// ErrExhaustedRetries is returned once every attempt of a fetch has failed
	ErrExhaustedRetries = errors.New("retries exhausted")

	ErrUnknownDomain     = errors.New("unknown rate domain")
	ErrUnsupportedSymbol = errors.New("unsupported symbol")
)
