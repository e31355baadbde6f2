// internal/domain/entity/outcome.go
package entity

import "fmt"

// OutcomeKind classifies a single fetch attempt
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeDegraded         OutcomeKind = "degraded"
	OutcomeTransientFailure OutcomeKind = "transient_failure"
)

// FetchOutcome is the tagged result of one attempt against a rate endpoint.
// Table and Live are only meaningful for OutcomeSuccess.
type FetchOutcome struct {
	Kind   OutcomeKind
	Table  RateTable
	Live   bool
	Reason string
}

// Success builds a successful outcome
func Success(table RateTable, live bool) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, Table: table, Live: live}
}

// Degraded builds an outcome for a parseable response that signalled failure or was empty
func Degraded(reason string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeDegraded, Reason: reason}
}

// TransientFailure builds an outcome for network, HTTP or decoding errors
func TransientFailure(reason string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeTransientFailure, Reason: reason}
}

// IsSuccess reports whether the attempt produced a table
func (o FetchOutcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}

// Err returns nil for a success and a wrapped sentinel error otherwise
func (o FetchOutcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeDegraded:
		return fmt.Errorf("%w: %s", ErrDegraded, o.Reason)
	default:
		return fmt.Errorf("%w: %s", ErrTransient, o.Reason)
	}
}
