/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Configuration errors - generation cannot proceed without a rate (propagated)
  2. Validation errors - malformed input rejected at the boundary (propagated)
  3. Store errors - missing records and uniqueness conflicts

Only configuration errors and genuine store/I-O failures propagate out of the
engine. Missing households yield zero obligations, conflicts and single-line
failures become entries of the generation report, and a failing optional
status category is omitted from the status view.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrHouseholdNotFound is returned by stores when a household id is unknown.
	ErrHouseholdNotFound = errors.New("household not found")

	// ErrFeePolicyNotFound is returned when a referenced fee policy doesn't exist.
	ErrFeePolicyNotFound = errors.New("fee policy not found")

	// ErrPaymentNotFound is returned when updating a payment id that doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicatePayment is returned by stores when (household, fee, period)
	// already has a payment.
	ErrDuplicatePayment = errors.New("payment already exists for household, fee and period")

	// ErrNoFeePolicies is returned when a category resolves to zero active policies.
	ErrNoFeePolicies = errors.New("no active fee policies")

	ErrInvalidArea     = errors.New("invalid area")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrUnknownCategory = errors.New("unknown fee category")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError reports that generation cannot proceed for a category.
type ConfigurationError struct {
	Category Category
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s fees: %s", e.Category, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrNoFeePolicies
}

// ValidationError describes input rejected at the boundary.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StoreConflictError carries the triple that violated payment uniqueness.
type StoreConflictError struct {
	HouseholdID string
	FeeID       string
	Period      string
}

func (e *StoreConflictError) Error() string {
	return fmt.Sprintf("payment conflict: household %s fee %s period %s", e.HouseholdID, e.FeeID, e.Period)
}

func (e *StoreConflictError) Unwrap() error {
	return ErrDuplicatePayment
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if err is a payment uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicatePayment)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrHouseholdNotFound) ||
		errors.Is(err, ErrFeePolicyNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, ErrInvalidArea) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrUnknownCategory)
}

// IsConfiguration returns true if generation failed for lack of fee policies.
func IsConfiguration(err error) bool {
	var cerr *ConfigurationError
	return errors.As(err, &cerr)
}
