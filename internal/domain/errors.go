package domain

import (
	"errors"
	"fmt"
)

// ErrorCategory is the closed set of failure causes carried by outcomes and
// events. Categories are stable wire strings; extend only deliberately.
type ErrorCategory string

const (
	CategoryInputInvalid       ErrorCategory = "input_invalid"
	CategoryCapitalDenied      ErrorCategory = "capital_denied"
	CategoryRegimeDenied       ErrorCategory = "regime_denied"
	CategoryPermissionDenied   ErrorCategory = "permission_denied"
	CategoryRiskDenied         ErrorCategory = "risk_denied"
	CategoryAdapterTransient   ErrorCategory = "adapter_transient"
	CategoryAdapterPermanent   ErrorCategory = "adapter_permanent"
	CategoryNoMarketData       ErrorCategory = "no_market_data"
	CategoryTimeout            ErrorCategory = "timeout"
	CategoryConfidenceGate     ErrorCategory = "confidence_gate"
	CategoryIntegrityViolation ErrorCategory = "integrity_violation"
)

// CategorizedError attaches a category and a retry hint to an underlying
// error. Adapters return these; the manager never retries on its own.
type CategorizedError struct {
	Category  ErrorCategory
	Retryable bool
	Err       error
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// NewInputError wraps a malformed-input message.
func NewInputError(msg string) error {
	return &CategorizedError{Category: CategoryInputInvalid, Err: errors.New(msg)}
}

// NewTransientError marks a retryable adapter fault (network, rate limit).
func NewTransientError(err error) error {
	return &CategorizedError{Category: CategoryAdapterTransient, Retryable: true, Err: err}
}

// NewPermanentError marks a non-retryable adapter fault (auth, bad response).
func NewPermanentError(err error) error {
	return &CategorizedError{Category: CategoryAdapterPermanent, Err: err}
}

// NewTimeoutError marks a deadline expiry.
func NewTimeoutError(err error) error {
	return &CategorizedError{Category: CategoryTimeout, Retryable: true, Err: err}
}

// NewIntegrityError marks a pool-accounting mismatch.
func NewIntegrityError(msg string) error {
	return &CategorizedError{Category: CategoryIntegrityViolation, Err: errors.New(msg)}
}

// CategoryOf extracts the category from an error chain, defaulting to
// adapter_permanent for uncategorized faults.
func CategoryOf(err error) ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryAdapterPermanent
}

// IsRetryable reports the retry hint carried by an adapter error.
func IsRetryable(err error) bool {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
