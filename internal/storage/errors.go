package storage

import "errors"

var (
	// ErrCredentialNotFound is returned when no active proxy credential
	// matches a key hash
	ErrCredentialNotFound = errors.New("proxy credential not found")

	// ErrUpstreamKeyNotFound is returned when an account has no upstream
	// provider credential configured
	ErrUpstreamKeyNotFound = errors.New("upstream credential not found")

	// ErrBudgetNotFound is returned when an account has no active budget
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrPricingNotFound is returned when the pricing table has no active
	// row for a model
	ErrPricingNotFound = errors.New("pricing entry not found")
)
