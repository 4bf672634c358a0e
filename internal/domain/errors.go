package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "claim", "dial")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Ledger rejections. None of them are retriable: a rejected call left the
// ledger untouched and must be resubmitted by the caller.
var (
	// ErrInvalidListingParameters is returned by offer for a non-positive price or amount.
	ErrInvalidListingParameters = errors.New("amount & price must be higher than 0")

	// ErrUnknownCaller is returned when a mutating call carries no caller identity.
	ErrUnknownCaller = errors.New("caller identity required")

	// ErrEmptyItemID is returned when an item identifier is blank.
	ErrEmptyItemID = errors.New("item id must not be empty")

	// ErrItemNotFound is returned when no listing exists for the item.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidOrderAmount is returned for an order of zero or fewer units.
	ErrInvalidOrderAmount = errors.New("order amount must be higher than 0")

	// ErrInsufficientAvailableAmount is returned when the order exceeds the listing's availability.
	ErrInsufficientAvailableAmount = errors.New("insufficient available amount")

	// ErrIncorrectPaymentValue is returned when the attached value is not exactly amount * price.
	ErrIncorrectPaymentValue = errors.New("incorrect payment value")

	// ErrOrderAlreadyPending is returned when the buyer still holds an unresolved order on the item.
	ErrOrderAlreadyPending = errors.New("order already pending")

	// ErrOrderNotEligibleForCompletion covers both a missing order and a terminal one.
	ErrOrderNotEligibleForCompletion = errors.New("complete: not ordered or wrong status")

	// ErrOrderNotEligibleForComplaint covers both a missing order and a terminal one.
	ErrOrderNotEligibleForComplaint = errors.New("complain: not ordered or wrong status")

	// ErrOrderNotFound is returned by order reads.
	ErrOrderNotFound = errors.New("order not found")

	// ErrValueOverflow is returned when amount * price does not fit the value unit.
	ErrValueOverflow = errors.New("value overflow")

	// ErrInsufficientCustody is returned by the value-transfer primitive instead of truncating.
	ErrInsufficientCustody = errors.New("insufficient custody")

	// ErrInvalidTransfer is returned for non-positive transfer values or blank identities.
	ErrInvalidTransfer = errors.New("invalid transfer")
)
