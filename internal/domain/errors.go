package domain

import "fmt"

// Error types for consistent error handling across the BFA.

// ErrNotFound indicates a resource was not found (or is not owned by the caller).
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrMultipleRows indicates a single-row read matched more than one row.
type ErrMultipleRows struct {
	Resource string
	ID       string
	Count    int
}

func (e *ErrMultipleRows) Error() string {
	return fmt.Sprintf("%s %s: expected one row, got %d", e.Resource, e.ID, e.Count)
}

// ErrUnauthenticated is returned by any owner-scoped operation invoked without an identity.
type ErrUnauthenticated struct {
	Operation string
}

func (e *ErrUnauthenticated) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("user not authenticated: %s", e.Operation)
	}
	return "user not authenticated"
}

// ErrInvalidCredentials is the single sign-in failure. It never says which half was wrong.
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid email or password"
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Status  int
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrConflict indicates a resource already exists (e.g. an email already registered).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrUnavailable indicates a feature that is not configured on this deployment.
type ErrUnavailable struct {
	Feature string
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("%s is not available", e.Feature)
}
