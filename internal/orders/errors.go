package orders

// ValidationError marks a signal rejected before any provider call.
// It is terminal: the pipeline never retries bad input, and the
// rejection is cached under the idempotency key like every other
// outcome.
type ValidationError struct {
	Err error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying cause
func (e *ValidationError) Unwrap() error {
	return e.Err
}
