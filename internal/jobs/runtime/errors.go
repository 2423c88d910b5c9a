package runtime

import "errors"

// TransientError marks a failure worth retrying within a stage:
// timeouts, throttling, connection resets. Invariant violations must
// never be wrapped in it.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
