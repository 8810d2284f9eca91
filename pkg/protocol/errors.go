package protocol

import "errors"

// Collaborator failures come in two classes. Transient failures (timeouts,
// downstream 5xx) are retried a bounded number of times before the
// automation's failure policy applies; permanent failures (validation
// rejections) escalate immediately.

// TransientError marks an error as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable collaborator failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var transient *TransientError

	return errors.As(err, &transient)
}
