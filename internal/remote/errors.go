package remote

import (
	"errors"
	"fmt"
)

// UnavailableError wraps a transient failure: network error, timeout,
// throttling, or a 5xx response. The sync cycle aborts, dirty and
// tombstone state is left untouched, and the next cycle retries the
// same batch.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("remote unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// RejectedError wraps a non-transient refusal: authorization or
// validation. Retrying without external correction (typically
// re-authentication) cannot succeed, so it is never retried
// automatically and must not clear any dirty flags.
type RejectedError struct {
	Status int
	Msg    string
}

func (e *RejectedError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("remote rejected: %s", e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("remote rejected request (status %d)", e.Status)
	default:
		return fmt.Sprintf("remote rejected request (status %d): %s", e.Status, e.Msg)
	}
}

// IsUnavailable reports whether err is a transient remote failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsRejected reports whether err is a non-transient remote refusal.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
