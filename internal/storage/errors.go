package storage

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks failures of the persistence layer itself (connection refused,
// pool closed, timeouts). Callers surface it instead of treating it as a domain outcome.
var ErrUnavailable = errors.New("storage unavailable")

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while keeping the
// original cause in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
