package relay

import (
	"errors"
	"fmt"
)

// ErrWorkerDied reports that a relay worker exited before delivering a
// bind outcome. The bind outcome channel was closed with no value sent,
// so nothing can be assumed about the listener: the caller must treat
// the worker as failed, never as bound.
var ErrWorkerDied = errors.New("relay worker exited before reporting a bind outcome")

// BindError reports that a worker failed to bind its listen address.
// The underlying OS error is preserved for errors.Is/errors.As checks
// (notably address-in-use detection during restart retries).
type BindError struct {
	// Addr is the listen address the bind attempt targeted.
	Addr string

	// Err is the underlying listen error from the OS.
	Err error
}

// Error satisfies the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying OS error.
func (e *BindError) Unwrap() error {
	return e.Err
}
