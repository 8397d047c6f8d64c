package engine

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for pool admission and call supervision.
var (
	ErrPoolCapacityExceeded = errors.New("worker pool capacity exceeded")
	ErrPoolClosed           = errors.New("worker pool is shut down")
	ErrTimeout              = errors.New("rpc call timed out")
	ErrEmptyResponse        = errors.New("empty response")
)

// TimeoutError reports a call whose caller stopped waiting after the deadline.
// The remote call itself may still complete later.
type TimeoutError struct {
	Call  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response after %s", e.Call, e.After)
}

// Unwrap makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// RemoteCallError wraps a failure raised by the remote capability.
type RemoteCallError struct {
	Call string
	Err  error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s: remote call failed: %v", e.Call, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// IsRemoteCallFailure reports whether err came out of a remote capability call.
func IsRemoteCallFailure(err error) bool {
	var rce *RemoteCallError
	return errors.As(err, &rce)
}
