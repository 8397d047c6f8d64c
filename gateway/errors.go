package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionInvalid is returned when locally built preconditions are malformed.
	ErrPreconditionInvalid = errors.New("transaction preconditions invalid")
	// ErrSigning is returned when the local signature cannot be produced.
	ErrSigning = errors.New("transaction signing failed")
	// ErrInvalidHash is returned for an empty or malformed transaction hash.
	ErrInvalidHash = errors.New("invalid transaction hash")
	// ErrShuttingDown is returned when the service closes during the settle delay.
	ErrShuttingDown = errors.New("gateway shutting down before confirmation")
)

// StageError reports the stage at which an account creation workflow stopped.
// Hash is set once the transaction was submitted, so callers can tell a
// failed confirmation from a transaction that never left the gateway.
type StageError struct {
	Stage       Stage
	WorkflowID  string
	Destination string
	Hash        string
	Err         error
}

func (e *StageError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("create account %s failed at %s (tx %s): %v", e.WorkflowID, e.Stage, e.Hash, e.Err)
	}
	return fmt.Sprintf("create account %s failed at %s: %v", e.WorkflowID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Submitted reports whether the transaction reached the network before the failure.
func (e *StageError) Submitted() bool { return e.Hash != "" }

// StageOf returns the failed stage carried by err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
