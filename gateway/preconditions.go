package gateway

import (
	"time"

	"golang.org/x/xerrors"
)

// TimeBounds limits the close time of a transaction. Zero MaxTime means unbounded.
type TimeBounds struct {
	MinTime int64 `json:"min_time"`
	MaxTime int64 `json:"max_time"`
}

// LedgerBounds limits the ledger a transaction may be included in. Zero MaxLedger means unbounded.
type LedgerBounds struct {
	MinLedger uint32 `json:"min_ledger"`
	MaxLedger uint32 `json:"max_ledger"`
}

// Preconditions constrain when a transaction is valid.
type Preconditions struct {
	MinSequenceNumber int64        `json:"min_sequence_number"`
	TimeBounds        TimeBounds   `json:"time_bounds"`
	LedgerBounds      LedgerBounds `json:"ledger_bounds"`
}

// NewPreconditions builds the preconditions for a transaction from source:
// the source's current sequence as minimum, a validity window ending
// validity after now and unbounded ledgers.
func NewPreconditions(source *AccountState, now time.Time, validity time.Duration) Preconditions {
	return Preconditions{
		MinSequenceNumber: source.Sequence,
		TimeBounds: TimeBounds{
			MinTime: 0,
			MaxTime: now.Add(validity).Unix(),
		},
		LedgerBounds: LedgerBounds{},
	}
}

// Validate rejects structurally invalid preconditions.
func (p Preconditions) Validate() error {
	if p.MinSequenceNumber < 0 {
		return xerrors.Errorf("%w: negative min sequence number %d", ErrPreconditionInvalid, p.MinSequenceNumber)
	}
	if p.TimeBounds.MinTime < 0 || p.TimeBounds.MaxTime < 0 {
		return xerrors.Errorf("%w: negative time bound", ErrPreconditionInvalid)
	}
	if p.TimeBounds.MaxTime != 0 && p.TimeBounds.MaxTime < p.TimeBounds.MinTime {
		return xerrors.Errorf("%w: max time %d before min time %d", ErrPreconditionInvalid, p.TimeBounds.MaxTime, p.TimeBounds.MinTime)
	}
	if p.LedgerBounds.MaxLedger != 0 && p.LedgerBounds.MaxLedger < p.LedgerBounds.MinLedger {
		return xerrors.Errorf("%w: max ledger %d below min ledger %d", ErrPreconditionInvalid, p.LedgerBounds.MaxLedger, p.LedgerBounds.MinLedger)
	}
	return nil
}
