// Package gatewaytest provides in-memory doubles of the gateway collaborators.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// Capability is a scripted remote endpoint. Nil hooks answer with the
// fixed fields; every call is counted.
type Capability struct {
	Ledger  gateway.LedgerState
	Account gateway.AccountState
	Submit  gateway.SubmitResult
	Tx      gateway.TransactionResult
	Network gateway.NetworkInfo

	LatestLedgerFunc   func(ctx context.Context) (*gateway.LedgerState, error)
	AccountFunc        func(ctx context.Context, accountID string) (*gateway.AccountState, error)
	SubmitFunc         func(ctx context.Context, tx *gateway.SignedTransaction) (*gateway.SubmitResult, error)
	GetTransactionFunc func(ctx context.Context, hash string) (*gateway.TransactionResult, error)
	NetworkFunc        func(ctx context.Context) (*gateway.NetworkInfo, error)

	mu    sync.Mutex
	calls map[string]int
	seen  []string
}

var _ gateway.Capability = (*Capability)(nil)

func (c *Capability) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[name]++
	c.seen = append(c.seen, name)
}

// Calls returns how often the named method was invoked.
func (c *Capability) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// Sequence returns the invoked method names in order.
func (c *Capability) Sequence() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func (c *Capability) GetLatestLedger(ctx context.Context) (*gateway.LedgerState, error) {
	c.record("GetLatestLedger")
	if c.LatestLedgerFunc != nil {
		return c.LatestLedgerFunc(ctx)
	}
	l := c.Ledger
	return &l, nil
}

func (c *Capability) GetAccount(ctx context.Context, accountID string) (*gateway.AccountState, error) {
	c.record("GetAccount")
	if c.AccountFunc != nil {
		return c.AccountFunc(ctx, accountID)
	}
	a := c.Account
	if a.AccountID == "" {
		a.AccountID = accountID
	}
	return &a, nil
}

func (c *Capability) SubmitTransaction(ctx context.Context, tx *gateway.SignedTransaction) (*gateway.SubmitResult, error) {
	c.record("SubmitTransaction")
	if c.SubmitFunc != nil {
		return c.SubmitFunc(ctx, tx)
	}
	r := c.Submit
	if r.Hash == "" {
		r.Hash = tx.Hash
	}
	return &r, nil
}

func (c *Capability) GetTransaction(ctx context.Context, hash string) (*gateway.TransactionResult, error) {
	c.record("GetTransaction")
	if c.GetTransactionFunc != nil {
		return c.GetTransactionFunc(ctx, hash)
	}
	r := c.Tx
	if r.Hash == "" {
		r.Hash = hash
	}
	return &r, nil
}

func (c *Capability) GetNetwork(ctx context.Context) (*gateway.NetworkInfo, error) {
	c.record("GetNetwork")
	if c.NetworkFunc != nil {
		return c.NetworkFunc(ctx)
	}
	n := c.Network
	return &n, nil
}

// Builder is a deterministic TransactionBuilder. Each destination is unique.
type Builder struct {
	BuildErr error
	SignErr  error

	mu           sync.Mutex
	next         int
	built        []*gateway.UnsignedTransaction
	destinations []string
	signed       int
}

var _ gateway.TransactionBuilder = (*Builder)(nil)

func (b *Builder) NewDestination() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	d := fmt.Sprintf("GDEST%051d", b.next)
	b.destinations = append(b.destinations, d)
	return d, nil
}

func (b *Builder) BuildCreateAccount(source *gateway.AccountState, destination, startingBalance string, baseFee int64, pre gateway.Preconditions) (*gateway.UnsignedTransaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BuildErr != nil {
		return nil, b.BuildErr
	}
	tx := &gateway.UnsignedTransaction{
		SourceAccount:   source.AccountID,
		Destination:     destination,
		StartingBalance: startingBalance,
		BaseFee:         baseFee,
		Preconditions:   pre,
	}
	b.built = append(b.built, tx)
	return tx, nil
}

func (b *Builder) Sign(tx *gateway.UnsignedTransaction) (*gateway.SignedTransaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SignErr != nil {
		return nil, b.SignErr
	}
	b.signed++
	return &gateway.SignedTransaction{
		Hash:        fmt.Sprintf("hash-%s", tx.Destination),
		EnvelopeXDR: "AAAA" + tx.Destination,
	}, nil
}

// Built returns the transactions assembled so far.
func (b *Builder) Built() []*gateway.UnsignedTransaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*gateway.UnsignedTransaction(nil), b.built...)
}

// Destinations returns every destination handed out.
func (b *Builder) Destinations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.destinations...)
}

// Signed returns how many transactions were signed.
func (b *Builder) Signed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signed
}

// Recorder is an EventSink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []gateway.Event
}

func (r *Recorder) Publish(e gateway.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns the recorded events.
func (r *Recorder) Events() []gateway.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.Event(nil), r.events...)
}

// States returns the recorded states in order.
func (r *Recorder) States() []gateway.WorkflowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]gateway.WorkflowState, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.State)
	}
	return out
}
