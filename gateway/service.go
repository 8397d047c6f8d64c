// Package gateway composes supervised remote calls into the operations the
// gateway exposes: ledger head, account creation, transaction status and
// network metadata.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/VanDung-dev/stellar-gateway/engine"
)

// MinBaseFee is the network minimum fee per operation, in stroops.
const MinBaseFee int64 = 100

// Config holds the account creation parameters.
type Config struct {
	// SourceAccountID funds every created account and signs its transaction
	SourceAccountID string

	// StartingBalance is the amount sent to each new account, in lumens
	StartingBalance string

	// BaseFee per operation in stroops; 0 uses MinBaseFee
	BaseFee int64

	// TxValidity is how long after build a transaction may still be included
	TxValidity time.Duration

	// SettleDelay is the unconditional wait between submission and confirmation check
	SettleDelay time.Duration

	// ExplorerURL is prefixed to the hash in the submission log line
	ExplorerURL string
}

// DefaultConfig returns the testnet account creation defaults.
func DefaultConfig() Config {
	return Config{
		StartingBalance: "100",
		TxValidity:      1000 * time.Second,
		SettleDelay:     10 * time.Second,
		ExplorerURL:     "https://stellar.expert/explorer/testnet/tx/",
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.SourceAccountID == "" {
		return errors.New("source account id is required")
	}
	if c.StartingBalance == "" {
		return errors.New("starting balance is required")
	}
	if c.BaseFee < 0 {
		return fmt.Errorf("base fee must not be negative, got %d", c.BaseFee)
	}
	if c.TxValidity <= 0 {
		return errors.New("transaction validity must be positive")
	}
	if c.SettleDelay < 0 {
		return errors.New("settle delay must not be negative")
	}
	return nil
}

// Option customizes a Service.
type Option func(*Service)

// WithEventSink publishes workflow transitions to sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithClock replaces the wall clock used for preconditions and events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSettleTimer replaces the timer used for the settle delay.
func WithSettleTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Service) { s.after = after }
}

// Service runs gateway operations through a Caller bound to one shared Capability.
type Service struct {
	caller  *engine.Caller[Capability]
	builder TransactionBuilder
	cfg     Config
	log     *zap.Logger
	events  EventSink
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time

	closing   chan struct{}
	closeOnce sync.Once
}

// NewService creates a gateway service.
func NewService(caller *engine.Caller[Capability], builder TransactionBuilder, cfg Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if caller == nil {
		return nil, errors.New("caller is required")
	}
	if builder == nil {
		return nil, errors.New("transaction builder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("gateway config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		caller:  caller,
		builder: builder,
		cfg:     cfg,
		log:     logger,
		events:  NopSink{},
		now:     time.Now,
		after:   time.After,
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close interrupts workflows waiting in the settle delay. They fail at confirm.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// GetLatestLedger queries the ledger head. Every call goes to the endpoint.
func (s *Service) GetLatestLedger(ctx context.Context) (*LedgerState, error) {
	return engine.AsyncCall(context.WithoutCancel(ctx), s.caller, "getLatestLedger",
		func(ctx context.Context, c Capability) (*LedgerState, error) {
			return c.GetLatestLedger(ctx)
		}).Result()
}

// GetSourceAccount looks up the configured source account.
func (s *Service) GetSourceAccount(ctx context.Context) (*AccountState, error) {
	return s.fetchAccount(context.WithoutCancel(ctx), s.cfg.SourceAccountID)
}

// GetTransaction fetches the status of the transaction with the given hash.
func (s *Service) GetTransaction(ctx context.Context, hash string) (*TransactionResult, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, xerrors.Errorf("%w: empty hash", ErrInvalidHash)
	}
	return s.fetchTransaction(context.WithoutCancel(ctx), hash)
}

// GetFriendbotURL returns the friendbot URL of the network.
func (s *Service) GetFriendbotURL(ctx context.Context) (string, error) {
	info, err := engine.AsyncCall(context.WithoutCancel(ctx), s.caller, "getNetwork",
		func(ctx context.Context, c Capability) (*NetworkInfo, error) {
			return c.GetNetwork(ctx)
		}).Result()
	if err != nil {
		return "", err
	}
	return info.FriendbotURL, nil
}

func (s *Service) fetchAccount(ctx context.Context, accountID string) (*AccountState, error) {
	return engine.AsyncCall(ctx, s.caller, "getAccount",
		func(ctx context.Context, c Capability) (*AccountState, error) {
			return c.GetAccount(ctx, accountID)
		}).Result()
}

func (s *Service) fetchTransaction(ctx context.Context, hash string) (*TransactionResult, error) {
	return engine.AsyncCall(ctx, s.caller, "getTransaction",
		func(ctx context.Context, c Capability) (*TransactionResult, error) {
			return c.GetTransaction(ctx, hash)
		}).Result()
}

func (s *Service) baseFee() int64 {
	if s.cfg.BaseFee == 0 {
		return MinBaseFee
	}
	return s.cfg.BaseFee
}

// CreateAccount funds a freshly generated account from the source account.
//
// The steps run strictly in order: fetch source, build, sign, submit, wait
// the settle delay, check the transaction once. Any failure stops the
// pipeline and is returned as a *StageError. Nothing is retried; calling
// again creates a different destination.
func (s *Service) CreateAccount(ctx context.Context) (*AccountCreation, error) {
	ctx = context.WithoutCancel(ctx)
	wf := s.newWorkflow()
	wf.transition(StateStart, nil)

	source, err := s.fetchAccount(ctx, s.cfg.SourceAccountID)
	if err != nil {
		return nil, wf.fail(StageFetch, err)
	}
	wf.transition(StateSourceAccountFetched, map[string]string{"sequence": fmt.Sprint(source.Sequence)})

	destination, err := s.builder.NewDestination()
	if err != nil {
		err = xerrors.Errorf("generate destination: %w", err)
		wf.log.Error("keypair generation failed", zap.Error(err))
		return nil, wf.fail(StageBuild, err)
	}
	wf.destination = destination

	pre := NewPreconditions(source, s.now(), s.cfg.TxValidity)
	if err := pre.Validate(); err != nil {
		wf.log.Error("preconditions rejected", zap.Error(err))
		return nil, wf.fail(StageBuild, err)
	}
	unsigned, err := s.builder.BuildCreateAccount(source, destination, s.cfg.StartingBalance, s.baseFee(), pre)
	if err != nil {
		wf.log.Error("transaction build failed", zap.Error(err))
		return nil, wf.fail(StageBuild, err)
	}
	wf.transition(StateTransactionBuilt, nil)

	signed, err := s.builder.Sign(unsigned)
	if err != nil {
		if !errors.Is(err, ErrSigning) {
			err = fmt.Errorf("%w: %w", ErrSigning, err)
		}
		wf.log.Error("transaction signing failed", zap.Error(err))
		return nil, wf.fail(StageSign, err)
	}
	wf.transition(StateTransactionSigned, nil)

	submitted, err := engine.AsyncCall(ctx, s.caller, "sendTransaction",
		func(ctx context.Context, c Capability) (*SubmitResult, error) {
			return c.SubmitTransaction(ctx, signed)
		}).Result()
	if err != nil {
		return nil, wf.fail(StageSubmit, err)
	}
	wf.hash = submitted.Hash
	explorer := s.cfg.ExplorerURL + submitted.Hash
	wf.log.Info("transaction submitted",
		zap.String("hash", submitted.Hash),
		zap.String("status", submitted.Status),
		zap.String("explorer", explorer),
	)
	wf.transition(StateSubmitted, map[string]string{"status": submitted.Status})

	if err := s.settle(); err != nil {
		wf.log.Warn("settle delay interrupted", zap.String("hash", submitted.Hash), zap.Error(err))
		return nil, wf.fail(StageConfirm, err)
	}

	result, err := s.fetchTransaction(ctx, submitted.Hash)
	if err != nil {
		return nil, wf.fail(StageConfirm, err)
	}
	if result.Hash == "" {
		result.Hash = submitted.Hash
	}
	wf.transition(StateConfirmationPolled, map[string]string{"status": result.Status})
	wf.transition(StateDone, nil)

	return &AccountCreation{
		WorkflowID:   wf.id,
		Destination:  destination,
		Hash:         submitted.Hash,
		SubmitStatus: submitted.Status,
		Transaction:  result,
		ExplorerURL:  explorer,
	}, nil
}

// settle waits the settle delay unless the service is closed first.
func (s *Service) settle() error {
	if s.cfg.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-s.after(s.cfg.SettleDelay):
		return nil
	case <-s.closing:
		return ErrShuttingDown
	}
}

type workflow struct {
	svc         *Service
	id          string
	destination string
	hash        string
	log         *zap.Logger
}

func (s *Service) newWorkflow() *workflow {
	id := uuid.NewString()
	return &workflow{
		svc: s,
		id:  id,
		log: s.log.With(zap.String("workflow_id", id)),
	}
}

func (w *workflow) transition(state WorkflowState, details map[string]string) {
	w.log.Debug("workflow transition", zap.String("state", string(state)))
	w.svc.events.Publish(Event{
		WorkflowID:  w.id,
		State:       state,
		Destination: w.destination,
		Hash:        w.hash,
		Timestamp:   w.svc.now(),
		Details:     details,
	})
}

// fail publishes the terminal failure state. The cause was already logged
// where it was detected.
func (w *workflow) fail(stage Stage, err error) error {
	w.svc.events.Publish(Event{
		WorkflowID:  w.id,
		State:       stage.FailedState(),
		Stage:       stage,
		Destination: w.destination,
		Hash:        w.hash,
		Error:       err.Error(),
		Timestamp:   w.svc.now(),
	})
	return &StageError{
		Stage:       stage,
		WorkflowID:  w.id,
		Destination: w.destination,
		Hash:        w.hash,
		Err:         err,
	}
}
