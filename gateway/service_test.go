package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/VanDung-dev/stellar-gateway/engine"
	"github.com/VanDung-dev/stellar-gateway/gateway"
	"github.com/VanDung-dev/stellar-gateway/gateway/gatewaytest"
)

const sourceID = "GSOURCE"

var fixedNow = time.Unix(1_700_000_000, 0)

type settleRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *settleRecorder) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- fixedNow.Add(d)
	return ch
}

func (r *settleRecorder) requested() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type fixture struct {
	capability *gatewaytest.Capability
	builder    *gatewaytest.Builder
	events     *gatewaytest.Recorder
	settle     *settleRecorder
	service    *gateway.Service
}

func newFixture(t *testing.T, capability *gatewaytest.Capability, timeout time.Duration, opts ...gateway.Option) *fixture {
	t.Helper()

	pool, err := engine.NewPool(engine.PoolConfig{Name: "rpc-test", CoreWorkers: 2, MaxWorkers: 4, QueueCapacity: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)

	log := zaptest.NewLogger(t)
	caller := engine.NewCaller(pool, func() gateway.Capability { return capability }, engine.CallerConfig{
		Timeout: timeout,
		Logger:  log,
	})

	f := &fixture{
		capability: capability,
		builder:    &gatewaytest.Builder{},
		events:     &gatewaytest.Recorder{},
		settle:     &settleRecorder{},
	}

	cfg := gateway.DefaultConfig()
	cfg.SourceAccountID = sourceID

	base := []gateway.Option{
		gateway.WithEventSink(f.events),
		gateway.WithClock(func() time.Time { return fixedNow }),
		gateway.WithSettleTimer(f.settle.after),
	}
	f.service, err = gateway.NewService(caller, f.builder, cfg, log, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func TestGetLatestLedger(t *testing.T) {
	capability := &gatewaytest.Capability{Ledger: gateway.LedgerState{Hash: "ab12", Sequence: 12345, ProtocolVersion: 22}}
	f := newFixture(t, capability, time.Second)

	ledger, err := f.service.GetLatestLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), ledger.Sequence)

	_, err = f.service.GetLatestLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, capability.Calls("GetLatestLedger"), "ledger head must not be cached")
}

func TestCreateAccount(t *testing.T) {
	capability := &gatewaytest.Capability{
		Account: gateway.AccountState{AccountID: sourceID, Sequence: 100},
		Submit:  gateway.SubmitResult{Hash: "abc123", Status: "PENDING"},
		GetTransactionFunc: func(_ context.Context, hash string) (*gateway.TransactionResult, error) {
			if hash != "abc123" {
				return &gateway.TransactionResult{Hash: hash, Status: "NOT_FOUND"}, nil
			}
			return &gateway.TransactionResult{Hash: hash, Status: "SUCCESS", Ledger: 12346}, nil
		},
	}
	f := newFixture(t, capability, time.Second)

	res, err := f.service.CreateAccount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "abc123", res.Hash)
	assert.Equal(t, "SUCCESS", res.Transaction.Status)
	assert.Equal(t, "PENDING", res.SubmitStatus)
	assert.Equal(t, "https://stellar.expert/explorer/testnet/tx/abc123", res.ExplorerURL)
	assert.NotEmpty(t, res.WorkflowID)

	assert.Equal(t, []string{"GetAccount", "SubmitTransaction", "GetTransaction"}, capability.Sequence())
	assert.Equal(t, []time.Duration{10 * time.Second}, f.settle.requested())

	built := f.builder.Built()
	require.Len(t, built, 1)
	tx := built[0]
	assert.Equal(t, sourceID, tx.SourceAccount)
	assert.Equal(t, res.Destination, tx.Destination)
	assert.Equal(t, "100", tx.StartingBalance)
	assert.Equal(t, gateway.MinBaseFee, tx.BaseFee)
	assert.Equal(t, int64(100), tx.Preconditions.MinSequenceNumber)
	assert.Equal(t, fixedNow.Add(1000*time.Second).Unix(), tx.Preconditions.TimeBounds.MaxTime)
	assert.Equal(t, gateway.LedgerBounds{}, tx.Preconditions.LedgerBounds)

	assert.Equal(t, []gateway.WorkflowState{
		gateway.StateStart,
		gateway.StateSourceAccountFetched,
		gateway.StateTransactionBuilt,
		gateway.StateTransactionSigned,
		gateway.StateSubmitted,
		gateway.StateConfirmationPolled,
		gateway.StateDone,
	}, f.events.States())
	for _, e := range f.events.Events() {
		assert.Equal(t, res.WorkflowID, e.WorkflowID)
	}
}

func TestCreateAccountDistinctDestinations(t *testing.T) {
	capability := &gatewaytest.Capability{
		Account: gateway.AccountState{Sequence: 7},
		Tx:      gateway.TransactionResult{Status: "SUCCESS"},
	}
	f := newFixture(t, capability, time.Second)

	first, err := f.service.CreateAccount(context.Background())
	require.NoError(t, err)
	second, err := f.service.CreateAccount(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.Destination, second.Destination)
	assert.NotEqual(t, first.WorkflowID, second.WorkflowID)
	assert.Equal(t, 2, capability.Calls("GetAccount"), "each attempt re-fetches the source account")
}

func TestCreateAccountFetchFailureShortCircuits(t *testing.T) {
	remote := errors.New("account not found")
	capability := &gatewaytest.Capability{
		AccountFunc: func(context.Context, string) (*gateway.AccountState, error) { return nil, remote },
	}
	f := newFixture(t, capability, time.Second)

	_, err := f.service.CreateAccount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, remote)
	assert.True(t, engine.IsRemoteCallFailure(err))

	var se *gateway.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, gateway.StageFetch, se.Stage)
	assert.False(t, se.Submitted())

	assert.Empty(t, f.builder.Destinations())
	assert.Empty(t, f.builder.Built())
	assert.Zero(t, f.builder.Signed())
	assert.Zero(t, capability.Calls("SubmitTransaction"))
	assert.Zero(t, capability.Calls("GetTransaction"))

	states := f.events.States()
	assert.Equal(t, gateway.StateFailedAtFetch, states[len(states)-1])
}

func TestCreateAccountEmptyAccountResponse(t *testing.T) {
	capability := &gatewaytest.Capability{
		AccountFunc: func(context.Context, string) (*gateway.AccountState, error) { return nil, nil },
	}
	f := newFixture(t, capability, time.Second)

	res, err := f.service.CreateAccount(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, engine.ErrEmptyResponse)
	assert.True(t, engine.IsRemoteCallFailure(err))

	var se *gateway.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, gateway.StageFetch, se.Stage)
	assert.Empty(t, f.builder.Built())
	assert.Zero(t, capability.Calls("SubmitTransaction"))
}

func TestCreateAccountEmptySubmitResponse(t *testing.T) {
	capability := &gatewaytest.Capability{
		Account: gateway.AccountState{Sequence: 100},
		SubmitFunc: func(context.Context, *gateway.SignedTransaction) (*gateway.SubmitResult, error) {
			return nil, nil
		},
	}
	f := newFixture(t, capability, time.Second)

	_, err := f.service.CreateAccount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEmptyResponse)

	var se *gateway.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, gateway.StageSubmit, se.Stage)
	assert.Zero(t, capability.Calls("GetTransaction"))
}

func TestEmptyResponsesOnQueries(t *testing.T) {
	capability := &gatewaytest.Capability{
		LatestLedgerFunc:   func(context.Context) (*gateway.LedgerState, error) { return nil, nil },
		NetworkFunc:        func(context.Context) (*gateway.NetworkInfo, error) { return nil, nil },
		GetTransactionFunc: func(context.Context, string) (*gateway.TransactionResult, error) { return nil, nil },
	}
	f := newFixture(t, capability, time.Second)

	_, err := f.service.GetLatestLedger(context.Background())
	assert.ErrorIs(t, err, engine.ErrEmptyResponse)

	_, err = f.service.GetFriendbotURL(context.Background())
	assert.ErrorIs(t, err, engine.ErrEmptyResponse)

	_, err = f.service.GetTransaction(context.Background(), "abc123")
	assert.ErrorIs(t, err, engine.ErrEmptyResponse)
}

func TestCreateAccountNegativeSequence(t *testing.T) {
	capability := &gatewaytest.Capability{Account: gateway.AccountState{Sequence: -1}}
	f := newFixture(t, capability, time.Second)

	_, err := f.service.CreateAccount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrPreconditionInvalid)

	stage, ok := gateway.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, gateway.StageBuild, stage)

	assert.Empty(t, f.builder.Built())
	assert.Zero(t, capability.Calls("SubmitTransaction"))
	assert.Equal(t, 1, capability.Calls("GetAccount"))
}

func TestCreateAccountSigningFailure(t *testing.T) {
	capability := &gatewaytest.Capability{Account: gateway.AccountState{Sequence: 1}}
	f := newFixture(t, capability, time.Second)
	f.builder.SignErr = errors.New("bad seed")

	_, err := f.service.CreateAccount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrSigning)

	stage, _ := gateway.StageOf(err)
	assert.Equal(t, gateway.StageSign, stage)
	assert.Zero(t, capability.Calls("SubmitTransaction"))
}

func TestCreateAccountConfirmFailureCarriesHash(t *testing.T) {
	capability := &gatewaytest.Capability{
		Account: gateway.AccountState{Sequence: 100},
		Submit:  gateway.SubmitResult{Hash: "abc123", Status: "PENDING"},
		GetTransactionFunc: func(context.Context, string) (*gateway.TransactionResult, error) {
			return nil, errors.New("rpc unavailable")
		},
	}
	f := newFixture(t, capability, time.Second)

	_, err := f.service.CreateAccount(context.Background())
	var se *gateway.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, gateway.StageConfirm, se.Stage)
	assert.Equal(t, "abc123", se.Hash)
	assert.True(t, se.Submitted())
	assert.NotEmpty(t, se.Destination)
}

func TestCreateAccountCloseDuringSettle(t *testing.T) {
	capability := &gatewaytest.Capability{
		Account: gateway.AccountState{Sequence: 100},
		Submit:  gateway.SubmitResult{Hash: "abc123"},
	}
	never := func(time.Duration) <-chan time.Time { return make(chan time.Time) }
	f := newFixture(t, capability, time.Second, gateway.WithSettleTimer(never))

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.service.Close()
	}()

	_, err := f.service.CreateAccount(context.Background())
	require.ErrorIs(t, err, gateway.ErrShuttingDown)
	stage, _ := gateway.StageOf(err)
	assert.Equal(t, gateway.StageConfirm, stage)
	assert.Zero(t, capability.Calls("GetTransaction"))
}

func TestCreateAccountIgnoresCallerCancellation(t *testing.T) {
	capability := &gatewaytest.Capability{
		Account: gateway.AccountState{Sequence: 3},
		Tx:      gateway.TransactionResult{Status: "SUCCESS"},
	}
	f := newFixture(t, capability, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.service.CreateAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", res.Transaction.Status)
}

func TestGetTransactionTimeout(t *testing.T) {
	release := make(chan struct{})
	capability := &gatewaytest.Capability{
		GetTransactionFunc: func(context.Context, string) (*gateway.TransactionResult, error) {
			<-release
			return &gateway.TransactionResult{Status: "SUCCESS"}, nil
		},
	}
	f := newFixture(t, capability, 30*time.Millisecond)
	t.Cleanup(func() { close(release) })

	done := make(chan error, 1)
	go func() {
		_, err := f.service.GetTransaction(context.Background(), "abc123")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, engine.ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("getTransaction hung past its timeout")
	}
}

func TestGetTransactionEmptyHash(t *testing.T) {
	capability := &gatewaytest.Capability{}
	f := newFixture(t, capability, time.Second)

	_, err := f.service.GetTransaction(context.Background(), "  ")
	assert.ErrorIs(t, err, gateway.ErrInvalidHash)
	assert.Zero(t, capability.Calls("GetTransaction"))
}

func TestGetFriendbotURL(t *testing.T) {
	capability := &gatewaytest.Capability{Network: gateway.NetworkInfo{FriendbotURL: "https://friendbot.stellar.org/"}}
	f := newFixture(t, capability, time.Second)

	url, err := f.service.GetFriendbotURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://friendbot.stellar.org/", url)
}

func TestGetSourceAccount(t *testing.T) {
	capability := &gatewaytest.Capability{Account: gateway.AccountState{Sequence: 42}}
	f := newFixture(t, capability, time.Second)

	acc, err := f.service.GetSourceAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sourceID, acc.AccountID)
	assert.Equal(t, int64(42), acc.Sequence)
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	pool, err := engine.NewPool(engine.DefaultPoolConfig())
	require.NoError(t, err)
	defer pool.Shutdown()
	caller := engine.NewCaller(pool, func() gateway.Capability { return &gatewaytest.Capability{} }, engine.CallerConfig{})

	_, err = gateway.NewService(caller, &gatewaytest.Builder{}, gateway.DefaultConfig(), nil)
	assert.Error(t, err, "missing source account")

	cfg := gateway.DefaultConfig()
	cfg.SourceAccountID = sourceID
	cfg.BaseFee = -1
	_, err = gateway.NewService(caller, &gatewaytest.Builder{}, cfg, nil)
	assert.Error(t, err)

	_, err = gateway.NewService(caller, nil, gateway.DefaultConfig(), nil)
	assert.Error(t, err)
}
