package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/VanDung-dev/stellar-gateway/engine"
	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// fakeGateway returns canned results; nil funcs fall back to zero values.
type fakeGateway struct {
	ledger    func(context.Context) (*gateway.LedgerState, error)
	create    func(context.Context) (*gateway.AccountCreation, error)
	tx        func(context.Context, string) (*gateway.TransactionResult, error)
	friendbot func(context.Context) (string, error)
	source    func(context.Context) (*gateway.AccountState, error)
}

func (f *fakeGateway) GetLatestLedger(ctx context.Context) (*gateway.LedgerState, error) {
	if f.ledger == nil {
		return &gateway.LedgerState{}, nil
	}
	return f.ledger(ctx)
}

func (f *fakeGateway) CreateAccount(ctx context.Context) (*gateway.AccountCreation, error) {
	if f.create == nil {
		return &gateway.AccountCreation{}, nil
	}
	return f.create(ctx)
}

func (f *fakeGateway) GetTransaction(ctx context.Context, hash string) (*gateway.TransactionResult, error) {
	if f.tx == nil {
		return &gateway.TransactionResult{Hash: hash}, nil
	}
	return f.tx(ctx, hash)
}

func (f *fakeGateway) GetFriendbotURL(ctx context.Context) (string, error) {
	if f.friendbot == nil {
		return "", nil
	}
	return f.friendbot(ctx)
}

func (f *fakeGateway) GetSourceAccount(ctx context.Context) (*gateway.AccountState, error) {
	if f.source == nil {
		return &gateway.AccountState{}, nil
	}
	return f.source(ctx)
}

func confirmFailure() error {
	return &gateway.StageError{
		Stage:       gateway.StageConfirm,
		WorkflowID:  "wf-1",
		Destination: "GDEST",
		Hash:        "abc123",
		Err:         &engine.RemoteCallError{Call: "getTransaction", Err: errors.New("connection reset")},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		status int
		code   codes.Code
		rpc    int
	}{
		{"timeout", &engine.TimeoutError{Call: "getLatestLedger", After: time.Second}, KindTimeout, http.StatusGatewayTimeout, codes.DeadlineExceeded, CodeTimeout},
		{"capacity", fmt.Errorf("submit: %w", engine.ErrPoolCapacityExceeded), KindPoolCapacity, http.StatusServiceUnavailable, codes.ResourceExhausted, CodePoolCapacity},
		{"remote", &engine.RemoteCallError{Call: "getAccount", Err: errors.New("boom")}, KindRemoteCall, http.StatusBadGateway, codes.Unavailable, CodeRemoteCall},
		{"precondition", fmt.Errorf("build: %w", gateway.ErrPreconditionInvalid), KindPreconditionInvalid, http.StatusUnprocessableEntity, codes.FailedPrecondition, CodePreconditionInvalid},
		{"invalid hash", gateway.ErrInvalidHash, KindInvalidArgument, http.StatusUnprocessableEntity, codes.InvalidArgument, CodeInvalidParams},
		{"signing", fmt.Errorf("%w: bad key", gateway.ErrSigning), KindSigning, http.StatusInternalServerError, codes.Internal, CodeSigning},
		{"rate limited", ErrRateLimited, KindRateLimited, http.StatusTooManyRequests, codes.ResourceExhausted, CodeRateLimited},
		{"pool closed", engine.ErrPoolClosed, KindUnavailable, http.StatusServiceUnavailable, codes.Unavailable, CodeUnavailable},
		{"shutting down", gateway.ErrShuttingDown, KindUnavailable, http.StatusServiceUnavailable, codes.Unavailable, CodeUnavailable},
		{"other", errors.New("surprise"), KindInternal, http.StatusInternalServerError, codes.Internal, CodeInternal},
		{"stage wraps root cause", confirmFailure(), KindRemoteCall, http.StatusBadGateway, codes.Unavailable, CodeRemoteCall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind := Classify(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.status, kind.HTTPStatus())
			assert.Equal(t, tt.code, kind.GRPCCode())
			assert.Equal(t, tt.rpc, kind.JSONRPCCode())
		})
	}

	assert.Equal(t, ErrorKind(""), Classify(nil))
}

func TestNewErrorBody(t *testing.T) {
	body := NewErrorBody(confirmFailure())
	assert.Equal(t, KindRemoteCall, body.Kind)
	assert.Equal(t, "confirm", body.Stage)
	assert.Equal(t, "wf-1", body.WorkflowID)
	assert.Equal(t, "GDEST", body.Destination)
	assert.Equal(t, "abc123", body.Hash)
	assert.True(t, body.Submitted)

	plain := NewErrorBody(engine.ErrPoolClosed)
	assert.Empty(t, plain.Stage)
	assert.False(t, plain.Submitted)
	assert.Equal(t, engine.ErrPoolClosed.Error(), plain.Error)
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(1, 2, time.Minute)
	require.NotNil(t, l)

	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("a", now))
	assert.False(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now), "keys are limited independently")
	assert.True(t, l.Allow("a", now.Add(time.Second)), "one token refills per second")
	assert.Equal(t, 1, l.RetryAfter())

	slow := NewRateLimiter(0.1, 1, 0)
	assert.Equal(t, 10, slow.RetryAfter())
}

func TestRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(0, 5, 0)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a", time.Now()))
	}
	assert.Equal(t, 1, l.RetryAfter())
}

func TestRateLimiterEvictsIdle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(1, 1, time.Minute)
	l.Allow("idle", now)

	later := now.Add(time.Hour)
	for i := 0; i < 512; i++ {
		l.Allow("busy", later)
	}

	l.mu.Lock()
	_, ok := l.byKey["idle"]
	l.mu.Unlock()
	assert.False(t, ok)
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/stellar/v1/account", nil)
	r.RemoteAddr = "10.0.0.7:53211"
	assert.Equal(t, "10.0.0.7", ClientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientKey(r))
}
