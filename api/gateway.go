// Package api exposes the gateway over REST, JSON-RPC 2.0 and gRPC.
package api

import (
	"context"
	"time"

	"github.com/VanDung-dev/stellar-gateway/engine"
	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// Version is the current version of the Stellar gateway.
const Version = "0.1.0"

// Gateway is the set of operations served by every surface.
type Gateway interface {
	GetLatestLedger(ctx context.Context) (*gateway.LedgerState, error)
	CreateAccount(ctx context.Context) (*gateway.AccountCreation, error)
	GetTransaction(ctx context.Context, hash string) (*gateway.TransactionResult, error)
	GetFriendbotURL(ctx context.Context) (string, error)
	GetSourceAccount(ctx context.Context) (*gateway.AccountState, error)
}

var _ Gateway = (*gateway.Service)(nil)

// Empty is the request of parameterless methods.
type Empty struct{}

// GetTransactionRequest selects a transaction by hash.
type GetTransactionRequest struct {
	Hash string `json:"hash"`
}

// FriendbotResponse carries the friendbot URL of the network.
type FriendbotResponse struct {
	URL string `json:"friendbot_url"`
}

// HealthResponse reports liveness and pool statistics.
type HealthResponse struct {
	Healthy       bool             `json:"healthy"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Pool          engine.PoolStats `json:"pool"`
}

// health builds the health payload shared by REST and gRPC.
func health(pool PoolStatser, started time.Time) *HealthResponse {
	resp := &HealthResponse{
		Healthy:       true,
		Version:       Version,
		UptimeSeconds: int64(time.Since(started).Seconds()),
	}
	if pool != nil {
		resp.Pool = pool.Stats()
		if p, ok := pool.(interface{ IsRunning() bool }); ok {
			resp.Healthy = p.IsRunning()
		}
	}
	return resp
}
