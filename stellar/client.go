// Package stellar adapts the Stellar Go SDK to the gateway collaborators:
// rpcclient for the remote capability, txnbuild and keypair for local
// transaction building and signing.
package stellar

import (
	"context"
	"net/http"
	"time"

	"github.com/stellar/go-stellar-sdk/clients/rpcclient"
	protocol "github.com/stellar/go-stellar-sdk/protocols/rpc"
	"golang.org/x/xerrors"

	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// RPCCapability serves gateway.Capability from one shared Stellar RPC client.
type RPCCapability struct {
	url    string
	client *rpcclient.Client
}

var _ gateway.Capability = (*RPCCapability)(nil)

// NewRPCCapability connects to the Stellar RPC server at url. A zero
// httpTimeout leaves the HTTP client without its own deadline.
func NewRPCCapability(url string, httpTimeout time.Duration) (*RPCCapability, error) {
	if url == "" {
		return nil, xerrors.New("rpc url is required")
	}
	httpClient := &http.Client{Timeout: httpTimeout}
	return &RPCCapability{
		url:    url,
		client: rpcclient.NewClient(url, httpClient),
	}, nil
}

// URL returns the endpoint the capability talks to.
func (c *RPCCapability) URL() string { return c.url }

// Close releases the underlying client.
func (c *RPCCapability) Close() error {
	return c.client.Close()
}

func (c *RPCCapability) GetLatestLedger(ctx context.Context) (*gateway.LedgerState, error) {
	resp, err := c.client.GetLatestLedger(ctx)
	if err != nil {
		return nil, xerrors.Errorf("getLatestLedger: %w", err)
	}
	return &gateway.LedgerState{
		Hash:            resp.Hash,
		Sequence:        resp.Sequence,
		ProtocolVersion: resp.ProtocolVersion,
	}, nil
}

func (c *RPCCapability) GetAccount(ctx context.Context, accountID string) (*gateway.AccountState, error) {
	acc, err := c.client.LoadAccount(ctx, accountID)
	if err != nil {
		return nil, xerrors.Errorf("loading account %s: %w", accountID, err)
	}
	seq, err := acc.GetSequenceNumber()
	if err != nil {
		return nil, xerrors.Errorf("reading sequence of %s: %w", accountID, err)
	}
	return &gateway.AccountState{
		AccountID: acc.GetAccountID(),
		Sequence:  seq,
	}, nil
}

func (c *RPCCapability) SubmitTransaction(ctx context.Context, tx *gateway.SignedTransaction) (*gateway.SubmitResult, error) {
	resp, err := c.client.SendTransaction(ctx, protocol.SendTransactionRequest{Transaction: tx.EnvelopeXDR})
	if err != nil {
		return nil, xerrors.Errorf("sendTransaction: %w", err)
	}
	hash := resp.Hash
	if hash == "" {
		hash = tx.Hash
	}
	return &gateway.SubmitResult{
		Hash:           hash,
		Status:         resp.Status,
		LatestLedger:   resp.LatestLedger,
		ErrorResultXDR: resp.ErrorResultXDR,
	}, nil
}

func (c *RPCCapability) GetTransaction(ctx context.Context, hash string) (*gateway.TransactionResult, error) {
	resp, err := c.client.GetTransaction(ctx, protocol.GetTransactionRequest{Hash: hash})
	if err != nil {
		return nil, xerrors.Errorf("getTransaction %s: %w", hash, err)
	}
	return &gateway.TransactionResult{
		Hash:         hash,
		Status:       resp.Status,
		Ledger:       resp.Ledger,
		LatestLedger: resp.LatestLedger,
	}, nil
}

func (c *RPCCapability) GetNetwork(ctx context.Context) (*gateway.NetworkInfo, error) {
	resp, err := c.client.GetNetwork(ctx)
	if err != nil {
		return nil, xerrors.Errorf("getNetwork: %w", err)
	}
	return &gateway.NetworkInfo{
		FriendbotURL:    resp.FriendbotURL,
		Passphrase:      resp.Passphrase,
		ProtocolVersion: uint32(resp.ProtocolVersion),
	}, nil
}
