package gateway

import "context"

// Capability is the remote RPC endpoint every gateway operation talks to.
// Implementations block until the endpoint answers.
type Capability interface {
	GetLatestLedger(ctx context.Context) (*LedgerState, error)
	GetAccount(ctx context.Context, accountID string) (*AccountState, error)
	SubmitTransaction(ctx context.Context, tx *SignedTransaction) (*SubmitResult, error)
	GetTransaction(ctx context.Context, hash string) (*TransactionResult, error)
	GetNetwork(ctx context.Context) (*NetworkInfo, error)
}

// TransactionBuilder generates keys, assembles and signs transactions locally.
type TransactionBuilder interface {
	// NewDestination returns the address of a freshly generated keypair.
	NewDestination() (string, error)
	BuildCreateAccount(source *AccountState, destination, startingBalance string, baseFee int64, pre Preconditions) (*UnsignedTransaction, error)
	Sign(tx *UnsignedTransaction) (*SignedTransaction, error)
}

// LedgerState is the head of the ledger as reported by the RPC endpoint.
type LedgerState struct {
	Hash            string `json:"hash"`
	Sequence        uint32 `json:"sequence"`
	ProtocolVersion uint32 `json:"protocol_version"`
}

// AccountState is a snapshot of an account.
type AccountState struct {
	AccountID string `json:"account_id"`
	Sequence  int64  `json:"sequence"`
}

// SubmitResult acknowledges a submission. It is not a confirmation.
type SubmitResult struct {
	Hash           string `json:"hash"`
	Status         string `json:"status"`
	LatestLedger   uint32 `json:"latest_ledger"`
	ErrorResultXDR string `json:"error_result_xdr,omitempty"`
}

// TransactionResult is the status of a transaction looked up by hash.
type TransactionResult struct {
	Hash         string `json:"hash"`
	Status       string `json:"status"`
	Ledger       uint32 `json:"ledger,omitempty"`
	LatestLedger uint32 `json:"latest_ledger"`
}

// NetworkInfo is the metadata of the network the endpoint serves.
type NetworkInfo struct {
	FriendbotURL    string `json:"friendbot_url"`
	Passphrase      string `json:"passphrase"`
	ProtocolVersion uint32 `json:"protocol_version"`
}

// UnsignedTransaction is a built transaction waiting for a signature.
// Payload holds the builder's own representation.
type UnsignedTransaction struct {
	SourceAccount   string
	Destination     string
	StartingBalance string
	BaseFee         int64
	Preconditions   Preconditions
	Payload         any
}

// SignedTransaction is ready for submission.
type SignedTransaction struct {
	Hash        string `json:"hash"`
	EnvelopeXDR string `json:"envelope_xdr"`
}

// AccountCreation is the outcome of a completed account creation workflow.
// The destination secret never leaves the builder.
type AccountCreation struct {
	WorkflowID   string             `json:"workflow_id"`
	Destination  string             `json:"destination"`
	Hash         string             `json:"hash"`
	SubmitStatus string             `json:"submit_status"`
	Transaction  *TransactionResult `json:"transaction"`
	ExplorerURL  string             `json:"explorer_url"`
}
