package stellar

import (
	"fmt"

	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/network"
	"github.com/stellar/go-stellar-sdk/txnbuild"
	"golang.org/x/xerrors"

	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// Builder builds and signs create-account transactions with the source
// account's secret seed.
type Builder struct {
	signer     *keypair.Full
	passphrase string
}

var _ gateway.TransactionBuilder = (*Builder)(nil)

// NewBuilder parses secretSeed. An empty passphrase selects the test network.
func NewBuilder(secretSeed, passphrase string) (*Builder, error) {
	kp, err := keypair.ParseFull(secretSeed)
	if err != nil {
		return nil, xerrors.Errorf("parsing source secret: %w", err)
	}
	if passphrase == "" {
		passphrase = network.TestNetworkPassphrase
	}
	return &Builder{signer: kp, passphrase: passphrase}, nil
}

// Address returns the public key of the signing account.
func (b *Builder) Address() string { return b.signer.Address() }

// Passphrase returns the network passphrase transactions are signed for.
func (b *Builder) Passphrase() string { return b.passphrase }

// NewDestination generates a random keypair and returns its address.
// The seed is discarded.
func (b *Builder) NewDestination() (string, error) {
	kp, err := keypair.Random()
	if err != nil {
		return "", err
	}
	return kp.Address(), nil
}

func (b *Builder) BuildCreateAccount(source *gateway.AccountState, destination, startingBalance string, baseFee int64, pre gateway.Preconditions) (*gateway.UnsignedTransaction, error) {
	if source == nil {
		return nil, xerrors.New("source account is required")
	}
	if baseFee <= 0 {
		baseFee = txnbuild.MinBaseFee
	}

	minSeq := pre.MinSequenceNumber
	conditions := txnbuild.Preconditions{
		TimeBounds: txnbuild.NewTimebounds(pre.TimeBounds.MinTime, pre.TimeBounds.MaxTime),
		LedgerBounds: &txnbuild.LedgerBounds{
			MinLedger: pre.LedgerBounds.MinLedger,
			MaxLedger: pre.LedgerBounds.MaxLedger,
		},
		MinSequenceNumber: &minSeq,
	}
	if err := conditions.Validate(); err != nil {
		return nil, xerrors.Errorf("%w: %v", gateway.ErrPreconditionInvalid, err)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: source.AccountID, Sequence: source.Sequence},
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.CreateAccount{Destination: destination, Amount: startingBalance},
		},
		BaseFee:       baseFee,
		Preconditions: conditions,
	})
	if err != nil {
		return nil, xerrors.Errorf("building create account transaction: %w", err)
	}

	return &gateway.UnsignedTransaction{
		SourceAccount:   source.AccountID,
		Destination:     destination,
		StartingBalance: startingBalance,
		BaseFee:         baseFee,
		Preconditions:   pre,
		Payload:         tx,
	}, nil
}

func (b *Builder) Sign(unsigned *gateway.UnsignedTransaction) (*gateway.SignedTransaction, error) {
	tx, ok := unsigned.Payload.(*txnbuild.Transaction)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload %T", gateway.ErrSigning, unsigned.Payload)
	}

	signed, err := tx.Sign(b.passphrase, b.signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrSigning, err)
	}
	envelope, err := signed.Base64()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding envelope: %w", gateway.ErrSigning, err)
	}
	hash, err := signed.HashHex(b.passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing: %w", gateway.ErrSigning, err)
	}

	return &gateway.SignedTransaction{Hash: hash, EnvelopeXDR: envelope}, nil
}
