// Package storage defines the persistence contract of the mint. All
// multi-step mutations go through an explicit transaction so that
// partial writes are never visible to other callers.
package storage

import (
	"context"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut04"
	"github.com/asmogo/cdk/cashu/nuts/nut05"
	"github.com/asmogo/cdk/cashu/nuts/nut07"
)

type MintDB interface {
	GetBalance() (uint64, error)

	SaveSeed([]byte) error
	GetSeed() ([]byte, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(keysetId string, active bool) error

	GetProofs(Ys []string) ([]DBProof, error)

	// GetIssuedEcash sums the blind signatures created per keyset.
	GetIssuedEcash() (map[string]uint64, error)
	// GetRedeemedEcash sums the spent proofs per keyset.
	GetRedeemedEcash() (map[string]uint64, error)

	SaveMintQuote(MintQuote) error
	GetMintQuote(quoteId string) (MintQuote, error)
	GetMintQuoteByPaymentHash(paymentHash string) (MintQuote, error)

	SaveMeltQuote(MeltQuote) error
	GetMeltQuote(quoteId string) (MeltQuote, error)
	GetMeltQuoteByPaymentRequest(request string) (MeltQuote, error)

	GetBlindSignature(B_ string) (cashu.BlindedSignature, error)
	GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error)

	// BeginTx starts a write transaction. Transactions touching the
	// same quote or proofs serialize against each other. A returned
	// transaction must end in Commit or Rollback.
	BeginTx(ctx context.Context) (Tx, error)

	Close()
}

// Tx is a single atomic unit of mint state change. Reads inside the
// transaction observe its own uncommitted writes.
type Tx interface {
	// GetMintQuote reads a mint quote for update.
	GetMintQuote(quoteId string) (MintQuote, error)
	// UpdateMintQuote persists new amounts and state for a quote.
	UpdateMintQuote(quoteId string, amountPaid, amountIssued uint64, state nut04.State) error

	GetMeltQuote(quoteId string) (MeltQuote, error)
	UpdateMeltQuote(quoteId string, preimage string, state nut05.State) error

	// AddProofs inserts proofs with the given state. Inserting a Y
	// that already exists fails the transaction.
	AddProofs(proofs cashu.Proofs, state nut07.State, meltQuoteId string) error
	// SetProofsState moves already stored proofs to a new state.
	SetProofsState(Ys []string, state nut07.State) error
	// RemoveProofs deletes reserved proofs, making them spendable
	// again after a failed melt.
	RemoveProofs(Ys []string) error
	GetProofs(Ys []string) ([]DBProof, error)
	// GetProofsByMeltQuote returns the proofs reserved for a melt
	// quote so a settlement or release can find them later.
	GetProofsByMeltQuote(meltQuoteId string) ([]DBProof, error)

	SaveBlindSignature(B_ string, blindSignature cashu.BlindedSignature, quoteId string) error
	GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error)

	IncrementKeysetCounter(keysetId string, n uint32) error

	Commit() error
	Rollback() error
}

type DBKeyset struct {
	Id                string
	Unit              string
	Active            bool
	Seed              string
	DerivationPathIdx uint32
	InputFeePpk       uint
	Counter           uint32
}

type DBProof struct {
	Amount      uint64
	Id          string
	Secret      string
	Y           string
	C           string
	State       nut07.State
	MeltQuoteId string
	Witness     string
}

type MintQuote struct {
	Id             string
	PaymentMethod  cashu.PaymentMethod
	Amount         uint64
	Unit           string
	PaymentRequest string
	PaymentHash    string
	State          nut04.State
	Expiry         uint64
	AmountPaid     uint64
	AmountIssued   uint64
	Pubkey         string
}

type MeltQuote struct {
	Id             string
	PaymentMethod  cashu.PaymentMethod
	InvoiceRequest string
	PaymentHash    string
	Amount         uint64
	FeeReserve     uint64
	Unit           string
	State          nut05.State
	Expiry         uint64
	Preimage       string
}
