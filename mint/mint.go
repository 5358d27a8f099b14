package mint

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut02"
	"github.com/asmogo/cdk/cashu/nuts/nut04"
	"github.com/asmogo/cdk/cashu/nuts/nut06"
	"github.com/asmogo/cdk/cashu/nuts/nut07"
	"github.com/asmogo/cdk/cashu/nuts/nut10"
	"github.com/asmogo/cdk/cashu/nuts/nut11"
	"github.com/asmogo/cdk/cashu/nuts/nut14"
	"github.com/asmogo/cdk/cashu/nuts/nut17"
	"github.com/asmogo/cdk/cashu/nuts/nut20"
	"github.com/asmogo/cdk/crypto"
	"github.com/asmogo/cdk/mint/lightning"
	"github.com/asmogo/cdk/mint/pubsub"
	"github.com/asmogo/cdk/mint/storage"
	"github.com/asmogo/cdk/mint/storage/sqlite"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// seconds a quote stays payable after creation
	QuoteExpiry = lightning.InvoiceExpiryTime

	maxSecretLength = 512
)

type Mint struct {
	db              storage.MintDB
	lightningClient lightning.Client
	// non-nil when the lightning backend can create bolt12 offers
	offerBackend lightning.OfferBackend

	activeKeyset *crypto.MintKeyset
	// map of all keysets (both active and inactive)
	keysets map[string]crypto.MintKeyset

	limits      MintLimits
	mintInfo    MintInfo
	mintPubkey  string
	publisher   *pubsub.PubSub
	mppEnabled  bool
	meltTimeout *time.Duration

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func SetupMint(config Config) (*Mint, error) {
	path := config.MintPath
	if len(path) == 0 {
		path = mintPath()
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	logger, err := setupLogger(path, config.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitSQLite(path, config.DBMigrationPath)
	if err != nil {
		return nil, fmt.Errorf("error setting up sqlite: %v", err)
	}

	seed, err := mintSeed(db)
	if err != nil {
		return nil, err
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	if config.LightningClient == nil {
		return nil, errors.New("invalid lightning client")
	}
	if err := config.LightningClient.ConnectionStatus(); err != nil {
		return nil, fmt.Errorf("error connecting to lightning backend: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mint := &Mint{
		db:              db,
		lightningClient: config.LightningClient,
		limits:          config.Limits,
		mintInfo:        config.MintInfo,
		publisher:       pubsub.NewPubSub(),
		mppEnabled:      config.EnableMPP,
		meltTimeout:     config.MeltTimeout,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}

	if offerBackend, ok := config.LightningClient.(lightning.OfferBackend); ok {
		mint.offerBackend = offerBackend
	}

	if err := mint.loadKeysets(master, seed, config.DerivationPathIdx, config.InputFeePpk); err != nil {
		cancel()
		return nil, err
	}

	mintKey, err := master.ECPubKey()
	if err != nil {
		cancel()
		return nil, err
	}
	mint.mintPubkey = hex.EncodeToString(mintKey.SerializeCompressed())

	mint.logInfof("setting up mint with active keyset '%v'", mint.activeKeyset.Id)
	return mint, nil
}

func mintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(homedir, ".gonuts", "mint")
}

func setupLogger(path string, level LogLevel) (*slog.Logger, error) {
	if level == Disable {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}

	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	logFile, err := os.OpenFile(filepath.Join(path, "mint.log"), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0660)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %v", err)
	}
	logWriter := io.MultiWriter(os.Stdout, logFile)

	logLevel := slog.LevelInfo
	if level == Debug {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       logLevel,
		ReplaceAttr: replacer,
	})), nil
}

func mintSeed(db storage.MintDB) ([]byte, error) {
	seed, err := db.GetSeed()
	if err == nil && len(seed) > 0 {
		return seed, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	seed, err = hdkeychain.GenerateSeed(32)
	if err != nil {
		return nil, err
	}
	if err := db.SaveSeed(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// loadKeysets derives the keyset at the configured derivation index and
// makes it the active one. Previously stored keysets are re-derived
// from the seed and kept inactive so their proofs stay redeemable.
func (m *Mint) loadKeysets(master *hdkeychain.ExtendedKey, seed []byte, derivationPathIdx uint32, inputFeePpk uint) error {
	dbKeysets, err := m.db.GetKeysets()
	if err != nil {
		return fmt.Errorf("error reading keysets from db: %v", err)
	}

	m.keysets = make(map[string]crypto.MintKeyset, len(dbKeysets)+1)

	// a keyset rotation bumps the derivation index past the configured
	// one, so the highest stored index wins over the config value
	activeIdx := derivationPathIdx
	for _, dbKeyset := range dbKeysets {
		if dbKeyset.DerivationPathIdx > activeIdx {
			activeIdx = dbKeyset.DerivationPathIdx
		}
	}

	for _, dbKeyset := range dbKeysets {
		active := dbKeyset.DerivationPathIdx == activeIdx
		keyset, err := crypto.GenerateKeyset(master, dbKeyset.DerivationPathIdx, dbKeyset.InputFeePpk, active)
		if err != nil {
			return err
		}
		if keyset.Id != dbKeyset.Id {
			return fmt.Errorf("derived keyset id '%v' does not match stored id '%v'", keyset.Id, dbKeyset.Id)
		}
		if dbKeyset.Active != active {
			if err := m.db.UpdateKeysetActive(keyset.Id, active); err != nil {
				return err
			}
		}
		m.keysets[keyset.Id] = *keyset
		if active {
			m.activeKeyset = keyset
		}
	}

	if m.activeKeyset == nil {
		keyset, err := crypto.GenerateKeyset(master, derivationPathIdx, inputFeePpk, true)
		if err != nil {
			return err
		}
		if err := m.db.SaveKeyset(storage.DBKeyset{
			Id:                keyset.Id,
			Unit:              keyset.Unit,
			Active:            true,
			Seed:              hex.EncodeToString(seed),
			DerivationPathIdx: derivationPathIdx,
			InputFeePpk:       inputFeePpk,
		}); err != nil {
			return fmt.Errorf("error saving keyset: %v", err)
		}
		m.keysets[keyset.Id] = *keyset
		m.activeKeyset = keyset
	}

	return nil
}

func (m *Mint) Shutdown() {
	m.cancel()
	m.db.Close()
}

func (m *Mint) logInfof(format string, args ...any) {
	m.logger.Info(fmt.Sprintf(format, args...))
}

func (m *Mint) logErrorf(format string, args ...any) {
	m.logger.Error(fmt.Sprintf(format, args...))
}

func (m *Mint) logDebugf(format string, args ...any) {
	m.logger.Debug(fmt.Sprintf(format, args...))
}

// QuoteOption customizes a mint or melt quote request with the
// method-specific fields a caller may supply.
type QuoteOption func(*quoteOptions)

type quoteOptions struct {
	description   string
	pubkey        string
	amountMsat    uint64
	mppAmountMsat uint64
}

// WithDescription sets the description to put on the invoice or offer
// backing a mint quote.
func WithDescription(description string) QuoteOption {
	return func(o *quoteOptions) {
		o.description = description
	}
}

// WithPubkey locks issuance for a mint quote to the given public key.
// Minting then requires a valid signature over the request.
func WithPubkey(pubkey string) QuoteOption {
	return func(o *quoteOptions) {
		o.pubkey = pubkey
	}
}

// WithAmountMsat sets the amount to pay on a melt quote for an
// amountless payment request.
func WithAmountMsat(amountMsat uint64) QuoteOption {
	return func(o *quoteOptions) {
		o.amountMsat = amountMsat
	}
}

// WithMppAmountMsat requests paying only the given partial amount as
// part of a multi-path payment across mints.
func WithMppAmountMsat(amountMsat uint64) QuoteOption {
	return func(o *quoteOptions) {
		o.mppAmountMsat = amountMsat
	}
}

// MintOption customizes a request to mint tokens.
type MintOption func(*mintOptions)

type mintOptions struct {
	signature string
}

// WithSignature provides the signature over the quote id and outputs
// for quotes locked to a public key.
func WithSignature(signature string) MintOption {
	return func(o *mintOptions) {
		o.signature = signature
	}
}

func (m *Mint) validatePaymentMethod(method string) (cashu.PaymentMethod, error) {
	paymentMethod := cashu.PaymentMethod(method)
	switch paymentMethod {
	case cashu.Bolt11:
		return paymentMethod, nil
	case cashu.Bolt12:
		if m.offerBackend == nil {
			return "", cashu.PaymentMethodNotSupportedErr
		}
		return paymentMethod, nil
	}
	return "", cashu.PaymentMethodNotSupportedErr
}

func validateUnit(unit string) error {
	if unit != cashu.Sat.String() {
		return cashu.BuildCashuError(fmt.Sprintf("unit '%v' not supported", unit), cashu.UnitErrCode)
	}
	return nil
}

func (m *Mint) RequestMintQuote(method string, amount uint64, unit string, options ...QuoteOption) (storage.MintQuote, error) {
	paymentMethod, err := m.validatePaymentMethod(method)
	if err != nil {
		return storage.MintQuote{}, err
	}
	if err := validateUnit(unit); err != nil {
		return storage.MintQuote{}, err
	}

	opts := &quoteOptions{}
	for _, option := range options {
		option(opts)
	}

	if len(opts.pubkey) > 0 {
		if _, err := nut11.ParsePublicKey(opts.pubkey); err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError("invalid pubkey for mint quote", cashu.StandardErrCode)
		}
	}
	if paymentMethod == cashu.Bolt12 && len(opts.pubkey) == 0 {
		return storage.MintQuote{}, cashu.BuildCashuError("pubkey required for bolt12 mint quote", cashu.StandardErrCode)
	}

	if err := m.checkMintingLimits(amount); err != nil {
		return storage.MintQuote{}, err
	}

	quoteId, err := cashu.NewQuoteId()
	if err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError("unable to generate quote id", cashu.StandardErrCode)
	}

	var paymentRequest, paymentHash string
	switch paymentMethod {
	case cashu.Bolt11:
		m.logDebugf("requesting invoice for %v from lightning backend", amount)
		invoice, err := m.lightningClient.CreateInvoice(amount, opts.description)
		if err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError(
				fmt.Sprintf("error creating invoice: %v", err), cashu.LightningBackendErrCode)
		}
		paymentRequest, paymentHash = invoice.PaymentRequest, invoice.PaymentHash
	case cashu.Bolt12:
		m.logDebugf("requesting offer for %v from lightning backend", amount)
		offer, err := m.offerBackend.CreateOffer(amount, opts.description)
		if err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError(
				fmt.Sprintf("error creating offer: %v", err), cashu.LightningBackendErrCode)
		}
		paymentRequest, paymentHash = offer.PaymentRequest, offer.PaymentHash
	}

	mintQuote := storage.MintQuote{
		Id:             quoteId.String(),
		PaymentMethod:  paymentMethod,
		Amount:         amount,
		Unit:           unit,
		PaymentRequest: paymentRequest,
		PaymentHash:    paymentHash,
		State:          nut04.Unpaid,
		Expiry:         uint64(time.Now().Add(QuoteExpiry * time.Second).Unix()),
		Pubkey:         opts.pubkey,
	}

	if err := m.db.SaveMintQuote(mintQuote); err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(
			fmt.Sprintf("error saving mint quote: %v", err), cashu.DBErrCode)
	}

	if paymentMethod == cashu.Bolt11 {
		// check in the background when the invoice gets paid
		go m.checkInvoicePaid(m.ctx, mintQuote.Id)
	}

	m.logInfof("created mint quote '%v' for %v %v", mintQuote.Id, amount, unit)
	return mintQuote, nil
}

func (m *Mint) checkMintingLimits(amount uint64) error {
	if m.limits.MintingSettings.MaxAmount > 0 && amount > m.limits.MintingSettings.MaxAmount {
		return cashu.MintAmountExceededErr
	}
	if m.limits.MintingSettings.MinAmount > 0 && amount < m.limits.MintingSettings.MinAmount {
		return cashu.BuildCashuError("amount is below minimum allowed for minting", cashu.AmountLimitExceeded)
	}

	if m.limits.MaxBalance > 0 {
		balance, err := m.db.GetBalance()
		if err != nil {
			return cashu.BuildCashuError(fmt.Sprintf("error getting balance: %v", err), cashu.DBErrCode)
		}
		newBalance, overflow := overflowAddUint64(balance, amount)
		if overflow || newBalance > m.limits.MaxBalance {
			return cashu.MintingDisabled
		}
	}
	return nil
}

func (m *Mint) GetMintQuoteState(method, quoteId string) (storage.MintQuote, error) {
	paymentMethod, err := m.validatePaymentMethod(method)
	if err != nil {
		return storage.MintQuote{}, err
	}

	mintQuote, err := m.db.GetMintQuote(quoteId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MintQuote{}, cashu.QuoteNotExistErr
		}
		return storage.MintQuote{}, cashu.BuildCashuError(
			fmt.Sprintf("error getting mint quote: %v", err), cashu.DBErrCode)
	}
	if mintQuote.PaymentMethod != paymentMethod {
		return storage.MintQuote{}, cashu.PaymentMethodNotSupportedErr
	}

	switch paymentMethod {
	case cashu.Bolt11:
		if mintQuote.State == nut04.Unpaid {
			invoice, err := m.lightningClient.InvoiceStatus(mintQuote.PaymentHash)
			if err != nil {
				return storage.MintQuote{}, cashu.BuildCashuError(
					fmt.Sprintf("error getting invoice status: %v", err), cashu.LightningBackendErrCode)
			}
			if invoice.Settled {
				mintQuote, err = m.markMintQuotePaid(mintQuote.Id, mintQuote.Amount)
				if err != nil {
					return storage.MintQuote{}, err
				}
			}
		}
	case cashu.Bolt12:
		offer, err := m.offerBackend.OfferStatus(mintQuote.PaymentHash)
		if err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError(
				fmt.Sprintf("error getting offer status: %v", err), cashu.LightningBackendErrCode)
		}
		if offer.Amount > mintQuote.AmountPaid {
			mintQuote, err = m.markMintQuotePaid(mintQuote.Id, offer.Amount)
			if err != nil {
				return storage.MintQuote{}, err
			}
		}
	}

	return mintQuote, nil
}

// markMintQuotePaid records the amount paid on a quote and marks it
// PAID if it was not already. It returns the updated quote.
func (m *Mint) markMintQuotePaid(quoteId string, amountPaid uint64) (storage.MintQuote, error) {
	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	defer tx.Rollback()

	mintQuote, err := tx.GetMintQuote(quoteId)
	if err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(fmt.Sprintf("error getting mint quote: %v", err), cashu.DBErrCode)
	}

	state := mintQuote.State
	if state == nut04.Unpaid {
		state = nut04.Paid
	}
	if err := tx.UpdateMintQuote(mintQuote.Id, amountPaid, mintQuote.AmountIssued, state); err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(fmt.Sprintf("error updating mint quote: %v", err), cashu.DBErrCode)
	}
	if err := tx.Commit(); err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(fmt.Sprintf("error committing transaction: %v", err), cashu.DBErrCode)
	}

	mintQuote.AmountPaid = amountPaid
	mintQuote.State = state
	m.publishMintQuote(mintQuote)
	m.logInfof("mint quote '%v' with payment hash '%v' is PAID", mintQuote.Id, mintQuote.PaymentHash)
	return mintQuote, nil
}

func (m *Mint) MintTokens(method, quoteId string, blindedMessages cashu.BlindedMessages, options ...MintOption) (cashu.BlindedSignatures, error) {
	paymentMethod, err := m.validatePaymentMethod(method)
	if err != nil {
		return nil, err
	}

	opts := &mintOptions{}
	for _, option := range options {
		option(opts)
	}

	// settle pending invoice state before taking the write transaction
	// so the lightning lookup does not hold the write lock
	if _, err := m.GetMintQuoteState(method, quoteId); err != nil {
		return nil, err
	}

	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	defer tx.Rollback()

	mintQuote, err := tx.GetMintQuote(quoteId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cashu.QuoteNotExistErr
		}
		return nil, cashu.BuildCashuError(fmt.Sprintf("error getting mint quote: %v", err), cashu.DBErrCode)
	}

	var totalAmount uint64
	var overflow bool
	for _, message := range blindedMessages {
		totalAmount, overflow = overflowAddUint64(totalAmount, message.Amount)
		if overflow {
			return nil, cashu.InvalidBlindedMessageAmount
		}
	}

	switch paymentMethod {
	case cashu.Bolt11:
		switch mintQuote.State {
		case nut04.Issued:
			return nil, cashu.MintQuoteAlreadyIssued
		case nut04.Unpaid:
			if time.Now().Unix() > int64(mintQuote.Expiry) {
				return nil, cashu.QuoteExpiredErr
			}
			return nil, cashu.MintQuoteRequestNotPaid
		}
		if totalAmount > mintQuote.Amount {
			return nil, cashu.OutputsOverQuoteAmountErr
		}
	case cashu.Bolt12:
		available, underflow := underflowSubUint64(mintQuote.AmountPaid, mintQuote.AmountIssued)
		if underflow || available == 0 {
			return nil, cashu.MintQuoteRequestNotPaid
		}
		if totalAmount > available {
			return nil, cashu.OutputsOverQuoteAmountErr
		}
	}

	if err := m.verifyOutputs(tx, blindedMessages); err != nil {
		return nil, err
	}

	if len(mintQuote.Pubkey) > 0 {
		if err := verifyMintQuoteSignature(mintQuote, blindedMessages, opts.signature); err != nil {
			return nil, err
		}
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}
	for i, signature := range blindedSignatures {
		if err := tx.SaveBlindSignature(blindedMessages[i].B_, signature, mintQuote.Id); err != nil {
			return nil, cashu.BuildCashuError(fmt.Sprintf("error saving signature: %v", err), cashu.DBErrCode)
		}
	}

	amountIssued, overflow := overflowAddUint64(mintQuote.AmountIssued, totalAmount)
	if overflow {
		return nil, cashu.InvalidBlindedMessageAmount
	}
	state := nut04.Issued
	if paymentMethod == cashu.Bolt12 && amountIssued < mintQuote.AmountPaid {
		// more can still be minted against the offer
		state = nut04.Paid
	}
	if err := tx.UpdateMintQuote(mintQuote.Id, mintQuote.AmountPaid, amountIssued, state); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error updating mint quote: %v", err), cashu.DBErrCode)
	}

	if err := tx.Commit(); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error committing transaction: %v", err), cashu.DBErrCode)
	}

	mintQuote.AmountIssued = amountIssued
	mintQuote.State = state
	m.publishMintQuote(mintQuote)
	m.logInfof("issued %v for mint quote '%v'", totalAmount, mintQuote.Id)

	return blindedSignatures, nil
}

func verifyMintQuoteSignature(mintQuote storage.MintQuote, blindedMessages cashu.BlindedMessages, signature string) error {
	if len(signature) == 0 {
		return cashu.MintQuoteInvalidSigErr
	}
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return cashu.MintQuoteInvalidSigErr
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return cashu.MintQuoteInvalidSigErr
	}
	pubkey, err := nut11.ParsePublicKey(mintQuote.Pubkey)
	if err != nil {
		return cashu.MintQuoteInvalidSigErr
	}
	if !nut20.VerifyMintQuoteSignature(sig, mintQuote.Id, blindedMessages, pubkey) {
		return cashu.MintQuoteInvalidSigErr
	}
	return nil
}

func (m *Mint) Swap(proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if err := m.verifyProofs(proofs); err != nil {
		return nil, err
	}
	if nut11.ProofsSigAll(proofs) {
		if err := verifySigAllSwap(proofs, blindedMessages); err != nil {
			return nil, err
		}
	}

	fees := m.TransactionFees(proofs)
	outputsPlusFees, overflow := overflowAddUint64(blindedMessages.Amount(), uint64(fees))
	if overflow || proofs.Amount() < outputsPlusFees {
		return nil, cashu.InsufficientProofsAmount
	}

	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	defer tx.Rollback()

	Ys, err := proofYs(proofs)
	if err != nil {
		return nil, cashu.InvalidProofErr
	}
	if err := checkProofsSpendable(tx, Ys); err != nil {
		return nil, err
	}
	if err := m.verifyOutputs(tx, blindedMessages); err != nil {
		return nil, err
	}

	if err := tx.AddProofs(proofs, nut07.Spent, ""); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error invalidating proofs: %v", err), cashu.DBErrCode)
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}
	for i, signature := range blindedSignatures {
		if err := tx.SaveBlindSignature(blindedMessages[i].B_, signature, ""); err != nil {
			return nil, cashu.BuildCashuError(fmt.Sprintf("error saving signature: %v", err), cashu.DBErrCode)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error committing transaction: %v", err), cashu.DBErrCode)
	}

	m.publishProofsStateChanges(proofs, nut07.Spent)
	m.logInfof("swapped %v in proofs for %v in signatures", proofs.Amount(), blindedMessages.Amount())

	return blindedSignatures, nil
}

func (m *Mint) ProofsStateCheck(Ys []string) ([]nut07.ProofState, error) {
	dbProofs, err := m.db.GetProofs(Ys)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error getting proofs: %v", err), cashu.DBErrCode)
	}

	proofsByY := make(map[string]storage.DBProof, len(dbProofs))
	for _, proof := range dbProofs {
		proofsByY[proof.Y] = proof
	}

	proofStates := make([]nut07.ProofState, len(Ys))
	for i, y := range Ys {
		state := nut07.Unspent
		var witness string
		if proof, ok := proofsByY[y]; ok {
			state = proof.State
			witness = proof.Witness
		}
		proofStates[i] = nut07.ProofState{Y: y, State: state, Witness: witness}
	}

	return proofStates, nil
}

func (m *Mint) RestoreSignatures(blindedMessages cashu.BlindedMessages) (cashu.BlindedMessages, cashu.BlindedSignatures, error) {
	outputs := cashu.BlindedMessages{}
	signatures := cashu.BlindedSignatures{}

	for _, message := range blindedMessages {
		signature, err := m.db.GetBlindSignature(message.B_)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, nil, cashu.BuildCashuError(fmt.Sprintf("error getting signature: %v", err), cashu.DBErrCode)
		}
		outputs = append(outputs, message)
		signatures = append(signatures, signature)
	}

	return outputs, signatures, nil
}

func (m *Mint) GetActiveKeyset() crypto.MintKeyset {
	return *m.activeKeyset
}

func (m *Mint) GetKeysets() map[string]crypto.MintKeyset {
	return m.keysets
}

func (m *Mint) ListKeysets() nut02.GetKeysetsResponse {
	keysets := make([]nut02.Keyset, 0, len(m.keysets))
	for _, keyset := range m.keysets {
		keysets = append(keysets, nut02.Keyset{
			Id:          keyset.Id,
			Unit:        keyset.Unit,
			Active:      keyset.Active,
			InputFeePpk: keyset.InputFeePpk,
		})
	}
	return nut02.GetKeysetsResponse{Keysets: keysets}
}

// IssuedEcash returns the total amount of blind signatures created,
// grouped by keyset id.
func (m *Mint) IssuedEcash() (map[string]uint64, error) {
	return m.db.GetIssuedEcash()
}

// RedeemedEcash returns the total amount of spent proofs, grouped by
// keyset id.
func (m *Mint) RedeemedEcash() (map[string]uint64, error) {
	return m.db.GetRedeemedEcash()
}

// RotateKeyset generates a new keyset at the next derivation index
// with the given fee, makes it the active one and inactivates the
// previous active keyset. Proofs from the previous keyset remain
// redeemable.
func (m *Mint) RotateKeyset(fee uint) (*nut02.Keyset, error) {
	seed, err := m.db.GetSeed()
	if err != nil {
		return nil, err
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	nextIdx := m.activeKeyset.DerivationPathIdx + 1
	newKeyset, err := crypto.GenerateKeyset(master, nextIdx, fee, true)
	if err != nil {
		return nil, err
	}

	if err := m.db.UpdateKeysetActive(m.activeKeyset.Id, false); err != nil {
		return nil, err
	}
	if err := m.db.SaveKeyset(storage.DBKeyset{
		Id:                newKeyset.Id,
		Unit:              newKeyset.Unit,
		Active:            true,
		Seed:              hex.EncodeToString(seed),
		DerivationPathIdx: nextIdx,
		InputFeePpk:       fee,
	}); err != nil {
		return nil, err
	}

	previous := *m.activeKeyset
	previous.Active = false
	m.keysets[previous.Id] = previous
	m.keysets[newKeyset.Id] = *newKeyset
	m.activeKeyset = newKeyset

	m.logInfof("rotated to new keyset '%v' with fee %v", newKeyset.Id, fee)

	return &nut02.Keyset{
		Id:          newKeyset.Id,
		Unit:        newKeyset.Unit,
		Active:      true,
		InputFeePpk: fee,
	}, nil
}

// TransactionFees returns the total input fee for the proofs, rounded
// up to the next whole unit.
func (m *Mint) TransactionFees(inputs cashu.Proofs) uint {
	var feePpk uint
	for _, proof := range inputs {
		feePpk += m.keysets[proof.Id].InputFeePpk
	}
	return (feePpk + 999) / 1000
}

func (m *Mint) verifyProofs(proofs cashu.Proofs) error {
	if len(proofs) == 0 {
		return cashu.NoProofsProvided
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return cashu.DuplicateProofs
	}

	for _, proof := range proofs {
		if len(proof.Secret) > maxSecretLength {
			return cashu.InvalidProofErr
		}

		keyset, ok := m.keysets[proof.Id]
		if !ok {
			return cashu.UnknownKeysetErr
		}
		keypair, ok := keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofErr
		}

		switch nut10.SecretType(proof) {
		case nut10.P2PK:
			if err := verifyP2PKLockedProof(proof); err != nil {
				return err
			}
		case nut10.HTLC:
			if err := verifyHTLCProof(proof); err != nil {
				return err
			}
		}

		C, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.InvalidProofErr
		}
		Cpoint, err := secp256k1.ParsePubKey(C)
		if err != nil {
			return cashu.InvalidProofErr
		}
		if !crypto.Verify(proof.Secret, keypair.PrivateKey, Cpoint) {
			return cashu.InvalidProofErr
		}
	}

	return nil
}

// verifyOutputs checks the blinded messages are all for the active
// keyset and have not been signed before. The already-signed check
// runs under the view of the caller's transaction.
func (m *Mint) verifyOutputs(tx storage.Tx, blindedMessages cashu.BlindedMessages) error {
	if len(blindedMessages) == 0 {
		return cashu.EmptyBodyErr
	}

	keysetId := blindedMessages[0].Id
	keyset, ok := m.keysets[keysetId]
	if !ok {
		return cashu.UnknownKeysetErr
	}
	if !keyset.Active {
		return cashu.InactiveKeysetSignatureRequest
	}

	B_s := make([]string, len(blindedMessages))
	seen := make(map[string]bool, len(blindedMessages))
	for i, message := range blindedMessages {
		if message.Id != keysetId {
			return cashu.UnknownKeysetErr
		}
		if message.Amount == 0 {
			return cashu.InvalidBlindedMessageAmount
		}
		if seen[message.B_] {
			return cashu.BuildCashuError("duplicate blinded messages", cashu.StandardErrCode)
		}
		seen[message.B_] = true
		B_s[i] = message.B_
	}

	signatures, err := tx.GetBlindSignatures(B_s)
	if err != nil {
		return cashu.BuildCashuError(fmt.Sprintf("error getting signatures: %v", err), cashu.DBErrCode)
	}
	if len(signatures) > 0 {
		return cashu.BlindedMessageAlreadySigned
	}

	return nil
}

func (m *Mint) signBlindedMessages(blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	blindedSignatures := make(cashu.BlindedSignatures, len(blindedMessages))

	for i, message := range blindedMessages {
		keyset, ok := m.keysets[message.Id]
		if !ok {
			return nil, cashu.UnknownKeysetErr
		}
		keypair, ok := keyset.Keys[message.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(message.B_)
		if err != nil {
			return nil, cashu.StandardErr
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.StandardErr
		}

		C_ := crypto.SignBlindedMessage(B_, keypair.PrivateKey)

		e, s, err := crypto.GenerateDLEQ(keypair.PrivateKey, B_, C_)
		if err != nil {
			return nil, cashu.StandardErr
		}

		blindedSignatures[i] = cashu.BlindedSignature{
			Amount: message.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     message.Id,
			DLEQ: &cashu.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			},
		}
	}

	return blindedSignatures, nil
}

func verifyP2PKLockedProof(proof cashu.Proof) error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return cashu.InvalidProofErr
	}
	p2pkTags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	var witness nut11.P2PKWitness
	if len(proof.Witness) > 0 {
		if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil {
			return nut11.InvalidWitness
		}
	}

	if p2pkTags.Locktime > 0 && time.Now().Unix() >= p2pkTags.Locktime {
		// after the locktime anyone can spend unless refund keys were set
		if len(p2pkTags.Refund) == 0 {
			return nil
		}
		if len(witness.Signatures) == 0 {
			return nut11.InvalidWitness
		}
		hash := sha256.Sum256([]byte(proof.Secret))
		if !nut11.HasValidSignatures(hash[:], witness, 1, p2pkTags.Refund) {
			return nut11.NotEnoughSignaturesErr
		}
		return nil
	}

	if len(witness.Signatures) == 0 {
		return nut11.InvalidWitness
	}

	pubkeys, err := nut11.PublicKeys(secret)
	if err != nil {
		return err
	}
	nSigs := p2pkTags.NSigs
	if nSigs == 0 {
		nSigs = 1
	}

	hash := sha256.Sum256([]byte(proof.Secret))
	if !nut11.HasValidSignatures(hash[:], witness, nSigs, pubkeys) {
		return nut11.NotEnoughSignaturesErr
	}

	return nil
}

func verifyHTLCProof(proof cashu.Proof) error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return cashu.InvalidProofErr
	}
	tags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return err
	}

	var witness nut14.HTLCWitness
	if len(proof.Witness) > 0 {
		if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil {
			return nut11.InvalidWitness
		}
	}

	if tags.Locktime > 0 && time.Now().Unix() >= tags.Locktime {
		if len(tags.Refund) == 0 {
			return nil
		}
		if len(witness.Signatures) == 0 {
			return nut11.InvalidWitness
		}
		hash := sha256.Sum256([]byte(proof.Secret))
		if !nut11.HasValidSignatures(hash[:], nut11.P2PKWitness{Signatures: witness.Signatures}, 1, tags.Refund) {
			return nut11.NotEnoughSignaturesErr
		}
		return nil
	}

	preimage, err := hex.DecodeString(witness.Preimage)
	if err != nil || len(preimage) != 32 {
		return nut14.InvalidPreimageErr
	}
	preimageHash := sha256.Sum256(preimage)
	if hex.EncodeToString(preimageHash[:]) != secret.Data {
		return nut14.InvalidPreimageErr
	}

	if len(tags.Pubkeys) > 0 {
		if len(witness.Signatures) == 0 {
			return nut11.InvalidWitness
		}
		nSigs := tags.NSigs
		if nSigs == 0 {
			nSigs = 1
		}
		hash := sha256.Sum256([]byte(proof.Secret))
		if !nut11.HasValidSignatures(hash[:], nut11.P2PKWitness{Signatures: witness.Signatures}, nSigs, tags.Pubkeys) {
			return nut11.NotEnoughSignaturesErr
		}
	}

	return nil
}

// verifySigAllSwap checks the signatures on the blinded messages when
// the inputs carry a SIG_ALL flag. All inputs must share the flag, the
// same public keys and the same signature threshold.
func verifySigAllSwap(proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) error {
	firstSecret, err := nut10.DeserializeSecret(proofs[0].Secret)
	if err != nil {
		return cashu.InvalidProofErr
	}
	firstTags, err := nut11.ParseP2PKTags(firstSecret.Tags)
	if err != nil {
		return err
	}
	pubkeys, err := nut11.PublicKeys(firstSecret)
	if err != nil {
		return err
	}
	nSigs := firstTags.NSigs
	if nSigs == 0 {
		nSigs = 1
	}

	for _, proof := range proofs[1:] {
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return cashu.InvalidProofErr
		}
		if !nut11.IsSigAll(secret) {
			return nut11.AllSigAllFlagsErr
		}
		tags, err := nut11.ParseP2PKTags(secret.Tags)
		if err != nil {
			return err
		}
		otherNSigs := tags.NSigs
		if otherNSigs == 0 {
			otherNSigs = 1
		}
		if otherNSigs != nSigs {
			return nut11.NSigsMustBeEqualErr
		}
		otherPubkeys, err := nut11.PublicKeys(secret)
		if err != nil {
			return err
		}
		if !samePublicKeys(pubkeys, otherPubkeys) {
			return nut11.SigAllKeysMustBeEqualErr
		}
	}

	for _, message := range blindedMessages {
		if len(message.Witness) == 0 {
			return nut11.InvalidWitness
		}
		var witness nut11.P2PKWitness
		if err := json.Unmarshal([]byte(message.Witness), &witness); err != nil {
			return nut11.InvalidWitness
		}

		msg, err := hex.DecodeString(message.B_)
		if err != nil {
			return cashu.StandardErr
		}
		hash := sha256.Sum256(msg)
		if !nut11.HasValidSignatures(hash[:], witness, nSigs, pubkeys) {
			return nut11.NotEnoughSignaturesErr
		}
	}

	return nil
}

func samePublicKeys(a, b []*btcec.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].IsEqual(b[i]) {
			return false
		}
	}
	return true
}

// checkProofsSpendable fails if any of the Ys is already stored, which
// means the proof is spent or reserved by a pending melt.
func checkProofsSpendable(tx storage.Tx, Ys []string) error {
	dbProofs, err := tx.GetProofs(Ys)
	if err != nil {
		return cashu.BuildCashuError(fmt.Sprintf("error getting proofs: %v", err), cashu.DBErrCode)
	}
	for _, proof := range dbProofs {
		if proof.State == nut07.Pending {
			return cashu.ProofPendingErr
		}
		return cashu.ProofAlreadyUsedErr
	}
	return nil
}

func proofYs(proofs cashu.Proofs) ([]string, error) {
	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, err
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}
	return Ys, nil
}

func (m *Mint) publishMintQuote(mintQuote storage.MintQuote) {
	jsonQuote, err := json.Marshal(mintQuote)
	if err != nil {
		return
	}
	topic := BOLT11_MINT_QUOTE_TOPIC
	if mintQuote.PaymentMethod == cashu.Bolt12 {
		topic = BOLT12_MINT_QUOTE_TOPIC
	}
	m.publisher.Publish(topic, jsonQuote)
}

func (m *Mint) publishMeltQuote(meltQuote storage.MeltQuote) {
	jsonQuote, err := json.Marshal(meltQuote)
	if err != nil {
		return
	}
	m.publisher.Publish(BOLT11_MELT_QUOTE_TOPIC, jsonQuote)
}

func (m *Mint) publishProofsStateChanges(proofs cashu.Proofs, state nut07.State) {
	proofStates := make([]nut07.ProofState, 0, len(proofs))
	for _, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			continue
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())
		proofStates = append(proofStates, nut07.ProofState{Y: Yhex, State: state, Witness: proof.Witness})
	}
	jsonStates, err := json.Marshal(proofStates)
	if err != nil {
		return
	}
	m.publisher.Publish(PROOF_STATE_TOPIC, jsonStates)
}

// RetrieveMintInfo builds the capability advertisement for the mint.
func (m *Mint) RetrieveMintInfo() (nut06.MintInfo, error) {
	mintingSettings := []nut06.MintMethodSettings{
		{
			Method:      cashu.Bolt11.String(),
			Unit:        cashu.Sat.String(),
			MinAmount:   m.limits.MintingSettings.MinAmount,
			MaxAmount:   m.limits.MintingSettings.MaxAmount,
			Description: true,
		},
	}
	meltingSettings := []nut06.MeltMethodSettings{
		{
			Method:    cashu.Bolt11.String(),
			Unit:      cashu.Sat.String(),
			MinAmount: m.limits.MeltingSettings.MinAmount,
			MaxAmount: m.limits.MeltingSettings.MaxAmount,
		},
	}

	nuts := nut06.Nuts{
		Nut04: nut06.MintSettings{Methods: mintingSettings, Disabled: false},
		Nut05: nut06.MeltSettings{Methods: meltingSettings, Disabled: false},
		Nut07: nut06.Supported{Supported: true},
		Nut08: nut06.Supported{Supported: true},
		Nut09: nut06.Supported{Supported: true},
		Nut10: nut06.Supported{Supported: true},
		Nut11: nut06.Supported{Supported: true},
		Nut12: nut06.Supported{Supported: true},
		Nut14: nut06.Supported{Supported: true},
		Nut17: &nut17.InfoSetting{
			Supported: []nut17.SupportedMethod{
				{
					Method: cashu.Bolt11.String(),
					Unit:   cashu.Sat.String(),
					Commands: []string{
						nut17.Bolt11MintQuote.String(),
						nut17.Bolt11MeltQuote.String(),
						nut17.ProofState.String(),
					},
				},
			},
		},
		Nut20: nut06.Supported{Supported: true},
	}

	if m.mppEnabled {
		nuts.Nut15 = &nut06.NutSetting{
			Methods: []nut06.MethodSetting{
				{Method: cashu.Bolt11.String(), Unit: cashu.Sat.String()},
			},
		}
	}

	if m.offerBackend != nil {
		nuts.Nut25 = &nut06.MintSettings{
			Methods: []nut06.MintMethodSettings{
				{Method: cashu.Bolt12.String(), Unit: cashu.Sat.String(), Description: true},
			},
		}
	}

	return nut06.MintInfo{
		Name:            m.mintInfo.Name,
		Pubkey:          m.mintPubkey,
		Version:         "cdk/0.3.0",
		Description:     m.mintInfo.Description,
		LongDescription: m.mintInfo.LongDescription,
		Contact:         m.mintInfo.Contact,
		Motd:            m.mintInfo.Motd,
		IconURL:         m.mintInfo.IconURL,
		URLs:            m.mintInfo.URLs,
		Time:            time.Now().Unix(),
		Nuts:            nuts,
	}, nil
}

func overflowAddUint64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return math.MaxUint64, true
	}
	return a + b, false
}

func underflowSubUint64(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, true
	}
	return a - b, false
}
