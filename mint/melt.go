package mint

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut04"
	"github.com/asmogo/cdk/cashu/nuts/nut05"
	"github.com/asmogo/cdk/cashu/nuts/nut07"
	"github.com/asmogo/cdk/cashu/nuts/nut11"
	"github.com/asmogo/cdk/mint/lightning"
	"github.com/asmogo/cdk/mint/storage"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// how long to wait on the payment status lookup when reconciling a
// pending outgoing payment
const paymentStatusTimeout = time.Second * 5

// MeltResult is the outcome of a melt. Change carries signatures over
// the blank outputs when the inputs overpaid the quote.
type MeltResult struct {
	storage.MeltQuote
	Change cashu.BlindedSignatures
}

type MeltOption func(*meltOptions)

type meltOptions struct {
	changeOutputs cashu.BlindedMessages
}

// WithChangeOutputs sets blank outputs the mint can sign to return any
// overpaid amount. The mint picks the amounts, so the amounts on the
// messages are ignored.
func WithChangeOutputs(outputs cashu.BlindedMessages) MeltOption {
	return func(opts *meltOptions) {
		opts.changeOutputs = outputs
	}
}

func (m *Mint) RequestMeltQuote(method, request, unit string, options ...QuoteOption) (storage.MeltQuote, error) {
	paymentMethod, err := m.validatePaymentMethod(method)
	if err != nil {
		return storage.MeltQuote{}, err
	}
	if err := validateUnit(unit); err != nil {
		return storage.MeltQuote{}, err
	}
	if paymentMethod != cashu.Bolt11 {
		return storage.MeltQuote{}, cashu.PaymentMethodNotSupportedErr
	}

	opts := &quoteOptions{}
	for _, option := range options {
		option(opts)
	}
	if opts.mppAmountMsat > 0 && !m.mppEnabled {
		return storage.MeltQuote{}, cashu.BuildCashuError(
			"multi-path payments are not enabled", cashu.PaymentMethodErrCode)
	}

	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(
			fmt.Sprintf("invalid payment request: %v", err), cashu.MeltQuoteErrCode)
	}

	var amount uint64
	switch {
	case opts.mppAmountMsat > 0:
		if opts.mppAmountMsat%1000 != 0 {
			return storage.MeltQuote{}, cashu.BuildCashuError(
				"mpp amount_msat must be a whole number of sats", cashu.MeltQuoteErrCode)
		}
		amount = opts.mppAmountMsat / 1000
		if bolt11.MSatoshi > 0 && amount >= uint64(bolt11.MSatoshi)/1000 {
			return storage.MeltQuote{}, cashu.BuildCashuError(
				"mpp amount must be less than invoice amount", cashu.MeltQuoteErrCode)
		}
	case bolt11.MSatoshi > 0:
		amount = uint64(bolt11.MSatoshi) / 1000
	default:
		// amountless invoice, caller has to set the amount to pay
		if opts.amountMsat == 0 {
			return storage.MeltQuote{}, cashu.AmountlessInvoiceNotSupported
		}
		amount = opts.amountMsat / 1000
	}
	if amount == 0 {
		return storage.MeltQuote{}, cashu.BuildCashuError("amount to melt cannot be zero", cashu.MeltQuoteErrCode)
	}

	if err := m.checkMeltingLimits(amount); err != nil {
		return storage.MeltQuote{}, err
	}

	// reject a second quote while one for the same request could still
	// get paid. Paying the same invoice twice cannot succeed.
	if _, err := m.db.GetMeltQuoteByPaymentRequest(request); err == nil {
		return storage.MeltQuote{}, cashu.MeltQuoteForRequestExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return storage.MeltQuote{}, cashu.BuildCashuError(
			fmt.Sprintf("error getting melt quote: %v", err), cashu.DBErrCode)
	}

	quoteId, err := cashu.NewQuoteId()
	if err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError("unable to generate quote id", cashu.StandardErrCode)
	}

	// an invoice generated by this same mint gets settled internally so
	// no lightning fee reserve is needed
	feeReserve := m.lightningClient.FeeReserve(amount)
	if _, err := m.db.GetMintQuoteByPaymentHash(bolt11.PaymentHash); err == nil {
		feeReserve = 0
	}

	meltQuote := storage.MeltQuote{
		Id:             quoteId.String(),
		PaymentMethod:  paymentMethod,
		InvoiceRequest: request,
		PaymentHash:    bolt11.PaymentHash,
		Amount:         amount,
		FeeReserve:     feeReserve,
		Unit:           unit,
		State:          nut05.Unpaid,
		Expiry:         uint64(time.Now().Add(QuoteExpiry * time.Second).Unix()),
	}
	if err := m.db.SaveMeltQuote(meltQuote); err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(
			fmt.Sprintf("error saving melt quote: %v", err), cashu.DBErrCode)
	}

	m.logInfof("created melt quote '%v' for %v %v", meltQuote.Id, amount, unit)
	return meltQuote, nil
}

func (m *Mint) checkMeltingLimits(amount uint64) error {
	if m.limits.MeltingSettings.MaxAmount > 0 && amount > m.limits.MeltingSettings.MaxAmount {
		return cashu.MeltAmountExceededErr
	}
	if m.limits.MeltingSettings.MinAmount > 0 && amount < m.limits.MeltingSettings.MinAmount {
		return cashu.BuildCashuError("amount is below minimum allowed for melting", cashu.AmountLimitExceeded)
	}
	return nil
}

// MeltTokens redeems the proofs to pay the payment request on the melt
// quote. Proofs stay reserved while the outbound payment is in flight
// and only get spent once the payment is known to have succeeded.
func (m *Mint) MeltTokens(
	ctx context.Context,
	method, quoteId string,
	proofs cashu.Proofs,
	options ...MeltOption,
) (MeltResult, error) {
	if _, err := m.validatePaymentMethod(method); err != nil {
		return MeltResult{}, err
	}

	opts := &meltOptions{}
	for _, option := range options {
		option(opts)
	}

	meltQuote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MeltResult{}, cashu.QuoteNotExistErr
		}
		return MeltResult{}, cashu.BuildCashuError(
			fmt.Sprintf("error getting melt quote: %v", err), cashu.DBErrCode)
	}
	switch meltQuote.State {
	case nut05.Paid:
		return MeltResult{}, cashu.MeltQuoteAlreadyPaid
	case nut05.Pending:
		return MeltResult{}, cashu.MeltQuotePending
	case nut05.UnknownOutcome:
		return MeltResult{}, cashu.MeltQuoteUnknownStateErr
	}
	if time.Now().Unix() > int64(meltQuote.Expiry) {
		return MeltResult{}, cashu.QuoteExpiredErr
	}

	if err := m.verifyProofs(proofs); err != nil {
		return MeltResult{}, err
	}
	if nut11.ProofsSigAll(proofs) {
		return MeltResult{}, nut11.SigAllOnlySwap
	}

	fees := m.TransactionFees(proofs)
	needed, overflow := overflowAddUint64(meltQuote.Amount, meltQuote.FeeReserve)
	needed, overflow2 := overflowAddUint64(needed, uint64(fees))
	if overflow || overflow2 || proofs.Amount() < needed {
		return MeltResult{}, cashu.InsufficientProofsAmount
	}
	// anything above what the quote asked for comes back as change if
	// the caller supplied blank outputs for it
	changeAmount := proofs.Amount() - needed

	Ys, err := proofYs(proofs)
	if err != nil {
		return MeltResult{}, cashu.InvalidProofErr
	}

	// quote for an invoice this mint itself issued settles internally
	// without a lightning payment
	if mintQuote, err := m.db.GetMintQuoteByPaymentHash(meltQuote.PaymentHash); err == nil {
		return m.settleInternally(meltQuote, mintQuote, proofs, Ys, opts.changeOutputs, changeAmount)
	}

	// reserve the proofs and mark the quote pending before paying so a
	// crash mid-payment cannot double-spend them
	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	if err := func() error {
		if err := checkProofsSpendable(tx, Ys); err != nil {
			return err
		}
		if err := m.verifyChangeOutputs(tx, opts.changeOutputs); err != nil {
			return err
		}
		if err := tx.AddProofs(proofs, nut07.Pending, meltQuote.Id); err != nil {
			return cashu.BuildCashuError(fmt.Sprintf("error reserving proofs: %v", err), cashu.DBErrCode)
		}
		if err := tx.UpdateMeltQuote(meltQuote.Id, "", nut05.Pending); err != nil {
			return cashu.BuildCashuError(fmt.Sprintf("error updating melt quote: %v", err), cashu.DBErrCode)
		}
		return tx.Commit()
	}(); err != nil {
		tx.Rollback()
		return MeltResult{}, err
	}
	meltQuote.State = nut05.Pending
	m.publishProofsStateChanges(proofs, nut07.Pending)

	paymentCtx := ctx
	if m.meltTimeout != nil {
		var cancel context.CancelFunc
		paymentCtx, cancel = context.WithTimeout(ctx, *m.meltTimeout)
		defer cancel()
	}

	m.logInfof("paying invoice for melt quote '%v'", meltQuote.Id)
	payment, paymentErr := m.payMeltInvoice(paymentCtx, meltQuote)

	if paymentErr != nil || payment.PaymentStatus == lightning.Pending || payment.PaymentStatus == lightning.Unknown {
		// could not confirm the outcome here, reconcile through the
		// backend's view of the outgoing payment
		return m.reconcileMeltQuote(meltQuote, Ys, opts.changeOutputs, changeAmount)
	}

	switch payment.PaymentStatus {
	case lightning.Succeeded:
		return m.settleMeltQuote(meltQuote, Ys, payment.Preimage, opts.changeOutputs, changeAmount)
	case lightning.Failed:
		m.logInfof("payment for melt quote '%v' failed", meltQuote.Id)
		quote, err := m.releaseMeltQuote(meltQuote, Ys)
		return MeltResult{MeltQuote: quote}, err
	}

	return m.reconcileMeltQuote(meltQuote, Ys, opts.changeOutputs, changeAmount)
}

func (m *Mint) payMeltInvoice(ctx context.Context, meltQuote storage.MeltQuote) (lightning.PaymentStatus, error) {
	bolt11, err := decodepay.Decodepay(meltQuote.InvoiceRequest)
	if err != nil {
		return lightning.PaymentStatus{}, err
	}

	// amountless invoices and partial payments carry the amount to pay
	// on the quote instead of the invoice
	amountMsat := meltQuote.Amount * 1000
	if uint64(bolt11.MSatoshi) != amountMsat {
		return m.lightningClient.PayPartialAmount(ctx, meltQuote.InvoiceRequest, amountMsat, meltQuote.FeeReserve)
	}
	return m.lightningClient.SendPayment(ctx, meltQuote.InvoiceRequest, meltQuote.FeeReserve)
}

// settleInternally marks the melt quote and its matching mint quote
// paid in one transaction, transferring the amount without touching
// the lightning backend.
func (m *Mint) settleInternally(
	meltQuote storage.MeltQuote,
	mintQuote storage.MintQuote,
	proofs cashu.Proofs,
	Ys []string,
	changeOutputs cashu.BlindedMessages,
	changeAmount uint64,
) (MeltResult, error) {
	if mintQuote.State == nut04.Issued {
		return MeltResult{}, cashu.MintQuoteAlreadyIssued
	}
	if meltQuote.Amount != mintQuote.Amount {
		return MeltResult{}, cashu.BuildCashuError(
			"amounts in mint and melt quotes do not match", cashu.MeltQuoteErrCode)
	}

	m.logInfof("settling internally melt quote '%v' with mint quote '%v'", meltQuote.Id, mintQuote.Id)

	preimage, err := randomPreimage()
	if err != nil {
		return MeltResult{}, cashu.StandardErr
	}

	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	defer tx.Rollback()

	if err := checkProofsSpendable(tx, Ys); err != nil {
		return MeltResult{}, err
	}
	if err := m.verifyChangeOutputs(tx, changeOutputs); err != nil {
		return MeltResult{}, err
	}
	if err := tx.AddProofs(proofs, nut07.Spent, meltQuote.Id); err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error invalidating proofs: %v", err), cashu.DBErrCode)
	}
	if err := tx.UpdateMeltQuote(meltQuote.Id, preimage, nut05.Paid); err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error updating melt quote: %v", err), cashu.DBErrCode)
	}
	mintState := mintQuote.State
	if mintState == nut04.Unpaid {
		mintState = nut04.Paid
	}
	if err := tx.UpdateMintQuote(mintQuote.Id, mintQuote.Amount, mintQuote.AmountIssued, mintState); err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error updating mint quote: %v", err), cashu.DBErrCode)
	}
	change, err := m.signChange(tx, meltQuote.Id, changeOutputs, changeAmount)
	if err != nil {
		return MeltResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error committing transaction: %v", err), cashu.DBErrCode)
	}

	meltQuote.State = nut05.Paid
	meltQuote.Preimage = preimage
	mintQuote.AmountPaid = mintQuote.Amount
	mintQuote.State = mintState

	m.publishProofsStateChanges(proofs, nut07.Spent)
	m.publishMeltQuote(meltQuote)
	m.publishMintQuote(mintQuote)

	return MeltResult{MeltQuote: meltQuote, Change: change}, nil
}

// settleMeltQuote spends the reserved proofs and marks the quote paid.
// Change over the blank outputs is signed in the same transaction.
func (m *Mint) settleMeltQuote(
	meltQuote storage.MeltQuote,
	Ys []string,
	preimage string,
	changeOutputs cashu.BlindedMessages,
	changeAmount uint64,
) (MeltResult, error) {
	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	defer tx.Rollback()

	if err := tx.SetProofsState(Ys, nut07.Spent); err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error invalidating proofs: %v", err), cashu.DBErrCode)
	}
	if err := tx.UpdateMeltQuote(meltQuote.Id, preimage, nut05.Paid); err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error updating melt quote: %v", err), cashu.DBErrCode)
	}
	change, err := m.signChange(tx, meltQuote.Id, changeOutputs, changeAmount)
	if err != nil {
		return MeltResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("error committing transaction: %v", err), cashu.DBErrCode)
	}

	meltQuote.State = nut05.Paid
	meltQuote.Preimage = preimage
	m.publishMeltQuote(meltQuote)
	m.logInfof("melt quote '%v' is PAID", meltQuote.Id)
	return MeltResult{MeltQuote: meltQuote, Change: change}, nil
}

// releaseMeltQuote removes the reserved proofs after a failed payment
// so they become spendable again and sets the quote back to unpaid.
func (m *Mint) releaseMeltQuote(meltQuote storage.MeltQuote, Ys []string) (storage.MeltQuote, error) {
	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	defer tx.Rollback()

	if err := tx.RemoveProofs(Ys); err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(fmt.Sprintf("error releasing proofs: %v", err), cashu.DBErrCode)
	}
	if err := tx.UpdateMeltQuote(meltQuote.Id, "", nut05.Unpaid); err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(fmt.Sprintf("error updating melt quote: %v", err), cashu.DBErrCode)
	}
	if err := tx.Commit(); err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(fmt.Sprintf("error committing transaction: %v", err), cashu.DBErrCode)
	}

	meltQuote.State = nut05.Unpaid
	meltQuote.Preimage = ""
	return meltQuote, nil
}

// reconcileMeltQuote resolves a quote whose payment outcome was not
// known when MeltTokens returned. It asks the backend for the outgoing
// payment and settles or releases accordingly. If the backend cannot
// answer, the quote and its proofs stay pending.
func (m *Mint) reconcileMeltQuote(
	meltQuote storage.MeltQuote,
	Ys []string,
	changeOutputs cashu.BlindedMessages,
	changeAmount uint64,
) (MeltResult, error) {
	ctx, cancel := context.WithTimeout(m.ctx, paymentStatusTimeout)
	defer cancel()

	payment, err := m.lightningClient.OutgoingPaymentStatus(ctx, meltQuote.PaymentHash)
	if err != nil {
		if errors.Is(err, lightning.OutgoingPaymentNotFound) {
			// backend never saw the payment so it cannot settle
			quote, err := m.releaseMeltQuote(meltQuote, Ys)
			return MeltResult{MeltQuote: quote}, err
		}
		m.logErrorf("could not confirm payment outcome for melt quote '%v': %v", meltQuote.Id, err)
		meltQuote.State = nut05.Pending
		return MeltResult{MeltQuote: meltQuote}, nil
	}

	switch payment.PaymentStatus {
	case lightning.Succeeded:
		return m.settleMeltQuote(meltQuote, Ys, payment.Preimage, changeOutputs, changeAmount)
	case lightning.Failed:
		quote, err := m.releaseMeltQuote(meltQuote, Ys)
		return MeltResult{MeltQuote: quote}, err
	case lightning.Unknown:
		// quarantine until an operator or a later check resolves it
		if meltQuote.State != nut05.UnknownOutcome {
			if err := m.setMeltQuoteState(meltQuote.Id, nut05.UnknownOutcome); err != nil {
				return MeltResult{}, err
			}
			meltQuote.State = nut05.UnknownOutcome
		}
		return MeltResult{MeltQuote: meltQuote}, nil
	}

	meltQuote.State = nut05.Pending
	return MeltResult{MeltQuote: meltQuote}, nil
}

func (m *Mint) setMeltQuoteState(quoteId string, state nut05.State) error {
	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	defer tx.Rollback()

	if err := tx.UpdateMeltQuote(quoteId, "", state); err != nil {
		return cashu.BuildCashuError(fmt.Sprintf("error updating melt quote: %v", err), cashu.DBErrCode)
	}
	return tx.Commit()
}

// GetMeltQuoteState returns the current state of the melt quote. A
// quote stuck in pending or unknown gets reconciled against the
// lightning backend first.
func (m *Mint) GetMeltQuoteState(ctx context.Context, method, quoteId string) (storage.MeltQuote, error) {
	if _, err := m.validatePaymentMethod(method); err != nil {
		return storage.MeltQuote{}, err
	}

	meltQuote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MeltQuote{}, cashu.QuoteNotExistErr
		}
		return storage.MeltQuote{}, cashu.BuildCashuError(
			fmt.Sprintf("error getting melt quote: %v", err), cashu.DBErrCode)
	}

	if meltQuote.State != nut05.Pending && meltQuote.State != nut05.UnknownOutcome {
		return meltQuote, nil
	}

	payment, err := m.lightningClient.OutgoingPaymentStatus(ctx, meltQuote.PaymentHash)
	if err != nil && !errors.Is(err, lightning.OutgoingPaymentNotFound) {
		// backend unreachable, report the stored state
		return meltQuote, nil
	}

	Ys, ysErr := m.reservedProofYs(meltQuote.Id)
	if ysErr != nil {
		return storage.MeltQuote{}, ysErr
	}

	if errors.Is(err, lightning.OutgoingPaymentNotFound) {
		return m.releaseMeltQuote(meltQuote, Ys)
	}

	switch payment.PaymentStatus {
	case lightning.Succeeded:
		result, err := m.settleMeltQuote(meltQuote, Ys, payment.Preimage, nil, 0)
		return result.MeltQuote, err
	case lightning.Failed:
		return m.releaseMeltQuote(meltQuote, Ys)
	}

	return meltQuote, nil
}

func (m *Mint) reservedProofYs(meltQuoteId string) ([]string, error) {
	tx, err := m.db.BeginTx(m.ctx)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error starting transaction: %v", err), cashu.DBErrCode)
	}
	defer tx.Rollback()

	dbProofs, err := tx.GetProofsByMeltQuote(meltQuoteId)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error getting proofs: %v", err), cashu.DBErrCode)
	}
	Ys := make([]string, len(dbProofs))
	for i, proof := range dbProofs {
		Ys[i] = proof.Y
	}
	return Ys, nil
}

// verifyChangeOutputs checks blank outputs before the proofs get
// reserved. Unlike swap outputs the amounts on blank outputs carry no
// meaning, the mint assigns them when it signs the change.
func (m *Mint) verifyChangeOutputs(tx storage.Tx, changeOutputs cashu.BlindedMessages) error {
	if len(changeOutputs) == 0 {
		return nil
	}

	keysetId := changeOutputs[0].Id
	keyset, ok := m.keysets[keysetId]
	if !ok {
		return cashu.UnknownKeysetErr
	}
	if !keyset.Active {
		return cashu.InactiveKeysetSignatureRequest
	}

	B_s := make([]string, len(changeOutputs))
	seen := make(map[string]bool, len(changeOutputs))
	for i, message := range changeOutputs {
		if message.Id != keysetId {
			return cashu.UnknownKeysetErr
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

// signChange signs as much of the change amount as the blank outputs
// can hold, largest denominations first.
func (m *Mint) signChange(
	tx storage.Tx,
	quoteId string,
	changeOutputs cashu.BlindedMessages,
	changeAmount uint64,
) (cashu.BlindedSignatures, error) {
	if changeAmount == 0 || len(changeOutputs) == 0 {
		return nil, nil
	}

	split := cashu.AmountSplit(changeAmount)
	if len(split) > len(changeOutputs) {
		// not enough outputs for the full split, the smallest
		// denominations get dropped
		split = split[len(split)-len(changeOutputs):]
	}

	outputs := make(cashu.BlindedMessages, len(split))
	for i, amount := range split {
		message := changeOutputs[i]
		message.Amount = amount
		outputs[i] = message
	}

	change, err := m.signBlindedMessages(outputs)
	if err != nil {
		return nil, err
	}
	for i, signature := range change {
		if err := tx.SaveBlindSignature(outputs[i].B_, signature, quoteId); err != nil {
			return nil, cashu.BuildCashuError(fmt.Sprintf("error saving signatures: %v", err), cashu.DBErrCode)
		}
	}
	return change, nil
}

func randomPreimage() (string, error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return "", err
	}
	return hex.EncodeToString(preimage), nil
}
