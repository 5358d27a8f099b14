package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut03"
	"github.com/asmogo/cdk/cashu/nuts/nut04"
	"github.com/asmogo/cdk/cashu/nuts/nut05"
	"github.com/asmogo/cdk/cashu/nuts/nut11"
	"github.com/asmogo/cdk/cashu/nuts/nut12"
	"github.com/asmogo/cdk/cashu/nuts/nut13"
	"github.com/asmogo/cdk/cashu/nuts/nut15"
	"github.com/asmogo/cdk/cashu/nuts/nut23"
	"github.com/asmogo/cdk/crypto"
	"github.com/asmogo/cdk/wallet/client"
	"github.com/asmogo/cdk/wallet/storage"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrMintNotExist            = errors.New("mint does not exist")
	ErrInsufficientMintBalance = errors.New("not enough funds in selected mint")
	ErrQuoteNotFound           = errors.New("quote not found")
)

type Wallet struct {
	db storage.WalletDB

	// master key from which ecash secrets are derived
	masterKey *hdkeychain.ExtendedKey
	// key to receive locked ecash
	privateKey *btcec.PrivateKey

	unit cashu.Unit

	// default mint
	currentMint *walletMint
	// list of mints that have been trusted
	mints map[string]walletMint
}

type walletMint struct {
	mintURL         string
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
}

type Config struct {
	WalletPath     string
	CurrentMintURL string
}

// MeltResult is the outcome of paying a lightning invoice with ecash.
type MeltResult struct {
	Paid     bool
	Preimage string
}

func InitStorage(path string) (storage.WalletDB, error) {
	// bolt db atm
	return storage.InitBolt(path)
}

func LoadWallet(config Config) (*Wallet, error) {
	path := config.WalletPath
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	db, err := InitStorage(path)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	seed := db.GetSeed()
	if len(seed) == 0 {
		// create and save new seed on first time loading wallet
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, err
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}
		seed = bip39.NewSeed(mnemonic, "")
		db.SaveMnemonicSeed(mnemonic, seed)
	}

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	privateKey, err := DeriveP2PK(masterKey)
	if err != nil {
		return nil, err
	}

	wallet := &Wallet{
		db:         db,
		masterKey:  masterKey,
		privateKey: privateKey,
		unit:       cashu.Sat,
		mints:      make(map[string]walletMint),
	}

	// get previously trusted mints and their keysets from db
	for mintURL, mintKeysets := range db.GetKeysets() {
		mint := walletMint{mintURL: mintURL, inactiveKeysets: make(map[string]crypto.WalletKeyset)}
		for _, keyset := range mintKeysets {
			if keyset.Active {
				mint.activeKeyset = keyset
			} else {
				mint.inactiveKeysets[keyset.Id] = keyset
			}
		}
		wallet.mints[mintURL] = mint
	}

	url, err := url.Parse(config.CurrentMintURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mint url: %v", err)
	}
	mintURL := url.String()

	if mint, ok := wallet.mints[mintURL]; ok {
		// verify the keyset saved is still the active one.
		// if the mint rotated keysets, this moves the wallet to the new one
		activeKeyset, err := wallet.getActiveSatKeyset(mintURL)
		if err != nil {
			return nil, fmt.Errorf("error setting up wallet: %v", err)
		}
		mint.activeKeyset = *activeKeyset
		wallet.mints[mintURL] = mint
		wallet.currentMint = &mint
	} else {
		currentMint, err := wallet.addMint(mintURL)
		if err != nil {
			return nil, fmt.Errorf("error setting up wallet: %v", err)
		}
		wallet.currentMint = currentMint
	}

	return wallet, nil
}

// addMint adds the mint to the list of mints trusted by the wallet
func (w *Wallet) addMint(mint string) (*walletMint, error) {
	url, err := url.Parse(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint url: %v", err)
	}
	mintURL := url.String()

	activeKeyset, err := GetMintActiveKeyset(mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	if err := w.db.SaveKeyset(activeKeyset); err != nil {
		return nil, err
	}

	inactiveKeysets, err := GetMintInactiveKeysets(mintURL)
	if err != nil {
		return nil, err
	}
	for _, keyset := range inactiveKeysets {
		keyset := keyset
		if err := w.db.SaveKeyset(&keyset); err != nil {
			return nil, err
		}
	}

	newMint := walletMint{mintURL, *activeKeyset, inactiveKeysets}
	w.mints[mintURL] = newMint

	return &newMint, nil
}

// RequestMint requests a mint quote to the wallet's current mint
// for the specified amount
func (w *Wallet) RequestMint(amount uint64) (*nut23.PostMintQuoteBolt11Response, error) {
	mintRequest := nut23.PostMintQuoteBolt11Request{Amount: amount, Unit: w.unit}
	mintResponse, err := client.PostMintQuoteBolt11(w.currentMint.mintURL, mintRequest)
	if err != nil {
		return nil, err
	}

	bolt11, err := decodepay.Decodepay(mintResponse.Request)
	if err != nil {
		return nil, fmt.Errorf("error decoding bolt11 invoice: %v", err)
	}
	invoice := storage.Invoice{
		TransactionType: storage.Mint,
		Id:              mintResponse.Quote,
		QuoteAmount:     amount,
		InvoiceAmount:   uint64(bolt11.MSatoshi / 1000),
		PaymentRequest:  mintResponse.Request,
		PaymentHash:     bolt11.PaymentHash,
		CreatedAt:       int64(bolt11.CreatedAt),
		QuoteExpiry:     mintResponse.Expiry,
	}
	if err := w.db.SaveInvoice(invoice); err != nil {
		return nil, err
	}

	quote := storage.MintQuote{
		QuoteId:        mintResponse.Quote,
		Mint:           w.currentMint.mintURL,
		Method:         string(cashu.Bolt11),
		State:          mintResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: mintResponse.Request,
		Amount:         amount,
		CreatedAt:      time.Now().Unix(),
		QuoteExpiry:    mintResponse.Expiry,
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, err
	}

	return mintResponse, nil
}

// MintQuoteState returns the state of the mint quote
// from the wallet's current mint
func (w *Wallet) MintQuoteState(quoteId string) (*nut23.PostMintQuoteBolt11Response, error) {
	return client.GetMintQuoteState(w.currentMint.mintURL, quoteId)
}

// MintTokens will check whether if the mint quote has been paid.
// If yes, it will create blinded messages that will send to the mint
// to get the blinded signatures.
// If successful, it will unblind the signatures to generate proofs
// and store the proofs in the db.
func (w *Wallet) MintTokens(quoteId string) (cashu.Proofs, error) {
	quoteState, err := w.MintQuoteState(quoteId)
	if err != nil {
		return nil, err
	}
	if quoteState.State == nut04.Issued {
		return nil, errors.New("quote has already been issued")
	}
	if quoteState.State != nut04.Paid {
		return nil, errors.New("invoice not paid")
	}

	mintQuote := w.db.GetMintQuoteById(quoteId)
	if mintQuote == nil {
		return nil, ErrQuoteNotFound
	}

	activeKeyset, err := w.getActiveSatKeyset(w.currentMint.mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active sat keyset: %v", err)
	}

	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, activeKeyset.Id)
	if err != nil {
		return nil, err
	}
	counter := w.db.GetKeysetCounter(activeKeyset.Id)

	split := cashu.AmountSplit(mintQuote.Amount)
	blindedMessages, secrets, rs, err := createBlindedMessages(split, activeKeyset.Id, keysetPath, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	postMintRequest := nut04.PostMintRequest{Quote: quoteId, Outputs: blindedMessages}
	mintResponse, err := client.PostMintBolt11(w.currentMint.mintURL, postMintRequest)
	if err != nil {
		return nil, err
	}

	proofs, err := constructProofs(mintResponse.Signatures, blindedMessages, secrets, rs, activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}

	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, fmt.Errorf("error storing proofs: %v", err)
	}
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(blindedMessages))); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	// mark quote as issued and settle the invoice tied to it
	mintQuote.State = nut04.Issued
	mintQuote.SettledAt = time.Now().Unix()
	if err := w.db.SaveMintQuote(*mintQuote); err != nil {
		return nil, err
	}
	if invoice := w.db.GetInvoice(quoteId); invoice != nil {
		invoice.Paid = true
		invoice.SettledAt = time.Now().Unix()
		if err := w.db.SaveInvoice(*invoice); err != nil {
			return nil, err
		}
	}

	return proofs, nil
}

// Send will return a token with proofs for the given amount
// from the selected mint
func (w *Wallet) Send(amount uint64, mintURL string) (*cashu.Token, error) {
	selectedMint, ok := w.mints[mintURL]
	if !ok {
		return nil, ErrMintNotExist
	}

	proofsToSend, err := w.getProofsForAmount(amount, &selectedMint)
	if err != nil {
		return nil, err
	}

	token, err := cashu.NewTokenV3(proofsToSend, mintURL, cashu.Sat, true)
	if err != nil {
		return nil, err
	}

	return &token, nil
}

// Receive will obtain the proofs from the token and swap them
// with the mint for new proofs only known to this wallet.
// If swapToTrusted is set to true, it will swap the funds to
// the wallet's current mint. If false, it will add the mint
// in the token to the list of trusted mints.
func (w *Wallet) Receive(token cashu.Token, swapToTrusted bool) (uint64, error) {
	proofsToSwap := token.Proofs()
	tokenMint := token.Mint()

	if cashu.CheckDuplicateProofs(proofsToSwap) {
		return 0, errors.New("token contains duplicate proofs")
	}

	// sign any P2PK locked proofs before swapping them
	for _, proof := range proofsToSwap {
		if nut11.IsSecretP2PK(proof) {
			var err error
			proofsToSwap, err = nut11.AddSignatureToInputs(proofsToSwap, w.privateKey)
			if err != nil {
				return 0, fmt.Errorf("error signing inputs: %v", err)
			}
			break
		}
	}

	if swapToTrusted {
		amountSwapped, err := w.swapToTrusted(proofsToSwap, tokenMint)
		if err != nil {
			return 0, fmt.Errorf("error swapping token to trusted mint: %v", err)
		}
		return amountSwapped, nil
	}

	mint, ok := w.mints[tokenMint]
	if !ok {
		newMint, err := w.addMint(tokenMint)
		if err != nil {
			return 0, err
		}
		mint = *newMint
	}

	newProofs, err := w.swap(proofsToSwap, &mint)
	if err != nil {
		return 0, err
	}

	if err := w.db.SaveProofs(newProofs); err != nil {
		return 0, fmt.Errorf("error storing proofs: %v", err)
	}

	return newProofs.Amount(), nil
}

// swap sends the proofs to the mint and returns new proofs
// for the same amount minus any input fees. The returned proofs
// are not yet saved to the db.
func (w *Wallet) swap(proofsToSwap cashu.Proofs, mint *walletMint) (cashu.Proofs, error) {
	activeKeyset, err := w.getActiveSatKeyset(mint.mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active sat keyset: %v", err)
	}

	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, activeKeyset.Id)
	if err != nil {
		return nil, err
	}
	counter := w.db.GetKeysetCounter(activeKeyset.Id)

	fees := feesForProofs(proofsToSwap, mint)
	split := cashu.AmountSplit(proofsToSwap.Amount() - fees)
	outputs, secrets, rs, err := createBlindedMessages(split, activeKeyset.Id, keysetPath, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	swapRequest := nut03.PostSwapRequest{Inputs: proofsToSwap, Outputs: outputs}
	swapResponse, err := client.PostSwap(mint.mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	proofs, err := constructProofs(swapResponse.Signatures, outputs, secrets, rs, activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(outputs))); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	return proofs, nil
}

// swapToTrusted will swap the proofs from another mint
// to the wallet's current mint. It does this by requesting
// a mint quote from the current mint and paying that invoice
// from the mint in the token.
func (w *Wallet) swapToTrusted(proofsToSwap cashu.Proofs, tokenMint string) (uint64, error) {
	invoicePct := 0.99
	proofsAmount := proofsToSwap.Amount()
	amount := float64(proofsAmount) * invoicePct

	var mintResponse *nut23.PostMintQuoteBolt11Response
	var meltQuoteResponse *nut23.PostMeltQuoteBolt11Response

	for {
		var err error
		mintResponse, err = w.RequestMint(uint64(amount))
		if err != nil {
			return 0, fmt.Errorf("error requesting mint quote: %v", err)
		}

		meltRequest := nut23.PostMeltQuoteBolt11Request{Request: mintResponse.Request, Unit: w.unit}
		meltQuoteResponse, err = client.PostMeltQuoteBolt11(tokenMint, meltRequest)
		if err != nil {
			return 0, fmt.Errorf("error with melt request: %v", err)
		}

		// if amount in proofs is not enough to cover mint amount
		// plus fee reserve, lower the mint amount
		if meltQuoteResponse.Amount+meltQuoteResponse.Method.FeeReserve > proofsAmount {
			invoicePct -= 0.01
			amount *= invoicePct
		} else {
			break
		}
	}

	meltBolt11Request := nut05.PostMeltRequest{Quote: meltQuoteResponse.Quote, Inputs: proofsToSwap}
	meltResponse, err := client.PostMeltBolt11(tokenMint, meltBolt11Request)
	if err != nil {
		return 0, err
	}

	if meltResponse.State != nut05.Paid {
		return 0, errors.New("mint could not pay lightning invoice")
	}

	// invoice paid, so mint tokens at the wallet's current mint
	proofs, err := w.MintTokens(mintResponse.Quote)
	if err != nil {
		return 0, fmt.Errorf("error minting tokens: %v", err)
	}

	return proofs.Amount(), nil
}

// Melt will request the mint to pay the given invoice
func (w *Wallet) Melt(invoice string, mintURL string) (*MeltResult, error) {
	selectedMint, ok := w.mints[mintURL]
	if !ok {
		return nil, ErrMintNotExist
	}

	meltRequest := nut23.PostMeltQuoteBolt11Request{Request: invoice, Unit: w.unit}
	meltQuoteResponse, err := client.PostMeltQuoteBolt11(mintURL, meltRequest)
	if err != nil {
		return nil, err
	}
	quoteId := meltQuoteResponse.Quote

	meltQuote := storage.MeltQuote{
		QuoteId:        quoteId,
		Mint:           mintURL,
		Method:         string(cashu.Bolt11),
		State:          meltQuoteResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: invoice,
		Amount:         meltQuoteResponse.Amount,
		FeeReserve:     meltQuoteResponse.Method.FeeReserve,
		CreatedAt:      time.Now().Unix(),
		QuoteExpiry:    meltQuoteResponse.Expiry,
	}
	if err := w.db.SaveMeltQuote(meltQuote); err != nil {
		return nil, err
	}

	amountNeeded := meltQuoteResponse.Amount + meltQuoteResponse.Method.FeeReserve
	proofs, err := w.getProofsForAmount(amountNeeded, &selectedMint)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := w.getActiveSatKeyset(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active sat keyset: %v", err)
	}
	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, activeKeyset.Id)
	if err != nil {
		return nil, err
	}
	counter := w.db.GetKeysetCounter(activeKeyset.Id)

	// blank outputs to receive any change left from the fee reserve
	numBlankOutputs := calculateBlankOutputs(meltQuoteResponse.Method.FeeReserve)
	split := make([]uint64, numBlankOutputs)
	for i := range split {
		split[i] = 1
	}
	outputs, secrets, rs, err := createBlindedMessages(split, activeKeyset.Id, keysetPath, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	// set proofs to pending while the payment is in flight
	if err := w.db.AddPendingProofsByQuoteId(proofs, quoteId); err != nil {
		return nil, fmt.Errorf("error saving pending proofs: %v", err)
	}

	meltBolt11Request := nut05.PostMeltRequest{Quote: quoteId, Inputs: proofs, Outputs: outputs}
	meltBolt11Response, err := client.PostMeltBolt11(mintURL, meltBolt11Request)
	if err != nil {
		// payment failed so remove proofs from pending and add
		// them back to the wallet balance
		w.db.DeletePendingProofsByQuoteId(quoteId)
		if saveErr := w.db.SaveProofs(proofs); saveErr != nil {
			return nil, fmt.Errorf("error restoring proofs: %v", saveErr)
		}
		return nil, err
	}

	switch meltBolt11Response.State {
	case nut05.Paid:
		if err := w.db.DeletePendingProofsByQuoteId(quoteId); err != nil {
			return nil, fmt.Errorf("error removing pending proofs: %v", err)
		}

		// unblind any change the mint returned from the fee reserve
		change := meltBolt11Response.Method.Change
		if len(change) > 0 {
			if len(change) > len(outputs) {
				change = change[:len(outputs)]
			}
			changeProofs, err := constructProofs(change, outputs[:len(change)], secrets[:len(change)], rs[:len(change)], activeKeyset)
			if err != nil {
				return nil, fmt.Errorf("error unblinding change: %v", err)
			}
			if err := w.db.SaveProofs(changeProofs); err != nil {
				return nil, fmt.Errorf("error storing change proofs: %v", err)
			}
		}
		if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(outputs))); err != nil {
			return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
		}

		meltQuote.State = nut05.Paid
		meltQuote.Preimage = meltBolt11Response.Method.Preimage
		meltQuote.SettledAt = time.Now().Unix()
		if err := w.db.SaveMeltQuote(meltQuote); err != nil {
			return nil, err
		}

		return &MeltResult{Paid: true, Preimage: meltBolt11Response.Method.Preimage}, nil

	case nut05.Pending:
		// leave proofs as pending. They can be reclaimed later
		// if the payment eventually fails
		meltQuote.State = nut05.Pending
		if err := w.db.SaveMeltQuote(meltQuote); err != nil {
			return nil, err
		}
		return &MeltResult{Paid: false}, nil

	default:
		w.db.DeletePendingProofsByQuoteId(quoteId)
		if err := w.db.SaveProofs(proofs); err != nil {
			return nil, fmt.Errorf("error restoring proofs: %v", err)
		}
		return nil, errors.New("mint could not pay lightning invoice")
	}
}

// CheckPendingMeltQuotes checks the state of pending melt quotes with
// the mint. Proofs from payments that failed are put back in the wallet
// balance and proofs from payments that settled are invalidated.
func (w *Wallet) CheckPendingMeltQuotes() error {
	for _, quote := range w.db.GetMeltQuotes() {
		if quote.State != nut05.Pending {
			continue
		}

		quoteState, err := client.GetMeltQuoteState(quote.Mint, quote.QuoteId)
		if err != nil {
			return err
		}

		switch quoteState.State {
		case nut05.Paid:
			if err := w.db.DeletePendingProofsByQuoteId(quote.QuoteId); err != nil {
				return err
			}
			quote.State = nut05.Paid
			quote.Preimage = quoteState.Method.Preimage
			quote.SettledAt = time.Now().Unix()
			if err := w.db.SaveMeltQuote(quote); err != nil {
				return err
			}
		case nut05.Unpaid, nut05.Failed:
			pendingProofs := w.db.GetPendingProofsByQuoteId(quote.QuoteId)
			proofs := make(cashu.Proofs, len(pendingProofs))
			for i, pendingProof := range pendingProofs {
				proofs[i] = cashu.Proof{
					Amount: pendingProof.Amount,
					Id:     pendingProof.Id,
					Secret: pendingProof.Secret,
					C:      pendingProof.C,
					DLEQ:   pendingProof.DLEQ,
				}
			}
			if err := w.db.DeletePendingProofsByQuoteId(quote.QuoteId); err != nil {
				return err
			}
			if err := w.db.SaveProofs(proofs); err != nil {
				return err
			}
			quote.State = quoteState.State
			if err := w.db.SaveMeltQuote(quote); err != nil {
				return err
			}
		}
	}
	return nil
}

// getProofsForAmount swaps the wallet's proofs with the mint to get
// proofs for the exact amount requested. Any input fees for the swap
// are paid from the wallet balance.
func (w *Wallet) getProofsForAmount(amount uint64, mint *walletMint) (cashu.Proofs, error) {
	selectedProofs, err := w.selectProofsToSwap(amount, mint)
	if err != nil {
		return nil, err
	}
	fees := feesForProofs(selectedProofs, mint)
	totalAmount := selectedProofs.Amount()

	activeKeyset, err := w.getActiveSatKeyset(mint.mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active sat keyset: %v", err)
	}
	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, activeKeyset.Id)
	if err != nil {
		return nil, err
	}
	counter := w.db.GetKeysetCounter(activeKeyset.Id)

	send := cashu.AmountSplit(amount)
	change := cashu.AmountSplit(totalAmount - amount - fees)
	outputs, secrets, rs, err := createBlindedMessages(append(send, change...), activeKeyset.Id, keysetPath, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	swapRequest := nut03.PostSwapRequest{Inputs: selectedProofs, Outputs: outputs}
	swapResponse, err := client.PostSwap(mint.mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	// swapped proofs are now invalidated by the mint
	for _, proof := range selectedProofs {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, fmt.Errorf("error deleting swapped proofs: %v", err)
		}
	}

	proofs, err := constructProofs(swapResponse.Signatures, outputs, secrets, rs, activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(outputs))); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	// pick proofs that add up to the requested amount
	// and keep the rest as change
	proofsForAmount := make(cashu.Proofs, 0, len(send))
	remaining := proofs
	for _, sendAmount := range send {
		for i, proof := range remaining {
			if proof.Amount == sendAmount {
				proofsForAmount = append(proofsForAmount, proof)
				remaining = slices.Delete(remaining, i, i+1)
				break
			}
		}
	}
	if err := w.db.SaveProofs(remaining); err != nil {
		return nil, fmt.Errorf("error storing change proofs: %v", err)
	}

	return proofsForAmount, nil
}

// selectProofsToSwap picks proofs whose sum covers the amount plus
// the input fees to swap them. Proofs from inactive keysets are
// selected first.
func (w *Wallet) selectProofsToSwap(amount uint64, mint *walletMint) (cashu.Proofs, error) {
	proofs := cashu.Proofs{}
	for id := range mint.inactiveKeysets {
		proofs = append(proofs, w.db.GetProofsByKeysetId(id)...)
	}
	proofs = append(proofs, w.db.GetProofsByKeysetId(mint.activeKeyset.Id)...)

	selected := cashu.Proofs{}
	var selectedAmount uint64
	for _, proof := range proofs {
		selected = append(selected, proof)
		selectedAmount += proof.Amount
		if selectedAmount >= amount+feesForProofs(selected, mint) {
			return selected, nil
		}
	}

	return nil, ErrInsufficientMintBalance
}

func feesForProofs(proofs cashu.Proofs, mint *walletMint) uint64 {
	var feePpk uint
	for _, proof := range proofs {
		if proof.Id == mint.activeKeyset.Id {
			feePpk += mint.activeKeyset.InputFeePpk
			continue
		}
		if keyset, ok := mint.inactiveKeysets[proof.Id]; ok {
			feePpk += keyset.InputFeePpk
		}
	}
	return uint64((feePpk + 999) / 1000)
}

func calculateBlankOutputs(feeReserve uint64) int {
	if feeReserve == 0 {
		return 0
	}
	return int(math.Max(math.Ceil(math.Log2(float64(feeReserve))), 1))
}

// createBlindedMessages returns blinded messages for the keyset
// along with the secrets and blinding factors used. If a keyset
// derivation path is passed, secrets are derived deterministically
// starting at the counter.
func createBlindedMessages(splitAmounts []uint64, keysetId string, keysetPath *hdkeychain.ExtendedKey, counter *uint32) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	splitLen := len(splitAmounts)
	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amt := range splitAmounts {
		var secret string
		var r *secp256k1.PrivateKey
		var err error
		if keysetPath != nil && counter != nil {
			secret, r, err = generateDeterministicSecret(keysetPath, *counter)
			if err != nil {
				return nil, nil, nil, err
			}
			*counter++
		} else {
			secret, r, err = generateRandomSecret()
			if err != nil {
				return nil, nil, nil, err
			}
		}

		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	cashu.SortBlindedMessages(blindedMessages, secrets, rs)

	return blindedMessages, secrets, rs, nil
}

func generateRandomSecret() (string, *secp256k1.PrivateKey, error) {
	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", nil, err
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := hex.EncodeToString(secretBytes)

	return secret, r, nil
}

func generateDeterministicSecret(path *hdkeychain.ExtendedKey, counter uint32) (
	string, *secp256k1.PrivateKey, error) {

	r, err := nut13.DeriveBlindingFactor(path, counter)
	if err != nil {
		return "", nil, err
	}

	secret, err := nut13.DeriveSecret(path, counter)
	if err != nil {
		return "", nil, err
	}

	return secret, r, nil
}

// constructProofs unblinds the signatures and returns the proofs.
// It will also verify the DLEQ proofs if the mint returned them.
func constructProofs(
	blindedSignatures cashu.BlindedSignatures,
	blindedMessages cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, error) {

	sigsLength := len(blindedSignatures)
	if sigsLength != len(secrets) || sigsLength != len(rs) {
		return nil, errors.New("lengths do not match")
	}

	proofs := make(cashu.Proofs, sigsLength)
	for i, blindedSignature := range blindedSignatures {
		pubkey, ok := keyset.PublicKeys[blindedSignature.Amount]
		if !ok {
			return nil, errors.New("key not found")
		}

		var dleq *cashu.DLEQProof
		if blindedSignature.DLEQ != nil {
			if !nut12.VerifyBlindSignatureDLEQ(
				*blindedSignature.DLEQ,
				pubkey,
				blindedMessages[i].B_,
				blindedSignature.C_,
			) {
				return nil, errors.New("got blinded signature with invalid DLEQ proof")
			}
			dleq = &cashu.DLEQProof{
				E: blindedSignature.DLEQ.E,
				S: blindedSignature.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}

		C, err := unblindSignature(blindedSignature.C_, rs[i], pubkey)
		if err != nil {
			return nil, err
		}

		proofs[i] = cashu.Proof{
			Amount: blindedSignature.Amount,
			Secret: secrets[i],
			C:      C,
			Id:     blindedSignature.Id,
			DLEQ:   dleq,
		}
	}

	return proofs, nil
}

func unblindSignature(C_str string, r *secp256k1.PrivateKey, key *secp256k1.PublicKey) (
	string, error) {
	C_bytes, err := hex.DecodeString(C_str)
	if err != nil {
		return "", err
	}
	C_, err := secp256k1.ParsePubKey(C_bytes)
	if err != nil {
		return "", err
	}

	C := crypto.UnblindSignature(C_, r, key)
	Cstr := hex.EncodeToString(C.SerializeCompressed())
	return Cstr, nil
}

// GetBalance returns the total balance aggregated from all mints
func (w *Wallet) GetBalance() uint64 {
	return w.db.GetProofs().Amount()
}

// GetBalanceByMints returns a map of each mint and its balance
func (w *Wallet) GetBalanceByMints() map[string]uint64 {
	mintsBalances := make(map[string]uint64, len(w.mints))

	for mintURL, mint := range w.mints {
		var mintBalance uint64
		mintBalance += w.db.GetProofsByKeysetId(mint.activeKeyset.Id).Amount()
		for keysetId := range mint.inactiveKeysets {
			mintBalance += w.db.GetProofsByKeysetId(keysetId).Amount()
		}
		mintsBalances[mintURL] = mintBalance
	}

	return mintsBalances
}

// CurrentMint returns the url of the wallet's current mint
func (w *Wallet) CurrentMint() string {
	return w.currentMint.mintURL
}

// MppSupported reports whether the mint can take a partial payment
// for the given payment method in the wallet's unit.
func (w *Wallet) MppSupported(mintURL string, method cashu.PaymentMethod) (bool, error) {
	mintInfo, err := client.GetMintInfo(mintURL)
	if err != nil {
		return false, fmt.Errorf("error getting info from mint: %v", err)
	}
	return nut15.IsMppSupported(*mintInfo, method, w.unit), nil
}

// TrustedMints returns the list of mints the wallet has ecash from
// or has interacted with
func (w *Wallet) TrustedMints() []string {
	trustedMints := make([]string, 0, len(w.mints))
	for mintURL := range w.mints {
		trustedMints = append(trustedMints, mintURL)
	}
	return trustedMints
}

// GetReceivePubkey returns the public key to which ecash can be locked
func (w *Wallet) GetReceivePubkey() *btcec.PublicKey {
	return w.privateKey.PubKey()
}

// Mnemonic returns the wallet's seed phrase
func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

func (w *Wallet) GetInvoiceByPaymentRequest(pr string) (*storage.Invoice, error) {
	if _, err := decodepay.Decodepay(pr); err != nil {
		return nil, fmt.Errorf("invalid payment request: %v", err)
	}
	return w.db.GetInvoiceByPaymentRequest(pr), nil
}

func (w *Wallet) GetInvoiceByPaymentHash(hash string) *storage.Invoice {
	for _, invoice := range w.db.GetInvoices() {
		if invoice.PaymentHash == hash {
			return &invoice
		}
	}
	return nil
}

// GetAllInvoices returns all invoices from the wallet
func (w *Wallet) GetAllInvoices() []storage.Invoice {
	return w.db.GetInvoices()
}
