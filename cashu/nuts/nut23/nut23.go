// Package nut23 contains the bolt11 payment method fields for mint
// and melt quotes as defined in [NUT-23].
//
// [NUT-23]: https://github.com/cashubtc/nuts/blob/main/23.md
package nut23

import (
	"encoding/hex"
	"errors"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut04"
	"github.com/asmogo/cdk/cashu/nuts/nut05"
)

// MintRequestFields are the bolt11 contributions to a mint quote
// request: an optional invoice memo and an optional pubkey to lock
// issuance to.
type MintRequestFields struct {
	Description string `json:"description,omitempty"`
	Pubkey      string `json:"pubkey,omitempty"`
}

func (f MintRequestFields) Validate() error {
	if len(f.Pubkey) > 0 {
		if _, err := hex.DecodeString(f.Pubkey); err != nil {
			return errors.New("pubkey must be hex encoded")
		}
	}
	return nil
}

func (f MintRequestFields) Clone() MintRequestFields { return f }

// MintResponseFields echo the requested amount and the lock pubkey
// back on the quote.
type MintResponseFields struct {
	Amount *uint64 `json:"amount,omitempty"`
	Pubkey string  `json:"pubkey,omitempty"`
}

func (f MintResponseFields) Validate() error { return nil }

func (f MintResponseFields) Clone() MintResponseFields {
	cloned := MintResponseFields{Pubkey: f.Pubkey}
	if f.Amount != nil {
		amount := *f.Amount
		cloned.Amount = &amount
	}
	return cloned
}

// MppOption requests a partial payment of the given amount in msat
// as part of a multi-path payment across mints.
type MppOption struct {
	Amount uint64 `json:"amount"`
}

// AmountlessOption sets the amount to pay on an invoice that does
// not carry one.
type AmountlessOption struct {
	AmountMsat uint64 `json:"amount_msat"`
}

type MeltOptions struct {
	Mpp        *MppOption        `json:"mpp,omitempty"`
	Amountless *AmountlessOption `json:"amountless,omitempty"`
}

// MeltRequestFields are the bolt11 contributions to a melt quote
// request.
type MeltRequestFields struct {
	Options *MeltOptions `json:"options,omitempty"`
}

func (f MeltRequestFields) Validate() error {
	if f.Options != nil && f.Options.Mpp != nil && f.Options.Amountless != nil {
		return errors.New("mpp and amountless options cannot be combined")
	}
	return nil
}

func (f MeltRequestFields) Clone() MeltRequestFields {
	if f.Options == nil {
		return MeltRequestFields{}
	}
	options := &MeltOptions{}
	if f.Options.Mpp != nil {
		mpp := *f.Options.Mpp
		options.Mpp = &mpp
	}
	if f.Options.Amountless != nil {
		amountless := *f.Options.Amountless
		options.Amountless = &amountless
	}
	return MeltRequestFields{Options: options}
}

// MeltResponseFields are the bolt11 contributions to a melt quote:
// the fee reserve, and once paid, the preimage and any change
// signatures returning the unspent reserve.
type MeltResponseFields struct {
	FeeReserve uint64                  `json:"fee_reserve"`
	Preimage   string                  `json:"payment_preimage,omitempty"`
	Request    string                  `json:"request,omitempty"`
	Change     cashu.BlindedSignatures `json:"change,omitempty"`
}

func (f MeltResponseFields) Validate() error { return nil }

func (f MeltResponseFields) Clone() MeltResponseFields {
	cloned := f
	if f.Change != nil {
		cloned.Change = make(cashu.BlindedSignatures, len(f.Change))
		copy(cloned.Change, f.Change)
	}
	return cloned
}

// Wire-level aliases used by wallets, with quote ids as plain strings.
type (
	PostMintQuoteBolt11Request  = nut04.PostMintQuoteRequest[MintRequestFields]
	PostMintQuoteBolt11Response = nut04.PostMintQuoteResponse[string, MintResponseFields]
	PostMeltQuoteBolt11Request  = nut05.PostMeltQuoteRequest[MeltRequestFields]
	PostMeltQuoteBolt11Response = nut05.PostMeltQuoteResponse[string, MeltResponseFields]
)
