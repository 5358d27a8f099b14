// Package nut25 contains the bolt12 (Lightning offer) payment method
// fields for mint and melt quotes as defined in [NUT-25]. Offers can
// be paid multiple times, so the quote tracks cumulative paid and
// issued amounts instead of a single paid flag.
//
// [NUT-25]: https://github.com/cashubtc/nuts/blob/main/25.md
package nut25

import (
	"encoding/hex"
	"errors"

	"github.com/asmogo/cdk/cashu/nuts/nut04"
	"github.com/asmogo/cdk/cashu/nuts/nut05"
	"github.com/asmogo/cdk/cashu/nuts/nut23"
)

// MintRequestFields are the bolt12 contributions to a mint quote
// request. The pubkey is required: issuance against a reusable offer
// must be locked to a key from the start.
type MintRequestFields struct {
	Description string `json:"description,omitempty"`
	Pubkey      string `json:"pubkey"`
}

func (f MintRequestFields) Validate() error {
	if len(f.Pubkey) == 0 {
		return errors.New("pubkey required for bolt12 mint quote")
	}
	if _, err := hex.DecodeString(f.Pubkey); err != nil {
		return errors.New("pubkey must be hex encoded")
	}
	return nil
}

func (f MintRequestFields) Clone() MintRequestFields { return f }

// MintResponseFields track how much has been paid toward the offer
// and how much ecash has been issued against it so far.
type MintResponseFields struct {
	AmountPaid   uint64 `json:"amount_paid"`
	AmountIssued uint64 `json:"amount_issued"`
	Pubkey       string `json:"pubkey"`
}

func (f MintResponseFields) Validate() error {
	if f.AmountIssued > f.AmountPaid {
		return errors.New("amount_issued cannot exceed amount_paid")
	}
	return nil
}

func (f MintResponseFields) Clone() MintResponseFields { return f }

// MeltRequestFields are the bolt12 contributions to a melt quote
// request. Offers commonly carry no fixed amount, so the amount to
// pay can be supplied in msat.
type MeltRequestFields struct {
	Options *nut23.MeltOptions `json:"options,omitempty"`
}

func (f MeltRequestFields) Validate() error {
	if f.Options != nil && f.Options.Mpp != nil {
		return errors.New("mpp is not supported for bolt12")
	}
	return nil
}

func (f MeltRequestFields) Clone() MeltRequestFields {
	if f.Options == nil {
		return MeltRequestFields{}
	}
	options := &nut23.MeltOptions{}
	if f.Options.Amountless != nil {
		amountless := *f.Options.Amountless
		options.Amountless = &amountless
	}
	return MeltRequestFields{Options: options}
}

// MeltResponseFields mirror the bolt11 melt fields. Settling an offer
// still returns a fee reserve, a preimage and change.
type MeltResponseFields = nut23.MeltResponseFields

// Wire-level aliases used by wallets, with quote ids as plain strings.
type (
	PostMintQuoteBolt12Request  = nut04.PostMintQuoteRequest[MintRequestFields]
	PostMintQuoteBolt12Response = nut04.PostMintQuoteResponse[string, MintResponseFields]
	PostMeltQuoteBolt12Request  = nut05.PostMeltQuoteRequest[MeltRequestFields]
	PostMeltQuoteBolt12Response = nut05.PostMeltQuoteResponse[string, MeltResponseFields]
)
