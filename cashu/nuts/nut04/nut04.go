// Package nut04 contains the mint quote types as defined in [NUT-04].
// The request and response types are generic over a payment method
// field set so every settlement rail shares one quote envelope.
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/paymethod"
)

type State int

const (
	Unpaid State = iota
	Paid
	Issued
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PAID":
		return Paid
	case "ISSUED":
		return Issued
	}
	return Unknown
}

func (state State) MarshalJSON() ([]byte, error) {
	if state == Unknown {
		return nil, errors.New("invalid mint quote state")
	}
	return json.Marshal(state.String())
}

func (state *State) UnmarshalJSON(data []byte) error {
	var stateStr string
	if err := json.Unmarshal(data, &stateStr); err != nil {
		return err
	}
	stateVal := StringToState(stateStr)
	if stateVal == Unknown {
		return fmt.Errorf("invalid mint quote state '%v'", stateStr)
	}
	*state = stateVal
	return nil
}

// PostMintQuoteRequest is a request for a new mint quote. The fields
// of M appear as siblings of amount and unit on the wire.
type PostMintQuoteRequest[M paymethod.MintRequestFields[M]] struct {
	Amount uint64     `json:"amount"`
	Unit   cashu.Unit `json:"unit"`
	Method M          `json:"-"`
}

func (req PostMintQuoteRequest[M]) MarshalJSON() ([]byte, error) {
	envelope, err := json.Marshal(struct {
		Amount uint64     `json:"amount"`
		Unit   cashu.Unit `json:"unit"`
	}{
		Amount: req.Amount,
		Unit:   req.Unit,
	})
	if err != nil {
		return nil, err
	}
	return paymethod.Flatten(envelope, req.Method)
}

func (req *PostMintQuoteRequest[M]) UnmarshalJSON(data []byte) error {
	var fixed struct {
		Amount uint64     `json:"amount"`
		Unit   cashu.Unit `json:"unit"`
	}
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}

	remainder, err := paymethod.StripFixed(data, "amount", "unit")
	if err != nil {
		return err
	}
	var method M
	if err := json.Unmarshal(remainder, &method); err != nil {
		return err
	}
	if err := method.Validate(); err != nil {
		return err
	}

	req.Amount = fixed.Amount
	req.Unit = fixed.Unit
	req.Method = method
	return nil
}

// PostMintQuoteResponse is the state of a mint quote. Q is the quote
// identifier representation: cashu.QuoteId inside the mint, plain
// string once on the wire.
type PostMintQuoteResponse[Q any, M paymethod.MintResponseFields[M]] struct {
	Quote   Q          `json:"quote"`
	Request string     `json:"request"`
	Unit    cashu.Unit `json:"unit"`
	State   State      `json:"state"`
	Expiry  uint64     `json:"expiry"`
	Method  M          `json:"-"`
}

func (res PostMintQuoteResponse[Q, M]) MarshalJSON() ([]byte, error) {
	envelope, err := json.Marshal(struct {
		Quote   Q          `json:"quote"`
		Request string     `json:"request"`
		Unit    cashu.Unit `json:"unit"`
		State   State      `json:"state"`
		Expiry  uint64     `json:"expiry"`
	}{
		Quote:   res.Quote,
		Request: res.Request,
		Unit:    res.Unit,
		State:   res.State,
		Expiry:  res.Expiry,
	})
	if err != nil {
		return nil, err
	}
	return paymethod.Flatten(envelope, res.Method)
}

func (res *PostMintQuoteResponse[Q, M]) UnmarshalJSON(data []byte) error {
	var fixed struct {
		Quote   Q          `json:"quote"`
		Request string     `json:"request"`
		Unit    cashu.Unit `json:"unit"`
		State   State      `json:"state"`
		Expiry  uint64     `json:"expiry"`
	}
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}

	remainder, err := paymethod.StripFixed(data, "quote", "request", "unit", "state", "expiry")
	if err != nil {
		return err
	}
	var method M
	if err := json.Unmarshal(remainder, &method); err != nil {
		return err
	}
	if err := method.Validate(); err != nil {
		return err
	}

	res.Quote = fixed.Quote
	res.Request = fixed.Request
	res.Unit = fixed.Unit
	res.State = fixed.State
	res.Expiry = fixed.Expiry
	res.Method = method
	return nil
}

// ToWireResponse converts an internal quote response to its wire
// representation with the quote id as a plain string.
func ToWireResponse[M paymethod.MintResponseFields[M]](
	res PostMintQuoteResponse[cashu.QuoteId, M],
) PostMintQuoteResponse[string, M] {
	return PostMintQuoteResponse[string, M]{
		Quote:   res.Quote.String(),
		Request: res.Request,
		Unit:    res.Unit,
		State:   res.State,
		Expiry:  res.Expiry,
		Method:  res.Method.Clone(),
	}
}

type PostMintRequest struct {
	Quote     string                `json:"quote"`
	Outputs   cashu.BlindedMessages `json:"outputs"`
	Signature string                `json:"signature,omitempty"`
}

type PostMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
