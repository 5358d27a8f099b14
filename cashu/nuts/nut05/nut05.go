// Package nut05 contains the melt quote types as defined in [NUT-05],
// generic over a payment method field set like their nut04
// counterparts.
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

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
	Pending
	Paid
	Failed
	// UnknownOutcome quarantines a quote whose outbound payment could
	// not be confirmed either way. Inputs stay reserved until a
	// reconciliation step resolves it to Paid or Failed.
	UnknownOutcome
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	case Failed:
		return "FAILED"
	case UnknownOutcome:
		return "UNKNOWN"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
	case "FAILED":
		return Failed
	case "UNKNOWN":
		return UnknownOutcome
	}
	return Unknown
}

func (state State) MarshalJSON() ([]byte, error) {
	if state == Unknown {
		return nil, errors.New("invalid melt quote state")
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
		return fmt.Errorf("invalid melt quote state '%v'", stateStr)
	}
	*state = stateVal
	return nil
}

// PostMeltQuoteRequest is a request for a new melt quote. The payment
// method itself travels in the request path, never in the body.
type PostMeltQuoteRequest[M paymethod.MeltRequestFields[M]] struct {
	Request string     `json:"request"`
	Unit    cashu.Unit `json:"unit"`
	Method  M          `json:"-"`
}

func (req PostMeltQuoteRequest[M]) MarshalJSON() ([]byte, error) {
	envelope, err := json.Marshal(struct {
		Request string     `json:"request"`
		Unit    cashu.Unit `json:"unit"`
	}{
		Request: req.Request,
		Unit:    req.Unit,
	})
	if err != nil {
		return nil, err
	}
	return paymethod.Flatten(envelope, req.Method)
}

func (req *PostMeltQuoteRequest[M]) UnmarshalJSON(data []byte) error {
	var fixed struct {
		Request string     `json:"request"`
		Unit    cashu.Unit `json:"unit"`
	}
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}

	remainder, err := paymethod.StripFixed(data, "request", "unit")
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

	req.Request = fixed.Request
	req.Unit = fixed.Unit
	req.Method = method
	return nil
}

// PostMeltQuoteResponse is the state of a melt quote.
type PostMeltQuoteResponse[Q any, M paymethod.MeltResponseFields[M]] struct {
	Quote  Q          `json:"quote"`
	Amount uint64     `json:"amount"`
	Unit   cashu.Unit `json:"unit"`
	State  State      `json:"state"`
	Expiry uint64     `json:"expiry"`
	Method M          `json:"-"`
}

func (res PostMeltQuoteResponse[Q, M]) MarshalJSON() ([]byte, error) {
	envelope, err := json.Marshal(struct {
		Quote  Q          `json:"quote"`
		Amount uint64     `json:"amount"`
		Unit   cashu.Unit `json:"unit"`
		State  State      `json:"state"`
		Expiry uint64     `json:"expiry"`
	}{
		Quote:  res.Quote,
		Amount: res.Amount,
		Unit:   res.Unit,
		State:  res.State,
		Expiry: res.Expiry,
	})
	if err != nil {
		return nil, err
	}
	return paymethod.Flatten(envelope, res.Method)
}

// UnmarshalJSON tolerates peers that emit a legacy boolean "paid"
// instead of a state string. A state string is authoritative when
// present. Otherwise paid=true maps to PAID and paid=false to UNPAID.
// With neither present the quote is rejected.
func (res *PostMeltQuoteResponse[Q, M]) UnmarshalJSON(data []byte) error {
	var fixed struct {
		Quote  Q          `json:"quote"`
		Amount uint64     `json:"amount"`
		Unit   cashu.Unit `json:"unit"`
		State  *string    `json:"state"`
		Paid   *bool      `json:"paid"`
		Expiry uint64     `json:"expiry"`
	}
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}

	var state State
	switch {
	case fixed.State != nil:
		stateVal := StringToState(*fixed.State)
		if stateVal == Unknown {
			return fmt.Errorf("invalid melt quote state '%v'", *fixed.State)
		}
		state = stateVal
	case fixed.Paid != nil:
		// a legacy peer saying paid=false might actually mean it
		// does not know. Preserved as UNPAID for compatibility.
		if *fixed.Paid {
			state = Paid
		} else {
			state = Unpaid
		}
	default:
		return errors.New("state or paid must be defined")
	}

	remainder, err := paymethod.StripFixed(data, "quote", "amount", "unit", "state", "paid", "expiry")
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
	res.Amount = fixed.Amount
	res.Unit = fixed.Unit
	res.State = state
	res.Expiry = fixed.Expiry
	res.Method = method
	return nil
}

// ToWireResponse converts an internal quote response to its wire
// representation with the quote id as a plain string.
func ToWireResponse[M paymethod.MeltResponseFields[M]](
	res PostMeltQuoteResponse[cashu.QuoteId, M],
) PostMeltQuoteResponse[string, M] {
	return PostMeltQuoteResponse[string, M]{
		Quote:  res.Quote.String(),
		Amount: res.Amount,
		Unit:   res.Unit,
		State:  res.State,
		Expiry: res.Expiry,
		Method: res.Method.Clone(),
	}
}

type PostMeltRequest struct {
	Quote   string                `json:"quote"`
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}
