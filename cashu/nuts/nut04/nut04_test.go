package nut04

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/paymethod"
)

type testRequestFields struct {
	Description string `json:"description,omitempty"`
	Pubkey      string `json:"pubkey,omitempty"`
}

func (f testRequestFields) Validate() error          { return nil }
func (f testRequestFields) Clone() testRequestFields { return f }

type testResponseFields struct {
	AmountPaid   uint64 `json:"amount_paid"`
	AmountIssued uint64 `json:"amount_issued"`
}

func (f testResponseFields) Validate() error {
	if f.AmountIssued > f.AmountPaid {
		return errors.New("amount_issued cannot exceed amount_paid")
	}
	return nil
}
func (f testResponseFields) Clone() testResponseFields { return f }

func TestStateStringConversions(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Unpaid, "UNPAID"},
		{Paid, "PAID"},
		{Issued, "ISSUED"},
	}

	for _, test := range tests {
		if test.state.String() != test.expected {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, test.state.String())
		}
		if StringToState(test.expected) != test.state {
			t.Errorf("expected '%v' but got '%v' instead", test.state, StringToState(test.expected))
		}
	}

	if StringToState("NOT_A_STATE") != Unknown {
		t.Error("expected Unknown for unrecognized state string")
	}
}

func TestMintQuoteRequestRoundTrip(t *testing.T) {
	request := PostMintQuoteRequest[testRequestFields]{
		Amount: 1000,
		Unit:   cashu.Sat,
		Method: testRequestFields{Description: "coffee", Pubkey: "02abcd"},
	}

	data, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}

	// method fields are flattened, not nested
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["description"]; !ok {
		t.Error("expected description at top level")
	}
	if _, ok := raw["Method"]; ok {
		t.Error("method fields should not be nested")
	}

	var decoded PostMintQuoteRequest[testRequestFields]
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(request, decoded) {
		t.Errorf("expected '%v' but got '%v' instead", request, decoded)
	}
}

func TestMintQuoteResponseRoundTrip(t *testing.T) {
	quoteId, err := cashu.NewQuoteId()
	if err != nil {
		t.Fatal(err)
	}

	response := PostMintQuoteResponse[cashu.QuoteId, testResponseFields]{
		Quote:   quoteId,
		Request: "lnbc1000n1...",
		Unit:    cashu.Sat,
		State:   Paid,
		Expiry:  1756684800,
		Method:  testResponseFields{AmountPaid: 1000, AmountIssued: 500},
	}

	wire := ToWireResponse(response)
	if wire.Quote != quoteId.String() {
		t.Errorf("expected '%v' but got '%v' instead", quoteId.String(), wire.Quote)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatal(err)
	}

	var decoded PostMintQuoteResponse[string, testResponseFields]
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(wire, decoded) {
		t.Errorf("expected '%v' but got '%v' instead", wire, decoded)
	}
}

func TestMintQuoteResponseValidation(t *testing.T) {
	body := `{"quote":"q1","request":"lnbc...","unit":"sat","state":"PAID",
		"expiry":1756684800,"amount_paid":100,"amount_issued":200}`

	var decoded PostMintQuoteResponse[string, testResponseFields]
	err := json.Unmarshal([]byte(body), &decoded)
	if err == nil {
		t.Fatal("expected validation error for issued > paid")
	}
	if !strings.Contains(err.Error(), "amount_issued") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMintQuoteRequestNoFields(t *testing.T) {
	request := PostMintQuoteRequest[paymethod.NoFields]{
		Amount: 21,
		Unit:   cashu.Sat,
	}

	data, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw) != 2 {
		t.Errorf("expected only amount and unit on the wire, got %d keys", len(raw))
	}
}

func TestMintQuoteResponseInvalidState(t *testing.T) {
	body := `{"quote":"q1","request":"lnbc...","unit":"sat","state":"SETTLED","expiry":1}`

	var decoded PostMintQuoteResponse[string, testResponseFields]
	if err := json.Unmarshal([]byte(body), &decoded); err == nil {
		t.Fatal("expected error for unrecognized state string")
	}
}
