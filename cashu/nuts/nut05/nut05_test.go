package nut05

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/paymethod"
)

type testMeltFields struct {
	FeeReserve uint64 `json:"fee_reserve"`
	Preimage   string `json:"payment_preimage,omitempty"`
}

func (f testMeltFields) Validate() error       { return nil }
func (f testMeltFields) Clone() testMeltFields { return f }

func TestStateStringConversions(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Unpaid, "UNPAID"},
		{Pending, "PENDING"},
		{Paid, "PAID"},
		{Failed, "FAILED"},
		{UnknownOutcome, "UNKNOWN"},
	}

	for _, test := range tests {
		if test.state.String() != test.expected {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, test.state.String())
		}
		if StringToState(test.expected) != test.state {
			t.Errorf("expected '%v' but got '%v' instead", test.state, StringToState(test.expected))
		}
	}
}

func TestMeltQuoteRequestRoundTrip(t *testing.T) {
	request := PostMeltQuoteRequest[paymethod.NoFields]{
		Request: "lnbc9500n1...",
		Unit:    cashu.Sat,
	}

	data, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}

	var decoded PostMeltQuoteRequest[paymethod.NoFields]
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(request, decoded) {
		t.Errorf("expected '%v' but got '%v' instead", request, decoded)
	}
}

func TestMeltQuoteResponseRoundTrip(t *testing.T) {
	response := PostMeltQuoteResponse[string, testMeltFields]{
		Quote:  "quote-id",
		Amount: 950,
		Unit:   cashu.Sat,
		State:  Paid,
		Expiry: 1756684800,
		Method: testMeltFields{FeeReserve: 50, Preimage: "aabbcc"},
	}

	data, err := json.Marshal(response)
	if err != nil {
		t.Fatal(err)
	}

	// fee_reserve is a sibling of the fixed fields
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["fee_reserve"]; !ok {
		t.Error("expected fee_reserve at top level")
	}

	var decoded PostMeltQuoteResponse[string, testMeltFields]
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(response, decoded) {
		t.Errorf("expected '%v' but got '%v' instead", response, decoded)
	}
}

func TestMeltQuoteResponseLegacyPaid(t *testing.T) {
	tests := []struct {
		body          string
		expectedState State
		expectedErr   string
	}{
		// state string is authoritative when present
		{
			body:          `{"quote":"q1","amount":950,"unit":"sat","state":"PENDING","paid":true,"expiry":1,"fee_reserve":50}`,
			expectedState: Pending,
		},
		{
			body:          `{"quote":"q1","amount":950,"unit":"sat","paid":true,"expiry":1,"fee_reserve":50}`,
			expectedState: Paid,
		},
		{
			body:          `{"quote":"q1","amount":950,"unit":"sat","paid":false,"expiry":1,"fee_reserve":50}`,
			expectedState: Unpaid,
		},
		{
			body:        `{"quote":"q1","amount":950,"unit":"sat","expiry":1,"fee_reserve":50}`,
			expectedErr: "state or paid must be defined",
		},
		{
			body:        `{"quote":"q1","amount":950,"unit":"sat","state":"SETTLED","expiry":1,"fee_reserve":50}`,
			expectedErr: "invalid melt quote state",
		},
	}

	for _, test := range tests {
		var decoded PostMeltQuoteResponse[string, testMeltFields]
		err := json.Unmarshal([]byte(test.body), &decoded)
		if len(test.expectedErr) > 0 {
			if err == nil {
				t.Fatalf("expected error '%v' but got none", test.expectedErr)
			}
			if !strings.Contains(err.Error(), test.expectedErr) {
				t.Errorf("expected error '%v' but got '%v' instead", test.expectedErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if decoded.State != test.expectedState {
			t.Errorf("expected state '%v' but got '%v' instead", test.expectedState, decoded.State)
		}
	}
}
