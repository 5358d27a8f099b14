package cashu

import (
	"encoding/json"
	"testing"
)

func TestQuoteIdRoundTrip(t *testing.T) {
	quoteId, err := NewQuoteId()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseQuoteId(quoteId.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != quoteId {
		t.Errorf("expected '%v' but got '%v' instead", quoteId, parsed)
	}

	data, err := json.Marshal(quoteId)
	if err != nil {
		t.Fatal(err)
	}

	var decoded QuoteId
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != quoteId {
		t.Errorf("expected '%v' but got '%v' instead", quoteId, decoded)
	}
}

func TestParseQuoteIdInvalid(t *testing.T) {
	if _, err := ParseQuoteId("not-a-quote-id"); err == nil {
		t.Error("expected error for invalid quote id")
	}
}

func TestPaymentMethod(t *testing.T) {
	tests := []struct {
		method   PaymentMethod
		valid    bool
		isCustom bool
	}{
		{Bolt11, true, false},
		{Bolt12, true, false},
		{PaymentMethod("fedimint"), true, true},
		{PaymentMethod(""), false, true},
		{PaymentMethod("bad method"), false, true},
		{PaymentMethod("bad/method"), false, true},
	}

	for _, test := range tests {
		err := test.method.Validate()
		if test.valid && err != nil {
			t.Errorf("unexpected error for '%v': %v", test.method, err)
		}
		if !test.valid && err == nil {
			t.Errorf("expected error for '%v'", test.method)
		}
		if test.method.IsCustom() != test.isCustom {
			t.Errorf("expected IsCustom '%v' for '%v'", test.isCustom, test.method)
		}
	}
}

func TestUnitJSON(t *testing.T) {
	for _, unit := range []Unit{Sat, Msat, Usd, Eur} {
		data, err := json.Marshal(unit)
		if err != nil {
			t.Fatal(err)
		}

		var decoded Unit
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded != unit {
			t.Errorf("expected '%v' but got '%v' instead", unit, decoded)
		}
	}

	var invalid Unit
	if err := json.Unmarshal([]byte(`"shells"`), &invalid); err == nil {
		t.Error("expected error for unknown unit")
	}
}
