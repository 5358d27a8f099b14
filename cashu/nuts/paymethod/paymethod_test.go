package paymethod

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		envelope string
		fields   any
		expected map[string]any
	}{
		{
			envelope: `{"amount":21,"unit":"sat"}`,
			fields:   struct{ Description string `json:"description"` }{Description: "coffee"},
			expected: map[string]any{"amount": float64(21), "unit": "sat", "description": "coffee"},
		},
		{
			envelope: `{"amount":21,"unit":"sat"}`,
			fields:   NoFields{},
			expected: map[string]any{"amount": float64(21), "unit": "sat"},
		},
		{
			// envelope keys win on collision
			envelope: `{"amount":21}`,
			fields:   struct{ Amount uint64 `json:"amount"` }{Amount: 42},
			expected: map[string]any{"amount": float64(21)},
		},
	}

	for _, test := range tests {
		merged, err := Flatten([]byte(test.envelope), test.fields)
		if err != nil {
			t.Fatalf("Flatten error: %v", err)
		}

		var got map[string]any
		if err := json.Unmarshal(merged, &got); err != nil {
			t.Fatalf("invalid merged JSON: %v", err)
		}
		if !reflect.DeepEqual(got, test.expected) {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, got)
		}
	}
}

func TestStripFixed(t *testing.T) {
	data := []byte(`{"quote":"q1","state":"PAID","fee_reserve":10,"payment_preimage":"abc"}`)

	remainder, err := StripFixed(data, "quote", "state")
	if err != nil {
		t.Fatalf("StripFixed error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(remainder, &got); err != nil {
		t.Fatalf("invalid remainder JSON: %v", err)
	}
	expected := map[string]any{"fee_reserve": float64(10), "payment_preimage": "abc"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("expected '%v' but got '%v' instead", expected, got)
	}
}

func TestCustomFieldsRoundTrip(t *testing.T) {
	fields := CustomFields{Fields: map[string]json.RawMessage{
		"processor_ref": json.RawMessage(`"abc123"`),
		"retries":       json.RawMessage(`3`),
	}}

	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}

	var decoded CustomFields
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fields.Fields, decoded.Fields) {
		t.Errorf("expected '%v' but got '%v' instead", fields.Fields, decoded.Fields)
	}

	cloned := fields.Clone()
	cloned.Fields["retries"] = json.RawMessage(`4`)
	if string(fields.Fields["retries"]) != "3" {
		t.Error("clone shares memory with original")
	}
}

func TestNoFieldsMarshal(t *testing.T) {
	data, err := json.Marshal(NoFields{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("expected '{}' but got '%v' instead", string(data))
	}
}
