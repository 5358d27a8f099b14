// Package paymethod defines the per-payment-method field contracts
// for mint and melt quotes. Each payment method contributes its own
// request and response fields which are flattened into the shared
// quote envelope on the wire. The four contracts are distinct types
// so a bolt12 request cannot be used where a bolt11 response belongs.
package paymethod

import (
	"encoding/json"
	"fmt"
)

// MintRequestFields are the method-specific fields of a mint quote
// request. M must be the implementing type itself so Clone returns
// a concrete value.
type MintRequestFields[M any] interface {
	Validate() error
	Clone() M
}

// MintResponseFields are the method-specific fields of a mint quote
// response.
type MintResponseFields[M any] interface {
	Validate() error
	Clone() M
}

// MeltRequestFields are the method-specific fields of a melt quote
// request.
type MeltRequestFields[M any] interface {
	Validate() error
	Clone() M
}

// MeltResponseFields are the method-specific fields of a melt quote
// response.
type MeltResponseFields[M any] interface {
	Validate() error
	Clone() M
}

// NoFields is the empty contribution. It marshals to no JSON keys at
// all, so quotes for methods without extra fields look exactly like
// the plain envelope on the wire.
type NoFields struct{}

func (NoFields) Validate() error { return nil }

func (n NoFields) Clone() NoFields { return n }

func (NoFields) MarshalJSON() ([]byte, error) {
	return []byte("{}"), nil
}

func (*NoFields) UnmarshalJSON([]byte) error {
	return nil
}

// CustomFields carries the fields of a payment method this
// implementation has no concrete type for. Keys are preserved
// untouched so a quote can round-trip through a mint that does not
// understand the method.
type CustomFields struct {
	Fields map[string]json.RawMessage
}

func (c CustomFields) Validate() error {
	for k := range c.Fields {
		if len(k) == 0 {
			return fmt.Errorf("custom field with empty key")
		}
	}
	return nil
}

func (c CustomFields) Clone() CustomFields {
	if c.Fields == nil {
		return CustomFields{}
	}
	fields := make(map[string]json.RawMessage, len(c.Fields))
	for k, v := range c.Fields {
		raw := make(json.RawMessage, len(v))
		copy(raw, v)
		fields[k] = raw
	}
	return CustomFields{Fields: fields}
}

func (c CustomFields) MarshalJSON() ([]byte, error) {
	if c.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.Fields)
}

func (c *CustomFields) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Fields)
}

// StripFixed removes the envelope's fixed keys from a quote's JSON
// object and returns the remaining keys as an object. The remainder
// is what the method-specific field parser gets to see.
func StripFixed(data []byte, fixedKeys ...string) ([]byte, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, key := range fixedKeys {
		delete(all, key)
	}
	return json.Marshal(all)
}

// Flatten merges the method-specific fields of a quote into the
// envelope's JSON object. Envelope keys win on collision so a method
// cannot shadow fields like "quote" or "state".
func Flatten(envelope []byte, fields any) ([]byte, error) {
	fieldsJson, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(fieldsJson, &merged); err != nil {
		return nil, fmt.Errorf("method fields must be a JSON object: %v", err)
	}

	var envelopeMap map[string]json.RawMessage
	if err := json.Unmarshal(envelope, &envelopeMap); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage, len(envelopeMap))
	}
	for k, v := range envelopeMap {
		merged[k] = v
	}

	return json.Marshal(merged)
}
