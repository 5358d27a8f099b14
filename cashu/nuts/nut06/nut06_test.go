package nut06

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMintMethodSettingsHoisting(t *testing.T) {
	tests := []struct {
		settingsJson string
		expected     bool
	}{
		// top-level flag only
		{`{"method":"bolt11","unit":"sat","description":true}`, true},
		// nested options only
		{`{"method":"bolt11","unit":"sat","options":{"description":true}}`, true},
		// top-level wins over conflicting nested
		{`{"method":"bolt11","unit":"sat","description":false,"options":{"description":true}}`, false},
		{`{"method":"bolt11","unit":"sat","description":true,"options":{"description":false}}`, true},
		// neither defaults to false
		{`{"method":"bolt11","unit":"sat"}`, false},
	}

	for _, test := range tests {
		var settings MintMethodSettings
		if err := json.Unmarshal([]byte(test.settingsJson), &settings); err != nil {
			t.Fatal(err)
		}
		if settings.Description != test.expected {
			t.Errorf("expected description '%v' for '%v' but got '%v' instead",
				test.expected, test.settingsJson, settings.Description)
		}
	}
}

func TestMintMethodSettingsWriteTopLevelOnly(t *testing.T) {
	settings := MintMethodSettings{Method: "bolt11", Unit: "sat", Description: true}

	data, err := json.Marshal(settings)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "options") {
		t.Errorf("flag should only be written at the top level, got '%v'", string(data))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["description"]) != "true" {
		t.Error("expected top-level description flag")
	}
}

func TestMeltMethodSettingsHoisting(t *testing.T) {
	tests := []struct {
		settingsJson string
		expected     bool
	}{
		{`{"method":"bolt11","unit":"sat","amountless":true}`, true},
		{`{"method":"bolt11","unit":"sat","options":{"amountless":true}}`, true},
		{`{"method":"bolt11","unit":"sat","amountless":false,"options":{"amountless":true}}`, false},
		{`{"method":"bolt11","unit":"sat"}`, false},
	}

	for _, test := range tests {
		var settings MeltMethodSettings
		if err := json.Unmarshal([]byte(test.settingsJson), &settings); err != nil {
			t.Fatal(err)
		}
		if settings.Amountless != test.expected {
			t.Errorf("expected amountless '%v' for '%v' but got '%v' instead",
				test.expected, test.settingsJson, settings.Amountless)
		}
	}
}

func TestMintInfoContactCompat(t *testing.T) {
	// old format used a list of lists for contact. It should be
	// ignored rather than fail the whole info response.
	infoJson := `{"name":"test mint","pubkey":"02abc","version":"cdk/0.1.0",
		"description":"test","contact":[["email","mint@test.com"]],"nuts":{}}`

	var info MintInfo
	if err := json.Unmarshal([]byte(infoJson), &info); err != nil {
		t.Fatal(err)
	}
	if info.Name != "test mint" {
		t.Errorf("expected 'test mint' but got '%v' instead", info.Name)
	}
	if len(info.Contact) != 0 {
		t.Errorf("expected old contact format to be dropped, got '%v'", info.Contact)
	}
}
