package crypto

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

func TestGenerateKeyset(t *testing.T) {
	seed, err := hdkeychain.GenerateSeed(32)
	if err != nil {
		t.Fatalf("error generating seed: %v", err)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("error deriving master key: %v", err)
	}

	keyset, err := GenerateKeyset(master, 0, 100, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	if len(keyset.Keys) != MAX_ORDER {
		t.Errorf("expected '%v' keys but got '%v'", MAX_ORDER, len(keyset.Keys))
	}
	if !strings.HasPrefix(keyset.Id, "00") || len(keyset.Id) != 16 {
		t.Errorf("got invalid keyset id '%v'", keyset.Id)
	}
	if keyset.InputFeePpk != 100 {
		t.Errorf("expected input fee ppk '100' but got '%v'", keyset.InputFeePpk)
	}

	// same seed and index should derive the same keyset
	sameKeyset, err := GenerateKeyset(master, 0, 100, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}
	if keyset.Id != sameKeyset.Id {
		t.Errorf("got different keyset ids '%v' and '%v' from same derivation", keyset.Id, sameKeyset.Id)
	}

	// different index derives a different keyset
	rotated, err := GenerateKeyset(master, 1, 100, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}
	if keyset.Id == rotated.Id {
		t.Error("got same keyset id from different derivation path index")
	}

	// id derivable by a wallet from the public keys only
	pubkeys, err := MapPubKeys(keyset.PublicKeys())
	if err != nil {
		t.Fatalf("error parsing public keys: %v", err)
	}
	if derived := DeriveKeysetId(pubkeys); derived != keyset.Id {
		t.Errorf("derived id '%v' does not match keyset id '%v'", derived, keyset.Id)
	}
}

func TestWalletKeysetJSON(t *testing.T) {
	seed, _ := hdkeychain.GenerateSeed(32)
	master, _ := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	mintKeyset, err := GenerateKeyset(master, 0, 0, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	keyset := WalletKeyset{
		Id:          mintKeyset.Id,
		MintURL:     "http://localhost:3338",
		Unit:        "sat",
		Active:      true,
		PublicKeys:  mintKeyset.PublicKeyMap(),
		Counter:     21,
		InputFeePpk: 100,
	}

	jsonKeyset, err := json.Marshal(&keyset)
	if err != nil {
		t.Fatalf("error marshaling keyset: %v", err)
	}

	var decoded WalletKeyset
	if err := json.Unmarshal(jsonKeyset, &decoded); err != nil {
		t.Fatalf("error unmarshaling keyset: %v", err)
	}

	if decoded.Id != keyset.Id || decoded.MintURL != keyset.MintURL ||
		decoded.Counter != keyset.Counter || decoded.InputFeePpk != keyset.InputFeePpk {
		t.Fatalf("keysets do not match. Expected '%+v' but got '%+v'", keyset, decoded)
	}
	for amount, key := range keyset.PublicKeys {
		decodedKey, ok := decoded.PublicKeys[amount]
		if !ok || !decodedKey.IsEqual(key) {
			t.Fatalf("public key for amount '%v' does not match", amount)
		}
	}
}
