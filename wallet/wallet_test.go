package wallet

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut13"
	"github.com/asmogo/cdk/crypto"
	"github.com/tyler-smith/go-bip39"
)

func TestCreateBlindedMessages(t *testing.T) {
	keysetId := "009a1f293253e41e"

	tests := []struct {
		amount uint64
	}{
		{420},
		{10000000},
		{2500},
	}

	for _, test := range tests {
		split := cashu.AmountSplit(test.amount)
		blindedMessages, secrets, rs, err := createBlindedMessages(split, keysetId, nil, nil)
		if err != nil {
			t.Fatalf("got unexpected error: %v", err)
		}

		amount := blindedMessages.Amount()
		if amount != test.amount {
			t.Errorf("expected '%v' but got '%v' instead", test.amount, amount)
		}
		if len(secrets) != len(blindedMessages) || len(rs) != len(blindedMessages) {
			t.Errorf("expected '%v' secrets and rs but got '%v' and '%v'",
				len(blindedMessages), len(secrets), len(rs))
		}

		for _, message := range blindedMessages {
			if message.Id != keysetId {
				t.Errorf("expected '%v' but got '%v' instead", keysetId, message.Id)
			}
		}
	}
}

func TestDeterministicBlindedMessages(t *testing.T) {
	mnemonic := "gown ritual mind prize shuffle exchange fabric insect nature tourist mutual crunch"
	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}

	keysetId := "009a1f293253e41e"
	keysetPath, err := nut13.DeriveKeysetPath(masterKey, keysetId)
	if err != nil {
		t.Fatal(err)
	}

	var counter uint32 = 0
	split := cashu.AmountSplit(42)
	first, firstSecrets, _, err := createBlindedMessages(split, keysetId, keysetPath, &counter)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if counter != uint32(len(split)) {
		t.Errorf("expected counter '%v' but got '%v' instead", len(split), counter)
	}

	// same path and counter have to derive the same messages
	counter = 0
	second, secondSecrets, _, err := createBlindedMessages(split, keysetId, keysetPath, &counter)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	for i := range first {
		if first[i].B_ != second[i].B_ {
			t.Errorf("expected '%v' but got '%v' instead", first[i].B_, second[i].B_)
		}
		if firstSecrets[i] != secondSecrets[i] {
			t.Errorf("expected '%v' but got '%v' instead", firstSecrets[i], secondSecrets[i])
		}
	}
}

func TestConstructProofs(t *testing.T) {
	keysetId := "00b3e89101cc0ec3"
	mintKeys := make(map[uint64]*secp256k1.PrivateKey)
	publicKeys := make(map[uint64]*secp256k1.PublicKey)
	for _, amount := range []uint64{1, 2, 4, 8} {
		keyBytes := [32]byte{byte(amount), 0x42}
		key := secp256k1.PrivKeyFromBytes(keyBytes[:])
		mintKeys[amount] = key
		publicKeys[amount] = key.PubKey()
	}
	keyset := &crypto.WalletKeyset{Id: keysetId, PublicKeys: publicKeys}

	amounts := []uint64{2, 8}
	secrets := []string{
		"11e932dc8645669eb65305114a40fef80147393aa4cd8e01c254ebdd7efa4f62",
		"ac45fddb4dfb70467353e7e5e7c1de031fe784a3fff0c213267010676d1cbae8",
	}
	rs := make([]*secp256k1.PrivateKey, len(secrets))
	blindedMessages := make(cashu.BlindedMessages, len(secrets))
	signatures := make(cashu.BlindedSignatures, len(secrets))
	for i, secret := range secrets {
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			t.Fatal(err)
		}
		rs[i] = r
		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amounts[i], B_)

		C_ := crypto.SignBlindedMessage(B_, mintKeys[amounts[i]])
		signatures[i] = cashu.BlindedSignature{
			Amount: amounts[i],
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keysetId,
		}
	}

	proofs, err := constructProofs(signatures, blindedMessages, secrets, rs, keyset)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	for i, proof := range proofs {
		if proof.Amount != amounts[i] {
			t.Errorf("expected '%v' but got '%v' instead", amounts[i], proof.Amount)
		}
		if proof.Secret != secrets[i] {
			t.Errorf("expected '%v' but got '%v' instead", secrets[i], proof.Secret)
		}
		if proof.Id != keysetId {
			t.Errorf("expected '%v' but got '%v' instead", keysetId, proof.Id)
		}

		CBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			t.Fatal(err)
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			t.Fatal(err)
		}
		// unblinded signature has to verify against the mint's key
		if !crypto.Verify(proof.Secret, mintKeys[proof.Amount], C) {
			t.Errorf("invalid unblinded signature for amount '%v'", proof.Amount)
		}
	}
}

func TestConstructProofsError(t *testing.T) {
	keysetId := "00b3e89101cc0ec3"
	key := secp256k1.PrivKeyFromBytes([]byte("11111111111111111111111111111111"))
	keyset := &crypto.WalletKeyset{
		Id:         keysetId,
		PublicKeys: map[uint64]*secp256k1.PublicKey{2: key.PubKey()},
	}

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	secret := "11e932dc8645669eb65305114a40fef80147393aa4cd8e01c254ebdd7efa4f62"
	B_, r, err := crypto.BlindMessage(secret, r)
	if err != nil {
		t.Fatal(err)
	}
	C_ := crypto.SignBlindedMessage(B_, key)
	blindedMessages := cashu.BlindedMessages{cashu.NewBlindedMessage(keysetId, 2, B_)}

	tests := []struct {
		signatures cashu.BlindedSignatures
		secrets    []string
		rs         []*secp256k1.PrivateKey
	}{
		// length mismatch between signatures and rs
		{
			signatures: cashu.BlindedSignatures{
				{Amount: 2, C_: hex.EncodeToString(C_.SerializeCompressed()), Id: keysetId},
			},
			secrets: []string{secret},
			rs:      []*secp256k1.PrivateKey{},
		},
		// invalid C_ in signature
		{
			signatures: cashu.BlindedSignatures{
				{Amount: 2, C_: "11111a", Id: keysetId},
			},
			secrets: []string{secret},
			rs:      []*secp256k1.PrivateKey{r},
		},
		// no key in the keyset for the signature amount
		{
			signatures: cashu.BlindedSignatures{
				{Amount: 16, C_: hex.EncodeToString(C_.SerializeCompressed()), Id: keysetId},
			},
			secrets: []string{secret},
			rs:      []*secp256k1.PrivateKey{r},
		},
	}

	for _, test := range tests {
		proofs, err := constructProofs(test.signatures, blindedMessages, test.secrets, test.rs, keyset)
		if proofs != nil {
			t.Errorf("expected nil proofs but got '%v'", proofs)
		}
		if err == nil {
			t.Error("expected error but got nil")
		}
	}
}

func TestCalculateBlankOutputs(t *testing.T) {
	tests := []struct {
		feeReserve uint64
		expected   int
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{1000, 10},
	}

	for _, test := range tests {
		numBlankOutputs := calculateBlankOutputs(test.feeReserve)
		if numBlankOutputs != test.expected {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, numBlankOutputs)
		}
	}
}
