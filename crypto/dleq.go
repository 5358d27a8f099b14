package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// GenerateDLEQ generates a proof that the mint signed the blinded message
// with the private key of the public key it advertises for that amount.
//
//	R1 = pG
//	R2 = pB'
//	e = hash(R1, R2, A, C')
//	s = p + ek
func GenerateDLEQ(k *secp256k1.PrivateKey, B_, C_ *secp256k1.PublicKey) (
	*secp256k1.PrivateKey,
	*secp256k1.PrivateKey,
	error,
) {
	p, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	R1 := p.PubKey()

	var bpoint, r2point secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	secp256k1.ScalarMultNonConst(&p.Key, &bpoint, &r2point)
	r2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2point.X, &r2point.Y)

	e := hashE([]*secp256k1.PublicKey{R1, R2, k.PubKey(), C_})

	// s = p + ek
	var es, s secp256k1.ModNScalar
	var eScalar secp256k1.ModNScalar
	eScalar.SetByteSlice(e[:])
	es.Mul2(&eScalar, &k.Key)
	s.Add2(&p.Key, &es)

	eKey := secp256k1.NewPrivateKey(&eScalar)
	sKey := secp256k1.NewPrivateKey(&s)

	return eKey, sKey, nil
}

// VerifyDLEQ verifies the discrete log equality proof.
//
//	R1 = sG - eA
//	R2 = sB' - eC'
//	e == hash(R1, R2, A, C')
func VerifyDLEQ(
	e, s *secp256k1.PrivateKey,
	A, B_, C_ *secp256k1.PublicKey,
) bool {
	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = sG - eA
	var sGPoint, eAPoint, r1Point, aPoint secp256k1.JacobianPoint
	s.PubKey().AsJacobian(&sGPoint)
	A.AsJacobian(&aPoint)
	secp256k1.ScalarMultNonConst(&eNeg, &aPoint, &eAPoint)
	secp256k1.AddNonConst(&sGPoint, &eAPoint, &r1Point)
	r1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&r1Point.X, &r1Point.Y)

	// R2 = sB' - eC'
	var sBPoint, eCPoint, r2Point, bPoint, cPoint secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)
	C_.AsJacobian(&cPoint)
	secp256k1.ScalarMultNonConst(&s.Key, &bPoint, &sBPoint)
	secp256k1.ScalarMultNonConst(&eNeg, &cPoint, &eCPoint)
	secp256k1.AddNonConst(&sBPoint, &eCPoint, &r2Point)
	r2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2Point.X, &r2Point.Y)

	hash := hashE([]*secp256k1.PublicKey{R1, R2, A, C_})
	var eFromHash secp256k1.ModNScalar
	eFromHash.SetByteSlice(hash[:])

	return eFromHash.Equals(&e.Key)
}

// hashE hashes the concatenation of the uncompressed hex
// serialization of each public key.
func hashE(pubkeys []*secp256k1.PublicKey) [32]byte {
	hashInput := ""
	for _, pubkey := range pubkeys {
		hashInput += hex.EncodeToString(pubkey.SerializeUncompressed())
	}
	return sha256.Sum256([]byte(hashInput))
}
