package crypto

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// hashDLEQChallenge computes e = H(R1 || R2 || A || C_) mod n, the Fiat-Shamir
// challenge used by both sides of a NUT-12 DLEQ proof.
func hashDLEQChallenge(R1, R2, A, C_ *secp256k1.PublicKey) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write(SerializePoint(R1))
	h.Write(SerializePoint(R2))
	h.Write(SerializePoint(A))
	h.Write(SerializePoint(C_))
	sum := h.Sum(nil)

	var e secp256k1.ModNScalar
	e.SetByteSlice(sum)
	return &e
}

// VerifyDLEQ checks a mint's NUT-12 proof (e, s) that C_ = k*B_ was signed
// with the private key corresponding to the keyset public key A, without
// revealing k.
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	if e == nil || s == nil || A == nil || B_ == nil || C_ == nil {
		return false
	}

	// R1 = s*G - e*A, R2 = s*B_ - e*C_
	R1 := CombinePoints(s.PubKey(), NegatePoint(ScalarMul(e, A)))
	R2 := CombinePoints(ScalarMul(s, B_), NegatePoint(ScalarMul(e, C_)))

	computed := hashDLEQChallenge(R1, R2, A, C_)
	return computed.Equals(&e.Key)
}
