// Package crypto implements the BDHKE (Blind Diffie-Hellman Key Exchange)
// primitives a Cashu wallet needs: point parse/serialize, hash-to-curve, and
// the blind/unblind operations themselves.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrHashToCurveExhausted is returned when HashToCurve fails to find a
// valid curve point within the iteration bound. This should never happen
// in practice; its occurrence indicates a broken secret generator.
var ErrHashToCurveExhausted = errors.New("crypto: hash-to-curve exhausted iteration bound")

const maxHashToCurveIterations = 100

// HashToCurve computes Y = H2C(secret): it hashes secret with SHA-256 and
// tries to parse 0x02 || hash as a compressed point. If that fails it
// rehashes and retries, up to maxHashToCurveIterations times. This exact
// construction is dictated by the wire protocol every mint implements, so it
// must be reproduced bit-exactly.
func HashToCurve(secret []byte) (*secp256k1.PublicKey, error) {
	msg := secret
	for i := 0; i < maxHashToCurveIterations; i++ {
		hash := sha256.Sum256(msg)
		candidate := append([]byte{0x02}, hash[:]...)
		if point, err := secp256k1.ParsePubKey(candidate); err == nil {
			return point, nil
		}
		msg = hash[:]
	}
	return nil, ErrHashToCurveExhausted
}

// RandomScalar returns a cryptographically secure 32-byte scalar suitable
// for use as a blinding factor or secret.
func RandomScalar() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ParsePoint parses a 33-byte compressed secp256k1 point.
func ParsePoint(compressed []byte) (*secp256k1.PublicKey, error) {
	return secp256k1.ParsePubKey(compressed)
}

// SerializePoint returns the 33-byte compressed encoding of a point.
func SerializePoint(p *secp256k1.PublicKey) []byte {
	return p.SerializeCompressed()
}

// BlindMessage computes B_ = Y + r*G for Y = HashToCurve(secret) and the
// supplied blinding scalar r, returning the blinded point and the parsed
// private key for r.
func BlindMessage(secret []byte, blindingFactor []byte) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	Y, err := HashToCurve(secret)
	if err != nil {
		return nil, nil, err
	}

	r, rPub := btcec.PrivKeyFromBytes(blindingFactor)

	var yPoint, rPoint, blinded secp256k1.JacobianPoint
	Y.AsJacobian(&yPoint)
	rPub.AsJacobian(&rPoint)
	secp256k1.AddNonConst(&yPoint, &rPoint, &blinded)
	blinded.ToAffine()

	B_ := secp256k1.NewPublicKey(&blinded.X, &blinded.Y)
	return B_, r, nil
}

// SignBlindedMessage computes C_ = k*B_. It is never called by the wallet
// (only a mint signs), but is kept here alongside the rest of the BDHKE math
// because DLEQ verification and test doubles acting as a fake mint need the
// same point operation.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	return ScalarMul(k, B_)
}

// UnblindSignature computes C = C_ - r*K.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) *secp256k1.PublicKey {
	return CombinePoints(C_, NegatePoint(ScalarMul(r, K)))
}

// Verify reports whether k*HashToCurve(secret) == C, i.e. whether C is a
// valid unblinded signature on secret under private key k.
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) (bool, error) {
	Y, err := HashToCurve(secret)
	if err != nil {
		return false, err
	}
	return C.IsEqual(ScalarMul(k, Y)), nil
}

// CombinePoints returns P + Q.
func CombinePoints(p, q *secp256k1.PublicKey) *secp256k1.PublicKey {
	var pPoint, qPoint, sum secp256k1.JacobianPoint
	p.AsJacobian(&pPoint)
	q.AsJacobian(&qPoint)
	secp256k1.AddNonConst(&pPoint, &qPoint, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y)
}

// NegatePoint returns -P.
func NegatePoint(p *secp256k1.PublicKey) *secp256k1.PublicKey {
	var point secp256k1.JacobianPoint
	p.AsJacobian(&point)
	point.Y.Negate(1)
	point.Y.Normalize()
	return secp256k1.NewPublicKey(&point.X, &point.Y)
}

// ScalarMul returns s*P.
func ScalarMul(s *secp256k1.PrivateKey, p *secp256k1.PublicKey) *secp256k1.PublicKey {
	var point, result secp256k1.JacobianPoint
	p.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&s.Key, &point, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}
