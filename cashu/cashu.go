// Package cashu contains the wire-format structs and blinding-adjacent
// arithmetic shared by every NUT implementation in cashu/nuts: blinded
// messages and signatures, proofs, the token codecs (NUT-00 V3/V4), and the
// mint error vocabulary the wallet matches against.
package cashu

import (
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Unit identifies the denomination a mint's keyset prices amounts in. The
// wallet only ever speaks sat, but the type stays distinct from a bare
// string so a future unit can't be confused with an arbitrary label.
type Unit int

const (
	Sat Unit = iota
)

const BOLT11_METHOD = "bolt11"

func (unit Unit) String() string {
	if unit == Sat {
		return "sat"
	}
	return "unknown"
}

// BlindedMessage is a wallet's request for a signature on one output: a
// denomination, the keyset it should be signed under, and the blinded
// point B_ = Y + r*G. See https://github.com/cashubtc/nuts/blob/main/00.md#blindedmessage
type BlindedMessage struct {
	Amount  uint64 `json:"amount"`
	B_      string `json:"B_"`
	Id      string `json:"id"`
	Witness string `json:"witness,omitempty"`
}

// NewBlindedMessage builds a BlindedMessage for the given keyset and
// denomination from an already-blinded point.
func NewBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	return BlindedMessage{Amount: amount, Id: id, B_: hex.EncodeToString(B_.SerializeCompressed())}
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var total uint64
	for _, msg := range bm {
		total += msg.Amount
	}
	return total
}

// BlindedSignature is a mint's signature over one BlindedMessage: C_ =
// k*B_, optionally accompanied by a NUT-12 DLEQ proof the wallet can verify
// against the keyset's public key without trusting the mint. See
// https://github.com/cashubtc/nuts/blob/main/00.md#blindsignature
type BlindedSignature struct {
	Amount uint64     `json:"amount"`
	C_     string     `json:"C_"`
	Id     string     `json:"id"`
	DLEQ   *DLEQProof `json:"dleq,omitempty"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var total uint64
	for _, sig := range bs {
		total += sig.Amount
	}
	return total
}

// Proof is a spendable ecash token: an unblinded signature C over a secret,
// under a specific keyset. C is the proof's identity — two Proof values
// with the same C refer to the same token regardless of what else differs
// between them. See https://github.com/cashubtc/nuts/blob/main/00.md#proof
type Proof struct {
	Amount  uint64     `json:"amount"`
	Id      string     `json:"id"`
	Secret  string     `json:"secret"`
	C       string     `json:"C"`
	Witness string     `json:"witness,omitempty"`
	DLEQ    *DLEQProof `json:"dleq,omitempty"`
}

type Proofs []Proof

// Amount returns the total amount held across proofs.
func (proofs Proofs) Amount() uint64 {
	var total uint64
	for _, proof := range proofs {
		total += proof.Amount
	}
	return total
}

// DLEQProof is a NUT-12 proof that a mint signed with the private key
// matching its published public key for this amount, without needing to
// trust the mint to not double-sign or substitute a different key.
type DLEQProof struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}
