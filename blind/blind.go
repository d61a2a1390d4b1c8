// Package blind implements the BDHKE blinding engine: denomination
// planning, blind/unblind of mint outputs, and the deterministic
// derivation used by NUT-13 restore.
package blind

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut12"
	"github.com/cashukit/cashukit/crypto"
	"github.com/cashukit/cashukit/crypto/hd"
	"github.com/cashukit/cashukit/mintapi"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Output is a blinded message together with the secret and blinding scalar
// that produced it. The secret/r pair must stay co-located with the output
// until Unblind consumes it; neither value is ever sent to the mint.
type Output struct {
	Amount   uint64
	KeysetID string
	B_       *secp256k1.PublicKey
	Secret   string
	R        []byte
}

type Outputs []Output

// ToBlindedMessages renders outputs as the wire DTOs a mint API call sends.
func (outs Outputs) ToBlindedMessages() cashu.BlindedMessages {
	msgs := make(cashu.BlindedMessages, len(outs))
	for i, o := range outs {
		msgs[i] = cashu.NewBlindedMessage(o.KeysetID, o.Amount, o.B_)
	}
	return msgs
}

// Plan returns the binary denomination split for amount, e.g. Plan(11) =
// [1, 2, 8]. It is cashu.AmountSplit under a domain-appropriate name.
func Plan(amount uint64) []uint64 {
	return cashu.AmountSplit(amount)
}

// Blind fetches the keyset's public keys from the mint and produces one
// blinded output per requested amount, in order.
func Blind(ctx context.Context, api mintapi.API, mintURL, keysetID string, amounts []uint64) (Outputs, error) {
	keys, err := api.KeysByID(ctx, mintURL, keysetID)
	if err != nil {
		return nil, fmt.Errorf("blind: fetching keyset %s: %v", keysetID, err)
	}

	outputs := make(Outputs, 0, len(amounts))
	for _, amount := range amounts {
		if _, ok := keys[amount]; !ok {
			return nil, fmt.Errorf("blind: keyset %s has no key for amount %d", keysetID, amount)
		}

		secretRaw, err := crypto.RandomScalar()
		if err != nil {
			return nil, fmt.Errorf("blind: generating secret: %v", err)
		}
		secret := hex.EncodeToString(secretRaw)

		r, err := crypto.RandomScalar()
		if err != nil {
			return nil, fmt.Errorf("blind: generating blinding factor: %v", err)
		}

		B_, _, err := crypto.BlindMessage([]byte(secret), r)
		if err != nil {
			return nil, fmt.Errorf("blind: blinding message: %v", err)
		}

		outputs = append(outputs, Output{
			Amount:   amount,
			KeysetID: keysetID,
			B_:       B_,
			Secret:   secret,
			R:        r,
		})
	}

	return outputs, nil
}

// Unblind pairs outputs with signatures by first-matching-amount and
// unblinds each pair into a spendable proof. If the mint returned fewer
// signatures than outputs (legitimate when fees consumed some change),
// unmatched outputs are simply skipped. mintURL is not used: the
// produced proofs carry no mint URL.
func Unblind(outputs Outputs, sigs cashu.BlindedSignatures, mintURL string, keys crypto.PublicKeys) (cashu.Proofs, error) {
	remaining := append(cashu.BlindedSignatures{}, sigs...)
	proofs := make(cashu.Proofs, 0, len(outputs))

	for _, out := range outputs {
		idx := -1
		for i, sig := range remaining {
			if sig.Amount == out.Amount {
				idx = i
				break
			}
		}
		if idx == -1 {
			continue
		}
		sig := remaining[idx]
		remaining = append(remaining[:idx:idx], remaining[idx+1:]...)

		K, ok := keys[out.Amount]
		if !ok {
			return nil, fmt.Errorf("unblind: no key for amount %d", out.Amount)
		}

		if err := verifySignatureDLEQ(sig, out, K); err != nil {
			return nil, err
		}
		C, err := unblindOne(sig.C_, out.R, K)
		if err != nil {
			return nil, fmt.Errorf("unblind: %v", err)
		}

		proof := cashu.Proof{
			Amount: out.Amount,
			Id:     out.KeysetID,
			Secret: out.Secret,
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
		if sig.DLEQ != nil {
			// Carry the mint's (e, s) through and attach our own r so the
			// caller can run nut12.VerifyProofDLEQ against the keyset's
			// public key for this amount.
			proof.DLEQ = &cashu.DLEQProof{
				E: sig.DLEQ.E,
				S: sig.DLEQ.S,
				R: hex.EncodeToString(out.R),
			}
		}
		proofs = append(proofs, proof)
	}

	return proofs, nil
}

// UnblindPaired unblinds outputs against sigs by position rather than by
// matching amounts, taking each signature's own Amount as authoritative.
// Used when the caller has already aligned outputs and signatures
// index-for-index (zombie-mint recovery and restore scanning), where the
// output's placeholder Amount cannot be trusted.
func UnblindPaired(outputs Outputs, sigs cashu.BlindedSignatures, keys crypto.PublicKeys) (cashu.Proofs, error) {
	if len(outputs) != len(sigs) {
		return nil, fmt.Errorf("unblind: %d outputs but %d signatures", len(outputs), len(sigs))
	}

	proofs := make(cashu.Proofs, 0, len(outputs))
	for i, out := range outputs {
		sig := sigs[i]

		K, ok := keys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("unblind: no key for amount %d", sig.Amount)
		}

		if err := verifySignatureDLEQ(sig, out, K); err != nil {
			return nil, err
		}
		C, err := unblindOne(sig.C_, out.R, K)
		if err != nil {
			return nil, fmt.Errorf("unblind: %v", err)
		}

		proof := cashu.Proof{
			Amount: sig.Amount,
			Id:     out.KeysetID,
			Secret: out.Secret,
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
		if sig.DLEQ != nil {
			proof.DLEQ = &cashu.DLEQProof{
				E: sig.DLEQ.E,
				S: sig.DLEQ.S,
				R: hex.EncodeToString(out.R),
			}
		}
		proofs = append(proofs, proof)
	}

	return proofs, nil
}

// verifySignatureDLEQ checks the mint's NUT-12 proof on one blind
// signature, against the blinded point the wallet itself sent, before the
// signature is unblinded. Signatures carrying no DLEQ proof pass.
func verifySignatureDLEQ(sig cashu.BlindedSignature, out Output, K *secp256k1.PublicKey) error {
	if sig.DLEQ == nil {
		return nil
	}
	B_hex := hex.EncodeToString(out.B_.SerializeCompressed())
	if !nut12.VerifyBlindSignatureDLEQ(*sig.DLEQ, K, B_hex, sig.C_) {
		return fmt.Errorf("unblind: DLEQ verification failed for amount %d", sig.Amount)
	}
	return nil
}

func unblindOne(C_hex string, r []byte, K *secp256k1.PublicKey) (*secp256k1.PublicKey, error) {
	C_Bytes, err := hex.DecodeString(C_hex)
	if err != nil {
		return nil, fmt.Errorf("invalid C_: %v", err)
	}
	C_, err := crypto.ParsePoint(C_Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid C_ point: %v", err)
	}
	rKey := secp256k1.PrivKeyFromBytes(r)
	return crypto.UnblindSignature(C_, rKey, K), nil
}

// BlindingPair is the (secret, r) retained locally for one restore-derived
// output, keyed by its derivation index.
type BlindingPair struct {
	Secret string
	R      []byte
}

const restoreDerivationPath = 129372

// RestoreDenominations are the standard power-of-two amounts a mint is
// expected to have a key for. A restore scan cannot know in advance which
// denomination a given derivation index was minted at, since that
// information never leaves the wallet that spent it, so DeriveForRestore
// asks about every one of them.
var RestoreDenominations = []uint64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192}

// DeriveForRestore derives blinded outputs along master/129372'/0'/K'/i' for
// each index in indices, where K is the keyset id's leading 4 bytes as a
// big-endian u32. It must reproduce this construction bit-exactly across
// devices or backup recovery silently fails.
//
// B_ = Y + r*G depends only on the derived secret and blinding factor, not
// on amount, so one index yields a single (secret, r, B_) triple. A mint's
// /restore endpoint matches purely on B_ and answers with whatever amount
// it actually signed that point at — but the wallet still has to submit an
// output carrying *some* amount per NUT-13's wire shape, and it has no way
// to know the real one in advance. DeriveForRestore works around this by
// emitting one Output per (index, denomination) pair in
// RestoreDenominations, all sharing the same B_/Secret/R and differing only
// in the placeholder Amount; matchRestoreOutputs then collapses the
// duplicates back down using the mint's signature, which carries the real
// amount.
func DeriveForRestore(master *hd.Node, keysetID string, indices []uint32) (Outputs, map[uint32]BlindingPair, error) {
	idBytes, err := hex.DecodeString(keysetID)
	if err != nil || len(idBytes) < 4 {
		return nil, nil, fmt.Errorf("blind: invalid keyset id %q", keysetID)
	}
	K := binary.BigEndian.Uint32(idBytes[:4])

	root, err := master.Path(restoreDerivationPath, 0, K)
	if err != nil {
		return nil, nil, fmt.Errorf("blind: deriving restore root: %v", err)
	}

	outputs := make(Outputs, 0, len(indices)*len(RestoreDenominations))
	pairs := make(map[uint32]BlindingPair, len(indices))

	for _, i := range indices {
		node, err := root.Hardened(i)
		if err != nil {
			return nil, nil, fmt.Errorf("blind: deriving index %d: %v", i, err)
		}
		priv, err := node.PrivateKey()
		if err != nil {
			return nil, nil, fmt.Errorf("blind: reading key at index %d: %v", i, err)
		}
		keyBytes := priv.Serialize()

		secretRaw := hmacSHA256(keyBytes, []byte{0x00})
		r := hmacSHA256(keyBytes, []byte{0x01})
		secret := hex.EncodeToString(secretRaw)

		B_, _, err := crypto.BlindMessage([]byte(secret), r)
		if err != nil {
			return nil, nil, fmt.Errorf("blind: blinding restore output %d: %v", i, err)
		}

		for _, amount := range RestoreDenominations {
			outputs = append(outputs, Output{Amount: amount, KeysetID: keysetID, B_: B_, Secret: secret, R: r})
		}
		pairs[i] = BlindingPair{Secret: secret, R: r}
	}

	return outputs, pairs, nil
}

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}
