package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PublicKeys maps a denomination amount to the mint's signing public key
// for that amount, within one keyset.
type PublicKeys map[uint64]*secp256k1.PublicKey

// MarshalJSON encodes keys in ascending amount order, matching the mint's
// own wire format so a round-tripped keyset reproduces the same keyset ID.
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, 0, len(pks))
	for k := range pks {
		amounts = append(amounts, k)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	for i, amount := range amounts {
		if i != 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(fmt.Sprintf("%d", amount))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(hex.EncodeToString(pks[amount].SerializeCompressed()))
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks *PublicKeys) UnmarshalJSON(data []byte) error {
	var raw map[uint64]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(PublicKeys, len(raw))
	for amount, hexKey := range raw {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return fmt.Errorf("invalid public key for amount %d: %v", amount, err)
		}
		pub, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key for amount %d: %v", amount, err)
		}
		out[amount] = pub
	}
	*pks = out
	return nil
}

// DeriveKeysetId reproduces the mint's keyset ID derivation so a wallet can
// confirm a fetched keyset wasn't tampered with in transit: sort the keys by
// amount, concatenate their compressed encodings, SHA-256 the result, and
// take the first 14 hex characters prefixed with the "00" version byte.
func DeriveKeysetId(keys PublicKeys) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	buf := make([]byte, 0, len(amounts)*33)
	for _, amount := range amounts {
		buf = append(buf, keys[amount].SerializeCompressed()...)
	}

	hash := sha256.Sum256(buf)
	return "00" + hex.EncodeToString(hash[:])[:14]
}

// WalletKeyset is the wallet's local record of one of a mint's keysets: its
// public keys (needed to verify signatures and build blinded messages) and
// the counter used to derive the next deterministic secret for that keyset.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  PublicKeys
	Counter     uint32
	InputFeePpk uint
}

type walletKeysetJSON struct {
	Id          string     `json:"id"`
	MintURL     string     `json:"mint_url"`
	Unit        string     `json:"unit"`
	Active      bool       `json:"active"`
	PublicKeys  PublicKeys `json:"public_keys"`
	Counter     uint32     `json:"counter"`
	InputFeePpk uint       `json:"input_fee_ppk"`
}

func (wk WalletKeyset) MarshalJSON() ([]byte, error) {
	return json.Marshal(walletKeysetJSON{
		Id:          wk.Id,
		MintURL:     wk.MintURL,
		Unit:        wk.Unit,
		Active:      wk.Active,
		PublicKeys:  wk.PublicKeys,
		Counter:     wk.Counter,
		InputFeePpk: wk.InputFeePpk,
	})
}

func (wk *WalletKeyset) UnmarshalJSON(data []byte) error {
	var temp walletKeysetJSON
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	wk.Id = temp.Id
	wk.MintURL = temp.MintURL
	wk.Unit = temp.Unit
	wk.Active = temp.Active
	wk.PublicKeys = temp.PublicKeys
	wk.Counter = temp.Counter
	wk.InputFeePpk = temp.InputFeePpk
	return nil
}
