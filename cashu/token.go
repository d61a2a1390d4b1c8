package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrInvalidTokenV3 = errors.New("invalid V3 token")
	ErrInvalidTokenV4 = errors.New("invalid V4 token")
	ErrInvalidUnit    = errors.New("invalid unit")
)

// Token is a serializable bundle of proofs redeemable at a single mint. See
// https://github.com/cashubtc/nuts/blob/main/00.md#token-format
type Token interface {
	Proofs() Proofs
	Mint() string
	Amount() uint64
	Serialize() (string, error)
}

// DecodeToken parses either token encoding, trying the newer, more compact
// V4 (cashuB, CBOR) format first and falling back to V3 (cashuA, JSON) so
// older tokens still redeem.
func DecodeToken(tokenstr string) (Token, error) {
	if v4, err := DecodeTokenV4(tokenstr); err == nil {
		return v4, nil
	}
	v3, err := DecodeTokenV3(tokenstr)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v", err)
	}
	return v3, nil
}

// decodeTokenBase64 strips a 6-byte version prefix and base64-decodes the
// remainder, accepting both the padded and unpadded URL alphabets since
// wallets in the wild emit both.
func decodeTokenBase64(tokenstr, wantPrefix string) ([]byte, error) {
	if len(tokenstr) < 6 || tokenstr[:6] != wantPrefix {
		if wantPrefix == "cashuA" {
			return nil, ErrInvalidTokenV3
		}
		return nil, ErrInvalidTokenV4
	}
	payload := tokenstr[6:]

	if data, err := base64.URLEncoding.DecodeString(payload); err == nil {
		return data, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("error decoding token: %v", err)
	}
	return data, nil
}

// TokenV3 is the NUT-00 V3 wire encoding: JSON, grouped by mint, carried as
// a "cashuA"-prefixed base64 string.
type TokenV3 struct {
	Token []TokenV3Proof `json:"token"`
	Unit  string         `json:"unit"`
	Memo  string         `json:"memo,omitempty"`
}

type TokenV3Proof struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

// NewTokenV3 builds a single-mint V3 token from proofs. includeDLEQ
// controls whether each proof's DLEQ data rides along; a sender who wants a
// smaller token, or who doesn't want to reveal the blinding factor it
// contains, can drop it.
func NewTokenV3(proofs Proofs, mint string, unit Unit, includeDLEQ bool) (TokenV3, error) {
	if unit != Sat {
		return TokenV3{}, ErrInvalidUnit
	}

	sendProofs := proofs
	if !includeDLEQ {
		sendProofs = make(Proofs, len(proofs))
		copy(sendProofs, proofs)
		for i := range sendProofs {
			sendProofs[i].DLEQ = nil
		}
	}

	return TokenV3{
		Token: []TokenV3Proof{{Mint: mint, Proofs: sendProofs}},
		Unit:  unit.String(),
	}, nil
}

func DecodeTokenV3(tokenstr string) (*TokenV3, error) {
	tokenBytes, err := decodeTokenBase64(tokenstr, "cashuA")
	if err != nil {
		return nil, err
	}

	var token TokenV3
	if err := json.Unmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("error unmarshaling token: %v", err)
	}
	return &token, nil
}

func (t TokenV3) Proofs() Proofs {
	var proofs Proofs
	for _, entry := range t.Token {
		proofs = append(proofs, entry.Proofs...)
	}
	return proofs
}

func (t TokenV3) Mint() string {
	return t.Token[0].Mint
}

func (t TokenV3) Amount() uint64 {
	return t.Proofs().Amount()
}

func (t TokenV3) Serialize() (string, error) {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return "cashuA" + base64.URLEncoding.EncodeToString(jsonBytes), nil
}

// TokenV4 is the NUT-00 V4 wire encoding: CBOR, grouped by keyset id, carried
// as a "cashuB"-prefixed base64 string. It is the more compact of the two
// encodings since a keyset id is written once per group rather than once
// per proof, and points are carried as raw bytes instead of hex.
type TokenV4 struct {
	TokenProofs []TokenV4Proof `json:"t"`
	Memo        string         `json:"d,omitempty"`
	MintURL     string         `json:"m"`
	Unit        string         `json:"u"`
}

type TokenV4Proof struct {
	Id     []byte    `json:"i"`
	Proofs []ProofV4 `json:"p"`
}

func (tp *TokenV4Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Id     string    `json:"i"`
		Proofs []ProofV4 `json:"p"`
	}{Id: hex.EncodeToString(tp.Id), Proofs: tp.Proofs})
}

type ProofV4 struct {
	Amount  uint64  `json:"a"`
	Secret  string  `json:"s"`
	C       []byte  `json:"c"`
	Witness string  `json:"w,omitempty"`
	DLEQ    *DLEQV4 `json:"d,omitempty"`
}

func (p *ProofV4) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount  uint64  `json:"a"`
		Secret  string  `json:"s"`
		C       string  `json:"c"`
		Witness string  `json:"w,omitempty"`
		DLEQ    *DLEQV4 `json:"d,omitempty"`
	}{
		Amount:  p.Amount,
		Secret:  p.Secret,
		C:       hex.EncodeToString(p.C),
		Witness: p.Witness,
		DLEQ:    p.DLEQ,
	})
}

type DLEQV4 struct {
	E []byte `json:"e"`
	S []byte `json:"s"`
	R []byte `json:"r"`
}

func (d *DLEQV4) MarshalJSON() ([]byte, error) {
	return json.Marshal(DLEQProof{
		E: hex.EncodeToString(d.E),
		S: hex.EncodeToString(d.S),
		R: hex.EncodeToString(d.R),
	})
}

func dleqToV4(dleq *DLEQProof) (*DLEQV4, error) {
	if dleq == nil {
		return nil, nil
	}
	if len(dleq.R) == 0 {
		return nil, errors.New("r in DLEQ proof cannot be empty")
	}
	e, err := hex.DecodeString(dleq.E)
	if err != nil {
		return nil, fmt.Errorf("invalid e in DLEQ proof: %v", err)
	}
	s, err := hex.DecodeString(dleq.S)
	if err != nil {
		return nil, fmt.Errorf("invalid s in DLEQ proof: %v", err)
	}
	r, err := hex.DecodeString(dleq.R)
	if err != nil {
		return nil, fmt.Errorf("invalid r in DLEQ proof: %v", err)
	}
	return &DLEQV4{E: e, S: s, R: r}, nil
}

// NewTokenV4 builds a V4 token, grouping proofs by keyset id so each id is
// written once regardless of how many proofs share it. includeDLEQ mirrors
// NewTokenV3's flag.
func NewTokenV4(proofs Proofs, mint string, unit Unit, includeDLEQ bool) (TokenV4, error) {
	if unit != Sat {
		return TokenV4{}, ErrInvalidUnit
	}

	byKeyset := make(map[string][]ProofV4)
	order := make([]string, 0)
	for _, proof := range proofs {
		C, err := hex.DecodeString(proof.C)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid C: %v", err)
		}
		v4 := ProofV4{Amount: proof.Amount, Secret: proof.Secret, C: C, Witness: proof.Witness}
		if includeDLEQ {
			dleq, err := dleqToV4(proof.DLEQ)
			if err != nil {
				return TokenV4{}, err
			}
			v4.DLEQ = dleq
		}
		if _, seen := byKeyset[proof.Id]; !seen {
			order = append(order, proof.Id)
		}
		byKeyset[proof.Id] = append(byKeyset[proof.Id], v4)
	}

	groups := make([]TokenV4Proof, 0, len(order))
	for _, id := range order {
		idBytes, err := hex.DecodeString(id)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid keyset id: %v", err)
		}
		groups = append(groups, TokenV4Proof{Id: idBytes, Proofs: byKeyset[id]})
	}

	return TokenV4{MintURL: mint, Unit: unit.String(), TokenProofs: groups}, nil
}

func DecodeTokenV4(tokenstr string) (*TokenV4, error) {
	tokenBytes, err := decodeTokenBase64(tokenstr, "cashuB")
	if err != nil {
		return nil, err
	}

	var token TokenV4
	if err := cbor.Unmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}
	return &token, nil
}

func (t TokenV4) Proofs() Proofs {
	var proofs Proofs
	for _, group := range t.TokenProofs {
		keysetId := hex.EncodeToString(group.Id)
		for _, v4 := range group.Proofs {
			proof := Proof{
				Amount:  v4.Amount,
				Id:      keysetId,
				Secret:  v4.Secret,
				C:       hex.EncodeToString(v4.C),
				Witness: v4.Witness,
			}
			if v4.DLEQ != nil {
				proof.DLEQ = &DLEQProof{
					E: hex.EncodeToString(v4.DLEQ.E),
					S: hex.EncodeToString(v4.DLEQ.S),
					R: hex.EncodeToString(v4.DLEQ.R),
				}
			}
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

func (t TokenV4) Mint() string {
	return t.MintURL
}

func (t TokenV4) Amount() uint64 {
	return t.Proofs().Amount()
}

func (t TokenV4) Serialize() (string, error) {
	cborData, err := cbor.Marshal(t)
	if err != nil {
		return "", err
	}
	return "cashuB" + base64.RawURLEncoding.EncodeToString(cborData), nil
}

