package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut02"
	"github.com/cashukit/cashukit/cashu/nuts/nut03"
	"github.com/cashukit/cashukit/cashu/nuts/nut04"
	"github.com/cashukit/cashukit/cashu/nuts/nut05"
	"github.com/cashukit/cashukit/cashu/nuts/nut06"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
	"github.com/cashukit/cashukit/cashu/nuts/nut09"
	"github.com/cashukit/cashukit/crypto"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// fakeMint is an in-memory mintapi.API double standing in for a real mint
// across the orchestrator's saga tests. It keeps one fixed keyset, signs
// whatever it is asked to sign, and tracks spent secrets so CheckState
// answers honestly.
type fakeMint struct {
	mu sync.Mutex

	keysetID string
	priv     map[uint64]*secp256k1.PrivateKey
	pub      crypto.PublicKeys
	feePpk   uint

	mintQuotes map[string]*fakeMintQuote
	meltQuotes map[string]*fakeMeltQuote

	// signedByB_ remembers every signature ever issued, keyed by the
	// blinded point's hex encoding, so Restore can answer for outputs
	// the wallet has already seen signed once (zombie recovery, restore
	// scanning).
	signedByB_ map[string]cashu.BlindedSignature

	// mintedOnce tracks which quote ids have already produced
	// signatures, so a second Mint call for the same quote reproduces
	// the mint's real "blinded message already signed" behavior.
	mintedOnce map[string]bool

	spentY map[string]bool

	quoteSeq int
	meltErr  error
	swapErr  error

	// meltDropChange makes Melt withhold that many change signatures
	// from the end of the requested outputs, the way a real mint does
	// when the Lightning routing fee consumed part of the fee reserve.
	meltDropChange int

	// dropMintResponse simulates the zombie-quote failure: the next Mint
	// call signs its outputs and commits them, but the response is
	// "lost" — the caller sees the mint's already-signed error instead,
	// exactly what a retry after a mid-response network drop observes.
	dropMintResponse bool
}

type fakeMintQuote struct {
	amount uint64
	paid   bool
}

type fakeMeltQuote struct {
	amount     uint64
	feeReserve uint64
	paid       bool
}

func newFakeMint() (*fakeMint, error) {
	amounts := make([]uint64, 32)
	for i := range amounts {
		amounts[i] = uint64(1) << uint(i)
	}

	priv := make(map[uint64]*secp256k1.PrivateKey, len(amounts))
	pub := make(crypto.PublicKeys, len(amounts))
	for _, amount := range amounts {
		raw, err := crypto.RandomScalar()
		if err != nil {
			return nil, err
		}
		k := secp256k1.PrivKeyFromBytes(raw)
		priv[amount] = k
		pub[amount] = k.PubKey()
	}

	return &fakeMint{
		keysetID:   crypto.DeriveKeysetId(pub),
		priv:       priv,
		pub:        pub,
		mintQuotes: make(map[string]*fakeMintQuote),
		meltQuotes: make(map[string]*fakeMeltQuote),
		signedByB_: make(map[string]cashu.BlindedSignature),
		mintedOnce: make(map[string]bool),
		spentY:     make(map[string]bool),
	}, nil
}

func (f *fakeMint) nextID(prefix string) string {
	f.quoteSeq++
	return fmt.Sprintf("%s-%d", prefix, f.quoteSeq)
}

func (f *fakeMint) markMintQuotePaid(quoteID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.mintQuotes[quoteID]; ok {
		q.paid = true
	}
}

func (f *fakeMint) sign(out cashu.BlindedMessage) (cashu.BlindedSignature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.priv[out.Amount]
	if !ok {
		return cashu.BlindedSignature{}, fmt.Errorf("fakeMint: no key for amount %d", out.Amount)
	}
	B_Bytes, err := hex.DecodeString(out.B_)
	if err != nil {
		return cashu.BlindedSignature{}, err
	}
	B_, err := crypto.ParsePoint(B_Bytes)
	if err != nil {
		return cashu.BlindedSignature{}, err
	}
	C_ := crypto.SignBlindedMessage(B_, k)
	sig := cashu.BlindedSignature{Amount: out.Amount, C_: hex.EncodeToString(C_.SerializeCompressed()), Id: out.Id}
	f.signedByB_[out.B_] = sig
	return sig, nil
}

func (f *fakeMint) markSpent(proofs cashu.Proofs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range proofs {
		y, err := crypto.HashToCurve([]byte(p.Secret))
		if err != nil {
			return err
		}
		f.spentY[hex.EncodeToString(crypto.SerializePoint(y))] = true
	}
	return nil
}

func (f *fakeMint) Info(ctx context.Context, mintURL string) (*nut06.MintInfo, error) {
	return &nut06.MintInfo{Name: "fake mint"}, nil
}

func (f *fakeMint) ActiveKeys(ctx context.Context, mintURL string) (map[string]crypto.PublicKeys, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]crypto.PublicKeys{f.keysetID: f.pub}, nil
}

func (f *fakeMint) KeysByID(ctx context.Context, mintURL, keysetID string) (crypto.PublicKeys, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if keysetID != f.keysetID {
		return nil, fmt.Errorf("fakeMint: unknown keyset %s", keysetID)
	}
	return f.pub, nil
}

func (f *fakeMint) AllKeysets(ctx context.Context, mintURL string) ([]nut02.Keyset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []nut02.Keyset{{Id: f.keysetID, Unit: "sat", Active: true, InputFeePpk: f.feePpk}}, nil
}

func (f *fakeMint) MintQuote(ctx context.Context, mintURL string, amount uint64, unit cashu.Unit) (*nut04.PostMintQuoteBolt11Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("mintquote")
	f.mintQuotes[id] = &fakeMintQuote{amount: amount}
	return &nut04.PostMintQuoteBolt11Response{Quote: id, Request: "lnbc-fake-" + id, Expiry: 9999999999}, nil
}

func (f *fakeMint) MintQuoteState(ctx context.Context, mintURL, quoteID string) (*nut04.PostMintQuoteBolt11Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.mintQuotes[quoteID]
	if !ok {
		return nil, fmt.Errorf("fakeMint: unknown mint quote %s", quoteID)
	}
	return &nut04.PostMintQuoteBolt11Response{Quote: quoteID, Paid: q.paid}, nil
}

func (f *fakeMint) Mint(ctx context.Context, mintURL, quoteID string, outputs cashu.BlindedMessages) (*nut04.PostMintBolt11Response, error) {
	f.mu.Lock()
	q, ok := f.mintQuotes[quoteID]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("fakeMint: unknown mint quote %s", quoteID)
	}
	if !q.paid {
		f.mu.Unlock()
		return nil, cashu.MintQuoteRequestNotPaid
	}
	if f.mintedOnce[quoteID] {
		f.mu.Unlock()
		return nil, cashu.BlindedMessageAlreadySigned
	}
	f.mintedOnce[quoteID] = true
	drop := f.dropMintResponse
	f.dropMintResponse = false
	f.mu.Unlock()

	sigs := make(cashu.BlindedSignatures, len(outputs))
	for i, out := range outputs {
		sig, err := f.sign(out)
		if err != nil {
			return nil, err
		}
		sigs[i] = sig
	}
	if drop {
		return nil, cashu.BlindedMessageAlreadySigned
	}
	return &nut04.PostMintBolt11Response{Signatures: sigs}, nil
}

func (f *fakeMint) MeltQuote(ctx context.Context, mintURL, invoice string, unit cashu.Unit) (*nut05.PostMeltQuoteBolt11Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var amount, feeReserve uint64
	fmt.Sscanf(invoice, "pay:%d:%d", &amount, &feeReserve)
	id := f.nextID("meltquote")
	f.meltQuotes[id] = &fakeMeltQuote{amount: amount, feeReserve: feeReserve, paid: true}
	return &nut05.PostMeltQuoteBolt11Response{Quote: id, Amount: amount, FeeReserve: feeReserve}, nil
}

func (f *fakeMint) Melt(ctx context.Context, mintURL, quoteID string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (*nut05.PostMeltBolt11Response, error) {
	if f.meltErr != nil {
		return nil, f.meltErr
	}

	f.mu.Lock()
	_, ok := f.meltQuotes[quoteID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakeMint: unknown melt quote %s", quoteID)
	}

	if err := f.markSpent(inputs); err != nil {
		return nil, err
	}

	// Sign whatever change the routing fee left over; by default the fee
	// came in at zero and every requested output gets signed.
	n := len(outputs) - f.meltDropChange
	if n < 0 {
		n = 0
	}
	change := make(cashu.BlindedSignatures, n)
	for i, out := range outputs[:n] {
		sig, err := f.sign(out)
		if err != nil {
			return nil, err
		}
		change[i] = sig
	}

	return &nut05.PostMeltBolt11Response{Paid: true, PaymentPreimage: "preimage-" + quoteID, Change: change}, nil
}

func (f *fakeMint) Swap(ctx context.Context, mintURL string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (*nut03.PostSwapResponse, error) {
	if f.swapErr != nil {
		return nil, f.swapErr
	}

	if err := f.markSpent(inputs); err != nil {
		return nil, err
	}

	sigs := make(cashu.BlindedSignatures, len(outputs))
	for i, out := range outputs {
		sig, err := f.sign(out)
		if err != nil {
			return nil, err
		}
		sigs[i] = sig
	}
	return &nut03.PostSwapResponse{Signatures: sigs}, nil
}

func (f *fakeMint) Restore(ctx context.Context, mintURL string, outputs cashu.BlindedMessages) (*nut09.PostRestoreResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matchedOutputs cashu.BlindedMessages
	var sigs cashu.BlindedSignatures
	for _, out := range outputs {
		if sig, ok := f.signedByB_[out.B_]; ok {
			matchedOutputs = append(matchedOutputs, out)
			sigs = append(sigs, sig)
		}
	}
	return &nut09.PostRestoreResponse{Outputs: matchedOutputs, Signatures: sigs}, nil
}

func (f *fakeMint) CheckState(ctx context.Context, mintURL string, ys []string) (*nut07.PostCheckStateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	states := make([]nut07.ProofState, len(ys))
	for i, y := range ys {
		st := nut07.Unspent
		if f.spentY[y] {
			st = nut07.Spent
		}
		states[i] = nut07.ProofState{Y: y, State: st}
	}
	return &nut07.PostCheckStateResponse{States: states}, nil
}
