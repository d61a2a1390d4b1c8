package wallet

import (
	"context"
	"errors"

	"github.com/cashukit/cashukit/blind"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/wallet/storage"
)

// Receive redeems an incoming token: it swaps the token's proofs for fresh
// ones the sender has never seen, so a malicious sender who kept a copy of
// the original secrets cannot race the recipient to spend first after the
// token has already changed hands. The original token proofs are never
// stored; only the swap's output proofs are.
func (w *Wallet) Receive(ctx context.Context, tokenStr string) (uint64, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return 0, newError("receive", KindInvalidToken, err)
	}

	mintURL := token.Mint()
	proofs := token.Proofs()
	amount := token.Amount()

	if cashu.CheckDuplicateProofs(proofs) {
		return 0, newError("receive", KindInvalidToken, cashu.DuplicateProofs)
	}

	ks, err := w.activeKeyset(ctx, mintURL)
	if err != nil {
		return 0, newError("receive", KindMintUnreachable, err)
	}

	fee := feeForInputs(ks.InputFeePpk, len(proofs))
	if fee == 0 {
		fee = receiveFeeFloor
	}
	if fee > amount {
		fee = amount
	}
	net := amount - fee

	outputs, err := blind.Blind(ctx, w.api, mintURL, ks.Id, blind.Plan(net))
	if err != nil {
		return 0, newError("receive", KindUnknown, err)
	}

	resp, err := w.api.Swap(ctx, mintURL, proofs, outputs.ToBlindedMessages())
	if err != nil {
		return 0, newError("receive", KindMintRejected, err)
	}

	keys, err := decodePublicKeys(ks)
	if err != nil {
		return 0, newError("receive", KindUnknown, err)
	}
	received, err := blind.UnblindPaired(outputs, resp.Signatures, keys)
	if err != nil {
		return 0, newError("receive", KindUnknown, err)
	}
	if !verifyDLEQ(received, ks, keys) {
		return 0, newError("receive", KindMintRejected, errors.New("mint's DLEQ proof failed verification"))
	}

	if err := w.storeMintedProofs(mintURL, ks.Id, received); err != nil {
		return 0, newError("receive", KindUnknown, err)
	}

	w.publishHistory(storage.HistoryEntry{Kind: "receive", Mint: mintURL, Amount: net, Fee: fee})
	w.publishProofsUpdated(mintURL, "receive")
	w.logInfof("received %d sats (fee %d) at %s", net, fee, mintURL)
	return net, nil
}
