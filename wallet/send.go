package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/cashukit/cashukit/blind"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/wallet/storage"
)

// sendReservationTimeout bounds how long proofs reserved for a send stay
// locked before an abandoned send releases them back to Unspent.
const sendReservationTimeout = 2 * time.Minute

// feeForInputs converts input_fee_ppk (parts per thousand per input) to a
// sat fee for a given input count, rounding up per NUT-02.
func feeForInputs(inputFeePpk uint, numInputs int) uint64 {
	if inputFeePpk == 0 {
		return 0
	}
	return (uint64(inputFeePpk)*uint64(numInputs) + 999) / 1000
}

// Send swaps amount sats worth of local proofs for a fresh set the
// recipient has never seen (breaking the link to the wallet's prior
// history) and returns a serialized TokenV3 the recipient can redeem.
// It over-reserves using a heuristic fee estimate, then re-derives the
// actual fee once the true input count is known and adjusts the
// token/change split before blinding.
func (w *Wallet) Send(ctx context.Context, mintURL string, amount uint64, includeDLEQ bool) (string, error) {
	ks, err := w.activeKeyset(ctx, mintURL)
	if err != nil {
		return "", newError("send", KindMintUnreachable, err)
	}

	// Heuristic: assume the swap will need about as many inputs as the
	// binary split of the requested amount has terms; Reserve below will
	// tell us the real count.
	estimate := amount + feeForInputs(ks.InputFeePpk, len(blind.Plan(amount))+2)
	w.reclaimBestEffort(ctx, mintURL)
	inputs, err := w.store.Reserve(estimate, mintURL, sendReservationTimeout)
	if err != nil {
		return "", newError("send", KindInsufficientFunds, err)
	}
	inputIDs := proofIDs(inputs)

	var reserved uint64
	for _, p := range inputs {
		reserved += p.Amount
	}
	actualFee := feeForInputs(ks.InputFeePpk, len(inputs))
	if reserved < amount+actualFee {
		w.unreserve(mintURL, inputIDs, "send_fee_shortfall")
		return "", newError("send", KindInsufficientFunds, fmt.Errorf("reserved %d insufficient for amount %d plus fee %d", reserved, amount, actualFee))
	}
	changeAmount := reserved - amount - actualFee

	tokenAmounts := blind.Plan(amount)
	changeAmounts := blind.Plan(changeAmount)
	allAmounts := append(append([]uint64{}, tokenAmounts...), changeAmounts...)

	outputs, err := blind.Blind(ctx, w.api, mintURL, ks.Id, allAmounts)
	if err != nil {
		w.unreserve(mintURL, inputIDs, "send_blind_failed")
		return "", newError("send", KindUnknown, err)
	}

	resp, err := w.api.Swap(ctx, mintURL, toProofs(inputs), outputs.ToBlindedMessages())
	if err != nil {
		w.unreserve(mintURL, inputIDs, "send_swap_failed")
		return "", newError("send", KindMintRejected, err)
	}

	keys, err := decodePublicKeys(ks)
	if err != nil {
		return "", newError("send", KindUnknown, err)
	}
	proofs, err := blind.UnblindPaired(outputs, resp.Signatures, keys)
	if err != nil {
		return "", newError("send", KindUnknown, err)
	}
	if !verifyDLEQ(proofs, ks, keys) {
		return "", newError("send", KindMintRejected, fmt.Errorf("mint's DLEQ proof failed verification"))
	}

	tokenProofs := proofs[:len(tokenAmounts)]
	changeProofs := proofs[len(tokenAmounts):]

	if err := w.storeMintedProofs(mintURL, ks.Id, changeProofs); err != nil {
		w.logErrorf("send: failed to store change: %v", err)
	}
	if err := w.store.MarkSpent(inputIDs, mintURL); err != nil {
		w.logErrorf("send: failed to mark spent inputs: %v", err)
	}

	token, err := cashu.NewTokenV3(tokenProofs, mintURL, cashu.Sat, includeDLEQ)
	if err != nil {
		return "", newError("send", KindUnknown, err)
	}
	serialized, err := token.Serialize()
	if err != nil {
		return "", newError("send", KindUnknown, err)
	}

	w.publishHistory(storage.HistoryEntry{Kind: "send", Mint: mintURL, Amount: amount, Fee: actualFee})
	w.publishProofsUpdated(mintURL, "send")
	w.logInfof("sent %d sats (fee %d) from %s", amount, actualFee, mintURL)
	return serialized, nil
}
