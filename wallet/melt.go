package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/cashukit/cashukit/blind"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/wallet/storage"
)

// meltReservationTimeout bounds how long proofs stay Reserved by a crashed
// melt. After it passes, ReclaimReserved (run before the next Send or
// MeltTokens reservation) checks them at the mint: unspent proofs go back
// to Unspent, spent ones are marked spent, pending ones stay reserved.
const meltReservationTimeout = 2 * time.Minute

// RequestMeltQuote asks the mint what it would cost (amount + fee reserve)
// to pay invoice, and persists the quote so MeltTokens can be retried.
func (w *Wallet) RequestMeltQuote(ctx context.Context, mintURL, invoice string) (*storage.MeltQuote, error) {
	resp, err := w.api.MeltQuote(ctx, mintURL, invoice, cashu.Sat)
	if err != nil {
		return nil, newError("request_melt_quote", KindMintUnreachable, err)
	}

	quote := storage.MeltQuote{
		QuoteID:        resp.Quote,
		Mint:           mintURL,
		Unit:           cashu.Sat.String(),
		PaymentRequest: invoice,
		Amount:         resp.Amount,
		FeeReserve:     resp.FeeReserve,
		State:          storage.QuoteUnpaid,
		CreatedAt:      time.Now().Unix(),
		Expiry:         resp.Expiry,
	}
	if resp.Paid {
		quote.State = storage.QuotePaid
	}
	if err := w.store.SaveMeltQuote(quote); err != nil {
		return nil, newError("request_melt_quote", KindUnknown, err)
	}
	return &quote, nil
}

// MeltTokens pays a Lightning invoice with ecash: it reserves enough
// unspent proofs to cover amount + fee_reserve plus a small safety buffer,
// blinds change outputs sized to the maximum possible
// overpayment refund, submits the melt, and reconciles: proofs are marked
// spent only once the mint confirms payment, and on any ambiguous failure
// the reserved inputs are quarantined rather than released, since a second
// melt with the same proofs after the mint actually paid the invoice would
// be a double-spend attempt the mint will reject anyway.
func (w *Wallet) MeltTokens(ctx context.Context, mintURL, quoteID string) (*storage.MeltQuote, error) {
	quote, err := w.store.GetMeltQuote(quoteID)
	if err != nil || quote == nil {
		return nil, newError("melt", KindInvalidQuote, fmt.Errorf("unknown quote %s", quoteID))
	}

	ks, err := w.activeKeyset(ctx, mintURL)
	if err != nil {
		return nil, newError("melt", KindMintUnreachable, err)
	}

	required := quote.Amount + quote.FeeReserve + meltSafetyBuffer
	w.reclaimBestEffort(ctx, mintURL)
	inputs, err := w.store.Reserve(required, mintURL, meltReservationTimeout)
	if err != nil {
		return nil, newError("melt", KindInsufficientFunds, err)
	}
	inputIDs := proofIDs(inputs)

	var reserved uint64
	for _, p := range inputs {
		reserved += p.Amount
	}
	// Plan change outputs for the worst case where the actual Lightning
	// routing fee turns out to be zero: the mint only signs as many of
	// these as the unused portion of fee_reserve actually covers.
	changeAmount := reserved - quote.Amount
	outputs, err := blind.Blind(ctx, w.api, mintURL, ks.Id, blind.Plan(changeAmount))
	if err != nil {
		w.unreserve(mintURL, inputIDs, "melt_blind_failed")
		return nil, newError("melt", KindUnknown, err)
	}

	resp, err := w.api.Melt(ctx, mintURL, quoteID, toProofs(inputs), outputs.ToBlindedMessages())
	if err != nil {
		w.logErrorf("melt call to %s failed, quarantining %d reserved proofs: %v", mintURL, len(inputIDs), err)
		w.publishProofsUpdated(mintURL, "melt_ambiguous")
		return nil, newError("melt", KindMintUnreachable, err)
	}

	if !resp.Paid {
		w.unreserve(mintURL, inputIDs, "melt_not_paid")
		return nil, newError("melt", KindMintRejected, fmt.Errorf("mint did not pay invoice for quote %s", quoteID))
	}

	if err := w.store.MarkSpent(inputIDs, mintURL); err != nil {
		w.logErrorf("failed to mark melted proofs spent: %v", err)
	}

	var changeTotal uint64
	if len(resp.Change) > 0 {
		keys, err := decodePublicKeys(ks)
		if err != nil {
			w.logErrorf("melt: decoding keys for change: %v", err)
		} else {
			changeProofs, err := blind.Unblind(outputs, resp.Change, mintURL, keys)
			if err != nil {
				w.logErrorf("melt: unblinding change: %v", err)
			} else if !verifyDLEQ(changeProofs, ks, keys) {
				w.logErrorf("melt: change DLEQ proof failed verification, discarding")
			} else if err := w.storeMintedProofs(mintURL, ks.Id, changeProofs); err != nil {
				w.logErrorf("melt: storing change: %v", err)
			} else {
				changeTotal = changeProofs.Amount()
			}
		}
	}

	quote.State = storage.QuoteIssued
	quote.Preimage = resp.PaymentPreimage
	if err := w.store.SaveMeltQuote(*quote); err != nil {
		w.logErrorf("failed to persist melt quote %s: %v", quoteID, err)
	}

	// What the melt actually cost beyond the invoice amount: whatever of
	// the reserved inputs did not come back as change.
	w.publishHistory(storage.HistoryEntry{Kind: "melt", Mint: mintURL, Amount: quote.Amount, Fee: reserved - changeTotal - quote.Amount})
	w.publishProofsUpdated(mintURL, "melt")
	w.logInfof("melted %d sats (+%d fee reserve) at %s", quote.Amount, quote.FeeReserve, mintURL)
	return quote, nil
}

func (w *Wallet) unreserve(mintURL string, ids []string, reason string) {
	if err := w.store.Unreserve(ids, mintURL); err != nil {
		w.logErrorf("failed to unreserve proofs after %s: %v", reason, err)
		return
	}
	w.publishProofsUpdated(mintURL, reason)
}

func proofIDs(proofs []storage.StoredProof) []string {
	ids := make([]string, len(proofs))
	for i, p := range proofs {
		ids[i] = p.C
	}
	return ids
}

func toProofs(stored []storage.StoredProof) cashu.Proofs {
	proofs := make(cashu.Proofs, len(stored))
	for i, p := range stored {
		proofs[i] = p.Proof
	}
	return proofs
}
