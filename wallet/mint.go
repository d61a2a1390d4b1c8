package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cashukit/cashukit/blind"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/wallet/storage"
)

// blindedMessageAlreadySignedErrCode is the mint's NUT-04 error code for a
// quote whose outputs were already signed by a previous, interrupted Mint
// call.
const blindedMessageAlreadySignedErrCode = 10002

// quotePollInterval and quotePollDeadline pace PollUntilPaid. Vars rather
// than consts so tests can shrink them.
var (
	quotePollInterval = 2 * time.Second
	quotePollDeadline = 120 * time.Second
)

// RequestMint asks the mint for a bolt11 invoice to mint amount sats, and
// persists the quote locally so MintTokens can be retried after the
// process restarts.
func (w *Wallet) RequestMint(ctx context.Context, mintURL string, amount uint64) (*storage.MintQuote, error) {
	resp, err := w.api.MintQuote(ctx, mintURL, amount, cashu.Sat)
	if err != nil {
		return nil, newError("request_mint", KindMintUnreachable, err)
	}

	quote := storage.MintQuote{
		QuoteID:        resp.Quote,
		Mint:           mintURL,
		Unit:           cashu.Sat.String(),
		PaymentRequest: resp.Request,
		Amount:         amount,
		State:          storage.QuoteUnpaid,
		CreatedAt:      time.Now().Unix(),
		Expiry:         resp.Expiry,
	}
	if resp.Paid {
		quote.State = storage.QuotePaid
	}
	if err := w.store.SaveMintQuote(quote); err != nil {
		return nil, newError("request_mint", KindUnknown, err)
	}
	w.logInfof("requested mint quote %s for %d sats at %s", quote.QuoteID, amount, mintURL)
	return &quote, nil
}

// MintQuoteState refreshes and returns the quote's latest paid/unpaid
// status from the mint.
func (w *Wallet) MintQuoteState(ctx context.Context, mintURL, quoteID string) (*storage.MintQuote, error) {
	quote, err := w.store.GetMintQuote(quoteID)
	if err != nil || quote == nil {
		return nil, newError("mint_quote_state", KindInvalidQuote, fmt.Errorf("unknown quote %s", quoteID))
	}

	resp, err := w.api.MintQuoteState(ctx, mintURL, quoteID)
	if err != nil {
		return nil, newError("mint_quote_state", KindMintUnreachable, err)
	}
	if resp.Paid {
		quote.State = storage.QuotePaid
	}
	if err := w.store.SaveMintQuote(*quote); err != nil {
		return nil, newError("mint_quote_state", KindUnknown, err)
	}
	w.publishQuoteUpdated(quote.QuoteID, mintURL, quote.State.String())
	return quote, nil
}

// PollUntilPaid blocks until the mint reports the quote paid, checking
// every quotePollInterval up to quotePollDeadline (or until ctx is
// cancelled, whichever comes first). It returns the refreshed quote on
// success and KindQuoteNotPaid if the deadline passes first.
func (w *Wallet) PollUntilPaid(ctx context.Context, mintURL, quoteID string) (*storage.MintQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, quotePollDeadline)
	defer cancel()

	ticker := time.NewTicker(quotePollInterval)
	defer ticker.Stop()

	for {
		quote, err := w.MintQuoteState(ctx, mintURL, quoteID)
		if err != nil {
			return nil, err
		}
		if quote.State != storage.QuoteUnpaid {
			return quote, nil
		}

		select {
		case <-ctx.Done():
			return nil, newError("poll_quote", KindQuoteNotPaid, fmt.Errorf("quote %s not paid before deadline: %w", quoteID, ctx.Err()))
		case <-ticker.C:
		}
	}
}

// MintTokens redeems a paid quote for ecash: it blinds fresh outputs for
// amount, asks the mint to sign them, unblinds the signatures into proofs,
// and stores the result. If the local record still shows the quote
// unpaid, it first asks the mint for the quote's current state and
// rejects the quote only if the mint reports it unpaid too. If the mint
// reports the quote's outputs were
// already signed (10002 — a previous call crashed after the mint
// committed but before the wallet received the response), it recovers by
// restoring against the exact same blinded outputs instead of losing the
// funds.
func (w *Wallet) MintTokens(ctx context.Context, mintURL, quoteID string, amount uint64) (cashu.Proofs, error) {
	quote, err := w.store.GetMintQuote(quoteID)
	if err != nil || quote == nil {
		return nil, newError("mint", KindInvalidQuote, fmt.Errorf("unknown quote %s", quoteID))
	}
	if quote.State == storage.QuoteUnpaid {
		quote, err = w.MintQuoteState(ctx, mintURL, quoteID)
		if err != nil {
			return nil, err
		}
	}
	if quote.State == storage.QuoteUnpaid {
		return nil, newError("mint", KindQuoteNotPaid, fmt.Errorf("quote %s not paid", quoteID))
	}

	ks, err := w.activeKeyset(ctx, mintURL)
	if err != nil {
		return nil, newError("mint", KindMintUnreachable, err)
	}

	outputs, err := blind.Blind(ctx, w.api, mintURL, ks.Id, blind.Plan(amount))
	if err != nil {
		return nil, newError("mint", KindUnknown, err)
	}

	var proofs cashu.Proofs
	resp, err := w.api.Mint(ctx, mintURL, quoteID, outputs.ToBlindedMessages())
	if err != nil {
		cashuErr, ok := err.(cashu.Error)
		if !ok || cashuErr.Code != blindedMessageAlreadySignedErrCode {
			return nil, newError("mint", KindMintRejected, err)
		}
		w.logInfof("quote %s outputs already signed, recovering via restore", quoteID)
		proofs, err = w.recoverZombieMint(ctx, mintURL, ks, outputs)
		if err != nil {
			return nil, err
		}
	} else {
		keys, err := decodePublicKeys(ks)
		if err != nil {
			return nil, newError("mint", KindUnknown, err)
		}
		proofs, err = blind.Unblind(outputs, resp.Signatures, mintURL, keys)
		if err != nil {
			return nil, newError("mint", KindUnknown, err)
		}
		if !verifyDLEQ(proofs, ks, keys) {
			return nil, newError("mint", KindMintRejected, fmt.Errorf("mint's DLEQ proof failed verification"))
		}
	}

	if err := w.storeMintedProofs(mintURL, ks.Id, proofs); err != nil {
		return nil, newError("mint", KindUnknown, err)
	}

	quote.State = storage.QuoteIssued
	if err := w.store.SaveMintQuote(*quote); err != nil {
		w.logErrorf("failed to mark quote %s issued: %v", quoteID, err)
	}

	w.publishHistory(storage.HistoryEntry{Kind: "mint", Mint: mintURL, Amount: amount})
	w.publishProofsUpdated(mintURL, "mint")
	w.logInfof("minted %d sats at %s", amount, mintURL)
	return proofs, nil
}

// recoverZombieMint asks the mint to restore the exact blinded outputs
// already submitted and unblinds whatever comes back, so a crash between
// the mint committing its signatures and the wallet receiving the response
// never loses funds. The caller commits the recovered proofs the same way
// it would a normal mint response.
func (w *Wallet) recoverZombieMint(ctx context.Context, mintURL string, ks *storage.WalletKeyset, outputs blind.Outputs) (cashu.Proofs, error) {
	resp, err := w.api.Restore(ctx, mintURL, outputs.ToBlindedMessages())
	if err != nil {
		return nil, newError("mint_recover", KindMintUnreachable, err)
	}
	if len(resp.Signatures) == 0 {
		return nil, newError("mint_recover", KindMintRejected, fmt.Errorf("mint has no record of these outputs"))
	}

	byB_ := make(map[string]blind.Output, len(outputs))
	for _, o := range outputs {
		byB_[hex.EncodeToString(o.B_.SerializeCompressed())] = o
	}

	// The restore endpoint returns outputs and signatures as parallel
	// arrays, not keyed by field, so outputs[i] is the blinded message
	// that produced signatures[i].
	var matched blind.Outputs
	matchedSigs := make(cashu.BlindedSignatures, 0, len(resp.Outputs))
	for i, out := range resp.Outputs {
		o, ok := byB_[out.B_]
		if !ok {
			continue
		}
		matched = append(matched, o)
		matchedSigs = append(matchedSigs, resp.Signatures[i])
	}

	keys, err := decodePublicKeys(ks)
	if err != nil {
		return nil, newError("mint_recover", KindUnknown, err)
	}
	proofs, err := blind.UnblindPaired(matched, matchedSigs, keys)
	if err != nil {
		return nil, newError("mint_recover", KindUnknown, err)
	}
	return proofs, nil
}

func (w *Wallet) storeMintedProofs(mintURL, keysetID string, proofs cashu.Proofs) error {
	stored := make([]storage.StoredProof, len(proofs))
	for i, p := range proofs {
		p.Id = keysetID
		stored[i] = storage.StoredProof{Proof: p, Mint: mintURL, State: storage.Unspent}
	}
	return w.store.InsertMany(stored)
}
