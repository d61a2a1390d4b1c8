package wallet

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/cashukit/cashukit/crypto"
)

// ReclaimReserved reconciles reservations whose deadline has passed: a
// crashed or ambiguously-failed saga leaves its inputs Reserved, and only
// the mint knows whether they were actually consumed. Each expired
// reservation is resolved through the mint's checkstate endpoint — spent
// proofs are marked spent, unspent ones are released back into the
// balance. Proofs the mint reports as pending (an in-flight Lightning
// payment) stay reserved. It returns how many proofs were released and how
// many turned out spent.
func (w *Wallet) ReclaimReserved(ctx context.Context, mintURL string) (released, spent int, err error) {
	reserved, err := w.store.FetchReserved(mintURL)
	if err != nil {
		return 0, 0, newError("reclaim", KindUnknown, err)
	}

	now := time.Now().Unix()
	var expired []string
	bySecretPoint := make(map[string]string)
	for _, p := range reserved {
		if p.ReservedUntil == 0 || p.ReservedUntil > now {
			continue
		}
		y, err := crypto.HashToCurve([]byte(p.Secret))
		if err != nil {
			return 0, 0, newError("reclaim", KindUnknown, err)
		}
		yHex := hex.EncodeToString(crypto.SerializePoint(y))
		expired = append(expired, yHex)
		bySecretPoint[yHex] = p.C
	}
	if len(expired) == 0 {
		return 0, 0, nil
	}

	resp, err := w.api.CheckState(ctx, mintURL, expired)
	if err != nil {
		return 0, 0, newError("reclaim", KindMintUnreachable, err)
	}

	var toUnreserve, toMarkSpent []string
	for _, st := range resp.States {
		id, ok := bySecretPoint[st.Y]
		if !ok {
			continue
		}
		switch st.State.String() {
		case "UNSPENT":
			toUnreserve = append(toUnreserve, id)
		case "SPENT":
			toMarkSpent = append(toMarkSpent, id)
		}
	}

	if len(toUnreserve) > 0 {
		if err := w.store.Unreserve(toUnreserve, mintURL); err != nil {
			return 0, 0, newError("reclaim", KindUnknown, err)
		}
	}
	if len(toMarkSpent) > 0 {
		if err := w.store.MarkSpent(toMarkSpent, mintURL); err != nil {
			return len(toUnreserve), 0, newError("reclaim", KindUnknown, err)
		}
	}

	if len(toUnreserve)+len(toMarkSpent) > 0 {
		w.publishProofsUpdated(mintURL, "reclaim")
		w.logInfof("reclaimed %d expired reservations at %s (%d released, %d spent)", len(toUnreserve)+len(toMarkSpent), mintURL, len(toUnreserve), len(toMarkSpent))
	}
	return len(toUnreserve), len(toMarkSpent), nil
}

// reclaimBestEffort runs ReclaimReserved before an operation that needs
// funds, so proofs stranded by an earlier crash count toward the coming
// reservation. Failure only costs availability, never correctness, so it
// is logged and swallowed.
func (w *Wallet) reclaimBestEffort(ctx context.Context, mintURL string) {
	if _, _, err := w.ReclaimReserved(ctx, mintURL); err != nil {
		w.logDebugf("reclaim before reserve failed: %v", err)
	}
}
