package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cashukit/cashukit/blind"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut09"
	"github.com/cashukit/cashukit/crypto"
	"github.com/cashukit/cashukit/wallet/storage"
)

// restoreBatchSize is how many derivation indices are probed per /restore
// round trip. Each index fans out into len(blind.RestoreDenominations)
// outputs (one per standard denomination), so a batch sends
// restoreBatchSize*len(blind.RestoreDenominations) blinded messages.
const restoreBatchSize = 20

// restoreGapLimit is how many consecutive empty batches end the scan for
// one keyset.
const restoreGapLimit = 3

// restoreSafetyCap bounds the highest derivation index ever probed, so a
// misbehaving mint cannot make a restore run forever.
const restoreSafetyCap = 100

// restoreBatchTimeout bounds each /restore round trip.
const restoreBatchTimeout = 10 * time.Second

// RestoreResult summarizes one keyset's restore pass.
type RestoreResult struct {
	KeysetID string
	Restored uint64
	Proofs   int
}

// Restore walks every active keyset at mintURL, deriving blinded outputs
// deterministically from the wallet's seed and asking the mint which ones
// it has signed, recovering proofs the wallet lost track of.
// Strict mode: any batch whose /check call fails is discarded entirely
// rather than assumed unspent, since an unreachable check endpoint cannot
// prove a recovered proof is actually safe to spend.
func (w *Wallet) Restore(ctx context.Context, mintURL string) ([]RestoreResult, error) {
	keysets, err := w.api.AllKeysets(ctx, mintURL)
	if err != nil {
		return nil, newError("restore", KindMintUnreachable, err)
	}

	var results []RestoreResult
	for _, ks := range keysets {
		if !ks.Active {
			continue
		}
		res, err := w.restoreKeyset(ctx, mintURL, ks.Id)
		if err != nil {
			w.logErrorf("restore: keyset %s failed: %v", ks.Id, err)
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func (w *Wallet) restoreKeyset(ctx context.Context, mintURL, keysetID string) (*RestoreResult, error) {
	keys, err := w.api.KeysByID(ctx, mintURL, keysetID)
	if err != nil {
		return nil, fmt.Errorf("fetching keys: %v", err)
	}

	result := &RestoreResult{KeysetID: keysetID}
	var emptyBatches int
	nextIndex := uint32(0)

	for nextIndex < restoreSafetyCap && emptyBatches < restoreGapLimit {
		end := nextIndex + restoreBatchSize
		if end > restoreSafetyCap {
			end = restoreSafetyCap
		}
		indices := make([]uint32, 0, end-nextIndex)
		for i := nextIndex; i < end; i++ {
			indices = append(indices, i)
		}
		nextIndex = end

		outputs, _, err := blind.DeriveForRestore(w.master, keysetID, indices)
		if err != nil {
			return nil, fmt.Errorf("deriving batch: %v", err)
		}

		batchCtx, cancel := context.WithTimeout(ctx, restoreBatchTimeout)
		resp, err := w.api.Restore(batchCtx, mintURL, outputs.ToBlindedMessages())
		cancel()
		if err != nil {
			return nil, fmt.Errorf("restore batch: %v", err)
		}
		if len(resp.Signatures) == 0 {
			emptyBatches++
			continue
		}
		emptyBatches = 0

		matched, matchedSigs := matchRestoreOutputs(outputs, resp)

		proofs, err := blind.UnblindPaired(matched, matchedSigs, keys)
		if err != nil {
			return nil, fmt.Errorf("unblinding restored proofs: %v", err)
		}

		live, err := w.filterUnspent(ctx, mintURL, proofs)
		if err != nil {
			// Strict mode: if /check is unreachable, discard this batch
			// entirely rather than restore proofs whose spent status we
			// could not verify.
			w.logErrorf("restore: check failed for batch at keyset %s, discarding: %v", keysetID, err)
			continue
		}

		if len(live) > 0 {
			if err := w.storeMintedProofs(mintURL, keysetID, live); err != nil {
				return nil, fmt.Errorf("storing restored proofs: %v", err)
			}
			for _, p := range live {
				result.Restored += p.Amount
			}
			result.Proofs += len(live)
		}
	}

	if result.Proofs > 0 {
		w.publishProofsUpdated(mintURL, "restore")
		w.publishHistory(storage.HistoryEntry{Kind: "restore", Mint: mintURL, Amount: result.Restored})
	}
	return result, nil
}

// matchRestoreOutputs pairs the mint's returned (output, signature) pairs
// back to the locally-derived blind.Output for each one, by B_. Since
// DeriveForRestore submits every standard denomination for a given index
// under the same B_, a mint naively echoing back one match per submitted
// output can answer with the same B_ several times over; seen collapses
// those back down to the single real signature per index. The signature's
// own Amount (not the placeholder on the matched Output) is what
// blind.UnblindPaired trusts, so which of the duplicate local outputs wins
// the map insert below is immaterial — they differ only in Amount.
func matchRestoreOutputs(outputs blind.Outputs, resp *nut09.PostRestoreResponse) (blind.Outputs, cashu.BlindedSignatures) {
	byB_ := make(map[string]blind.Output, len(outputs))
	for _, o := range outputs {
		byB_[hex.EncodeToString(o.B_.SerializeCompressed())] = o
	}

	matched := make(blind.Outputs, 0, len(resp.Outputs))
	sigs := make(cashu.BlindedSignatures, 0, len(resp.Outputs))
	seen := make(map[string]bool, len(resp.Outputs))
	for i, out := range resp.Outputs {
		if seen[out.B_] {
			continue
		}
		o, ok := byB_[out.B_]
		if !ok {
			continue
		}
		seen[out.B_] = true
		matched = append(matched, o)
		sigs = append(sigs, resp.Signatures[i])
	}
	return matched, sigs
}

func (w *Wallet) filterUnspent(ctx context.Context, mintURL string, proofs cashu.Proofs) (cashu.Proofs, error) {
	ys := make([]string, len(proofs))
	bySecret := make(map[string]cashu.Proof, len(proofs))
	for i, p := range proofs {
		y, err := crypto.HashToCurve([]byte(p.Secret))
		if err != nil {
			return nil, fmt.Errorf("hashing secret to curve: %v", err)
		}
		yHex := hex.EncodeToString(crypto.SerializePoint(y))
		ys[i] = yHex
		bySecret[yHex] = p
	}

	resp, err := w.api.CheckState(ctx, mintURL, ys)
	if err != nil {
		return nil, err
	}

	live := make(cashu.Proofs, 0, len(proofs))
	for _, st := range resp.States {
		if st.State.String() != "UNSPENT" {
			continue
		}
		if p, ok := bySecret[st.Y]; ok {
			live = append(live, p)
		}
	}
	return live, nil
}
