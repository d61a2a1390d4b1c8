// Package mintapi defines the wallet's contract with a mint's HTTP API as
// one interface, so the orchestrator never downcasts to a concrete
// transport and a fake mint can be substituted in tests.
package mintapi

import (
	"context"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut02"
	"github.com/cashukit/cashukit/cashu/nuts/nut03"
	"github.com/cashukit/cashukit/cashu/nuts/nut04"
	"github.com/cashukit/cashukit/cashu/nuts/nut05"
	"github.com/cashukit/cashukit/cashu/nuts/nut06"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
	"github.com/cashukit/cashukit/cashu/nuts/nut09"
	"github.com/cashukit/cashukit/crypto"
)

// API is everything the wallet needs from a mint. mintclient.Client is the
// real net/http implementation; tests substitute an in-memory fake.
type API interface {
	// Info fetches the mint's NUT-06 info document.
	Info(ctx context.Context, mintURL string) (*nut06.MintInfo, error)

	// ActiveKeys returns the public keys of the mint's currently active
	// keysets (NUT-01, no id filter).
	ActiveKeys(ctx context.Context, mintURL string) (map[string]crypto.PublicKeys, error)

	// KeysByID returns the public keys for one specific keyset, active or not.
	KeysByID(ctx context.Context, mintURL, keysetID string) (crypto.PublicKeys, error)

	// AllKeysets lists keyset ids, units and active flags (NUT-02).
	AllKeysets(ctx context.Context, mintURL string) ([]nut02.Keyset, error)

	// MintQuote requests a Lightning invoice for amount (NUT-04).
	MintQuote(ctx context.Context, mintURL string, amount uint64, unit cashu.Unit) (*nut04.PostMintQuoteBolt11Response, error)

	// MintQuoteState polls the status of a previously requested mint quote.
	MintQuoteState(ctx context.Context, mintURL, quoteID string) (*nut04.PostMintQuoteBolt11Response, error)

	// Mint redeems a paid quote for blind signatures on outputs.
	Mint(ctx context.Context, mintURL, quoteID string, outputs cashu.BlindedMessages) (*nut04.PostMintBolt11Response, error)

	// MeltQuote requests the fee reserve needed to pay a Lightning invoice
	// (NUT-05).
	MeltQuote(ctx context.Context, mintURL, invoice string, unit cashu.Unit) (*nut05.PostMeltQuoteBolt11Response, error)

	// Melt pays a Lightning invoice by handing over inputs, optionally
	// requesting blind-signed change outputs.
	Melt(ctx context.Context, mintURL, quoteID string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (*nut05.PostMeltBolt11Response, error)

	// Swap exchanges inputs for new blind signatures on outputs (NUT-03).
	Swap(ctx context.Context, mintURL string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (*nut03.PostSwapResponse, error)

	// Restore asks the mint to re-issue signatures for any of outputs it
	// recognizes as previously signed (NUT-09).
	Restore(ctx context.Context, mintURL string, outputs cashu.BlindedMessages) (*nut09.PostRestoreResponse, error)

	// CheckState reports the spend state of the proofs identified by ys
	// (NUT-07).
	CheckState(ctx context.Context, mintURL string, ys []string) (*nut07.PostCheckStateResponse, error)
}
