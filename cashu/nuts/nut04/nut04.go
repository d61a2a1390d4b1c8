// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import "github.com/cashukit/cashukit/cashu"

// PostMintQuoteBolt11Request asks a mint for an invoice to fund amount
// sat worth of new proofs.
type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

// PostMintQuoteBolt11Response carries the invoice to pay. The wallet polls
// MintQuoteState until Paid flips true, then calls Mint with outputs sized
// to Amount.
type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	Paid    bool   `json:"paid"`
	Expiry  int64  `json:"expiry"`
}

// PostMintBolt11Request redeems a paid quote for signatures. If the wallet
// crashed after a prior Mint call for this quote already succeeded, the
// mint answers with BlindedMessageAlreadySigned rather than double-issuing
// — the zombie-quote recovery path then sends the same blinded outputs to
// Restore and unblinds the signatures the mint returns.
type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
