// Package nut03 contains structs as defined in [NUT-03]
//
// [NUT-03]: https://github.com/cashubtc/nuts/blob/main/03.md
package nut03

import "github.com/cashukit/cashukit/cashu"

// PostSwapRequest atomically exchanges Inputs for freshly blinded Outputs:
// a send splitting exact change, a receive normalizing a received token
// onto the wallet's own keyset, or a proof-set rebalance. The mint accepts
// or rejects the whole request; there is no partial swap.
type PostSwapRequest struct {
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostSwapResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
