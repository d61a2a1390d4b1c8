// Package nut09 contains structs as defined in [NUT-09]
//
// [NUT-09]: https://github.com/cashubtc/nuts/blob/main/09.md
package nut09

import "github.com/cashukit/cashukit/cashu"

// PostRestoreRequest asks a mint whether it has ever signed the blinded
// points in Outputs. blind.DeriveForRestore builds Outputs by deriving one
// B_ per backup index and then repeating it once per entry in
// blind.RestoreDenominations, since the wallet has no way to know in
// advance which denomination an index was minted at.
type PostRestoreRequest struct {
	Outputs cashu.BlindedMessages `json:"outputs"`
}

// PostRestoreResponse echoes back only the subset of the request's Outputs
// the mint actually has a signature for, paired positionally with
// Signatures. wallet/restore.go's matchRestoreOutputs collapses the
// denomination-fan-out duplicates this produces back down to one recovered
// proof per backup index, using whichever signature the mint returned.
type PostRestoreResponse struct {
	Outputs    cashu.BlindedMessages   `json:"outputs"`
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
