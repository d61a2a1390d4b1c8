// Package nut01 contains structs as defined in [NUT-01]
//
// [NUT-01]: https://github.com/cashubtc/nuts/blob/main/01.md
package nut01

import "github.com/cashukit/cashukit/crypto"

// GetKeysResponse is a mint's response to GET /v1/keys: every active
// keyset's public signing keys, so a wallet can blind against whichever
// keyset it chooses. crypto.PublicKeys already knows how to unmarshal the
// {amount_string: hex_key} wire shape, so plain struct tags are all this
// type needs.
type GetKeysResponse struct {
	Keysets []Keyset `json:"keysets"`
}

type Keyset struct {
	Id   string            `json:"id"`
	Unit string            `json:"unit"`
	Keys crypto.PublicKeys `json:"keys"`
}
