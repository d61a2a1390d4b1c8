package wallet

import (
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut12"
	"github.com/cashukit/cashukit/crypto"
	"github.com/cashukit/cashukit/wallet/storage"
)

// verifyDLEQ checks any DLEQ proofs the mint attached to proofs against its
// own published keys, so a dishonest mint cannot sign with a key other
// than the one it advertised without detection. Proofs carrying no DLEQ
// proof are accepted unverified, matching NUT-12's "verification is
// optional but encouraged" stance.
func verifyDLEQ(proofs cashu.Proofs, ks *storage.WalletKeyset, keys crypto.PublicKeys) bool {
	wk := crypto.WalletKeyset{Id: ks.Id, MintURL: ks.MintURL, Unit: ks.Unit, PublicKeys: keys}
	return nut12.VerifyProofsDLEQ(proofs, wk)
}
