package cashu

// AmountSplit decomposes amount into its binary denominations in ascending
// order, e.g. AmountSplit(13) = [1, 4, 8]. A mint only ever holds one
// signing key per power of two, so every amount the wallet requests —
// whether building change, planning a send, or minting — has to be
// expressed this way first.
func AmountSplit(amount uint64) []uint64 {
	amounts := make([]uint64, 0)
	for amount != 0 {
		lowBit := amount & (-amount)
		amounts = append(amounts, lowBit)
		amount &^= lowBit
	}
	return amounts
}

// CheckDuplicateProofs reports whether proofs contains the same proof (by
// C, its identity) more than once.
func CheckDuplicateProofs(proofs Proofs) bool {
	seen := make(map[string]struct{}, len(proofs))
	for _, proof := range proofs {
		if _, ok := seen[proof.C]; ok {
			return true
		}
		seen[proof.C] = struct{}{}
	}
	return false
}
