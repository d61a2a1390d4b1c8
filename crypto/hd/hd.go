// Package hd wraps btcutil's BIP32 extended keys with the narrow subset a
// Cashu wallet needs: a master node derived from a seed, and hardened child
// derivation along a fixed path.
package hd

import (
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Node wraps an extended key so callers never touch hdkeychain directly.
type Node struct {
	key *hdkeychain.ExtendedKey
}

// NewMaster derives the master node from a BIP39 seed.
func NewMaster(seed []byte) (*Node, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	return &Node{key: key}, nil
}

// Hardened derives the hardened child at the given index.
func (n *Node) Hardened(index uint32) (*Node, error) {
	child, err := n.key.Derive(hdkeychain.HardenedKeyStart + index)
	if err != nil {
		return nil, err
	}
	return &Node{key: child}, nil
}

// Path derives through a sequence of hardened indices in order, e.g.
// Path(0, 0, 5) derives m/0'/0'/5'.
func (n *Node) Path(indices ...uint32) (*Node, error) {
	cur := n
	for _, idx := range indices {
		next, err := cur.Hardened(idx)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// PrivateKey returns the node's secp256k1 private key.
func (n *Node) PrivateKey() (*secp256k1.PrivateKey, error) {
	return n.key.ECPrivKey()
}

// PublicKey returns the node's secp256k1 public key.
func (n *Node) PublicKey() (*secp256k1.PublicKey, error) {
	return n.key.ECPubKey()
}
