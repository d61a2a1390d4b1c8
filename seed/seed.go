// Package seed manages the wallet's BIP-39 mnemonic and the 64-byte seed
// derived from it, which anchors every deterministic secret the wallet
// generates (NUT-13 restore).
package seed

import (
	"fmt"
	"log/slog"

	"github.com/tyler-smith/go-bip39"
)

// Seed holds the wallet's master seed material. Its String and LogValue
// methods never expose the underlying bytes; only callers that ask for them
// explicitly through Bytes (crypto/hd derivation via wallet.New) see them.
type Seed struct {
	mnemonic string
	bytes    []byte
}

// Generate creates a new 24-word mnemonic and its seed.
func Generate() (*Seed, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, fmt.Errorf("generating entropy: %v", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("generating mnemonic: %v", err)
	}
	return FromMnemonic(mnemonic)
}

// FromMnemonic loads a seed from an existing BIP-39 mnemonic, validating it
// first so a typo is caught before it silently derives the wrong keys.
func FromMnemonic(mnemonic string) (*Seed, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	b := bip39.NewSeed(mnemonic, "")
	return &Seed{mnemonic: mnemonic, bytes: b}, nil
}

// Mnemonic returns the recovery phrase. Callers are responsible for storing
// it safely; the wallet itself never persists it in plaintext logs.
func (s *Seed) Mnemonic() string {
	return s.mnemonic
}

// Bytes returns the 64-byte seed used for BIP-32 master key derivation.
func (s *Seed) Bytes() []byte {
	return s.bytes
}

// String and LogValue redact the mnemonic so it never ends up in a log line
// or a fmt.Println of the wallet's state.
func (s *Seed) String() string {
	return "seed(redacted)"
}

func (s *Seed) LogValue() slog.Value {
	return slog.StringValue("redacted")
}
