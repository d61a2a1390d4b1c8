// Package storage defines the wallet's persistence contract: proofs,
// mint/melt quotes, keysets and the master seed. boltstore provides the
// default bbolt-backed implementation.
package storage

import (
	"fmt"
	"time"

	"github.com/cashukit/cashukit/cashu"
)

// ProofState is a proof's position in its lifecycle: unspent and available,
// reserved by an in-flight orchestration, or spent.
type ProofState int

const (
	Unspent ProofState = iota
	Reserved
	Spent
)

func (s ProofState) String() string {
	switch s {
	case Unspent:
		return "unspent"
	case Reserved:
		return "reserved"
	case Spent:
		return "spent"
	default:
		return "unknown"
	}
}

// StoredProof is a cashu.Proof plus the bookkeeping the store needs: which
// mint it belongs to, its lifecycle state, and — while Reserved — the
// deadline after which an abandoned reservation may be released back to
// Unspent.
type StoredProof struct {
	cashu.Proof
	Mint          string
	State         ProofState
	ReservedUntil int64
}

// ErrInsufficientFunds is returned by Reserve when the mint's unspent
// proofs do not cover the requested amount; reservation never partially
// succeeds.
type ErrInsufficientFunds struct {
	Requested uint64
	Available uint64
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: requested %d, available %d", e.Requested, e.Available)
}

// ProofStore is the proof lifecycle store. Every
// method is atomic with respect to every other method call on the same
// store; no two concurrent Reserve calls may hand out the same proof.
type ProofStore interface {
	// InsertMany upserts by C. On conflict it overwrites Mint and the
	// keyset id; if the existing state is not Unspent and the incoming
	// state is Unspent, the proof is revived, otherwise the existing
	// state is preserved.
	InsertMany(proofs []StoredProof) error

	// FetchUnspent returns all unspent proofs, optionally filtered to one
	// mint (URL equality after trailing-slash trim). Pass "" for all mints.
	FetchUnspent(mint string) ([]StoredProof, error)

	// FetchReserved returns all reserved proofs for mint ("" for all
	// mints), including those whose ReservedUntil deadline has passed.
	// Callers reconciling abandoned reservations check the deadline
	// themselves.
	FetchReserved(mint string) ([]StoredProof, error)

	// Reserve selects unspent proofs for mint, greedy largest-first,
	// accumulating until their total is at least amount, and atomically
	// marks them Reserved with a deadline of timeout from now.
	Reserve(amount uint64, mint string, timeout time.Duration) ([]StoredProof, error)

	// MarkSpent transitions the proofs identified by C (ids) to Spent.
	MarkSpent(ids []string, mint string) error

	// Unreserve transitions the proofs identified by C (ids) back to
	// Unspent. Used to roll back a failed saga.
	Unreserve(ids []string, mint string) error

	// Delete hard-removes the proofs identified by C (ids).
	Delete(ids []string) error
}

// QuoteState mirrors a mint's reported lifecycle for a quote.
type QuoteState int

const (
	QuoteUnpaid QuoteState = iota
	QuotePaid
	QuoteIssued
)

// String returns the human-readable name of the quote state.
func (s QuoteState) String() string {
	switch s {
	case QuoteUnpaid:
		return "UNPAID"
	case QuotePaid:
		return "PAID"
	case QuoteIssued:
		return "ISSUED"
	default:
		return "UNKNOWN"
	}
}

// MintQuote is the wallet's local record of a NUT-04 mint quote: the
// Lightning invoice to pay, the amount, and its paid/issued state. It does
// not record the outputs the quote was redeemed for.
type MintQuote struct {
	QuoteID        string
	Mint           string
	Unit           string
	PaymentRequest string
	Amount         uint64
	State          QuoteState
	CreatedAt      int64
	Expiry         int64
}

// MeltQuote is the wallet's local record of a NUT-05 melt quote.
type MeltQuote struct {
	QuoteID        string
	Mint           string
	Unit           string
	PaymentRequest string
	Amount         uint64
	FeeReserve     uint64
	State          QuoteState
	Preimage       string
	CreatedAt      int64
	Expiry         int64
}

// QuoteStore persists mint and melt quotes.
type QuoteStore interface {
	SaveMintQuote(MintQuote) error
	GetMintQuote(quoteID string) (*MintQuote, error)
	ListMintQuotes(mint string) ([]MintQuote, error)

	SaveMeltQuote(MeltQuote) error
	GetMeltQuote(quoteID string) (*MeltQuote, error)
	ListMeltQuotes(mint string) ([]MeltQuote, error)
}

// KeysetStore persists the wallet's view of each mint's keysets, including
// a per-keyset derivation counter. Restore does not read the counter; it
// always scans from index 0.
type KeysetStore interface {
	SaveKeyset(ks WalletKeyset) error
	GetKeyset(id string) (*WalletKeyset, error)
	ListKeysets(mint string) ([]WalletKeyset, error)
	IncrementCounter(keysetID string, by uint32) (uint32, error)
}

// WalletKeyset is the wallet's local record of one of a mint's keysets.
// Its public keys live in crypto.PublicKeys; storage.go only re-declares
// the shape it persists to avoid a storage->crypto JSON-tag dependency.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64][]byte
	Counter     uint32
	InputFeePpk uint
}

// SeedStore persists the wallet's BIP-39 mnemonic and derived seed.
type SeedStore interface {
	SaveSeed(mnemonic string, seed []byte) error
	GetMnemonic() (string, error)
	GetSeed() ([]byte, error)
}

// HistoryEntry records one completed mint/melt/send/receive/restore operation for
// display; it is append-only and never interpreted by the orchestrator.
type HistoryEntry struct {
	Kind      string
	Mint      string
	Amount    uint64
	Fee       uint64
	Timestamp int64
	Detail    string
}

// HistoryStore persists HistoryEntry records.
type HistoryStore interface {
	AppendHistory(HistoryEntry) error
	ListHistory() ([]HistoryEntry, error)
}

// Store is the full wallet persistence contract. boltstore.Store is the
// default bbolt-backed implementation.
type Store interface {
	ProofStore
	QuoteStore
	KeysetStore
	SeedStore
	HistoryStore
	Close() error
}
