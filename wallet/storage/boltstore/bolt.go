// Package boltstore implements wallet/storage.Store on top of
// go.etcd.io/bbolt: one bucket per concern, values JSON-encoded, proofs
// keyed by C, their canonical identity.
package boltstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cashukit/cashukit/wallet/storage"
	bolt "go.etcd.io/bbolt"
)

const (
	proofsBucket   = "proofs"
	quotesBucket   = "mint_quotes"
	meltBucket     = "melt_quotes"
	keysetsBucket  = "keysets"
	seedBucket     = "seed"
	historyBucket  = "history"
	seedKey        = "seed"
	mnemonicKey    = "mnemonic"
)

// Store is the bbolt-backed wallet.storage.Store.
type Store struct {
	db *bolt.DB
}

// Open creates (or reuses) wallet.db under dir and ensures every bucket
// this store needs exists.
func Open(dir string) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dir, "wallet.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: opening db: %v", err)
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{proofsBucket, quotesBucket, meltBucket, keysetsBucket, seedBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: initializing buckets: %v", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- ProofStore ---

func (s *Store) InsertMany(proofs []storage.StoredProof) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))
		for _, p := range proofs {
			key := []byte(p.C)
			incoming := p

			if existing := b.Get(key); existing != nil {
				var prior storage.StoredProof
				if err := json.Unmarshal(existing, &prior); err == nil {
					if prior.State != storage.Unspent && incoming.State == storage.Unspent {
						// revive: keep incoming (unspent) state
					} else {
						incoming.State = prior.State
						incoming.ReservedUntil = prior.ReservedUntil
					}
				}
			}

			data, err := json.Marshal(incoming)
			if err != nil {
				return fmt.Errorf("boltstore: encoding proof %s: %v", p.C, err)
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) FetchUnspent(mint string) ([]storage.StoredProof, error) {
	return s.fetchByState(mint, storage.Unspent)
}

func (s *Store) FetchReserved(mint string) ([]storage.StoredProof, error) {
	return s.fetchByState(mint, storage.Reserved)
}

func (s *Store) fetchByState(mint string, state storage.ProofState) ([]storage.StoredProof, error) {
	mint = trimTrailingSlash(mint)
	var out []storage.StoredProof

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))
		return b.ForEach(func(k, v []byte) error {
			var p storage.StoredProof
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			if p.State != state {
				return nil
			}
			if mint != "" && trimTrailingSlash(p.Mint) != mint {
				return nil
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (s *Store) Reserve(amount uint64, mint string, timeout time.Duration) ([]storage.StoredProof, error) {
	mint = trimTrailingSlash(mint)
	var reserved []storage.StoredProof

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))

		var candidates []storage.StoredProof
		if err := b.ForEach(func(k, v []byte) error {
			var p storage.StoredProof
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			if p.State == storage.Unspent && trimTrailingSlash(p.Mint) == mint {
				candidates = append(candidates, p)
			}
			return nil
		}); err != nil {
			return err
		}

		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Amount > candidates[j].Amount })

		var total uint64
		var available uint64
		for _, c := range candidates {
			available += c.Amount
		}
		if available < amount {
			return &storage.ErrInsufficientFunds{Requested: amount, Available: available}
		}

		deadline := time.Now().Add(timeout).Unix()
		for _, c := range candidates {
			if total >= amount {
				break
			}
			c.State = storage.Reserved
			c.ReservedUntil = deadline
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(c.C), data); err != nil {
				return err
			}
			reserved = append(reserved, c)
			total += c.Amount
		}
		return nil
	})

	return reserved, err
}

func (s *Store) MarkSpent(ids []string, mint string) error {
	return s.transitionProofs(ids, storage.Spent)
}

func (s *Store) Unreserve(ids []string, mint string) error {
	return s.transitionProofs(ids, storage.Unspent)
}

func (s *Store) transitionProofs(ids []string, state storage.ProofState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))
		for _, id := range ids {
			key := []byte(id)
			v := b.Get(key)
			if v == nil {
				continue
			}
			var p storage.StoredProof
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			p.State = state
			if state != storage.Reserved {
				p.ReservedUntil = 0
			}
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Delete(ids []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(proofsBucket))
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- QuoteStore ---

func (s *Store) SaveMintQuote(q storage.MintQuote) error {
	return putJSON(s.db, quotesBucket, q.QuoteID, q)
}

func (s *Store) GetMintQuote(id string) (*storage.MintQuote, error) {
	var q storage.MintQuote
	ok, err := getJSON(s.db, quotesBucket, id, &q)
	if err != nil || !ok {
		return nil, err
	}
	return &q, nil
}

func (s *Store) ListMintQuotes(mint string) ([]storage.MintQuote, error) {
	var out []storage.MintQuote
	err := forEachJSON(s.db, quotesBucket, func(v []byte) error {
		var q storage.MintQuote
		if err := json.Unmarshal(v, &q); err != nil {
			return nil
		}
		if mint == "" || trimTrailingSlash(q.Mint) == trimTrailingSlash(mint) {
			out = append(out, q)
		}
		return nil
	})
	return out, err
}

func (s *Store) SaveMeltQuote(q storage.MeltQuote) error {
	return putJSON(s.db, meltBucket, q.QuoteID, q)
}

func (s *Store) GetMeltQuote(id string) (*storage.MeltQuote, error) {
	var q storage.MeltQuote
	ok, err := getJSON(s.db, meltBucket, id, &q)
	if err != nil || !ok {
		return nil, err
	}
	return &q, nil
}

func (s *Store) ListMeltQuotes(mint string) ([]storage.MeltQuote, error) {
	var out []storage.MeltQuote
	err := forEachJSON(s.db, meltBucket, func(v []byte) error {
		var q storage.MeltQuote
		if err := json.Unmarshal(v, &q); err != nil {
			return nil
		}
		if mint == "" || trimTrailingSlash(q.Mint) == trimTrailingSlash(mint) {
			out = append(out, q)
		}
		return nil
	})
	return out, err
}

// --- KeysetStore ---

func (s *Store) SaveKeyset(ks storage.WalletKeyset) error {
	return putJSON(s.db, keysetsBucket, ks.Id, ks)
}

func (s *Store) GetKeyset(id string) (*storage.WalletKeyset, error) {
	var ks storage.WalletKeyset
	ok, err := getJSON(s.db, keysetsBucket, id, &ks)
	if err != nil || !ok {
		return nil, err
	}
	return &ks, nil
}

func (s *Store) ListKeysets(mint string) ([]storage.WalletKeyset, error) {
	var out []storage.WalletKeyset
	err := forEachJSON(s.db, keysetsBucket, func(v []byte) error {
		var ks storage.WalletKeyset
		if err := json.Unmarshal(v, &ks); err != nil {
			return nil
		}
		if mint == "" || trimTrailingSlash(ks.MintURL) == trimTrailingSlash(mint) {
			out = append(out, ks)
		}
		return nil
	})
	return out, err
}

func (s *Store) IncrementCounter(keysetID string, by uint32) (uint32, error) {
	var newCounter uint32
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysetsBucket))
		v := b.Get([]byte(keysetID))
		if v == nil {
			return errors.New("boltstore: keyset not found")
		}
		var ks storage.WalletKeyset
		if err := json.Unmarshal(v, &ks); err != nil {
			return err
		}
		ks.Counter += by
		newCounter = ks.Counter
		data, err := json.Marshal(ks)
		if err != nil {
			return err
		}
		return b.Put([]byte(keysetID), data)
	})
	return newCounter, err
}

// --- SeedStore ---

func (s *Store) SaveSeed(mnemonic string, seed []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(seedBucket))
		if err := b.Put([]byte(seedKey), seed); err != nil {
			return err
		}
		return b.Put([]byte(mnemonicKey), []byte(mnemonic))
	})
}

func (s *Store) GetMnemonic() (string, error) {
	var mnemonic string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(seedBucket))
		mnemonic = string(b.Get([]byte(mnemonicKey)))
		return nil
	})
	return mnemonic, err
}

func (s *Store) GetSeed() ([]byte, error) {
	var seed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(seedBucket))
		seed = b.Get([]byte(seedKey))
		return nil
	})
	return seed, err
}

// --- HistoryStore ---

func (s *Store) AppendHistory(entry storage.HistoryEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(historyBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

func (s *Store) ListHistory() ([]storage.HistoryEntry, error) {
	var out []storage.HistoryEntry
	err := forEachJSON(s.db, historyBucket, func(v []byte) error {
		var e storage.HistoryEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	return []byte(hex.EncodeToString([]byte{
		byte(seq >> 56), byte(seq >> 48), byte(seq >> 40), byte(seq >> 32),
		byte(seq >> 24), byte(seq >> 16), byte(seq >> 8), byte(seq),
	}))
}

func trimTrailingSlash(url string) string {
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}

func putJSON(db *bolt.DB, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func getJSON(db *bolt.DB, bucket, key string, out any) (bool, error) {
	found := false
	err := db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, out)
	})
	return found, err
}

func forEachJSON(db *bolt.DB, bucket string, fn func(v []byte) error) error {
	return db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(_, v []byte) error {
			return fn(v)
		})
	})
}

var _ storage.Store = (*Store)(nil)
