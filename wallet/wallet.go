// Package wallet is the orchestrator: it coordinates the blinding engine,
// the proof/quote stores, the mint API, and the event bus into the
// mint/melt/send/receive sagas.
package wallet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cashukit/cashukit/crypto"
	"github.com/cashukit/cashukit/crypto/hd"
	"github.com/cashukit/cashukit/mintapi"
	"github.com/cashukit/cashukit/seed"
	"github.com/cashukit/cashukit/wallet/events"
	"github.com/cashukit/cashukit/wallet/mintclient"
	"github.com/cashukit/cashukit/wallet/storage"
	"github.com/cashukit/cashukit/wallet/storage/boltstore"
)

// meltSafetyBuffer pads every melt reservation above quote amount + fee
// reserve.
const meltSafetyBuffer = 3

// receiveFeeFloor is the minimum fee a receive assumes when the keyset's
// input_fee_ppk would otherwise round down to zero.
const receiveFeeFloor = 1

// Config configures a new Wallet.
type Config struct {
	// WalletDir is where wallet.db and wallet.log live.
	WalletDir string
	// LogLevel controls verbosity: "debug", "info" (default), or "disable".
	LogLevel string
	// API overrides the default net/http mint client, e.g. with a fake in
	// tests.
	API mintapi.API
}

// Wallet is the orchestrator. Its public methods are the only mutation
// surface onto the proof store, quote store, and event bus, each of which
// is internally guarded by its own mutex; Wallet itself holds no lock
// across a network call.
type Wallet struct {
	store  storage.Store
	api    mintapi.API
	bus    *events.Bus
	seed   *seed.Seed
	master *hd.Node
	logger *slog.Logger
}

// New loads or creates a wallet rooted at cfg.WalletDir, generating a new
// mnemonic if none is stored yet.
func New(cfg Config) (*Wallet, error) {
	if cfg.WalletDir == "" {
		return nil, fmt.Errorf("wallet: WalletDir is required")
	}
	if err := os.MkdirAll(cfg.WalletDir, 0700); err != nil {
		return nil, fmt.Errorf("wallet: creating wallet dir: %v", err)
	}

	store, err := boltstore.Open(cfg.WalletDir)
	if err != nil {
		return nil, fmt.Errorf("wallet: opening store: %v", err)
	}

	mnemonic, err := store.GetMnemonic()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("wallet: reading mnemonic: %v", err)
	}

	var s *seed.Seed
	if mnemonic == "" {
		s, err = seed.Generate()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("wallet: generating seed: %v", err)
		}
		if err := store.SaveSeed(s.Mnemonic(), s.Bytes()); err != nil {
			store.Close()
			return nil, fmt.Errorf("wallet: persisting seed: %v", err)
		}
	} else {
		s, err = seed.FromMnemonic(mnemonic)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("wallet: loading seed: %v", err)
		}
	}

	master, err := hd.NewMaster(s.Bytes())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("wallet: deriving master key: %v", err)
	}

	logger, err := setupLogger(cfg.WalletDir, cfg.LogLevel)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("wallet: setting up logger: %v", err)
	}

	api := cfg.API
	if api == nil {
		api = mintclient.New()
	}

	return &Wallet{
		store:  store,
		api:    api,
		bus:    events.NewBus(),
		seed:   s,
		master: master,
		logger: logger,
	}, nil
}

// Close releases the store and event bus. Subscribers receive a closed
// channel rather than a deadlock.
func (w *Wallet) Close() error {
	w.bus.Close()
	return w.store.Close()
}

// Events returns the wallet's event bus for subscribing to proofs_updated,
// quote_updated, and history_updated notifications.
func (w *Wallet) Events() *events.Bus {
	return w.bus
}

// Mnemonic returns the wallet's BIP-39 recovery phrase.
func (w *Wallet) Mnemonic() string {
	return w.seed.Mnemonic()
}

// Balance returns the total unspent amount, optionally filtered to one
// mint ("" for all mints).
func (w *Wallet) Balance(mint string) (uint64, error) {
	proofs, err := w.store.FetchUnspent(mint)
	if err != nil {
		return 0, newError("balance", KindUnknown, err)
	}
	var total uint64
	for _, p := range proofs {
		total += p.Amount
	}
	return total, nil
}

// activeKeyset fetches (and caches locally, via the keyset store) the public
// keys and fee rate for the mint's currently active keyset.
func (w *Wallet) activeKeyset(ctx context.Context, mintURL string) (*storage.WalletKeyset, error) {
	keysets, err := w.api.AllKeysets(ctx, mintURL)
	if err != nil {
		return nil, fmt.Errorf("fetching keysets: %v", err)
	}

	var activeID string
	for _, ks := range keysets {
		if ks.Active && ks.Unit == "sat" {
			activeID = ks.Id
			break
		}
	}
	if activeID == "" {
		return nil, fmt.Errorf("mint has no active sat keyset")
	}

	keys, err := w.api.KeysByID(ctx, mintURL, activeID)
	if err != nil {
		return nil, fmt.Errorf("fetching keys for keyset %s: %v", activeID, err)
	}
	if got := crypto.DeriveKeysetId(keys); got != activeID {
		return nil, fmt.Errorf("keyset %s failed integrity check (derived %s)", activeID, got)
	}

	var feePpk uint
	for _, ks := range keysets {
		if ks.Id == activeID {
			feePpk = ks.InputFeePpk
			break
		}
	}

	encoded := make(map[uint64][]byte, len(keys))
	for amount, pub := range keys {
		encoded[amount] = crypto.SerializePoint(pub)
	}

	wk := storage.WalletKeyset{
		Id:          activeID,
		MintURL:     mintURL,
		Unit:        "sat",
		Active:      true,
		PublicKeys:  encoded,
		InputFeePpk: feePpk,
	}
	if existing, err := w.store.GetKeyset(activeID); err == nil && existing != nil {
		wk.Counter = existing.Counter
	}
	if err := w.store.SaveKeyset(wk); err != nil {
		return nil, fmt.Errorf("persisting keyset: %v", err)
	}

	return &wk, nil
}

func decodePublicKeys(wk *storage.WalletKeyset) (crypto.PublicKeys, error) {
	keys := make(crypto.PublicKeys, len(wk.PublicKeys))
	for amount, raw := range wk.PublicKeys {
		pub, err := crypto.ParsePoint(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding key for amount %d: %v", amount, err)
		}
		keys[amount] = pub
	}
	return keys, nil
}

func (w *Wallet) publishHistory(entry storage.HistoryEntry) {
	entry.Timestamp = time.Now().Unix()
	if err := w.store.AppendHistory(entry); err != nil {
		w.logErrorf("failed to append history entry: %v", err)
		return
	}
	w.bus.Publish(events.HistoryUpdated, events.HistoryUpdatedEvent{
		Kind: entry.Kind, Mint: entry.Mint, Amount: entry.Amount,
	})
}

func (w *Wallet) publishProofsUpdated(mint, reason string) {
	w.bus.Publish(events.ProofsUpdated, events.ProofsUpdatedEvent{Mint: mint, Reason: reason})
}

func (w *Wallet) publishQuoteUpdated(quoteID, mint, state string) {
	w.bus.Publish(events.QuoteUpdated, events.QuoteUpdatedEvent{QuoteID: quoteID, Mint: mint, State: state})
}

func setupLogger(walletDir string, level string) (*slog.Logger, error) {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		if a.Key == slog.TimeKey {
			a.Value = slog.StringValue(time.Now().Truncate(time.Second * 2).Format(time.DateTime))
		}
		return a
	}

	logFile, err := os.OpenFile(filepath.Join(walletDir, "wallet.log"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %v", err)
	}

	logWriter := io.MultiWriter(os.Stdout, logFile)
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "disable":
		logWriter = io.Discard
	}

	return slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       lvl,
		ReplaceAttr: replacer,
	})), nil
}

// logInfof/logErrorf/logDebugf preserve the caller's source position in the
// log record rather than this helper's, by walking the call stack before
// handing the record to the configured handler.
func (w *Wallet) logInfof(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelInfo, fmt.Sprintf(format, args...), pcs[0])
	_ = w.logger.Handler().Handle(context.Background(), r)
}

func (w *Wallet) logErrorf(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelError, fmt.Sprintf(format, args...), pcs[0])
	_ = w.logger.Handler().Handle(context.Background(), r)
}

func (w *Wallet) logDebugf(format string, args ...any) {
	if !w.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelDebug, fmt.Sprintf(format, args...), pcs[0])
	_ = w.logger.Handler().Handle(context.Background(), r)
}
