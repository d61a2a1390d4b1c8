package wallet

import "github.com/cashukit/cashukit/wallet/storage"

// History returns every recorded mint/melt/send/receive/restore entry in
// append order.
func (w *Wallet) History() ([]storage.HistoryEntry, error) {
	entries, err := w.store.ListHistory()
	if err != nil {
		return nil, newError("history", KindUnknown, err)
	}
	return entries, nil
}
