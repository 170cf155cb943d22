package notifier

import (
	"context"

	"github.com/suspectuso/usdt-tracker/internal/reconcile"
	"github.com/suspectuso/usdt-tracker/internal/storage"
)

// HistoryStore persists notifications
type HistoryStore interface {
	AddNotification(ctx context.Context, n storage.Notification) error
}

// History records every event so /history can show it later
type History struct {
	store HistoryStore
}

func NewHistory(store HistoryStore) *History {
	return &History{store: store}
}

func (h *History) Notify(ctx context.Context, ev reconcile.Event) error {
	return h.store.AddNotification(ctx, storage.Notification{
		UserID:          ev.UserID,
		Kind:            string(ev.Type),
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		TransactionHash: ev.TxHash,
		WalletAddress:   ev.WalletAddress,
		CreatedAt:       ev.Timestamp,
	})
}
