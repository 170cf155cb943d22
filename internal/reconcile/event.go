package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names what happened to a payment
type EventType string

const (
	EventConfirmed EventType = "payment.confirmed"
	EventExpired   EventType = "payment.expired"
)

// Event is handed to the Sink once per confirmed or expired payment
type Event struct {
	Type          EventType       `json:"type"`
	UserID        int64           `json:"user_id"`
	PaymentID     int64           `json:"payment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TxHash        string          `json:"transaction_hash,omitempty"`
	WalletAddress string          `json:"wallet_address"`
	FromAddress   string          `json:"from_address,omitempty"`
	Description   string          `json:"description,omitempty"`
	AutoCredit    bool            `json:"auto_credit"`
	Timestamp     time.Time       `json:"timestamp"`

	// CallbackURL is where the integrator asked to be notified. Not serialized.
	CallbackURL string `json:"-"`
}

// Sink receives events. Delivery errors are logged by the engine and never
// undo a confirmation.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
