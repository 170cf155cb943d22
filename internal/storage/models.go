package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a Telegram user known to the tracker
type User struct {
	ID         int64
	Username   string
	AutoCredit bool
	Allowed    bool
	CreatedAt  time.Time
}

// Wallet is a Tron address registered by a user
type Wallet struct {
	ID        int64
	UserID    int64
	Address   string
	Label     string
	IsActive  bool
	CreatedAt time.Time
}

// WatchedWallet is a wallet the reconciliation pass must visit
type WatchedWallet struct {
	Wallet
	AutoCredit bool
}

// PaymentStatus is the lifecycle state of a pending payment
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusExpired   PaymentStatus = "expired"
)

// PendingPayment is an expected incoming transfer
type PendingPayment struct {
	ID              int64
	UserID          int64
	Amount          decimal.Decimal
	Currency        string
	WalletAddress   string
	Description     string
	CallbackURL     string
	Status          PaymentStatus
	TransactionHash string
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	ExpiresAt       *time.Time
}

// CreationSkew lets a transfer stamped slightly before its request settle it.
const CreationSkew = 2 * time.Minute

// Accepts reports whether a transfer made at ts falls inside the payment's window:
// no earlier than CreatedAt minus CreationSkew and no later than ExpiresAt.
func (p *PendingPayment) Accepts(ts time.Time) bool {
	if ts.Before(p.CreatedAt.Add(-CreationSkew)) {
		return false
	}
	return p.ExpiresAt == nil || !ts.After(*p.ExpiresAt)
}

// PendingParams describes a new pending payment
type PendingParams struct {
	UserID        int64
	Amount        decimal.Decimal
	Currency      string
	WalletAddress string
	Description   string
	CallbackURL   string
	TTL           time.Duration // zero means no expiry
}

// ConfirmedPayment is an immutable credit record, unique per transaction hash
type ConfirmedPayment struct {
	ID              int64
	UserID          int64
	Amount          decimal.Decimal
	Currency        string
	TransactionHash string
	WalletAddress   string
	FromAddress     string
	PendingID       *int64
	ConfirmedAt     time.Time
}

// ConfirmParams describes a transfer to credit.
// PendingID of zero lets the store pick the oldest matching pending payment, if any.
type ConfirmParams struct {
	UserID        int64
	Amount        decimal.Decimal
	Currency      string
	TxHash        string
	WalletAddress string
	FromAddress   string
	PendingID     int64

	// TransferTime, when set, limits the pending lookup for an unset PendingID
	// to payments whose window contains it.
	TransferTime time.Time
}

// Notification is a delivered event kept for /history
type Notification struct {
	ID              int64
	UserID          int64
	Kind            string
	Amount          decimal.Decimal
	Currency        string
	TransactionHash string
	WalletAddress   string
	IsRead          bool
	CreatedAt       time.Time
}
