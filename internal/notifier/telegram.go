package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/usdt-tracker/internal/reconcile"
	"github.com/suspectuso/usdt-tracker/internal/storage"
	"github.com/suspectuso/usdt-tracker/internal/trongrid"
)

// Sender delivers a message to a Telegram user
type Sender interface {
	SendNotification(ctx context.Context, userID int64, text string, keyboard *models.InlineKeyboardMarkup) error
}

// Telegram formats events as HTML messages for the paying user
type Telegram struct {
	sender Sender
}

// NewTelegram creates a Telegram sink
func NewTelegram(sender Sender) *Telegram {
	return &Telegram{sender: sender}
}

func (t *Telegram) Notify(ctx context.Context, ev reconcile.Event) error {
	var text string
	switch ev.Type {
	case reconcile.EventConfirmed:
		text = FormatConfirmed(ev)
	case reconcile.EventExpired:
		text = FormatExpired(ev)
	default:
		return nil
	}

	err := t.sender.SendNotification(ctx, ev.UserID, text, nil)
	if err != nil {
		return fmt.Errorf("telegram notify user %d: %w", ev.UserID, err)
	}
	return nil
}

// FormatConfirmed renders a confirmed payment
func FormatConfirmed(ev reconcile.Event) string {
	title := "✅ <b>Payment confirmed</b>"
	if ev.AutoCredit {
		title = "💰 <b>Incoming transfer credited</b>"
	}

	lines := []string{
		title,
		"",
		fmt.Sprintf("+%s %s 🟩", storage.FormatAmount(ev.Amount), ev.Currency),
		"",
		fmt.Sprintf("%s → %s", addressLink(ev.FromAddress), addressLink(ev.WalletAddress)),
	}

	if ev.PaymentID != 0 {
		lines = append(lines, fmt.Sprintf("🧾 Payment #%d", ev.PaymentID))
	}
	if ev.Description != "" {
		lines = append(lines, fmt.Sprintf("💬 <i>%s</i>", html.EscapeString(ev.Description)))
	}
	if ev.TxHash != "" {
		lines = append(lines, "", fmt.Sprintf("<a href='%s'>View on Tronscan</a>", TxURL(ev.TxHash)))
	}

	return strings.Join(lines, "\n")
}

// FormatExpired renders a pending payment that ran out of time
func FormatExpired(ev reconcile.Event) string {
	lines := []string{
		"⌛ <b>Payment expired</b>",
		"",
		fmt.Sprintf("Payment #%d for %s %s was not received in time.",
			ev.PaymentID, storage.FormatAmount(ev.Amount), ev.Currency),
		fmt.Sprintf("Wallet: %s", addressLink(ev.WalletAddress)),
	}
	if ev.Description != "" {
		lines = append(lines, fmt.Sprintf("💬 <i>%s</i>", html.EscapeString(ev.Description)))
	}
	lines = append(lines, "", "Create a new one with /pay if you still want to pay.")
	return strings.Join(lines, "\n")
}

// AddressURL links an address on Tronscan
func AddressURL(address string) string {
	return "https://tronscan.org/#/address/" + address
}

// TxURL links a transaction on Tronscan
func TxURL(hash string) string {
	return "https://tronscan.org/#/transaction/" + hash
}

func addressLink(address string) string {
	if address == "" {
		return "unknown"
	}
	return fmt.Sprintf("<a href='%s'>%s</a>", AddressURL(address), trongrid.ShortAddr(address, 4))
}
