package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/usdt-tracker/internal/storage"
	"github.com/suspectuso/usdt-tracker/internal/trongrid"
)

// Callback data
const (
	cbMenu    = "menu"
	cbAdd     = "add"
	cbList    = "list"
	cbBalance = "balance"
	cbStatus  = "status"
	cbAuto    = "auto"
	cbHistory = "history"

	cbActivatePrefix = "act:"
	cbDeletePrefix   = "del:"
)

// MainKeyboard returns the main menu keyboard
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "➕ Добавить кошелёк", CallbackData: cbAdd},
				{Text: "📋 Кошельки", CallbackData: cbList},
			},
			{
				{Text: "💰 Баланс", CallbackData: cbBalance},
				{Text: "⏳ Статус", CallbackData: cbStatus},
			},
			{
				{Text: "🤖 Автозачисление", CallbackData: cbAuto},
				{Text: "🔔 История", CallbackData: cbHistory},
			},
		},
	}
}

// WalletsKeyboard lists wallets with activate and delete buttons.
// The active wallet is marked and has no activate button.
func WalletsKeyboard(wallets []storage.Wallet) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton

	for _, w := range wallets {
		name := walletTitle(w)
		if w.IsActive {
			name = "✅ " + name
		}

		row := []models.InlineKeyboardButton{
			{Text: name, URL: "https://tronscan.org/#/address/" + w.Address},
		}
		if !w.IsActive {
			row = append(row, models.InlineKeyboardButton{
				Text: "☑️", CallbackData: fmt.Sprintf("%s%d", cbActivatePrefix, w.ID),
			})
		}
		row = append(row, models.InlineKeyboardButton{
			Text: "🗑", CallbackData: fmt.Sprintf("%s%d", cbDeletePrefix, w.ID),
		})
		rows = append(rows, row)
	}

	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "➕ Добавить", CallbackData: cbAdd},
		{Text: "⬅️ Назад", CallbackData: cbMenu},
	})

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BackKeyboard returns a simple back button
func BackKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "⬅️ Назад", CallbackData: cbMenu},
			},
		},
	}
}

func walletTitle(w storage.Wallet) string {
	if w.Label != "" {
		return w.Label
	}
	return trongrid.ShortAddr(w.Address, 4)
}
