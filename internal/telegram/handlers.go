package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/usdt-tracker/internal/config"
	"github.com/suspectuso/usdt-tracker/internal/storage"
)

// Chain is what the bot needs from the Tron explorer
type Chain interface {
	ValidateAddress(ctx context.Context, address string) bool
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot     *bot.Bot
	cfg     *config.Config
	storage *storage.Storage
	chain   Chain
	states  *StateManager
	log     *slog.Logger
}

// reply is what a command answers with
type reply struct {
	text     string
	keyboard *models.InlineKeyboardMarkup
}

// New creates a new telegram bot
func New(cfg *config.Config, store *storage.Storage, chain Chain, log *slog.Logger) (*Bot, error) {
	b := newBot(cfg, store, chain, log)

	tgBot, err := bot.New(cfg.BotToken,
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot
	return b, nil
}

func newBot(cfg *config.Config, store *storage.Storage, chain Chain, log *slog.Logger) *Bot {
	return &Bot{
		cfg:     cfg,
		storage: store,
		chain:   chain,
		states:  NewStateManager(),
		log:     log,
	}
}

// Start starts long polling and blocks until ctx is done
func (b *Bot) Start(ctx context.Context) {
	b.log.Info("telegram bot polling started")
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) defaultHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}

	r := b.handleText(ctx, msg.From.ID, msg.From.Username, msg.Text)
	if r.text != "" {
		b.sendMessage(ctx, msg.Chat.ID, r.text, r.keyboard)
	}
}

// handleText routes a text message to a command or to the pending conversation step
func (b *Bot) handleText(ctx context.Context, userID int64, username, text string) reply {
	text = strings.TrimSpace(text)

	if _, err := b.storage.EnsureUser(ctx, userID, username); err != nil {
		b.log.Error("ensure user", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	cmd, args, isCommand := parseCommand(text)
	if !b.allowed(ctx, userID) {
		if isCommand {
			return reply{text: fmt.Sprintf(msgAccessDenied, userID)}
		}
		return reply{}
	}

	if !isCommand {
		return b.handleConversation(ctx, userID, text)
	}

	// Any command abandons the add-wallet flow.
	b.states.Clear(userID)

	switch cmd {
	case "start":
		return b.cmdStart(ctx, userID, username)
	case "help":
		return reply{text: helpText(b.cfg.IsAdmin(userID)), keyboard: MainKeyboard()}
	case "wallet":
		return b.cmdWallet(ctx, userID, args)
	case "wallets":
		return b.cmdWallets(ctx, userID)
	case "pay":
		return b.cmdPay(ctx, userID, args)
	case "status":
		return b.cmdStatus(ctx, userID)
	case "balance":
		return b.cmdBalance(ctx, userID)
	case "auto":
		return b.cmdAuto(ctx, userID)
	case "history":
		return b.cmdHistory(ctx, userID)
	case "apikey":
		return b.cmdAPIKey(ctx, userID)
	case "admin_add_user", "admin_remove_user", "admin_list_users":
		if !b.cfg.IsAdmin(userID) {
			return reply{text: msgAdminOnly}
		}
		return b.cmdAdmin(ctx, cmd, args)
	default:
		return reply{text: msgUnknownCommand}
	}
}

func (b *Bot) handleConversation(ctx context.Context, userID int64, text string) reply {
	state := b.states.Get(userID)
	if state == nil {
		return reply{}
	}

	switch state.State {
	case StateWaitLabel:
		return b.handleWaitLabel(userID, text)
	case StateWaitAddress:
		return b.handleWaitAddress(ctx, userID, text, state)
	}
	return reply{}
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	cb := update.CallbackQuery
	if cb == nil {
		return
	}

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	r := b.handleCallback(ctx, cb.From.ID, cb.From.Username, cb.Data)
	if r.text != "" {
		b.editMessage(ctx, cb.Message, r.text, r.keyboard)
	}
}

func (b *Bot) handleCallback(ctx context.Context, userID int64, username, data string) reply {
	if _, err := b.storage.EnsureUser(ctx, userID, username); err != nil {
		b.log.Error("ensure user", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}
	if !b.allowed(ctx, userID) {
		return reply{text: fmt.Sprintf(msgAccessDenied, userID)}
	}

	switch {
	case data == cbMenu:
		b.states.Clear(userID)
		return b.cmdStart(ctx, userID, username)
	case data == cbAdd:
		return b.cmdWallet(ctx, userID, "")
	case data == cbList:
		return b.cmdWallets(ctx, userID)
	case data == cbBalance:
		return withBack(b.cmdBalance(ctx, userID))
	case data == cbStatus:
		return withBack(b.cmdStatus(ctx, userID))
	case data == cbAuto:
		return withBack(b.cmdAuto(ctx, userID))
	case data == cbHistory:
		return withBack(b.cmdHistory(ctx, userID))
	case strings.HasPrefix(data, cbActivatePrefix):
		return b.handleActivate(ctx, userID, strings.TrimPrefix(data, cbActivatePrefix))
	case strings.HasPrefix(data, cbDeletePrefix):
		return b.handleDelete(ctx, userID, strings.TrimPrefix(data, cbDeletePrefix))
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", userID)
		return reply{}
	}
}

// --- Helpers ---

// allowed reports whether the user may use the bot in private mode
func (b *Bot) allowed(ctx context.Context, userID int64) bool {
	if !b.cfg.PrivateMode || b.cfg.IsAdmin(userID) {
		return true
	}

	u, err := b.storage.GetUser(ctx, userID)
	if err != nil {
		return false
	}
	return u.Allowed
}

func withBack(r reply) reply {
	if r.keyboard == nil {
		r.keyboard = BackKeyboard()
	}
	return r
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id, err == nil
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

// SendNotification sends a notification message to a user
func (b *Bot) SendNotification(ctx context.Context, userID int64, text string, keyboard *models.InlineKeyboardMarkup) error {
	disablePreview := true
	params := &bot.SendMessageParams{
		ChatID:    userID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	return err
}
