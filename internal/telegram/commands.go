package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/suspectuso/usdt-tracker/internal/storage"
	"github.com/suspectuso/usdt-tracker/internal/trongrid"
)

const (
	msgInternalError  = "❌ Внутренняя ошибка, попробуй позже."
	msgAccessDenied   = "⛔ Бот работает в закрытом режиме.\nТвой ID: <code>%d</code>. Передай его администратору."
	msgAdminOnly      = "⛔ Команда доступна только администраторам."
	msgUnknownCommand = "Не знаю такой команды. Список команд: /help"
	msgNoWallet       = "❌ Сначала добавь кошелёк: /wallet"
	msgBadAddress     = "❌ Это не похоже на адрес Tron (T..., 34 символа). Попробуй ещё раз."
)

func (b *Bot) cmdStart(ctx context.Context, userID int64, username string) reply {
	name := username
	if name == "" {
		name = "друг"
	}

	count := 0
	if wallets, err := b.storage.ListWallets(ctx, userID); err == nil {
		count = len(wallets)
	}

	text := fmt.Sprintf(
		"<a href='tg://user?id=%d'>%s</a>, добро пожаловать в <b>USDT Tracker</b>! 🚀\n\n"+
			"Я слежу за входящими переводами USDT (TRC20) на твои кошельки и зачисляю платежи:\n"+
			"• по заявке /pay с точной суммой\n"+
			"• или любой перевод в режиме автозачисления /auto\n\n"+
			"Кошельков: <b>%d/%d</b>\n\n"+
			"Выбери действие 👇",
		userID, html.EscapeString(name), count, b.cfg.MaxWalletsPerUser,
	)
	return reply{text: text, keyboard: MainKeyboard()}
}

func helpText(admin bool) string {
	lines := []string{
		"<b>Команды</b>",
		"",
		"/wallet — добавить кошелёк (или <code>/wallet адрес [название]</code>)",
		"/wallets — список кошельков, выбор активного",
		"/pay <code>сумма [описание]</code> — создать ожидаемый платёж",
		"/status — ожидающие платежи",
		"/balance — зачисленный и on-chain баланс",
		"/auto — включить/выключить автозачисление",
		"/history — последние уведомления",
		"/apikey — выпустить ключ для HTTP API",
	}
	if admin {
		lines = append(lines,
			"",
			"<b>Администрирование</b>",
			"/admin_add_user <code>id</code>",
			"/admin_remove_user <code>id</code>",
			"/admin_list_users",
		)
	}
	return strings.Join(lines, "\n")
}

// --- Wallets ---

func (b *Bot) cmdWallet(ctx context.Context, userID int64, args string) reply {
	address, label := parseWalletArgs(args)
	if address == "" {
		b.states.Set(userID, StateWaitLabel, "")
		return reply{text: "🔹 Введи название для нового кошелька:", keyboard: BackKeyboard()}
	}

	if label == "" {
		label = trongrid.ShortAddr(address, 4)
	}
	if err := validateLabel(label); err != nil {
		return reply{text: labelError(err)}
	}
	if !b.chain.ValidateAddress(ctx, address) {
		return reply{text: msgBadAddress}
	}
	return b.storeWallet(ctx, userID, address, label)
}

func (b *Bot) handleWaitLabel(userID int64, label string) reply {
	if err := validateLabel(label); err != nil {
		return reply{text: labelError(err)}
	}

	b.states.Set(userID, StateWaitAddress, strings.TrimSpace(label))
	return reply{
		text:     "🔹 Теперь отправь адрес кошелька Tron\n(можно ссылкой с Tronscan):",
		keyboard: BackKeyboard(),
	}
}

func (b *Bot) handleWaitAddress(ctx context.Context, userID int64, text string, state *UserState) reply {
	address := extractAddress(text)
	if address == "" || !b.chain.ValidateAddress(ctx, address) {
		return reply{text: msgBadAddress}
	}

	b.states.Clear(userID)
	return b.storeWallet(ctx, userID, address, state.Label)
}

func (b *Bot) storeWallet(ctx context.Context, userID int64, address, label string) reply {
	w, err := b.storage.AddWallet(ctx, userID, address, label, b.cfg.MaxWalletsPerUser)
	switch {
	case errors.Is(err, storage.ErrLimitReached):
		return reply{
			text:     fmt.Sprintf("❌ Достигнут лимит в %d кошельков.", b.cfg.MaxWalletsPerUser),
			keyboard: MainKeyboard(),
		}
	case errors.Is(err, storage.ErrAlreadyExists):
		return reply{text: "❌ Этот кошелёк уже зарегистрирован.", keyboard: MainKeyboard()}
	case err != nil:
		b.log.Error("add wallet", "user_id", userID, "error", err)
		return reply{text: msgInternalError, keyboard: MainKeyboard()}
	}

	b.log.Info("wallet added", "user_id", userID, "wallet_id", w.ID, "address", w.Address)

	text := fmt.Sprintf("✅ Кошелёк <b>%s</b> добавлен!\n<code>%s</code>", html.EscapeString(w.Label), w.Address)
	if w.IsActive {
		text += "\n\nОн выбран активным: на него будут выставляться платежи /pay."
	}
	return reply{text: text, keyboard: MainKeyboard()}
}

func (b *Bot) cmdWallets(ctx context.Context, userID int64) reply {
	wallets, err := b.storage.ListWallets(ctx, userID)
	if err != nil {
		b.log.Error("list wallets", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	if len(wallets) == 0 {
		return reply{text: "❌ У тебя нет добавленных кошельков.", keyboard: MainKeyboard()}
	}

	lines := []string{"📋 <b>Твои кошельки:</b>", ""}
	for _, w := range wallets {
		mark := "•"
		if w.IsActive {
			mark = "✅"
		}
		lines = append(lines, fmt.Sprintf("%s <b>%s</b> — <code>%s</code>", mark, html.EscapeString(walletTitle(w)), w.Address))
	}
	lines = append(lines, "", fmt.Sprintf("Лимит: <b>%d/%d</b>. ☑️ сделать активным, 🗑 удалить.", len(wallets), b.cfg.MaxWalletsPerUser))

	return reply{text: strings.Join(lines, "\n"), keyboard: WalletsKeyboard(wallets)}
}

func (b *Bot) handleActivate(ctx context.Context, userID int64, raw string) reply {
	walletID, ok := parseID(raw)
	if !ok {
		return reply{}
	}

	err := b.storage.SetActiveWallet(ctx, userID, walletID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.log.Error("set active wallet", "user_id", userID, "wallet_id", walletID, "error", err)
	}
	return b.cmdWallets(ctx, userID)
}

func (b *Bot) handleDelete(ctx context.Context, userID int64, raw string) reply {
	walletID, ok := parseID(raw)
	if !ok {
		return reply{}
	}

	err := b.storage.RemoveWallet(ctx, userID, walletID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.log.Error("remove wallet", "user_id", userID, "wallet_id", walletID, "error", err)
	}
	return b.cmdWallets(ctx, userID)
}

func labelError(err error) string {
	if errors.Is(err, errLongLabel) {
		return fmt.Sprintf("❌ Название длиннее %d символов, попробуй короче.", maxLabelLen)
	}
	return "❌ Название не может быть пустым, попробуй ещё раз."
}

// --- Payments ---

func (b *Bot) cmdPay(ctx context.Context, userID int64, args string) reply {
	amount, description, err := parsePayArgs(args)
	if err != nil {
		return reply{text: "❌ Укажи положительную сумму. Например: <code>/pay 50</code> или <code>/pay 12.5 подписка</code>"}
	}

	wallet, err := b.storage.GetActiveWallet(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return reply{text: msgNoWallet}
	}
	if err != nil {
		b.log.Error("get active wallet", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	p, err := b.storage.AddPendingPayment(ctx, storage.PendingParams{
		UserID:        userID,
		Amount:        amount,
		WalletAddress: wallet.Address,
		Description:   description,
		TTL:           b.cfg.PendingTTL,
	})
	if err != nil {
		b.log.Error("add pending payment", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	b.log.Info("pending payment created", "user_id", userID, "payment_id", p.ID, "amount", p.Amount.String())

	lines := []string{
		fmt.Sprintf("🧾 <b>Платёж #%d</b>", p.ID),
		"",
		fmt.Sprintf("Переведи <b>%s %s</b> (TRC20) на кошелёк:", p.Amount.String(), p.Currency),
		"",
		fmt.Sprintf("<code>%s</code>", p.WalletAddress),
	}
	if p.Description != "" {
		lines = append(lines, "", fmt.Sprintf("💬 %s", html.EscapeString(p.Description)))
	}
	if p.ExpiresAt != nil {
		lines = append(lines, "", fmt.Sprintf("⌛ Действует до %s UTC", p.ExpiresAt.UTC().Format("02.01.2006 15:04")))
	}
	lines = append(lines, "", "Я пришлю уведомление, как только перевод появится в сети.")

	return reply{text: strings.Join(lines, "\n"), keyboard: MainKeyboard()}
}

func (b *Bot) cmdStatus(ctx context.Context, userID int64) reply {
	user, err := b.storage.GetUser(ctx, userID)
	if err != nil {
		b.log.Error("get user", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	pending, err := b.storage.ListUserPendingPayments(ctx, userID)
	if err != nil {
		b.log.Error("list pending payments", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	lines := []string{"⏳ <b>Статус</b>", ""}

	if w, err := b.storage.GetActiveWallet(ctx, userID); err == nil {
		lines = append(lines, fmt.Sprintf("Активный кошелёк: <b>%s</b>", html.EscapeString(walletTitle(*w))))
	} else {
		lines = append(lines, "Активный кошелёк: не выбран")
	}
	lines = append(lines, "Автозачисление: "+onOff(user.AutoCredit), "")

	if len(pending) == 0 {
		lines = append(lines, "Ожидающих платежей нет.")
		return reply{text: strings.Join(lines, "\n")}
	}

	lines = append(lines, fmt.Sprintf("Ожидающие платежи (%d):", len(pending)))
	for _, p := range pending {
		line := fmt.Sprintf("• #%d — <b>%s %s</b> на %s", p.ID, p.Amount.String(), p.Currency, trongrid.ShortAddr(p.WalletAddress, 4))
		if p.ExpiresAt != nil {
			line += fmt.Sprintf(", ещё %s", formatLeft(time.Until(*p.ExpiresAt)))
		}
		lines = append(lines, line)
	}
	return reply{text: strings.Join(lines, "\n")}
}

func (b *Bot) cmdBalance(ctx context.Context, userID int64) reply {
	count, total, err := b.storage.PaymentStats(ctx, userID)
	if err != nil {
		b.log.Error("payment stats", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	lines := []string{
		"💰 <b>Баланс</b>",
		"",
		fmt.Sprintf("Зачислено: <b>%s %s</b> (%d платежей)", storage.FormatAmount(total), storage.CurrencyUSDT, count),
	}

	w, err := b.storage.GetActiveWallet(ctx, userID)
	if err == nil {
		onchain, err := b.chain.GetBalance(ctx, w.Address)
		if err != nil {
			b.log.Warn("on-chain balance", "wallet", w.Address, "error", err)
			lines = append(lines, "On-chain: недоступно, попробуй позже")
		} else {
			lines = append(lines, fmt.Sprintf("On-chain (%s): <b>%s %s</b>",
				html.EscapeString(walletTitle(*w)), storage.FormatAmount(onchain), storage.CurrencyUSDT))
		}
	}

	return reply{text: strings.Join(lines, "\n")}
}

func (b *Bot) cmdAuto(ctx context.Context, userID int64) reply {
	user, err := b.storage.GetUser(ctx, userID)
	if err != nil {
		b.log.Error("get user", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	enabled := !user.AutoCredit
	if err := b.storage.SetAutoCredit(ctx, userID, enabled); err != nil {
		b.log.Error("set auto credit", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	b.log.Info("auto credit toggled", "user_id", userID, "enabled", enabled)

	if enabled {
		return reply{text: "🤖 Автозачисление <b>включено</b>.\nЛюбой входящий перевод USDT на твои кошельки будет зачислен."}
	}
	return reply{text: "🤖 Автозачисление <b>выключено</b>.\nЗачисляются только платежи, созданные через /pay."}
}

func (b *Bot) cmdHistory(ctx context.Context, userID int64) reply {
	unread, err := b.storage.CountUnreadNotifications(ctx, userID)
	if err != nil {
		b.log.Error("count notifications", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	list, err := b.storage.ListNotifications(ctx, userID, 10)
	if err != nil {
		b.log.Error("list notifications", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}
	if len(list) == 0 {
		return reply{text: "🔔 Уведомлений пока нет."}
	}

	lines := []string{fmt.Sprintf("🔔 <b>Последние уведомления</b> (новых: %d)", unread), ""}
	shown := make([]int64, 0, len(list))
	for _, n := range list {
		shown = append(shown, n.ID)
		icon := "✅"
		if n.Kind == "payment.expired" {
			icon = "⌛"
		}
		lines = append(lines, fmt.Sprintf("%s %s — <b>%s %s</b> на %s",
			icon, n.CreatedAt.UTC().Format("02.01 15:04"), storage.FormatAmount(n.Amount), n.Currency,
			trongrid.ShortAddr(n.WalletAddress, 4)))
	}

	if err := b.storage.MarkNotificationsRead(ctx, userID, shown); err != nil {
		b.log.Warn("mark notifications read", "user_id", userID, "error", err)
	}
	return reply{text: strings.Join(lines, "\n")}
}

func (b *Bot) cmdAPIKey(ctx context.Context, userID int64) reply {
	if err := b.storage.RevokeAPIKeys(ctx, userID); err != nil {
		b.log.Error("revoke api keys", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	key, err := b.storage.CreateAPIKey(ctx, userID)
	if err != nil {
		b.log.Error("create api key", "user_id", userID, "error", err)
		return reply{text: msgInternalError}
	}

	b.log.Info("api key issued", "user_id", userID)
	return reply{text: fmt.Sprintf(
		"🔑 Твой API-ключ:\n<code>%s</code>\n\n"+
			"Передавай его в заголовке <code>X-API-Key</code>. Предыдущие ключи отозваны.",
		key,
	)}
}

// --- Admin ---

func (b *Bot) cmdAdmin(ctx context.Context, cmd, args string) reply {
	if cmd == "admin_list_users" {
		users, err := b.storage.ListUsers(ctx, true)
		if err != nil {
			b.log.Error("list users", "error", err)
			return reply{text: msgInternalError}
		}
		if len(users) == 0 {
			return reply{text: "Список разрешённых пользователей пуст."}
		}

		lines := []string{fmt.Sprintf("👥 <b>Разрешённые пользователи</b> (%d):", len(users))}
		for _, u := range users {
			line := fmt.Sprintf("• <code>%d</code>", u.ID)
			if u.Username != "" {
				line += " @" + html.EscapeString(u.Username)
			}
			lines = append(lines, line)
		}
		return reply{text: strings.Join(lines, "\n")}
	}

	target, ok := parseID(args)
	if !ok || target <= 0 {
		return reply{text: fmt.Sprintf("❌ Укажи ID пользователя: <code>/%s 123456789</code>", cmd)}
	}

	allow := cmd == "admin_add_user"
	if err := b.storage.SetAllowed(ctx, target, allow); err != nil {
		b.log.Error("set allowed", "target", target, "error", err)
		return reply{text: msgInternalError}
	}

	b.log.Info("whitelist updated", "target", target, "allowed", allow)
	if allow {
		return reply{text: fmt.Sprintf("✅ Пользователь <code>%d</code> добавлен.", target)}
	}
	return reply{text: fmt.Sprintf("✅ Пользователь <code>%d</code> удалён из списка.", target)}
}

func onOff(v bool) string {
	if v {
		return "<b>вкл</b>"
	}
	return "<b>выкл</b>"
}

func formatLeft(d time.Duration) string {
	if d <= 0 {
		return "истекает"
	}
	if d < time.Hour {
		return fmt.Sprintf("%d мин", int(d.Minutes())+1)
	}
	return fmt.Sprintf("%d ч %d мин", int(d.Hours()), int(d.Minutes())%60)
}
