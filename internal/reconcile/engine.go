package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/suspectuso/usdt-tracker/internal/metrics"
	"github.com/suspectuso/usdt-tracker/internal/storage"
	"github.com/suspectuso/usdt-tracker/internal/trongrid"
)

// Chain lists recent token transfers of an address
type Chain interface {
	ListRecentTransfers(ctx context.Context, address string) ([]trongrid.Transfer, error)
}

// Store is the part of the payment store the engine needs
type Store interface {
	ListWatchedWallets(ctx context.Context) ([]storage.WatchedWallet, error)
	ListPendingPayments(ctx context.Context, walletAddress string) ([]storage.PendingPayment, error)
	IsTransactionConfirmed(ctx context.Context, txHash string) (bool, error)
	ConfirmPayment(ctx context.Context, params storage.ConfirmParams) (*storage.ConfirmedPayment, error)
	ExpirePendingPayments(ctx context.Context, walletAddress string, cutoff time.Time) ([]storage.PendingPayment, error)
}

const (
	defaultStartDelay  = 5 * time.Second
	defaultExpiryGrace = 5 * time.Minute
)

// Result summarizes one pass
type Result struct {
	Wallets    int `json:"wallets"`
	Transfers  int `json:"transfers"`
	Confirmed  int `json:"confirmed"`
	Duplicates int `json:"duplicates"`
	Expired    int `json:"expired"`
	Errors     int `json:"errors"`
	Shared     int `json:"shared"` // wallets already being processed by another pass
}

func (r *Result) add(o Result) {
	r.Transfers += o.Transfers
	r.Confirmed += o.Confirmed
	r.Duplicates += o.Duplicates
	r.Expired += o.Expired
	r.Errors += o.Errors
}

// Engine matches observed transfers against pending payments and credits them
type Engine struct {
	chain       Chain
	store       Store
	sink        Sink
	log         *slog.Logger
	now         func() time.Time
	concurrency int
	startDelay  time.Duration
	expiryGrace time.Duration

	inflight singleflight.Group
}

// Option configures the Engine
type Option func(*Engine)

// WithConcurrency sets how many wallets are processed at once
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithStartDelay sets how long Run waits before the first pass
func WithStartDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.startDelay = d
		}
	}
}

// WithExpiryGrace sets how long past its deadline a pending payment stays
// matchable before it expires. Keep it above the check interval.
func WithExpiryGrace(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.expiryGrace = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine. sink may be nil.
func New(chain Chain, store Store, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		chain:       chain,
		store:       store,
		sink:        sink,
		log:         slog.Default(),
		now:         time.Now,
		concurrency: 1,
		startDelay:  defaultStartDelay,
		expiryGrace: defaultExpiryGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts the reconciliation loop. A pass that panics is logged and the loop goes on.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.log.Info("reconciliation loop started", "interval", interval, "concurrency", e.concurrency)

	if e.startDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.startDelay):
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("reconciliation loop stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("reconciliation pass panicked", "panic", r, "stack", string(debug.Stack()))
			metrics.RecordTick("panic", time.Since(start), 0)
		}
	}()

	res, err := e.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.log.Error("reconciliation pass", "error", err)
		}
		metrics.RecordTick("error", time.Since(start), res.Wallets)
		return
	}

	metrics.RecordTick("ok", time.Since(start), res.Wallets)
	if res.Confirmed > 0 || res.Expired > 0 || res.Errors > 0 {
		e.log.Info("reconciliation pass",
			"wallets", res.Wallets,
			"transfers", res.Transfers,
			"confirmed", res.Confirmed,
			"expired", res.Expired,
			"errors", res.Errors,
			"took", time.Since(start),
		)
	} else {
		e.log.Debug("reconciliation pass", "wallets", res.Wallets, "took", time.Since(start))
	}
}

// RunOnce processes every watched wallet once. Errors in a single wallet or
// transfer are counted in Result, not returned.
func (e *Engine) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	wallets, err := e.store.ListWatchedWallets(ctx)
	if err != nil {
		return res, fmt.Errorf("list watched wallets: %w", err)
	}
	res.Wallets = len(wallets)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.concurrency)

	for _, w := range wallets {
		w := w
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			ran := false
			v, _, _ := e.inflight.Do(w.Address, func() (any, error) {
				ran = true
				return e.safeProcessWallet(ctx, w), nil
			})

			mu.Lock()
			defer mu.Unlock()
			if !ran {
				res.Shared++
				return nil
			}
			res.add(v.(Result))
			return nil
		})
	}
	g.Wait()

	return res, ctx.Err()
}

// expire runs only after the wallet's transfers were fetched and matched, so a
// payment made in time but seen late is credited rather than expired.
func (e *Engine) expire(ctx context.Context, log *slog.Logger, address string) int {
	expired, err := e.store.ExpirePendingPayments(ctx, address, e.now().Add(-e.expiryGrace))
	if err != nil {
		log.Error("expire pending payments", "error", err)
		metrics.RecordWalletError("store")
		return 0
	}

	for _, p := range expired {
		metrics.PaymentsExpired.Inc()
		log.Info("payment expired", "payment_id", p.ID, "user_id", p.UserID, "amount", p.Amount.String())
		e.notify(ctx, Event{
			Type:          EventExpired,
			UserID:        p.UserID,
			PaymentID:     p.ID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			WalletAddress: p.WalletAddress,
			Description:   p.Description,
			CallbackURL:   p.CallbackURL,
			Timestamp:     e.now(),
		})
	}
	return len(expired)
}

func (e *Engine) safeProcessWallet(ctx context.Context, w storage.WatchedWallet) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("wallet processing panicked", "wallet", w.Address, "panic", r, "stack", string(debug.Stack()))
			metrics.RecordWalletError("panic")
			res.Errors++
		}
	}()
	return e.processWallet(ctx, w)
}

func (e *Engine) processWallet(ctx context.Context, w storage.WatchedWallet) Result {
	var res Result
	log := e.log.With("wallet", w.Address, "user_id", w.UserID)

	transfers, err := e.chain.ListRecentTransfers(ctx, w.Address)
	if err != nil {
		if errors.Is(err, trongrid.ErrUnavailable) {
			log.Warn("transfers unavailable, retrying next tick", "error", err)
		} else {
			log.Error("fetch transfers", "error", err)
		}
		metrics.RecordWalletError("fetch")
		res.Errors++
		return res
	}

	pending, err := e.store.ListPendingPayments(ctx, w.Address)
	if err != nil {
		log.Error("list pending payments", "error", err)
		metrics.RecordWalletError("store")
		res.Errors++
		return res
	}

	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].Timestamp.Before(transfers[j].Timestamp)
	})

	claimed := make(map[int64]bool)
	for _, tr := range transfers {
		if tr.To != w.Address || !tr.Amount.IsPositive() {
			continue
		}
		res.Transfers++
		metrics.TransfersSeen.Inc()

		e.processTransfer(ctx, log, w, tr, pending, claimed, &res)
	}

	// A transfer that failed here may still settle a payment next tick.
	if res.Errors == 0 {
		res.Expired = e.expire(ctx, log, w.Address)
	}
	return res
}

func (e *Engine) processTransfer(
	ctx context.Context,
	log *slog.Logger,
	w storage.WatchedWallet,
	tr trongrid.Transfer,
	pending []storage.PendingPayment,
	claimed map[int64]bool,
	res *Result,
) {
	log = log.With("tx_hash", tr.TxHash, "amount", tr.Amount.String())

	done, err := e.store.IsTransactionConfirmed(ctx, tr.TxHash)
	if err != nil {
		log.Error("check transaction", "error", err)
		metrics.RecordWalletError("store")
		res.Errors++
		return
	}
	if done {
		return
	}

	match := matchPending(tr, pending, claimed)
	if match == nil && !w.AutoCredit {
		log.Debug("no pending payment matches transfer")
		return
	}

	params := storage.ConfirmParams{
		UserID:        w.UserID,
		Amount:        tr.Amount,
		Currency:      tr.Currency,
		TxHash:        tr.TxHash,
		WalletAddress: w.Address,
		FromAddress:   tr.From,
		TransferTime:  tr.Timestamp,
	}
	if match != nil {
		params.PendingID = match.ID
	}

	confirmed, err := e.store.ConfirmPayment(ctx, params)
	switch {
	case errors.Is(err, storage.ErrAlreadyConfirmed):
		metrics.DuplicateConfirmations.Inc()
		res.Duplicates++
		return
	case errors.Is(err, storage.ErrNotPending):
		// Settled elsewhere since the pending list was loaded; retried next tick.
		if match != nil {
			claimed[match.ID] = true
		}
		log.Debug("pending payment no longer pending", "payment_id", params.PendingID)
		return
	case errors.Is(err, storage.ErrNotOwner):
		log.Warn("refusing to credit wallet not owned by user")
		metrics.RecordWalletError("ownership")
		res.Errors++
		return
	case err != nil:
		log.Error("confirm payment", "error", err)
		metrics.RecordWalletError("store")
		res.Errors++
		return
	}

	mode := "auto"
	if match != nil {
		claimed[match.ID] = true
		mode = "matched"
	}
	metrics.RecordConfirmation(mode)
	res.Confirmed++

	log.Info("payment confirmed", "mode", mode, "payment_id", params.PendingID)

	ev := Event{
		Type:          EventConfirmed,
		UserID:        confirmed.UserID,
		Amount:        confirmed.Amount,
		Currency:      confirmed.Currency,
		TxHash:        confirmed.TransactionHash,
		WalletAddress: confirmed.WalletAddress,
		FromAddress:   confirmed.FromAddress,
		AutoCredit:    match == nil,
		Timestamp:     confirmed.ConfirmedAt,
	}
	if confirmed.PendingID != nil {
		ev.PaymentID = *confirmed.PendingID
	}
	if match != nil {
		ev.Description = match.Description
		ev.CallbackURL = match.CallbackURL
	}
	e.notify(ctx, ev)
}

// matchPending returns the oldest unclaimed pending payment of the same currency
// within tolerance whose window contains the transfer. pending must be ordered oldest first.
func matchPending(tr trongrid.Transfer, pending []storage.PendingPayment, claimed map[int64]bool) *storage.PendingPayment {
	for i := range pending {
		p := &pending[i]
		if claimed[p.ID] || p.Status != storage.StatusPending || p.Currency != tr.Currency {
			continue
		}
		if !p.Accepts(tr.Timestamp) {
			continue
		}
		if storage.AmountsMatch(tr.Amount, p.Amount) {
			return p
		}
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Notify(ctx, ev); err != nil {
		e.log.Warn("deliver notification", "type", ev.Type, "user_id", ev.UserID, "tx_hash", ev.TxHash, "error", err)
	}
}
