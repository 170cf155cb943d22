package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/usdt-tracker/internal/logging"
	"github.com/suspectuso/usdt-tracker/internal/storage"
	"github.com/suspectuso/usdt-tracker/internal/trongrid"
)

const (
	walletA = "TAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	walletB = "TBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	payer   = "TPayerPayerPayerPayerPayerPayerPay"
)

// fakeChain serves canned transfers per address.
type fakeChain struct {
	mu        sync.Mutex
	transfers map[string][]trongrid.Transfer
	errs      map[string]error
	calls     atomic.Int32

	// entered and release, when set, block the first call until release is closed.
	entered chan struct{}
	release chan struct{}
	panicky atomic.Bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		transfers: make(map[string][]trongrid.Transfer),
		errs:      make(map[string]error),
	}
}

func (c *fakeChain) add(address string, tr trongrid.Transfer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr.To == "" {
		tr.To = address
	}
	if tr.Currency == "" {
		tr.Currency = storage.CurrencyUSDT
	}
	if tr.From == "" {
		tr.From = payer
	}
	c.transfers[address] = append(c.transfers[address], tr)
}

func (c *fakeChain) setErr(address string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[address] = err
}

func (c *fakeChain) ListRecentTransfers(ctx context.Context, address string) ([]trongrid.Transfer, error) {
	n := c.calls.Add(1)
	if c.panicky.CompareAndSwap(true, false) {
		panic("explorer exploded")
	}
	if n == 1 && c.entered != nil {
		close(c.entered)
		<-c.release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errs[address]; err != nil {
		return nil, err
	}
	out := make([]trongrid.Transfer, len(c.transfers[address]))
	copy(out, c.transfers[address])
	return out, nil
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Notify(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "payments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func transfer(hash, amount string) trongrid.Transfer {
	return trongrid.Transfer{
		TxHash:    hash,
		Amount:    dec(amount),
		Timestamp: time.Now(),
	}
}

type fixture struct {
	store *storage.Storage
	chain *fakeChain
	sink  *recordingSink
	eng   *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: newStore(t),
		chain: newFakeChain(),
		sink:  &recordingSink{},
	}
	opts = append([]Option{WithLogger(logging.Discard()), WithStartDelay(0)}, opts...)
	f.eng = New(f.chain, f.store, f.sink, opts...)
	return f
}

func (f *fixture) wallet(t *testing.T, userID int64, address string, auto bool) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.EnsureUser(ctx, userID, "")
	require.NoError(t, err)
	require.NoError(t, f.store.SetAutoCredit(ctx, userID, auto))
	_, err = f.store.AddWallet(ctx, userID, address, "main", 10)
	require.NoError(t, err)
}

func (f *fixture) pending(t *testing.T, userID int64, address, amount string) *storage.PendingPayment {
	t.Helper()
	p, err := f.store.AddPendingPayment(context.Background(), storage.PendingParams{
		UserID:        userID,
		Amount:        dec(amount),
		WalletAddress: address,
		TTL:           time.Hour,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, userID int64) string {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func TestScenarioMatchedPaymentCreditedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, false)
	p := f.pending(t, 1, walletA, "50.00")
	f.chain.add(walletA, transfer("0xabc", "50.00"))

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)

	got, err := f.store.GetPendingPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, got.Status)
	assert.Equal(t, "0xabc", got.TransactionHash)

	ok, err := f.store.IsTransactionConfirmed(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "50.00", f.balance(t, 1))

	// The wallet has no pending payment left, so it is no longer watched;
	// a new pending keeps it in the pass while 0xabc is still visible.
	f.pending(t, 1, walletA, "50.00")
	res, err = f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Confirmed)
	assert.Equal(t, "50.00", f.balance(t, 1))

	events := f.sink.byType(EventConfirmed)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, int64(1), ev.UserID)
	assert.Equal(t, p.ID, ev.PaymentID)
	assert.Equal(t, "0xabc", ev.TxHash)
	assert.Equal(t, walletA, ev.WalletAddress)
	assert.Equal(t, payer, ev.FromAddress)
	assert.Equal(t, storage.CurrencyUSDT, ev.Currency)
	assert.False(t, ev.AutoCredit)
}

func TestRepeatedTicksCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, true)
	f.chain.add(walletA, transfer("0x1", "12.34"))

	for i := 0; i < 5; i++ {
		_, err := f.eng.RunOnce(ctx)
		require.NoError(t, err)
	}

	count, total, err := f.store.PaymentStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "12.34", total.String())
	assert.Len(t, f.sink.byType(EventConfirmed), 1)
}

func TestToleranceMatching(t *testing.T) {
	tests := []struct {
		observed string
		matched  bool
	}{
		{"100.00", true},
		{"100.009", true},
		{"99.991", true},
		{"100.02", false},
		{"99.98", false},
	}

	for _, tt := range tests {
		t.Run(tt.observed, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			f.wallet(t, 1, walletA, false)
			p := f.pending(t, 1, walletA, "100.00")
			f.chain.add(walletA, transfer("0x"+tt.observed, tt.observed))

			res, err := f.eng.RunOnce(ctx)
			require.NoError(t, err)

			got, err := f.store.GetPendingPayment(ctx, p.ID)
			require.NoError(t, err)
			if tt.matched {
				assert.Equal(t, 1, res.Confirmed)
				assert.Equal(t, storage.StatusConfirmed, got.Status)
			} else {
				assert.Zero(t, res.Confirmed)
				assert.Equal(t, storage.StatusPending, got.Status)
				assert.Equal(t, "0.00", f.balance(t, 1))
			}
		})
	}
}

func TestAutoCreditAcceptsAnyAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, true)
	f.chain.add(walletA, transfer("0xauto", "0.37"))

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, "0.37", f.balance(t, 1))

	events := f.sink.byType(EventConfirmed)
	require.Len(t, events, 1)
	assert.True(t, events[0].AutoCredit)
	assert.Zero(t, events[0].PaymentID)
}

func TestManualModeIgnoresUnmatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, false)
	f.pending(t, 1, walletA, "10")
	f.chain.add(walletA, transfer("0xstray", "3"))

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transfers)
	assert.Zero(t, res.Confirmed)
	assert.Empty(t, f.sink.events)
}

func TestOldestPendingWinsTie(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, false)
	older := f.pending(t, 1, walletA, "10.00")
	newer := f.pending(t, 1, walletA, "10.005")

	first := transfer("0x1", "10.001")
	second := transfer("0x2", "10.002")
	second.Timestamp = first.Timestamp.Add(time.Minute)
	// Newest first, as the explorer returns them.
	f.chain.add(walletA, second)
	f.chain.add(walletA, first)

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Confirmed)

	p1, err := f.store.GetPendingPayment(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "0x1", p1.TransactionHash)

	p2, err := f.store.GetPendingPayment(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, "0x2", p2.TransactionHash)
}

func TestSkipsOutgoingAndForeignCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, true)
	out := transfer("0xout", "5")
	out.From = walletA
	out.To = payer
	f.chain.add(walletA, out)

	zero := transfer("0xzero", "0")
	f.chain.add(walletA, zero)

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Transfers)
	assert.Zero(t, res.Confirmed)
}

func TestWalletFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, true)
	f.wallet(t, 2, walletB, true)
	f.chain.errs[walletA] = trongrid.ErrUnavailable
	f.chain.add(walletB, transfer("0xb", "8"))

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Wallets)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, "8.00", f.balance(t, 2))

	// Next tick the explorer answers and wallet A catches up.
	delete(f.chain.errs, walletA)
	f.chain.add(walletA, transfer("0xa", "4"))
	res, err = f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, "4.00", f.balance(t, 1))
}

// ownerMismatchStore reports a wallet as owned by someone else, as a
// concurrently re-registered wallet would.
type ownerMismatchStore struct {
	*storage.Storage
	badWallet string
}

func (s ownerMismatchStore) ConfirmPayment(ctx context.Context, p storage.ConfirmParams) (*storage.ConfirmedPayment, error) {
	if p.WalletAddress == s.badWallet {
		p.UserID = 999
	}
	return s.Storage.ConfirmPayment(ctx, p)
}

func TestOwnershipViolationRejected(t *testing.T) {
	base := newFixture(t)
	ctx := context.Background()
	base.wallet(t, 1, walletA, true)
	base.wallet(t, 2, walletB, true)
	base.chain.add(walletA, transfer("0xa", "1"))
	base.chain.add(walletB, transfer("0xb", "2"))

	eng := New(base.chain, ownerMismatchStore{Storage: base.store, badWallet: walletA}, base.sink,
		WithLogger(logging.Discard()))

	res, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Confirmed)

	ok, err := base.store.IsTransactionConfirmed(ctx, "0xa")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "0.00", base.balance(t, 1))
	assert.Equal(t, "2.00", base.balance(t, 2))
}

func TestSinkFailureKeepsPayment(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("telegram down")
	ctx := context.Background()

	f.wallet(t, 1, walletA, true)
	f.chain.add(walletA, transfer("0x1", "9"))

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, "9.00", f.balance(t, 1))
}

// testClock is a settable engine clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (f *fixture) status(t *testing.T, id int64) storage.PaymentStatus {
	t.Helper()
	p, err := f.store.GetPendingPayment(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestTransferSeenAfterDeadlineIsCredited(t *testing.T) {
	clk := &testClock{t: time.Now()}
	f := newFixture(t, WithClock(clk.now))
	ctx := context.Background()

	f.wallet(t, 1, walletA, false)
	p := f.pending(t, 1, walletA, "50") // expires at CreatedAt + 1h
	created := p.CreatedAt

	tr := transfer("0xintime", "50")
	tr.Timestamp = created.Add(30 * time.Minute)
	f.chain.add(walletA, tr)

	// The explorer is down from before the deadline until well past it.
	f.chain.setErr(walletA, trongrid.ErrUnavailable)
	for _, at := range []time.Duration{45 * time.Minute, 70 * time.Minute, 3 * time.Hour} {
		clk.set(created.Add(at))
		res, err := f.eng.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Errors)
		assert.Zero(t, res.Expired)
		assert.Equal(t, storage.StatusPending, f.status(t, p.ID))
	}

	f.chain.setErr(walletA, nil)
	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Zero(t, res.Expired)

	assert.Equal(t, storage.StatusConfirmed, f.status(t, p.ID))
	assert.Equal(t, "50.00", f.balance(t, 1))
	assert.Empty(t, f.sink.byType(EventExpired))
	require.Len(t, f.sink.byType(EventConfirmed), 1)
}

func TestTransferAfterDeadlineExpires(t *testing.T) {
	clk := &testClock{t: time.Now()}
	f := newFixture(t, WithClock(clk.now))
	ctx := context.Background()

	f.wallet(t, 1, walletA, false)
	p := f.pending(t, 1, walletA, "20")

	late := transfer("0xlate", "20")
	late.Timestamp = p.CreatedAt.Add(61 * time.Minute)
	f.chain.add(walletA, late)

	clk.set(p.CreatedAt.Add(70 * time.Minute))
	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Wallets)
	assert.Zero(t, res.Confirmed)
	assert.Equal(t, 1, res.Expired)

	assert.Equal(t, storage.StatusExpired, f.status(t, p.ID))
	assert.Equal(t, "0.00", f.balance(t, 1))
	ok, err := f.store.IsTransactionConfirmed(ctx, "0xlate")
	require.NoError(t, err)
	assert.False(t, ok)

	expired := f.sink.byType(EventExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, p.ID, expired[0].PaymentID)
	assert.True(t, expired[0].Amount.Equal(dec("20")))

	// Nothing left to watch.
	res, err = f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Wallets)
}

func TestExpiryWaitsForGrace(t *testing.T) {
	clk := &testClock{t: time.Now()}
	f := newFixture(t, WithClock(clk.now), WithExpiryGrace(5*time.Minute))
	ctx := context.Background()

	f.wallet(t, 1, walletA, false)
	p := f.pending(t, 1, walletA, "20")

	clk.set(p.CreatedAt.Add(62 * time.Minute))
	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Equal(t, storage.StatusPending, f.status(t, p.ID))

	clk.set(p.CreatedAt.Add(66 * time.Minute))
	res, err = f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, storage.StatusExpired, f.status(t, p.ID))
}

func TestTransferOlderThanRequestIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, false)
	p := f.pending(t, 1, walletA, "50")

	old := transfer("0xold", "50")
	old.Timestamp = p.CreatedAt.Add(-30 * 24 * time.Hour)
	f.chain.add(walletA, old)

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Confirmed)
	assert.Equal(t, storage.StatusPending, f.status(t, p.ID))

	// A small clock difference between the chain and this host is tolerated.
	skewed := transfer("0xskewed", "50")
	skewed.Timestamp = p.CreatedAt.Add(-time.Minute)
	f.chain.add(walletA, skewed)

	res, err = f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, storage.StatusConfirmed, f.status(t, p.ID))
}

func TestConcurrentEnginesCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, true)
	for _, h := range []string{"0x1", "0x2", "0x3"} {
		f.chain.add(walletA, transfer(h, "1.5"))
	}

	engines := []*Engine{
		f.eng,
		New(f.chain, f.store, f.sink, WithLogger(logging.Discard())),
		New(f.chain, f.store, f.sink, WithLogger(logging.Discard())),
	}

	var wg sync.WaitGroup
	for _, eng := range engines {
		eng := eng
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := eng.RunOnce(ctx)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	count, total, err := f.store.PaymentStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, "4.5", total.String())
	assert.Len(t, f.sink.byType(EventConfirmed), 3)
}

func TestOverlappingPassesShareWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, true)
	f.chain.add(walletA, transfer("0x1", "1"))
	f.chain.entered = make(chan struct{})
	f.chain.release = make(chan struct{})

	firstDone := make(chan Result)
	go func() {
		res, _ := f.eng.RunOnce(ctx)
		firstDone <- res
	}()
	<-f.chain.entered

	secondDone := make(chan Result)
	go func() {
		res, _ := f.eng.RunOnce(ctx)
		secondDone <- res
	}()

	// Let the second pass reach the in-flight wallet before releasing the first.
	time.Sleep(100 * time.Millisecond)
	close(f.chain.release)

	first := <-firstDone
	second := <-secondDone

	assert.Equal(t, 1, first.Confirmed)
	assert.Equal(t, 1, second.Shared)
	assert.Zero(t, second.Confirmed)
	assert.Equal(t, int32(1), f.chain.calls.Load())
}

func TestRunSurvivesPanic(t *testing.T) {
	f := newFixture(t)
	f.wallet(t, 1, walletA, true)
	f.chain.add(walletA, transfer("0x1", "2"))
	f.chain.panicky.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.eng.Run(ctx, 20*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(f.sink.byType(EventConfirmed)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.GreaterOrEqual(t, f.chain.calls.Load(), int32(2))
}

func TestMatchPending(t *testing.T) {
	pending := []storage.PendingPayment{
		{ID: 1, Amount: dec("5"), Currency: "USDT", Status: storage.StatusPending},
		{ID: 2, Amount: dec("5"), Currency: "USDT", Status: storage.StatusPending},
		{ID: 3, Amount: dec("7"), Currency: "USDC", Status: storage.StatusPending},
	}
	tr := trongrid.Transfer{Amount: dec("5.004"), Currency: "USDT"}

	m := matchPending(tr, pending, map[int64]bool{})
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.ID)

	m = matchPending(tr, pending, map[int64]bool{1: true})
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.ID)

	assert.Nil(t, matchPending(tr, pending, map[int64]bool{1: true, 2: true}))
	assert.Nil(t, matchPending(trongrid.Transfer{Amount: dec("7"), Currency: "USDT"}, pending, nil))
}

func TestAutoCreditOutsideWindowLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet(t, 1, walletA, true)
	p := f.pending(t, 1, walletA, "50")

	old := transfer("0xold", "50")
	old.Timestamp = p.CreatedAt.Add(-30 * 24 * time.Hour)
	f.chain.add(walletA, old)

	res, err := f.eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, "50.00", f.balance(t, 1))
	assert.Equal(t, storage.StatusPending, f.status(t, p.ID))

	events := f.sink.byType(EventConfirmed)
	require.Len(t, events, 1)
	assert.True(t, events[0].AutoCredit)
	assert.Zero(t, events[0].PaymentID)
}

func TestMatchPendingWindow(t *testing.T) {
	created := time.Unix(1_700_000_000, 0)
	expires := created.Add(time.Hour)
	pending := []storage.PendingPayment{
		{ID: 1, Amount: dec("5"), Currency: "USDT", Status: storage.StatusPending, CreatedAt: created, ExpiresAt: &expires},
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"long before request", created.Add(-time.Hour), false},
		{"within skew", created.Add(-time.Minute), true},
		{"inside window", created.Add(30 * time.Minute), true},
		{"at deadline", expires, true},
		{"after deadline", expires.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := trongrid.Transfer{Amount: dec("5"), Currency: "USDT", Timestamp: tt.at}
			assert.Equal(t, tt.want, matchPending(tr, pending, nil) != nil)
		})
	}
}

func TestRunWaitsStartDelay(t *testing.T) {
	f := newFixture(t, WithStartDelay(300*time.Millisecond))
	f.wallet(t, 1, walletA, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.eng.Run(ctx, time.Hour)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.chain.calls.Load())

	require.Eventually(t, func() bool {
		return f.chain.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
