package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/usdt-tracker/internal/reconcile"
	"github.com/suspectuso/usdt-tracker/internal/storage"
)

const (
	wallet = "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8"
	sender = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

func confirmedEvent() reconcile.Event {
	return reconcile.Event{
		Type:          reconcile.EventConfirmed,
		UserID:        42,
		PaymentID:     7,
		Amount:        decimal.RequireFromString("50"),
		Currency:      "USDT",
		TxHash:        "0xabc",
		WalletAddress: wallet,
		FromAddress:   sender,
		Description:   "order <1>",
		Timestamp:     time.Unix(1_700_000_000, 0).UTC(),
	}
}

type fakeSender struct {
	mu    sync.Mutex
	users []int64
	texts []string
	err   error
}

func (s *fakeSender) SendNotification(_ context.Context, userID int64, text string, _ *models.InlineKeyboardMarkup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
	s.texts = append(s.texts, text)
	return s.err
}

func TestTelegramConfirmed(t *testing.T) {
	s := &fakeSender{}
	require.NoError(t, NewTelegram(s).Notify(context.Background(), confirmedEvent()))

	require.Len(t, s.texts, 1)
	assert.Equal(t, int64(42), s.users[0])
	text := s.texts[0]
	assert.Contains(t, text, "Payment confirmed")
	assert.Contains(t, text, "+50.00 USDT")
	assert.Contains(t, text, "Payment #7")
	assert.Contains(t, text, "order &lt;1&gt;")
	assert.Contains(t, text, TxURL("0xabc"))
	assert.Contains(t, text, "TJRa...RTv8")
}

func TestTelegramAutoCreditAndExpired(t *testing.T) {
	ev := confirmedEvent()
	ev.AutoCredit = true
	ev.PaymentID = 0
	ev.Description = ""
	text := FormatConfirmed(ev)
	assert.Contains(t, text, "Incoming transfer credited")
	assert.NotContains(t, text, "Payment #")

	ev = confirmedEvent()
	ev.Type = reconcile.EventExpired
	ev.TxHash = ""
	text = FormatExpired(ev)
	assert.Contains(t, text, "Payment expired")
	assert.Contains(t, text, "Payment #7 for 50.00 USDT")
}

func TestTelegramSubCentAmount(t *testing.T) {
	ev := confirmedEvent()
	ev.AutoCredit = true
	ev.Amount = decimal.RequireFromString("0.004")
	assert.Contains(t, FormatConfirmed(ev), "+0.004 USDT")
}

func TestTelegramSendError(t *testing.T) {
	s := &fakeSender{err: errors.New("blocked by user")}
	err := NewTelegram(s).Notify(context.Background(), confirmedEvent())
	assert.ErrorContains(t, err, "blocked by user")
}

func TestCallback(t *testing.T) {
	var (
		got      map[string]any
		delivery string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "payment.confirmed", r.Header.Get("X-Event-Type"))
		delivery = r.Header.Get("X-Delivery-ID")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ev := confirmedEvent()
	ev.CallbackURL = server.URL + "/hook"
	require.NoError(t, NewCallback(time.Second).Notify(context.Background(), ev))

	_, err := uuid.Parse(delivery)
	assert.NoError(t, err)
	assert.Equal(t, "payment.confirmed", got["type"])
	assert.Equal(t, "50", got["amount"])
	assert.Equal(t, "0xabc", got["transaction_hash"])
	assert.EqualValues(t, 7, got["payment_id"])
	assert.NotContains(t, got, "CallbackURL")
}

func TestCallbackSkipsWithoutURL(t *testing.T) {
	assert.NoError(t, NewCallback(0).Notify(context.Background(), confirmedEvent()))
}

func TestCallbackErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ev := confirmedEvent()
	ev.CallbackURL = server.URL
	err := NewCallback(time.Second).Notify(context.Background(), ev)
	assert.ErrorContains(t, err, "status 502")
}

func TestHistory(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "payments.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, NewHistory(store).Notify(ctx, confirmedEvent()))

	list, err := store.ListNotifications(ctx, 42, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "payment.confirmed", list[0].Kind)
	assert.Equal(t, "0xabc", list[0].TransactionHash)
	assert.True(t, list[0].Amount.Equal(decimal.NewFromInt(50)))

	unread, err := store.CountUnreadNotifications(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestFanoutDeliversToAll(t *testing.T) {
	var calls []string
	ok := func(name string) reconcile.Sink {
		return reconcile.SinkFunc(func(context.Context, reconcile.Event) error {
			calls = append(calls, name)
			return nil
		})
	}
	failing := reconcile.SinkFunc(func(context.Context, reconcile.Event) error {
		calls = append(calls, "bad")
		return errors.New("boom")
	})

	f := NewFanout().Add("a", ok("a")).Add("bad", failing).Add("c", ok("c"))
	assert.Equal(t, 3, f.Len())

	err := f.Notify(context.Background(), confirmedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"a", "bad", "c"}, calls)

	assert.NoError(t, NewFanout().Notify(context.Background(), confirmedEvent()))
}

func TestRedisPublish(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	defer client.Close()

	channel := "usdt-tracker-test:" + uuid.NewString()
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisWithClient(client, channel)
	require.NoError(t, sink.Ping(ctx))
	require.NoError(t, sink.Notify(ctx, confirmedEvent()))

	select {
	case msg := <-sub.Channel():
		var ev reconcile.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, "0xabc", ev.TxHash)
		assert.Equal(t, int64(42), ev.UserID)
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis("not a url", "ch")
	assert.Error(t, err)
}
