package trongrid

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdt   = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	wallet = "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := []Option{
		WithRateLimit(1000),
		WithRetries(2, time.Millisecond),
		WithTimeout(2 * time.Second),
	}
	return NewClient(server.URL, "test-key", append(base, opts...)...)
}

func TestListRecentTransfers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/"+wallet+"/transactions/trc20", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, usdt, r.URL.Query().Get("contract_address"))
		assert.Equal(t, "true", r.URL.Query().Get("only_confirmed"))
		assert.Equal(t, "test-key", r.Header.Get("TRON-PRO-API-KEY"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"meta": {"at": 1700000100000, "page_size": 3},
			"data": [
				{
					"transaction_id": "0xnew",
					"token_info": {"symbol": "USDT", "address": "` + usdt + `", "decimals": 6, "name": "Tether USD"},
					"block_timestamp": 1700000060000,
					"from": "TSender",
					"to": "` + wallet + `",
					"type": "Transfer",
					"value": "370000"
				},
				{
					"transaction_id": "0xbroken",
					"token_info": {"symbol": "USDT", "decimals": 6},
					"block_timestamp": 1700000030000,
					"value": "not-a-number"
				},
				{
					"transaction_id": "0xold",
					"token_info": {"symbol": "USDT", "address": "` + usdt + `", "decimals": 6, "name": "Tether USD"},
					"block_timestamp": 1700000000000,
					"from": "` + wallet + `",
					"to": "TOther",
					"type": "Transfer",
					"value": "50000000"
				}
			]
		}`))
	}, WithTransferLimit(5), WithOnlyConfirmed(true))

	transfers, err := client.ListRecentTransfers(context.Background(), wallet)
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	assert.Equal(t, "0xold", transfers[0].TxHash)
	assert.Equal(t, "50", transfers[0].Amount.String())
	assert.Equal(t, wallet, transfers[0].From)
	assert.Equal(t, time.UnixMilli(1700000000000), transfers[0].Timestamp)

	assert.Equal(t, "0xnew", transfers[1].TxHash)
	assert.Equal(t, "0.37", transfers[1].Amount.String())
	assert.Equal(t, "USDT", transfers[1].Currency)
	assert.Equal(t, wallet, transfers[1].To)
}

func TestGetBalance(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "token held",
			body: `{"success":true,"data":[{"address":"41aa","balance":1000,"trc20":[{"TXLAQ63Xg1NAzckPwKHvzw7CSEmLMEqcdj":"5"},{"` + usdt + `":"12500000"}]}]}`,
			want: "12.5",
		},
		{
			name: "token absent",
			body: `{"success":true,"data":[{"address":"41aa","balance":1000,"trc20":[]}]}`,
			want: "0",
		},
		{
			name: "account never activated",
			body: `{"success":true,"data":[],"meta":{"at":1,"page_size":0}}`,
			want: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/accounts/"+wallet, r.URL.Path)
				w.Write([]byte(tt.body))
			})

			balance, err := client.GetBalance(context.Background(), wallet)
			require.NoError(t, err)
			assert.Equal(t, tt.want, balance.String())
		})
	}
}

func TestRetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true,"data":[]}`))
	})

	transfers, err := client.ListRecentTransfers(context.Background(), wallet)
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.ListRecentTransfers(context.Background(), wallet)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"error":"bad address"}`))
	})

	_, err := client.GetBalance(context.Background(), wallet)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "bad address")
	assert.Equal(t, int32(1), calls.Load())
}

func TestContextCancelStopsRetries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, WithRetries(5, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ListRecentTransfers(ctx, wallet)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client := NewClient(server.URL, "", WithRateLimit(1000), WithRetries(0, 0))
	_, err := client.ListRecentTransfers(context.Background(), wallet)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestValidateAddress(t *testing.T) {
	offline := NewClient("http://127.0.0.1:1", "")
	ctx := context.Background()

	assert.True(t, offline.ValidateAddress(ctx, usdt))
	assert.False(t, offline.ValidateAddress(ctx, ""))
	assert.False(t, offline.ValidateAddress(ctx, "TAAA"))
	assert.False(t, offline.ValidateAddress(ctx, "0x52908400098527886E0F7030069857D2E4169EE7"))

	t.Run("online lookup fails", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, WithOnlineValidation(true), WithRetries(0, 0))
		assert.False(t, client.ValidateAddress(ctx, usdt))
	})

	t.Run("online lookup succeeds", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"data":[]}`))
		}, WithOnlineValidation(true))
		assert.True(t, client.ValidateAddress(ctx, usdt))
	})
}
