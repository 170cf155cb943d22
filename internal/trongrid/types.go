package trongrid

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountResponse is the body of GET /v1/accounts/{address}
type AccountResponse struct {
	Data    []Account `json:"data"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// Account is the subset of TronGrid account info the tracker reads
type Account struct {
	Address    string              `json:"address"` // hex, 41...
	Balance    int64               `json:"balance"` // TRX in sun
	CreateTime int64               `json:"create_time"`
	TRC20      []map[string]string `json:"trc20"` // contract address -> raw balance
}

// TRC20Response is the body of GET /v1/accounts/{address}/transactions/trc20
type TRC20Response struct {
	Data    []TRC20Transfer `json:"data"`
	Success bool            `json:"success"`
	Meta    Meta            `json:"meta"`
}

// TRC20Transfer is one token transfer event as TronGrid returns it
type TRC20Transfer struct {
	TransactionID  string    `json:"transaction_id"`
	TokenInfo      TokenInfo `json:"token_info"`
	BlockTimestamp int64     `json:"block_timestamp"` // milliseconds
	From           string    `json:"from"`
	To             string    `json:"to"`
	Type           string    `json:"type"`
	Value          string    `json:"value"` // integer string scaled by TokenInfo.Decimals
}

// TokenInfo describes the TRC20 contract of a transfer
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
}

// Meta carries paging info
type Meta struct {
	At          int64  `json:"at"`
	PageSize    int    `json:"page_size"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Transfer is a normalized token transfer
type Transfer struct {
	TxHash    string
	From      string
	To        string
	Amount    decimal.Decimal
	Currency  string
	Timestamp time.Time
}
