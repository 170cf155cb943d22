package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// --- Pending payments ---

const pendingColumns = `id, user_id, amount, currency, wallet_address, description, callback_url,
	status, transaction_hash, created_at, confirmed_at, expires_at`

func scanPending(rs rowScanner) (*PendingPayment, error) {
	var (
		p                      PendingPayment
		status                 string
		txHash                 sql.NullString
		createdAt              int64
		confirmedAt, expiresAt sql.NullInt64
	)
	err := rs.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &p.WalletAddress, &p.Description,
		&p.CallbackURL, &status, &txHash, &createdAt, &confirmedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	p.Status = PaymentStatus(status)
	p.TransactionHash = txHash.String
	p.CreatedAt = time.Unix(createdAt, 0)
	p.ConfirmedAt = nullTime(confirmedAt)
	p.ExpiresAt = nullTime(expiresAt)
	return &p, nil
}

func collectPending(rows *sql.Rows) ([]PendingPayment, error) {
	defer rows.Close()

	var payments []PendingPayment
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// AddPendingPayment records an expected transfer to one of the user's wallets
func (s *Storage) AddPendingPayment(ctx context.Context, params PendingParams) (*PendingPayment, error) {
	if err := ValidateRequestAmount(params.Amount); err != nil {
		return nil, err
	}
	currency, err := ValidateCurrency(params.Currency)
	if err != nil {
		return nil, err
	}

	w, err := s.GetWalletByAddress(ctx, params.WalletAddress)
	if errors.Is(err, ErrNotFound) || (err == nil && w.UserID != params.UserID) {
		return nil, ErrNotOwner
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &PendingPayment{
		UserID:        params.UserID,
		Amount:        params.Amount,
		Currency:      currency,
		WalletAddress: params.WalletAddress,
		Description:   params.Description,
		CallbackURL:   params.CallbackURL,
		Status:        StatusPending,
		CreatedAt:     time.Unix(now.Unix(), 0),
	}

	var expiresAt sql.NullInt64
	if params.TTL > 0 {
		exp := now.Add(params.TTL)
		expiresAt = sql.NullInt64{Int64: exp.Unix(), Valid: true}
		p.ExpiresAt = nullTime(expiresAt)
	}

	err = s.queryRow(ctx, s.db,
		`INSERT INTO pending_payments
			(user_id, amount, currency, wallet_address, description, callback_url, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		p.UserID, p.Amount.String(), p.Currency, p.WalletAddress, p.Description, p.CallbackURL,
		string(StatusPending), now.Unix(), expiresAt,
	).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("add pending payment: %w", err)
	}

	return p, nil
}

// GetPendingPayment returns a payment request by ID in any status
func (s *Storage) GetPendingPayment(ctx context.Context, id int64) (*PendingPayment, error) {
	return s.getPending(ctx, s.db, id)
}

func (s *Storage) getPending(ctx context.Context, q querier, id int64) (*PendingPayment, error) {
	p, err := scanPending(s.queryRow(ctx, q,
		`SELECT `+pendingColumns+` FROM pending_payments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending payment: %w", err)
	}
	return p, nil
}

// ListPendingPayments returns the wallet's payments still waiting for a transfer, oldest first
func (s *Storage) ListPendingPayments(ctx context.Context, walletAddress string) ([]PendingPayment, error) {
	return s.listPending(ctx, s.db, "wallet_address = ? AND status = ?", walletAddress, string(StatusPending))
}

// ListUserPendingPayments returns all of a user's payment requests still pending, oldest first
func (s *Storage) ListUserPendingPayments(ctx context.Context, userID int64) ([]PendingPayment, error) {
	return s.listPending(ctx, s.db, "user_id = ? AND status = ?", userID, string(StatusPending))
}

func (s *Storage) listPending(ctx context.Context, q querier, where string, args ...any) ([]PendingPayment, error) {
	rows, err := s.query(ctx, q,
		`SELECT `+pendingColumns+` FROM pending_payments WHERE `+where+` ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	return collectPending(rows)
}

// ExpirePendingPayments moves the wallet's pending payments whose deadline is at
// or before cutoff to expired and returns the ones this call expired.
func (s *Storage) ExpirePendingPayments(ctx context.Context, walletAddress string, cutoff time.Time) ([]PendingPayment, error) {
	var expired []PendingPayment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		due, err := s.listPending(ctx, tx,
			"wallet_address = ? AND status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			walletAddress, string(StatusPending), cutoff.Unix(),
		)
		if err != nil {
			return err
		}

		for _, p := range due {
			result, err := s.exec(ctx, tx,
				"UPDATE pending_payments SET status = ? WHERE id = ? AND status = ?",
				string(StatusExpired), p.ID, string(StatusPending),
			)
			if err != nil {
				return fmt.Errorf("expire payment %d: %w", p.ID, err)
			}
			if rows, _ := result.RowsAffected(); rows == 0 {
				continue
			}
			p.Status = StatusExpired
			expired = append(expired, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// --- Confirmed payments ---

const confirmedColumns = `id, user_id, amount, currency, transaction_hash, wallet_address,
	from_address, pending_id, confirmed_at`

func scanConfirmed(rs rowScanner) (*ConfirmedPayment, error) {
	var (
		c           ConfirmedPayment
		pendingID   sql.NullInt64
		confirmedAt int64
	)
	err := rs.Scan(&c.ID, &c.UserID, &c.Amount, &c.Currency, &c.TransactionHash, &c.WalletAddress,
		&c.FromAddress, &pendingID, &confirmedAt)
	if err != nil {
		return nil, err
	}

	if pendingID.Valid {
		id := pendingID.Int64
		c.PendingID = &id
	}
	c.ConfirmedAt = time.Unix(confirmedAt, 0)
	return &c, nil
}

// IsTransactionConfirmed reports whether a transaction hash was already credited
func (s *Storage) IsTransactionConfirmed(ctx context.Context, txHash string) (bool, error) {
	var one int
	err := s.queryRow(ctx, s.db,
		"SELECT 1 FROM confirmed_payments WHERE transaction_hash = ?", txHash,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check transaction: %w", err)
	}
	return true, nil
}

// ConfirmPayment credits a transfer in one transaction:
//   - the wallet must belong to the user (ErrNotOwner);
//   - the transaction hash is inserted under its UNIQUE constraint (ErrAlreadyConfirmed);
//   - the pending payment, if any, moves to confirmed (ErrNotPending if it no longer is).
func (s *Storage) ConfirmPayment(ctx context.Context, params ConfirmParams) (*ConfirmedPayment, error) {
	if err := ValidateAmount(params.Amount); err != nil {
		return nil, err
	}
	currency, err := ValidateCurrency(params.Currency)
	if err != nil {
		return nil, err
	}
	if params.TxHash == "" {
		return nil, errors.New("confirm payment: empty transaction hash")
	}

	var confirmed *ConfirmedPayment
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		w, err := s.getWalletWhere(ctx, tx, "address = ?", params.WalletAddress)
		if errors.Is(err, ErrNotFound) {
			return ErrNotOwner
		}
		if err != nil {
			return err
		}
		if w.UserID != params.UserID {
			return ErrNotOwner
		}

		pending, err := s.pendingForConfirm(ctx, tx, params, currency)
		if err != nil {
			return err
		}

		now := s.now().Unix()
		var pendingID sql.NullInt64
		if pending != nil {
			pendingID = sql.NullInt64{Int64: pending.ID, Valid: true}
		}

		var id int64
		err = s.queryRow(ctx, tx,
			`INSERT INTO confirmed_payments
				(user_id, amount, currency, transaction_hash, wallet_address, from_address, pending_id, confirmed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(transaction_hash) DO NOTHING
			 RETURNING id`,
			params.UserID, params.Amount.String(), currency, params.TxHash, params.WalletAddress,
			params.FromAddress, pendingID, now,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadyConfirmed
		}
		if err != nil {
			return fmt.Errorf("insert confirmed payment: %w", err)
		}

		if pending != nil {
			result, err := s.exec(ctx, tx,
				`UPDATE pending_payments SET status = ?, transaction_hash = ?, confirmed_at = ?
				 WHERE id = ? AND status = ?`,
				string(StatusConfirmed), params.TxHash, now, pending.ID, string(StatusPending),
			)
			if err != nil {
				return fmt.Errorf("update pending payment: %w", err)
			}
			if rows, _ := result.RowsAffected(); rows == 0 {
				return ErrNotPending
			}
		}

		confirmed = &ConfirmedPayment{
			ID:              id,
			UserID:          params.UserID,
			Amount:          params.Amount,
			Currency:        currency,
			TransactionHash: params.TxHash,
			WalletAddress:   params.WalletAddress,
			FromAddress:     params.FromAddress,
			ConfirmedAt:     time.Unix(now, 0),
		}
		if pending != nil {
			pid := pending.ID
			confirmed.PendingID = &pid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// pendingForConfirm resolves the pending payment a confirmation settles, or nil.
func (s *Storage) pendingForConfirm(ctx context.Context, tx *sql.Tx, params ConfirmParams, currency string) (*PendingPayment, error) {
	if params.PendingID != 0 {
		p, err := s.getPending(ctx, tx, params.PendingID)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotPending
		}
		if err != nil {
			return nil, err
		}
		if p.Status != StatusPending || p.UserID != params.UserID || p.WalletAddress != params.WalletAddress {
			return nil, ErrNotPending
		}
		return p, nil
	}

	candidates, err := s.listPending(ctx, tx,
		"user_id = ? AND wallet_address = ? AND currency = ? AND status = ?",
		params.UserID, params.WalletAddress, currency, string(StatusPending),
	)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if !params.TransferTime.IsZero() && !candidates[i].Accepts(params.TransferTime) {
			continue
		}
		if AmountsMatch(candidates[i].Amount, params.Amount) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// ListConfirmedPayments returns the user's credited payments, newest first
func (s *Storage) ListConfirmedPayments(ctx context.Context, userID int64, limit int) ([]ConfirmedPayment, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.query(ctx, s.db,
		`SELECT `+confirmedColumns+` FROM confirmed_payments
		 WHERE user_id = ? ORDER BY confirmed_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list confirmed payments: %w", err)
	}
	defer rows.Close()

	var payments []ConfirmedPayment
	for rows.Next() {
		c, err := scanConfirmed(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *c)
	}
	return payments, rows.Err()
}

// GetConfirmedPayment returns the credit record for a transaction hash
func (s *Storage) GetConfirmedPayment(ctx context.Context, txHash string) (*ConfirmedPayment, error) {
	c, err := scanConfirmed(s.queryRow(ctx, s.db,
		`SELECT `+confirmedColumns+` FROM confirmed_payments WHERE transaction_hash = ?`, txHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get confirmed payment: %w", err)
	}
	return c, nil
}

// PaymentStats returns how many payments were credited to the user and their sum.
// The sum is computed from confirmed_payments on every call.
func (s *Storage) PaymentStats(ctx context.Context, userID int64) (int, decimal.Decimal, error) {
	rows, err := s.query(ctx, s.db,
		"SELECT amount FROM confirmed_payments WHERE user_id = ?", userID)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("payment stats: %w", err)
	}
	defer rows.Close()

	count := 0
	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return 0, decimal.Zero, err
		}
		total = total.Add(amount)
		count++
	}
	return count, total, rows.Err()
}

// GetBalance returns the user's credited balance
func (s *Storage) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	_, total, err := s.PaymentStats(ctx, userID)
	return total, err
}
