package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Wallets ---

const walletColumns = `id, user_id, address, label, is_active, created_at`

func scanWallet(rs rowScanner) (*Wallet, error) {
	var w Wallet
	var createdAt int64
	if err := rs.Scan(&w.ID, &w.UserID, &w.Address, &w.Label, &w.IsActive, &createdAt); err != nil {
		return nil, err
	}
	w.CreatedAt = time.Unix(createdAt, 0)
	return &w, nil
}

func collectWallets(rows *sql.Rows) ([]Wallet, error) {
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

// AddWallet registers an address for a user. The user's first wallet becomes active.
// An address can belong to one user only.
func (s *Storage) AddWallet(ctx context.Context, userID int64, address, label string, maxWallets int) (*Wallet, error) {
	var w *Wallet
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := s.queryRow(ctx, tx,
			"SELECT COUNT(*) FROM wallets WHERE user_id = ?", userID,
		).Scan(&count); err != nil {
			return err
		}

		if maxWallets > 0 && count >= maxWallets {
			return ErrLimitReached
		}

		now := s.now().Unix()
		active := count == 0

		var id int64
		err := s.queryRow(ctx, tx,
			`INSERT INTO wallets (user_id, address, label, is_active, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(address) DO NOTHING
			 RETURNING id`,
			userID, address, label, boolInt(active), now,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadyExists
		}
		if err != nil {
			return err
		}

		w = &Wallet{
			ID:        id,
			UserID:    userID,
			Address:   address,
			Label:     label,
			IsActive:  active,
			CreatedAt: time.Unix(now, 0),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add wallet: %w", err)
	}
	return w, nil
}

// ListWallets returns all wallets for a user, oldest first
func (s *Storage) ListWallets(ctx context.Context, userID int64) ([]Wallet, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = ? ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return collectWallets(rows)
}

// GetWallet returns a wallet by ID
func (s *Storage) GetWallet(ctx context.Context, walletID int64) (*Wallet, error) {
	return s.getWalletWhere(ctx, s.db, "id = ?", walletID)
}

// GetWalletByAddress returns the wallet registered for an address
func (s *Storage) GetWalletByAddress(ctx context.Context, address string) (*Wallet, error) {
	return s.getWalletWhere(ctx, s.db, "address = ?", address)
}

// GetActiveWallet returns the user's active wallet
func (s *Storage) GetActiveWallet(ctx context.Context, userID int64) (*Wallet, error) {
	return s.getWalletWhere(ctx, s.db, "user_id = ? AND is_active = 1", userID)
}

func (s *Storage) getWalletWhere(ctx context.Context, q querier, where string, args ...any) (*Wallet, error) {
	w, err := scanWallet(s.queryRow(ctx, q,
		`SELECT `+walletColumns+` FROM wallets WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// SetActiveWallet makes walletID the user's only active wallet.
// Clearing and setting happen in one transaction.
func (s *Storage) SetActiveWallet(ctx context.Context, userID, walletID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		w, err := s.getWalletWhere(ctx, tx, "id = ? AND user_id = ?", walletID, userID)
		if err != nil {
			return err
		}

		if _, err := s.exec(ctx, tx,
			"UPDATE wallets SET is_active = 0 WHERE user_id = ?", userID,
		); err != nil {
			return fmt.Errorf("clear active wallet: %w", err)
		}

		if _, err := s.exec(ctx, tx,
			"UPDATE wallets SET is_active = 1 WHERE id = ?", w.ID,
		); err != nil {
			return fmt.Errorf("set active wallet: %w", err)
		}
		return nil
	})
}

// RemoveWallet deletes a wallet. Its pending payments expire immediately, and if it
// was active the user's oldest remaining wallet takes over.
func (s *Storage) RemoveWallet(ctx context.Context, userID, walletID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		w, err := s.getWalletWhere(ctx, tx, "id = ? AND user_id = ?", walletID, userID)
		if err != nil {
			return err
		}

		if _, err := s.exec(ctx, tx, "DELETE FROM wallets WHERE id = ?", w.ID); err != nil {
			return fmt.Errorf("delete wallet: %w", err)
		}

		if _, err := s.exec(ctx, tx,
			`UPDATE pending_payments SET status = ? WHERE wallet_address = ? AND status = ?`,
			string(StatusExpired), w.Address, string(StatusPending),
		); err != nil {
			return fmt.Errorf("expire wallet payments: %w", err)
		}

		if !w.IsActive {
			return nil
		}

		_, err = s.exec(ctx, tx,
			`UPDATE wallets SET is_active = 1
			 WHERE id = (SELECT MIN(id) FROM wallets WHERE user_id = ?)`,
			userID,
		)
		return err
	})
}

// ListWatchedWallets returns wallets that need a reconciliation pass: those of
// auto-credit users and those with at least one pending payment.
func (s *Storage) ListWatchedWallets(ctx context.Context) ([]WatchedWallet, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT w.id, w.user_id, w.address, w.label, w.is_active, w.created_at,
			COALESCE(u.auto_credit, 0)
		 FROM wallets w
		 LEFT JOIN users u ON u.id = w.user_id
		 WHERE u.auto_credit = 1
			OR EXISTS (
				SELECT 1 FROM pending_payments p
				WHERE p.wallet_address = w.address AND p.status = ?
			)
		 ORDER BY w.id`,
		string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("list watched wallets: %w", err)
	}
	defer rows.Close()

	var watched []WatchedWallet
	for rows.Next() {
		var ww WatchedWallet
		var createdAt int64
		err := rows.Scan(&ww.ID, &ww.UserID, &ww.Address, &ww.Label, &ww.IsActive, &createdAt, &ww.AutoCredit)
		if err != nil {
			return nil, err
		}
		ww.CreatedAt = time.Unix(createdAt, 0)
		watched = append(watched, ww)
	}
	return watched, rows.Err()
}
