package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Users ---

const userColumns = `id, username, auto_credit, allowed, created_at`

func scanUser(rs rowScanner) (*User, error) {
	var u User
	var createdAt int64
	if err := rs.Scan(&u.ID, &u.Username, &u.AutoCredit, &u.Allowed, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

// EnsureUser creates the user on first interaction and refreshes the username afterwards.
func (s *Storage) EnsureUser(ctx context.Context, userID int64, username string) (*User, error) {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE users.username END`,
		userID, username, s.now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetUser(ctx, userID)
}

// GetUser returns a user by Telegram ID
func (s *Storage) GetUser(ctx context.Context, userID int64) (*User, error) {
	u, err := scanUser(s.queryRow(ctx, s.db,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetAutoCredit toggles crediting of any incoming amount for the user's wallets
func (s *Storage) SetAutoCredit(ctx context.Context, userID int64, enabled bool) error {
	result, err := s.exec(ctx, s.db,
		"UPDATE users SET auto_credit = ? WHERE id = ?",
		boolInt(enabled), userID,
	)
	if err != nil {
		return fmt.Errorf("set auto credit: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAllowed adds or removes the user from the private-mode whitelist.
// Unknown users are created so admins can allow them before their first message.
func (s *Storage) SetAllowed(ctx context.Context, userID int64, allowed bool) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO users (id, allowed, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET allowed = excluded.allowed`,
		userID, boolInt(allowed), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set allowed: %w", err)
	}
	return nil
}

// ListUsers returns users ordered by ID; onlyAllowed limits the result to the whitelist
func (s *Storage) ListUsers(ctx context.Context, onlyAllowed bool) ([]User, error) {
	q := `SELECT ` + userColumns + ` FROM users`
	if onlyAllowed {
		q += ` WHERE allowed = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.query(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user with their wallets, pending payments, API keys and notifications.
// Confirmed payments are kept.
func (s *Storage) DeleteUser(ctx context.Context, userID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := s.exec(ctx, tx, "DELETE FROM users WHERE id = ?", userID)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrNotFound
		}

		for _, q := range []string{
			"DELETE FROM wallets WHERE user_id = ?",
			"DELETE FROM pending_payments WHERE user_id = ?",
			"DELETE FROM api_keys WHERE user_id = ?",
			"DELETE FROM notifications WHERE user_id = ?",
		} {
			if _, err := s.exec(ctx, tx, q, userID); err != nil {
				return fmt.Errorf("delete user data: %w", err)
			}
		}
		return nil
	})
}
