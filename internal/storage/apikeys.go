package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// --- API keys ---

// SystemUserID owns keys that may act on behalf of any user.
const SystemUserID int64 = 0

// CreateAPIKey issues a new random key for the user. Previous keys stay valid.
func (s *Storage) CreateAPIKey(ctx context.Context, userID int64) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	key := "utk_" + hex.EncodeToString(buf)

	if err := s.ImportAPIKey(ctx, key, userID); err != nil {
		return "", err
	}
	return key, nil
}

// ImportAPIKey stores a key chosen by the operator, e.g. API_MASTER_KEY.
// Importing an existing key reassigns and reactivates it.
func (s *Storage) ImportAPIKey(ctx context.Context, key string, userID int64) error {
	if key == "" {
		return errors.New("import api key: empty key")
	}

	_, err := s.exec(ctx, s.db,
		`INSERT INTO api_keys (api_key, user_id, is_active, created_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(api_key) DO UPDATE SET user_id = excluded.user_id, is_active = 1`,
		key, userID, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// LookupAPIKey returns the user an active key belongs to and stamps its last use
func (s *Storage) LookupAPIKey(ctx context.Context, key string) (int64, error) {
	var userID int64
	err := s.queryRow(ctx, s.db,
		"SELECT user_id FROM api_keys WHERE api_key = ? AND is_active = 1", key,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup api key: %w", err)
	}

	if _, err := s.exec(ctx, s.db,
		"UPDATE api_keys SET last_used_at = ? WHERE api_key = ?", s.now().Unix(), key,
	); err != nil {
		return 0, fmt.Errorf("touch api key: %w", err)
	}
	return userID, nil
}

// RevokeAPIKeys deactivates every key of the user
func (s *Storage) RevokeAPIKeys(ctx context.Context, userID int64) error {
	_, err := s.exec(ctx, s.db, "UPDATE api_keys SET is_active = 0 WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("revoke api keys: %w", err)
	}
	return nil
}
