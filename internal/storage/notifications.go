package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// --- Notifications ---

// AddNotification stores a delivered event for the user's history
func (s *Storage) AddNotification(ctx context.Context, n Notification) error {
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.exec(ctx, s.db,
		`INSERT INTO notifications
			(user_id, kind, amount, currency, transaction_hash, wallet_address, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.UserID, n.Kind, n.Amount.String(), n.Currency, n.TransactionHash, n.WalletAddress, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("add notification: %w", err)
	}
	return nil
}

// ListNotifications returns the user's notifications, newest first
func (s *Storage) ListNotifications(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.query(ctx, s.db,
		`SELECT id, user_id, kind, amount, currency, transaction_hash, wallet_address, is_read, created_at
		 FROM notifications WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var list []Notification
	for rows.Next() {
		var n Notification
		var createdAt int64
		err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Amount, &n.Currency, &n.TransactionHash,
			&n.WalletAddress, &n.IsRead, &createdAt)
		if err != nil {
			return nil, err
		}
		n.CreatedAt = time.Unix(createdAt, 0)
		list = append(list, n)
	}
	return list, rows.Err()
}

// CountUnreadNotifications returns how many notifications the user has not seen
func (s *Storage) CountUnreadNotifications(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.queryRow(ctx, s.db,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationsRead marks the given notifications of the user as read
func (s *Storage) MarkNotificationsRead(ctx context.Context, userID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	_, err := s.exec(ctx, s.db,
		"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
