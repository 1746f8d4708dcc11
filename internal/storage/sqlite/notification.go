package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	ngevent "github.com/eugener/ngevent/internal"
)

// CreateNotifications inserts ns in a single transaction.
func (s *Store) CreateNotifications(ctx context.Context, ns []*ngevent.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO notifications (id, user_id, type, title, message, event_id, read, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, n := range ns {
			if _, err := stmt.ExecContext(ctx,
				n.ID, n.UserID, n.Type, n.Title, n.Message, nullStr(n.EventID),
				boolToInt(n.Read), fmtTime(n.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert notification for %s: %w", n.UserID, err)
			}
		}
		return nil
	})
}

// ListNotifications returns up to limit notifications of a user, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]*ngevent.Notification, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, type, title, message, event_id, read, created_at
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanNotification)
}

// MarkNotificationRead flags a notification of userID as read.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "notification")
}

func scanNotification(sc scanner) (*ngevent.Notification, error) {
	var (
		n       ngevent.Notification
		eventID sql.NullString
		read    int
		created string
	)
	if err := sc.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &eventID, &read, &created); err != nil {
		return nil, notFoundErr(err)
	}
	n.EventID = eventID.String
	n.Read = read != 0
	n.CreatedAt = parseTime(created)
	return &n, nil
}
