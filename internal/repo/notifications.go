package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"leadline/internal/domain"
)

// ErrDuplicate reports a notification whose dedupe key was already used.
var ErrDuplicate = errors.New("duplicate")

// InsertNotification stores n once per dedupe key.
func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	if n.DedupeKey == "" {
		return errors.New("dedupe_key required")
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,actor_id,type,title,message,dedupe_key,read,created_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(dedupe_key) DO NOTHING`,
		n.ID, n.ActorID, n.Type, n.Title, n.Message, n.DedupeKey, boolInt(n.Read), n.CreatedAt)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r Repo) ListNotifications(ctx context.Context, actorID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	clauses := []string{"actor_id=?"}
	args := []any{actorID}
	if unreadOnly {
		clauses = append(clauses, "read=0")
	}
	query := `SELECT id,actor_id,type,title,message,dedupe_key,read,created_at FROM notifications WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.ActorID, &n.Type, &n.Title, &n.Message, &n.DedupeKey, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, actorID, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND actor_id=?`, id, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
