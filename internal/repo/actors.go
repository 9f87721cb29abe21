package repo

import (
	"context"
	"database/sql"

	"leadline/internal/domain"
)

const actorColumns = `id,name,COALESCE(email,''),role,active,created_at`

func scanActor(row rowScanner) (domain.Actor, error) {
	var a domain.Actor
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// EnsureActor inserts a unless an actor with that id exists.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id,name,email,role,active,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Name, nullable(a.Email), a.Role, boolInt(a.Active), a.CreatedAt)
	return err
}

func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actors(id,name,email,role,active,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Name, nullable(a.Email), a.Role, boolInt(a.Active), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	return scanActor(r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
}

func (r Repo) GetActorTx(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	return scanActor(tx.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
}

func (r Repo) ListActors(ctx context.Context, activeOnly bool) ([]domain.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	res, err := tx.ExecContext(ctx, `UPDATE actors SET name=?, email=?, role=?, active=? WHERE id=?`,
		a.Name, nullable(a.Email), a.Role, boolInt(a.Active), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// NotificationPreference defaults to overdue alerts enabled when unset.
func (r Repo) NotificationPreference(ctx context.Context, actorID string) (domain.NotificationPreference, error) {
	pref := domain.NotificationPreference{ActorID: actorID, OverdueEnabled: true}
	err := r.DB.QueryRowContext(ctx, `SELECT overdue_enabled FROM notification_preferences WHERE actor_id=?`, actorID).Scan(&pref.OverdueEnabled)
	if err == sql.ErrNoRows {
		return pref, nil
	}
	return pref, err
}

func (r Repo) SetNotificationPreference(ctx context.Context, pref domain.NotificationPreference) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notification_preferences(actor_id,overdue_enabled) VALUES (?,?)
ON CONFLICT(actor_id) DO UPDATE SET overdue_enabled=excluded.overdue_enabled`, pref.ActorID, boolInt(pref.OverdueEnabled))
	return err
}
