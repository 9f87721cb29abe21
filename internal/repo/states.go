package repo

import (
	"context"
	"database/sql"
	"time"

	"leadline/internal/domain"
	"leadline/internal/overdue"
)

const stateColumns = `name,label,COALESCE(color,''),terminal,system,active,sort_order,created_at`

func scanState(row rowScanner) (domain.LeadState, error) {
	var s domain.LeadState
	err := row.Scan(&s.Name, &s.Label, &s.Color, &s.Terminal, &s.System, &s.Active, &s.SortOrder, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// EnsureState inserts s unless a state with that name exists.
func (r Repo) EnsureState(ctx context.Context, tx *sql.Tx, s domain.LeadState) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO lead_states(name,label,color,terminal,system,active,sort_order,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.Name, s.Label, nullable(s.Color), boolInt(s.Terminal), boolInt(s.System), boolInt(s.Active), s.SortOrder, s.CreatedAt)
	return err
}

func (r Repo) InsertState(ctx context.Context, tx *sql.Tx, s domain.LeadState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO lead_states(name,label,color,terminal,system,active,sort_order,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.Name, s.Label, nullable(s.Color), boolInt(s.Terminal), boolInt(s.System), boolInt(s.Active), s.SortOrder, s.CreatedAt)
	return err
}

func (r Repo) GetState(ctx context.Context, name string) (domain.LeadState, error) {
	return scanState(r.DB.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM lead_states WHERE name=?`, name))
}

func (r Repo) GetStateTx(ctx context.Context, tx *sql.Tx, name string) (domain.LeadState, error) {
	return scanState(tx.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM lead_states WHERE name=?`, name))
}

func (r Repo) ListStates(ctx context.Context, activeOnly bool) ([]domain.LeadState, error) {
	query := `SELECT ` + stateColumns + ` FROM lead_states`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY sort_order ASC, name ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// TerminalStates lists states that represent a resolved outcome.
func (r Repo) TerminalStates(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name FROM lead_states WHERE terminal=1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

// GetPolicy reads the staleness policy. States without a row are absent and
// therefore untracked.
func (r Repo) GetPolicy(ctx context.Context) (overdue.Policy, error) {
	entries, err := r.ListPolicy(ctx)
	if err != nil {
		return nil, err
	}
	p := make(overdue.Policy, len(entries))
	for _, e := range entries {
		p[e.State] = e.Tracked
	}
	return p, nil
}

func (r Repo) ListPolicy(ctx context.Context) ([]domain.PolicyEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state,tracked,updated_at FROM overdue_policy ORDER BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PolicyEntry
	for rows.Next() {
		var e domain.PolicyEntry
		if err := rows.Scan(&e.State, &e.Tracked, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// SetPolicy upserts the tracked flag for state.
func (r Repo) SetPolicy(ctx context.Context, tx *sql.Tx, state string, tracked bool, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO overdue_policy(state,tracked,updated_at) VALUES (?,?,?)
ON CONFLICT(state) DO UPDATE SET tracked=excluded.tracked, updated_at=excluded.updated_at`, state, boolInt(tracked), FormatTime(at))
	return err
}

// SeedPolicy sets the flag only when state has no policy row yet.
func (r Repo) SeedPolicy(ctx context.Context, tx *sql.Tx, state string, tracked bool, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO overdue_policy(state,tracked,updated_at) VALUES (?,?,?)`, state, boolInt(tracked), FormatTime(at))
	return err
}
