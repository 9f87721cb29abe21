package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// TimeLayout is fixed-width UTC so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in the storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

const leadColumns = `id,name,phone,email,source,notes,state,assignee_id,follow_up_count,created_by,created_at,last_activity_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var l domain.Lead
	var email, source, notes, assigneeID sql.NullString
	var createdAt, lastActivity string
	err := row.Scan(&l.ID, &l.Name, &l.Phone, &email, &source, &notes, &l.State, &assigneeID, &l.FollowUpCount, &l.CreatedBy, &createdAt, &lastActivity)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if email.Valid {
		l.Email = email.String
	}
	if source.Valid {
		l.Source = source.String
	}
	if notes.Valid {
		l.Notes = notes.String
	}
	if assigneeID.Valid {
		l.AssigneeID = &assigneeID.String
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return l, fmt.Errorf("lead %s created_at: %w", l.ID, err)
	}
	if l.LastActivityAt, err = parseTime(lastActivity); err != nil {
		return l, fmt.Errorf("lead %s last_activity_at: %w", l.ID, err)
	}
	return l, nil
}

func (r Repo) InsertLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leads(`+leadColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Name, l.Phone, nullable(l.Email), nullable(l.Source), nullable(l.Notes), l.State,
		nullableStringPtr(l.AssigneeID), l.FollowUpCount, l.CreatedBy, FormatTime(l.CreatedAt), FormatTime(l.LastActivityAt))
	return err
}

// UpdateLead writes the mutable fields. last_activity_at only moves forward.
func (r Repo) UpdateLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET name=?, phone=?, email=?, source=?, notes=?, state=?, assignee_id=?,
last_activity_at=MAX(last_activity_at, ?) WHERE id=?`,
		l.Name, l.Phone, nullable(l.Email), nullable(l.Source), nullable(l.Notes), l.State,
		nullableStringPtr(l.AssigneeID), FormatTime(l.LastActivityAt), l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLead refreshes last_activity_at without lowering it.
func (r Repo) TouchLead(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET last_activity_at=MAX(last_activity_at, ?) WHERE id=?`, FormatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id))
}

func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	return scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id))
}

func (r Repo) DeleteLead(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type LeadFilters struct {
	States     []string
	AssigneeID string
	IDs        []string
	Limit      int
	// Oldest orders by creation ascending instead of newest first.
	Oldest bool
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	var clauses []string
	var args []any
	if len(f.States) > 0 {
		clauses = append(clauses, "state IN ("+placeholders(len(f.States))+")")
		for _, s := range f.States {
			args = append(args, s)
		}
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := ` ORDER BY created_at DESC, id DESC`
	if f.Oldest {
		order = ` ORDER BY created_at ASC, id ASC`
	}
	query := `SELECT ` + leadColumns + ` FROM leads ` + where + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

const followUpColumns = `id,lead_id,comment,scheduled_date,scheduled_time,created_by,created_at`

func scanFollowUp(row rowScanner) (domain.FollowUp, error) {
	var fu domain.FollowUp
	var date, tm sql.NullString
	var createdAt string
	if err := row.Scan(&fu.ID, &fu.LeadID, &fu.Comment, &date, &tm, &fu.CreatedBy, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return fu, ErrNotFound
		}
		return fu, err
	}
	if date.Valid {
		fu.ScheduledDate = &date.String
	}
	if tm.Valid {
		fu.ScheduledTime = &tm.String
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return fu, fmt.Errorf("follow-up %s created_at: %w", fu.ID, err)
	}
	fu.CreatedAt = t
	return fu, nil
}

// InsertFollowUp appends the entry, bumps follow_up_count and refreshes the
// lead's activity in tx.
func (r Repo) InsertFollowUp(ctx context.Context, tx *sql.Tx, fu domain.FollowUp) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO follow_ups(`+followUpColumns+`) VALUES (?,?,?,?,?,?,?)`,
		fu.ID, fu.LeadID, fu.Comment, nullableStringPtr(fu.ScheduledDate), nullableStringPtr(fu.ScheduledTime),
		fu.CreatedBy, FormatTime(fu.CreatedAt)); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE leads SET follow_up_count=follow_up_count+1, last_activity_at=MAX(last_activity_at, ?) WHERE id=?`,
		FormatTime(fu.CreatedAt), fu.LeadID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListFollowUps(ctx context.Context, leadID string) ([]domain.FollowUp, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+followUpColumns+` FROM follow_ups WHERE lead_id=? ORDER BY created_at DESC, id DESC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FollowUp
	for rows.Next() {
		fu, err := scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, fu)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
