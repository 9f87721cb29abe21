package repo

import (
	"context"
	"fmt"

	"leadline/internal/domain"
	"leadline/internal/overdue"
)

// idChunk keeps IN lists well under SQLite's bound-parameter limit.
const idChunk = 500

var _ overdue.Source = Repo{}

// FetchLeads serves the evaluator. Results are in creation order so ties in
// later stable sorts are deterministic.
func (r Repo) FetchLeads(ctx context.Context, f overdue.LeadFilter) ([]domain.Lead, error) {
	base := LeadFilters{States: f.States, AssigneeID: f.AssigneeID, Oldest: true}
	if len(f.IDs) == 0 {
		return r.ListLeads(ctx, base)
	}
	var out []domain.Lead
	for start := 0; start < len(f.IDs); start += idChunk {
		end := min(start+idChunk, len(f.IDs))
		chunk := base
		chunk.IDs = f.IDs[start:end]
		leads, err := r.ListLeads(ctx, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, leads...)
	}
	return out, nil
}

// FetchFollowUps returns entries with a scheduled date compared to f.Date.
// Comparison is textual, so malformed dates may pass and are left for the
// classifier to reject.
func (r Repo) FetchFollowUps(ctx context.Context, f overdue.FollowUpFilter) ([]domain.FollowUp, error) {
	var op string
	switch f.Op {
	case overdue.DateEqual:
		op = "="
	case overdue.DateBefore:
		op = "<"
	case overdue.DateOnOrBefore, "":
		op = "<="
	default:
		return nil, fmt.Errorf("invalid scheduled_date op %q", f.Op)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+followUpColumns+` FROM follow_ups
WHERE scheduled_date IS NOT NULL AND scheduled_date `+op+` ? ORDER BY scheduled_date ASC, created_at ASC, id ASC`, f.Date)
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
