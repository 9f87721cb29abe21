package overdue_test

import (
	"context"
	"errors"
	"slices"
	"sync"

	"leadline/internal/domain"
	"leadline/internal/overdue"
)

// fakeSource is an in-memory record store that counts queries.
type fakeSource struct {
	mu        sync.Mutex
	leads     []domain.Lead
	followUps []domain.FollowUp

	leadErr     error
	followUpErr error

	stateQueries    int
	idQueries       int
	followUpQueries int
}

func (f *fakeSource) FetchLeads(_ context.Context, flt overdue.LeadFilter) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(flt.States) > 0 {
		f.stateQueries++
	}
	if len(flt.IDs) > 0 {
		f.idQueries++
	}
	if f.leadErr != nil {
		return nil, f.leadErr
	}
	var out []domain.Lead
	for _, l := range f.leads {
		if len(flt.States) > 0 && !slices.Contains(flt.States, l.State) {
			continue
		}
		if len(flt.IDs) > 0 && !slices.Contains(flt.IDs, l.ID) {
			continue
		}
		if flt.AssigneeID != "" && (l.AssigneeID == nil || *l.AssigneeID != flt.AssigneeID) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeSource) FetchFollowUps(_ context.Context, flt overdue.FollowUpFilter) ([]domain.FollowUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followUpQueries++
	if f.followUpErr != nil {
		return nil, f.followUpErr
	}
	var out []domain.FollowUp
	for _, fu := range f.followUps {
		if fu.ScheduledDate == nil {
			continue
		}
		d := *fu.ScheduledDate
		switch flt.Op {
		case overdue.DateEqual:
			if d != flt.Date {
				continue
			}
		case overdue.DateBefore:
			if d >= flt.Date {
				continue
			}
		default:
			if d > flt.Date {
				continue
			}
		}
		out = append(out, fu)
	}
	return out, nil
}

var errStoreDown = errors.New("connection refused")

func strPtr(s string) *string { return &s }
