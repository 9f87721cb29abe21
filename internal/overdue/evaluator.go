package overdue

import (
	"context"
	"errors"
	"time"

	"leadline/internal/domain"
)

const day = 24 * time.Hour

// StaleLead is a tracked lead with no activity for at least one whole day.
type StaleLead struct {
	domain.Lead
	DaysOverdue int `json:"days_overdue"`
}

// Result is one evaluation pass. The three lists are independent: a lead can
// be both stale and have a missed entry.
type Result struct {
	AsOf     time.Time   `json:"as_of"`
	Date     string      `json:"date"`
	Missed   []Entry     `json:"missed"`
	DueToday []Entry     `json:"due_today"`
	Stale    []StaleLead `json:"stale_leads"`
}

// Request carries every input of a pass. Policy and Terminal are read by the
// caller immediately before the pass.
type Request struct {
	AsOf     time.Time
	Actor    Actor
	Policy   Policy
	Terminal []string
}

// Evaluator holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	Source Source
	// Location fixes the calendar day of AsOf for the whole pass. Nil is UTC.
	Location *time.Location
}

func (ev Evaluator) location() *time.Location {
	if ev.Location != nil {
		return ev.Location
	}
	return time.UTC
}

// Evaluate classifies the actor's leads and follow-ups as of req.AsOf.
// Any store failure aborts the pass.
func (ev Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	if ev.Source == nil {
		return Result{}, errors.New("evaluator source required")
	}
	if err := req.Actor.validate(); err != nil {
		return Result{}, err
	}
	if req.AsOf.IsZero() {
		return Result{}, errors.New("evaluation instant required")
	}
	date := req.AsOf.In(ev.location()).Format(DateLayout)
	res := Result{
		AsOf:     req.AsOf,
		Date:     date,
		Missed:   []Entry{},
		DueToday: []Entry{},
		Stale:    []StaleLead{},
	}

	tracked := req.Policy.TrackedStates()
	var candidates []domain.Lead
	if len(tracked) > 0 {
		leads, err := ev.Source.FetchLeads(ctx, LeadFilter{States: tracked, AssigneeID: req.Actor.Scope()})
		if err != nil {
			return Result{}, sourceErr("fetch tracked leads", err)
		}
		candidates = leads
	}

	due, missed, err := ClassifyFollowUps(ctx, ev.Source, date, req.Actor, req.Terminal)
	if err != nil {
		return Result{}, err
	}
	res.DueToday = due
	res.Missed = missed

	hasDue := make(map[string]bool, len(due))
	for _, e := range due {
		hasDue[e.Lead.ID] = true
	}
	for _, l := range candidates {
		if !Visible(l, req.Actor) || !req.Policy.IsTracked(l.State) || hasDue[l.ID] {
			continue
		}
		if days := DaysBetween(l.LastActivityAt, req.AsOf); days >= 1 {
			res.Stale = append(res.Stale, StaleLead{Lead: l, DaysOverdue: days})
		}
	}
	return res, nil
}

// DaysBetween counts whole elapsed 24h periods from from to to, 0 if to is
// not after from.
func DaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / day)
}
