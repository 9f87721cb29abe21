package overdue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"leadline/internal/domain"
)

const (
	// DateLayout is the only accepted scheduled_date shape.
	DateLayout = "2006-01-02"
)

var timeLayouts = []string{"15:04", "15:04:05"}

// DateOp selects how FetchFollowUps compares scheduled_date with a date.
type DateOp string

const (
	DateEqual      DateOp = "eq"
	DateBefore     DateOp = "lt"
	DateOnOrBefore DateOp = "lte"
)

// LeadFilter narrows FetchLeads. Zero fields do not filter.
type LeadFilter struct {
	States     []string
	AssigneeID string
	IDs        []string
}

// FollowUpFilter narrows FetchFollowUps to entries with a scheduled date.
type FollowUpFilter struct {
	Op   DateOp
	Date string
}

// Source is the read side of the record store.
type Source interface {
	FetchLeads(ctx context.Context, f LeadFilter) ([]domain.Lead, error)
	FetchFollowUps(ctx context.Context, f FollowUpFilter) ([]domain.FollowUp, error)
}

// Entry is a scheduled follow-up together with its owning lead.
type Entry struct {
	FollowUp domain.FollowUp `json:"follow_up"`
	Lead     domain.Lead     `json:"lead"`
}

// ClassifyFollowUps splits the scheduled entries visible to actor into those
// due on date and those missed before it. Entries with an unparseable date are
// dropped. Missed entries on terminal leads are dropped. Due entries are
// ordered by scheduled time with untimed entries last.
func ClassifyFollowUps(ctx context.Context, src Source, date string, actor Actor, terminal []string) (dueToday, missed []Entry, err error) {
	if err := actor.validate(); err != nil {
		return nil, nil, err
	}
	asOfDate, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid evaluation date %q: %w", date, err)
	}
	entries, err := src.FetchFollowUps(ctx, FollowUpFilter{Op: DateOnOrBefore, Date: date})
	if err != nil {
		return nil, nil, sourceErr("fetch follow-ups", err)
	}

	var dueCand, missedCand []domain.FollowUp
	var leadIDs []string
	seenLead := map[string]bool{}
	for _, fu := range entries {
		d, ok := parseScheduledDate(fu.ScheduledDate)
		if !ok {
			continue
		}
		switch {
		case d.Equal(asOfDate):
			dueCand = append(dueCand, fu)
		case d.Before(asOfDate):
			missedCand = append(missedCand, fu)
		default:
			continue
		}
		if !seenLead[fu.LeadID] {
			seenLead[fu.LeadID] = true
			leadIDs = append(leadIDs, fu.LeadID)
		}
	}
	dueToday, missed = []Entry{}, []Entry{}
	if len(leadIDs) == 0 {
		return dueToday, missed, nil
	}

	leads, err := src.FetchLeads(ctx, LeadFilter{IDs: leadIDs, AssigneeID: actor.Scope()})
	if err != nil {
		return nil, nil, sourceErr("fetch follow-up leads", err)
	}
	byID := make(map[string]domain.Lead, len(leads))
	for _, l := range leads {
		if Visible(l, actor) {
			byID[l.ID] = l
		}
	}
	isTerminal := make(map[string]bool, len(terminal))
	for _, s := range terminal {
		isTerminal[s] = true
	}

	for _, fu := range dueCand {
		if l, ok := byID[fu.LeadID]; ok {
			dueToday = append(dueToday, Entry{FollowUp: fu, Lead: l})
		}
	}
	for _, fu := range missedCand {
		l, ok := byID[fu.LeadID]
		if !ok || isTerminal[l.State] {
			continue
		}
		missed = append(missed, Entry{FollowUp: fu, Lead: l})
	}
	sortByScheduledTime(dueToday)
	return dueToday, missed, nil
}

func parseScheduledDate(raw *string) (time.Time, bool) {
	if raw == nil {
		return time.Time{}, false
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// parseScheduledTime returns the offset into the day.
func parseScheduledTime(raw *string) (time.Duration, bool) {
	if raw == nil {
		return 0, false
	}
	s := strings.TrimSpace(*raw)
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

func sortByScheduledTime(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, okI := parseScheduledTime(entries[i].FollowUp.ScheduledTime)
		tj, okJ := parseScheduledTime(entries[j].FollowUp.ScheduledTime)
		switch {
		case okI && okJ:
			return ti < tj
		case okI:
			return true
		default:
			return false
		}
	})
}
