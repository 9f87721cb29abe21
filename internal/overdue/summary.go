package overdue

import (
	"sort"
	"time"
)

// Summary is the grouped, severity-ordered view of a Result. It is never
// truncated; use Top for display.
type Summary struct {
	AsOf          time.Time      `json:"as_of"`
	Date          string         `json:"date"`
	TotalStale    int            `json:"total_stale"`
	StaleByState  map[string]int `json:"stale_by_state"`
	StaleLeads    []StaleLead    `json:"stale_leads"`
	TotalDueToday int            `json:"total_due_today"`
	DueToday      []Entry        `json:"due_today"`
	TotalMissed   int            `json:"total_missed"`
	Missed        []Entry        `json:"missed"`
}

// Summarize de-duplicates within each list and orders stale leads by
// days_overdue descending, keeping fetch order for ties. Missed entries are
// ordered oldest scheduled date first.
func Summarize(r Result) Summary {
	s := Summary{
		AsOf:         r.AsOf,
		Date:         r.Date,
		StaleByState: map[string]int{},
		StaleLeads:   make([]StaleLead, 0, len(r.Stale)),
		DueToday:     dedupeEntries(r.DueToday),
		Missed:       dedupeEntries(r.Missed),
	}
	seen := map[string]bool{}
	for _, l := range r.Stale {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		s.StaleLeads = append(s.StaleLeads, l)
		s.StaleByState[l.State]++
	}
	sort.SliceStable(s.StaleLeads, func(i, j int) bool {
		return s.StaleLeads[i].DaysOverdue > s.StaleLeads[j].DaysOverdue
	})
	sort.SliceStable(s.Missed, func(i, j int) bool {
		return scheduledDate(s.Missed[i]) < scheduledDate(s.Missed[j])
	})
	s.TotalStale = len(s.StaleLeads)
	s.TotalDueToday = len(s.DueToday)
	s.TotalMissed = len(s.Missed)
	return s
}

// Top returns a copy with every list capped at n. Totals and the histogram
// still describe the full result. n <= 0 returns s unchanged.
func (s Summary) Top(n int) Summary {
	if n <= 0 {
		return s
	}
	out := s
	out.StaleLeads = capSlice(s.StaleLeads, n)
	out.DueToday = capSlice(s.DueToday, n)
	out.Missed = capSlice(s.Missed, n)
	return out
}

func dedupeEntries(in []Entry) []Entry {
	out := make([]Entry, 0, len(in))
	seen := map[string]bool{}
	for _, e := range in {
		if seen[e.FollowUp.ID] {
			continue
		}
		seen[e.FollowUp.ID] = true
		out = append(out, e)
	}
	return out
}

func scheduledDate(e Entry) string {
	if e.FollowUp.ScheduledDate == nil {
		return ""
	}
	return *e.FollowUp.ScheduledDate
}

func capSlice[T any](in []T, n int) []T {
	if len(in) <= n {
		return in
	}
	out := make([]T, n)
	copy(out, in[:n])
	return out
}
