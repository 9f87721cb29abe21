package overdue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leadline/internal/domain"
	"leadline/internal/overdue"
)

func stale(id, state string, days int) overdue.StaleLead {
	return overdue.StaleLead{Lead: lead(id, state, "u1", time.Duration(days)*24*time.Hour), DaysOverdue: days}
}

func TestSummarizeOrdersAndGroups(t *testing.T) {
	res := overdue.Result{
		AsOf: asOf,
		Date: today,
		Stale: []overdue.StaleLead{
			stale("a", domain.StateOpen, 2),
			stale("b", domain.StateFollowUp, 7),
			stale("c", domain.StateOpen, 2),
			stale("b", domain.StateFollowUp, 7),
			stale("d", domain.StateOpen, 4),
		},
		Missed: []overdue.Entry{
			{FollowUp: followUp("m2", "a", "2024-03-10", nil), Lead: lead("a", domain.StateOpen, "u1", 0)},
			{FollowUp: followUp("m1", "a", "2024-03-01", nil), Lead: lead("a", domain.StateOpen, "u1", 0)},
			{FollowUp: followUp("m2", "a", "2024-03-10", nil), Lead: lead("a", domain.StateOpen, "u1", 0)},
		},
		DueToday: []overdue.Entry{
			{FollowUp: followUp("d1", "b", today, nil), Lead: lead("b", domain.StateOpen, "u1", 0)},
		},
	}
	s := overdue.Summarize(res)
	assert.Equal(t, 4, s.TotalStale)
	assert.Equal(t, []string{"b", "d", "a", "c"}, leadIDs(s.StaleLeads))
	assert.Equal(t, map[string]int{domain.StateOpen: 3, domain.StateFollowUp: 1}, s.StaleByState)
	assert.Equal(t, []string{"m1", "m2"}, followUpIDs(s.Missed))
	assert.Equal(t, 2, s.TotalMissed)
	assert.Equal(t, 1, s.TotalDueToday)
	assert.Equal(t, today, s.Date)
}

func TestSummarizeEmptyResult(t *testing.T) {
	s := overdue.Summarize(overdue.Result{})
	assert.Zero(t, s.TotalStale)
	assert.NotNil(t, s.StaleByState)
	assert.Empty(t, s.StaleByState)
	assert.NotNil(t, s.StaleLeads)
	assert.NotNil(t, s.Missed)
	assert.NotNil(t, s.DueToday)
}

func TestSummaryTopKeepsTotals(t *testing.T) {
	var leads []overdue.StaleLead
	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		leads = append(leads, stale(id, domain.StateOpen, i+1))
	}
	s := overdue.Summarize(overdue.Result{Stale: leads})
	top := s.Top(5)
	assert.Equal(t, []string{"g", "f", "e", "d", "c"}, leadIDs(top.StaleLeads))
	assert.Equal(t, 7, top.TotalStale)
	assert.Equal(t, 7, top.StaleByState[domain.StateOpen])
	assert.Len(t, s.StaleLeads, 7)
	assert.Equal(t, s, s.Top(0))
}
