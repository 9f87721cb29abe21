package overdue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/domain"
	"leadline/internal/overdue"
)

var (
	asOf      = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	today     = "2024-03-15"
	yesterday = "2024-03-14"
	terminal  = []string{domain.StateClosed, domain.StateJunk}
	admin     = overdue.Actor{ID: "admin-1", Admin: true}
	policy    = overdue.Policy{
		domain.StateOpen:     true,
		domain.StateFollowUp: true,
		domain.StateClosed:   false,
		domain.StateJunk:     false,
	}
)

func lead(id, state, assignee string, idle time.Duration) domain.Lead {
	l := domain.Lead{
		ID:             id,
		Name:           "Lead " + id,
		Phone:          "555-0100",
		State:          state,
		CreatedAt:      asOf.Add(-30 * 24 * time.Hour),
		LastActivityAt: asOf.Add(-idle),
	}
	if assignee != "" {
		l.AssigneeID = strPtr(assignee)
	}
	return l
}

func followUp(id, leadID, date string, tm *string) domain.FollowUp {
	return domain.FollowUp{
		ID:            id,
		LeadID:        leadID,
		Comment:       "call back",
		ScheduledDate: strPtr(date),
		ScheduledTime: tm,
		CreatedBy:     "admin-1",
		CreatedAt:     asOf.Add(-48 * time.Hour),
	}
}

func evaluate(t *testing.T, src *fakeSource, actor overdue.Actor, p overdue.Policy) overdue.Result {
	t.Helper()
	ev := overdue.Evaluator{Source: src}
	res, err := ev.Evaluate(context.Background(), overdue.Request{AsOf: asOf, Actor: actor, Policy: p, Terminal: terminal})
	require.NoError(t, err)
	return res
}

func leadIDs(stale []overdue.StaleLead) []string {
	out := []string{}
	for _, l := range stale {
		out = append(out, l.ID)
	}
	return out
}

func entryLeadIDs(entries []overdue.Entry) []string {
	out := []string{}
	for _, e := range entries {
		out = append(out, e.Lead.ID)
	}
	return out
}

func TestStaleLeadTwoDaysIdle(t *testing.T) {
	src := &fakeSource{leads: []domain.Lead{lead("L1", domain.StateOpen, "u1", 48*time.Hour)}}
	res := evaluate(t, src, admin, policy)
	require.Len(t, res.Stale, 1)
	assert.Equal(t, "L1", res.Stale[0].ID)
	assert.Equal(t, 2, res.Stale[0].DaysOverdue)
	assert.Empty(t, res.Missed)
	assert.Empty(t, res.DueToday)
	assert.Equal(t, today, res.Date)
}

func TestDueTodaySuppressesStale(t *testing.T) {
	src := &fakeSource{
		leads:     []domain.Lead{lead("L2", domain.StateOpen, "u1", 5*24*time.Hour)},
		followUps: []domain.FollowUp{followUp("F1", "L2", today, nil)},
	}
	res := evaluate(t, src, admin, policy)
	assert.Empty(t, res.Stale)
	assert.Equal(t, []string{"L2"}, entryLeadIDs(res.DueToday))
}

func TestDueTodaySuppressionLeavesMissedAlone(t *testing.T) {
	src := &fakeSource{
		leads: []domain.Lead{lead("L2", domain.StateOpen, "u1", 5*24*time.Hour)},
		followUps: []domain.FollowUp{
			followUp("F1", "L2", today, nil),
			followUp("F0", "L2", "2024-03-01", nil),
		},
	}
	res := evaluate(t, src, admin, policy)
	assert.Empty(t, res.Stale)
	assert.Equal(t, []string{"L2"}, entryLeadIDs(res.DueToday))
	assert.Equal(t, []string{"L2"}, entryLeadIDs(res.Missed))
}

func TestClosedLeadExcludedEverywhere(t *testing.T) {
	src := &fakeSource{
		leads:     []domain.Lead{lead("L3", domain.StateClosed, "u1", 10*24*time.Hour)},
		followUps: []domain.FollowUp{followUp("F1", "L3", yesterday, nil)},
	}
	res := evaluate(t, src, admin, policy)
	assert.Empty(t, res.Missed)
	assert.Empty(t, res.Stale)
}

func TestTerminalLeadsNeverMissed(t *testing.T) {
	tests := []struct {
		name  string
		state string
		want  int
	}{
		{name: "closed", state: domain.StateClosed, want: 0},
		{name: "junk", state: domain.StateJunk, want: 0},
		{name: "open", state: domain.StateOpen, want: 2},
		{name: "future", state: domain.StateFuture, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{
				leads: []domain.Lead{lead("L", tt.state, "u1", time.Hour)},
				followUps: []domain.FollowUp{
					followUp("F1", "L", yesterday, nil),
					followUp("F2", "L", "2023-12-01", nil),
				},
			}
			res := evaluate(t, src, admin, policy)
			assert.Len(t, res.Missed, tt.want)
		})
	}
}

func TestDaysOverdueBoundary(t *testing.T) {
	tests := []struct {
		name string
		idle time.Duration
		want int
	}{
		{name: "23h59m", idle: 23*time.Hour + 59*time.Minute, want: 0},
		{name: "24h00m", idle: 24 * time.Hour, want: 1},
		{name: "47h59m", idle: 47*time.Hour + 59*time.Minute, want: 1},
		{name: "future activity", idle: -time.Hour, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, overdue.DaysBetween(asOf.Add(-tt.idle), asOf))

			src := &fakeSource{leads: []domain.Lead{lead("L", domain.StateOpen, "u1", tt.idle)}}
			res := evaluate(t, src, admin, policy)
			if tt.want == 0 {
				assert.Empty(t, res.Stale)
				return
			}
			require.Len(t, res.Stale, 1)
			assert.Equal(t, tt.want, res.Stale[0].DaysOverdue)
		})
	}
}

func TestEmptyPolicySkipsStateQuery(t *testing.T) {
	src := &fakeSource{
		leads: []domain.Lead{
			lead("L1", domain.StateOpen, "u1", 10*24*time.Hour),
			lead("L2", domain.StateOpen, "u1", 10*24*time.Hour),
		},
		followUps: []domain.FollowUp{
			followUp("F1", "L1", today, nil),
			followUp("F2", "L2", yesterday, nil),
		},
	}
	for _, p := range []overdue.Policy{nil, {}, {domain.StateOpen: false}} {
		res := evaluate(t, src, admin, p)
		assert.Empty(t, res.Stale)
		assert.Equal(t, []string{"L1"}, entryLeadIDs(res.DueToday))
		assert.Equal(t, []string{"L2"}, entryLeadIDs(res.Missed))
	}
	assert.Equal(t, 0, src.stateQueries)
}

func TestNonAdminSeesOnlyAssignedLeads(t *testing.T) {
	src := &fakeSource{
		leads: []domain.Lead{
			lead("mine", domain.StateOpen, "u1", 3*24*time.Hour),
			lead("theirs", domain.StateOpen, "u2", 3*24*time.Hour),
			lead("nobody", domain.StateOpen, "", 3*24*time.Hour),
		},
		followUps: []domain.FollowUp{
			followUp("F1", "mine", today, nil),
			followUp("F2", "theirs", today, nil),
			followUp("F3", "theirs", yesterday, nil),
			followUp("F4", "nobody", yesterday, nil),
		},
	}
	res := evaluate(t, src, overdue.Actor{ID: "u1"}, policy)
	assert.Empty(t, res.Stale)
	assert.Equal(t, []string{"mine"}, entryLeadIDs(res.DueToday))
	assert.Empty(t, res.Missed)

	res = evaluate(t, src, overdue.Actor{ID: "u2"}, policy)
	assert.Empty(t, res.Stale)
	assert.Equal(t, []string{"theirs"}, entryLeadIDs(res.DueToday))
	assert.Equal(t, []string{"theirs"}, entryLeadIDs(res.Missed))

	res = evaluate(t, src, admin, policy)
	assert.ElementsMatch(t, []string{"nobody"}, leadIDs(res.Stale))
	assert.ElementsMatch(t, []string{"mine", "theirs"}, entryLeadIDs(res.DueToday))
	assert.ElementsMatch(t, []string{"theirs", "nobody"}, entryLeadIDs(res.Missed))
}

func TestAdminSeesAllTrackedLeads(t *testing.T) {
	src := &fakeSource{leads: []domain.Lead{
		lead("a", domain.StateOpen, "u1", 2*24*time.Hour),
		lead("b", domain.StateFollowUp, "u2", 3*24*time.Hour),
		lead("c", domain.StateOpen, "", 4*24*time.Hour),
		lead("d", domain.StateFuture, "u1", 9*24*time.Hour),
	}}
	res := evaluate(t, src, admin, policy)
	assert.Equal(t, []string{"a", "b", "c"}, leadIDs(res.Stale))
}

func TestUnknownActorIsFatal(t *testing.T) {
	src := &fakeSource{leads: []domain.Lead{lead("L1", domain.StateOpen, "", 48*time.Hour)}}
	ev := overdue.Evaluator{Source: src}
	_, err := ev.Evaluate(context.Background(), overdue.Request{AsOf: asOf, Actor: overdue.Actor{}, Policy: policy})
	require.ErrorIs(t, err, overdue.ErrUnknownActor)
	assert.Equal(t, 0, src.stateQueries+src.followUpQueries)
}

func TestSourceFailureAbortsPass(t *testing.T) {
	tests := []struct {
		name   string
		src    *fakeSource
		policy overdue.Policy
	}{
		{name: "leads", src: &fakeSource{leadErr: errStoreDown}, policy: policy},
		{name: "follow-ups", src: &fakeSource{followUpErr: errStoreDown}, policy: policy},
		{
			name: "follow-up owners",
			src: &fakeSource{
				leadErr:   errStoreDown,
				followUps: []domain.FollowUp{followUp("F1", "L1", today, nil)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := overdue.Evaluator{Source: tt.src}
			res, err := ev.Evaluate(context.Background(), overdue.Request{AsOf: asOf, Actor: admin, Policy: tt.policy})
			require.Error(t, err)
			assert.True(t, errors.Is(err, overdue.ErrSourceUnavailable))
			assert.True(t, errors.Is(err, errStoreDown))
			assert.Equal(t, overdue.Result{}, res)
		})
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	src := &fakeSource{
		leads: []domain.Lead{
			lead("L1", domain.StateOpen, "u1", 48*time.Hour),
			lead("L2", domain.StateFollowUp, "u1", 72*time.Hour),
			lead("L3", domain.StateOpen, "u1", 96*time.Hour),
		},
		followUps: []domain.FollowUp{
			followUp("F1", "L3", today, strPtr("09:30")),
			followUp("F2", "L1", yesterday, nil),
		},
	}
	first := evaluate(t, src, admin, policy)
	second := evaluate(t, src, admin, policy)
	assert.Equal(t, first, second)
}

func TestReferenceZoneFixesToday(t *testing.T) {
	// 23:30 UTC on the 14th is already the 15th at UTC+05:30.
	instant := time.Date(2024, 3, 14, 23, 30, 0, 0, time.UTC)
	src := &fakeSource{
		leads:     []domain.Lead{lead("L1", domain.StateOpen, "u1", 0)},
		followUps: []domain.FollowUp{followUp("F1", "L1", "2024-03-15", nil)},
	}
	ev := overdue.Evaluator{Source: src, Location: time.FixedZone("IST", 5*3600+1800)}
	res, err := ev.Evaluate(context.Background(), overdue.Request{AsOf: instant, Actor: admin, Policy: policy})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", res.Date)
	assert.Equal(t, []string{"L1"}, entryLeadIDs(res.DueToday))

	utc := overdue.Evaluator{Source: src}
	res, err = utc.Evaluate(context.Background(), overdue.Request{AsOf: instant, Actor: admin, Policy: policy})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-14", res.Date)
	assert.Empty(t, res.DueToday)
}

func TestPolicyDefaultsToUntracked(t *testing.T) {
	p := overdue.Policy{"open": true, "future": false}
	assert.True(t, p.IsTracked("open"))
	assert.False(t, p.IsTracked("future"))
	assert.False(t, p.IsTracked("custom_state"))
	assert.Equal(t, []string{"open"}, p.TrackedStates())
	assert.Empty(t, overdue.Policy(nil).TrackedStates())
}
