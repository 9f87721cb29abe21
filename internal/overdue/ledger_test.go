package overdue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/domain"
	"leadline/internal/overdue"
)

func followUpIDs(entries []overdue.Entry) []string {
	out := []string{}
	for _, e := range entries {
		out = append(out, e.FollowUp.ID)
	}
	return out
}

func TestClassifyOrdersDueTodayByTime(t *testing.T) {
	src := &fakeSource{
		leads: []domain.Lead{lead("L1", domain.StateOpen, "u1", time.Hour)},
		followUps: []domain.FollowUp{
			followUp("untimed-a", "L1", today, nil),
			followUp("late", "L1", today, strPtr("16:00")),
			followUp("bad-time", "L1", today, strPtr("4pm")),
			followUp("early", "L1", today, strPtr("08:15:30")),
			followUp("untimed-b", "L1", today, strPtr("")),
			followUp("noon", "L1", today, strPtr("12:00")),
		},
	}
	due, missed, err := overdue.ClassifyFollowUps(context.Background(), src, today, admin, terminal)
	require.NoError(t, err)
	assert.Empty(t, missed)
	assert.Equal(t, []string{"early", "noon", "late", "untimed-a", "bad-time", "untimed-b"}, followUpIDs(due))
}

func TestClassifyExcludesMalformedAndFutureDates(t *testing.T) {
	note := followUp("note", "L1", "", nil)
	note.ScheduledDate = nil
	src := &fakeSource{
		leads: []domain.Lead{lead("L1", domain.StateOpen, "u1", time.Hour)},
		followUps: []domain.FollowUp{
			note,
			followUp("garbage", "L1", "soon", nil),
			followUp("wrong-shape", "L1", "2024-3-14", nil),
			followUp("impossible", "L1", "2024-02-30", nil),
			followUp("tomorrow", "L1", "2024-03-16", nil),
			followUp("ok-missed", "L1", yesterday, nil),
			followUp("ok-due", "L1", today, nil),
		},
	}
	due, missed, err := overdue.ClassifyFollowUps(context.Background(), src, today, admin, terminal)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok-due"}, followUpIDs(due))
	assert.Equal(t, []string{"ok-missed"}, followUpIDs(missed))
}

func TestClassifyDropsEntriesOfDeletedLeads(t *testing.T) {
	src := &fakeSource{
		leads: []domain.Lead{lead("L1", domain.StateOpen, "u1", time.Hour)},
		followUps: []domain.FollowUp{
			followUp("F1", "gone", yesterday, nil),
			followUp("F2", "L1", yesterday, nil),
		},
	}
	due, missed, err := overdue.ClassifyFollowUps(context.Background(), src, today, admin, terminal)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Equal(t, []string{"F2"}, followUpIDs(missed))
	assert.Equal(t, 1, src.idQueries)
}

func TestClassifyWithoutScheduledEntriesSkipsLeadLookup(t *testing.T) {
	src := &fakeSource{leads: []domain.Lead{lead("L1", domain.StateOpen, "u1", time.Hour)}}
	due, missed, err := overdue.ClassifyFollowUps(context.Background(), src, today, admin, terminal)
	require.NoError(t, err)
	assert.NotNil(t, due)
	assert.NotNil(t, missed)
	assert.Empty(t, due)
	assert.Empty(t, missed)
	assert.Equal(t, 0, src.idQueries)
}

func TestClassifyRejectsBadEvaluationDate(t *testing.T) {
	_, _, err := overdue.ClassifyFollowUps(context.Background(), &fakeSource{}, "15/03/2024", admin, terminal)
	require.Error(t, err)
	assert.NotErrorIs(t, err, overdue.ErrSourceUnavailable)
}

func TestVisiblePredicate(t *testing.T) {
	tests := []struct {
		name  string
		lead  domain.Lead
		actor overdue.Actor
		want  bool
	}{
		{name: "admin sees unassigned", lead: lead("L", domain.StateOpen, "", 0), actor: admin, want: true},
		{name: "admin sees others", lead: lead("L", domain.StateOpen, "u2", 0), actor: admin, want: true},
		{name: "owner sees own", lead: lead("L", domain.StateOpen, "u1", 0), actor: overdue.Actor{ID: "u1"}, want: true},
		{name: "user blind to others", lead: lead("L", domain.StateOpen, "u2", 0), actor: overdue.Actor{ID: "u1"}, want: false},
		{name: "user blind to unassigned", lead: lead("L", domain.StateOpen, "", 0), actor: overdue.Actor{ID: "u1"}, want: false},
		{name: "empty actor sees nothing", lead: lead("L", domain.StateOpen, "", 0), actor: overdue.Actor{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, overdue.Visible(tt.lead, tt.actor))
		})
	}
	assert.Equal(t, "", admin.Scope())
	assert.Equal(t, "u1", overdue.Actor{ID: "u1"}.Scope())
	assert.True(t, overdue.ActorFrom(domain.Actor{ID: "a", Role: domain.RoleAdmin}).Admin)
	assert.False(t, overdue.ActorFrom(domain.Actor{ID: "s", Role: domain.RoleSales}).Admin)
}
