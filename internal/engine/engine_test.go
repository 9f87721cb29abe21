package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadline/internal/app"
	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/engine/auth"
	"leadline/internal/migrate"
	"leadline/internal/overdue"
	"leadline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	// Clock is what Engine.Now returns; tests move it between writes.
	Clock *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := engine.New(conn, cfg)
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()
	if err := app.Bootstrap(ctx, eng.Repo, cfg, "admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func (env testEnv) at(t time.Time) { *env.Clock = t }

func (env testEnv) actor(t *testing.T, id, role string) {
	t.Helper()
	if _, err := env.Engine.CreateActor(env.Ctx, engine.ActorCreateOptions{ID: id, Name: id, Role: role, ActorID: "admin"}); err != nil {
		t.Fatalf("create actor %s: %v", id, err)
	}
}

func (env testEnv) lead(t *testing.T, id, state, assignee string) domain.Lead {
	t.Helper()
	l, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		ID: id, Name: id, Phone: "555-0100", State: state, AssigneeID: assignee, ActorID: "admin",
	})
	if err != nil {
		t.Fatalf("create lead %s: %v", id, err)
	}
	return l
}

func (env testEnv) followUp(t *testing.T, leadID, date string) {
	t.Helper()
	if _, err := env.Engine.AddFollowUp(env.Ctx, engine.FollowUpOptions{
		LeadID: leadID, Comment: "call back", ScheduledDate: date, ActorID: "admin",
	}); err != nil {
		t.Fatalf("add follow-up to %s: %v", leadID, err)
	}
}

func TestFollowUpRefreshesLeadActivity(t *testing.T) {
	env := newTestEnv(t)
	l := env.lead(t, "lead-1", domain.StateOpen, "")
	if !l.LastActivityAt.Equal(*env.Clock) {
		t.Fatalf("last activity %v, want creation time", l.LastActivityAt)
	}
	later := time.Date(2024, 3, 2, 14, 30, 0, 0, time.UTC)
	env.at(later)
	env.followUp(t, l.ID, "2024-03-05")

	got, err := env.Engine.GetLead(env.Ctx, "admin", l.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if !got.LastActivityAt.Equal(later) {
		t.Fatalf("last activity %v, want %v", got.LastActivityAt, later)
	}
	if got.FollowUpCount != 1 {
		t.Fatalf("follow_up_count %d, want 1", got.FollowUpCount)
	}
	fus, err := env.Engine.ListFollowUps(env.Ctx, "admin", l.ID)
	if err != nil || len(fus) != 1 {
		t.Fatalf("list follow-ups: %v %d", err, len(fus))
	}
	if fus[0].ScheduledDate == nil || *fus[0].ScheduledDate != "2024-03-05" {
		t.Fatalf("scheduled date not stored: %+v", fus[0])
	}
}

func TestLastActivityNeverMovesBackwards(t *testing.T) {
	env := newTestEnv(t)
	env.at(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	l := env.lead(t, "lead-1", domain.StateOpen, "")
	env.at(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	notes := "clock skew"
	got, err := env.Engine.UpdateLead(env.Ctx, engine.LeadUpdateOptions{ID: l.ID, ActorID: "admin", Notes: &notes})
	if err != nil {
		t.Fatalf("update lead: %v", err)
	}
	if !got.LastActivityAt.Equal(l.LastActivityAt) {
		t.Fatalf("last activity moved back to %v", got.LastActivityAt)
	}
	if got.Notes != notes {
		t.Fatalf("notes not updated")
	}
}

func TestFollowUpValidation(t *testing.T) {
	env := newTestEnv(t)
	l := env.lead(t, "lead-1", domain.StateOpen, "")
	cases := []engine.FollowUpOptions{
		{LeadID: l.ID, Comment: "", ActorID: "admin"},
		{LeadID: l.ID, Comment: "x", ScheduledDate: "03/05/2024", ActorID: "admin"},
		{LeadID: l.ID, Comment: "x", ScheduledDate: "2024-03-05", ScheduledTime: "25:00", ActorID: "admin"},
		{LeadID: l.ID, Comment: "x", ScheduledTime: "10:00", ActorID: "admin"},
	}
	for i, c := range cases {
		if _, err := env.Engine.AddFollowUp(env.Ctx, c); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if _, err := env.Engine.AddFollowUp(env.Ctx, engine.FollowUpOptions{LeadID: "missing", Comment: "x", ActorID: "admin"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing lead, got %v", err)
	}
}

func TestCreateLeadValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		opts engine.LeadCreateOptions
		want string
	}{
		{engine.LeadCreateOptions{Name: "  ", Phone: "1"}, "name is required"},
		{engine.LeadCreateOptions{Name: "Asha", Phone: ""}, "phone is required"},
		{engine.LeadCreateOptions{Name: "Asha", Phone: "1", Email: "not-an-email"}, `invalid email "not-an-email"`},
		{engine.LeadCreateOptions{Name: strings.Repeat("a", 201), Phone: "1"}, "invalid name: longer than 200 characters"},
	}
	for i, c := range cases {
		c.opts.ActorID = "admin"
		_, err := env.Engine.CreateLead(env.Ctx, c.opts)
		if err == nil || err.Error() != c.want {
			t.Fatalf("case %d: expected %q, got %v", i, c.want, err)
		}
	}
}

func TestEvaluateClassifiesLeads(t *testing.T) {
	env := newTestEnv(t)
	// Stale: open, untouched for three days.
	env.at(time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC))
	env.lead(t, "stale", domain.StateOpen, "")
	// Due today: stale by activity but suppressed by today's follow-up.
	env.at(time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC))
	env.lead(t, "due", domain.StateFollowUp, "")
	env.followUp(t, "due", "2024-03-10")
	// Terminal: its missed follow-up is dropped.
	env.lead(t, "closed", domain.StateClosed, "")
	env.followUp(t, "closed", "2024-03-05")
	// Missed but recently touched, so not stale.
	env.at(time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC))
	env.lead(t, "missed", domain.StateOpen, "")
	env.followUp(t, "missed", "2024-03-09")

	asOf := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	res, err := env.Engine.Evaluate(env.Ctx, "admin", asOf)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Date != "2024-03-10" {
		t.Fatalf("date %s", res.Date)
	}
	if len(res.Stale) != 1 || res.Stale[0].ID != "stale" || res.Stale[0].DaysOverdue != 3 {
		t.Fatalf("unexpected stale: %+v", res.Stale)
	}
	if len(res.DueToday) != 1 || res.DueToday[0].Lead.ID != "due" {
		t.Fatalf("unexpected due today: %+v", res.DueToday)
	}
	if len(res.Missed) != 1 || res.Missed[0].Lead.ID != "missed" {
		t.Fatalf("unexpected missed: %+v", res.Missed)
	}

	sum, err := env.Engine.Summary(env.Ctx, "admin", asOf)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalStale != 1 || sum.StaleByState[domain.StateOpen] != 1 || sum.TotalMissed != 1 || sum.TotalDueToday != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestPolicyChangeAppliesToNextPass(t *testing.T) {
	env := newTestEnv(t)
	env.at(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	env.lead(t, "lead-1", domain.StateOpen, "")
	asOf := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	res, err := env.Engine.Evaluate(env.Ctx, "admin", asOf)
	if err != nil || len(res.Stale) != 1 {
		t.Fatalf("expected one stale lead: %v %+v", err, res.Stale)
	}
	if _, err := env.Engine.SetStateTracking(env.Ctx, "admin", domain.StateOpen, false); err != nil {
		t.Fatalf("untrack open: %v", err)
	}
	res, err = env.Engine.Evaluate(env.Ctx, "admin", asOf)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Stale) != 0 {
		t.Fatalf("untracked state still reported: %+v", res.Stale)
	}
	if _, err := env.Engine.SetStateTracking(env.Ctx, "admin", domain.StateClosed, true); err == nil {
		t.Fatalf("expected terminal state tracking to be rejected")
	}
}

func TestCustomStateTracking(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateState(env.Ctx, engine.StateCreateOptions{Name: "negotiation", Tracked: true, ActorID: "admin"}); err != nil {
		t.Fatalf("create state: %v", err)
	}
	if _, err := env.Engine.CreateState(env.Ctx, engine.StateCreateOptions{Name: "negotiation", ActorID: "admin"}); err == nil {
		t.Fatalf("expected duplicate state error")
	}
	if _, err := env.Engine.CreateState(env.Ctx, engine.StateCreateOptions{Name: "won", Terminal: true, Tracked: true, ActorID: "admin"}); err == nil {
		t.Fatalf("expected terminal+tracked error")
	}
	env.at(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	env.lead(t, "lead-1", "negotiation", "")
	res, err := env.Engine.Evaluate(env.Ctx, "admin", time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Stale) != 1 || res.Stale[0].DaysOverdue != 2 {
		t.Fatalf("custom tracked state not evaluated: %+v", res.Stale)
	}
}

func TestVisibilityForNonAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.actor(t, "u1", domain.RoleSales)
	env.actor(t, "u2", domain.RoleSales)
	env.at(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	env.lead(t, "mine", domain.StateOpen, "u1")
	env.lead(t, "theirs", domain.StateOpen, "u2")
	env.lead(t, "nobody", domain.StateOpen, "")

	leads, err := env.Engine.ListLeads(env.Ctx, "u1", repo.LeadFilters{})
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	if len(leads) != 1 || leads[0].ID != "mine" {
		t.Fatalf("unexpected leads for u1: %+v", leads)
	}
	if _, err := env.Engine.GetLead(env.Ctx, "u1", "theirs"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for foreign lead, got %v", err)
	}
	res, err := env.Engine.Evaluate(env.Ctx, "u1", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Stale) != 1 || res.Stale[0].ID != "mine" {
		t.Fatalf("unexpected stale for u1: %+v", res.Stale)
	}
	res, err = env.Engine.Evaluate(env.Ctx, "admin", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	if err != nil || len(res.Stale) != 3 {
		t.Fatalf("admin should see all stale leads: %v %+v", err, res.Stale)
	}
}

func TestNonAdminCreatesOwnLeads(t *testing.T) {
	env := newTestEnv(t)
	env.actor(t, "u1", domain.RoleUser)
	l, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Acme", Phone: "1", ActorID: "u1"})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if l.AssigneeID == nil || *l.AssigneeID != "u1" {
		t.Fatalf("expected self assignment, got %v", l.AssigneeID)
	}
	_, err = env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Other", Phone: "1", AssigneeID: "admin", ActorID: "u1"})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden assigning to others, got %v", err)
	}
	if err := env.Engine.DeleteLead(env.Ctx, "u1", l.ID); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if _, err := env.Engine.SetStateTracking(env.Ctx, "u1", domain.StateOpen, false); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden policy change, got %v", err)
	}
	if err := env.Engine.DeleteLead(env.Ctx, "admin", l.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestEvaluateUnknownActor(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Evaluate(env.Ctx, "ghost", time.Time{}); !errors.Is(err, overdue.ErrUnknownActor) {
		t.Fatalf("expected unknown actor, got %v", err)
	}
	if _, err := env.Engine.Evaluate(env.Ctx, "", time.Time{}); !errors.Is(err, overdue.ErrUnknownActor) {
		t.Fatalf("expected unknown actor for empty id, got %v", err)
	}
	env.actor(t, "u1", domain.RoleSales)
	if _, err := env.Engine.SetActorActive(env.Ctx, "admin", "u1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.Evaluate(env.Ctx, "u1", time.Time{}); !errors.Is(err, overdue.ErrUnknownActor) {
		t.Fatalf("expected unknown actor for inactive, got %v", err)
	}
}

func TestEvaluateSourceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.DB.Close()
	_, err := env.Engine.Evaluate(env.Ctx, "admin", time.Time{})
	if !errors.Is(err, overdue.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
}

func TestEvaluateUsesOrganizationTimezone(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Organization.Timezone = "Asia/Kolkata"
	env.at(time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC))
	env.lead(t, "lead-1", domain.StateOpen, "")
	env.followUp(t, "lead-1", "2024-03-10")
	// 20:00 UTC on the 9th is already the 10th in Kolkata.
	res, err := env.Engine.Evaluate(env.Ctx, "admin", time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Date != "2024-03-10" || len(res.DueToday) != 1 {
		t.Fatalf("expected due today in org zone: %s %+v", res.Date, res.DueToday)
	}
}
