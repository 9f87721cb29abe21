package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadline/internal/config"
	"leadline/internal/domain"
	"leadline/internal/engine/auth"
	"leadline/internal/events"
	"leadline/internal/overdue"
	"leadline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Auth   auth.Service
	Events events.Writer
	// Source feeds overdue evaluation; it is the repo unless replaced.
	Source overdue.Source
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Auth:   auth.Service{DB: db},
		Events: events.Writer{},
		Source: r,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Clock reports the engine's current time, honouring Now.
func (e Engine) Clock() time.Time {
	return e.now()
}

// LeadCreateOptions are parameters for creating a lead.
type LeadCreateOptions struct {
	ID         string
	Name       string `validate:"required,max=200"`
	Phone      string `validate:"required,max=40"`
	Email      string `validate:"omitempty,email"`
	Source     string
	Notes      string
	State      string
	AssigneeID string
	ActorID    string
}

// CreateLead inserts a lead. Non-admin creators own the lead they create.
func (e Engine) CreateLead(ctx context.Context, opts LeadCreateOptions) (domain.Lead, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	opts.Phone = strings.TrimSpace(opts.Phone)
	opts.Email = strings.TrimSpace(opts.Email)
	if err := validateOptions(opts); err != nil {
		return domain.Lead{}, err
	}
	if opts.State == "" {
		opts.State = domain.StateOpen
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	canAssign, err := e.Auth.ActorHasPermission(ctx, tx, opts.ActorID, auth.PermLeadAssign)
	if err != nil {
		return domain.Lead{}, err
	}
	if !canAssign {
		if opts.AssigneeID != "" && opts.AssigneeID != opts.ActorID {
			return domain.Lead{}, auth.ForbiddenError{Permission: auth.PermLeadAssign}
		}
		opts.AssigneeID = opts.ActorID
	}
	if err := e.ensureActiveState(ctx, tx, opts.State); err != nil {
		return domain.Lead{}, err
	}
	if err := e.ensureAssignee(ctx, tx, opts.AssigneeID); err != nil {
		return domain.Lead{}, err
	}
	now := e.now().UTC()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	l := domain.Lead{
		ID:             id,
		Name:           opts.Name,
		Phone:          opts.Phone,
		Email:          opts.Email,
		Source:         opts.Source,
		Notes:          opts.Notes,
		State:          opts.State,
		AssigneeID:     optionalString(opts.AssigneeID),
		CreatedBy:      opts.ActorID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := e.Repo.InsertLead(ctx, tx, l); err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.LeadCreated, "lead", l.ID, opts.ActorID, events.EventPayload{
		"state":       l.State,
		"assignee_id": opts.AssigneeID,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// LeadUpdateOptions carries a partial update. Nil fields are left unchanged.
type LeadUpdateOptions struct {
	ID            string
	ActorID       string
	Name          *string
	Phone         *string
	Email         *string
	Source        *string
	Notes         *string
	State         *string
	AssigneeID    *string
	ClearAssignee bool
}

// UpdateLead applies opts and refreshes the lead's activity timestamp.
func (e Engine) UpdateLead(ctx context.Context, opts LeadUpdateOptions) (domain.Lead, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.visibleLeadTx(ctx, tx, opts.ActorID, opts.ID)
	if err != nil {
		return domain.Lead{}, err
	}
	changes := events.EventPayload{}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Lead{}, errors.New("name is required")
		}
		l.Name = strings.TrimSpace(*opts.Name)
		changes["name"] = l.Name
	}
	if opts.Phone != nil {
		if strings.TrimSpace(*opts.Phone) == "" {
			return domain.Lead{}, errors.New("phone is required")
		}
		l.Phone = strings.TrimSpace(*opts.Phone)
		changes["phone"] = l.Phone
	}
	if opts.Email != nil {
		l.Email = strings.TrimSpace(*opts.Email)
		changes["email"] = l.Email
	}
	if opts.Source != nil {
		l.Source = *opts.Source
		changes["source"] = l.Source
	}
	if opts.Notes != nil {
		l.Notes = *opts.Notes
		changes["notes"] = true
	}
	if opts.State != nil && *opts.State != l.State {
		if err := e.ensureActiveState(ctx, tx, *opts.State); err != nil {
			return domain.Lead{}, err
		}
		changes["state"] = map[string]string{"from": l.State, "to": *opts.State}
		l.State = *opts.State
	}
	if opts.ClearAssignee || opts.AssigneeID != nil {
		if err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermLeadAssign); err != nil {
			return domain.Lead{}, err
		}
		if opts.ClearAssignee {
			l.AssigneeID = nil
		} else {
			if err := e.ensureAssignee(ctx, tx, *opts.AssigneeID); err != nil {
				return domain.Lead{}, err
			}
			l.AssigneeID = optionalString(*opts.AssigneeID)
		}
		changes["assignee_id"] = l.AssigneeID
	}
	l.LastActivityAt = e.now().UTC()
	if err := e.Repo.UpdateLead(ctx, tx, l); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Events.Append(ctx, tx, events.LeadUpdated, "lead", l.ID, opts.ActorID, changes); err != nil {
		return domain.Lead{}, err
	}
	updated, err := e.Repo.GetLeadTx(ctx, tx, l.ID)
	if err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return updated, nil
}

func (e Engine) DeleteLead(ctx context.Context, actorID, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actorID, auth.PermLeadDelete); err != nil {
		return err
	}
	if err := e.Repo.DeleteLead(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.LeadDeleted, "lead", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// GetLead returns a lead visible to actorID. Invisible leads are not found.
func (e Engine) GetLead(ctx context.Context, actorID, id string) (domain.Lead, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return domain.Lead{}, err
	}
	l, err := e.Repo.GetLead(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if !overdue.Visible(l, actor) {
		return domain.Lead{}, repo.ErrNotFound
	}
	return l, nil
}

// ListLeads lists the leads actorID may see.
func (e Engine) ListLeads(ctx context.Context, actorID string, f repo.LeadFilters) ([]domain.Lead, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	f.AssigneeID = actor.Scope()
	leads, err := e.Repo.ListLeads(ctx, f)
	if err != nil {
		return nil, err
	}
	return overdue.FilterVisible(leads, actor), nil
}

// FollowUpOptions are parameters for appending a follow-up entry.
type FollowUpOptions struct {
	LeadID        string
	Comment       string
	ScheduledDate string
	ScheduledTime string
	ActorID       string
}

// AddFollowUp appends an entry to a visible lead. Scheduled values are
// validated on write.
func (e Engine) AddFollowUp(ctx context.Context, opts FollowUpOptions) (domain.FollowUp, error) {
	opts.Comment = strings.TrimSpace(opts.Comment)
	if opts.Comment == "" {
		return domain.FollowUp{}, errors.New("comment is required")
	}
	if opts.ScheduledTime != "" && opts.ScheduledDate == "" {
		return domain.FollowUp{}, errors.New("scheduled_date is required with scheduled_time")
	}
	if opts.ScheduledDate != "" {
		if _, err := time.Parse(overdue.DateLayout, opts.ScheduledDate); err != nil {
			return domain.FollowUp{}, fmt.Errorf("invalid scheduled_date %q: want YYYY-MM-DD", opts.ScheduledDate)
		}
	}
	if opts.ScheduledTime != "" && !validClock(opts.ScheduledTime) {
		return domain.FollowUp{}, fmt.Errorf("invalid scheduled_time %q: want HH:MM or HH:MM:SS", opts.ScheduledTime)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FollowUp{}, err
	}
	defer tx.Rollback()
	if _, err := e.visibleLeadTx(ctx, tx, opts.ActorID, opts.LeadID); err != nil {
		return domain.FollowUp{}, err
	}
	fu := domain.FollowUp{
		ID:            uuid.NewString(),
		LeadID:        opts.LeadID,
		Comment:       opts.Comment,
		ScheduledDate: optionalString(opts.ScheduledDate),
		ScheduledTime: optionalString(opts.ScheduledTime),
		CreatedBy:     opts.ActorID,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.Repo.InsertFollowUp(ctx, tx, fu); err != nil {
		return domain.FollowUp{}, fmt.Errorf("insert follow-up: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.FollowUpAdded, "lead", fu.LeadID, opts.ActorID, events.EventPayload{
		"follow_up_id":   fu.ID,
		"scheduled_date": opts.ScheduledDate,
	}); err != nil {
		return domain.FollowUp{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FollowUp{}, err
	}
	return fu, nil
}

func (e Engine) ListFollowUps(ctx context.Context, actorID, leadID string) ([]domain.FollowUp, error) {
	if _, err := e.GetLead(ctx, actorID, leadID); err != nil {
		return nil, err
	}
	return e.Repo.ListFollowUps(ctx, leadID)
}

func (e Engine) visibleLeadTx(ctx context.Context, tx *sql.Tx, actorID, leadID string) (domain.Lead, error) {
	a, err := e.Repo.GetActorTx(ctx, tx, actorID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !a.Active) {
		return domain.Lead{}, overdue.ErrUnknownActor
	}
	if err != nil {
		return domain.Lead{}, err
	}
	l, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if !overdue.Visible(l, overdue.ActorFrom(a)) {
		return domain.Lead{}, repo.ErrNotFound
	}
	return l, nil
}

func (e Engine) ensureActiveState(ctx context.Context, tx *sql.Tx, name string) error {
	s, err := e.Repo.GetStateTx(ctx, tx, name)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !s.Active) {
		return fmt.Errorf("invalid state %q", name)
	}
	return err
}

func (e Engine) ensureAssignee(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return nil
	}
	a, err := e.Repo.GetActorTx(ctx, tx, actorID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !a.Active) {
		return fmt.Errorf("invalid assignee %q", actorID)
	}
	return err
}

func validClock(s string) bool {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
