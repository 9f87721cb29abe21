package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"leadline/internal/domain"
	"leadline/internal/engine/auth"
	"leadline/internal/events"
	"leadline/internal/repo"
)

var stateNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,39}$`)

// StateCreateOptions are parameters for a custom lead state.
type StateCreateOptions struct {
	Name      string
	Label     string
	Color     string
	Terminal  bool
	Tracked   bool
	SortOrder int
	ActorID   string
}

// CreateState adds a custom lead state and its policy row.
func (e Engine) CreateState(ctx context.Context, opts StateCreateOptions) (domain.LeadState, error) {
	if !stateNamePattern.MatchString(opts.Name) {
		return domain.LeadState{}, fmt.Errorf("invalid state name %q", opts.Name)
	}
	if opts.Terminal && opts.Tracked {
		return domain.LeadState{}, errors.New("invalid state: terminal states cannot be tracked")
	}
	if opts.Label == "" {
		opts.Label = opts.Name
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LeadState{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermStateManage); err != nil {
		return domain.LeadState{}, err
	}
	if _, err := e.Repo.GetStateTx(ctx, tx, opts.Name); err == nil {
		return domain.LeadState{}, fmt.Errorf("state %s already exists", opts.Name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.LeadState{}, err
	}
	now := e.now()
	s := domain.LeadState{
		Name:      opts.Name,
		Label:     opts.Label,
		Color:     opts.Color,
		Terminal:  opts.Terminal,
		Active:    true,
		SortOrder: opts.SortOrder,
		CreatedAt: repo.FormatTime(now),
	}
	if err := e.Repo.InsertState(ctx, tx, s); err != nil {
		return domain.LeadState{}, fmt.Errorf("insert state: %w", err)
	}
	if err := e.Repo.SetPolicy(ctx, tx, s.Name, opts.Tracked, now); err != nil {
		return domain.LeadState{}, fmt.Errorf("insert policy: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.StateCreated, "state", s.Name, opts.ActorID, events.EventPayload{
		"terminal": s.Terminal,
		"tracked":  opts.Tracked,
	}); err != nil {
		return domain.LeadState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LeadState{}, err
	}
	return s, nil
}

// SetStateTracking changes whether state participates in staleness tracking.
// The next evaluation pass sees the change.
func (e Engine) SetStateTracking(ctx context.Context, actorID, state string, tracked bool) (domain.PolicyEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PolicyEntry{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actorID, auth.PermPolicyManage); err != nil {
		return domain.PolicyEntry{}, err
	}
	s, err := e.Repo.GetStateTx(ctx, tx, state)
	if err != nil {
		return domain.PolicyEntry{}, err
	}
	if s.Terminal && tracked {
		return domain.PolicyEntry{}, fmt.Errorf("invalid policy: terminal state %s cannot be tracked", state)
	}
	now := e.now()
	if err := e.Repo.SetPolicy(ctx, tx, state, tracked, now); err != nil {
		return domain.PolicyEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, events.PolicyUpdated, "state", state, actorID, events.EventPayload{"tracked": tracked}); err != nil {
		return domain.PolicyEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PolicyEntry{}, err
	}
	return domain.PolicyEntry{State: state, Tracked: tracked, UpdatedAt: repo.FormatTime(now)}, nil
}

// ActorCreateOptions are parameters for creating an actor.
type ActorCreateOptions struct {
	ID      string
	Name    string
	Email   string
	Role    string
	ActorID string
}

func (e Engine) CreateActor(ctx context.Context, opts ActorCreateOptions) (domain.Actor, error) {
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return domain.Actor{}, errors.New("id is required")
	}
	if opts.Role == "" {
		opts.Role = domain.RoleUser
	}
	if !auth.ValidRole(opts.Role) {
		return domain.Actor{}, fmt.Errorf("invalid role %q", opts.Role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermActorManage); err != nil {
		return domain.Actor{}, err
	}
	a := domain.Actor{
		ID:        opts.ID,
		Name:      opts.Name,
		Email:     opts.Email,
		Role:      opts.Role,
		Active:    true,
		CreatedAt: repo.FormatTime(e.now()),
	}
	if err := e.Repo.InsertActor(ctx, tx, a); err != nil {
		return domain.Actor{}, fmt.Errorf("insert actor: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ActorCreated, "actor", a.ID, opts.ActorID, events.EventPayload{"role": a.Role}); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// SetActorActive deactivates or reactivates an actor. Deactivated actors can
// no longer be evaluated for.
func (e Engine) SetActorActive(ctx context.Context, actorID, targetID string, active bool) (domain.Actor, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actorID, auth.PermActorManage); err != nil {
		return domain.Actor{}, err
	}
	a, err := e.Repo.GetActorTx(ctx, tx, targetID)
	if err != nil {
		return domain.Actor{}, err
	}
	a.Active = active
	if err := e.Repo.UpdateActor(ctx, tx, a); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// CreateAPIKey mints a key for actorID. The plaintext is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if _, err := e.ResolveActor(ctx, actorID); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "ll_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: repo.FormatTime(e.now()),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, "actor", actorID, actorID, events.EventPayload{"key_id": key.ID}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}
