package engine

import (
	"context"
	"errors"
	"time"

	"leadline/internal/overdue"
	"leadline/internal/repo"
)

// ResolveActor maps an actor id to its visibility identity. Missing and
// inactive actors are unknown; they never fall back to admin scope.
func (e Engine) ResolveActor(ctx context.Context, actorID string) (overdue.Actor, error) {
	if actorID == "" {
		return overdue.Actor{}, overdue.ErrUnknownActor
	}
	a, err := e.Repo.GetActor(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return overdue.Actor{}, overdue.ErrUnknownActor
	}
	if err != nil {
		return overdue.Actor{}, &overdue.SourceError{Op: "resolve actor", Err: err}
	}
	if !a.Active {
		return overdue.Actor{}, overdue.ErrUnknownActor
	}
	return overdue.ActorFrom(a), nil
}

// Evaluate runs one overdue pass for actorID. Policy and terminal states are
// read fresh on every call. A zero asOf means now.
func (e Engine) Evaluate(ctx context.Context, actorID string, asOf time.Time) (overdue.Result, error) {
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		return overdue.Result{}, err
	}
	policy, err := e.Repo.GetPolicy(ctx)
	if err != nil {
		return overdue.Result{}, &overdue.SourceError{Op: "fetch policy", Err: err}
	}
	terminal, err := e.Repo.TerminalStates(ctx)
	if err != nil {
		return overdue.Result{}, &overdue.SourceError{Op: "fetch terminal states", Err: err}
	}
	ev, err := e.evaluator()
	if err != nil {
		return overdue.Result{}, err
	}
	if asOf.IsZero() {
		asOf = e.now()
	}
	return ev.Evaluate(ctx, overdue.Request{AsOf: asOf, Actor: actor, Policy: policy, Terminal: terminal})
}

// Summary evaluates and aggregates in one call.
func (e Engine) Summary(ctx context.Context, actorID string, asOf time.Time) (overdue.Summary, error) {
	res, err := e.Evaluate(ctx, actorID, asOf)
	if err != nil {
		return overdue.Summary{}, err
	}
	return overdue.Summarize(res), nil
}

func (e Engine) evaluator() (overdue.Evaluator, error) {
	src := e.Source
	if src == nil {
		src = e.Repo
	}
	loc := time.UTC
	if e.Config != nil {
		l, err := e.Config.Location()
		if err != nil {
			return overdue.Evaluator{}, err
		}
		loc = l
	}
	return overdue.Evaluator{Source: src, Location: loc}, nil
}
