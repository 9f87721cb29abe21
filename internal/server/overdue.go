package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/engine/auth"
	"leadline/internal/overdue"
)

func (h *handlers) registerStates(api huma.API) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "list-states",
		Method:      http.MethodGet,
		Path:        "/states",
		Summary:     "List lead states",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*struct {
		Body []domain.LeadState `json:"body"`
	}, error) {
		if _, err := h.resolve(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListStates(ctx, input.ActiveOnly)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.LeadState `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-state",
		Method:        http.MethodPost,
		Path:          "/states",
		Summary:       "Create custom lead state",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateStateRequest `json:"body"`
	}) (*struct {
		Body domain.LeadState `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateState(ctx, engine.StateCreateOptions{
			Name:      strings.TrimSpace(input.Body.Name),
			Label:     input.Body.Label,
			Color:     input.Body.Color,
			Terminal:  input.Body.Terminal,
			Tracked:   input.Body.Tracked,
			SortOrder: input.Body.SortOrder,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		h.dashboard.Invalidate()
		return &struct {
			Body domain.LeadState `json:"body"`
		}{Body: s}, nil
	})
}

func (h *handlers) registerPolicy(api huma.API) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "get-overdue-policy",
		Method:      http.MethodGet,
		Path:        "/overdue/policy",
		Summary:     "Staleness tracking per state",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.PolicyEntry `json:"body"`
	}, error) {
		if _, err := h.resolve(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListPolicy(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.PolicyEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-overdue-policy",
		Method:      http.MethodPut,
		Path:        "/overdue/policy/{state}",
		Summary:     "Track or untrack a state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		State string           `path:"state"`
		Body  SetPolicyRequest `json:"body"`
	}) (*struct {
		Body domain.PolicyEntry `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.SetStateTracking(ctx, actorID, input.State, input.Body.Tracked)
		if err != nil {
			return nil, h.handleError(err)
		}
		h.dashboard.Invalidate()
		return &struct {
			Body domain.PolicyEntry `json:"body"`
		}{Body: entry}, nil
	})
}

func (h *handlers) registerOverdue(api huma.API) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-overdue",
		Method:      http.MethodGet,
		Path:        "/overdue",
		Summary:     "Stale leads, missed and due follow-ups",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		AsOf string `query:"as_of" doc:"RFC3339 instant; defaults to now"`
	}) (*struct {
		Body OverdueResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		asOf, perr := parseAsOf(input.AsOf)
		if perr != nil {
			return nil, perr
		}
		res, err := e.Evaluate(ctx, actorID, asOf)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body OverdueResponse `json:"body"`
		}{Body: overdueResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "overdue-summary",
		Method:      http.MethodGet,
		Path:        "/overdue/summary",
		Summary:     "Grouped overdue summary",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		AsOf  string `query:"as_of" doc:"RFC3339 instant; omit for the cached live view"`
		Limit int    `query:"limit" doc:"Cap each list; totals stay complete"`
	}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		asOf, perr := parseAsOf(input.AsOf)
		if perr != nil {
			return nil, perr
		}
		var sum overdue.Summary
		var err error
		if asOf.IsZero() {
			sum, err = h.dashboard.Summary(ctx, actorID)
		} else {
			sum, err = e.Summary(ctx, actorID, asOf)
		}
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: summaryResponse(sum.Top(input.Limit))}, nil
	})
}

func (h *handlers) registerNotifications(api huma.API) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Own notifications, newest first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		actor, err := h.resolve(ctx)
		if err != nil {
			return nil, err
		}
		items, lerr := e.Repo.ListNotifications(ctx, actor.ID, input.Unread, normalizeLimit(input.Limit))
		if lerr != nil {
			return nil, h.handleError(lerr)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{notification_id}/read",
		Summary:       "Mark a notification read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct{}, error) {
		actor, err := h.resolve(ctx)
		if err != nil {
			return nil, err
		}
		if merr := e.Repo.MarkNotificationRead(ctx, actor.ID, input.NotificationID); merr != nil {
			return nil, h.handleError(merr)
		}
		return &struct{}{}, nil
	})
}

func (h *handlers) registerMe(api huma.API) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ResolveActor(ctx, principal.ActorID); err != nil {
			return nil, h.handleError(err)
		}
		a, err := e.Repo.GetActor(ctx, principal.ActorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     a.ID,
			Name:        a.Name,
			Role:        a.Role,
			Permissions: nonNilSlice(auth.Permissions(a.Role)),
			Source:      principal.Source,
		}}, nil
	})
}

func (h *handlers) registerEvents(api huma.API) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent activity (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"lead,state,actor"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, err := h.resolve(ctx)
		if err != nil {
			return nil, err
		}
		if !actor.Admin {
			return nil, handleError(auth.ForbiddenError{Permission: "events.read"})
		}
		items, lerr := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if lerr != nil {
			return nil, h.handleError(lerr)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing actor",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, err := e.ResolveActor(ctx, actor); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

// resolvedActor is the authenticated caller after the store lookup.
type resolvedActor struct {
	ID    string
	Admin bool
}

func (h *handlers) resolve(ctx context.Context) (resolvedActor, huma.StatusError) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return resolvedActor{}, authErr
	}
	a, err := h.engine.ResolveActor(ctx, actorID)
	if err != nil {
		return resolvedActor{}, h.handleError(err)
	}
	return resolvedActor{ID: a.ID, Admin: a.Admin}, nil
}
