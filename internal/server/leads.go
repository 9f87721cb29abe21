package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/repo"
)

type leadPath struct {
	LeadID string `path:"lead_id"`
}

func (h *handlers) registerLeads(api huma.API) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Create lead",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateLeadRequest `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.LeadCreateOptions{
			Name:       input.Body.Name,
			Phone:      input.Body.Phone,
			Email:      input.Body.Email,
			Source:     input.Body.Source,
			Notes:      input.Body.Notes,
			State:      input.Body.State,
			AssigneeID: input.Body.AssigneeID,
			ActorID:    actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		l, err := e.CreateLead(ctx, opts)
		if err != nil {
			return nil, h.handleError(err)
		}
		h.dashboard.Invalidate()
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List visible leads",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		State string `query:"state" doc:"Comma-separated state names"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedLeads `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.LeadFilters{Limit: normalizeLimit(input.Limit)}
		for _, s := range strings.Split(input.State, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.States = append(f.States, s)
			}
		}
		items, err := e.ListLeads(ctx, actorID, f)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body paginatedLeads `json:"body"`
		}{Body: paginatedLeads{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{lead_id}",
		Summary:     "Get lead",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.GetLead(ctx, actorID, input.LeadID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead",
		Method:      http.MethodPatch,
		Path:        "/leads/{lead_id}",
		Summary:     "Update lead",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		LeadID string            `path:"lead_id"`
		Body   UpdateLeadRequest `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.UpdateLead(ctx, engine.LeadUpdateOptions{
			ID:            input.LeadID,
			ActorID:       actorID,
			Name:          input.Body.Name,
			Phone:         input.Body.Phone,
			Email:         input.Body.Email,
			Source:        input.Body.Source,
			Notes:         input.Body.Notes,
			State:         input.Body.State,
			AssigneeID:    input.Body.AssigneeID,
			ClearAssignee: input.Body.ClearAssignee,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		h.dashboard.Invalidate()
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-lead",
		Method:        http.MethodDelete,
		Path:          "/leads/{lead_id}",
		Summary:       "Delete lead",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteLead(ctx, actorID, input.LeadID); err != nil {
			return nil, h.handleError(err)
		}
		h.dashboard.Invalidate()
		return &struct{}{}, nil
	})
}

func (h *handlers) registerFollowUps(api huma.API) {
	e := h.engine
	huma.Register(api, huma.Operation{
		OperationID:   "add-follow-up",
		Method:        http.MethodPost,
		Path:          "/leads/{lead_id}/follow-ups",
		Summary:       "Append follow-up",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		LeadID string                `path:"lead_id"`
		Body   CreateFollowUpRequest `json:"body"`
	}) (*struct {
		Body domain.FollowUp `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fu, err := e.AddFollowUp(ctx, engine.FollowUpOptions{
			LeadID:        input.LeadID,
			Comment:       input.Body.Comment,
			ScheduledDate: input.Body.ScheduledDate,
			ScheduledTime: input.Body.ScheduledTime,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		h.dashboard.Invalidate()
		return &struct {
			Body domain.FollowUp `json:"body"`
		}{Body: fu}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-follow-ups",
		Method:      http.MethodGet,
		Path:        "/leads/{lead_id}/follow-ups",
		Summary:     "List follow-ups of a lead",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body []domain.FollowUp `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListFollowUps(ctx, actorID, input.LeadID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.FollowUp `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}
