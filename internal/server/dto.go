package server

import (
	"encoding/json"

	"leadline/internal/domain"
	"leadline/internal/overdue"
)

// Request payloads

type CreateLeadRequest struct {
	ID         *string `json:"id,omitempty"`
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Email      string  `json:"email,omitempty"`
	Source     string  `json:"source,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	State      string  `json:"state,omitempty"`
	AssigneeID string  `json:"assignee_id,omitempty"`
}

type UpdateLeadRequest struct {
	Name          *string `json:"name,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Email         *string `json:"email,omitempty"`
	Source        *string `json:"source,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	State         *string `json:"state,omitempty"`
	AssigneeID    *string `json:"assignee_id,omitempty"`
	ClearAssignee bool    `json:"clear_assignee,omitempty"`
}

type CreateFollowUpRequest struct {
	Comment       string `json:"comment"`
	ScheduledDate string `json:"scheduled_date,omitempty" example:"2024-03-10"`
	ScheduledTime string `json:"scheduled_time,omitempty" example:"14:30"`
}

type CreateStateRequest struct {
	Name      string `json:"name"`
	Label     string `json:"label,omitempty"`
	Color     string `json:"color,omitempty"`
	Terminal  bool   `json:"terminal,omitempty"`
	Tracked   bool   `json:"tracked,omitempty"`
	SortOrder int    `json:"sort_order,omitempty"`
}

type SetPolicyRequest struct {
	Tracked bool `json:"tracked"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedLeads struct {
	Items []domain.Lead `json:"items"`
}

type paginatedEvents struct {
	Items []EventResponse `json:"items"`
}

// OverdueResponse is one evaluation pass.
type OverdueResponse struct {
	AsOf     string              `json:"as_of" format:"date-time"`
	Date     string              `json:"date"`
	Missed   []overdue.Entry     `json:"missed"`
	DueToday []overdue.Entry     `json:"due_today"`
	Stale    []overdue.StaleLead `json:"stale_leads"`
}

// SummaryResponse is the dashboard view of a pass.
type SummaryResponse struct {
	AsOf          string              `json:"as_of" format:"date-time"`
	Date          string              `json:"date"`
	TotalStale    int                 `json:"total_stale"`
	StaleByState  map[string]int      `json:"stale_by_state"`
	StaleLeads    []overdue.StaleLead `json:"stale_leads"`
	TotalDueToday int                 `json:"total_due_today"`
	DueToday      []overdue.Entry     `json:"due_today"`
	TotalMissed   int                 `json:"total_missed"`
	Missed        []overdue.Entry     `json:"missed"`
}

func overdueResponse(r overdue.Result) OverdueResponse {
	return OverdueResponse{
		AsOf:     r.AsOf.UTC().Format(timeLayout),
		Date:     r.Date,
		Missed:   nonNilSlice(r.Missed),
		DueToday: nonNilSlice(r.DueToday),
		Stale:    nonNilSlice(r.Stale),
	}
}

func summaryResponse(s overdue.Summary) SummaryResponse {
	byState := s.StaleByState
	if byState == nil {
		byState = map[string]int{}
	}
	return SummaryResponse{
		AsOf:          s.AsOf.UTC().Format(timeLayout),
		Date:          s.Date,
		TotalStale:    s.TotalStale,
		StaleByState:  byState,
		StaleLeads:    nonNilSlice(s.StaleLeads),
		TotalDueToday: s.TotalDueToday,
		DueToday:      nonNilSlice(s.DueToday),
		TotalMissed:   s.TotalMissed,
		Missed:        nonNilSlice(s.Missed),
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
