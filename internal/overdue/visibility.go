package overdue

import (
	"strings"

	"leadline/internal/domain"
)

// Actor is the resolved identity an evaluation runs for.
type Actor struct {
	ID    string
	Admin bool
}

// ActorFrom builds the visibility identity for a stored actor.
func ActorFrom(a domain.Actor) Actor {
	return Actor{ID: a.ID, Admin: a.IsAdmin()}
}

func (a Actor) validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrUnknownActor
	}
	return nil
}

// Scope is the assignee restriction pushed down to store queries.
// Empty means unrestricted.
func (a Actor) Scope() string {
	if a.Admin {
		return ""
	}
	return a.ID
}

// Visible is the single visibility rule: admins see every lead, everyone
// else sees only leads assigned to them. A follow-up is visible iff its lead is.
func Visible(lead domain.Lead, a Actor) bool {
	if a.Admin {
		return true
	}
	if a.ID == "" || lead.AssigneeID == nil {
		return false
	}
	return *lead.AssigneeID == a.ID
}

// FilterVisible keeps the leads a may see, preserving order.
func FilterVisible(leads []domain.Lead, a Actor) []domain.Lead {
	out := make([]domain.Lead, 0, len(leads))
	for _, l := range leads {
		if Visible(l, a) {
			out = append(out, l)
		}
	}
	return out
}
