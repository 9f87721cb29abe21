package domain

import "time"

// Built-in lead states. Administrators may add more through lead_states.
const (
	StateOpen     = "open"
	StateFollowUp = "follow_up"
	StateClosed   = "closed"
	StateJunk     = "junk"
	StateFuture   = "future"
	StateOthers   = "others"
)

// Actor roles. Only RoleAdmin sees every lead.
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RolePreSales = "pre_sales"
	RoleSales    = "sales"
)

type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role" enum:"admin,user,pre_sales,sales"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type Lead struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email,omitempty"`
	Source         string    `json:"source,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	State          string    `json:"state"`
	AssigneeID     *string   `json:"assignee_id,omitempty"`
	FollowUpCount  int       `json:"follow_up_count"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// FollowUp is an append-only note on a lead. ScheduledDate and ScheduledTime
// hold the raw stored text so that malformed values survive to the classifier.
type FollowUp struct {
	ID            string    `json:"id"`
	LeadID        string    `json:"lead_id"`
	Comment       string    `json:"comment"`
	ScheduledDate *string   `json:"scheduled_date,omitempty"`
	ScheduledTime *string   `json:"scheduled_time,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type LeadState struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Color     string `json:"color,omitempty"`
	Terminal  bool   `json:"terminal"`
	System    bool   `json:"system"`
	Active    bool   `json:"active"`
	SortOrder int    `json:"sort_order"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PolicyEntry struct {
	State     string `json:"state"`
	Tracked   bool   `json:"tracked"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"-"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	LastUsedAt string `json:"last_used_at,omitempty"`
}

type Notification struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	DedupeKey string `json:"dedupe_key"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type NotificationPreference struct {
	ActorID        string `json:"actor_id"`
	OverdueEnabled bool   `json:"overdue_enabled"`
}
