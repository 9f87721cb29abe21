package leadlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Leadline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Lead represents the API lead model.
type Lead struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email,omitempty"`
	State          string    `json:"state"`
	AssigneeID     *string   `json:"assignee_id,omitempty"`
	FollowUpCount  int       `json:"follow_up_count"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// FollowUp represents a ledger entry.
type FollowUp struct {
	ID            string    `json:"id"`
	LeadID        string    `json:"lead_id"`
	Comment       string    `json:"comment"`
	ScheduledDate *string   `json:"scheduled_date,omitempty"`
	ScheduledTime *string   `json:"scheduled_time,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Entry pairs a scheduled follow-up with its lead.
type Entry struct {
	FollowUp FollowUp `json:"follow_up"`
	Lead     Lead     `json:"lead"`
}

// StaleLead is a lead without activity for DaysOverdue whole days.
type StaleLead struct {
	Lead
	DaysOverdue int `json:"days_overdue"`
}

// Summary is the dashboard view of an overdue pass.
type Summary struct {
	AsOf          string         `json:"as_of"`
	Date          string         `json:"date"`
	TotalStale    int            `json:"total_stale"`
	StaleByState  map[string]int `json:"stale_by_state"`
	StaleLeads    []StaleLead    `json:"stale_leads"`
	TotalDueToday int            `json:"total_due_today"`
	DueToday      []Entry        `json:"due_today"`
	TotalMissed   int            `json:"total_missed"`
	Missed        []Entry        `json:"missed"`
}

// PolicyEntry says whether a state is tracked for staleness.
type PolicyEntry struct {
	State     string `json:"state"`
	Tracked   bool   `json:"tracked"`
	UpdatedAt string `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateLead creates a lead.
func (c *Client) CreateLead(ctx context.Context, name, phone, state string) (Lead, error) {
	body := map[string]any{
		"name":  name,
		"phone": phone,
	}
	if state != "" {
		body["state"] = state
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, c.path("leads"), body, &resp)
	return resp, err
}

// Leads lists visible leads, optionally filtered by state.
func (c *Client) Leads(ctx context.Context, states ...string) ([]Lead, error) {
	endpoint := c.path("leads")
	if len(states) > 0 {
		endpoint += "?state=" + url.QueryEscape(strings.Join(states, ","))
	}
	var resp struct {
		Items []Lead `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// AddFollowUp appends a follow-up. Empty date and clock are omitted.
func (c *Client) AddFollowUp(ctx context.Context, leadID, comment, date, clock string) (FollowUp, error) {
	body := map[string]any{"comment": comment}
	if date != "" {
		body["scheduled_date"] = date
	}
	if clock != "" {
		body["scheduled_time"] = clock
	}
	var resp FollowUp
	endpoint := c.path(fmt.Sprintf("leads/%s/follow-ups", url.PathEscape(leadID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Summary returns the overdue summary. A zero asOf asks for the cached live
// view; limit <= 0 returns every row.
func (c *Client) Summary(ctx context.Context, asOf time.Time, limit int) (Summary, error) {
	q := url.Values{}
	if !asOf.IsZero() {
		q.Set("as_of", asOf.Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := c.path("overdue/summary")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Summary
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Policy returns the staleness policy.
func (c *Client) Policy(ctx context.Context) ([]PolicyEntry, error) {
	var resp []PolicyEntry
	err := c.do(ctx, http.MethodGet, c.path("overdue/policy"), nil, &resp)
	return resp, err
}

// SetTracked changes whether state is tracked.
func (c *Client) SetTracked(ctx context.Context, state string, tracked bool) (PolicyEntry, error) {
	var resp PolicyEntry
	endpoint := c.path("overdue/policy/" + url.PathEscape(state))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"tracked": tracked}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(p string) string {
	return "v0/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
