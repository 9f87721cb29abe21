package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Activity log event types.
const (
	LeadCreated    = "lead.created"
	LeadUpdated    = "lead.updated"
	LeadDeleted    = "lead.deleted"
	FollowUpAdded  = "followup.added"
	PolicyUpdated  = "policy.updated"
	StateCreated   = "state.created"
	ActorCreated   = "actor.created"
	NotifyOverdue  = "notification.overdue"
	APIKeyCreated  = "apikey.created"
	timestampShape = "2006-01-02T15:04:05.000000Z07:00"
)

// Writer appends activity log rows inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(timestampShape), evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
