package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/events"
	"leadline/internal/logging"
	"leadline/internal/overdue"
	"leadline/internal/repo"
)

// TypeOverdue is the notification type of the daily digest.
const TypeOverdue = "overdue"

// Report counts what one run did.
type Report struct {
	Evaluated  int `json:"evaluated"`
	Notified   int `json:"notified"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Notifier writes at most one overdue digest per actor per day.
type Notifier struct {
	Engine engine.Engine
	Log    logrus.FieldLogger
}

func (n Notifier) log() logrus.FieldLogger {
	if n.Log != nil {
		return n.Log
	}
	return logrus.StandardLogger()
}

// DedupeKey identifies the digest of actorID for date.
func DedupeKey(actorID, date string) string {
	return "overdue:" + actorID + ":" + date
}

// Run evaluates every active actor as of asOf (zero means now). A failure for
// one actor is reported and the run moves on; all failures are returned
// joined.
func (n Notifier) Run(ctx context.Context, asOf time.Time) (Report, error) {
	var rep Report
	if cfg := n.Engine.Config; cfg != nil && !cfg.Notifications.OverdueEnabled {
		n.log().Info("overdue notifications disabled")
		return rep, nil
	}
	actors, err := n.Engine.Repo.ListActors(ctx, true)
	if err != nil {
		return rep, &overdue.SourceError{Op: "list actors", Err: err}
	}
	var errs []error
	for _, a := range actors {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		fields := logrus.Fields{"actor_id": a.ID}
		pref, err := n.Engine.Repo.NotificationPreference(ctx, a.ID)
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("actor %s: %w", a.ID, err))
			logging.ReportError(n.log(), "notify_preference", err, fields)
			continue
		}
		if !pref.OverdueEnabled {
			rep.Skipped++
			continue
		}
		rep.Evaluated++
		sum, err := n.Engine.Summary(ctx, a.ID, asOf)
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("actor %s: %w", a.ID, err))
			logging.ReportError(n.log(), "notify_evaluate", err, fields)
			continue
		}
		if sum.TotalStale == 0 && sum.TotalMissed == 0 {
			rep.Skipped++
			continue
		}
		err = n.write(ctx, a.ID, sum)
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			rep.Duplicates++
		case err != nil:
			rep.Failed++
			errs = append(errs, fmt.Errorf("actor %s: %w", a.ID, err))
			logging.ReportError(n.log(), "notify_write", err, fields)
		default:
			rep.Notified++
			logging.Event(n.log(), "notification_created", map[string]any{
				"actor_id": a.ID,
				"date":     sum.Date,
				"stale":    sum.TotalStale,
				"missed":   sum.TotalMissed,
			})
		}
	}
	return rep, errors.Join(errs...)
}

func (n Notifier) write(ctx context.Context, actorID string, sum overdue.Summary) error {
	note := domain.Notification{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Type:      TypeOverdue,
		Title:     "Overdue follow-ups for " + sum.Date,
		Message:   Message(sum),
		DedupeKey: DedupeKey(actorID, sum.Date),
		CreatedAt: repo.FormatTime(n.Engine.Clock()),
	}
	tx, err := n.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := n.Engine.Repo.InsertNotification(ctx, tx, note); err != nil {
		return err
	}
	if err := n.Engine.Events.Append(ctx, tx, events.NotifyOverdue, "actor", actorID, actorID, events.EventPayload{
		"notification_id": note.ID,
		"date":            sum.Date,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Message renders the digest body, e.g. "2 stale leads, 1 missed follow-up".
func Message(sum overdue.Summary) string {
	var parts []string
	if sum.TotalStale > 0 {
		parts = append(parts, plural(sum.TotalStale, "stale lead"))
	}
	if sum.TotalMissed > 0 {
		parts = append(parts, plural(sum.TotalMissed, "missed follow-up"))
	}
	if sum.TotalDueToday > 0 {
		parts = append(parts, plural(sum.TotalDueToday, "follow-up")+" due today")
	}
	if len(parts) == 0 {
		return "Nothing overdue"
	}
	return strings.Join(parts, ", ")
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
