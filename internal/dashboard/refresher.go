package dashboard

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"leadline/internal/logging"
	"leadline/internal/overdue"
)

const (
	DefaultTTL         = 15 * time.Second
	DefaultInterval    = 30 * time.Second
	DefaultPassTimeout = 30 * time.Second
)

// Summarizer runs one overdue pass for an actor. engine.Engine satisfies it.
type Summarizer interface {
	Summary(ctx context.Context, actorID string, asOf time.Time) (overdue.Summary, error)
}

// Refresher serves per-actor summaries for dashboards. Concurrent requests for
// one actor share a single pass, and results are cached for TTL. Failed
// passes are returned to every waiter and never cached. PassTimeout bounds one
// shared pass.
type Refresher struct {
	Summarizer  Summarizer
	Cache       Cache
	TTL         time.Duration
	Interval    time.Duration
	PassTimeout time.Duration
	Log         logrus.FieldLogger

	group      singleflight.Group
	generation atomic.Uint64
}

func (r *Refresher) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultTTL
}

func (r *Refresher) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return DefaultInterval
}

func (r *Refresher) passTimeout() time.Duration {
	if r.PassTimeout > 0 {
		return r.PassTimeout
	}
	return DefaultPassTimeout
}

func (r *Refresher) log() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

func (r *Refresher) key(actorID string) string {
	return fmt.Sprintf("overdue:summary:%d:%s", r.generation.Load(), actorID)
}

// Summary returns the cached summary for actorID or computes a fresh one.
// A cache that fails to answer is treated as a miss.
func (r *Refresher) Summary(ctx context.Context, actorID string) (overdue.Summary, error) {
	key := r.key(actorID)
	if r.Cache != nil {
		s, ok, err := r.Cache.Get(ctx, key)
		if err != nil {
			r.log().WithError(err).WithField("actor_id", actorID).Warn("dashboard cache read failed")
		} else if ok {
			return s, nil
		}
	}
	return r.compute(ctx, key, actorID)
}

// Refresh recomputes actorID's summary regardless of the cache.
func (r *Refresher) Refresh(ctx context.Context, actorID string) (overdue.Summary, error) {
	return r.compute(ctx, r.key(actorID), actorID)
}

// Invalidate drops every cached summary. Old entries expire out of the cache.
func (r *Refresher) Invalidate() {
	r.generation.Add(1)
}

func (r *Refresher) compute(ctx context.Context, key, actorID string) (overdue.Summary, error) {
	// The shared pass outlives any single waiter; each caller still stops
	// waiting when its own ctx ends.
	ch := r.group.DoChan(key, func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.passTimeout())
		defer cancel()
		s, err := r.Summarizer.Summary(passCtx, actorID, time.Time{})
		if err != nil {
			return nil, err
		}
		if r.Cache != nil {
			if err := r.Cache.Set(passCtx, key, s, r.ttl()); err != nil {
				r.log().WithError(err).WithField("actor_id", actorID).Warn("dashboard cache write failed")
			}
		}
		return s, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return overdue.Summary{}, res.Err
		}
		return res.Val.(overdue.Summary), nil
	case <-ctx.Done():
		return overdue.Summary{}, ctx.Err()
	}
}

// Run refreshes the summaries of every actor returned by actors on each tick
// until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context, actors func(context.Context) ([]string, error)) {
	log := r.log()
	log.WithField("interval", r.interval().String()).Info("dashboard refresher started")
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.refreshAll(ctx, actors)
		case <-ctx.Done():
			log.Info("dashboard refresher stopped")
			return
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context, actors func(context.Context) ([]string, error)) {
	ids, err := actors(ctx)
	if err != nil {
		logging.ReportError(r.log(), "dashboard_actors", err, nil)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.Refresh(ctx, id); err != nil {
			logging.ReportError(r.log(), "dashboard_refresh", err, map[string]any{"actor_id": id})
		}
	}
}
