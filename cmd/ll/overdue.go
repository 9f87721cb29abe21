package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/config"
	"leadline/internal/dashboard"
	"leadline/internal/engine"
	"leadline/internal/logging"
	"leadline/internal/notify"
	"leadline/internal/overdue"
	"leadline/internal/server"
)

// parseAsOf accepts RFC3339 or a bare date. A bare date means the last second
// of that day in the organization's zone.
func parseAsOf(raw string, cfg *config.Config) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	d, err := time.ParseInLocation(overdue.DateLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: want RFC3339 or YYYY-MM-DD", raw)
	}
	return d.AddDate(0, 0, 1).Add(-time.Second), nil
}

func overdueCmd() *cobra.Command {
	var asOf string
	var top int
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "Show stale leads, missed and due-today follow-ups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				at, err := parseAsOf(asOf, e.Config)
				if err != nil {
					return err
				}
				if top == 0 {
					top = e.Config.Dashboard.Top
				}
				sum, err := e.Summary(ctx, actorID(), at)
				if err != nil {
					return err
				}
				sum = sum.Top(top)
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				renderSummary(sum)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate as of this instant (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntVar(&top, "top", 0, "rows per section (default: dashboard.top)")
	return cmd
}

func renderSummary(sum overdue.Summary) {
	fmt.Printf("As of %s: %s stale, %s missed, %s due today\n",
		sum.Date,
		countColor(sum.TotalStale, color.FgYellow).Sprint(sum.TotalStale),
		countColor(sum.TotalMissed, color.FgRed).Sprint(sum.TotalMissed),
		countColor(sum.TotalDueToday, color.FgCyan).Sprint(sum.TotalDueToday))

	if len(sum.StaleLeads) > 0 {
		fmt.Println("\nStale leads")
		tw := newTable("Lead", "Name", "State", "Assignee", "Days", "Last activity")
		for _, l := range sum.StaleLeads {
			tw.AppendRow(table.Row{l.ID, l.Name, l.State, stringOrEmpty(l.AssigneeID), l.DaysOverdue, formatTime(l.LastActivityAt)})
		}
		tw.AppendFooter(table.Row{"", "", "", "Total", sum.TotalStale, ""})
		tw.Render()
	}
	if len(sum.Missed) > 0 {
		fmt.Println("\nMissed follow-ups")
		renderEntries(sum.Missed, sum.TotalMissed)
	}
	if len(sum.DueToday) > 0 {
		fmt.Println("\nDue today")
		renderEntries(sum.DueToday, sum.TotalDueToday)
	}
}

func countColor(n int, attr color.Attribute) *color.Color {
	if n == 0 {
		return color.New(color.FgGreen)
	}
	return color.New(attr, color.Bold)
}

func renderEntries(entries []overdue.Entry, total int) {
	tw := newTable("Lead", "Name", "State", "Date", "Time", "Comment")
	for _, en := range entries {
		tw.AppendRow(table.Row{
			en.Lead.ID,
			en.Lead.Name,
			en.Lead.State,
			stringOrEmpty(en.FollowUp.ScheduledDate),
			stringOrEmpty(en.FollowUp.ScheduledTime),
			en.FollowUp.Comment,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", total})
	tw.Render()
}

// activeActors lists ids for the background refresh loop.
func activeActors(e engine.Engine) func(context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		actors, err := e.Repo.ListActors(ctx, true)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(actors))
		for _, a := range actors {
			ids = append(ids, a.ID)
		}
		return ids, nil
	}
}

// newRefresher builds the dashboard refresher. An unreachable Redis falls
// back to the in-memory cache.
func newRefresher(ctx context.Context, e engine.Engine, log logrus.FieldLogger) (*dashboard.Refresher, func()) {
	cfg := e.Config.Dashboard
	cache := dashboard.NewCache(cfg)
	closeCache := func() {}
	if rc, ok := cache.(*dashboard.RedisCache); ok {
		if err := rc.Ping(ctx); err != nil {
			log.WithError(err).WithField("address", cfg.Redis.Address).Warn("redis unavailable, using in-memory dashboard cache")
			_ = rc.Close()
			cache = dashboard.NewMemoryCache()
		} else {
			closeCache = func() { _ = rc.Close() }
		}
	}
	return &dashboard.Refresher{
		Summarizer: e,
		Cache:      cache,
		TTL:        cfg.CacheTTL,
		Interval:   cfg.RefreshInterval,
		Log:        log,
	}, closeCache
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	var top int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-render the overdue summary on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				log := newLogger(e.Config)
				ref, closeCache := newRefresher(ctx, e, log)
				defer closeCache()
				if interval <= 0 {
					interval = e.Config.Dashboard.RefreshInterval
				}
				if interval <= 0 {
					interval = dashboard.DefaultInterval
				}
				if top == 0 {
					top = e.Config.Dashboard.Top
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					sum, err := ref.Refresh(ctx, actorID())
					if err != nil {
						if errors.Is(err, overdue.ErrUnknownActor) || ctx.Err() != nil {
							return err
						}
						log.WithError(err).Warn("overdue refresh failed")
					} else if viper.GetBool("json") {
						_ = printJSON(sum.Top(top))
					} else {
						fmt.Print("\033[H\033[2J")
						renderSummary(sum.Top(top))
					}
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default: dashboard.refresh_interval)")
	cmd.Flags().IntVar(&top, "top", 0, "rows per section (default: dashboard.top)")
	return cmd
}

func notifyCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Write today's overdue digest for every active actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				at, err := parseAsOf(asOf, e.Config)
				if err != nil {
					return err
				}
				log := newLogger(e.Config)
				flush, err := logging.InitSentry(e.Config.Sentry, version)
				if err != nil {
					log.WithError(err).Warn("error reporting disabled")
				}
				defer flush()
				rep, runErr := notify.Notifier{Engine: e, Log: log}.Run(ctx, at)
				if viper.GetBool("json") {
					_ = printJSON(rep)
				} else {
					fmt.Printf("evaluated %d, notified %d, duplicates %d, skipped %d, failed %d\n",
						rep.Evaluated, rep.Notified, rep.Duplicates, rep.Skipped, rep.Failed)
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate as of this instant (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowHeader bool
	var notifyInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				log := newLogger(e.Config)
				flush, err := logging.InitSentry(e.Config.Sentry, version)
				if err != nil {
					log.WithError(err).Warn("error reporting disabled")
				}
				defer flush()

				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("LEADLINE_JWT_SECRET"),
					AllowLegacyActorHeader: allowHeader,
					Log:                    log,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("LEADLINE_JWT_SECRET is required for bearer auth")
				}

				ref, closeCache := newRefresher(ctx, e, log)
				defer closeCache()
				go ref.Run(ctx, activeActors(e))
				if notifyInterval > 0 {
					go runNotifier(ctx, notify.Notifier{Engine: e, Log: log}, notifyInterval, log)
				}

				handler, err := server.New(server.Config{
					Engine:    e,
					BasePath:  basePath,
					Auth:      authCfg,
					Dashboard: ref,
					Log:       log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Leadline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowHeader, "allow-actor-header", false, "accept X-Actor-Id without a token (local use only)")
	cmd.Flags().DurationVar(&notifyInterval, "notify-interval", 0, "write overdue digests on this interval (0 disables)")
	return cmd
}

// runNotifier writes digests until ctx ends. The dedupe key keeps repeated
// runs on one day from notifying twice.
func runNotifier(ctx context.Context, n notify.Notifier, interval time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := n.Run(ctx, time.Time{})
			if err != nil {
				logging.ReportError(log, "notify_run", err, nil)
				continue
			}
			log.WithFields(logrus.Fields{
				"notified":   rep.Notified,
				"duplicates": rep.Duplicates,
				"failed":     rep.Failed,
			}).Info("overdue digests written")
		}
	}
}
