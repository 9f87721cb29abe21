package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"leadline/internal/config"
)

// New builds a logger from the logging section. Unknown levels fall back to
// info so a typo never silences errors.
func New(cfg config.Logging, out io.Writer) *logrus.Logger {
	log := logrus.New()
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// InitSentry enables error reporting when a DSN is configured. The returned
// flush func is safe to call either way.
func InitSentry(cfg config.Sentry, release string) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     release,
	}); err != nil {
		return func() {}, fmt.Errorf("sentry init: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// ReportError logs err with its context and forwards it to Sentry.
// Without an initialised client the capture is a no-op.
func ReportError(log logrus.FieldLogger, kind string, err error, fields map[string]any) {
	if err == nil {
		return
	}
	entry := log.WithFields(logrus.Fields{
		"error_type": kind,
		"error":      err.Error(),
	})
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Error("operation failed")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", kind)
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Event logs a domain event at info level and leaves a Sentry breadcrumb, so
// a later error report shows what led up to it.
func Event(log logrus.FieldLogger, kind string, data map[string]any) {
	entry := log.WithField("event_type", kind)
	for k, v := range data {
		entry = entry.WithField(k, v)
	}
	entry.Info("event")

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  kind,
		Data:      data,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	})
}
