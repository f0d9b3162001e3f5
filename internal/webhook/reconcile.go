package webhook

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/micro-ha/switchbot-cloud/internal/switchbot"
)

// Configurator is the part of the cloud API that manages webhook URLs.
type Configurator interface {
	GetWebhookConfiguration(ctx context.Context) (switchbot.WebhookConfiguration, error)
	SetupWebhook(ctx context.Context, webhookURL string) error
	DeleteWebhook(ctx context.Context, webhookURL string) error
}

// Result records what Reconcile attempted. It is informational only.
type Result struct {
	URL        string
	Registered []string
	Deleted    string
	Added      bool
	QueryErr   error
	DeleteErr  error
	SetupErr   error
}

// Err joins every error hit during reconciliation.
func (r Result) Err() error {
	return errors.Join(r.QueryErr, r.DeleteErr, r.SetupErr)
}

func (r Result) Log(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"url", r.URL,
		"registered", len(r.Registered),
		"deleted", r.Deleted,
		"added", r.Added,
	}
	if err := r.Err(); err != nil {
		logger.Warn("webhook registration incomplete", append(attrs, "err", err)...)
		return
	}
	logger.Info("webhook registration reconciled", attrs...)
}

// Reconcile makes url the registered webhook. The cloud only keeps one URL,
// so a different existing registration is removed first. A failed query is
// treated as an empty registration.
func Reconcile(ctx context.Context, api Configurator, url string) Result {
	result := Result{URL: url}

	cfg, err := api.GetWebhookConfiguration(ctx)
	if err != nil {
		result.QueryErr = err
	} else {
		result.Registered = cfg.URLs
	}

	if slices.Contains(result.Registered, url) {
		return result
	}

	if len(result.Registered) > 0 {
		stale := result.Registered[0]
		if err := api.DeleteWebhook(ctx, stale); err != nil {
			result.DeleteErr = err
		} else {
			result.Deleted = stale
		}
	}

	if err := api.SetupWebhook(ctx, url); err != nil {
		result.SetupErr = err
		return result
	}
	result.Added = true
	return result
}

// GenerateID returns a new random webhook id.
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// URL builds the public webhook address for id.
func URL(externalURL, id string) string {
	return strings.TrimRight(externalURL, "/") + "/api/webhook/" + id
}
