package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-ha/switchbot-cloud/internal/http/handlers"
)

const requestTimeout = 20 * time.Second

// NewRouter builds the HTTP routing tree for the webhook endpoint, the
// device API and the update stream.
func NewRouter(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON)
	r.Use(StripIngressPrefix)
	r.Use(RequestLogger(api))

	r.Get("/api/stream", api.Stream)

	r.Group(func(timed chi.Router) {
		timed.Use(middleware.Timeout(requestTimeout))

		timed.Get("/healthz", api.Health)
		timed.Route("/api", func(apiRouter chi.Router) {
			apiRouter.Get("/devices", api.ListDevices)
			apiRouter.Get("/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
				api.GetDevice(w, r, chi.URLParam(r, "id"))
			})
			apiRouter.Get("/snapshots", api.ListSnapshots)
			apiRouter.Post("/refresh", api.Refresh)
			apiRouter.Post("/webhook/{webhookID}", func(w http.ResponseWriter, r *http.Request) {
				api.Webhook(w, r, chi.URLParam(r, "webhookID"))
			})
		})
	})
	return r
}

// RunServer starts and gracefully stops HTTP server with context cancellation.
func RunServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
