package handlers

import (
	"io"
	"net/http"
)

const maxWebhookBody = 1 << 20

// Webhook accepts pushed events. The caller always gets 200, whatever the
// payload.
func (a *API) Webhook(w http.ResponseWriter, r *http.Request, webhookID string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.logger.Warn("webhook body unreadable", "err", err)
	} else if err := a.entry.HandleWebhook(webhookID, body); err != nil {
		a.logger.Warn("webhook ignored", "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
