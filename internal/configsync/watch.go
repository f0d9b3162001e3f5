package configsync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var errAuthRejected = errors.New("websocket auth rejected")

const (
	coreConfigUpdated = "core_config_updated"

	defaultReadTimeout = 120 * time.Second
	minBackoff         = time.Second
	maxBackoff         = 32 * time.Second
)

// Watcher follows core config events over the Home Assistant websocket API.
type Watcher struct {
	baseURL     string
	token       string
	logger      *slog.Logger
	readTimeout time.Duration
}

func NewWatcher(baseURL, token string, logger *slog.Logger) *Watcher {
	return &Watcher{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		token:       token,
		logger:      logger,
		readTimeout: defaultReadTimeout,
	}
}

// Run keeps a session open until ctx ends, reconnecting with backoff.
func (w *Watcher) Run(ctx context.Context, onConfigUpdated func()) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		authenticated, err := w.runSession(ctx, onConfigUpdated)
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("config event watcher disconnected", "err", err)
		}
		backoff = nextBackoff(backoff, authenticated)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// nextBackoff restarts from the minimum after a session that got past auth
// and doubles up to the maximum otherwise.
func nextBackoff(current time.Duration, authenticated bool) time.Duration {
	if authenticated {
		return minBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (w *Watcher) runSession(ctx context.Context, onConfigUpdated func()) (bool, error) {
	wsURL, err := toWebsocketURL(w.baseURL + "/api/websocket")
	if err != nil {
		return false, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false, err
	}
	if !strings.Contains(string(msg), "auth_required") {
		return false, nil
	}

	authPayload := map[string]any{"type": "auth", "access_token": w.token}
	if err := conn.WriteJSON(authPayload); err != nil {
		return false, err
	}

	_, msg, err = conn.ReadMessage()
	if err != nil {
		return false, err
	}
	if !strings.Contains(string(msg), "auth_ok") {
		return false, errAuthRejected
	}

	subscribe := map[string]any{"id": 1, "type": "subscribe_events", "event_type": coreConfigUpdated}
	if err := conn.WriteJSON(subscribe); err != nil {
		return true, err
	}

	// Server pings keep an idle session alive.
	conn.SetPingHandler(func(appData string) error {
		if err := conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
			return err
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
			return true, err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if isConfigUpdatedEvent(msg) {
			onConfigUpdated()
		}
	}
}

func isConfigUpdatedEvent(body []byte) bool {
	var envelope struct {
		Type  string `json:"type"`
		Event struct {
			EventType string `json:"event_type"`
		} `json:"event"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	return envelope.Type == "event" && envelope.Event.EventType == coreConfigUpdated
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
