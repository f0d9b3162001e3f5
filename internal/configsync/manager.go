package configsync

import (
	"context"
	"log/slog"
	"sync"
)

// Manager caches the core URLs and reports when they change.
type Manager struct {
	client *Client
	logger *slog.Logger

	mu     sync.RWMutex
	loaded bool
	urls   URLs
}

func NewManager(client *Client, logger *slog.Logger) *Manager {
	return &Manager{client: client, logger: logger}
}

func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	urls, err := m.client.FetchURLs(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	changed := !m.loaded || urls.Preferred() != m.urls.Preferred()
	m.loaded = true
	m.urls = urls
	if changed && m.logger != nil {
		m.logger.Info("core url updated", "url", urls.Preferred())
	}
	return changed, nil
}

// BaseURL returns the preferred public URL once one has been fetched.
func (m *Manager) BaseURL() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loaded || m.urls.Preferred() == "" {
		return "", false
	}
	return m.urls.Preferred(), true
}
