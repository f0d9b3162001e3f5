package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
)

const (
	streamSendBuffer = 64
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type streamEvent struct {
	DeviceID   string         `json:"device_id"`
	DeviceType string         `json:"device_type"`
	Data       model.Snapshot `json:"data"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Stream fans coordinator updates out to websocket clients.
type Stream struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{logger: logger, clients: make(map[*streamClient]struct{})}
}

// Attach forwards every update of c and returns the unsubscribe function.
func (s *Stream) Attach(c *coordinator.Coordinator) func() {
	return c.Subscribe(s.Broadcast)
}

// Broadcast queues one update for every client. Slow clients lose messages.
func (s *Stream) Broadcast(device model.Device, data model.Snapshot) {
	payload, err := json.Marshal(streamEvent{DeviceID: device.ID, DeviceType: device.Type, Data: data})
	if err != nil {
		s.logger.Error("encode stream event failed", "device_id", device.ID, "err", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- payload:
		default:
			s.logger.Debug("stream client lagging, event dropped", "device_id", device.ID)
		}
	}
}

func (s *Stream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	client := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("stream client connected", "clients", s.Clients())

	go s.writePump(client)
	s.readPump(client)
}

func (s *Stream) remove(client *streamClient) {
	s.mu.Lock()
	_, existed := s.clients[client]
	delete(s.clients, client)
	s.mu.Unlock()
	if existed {
		close(client.send)
	}
}

// readPump discards inbound frames and detects disconnects.
func (s *Stream) readPump(client *streamClient) {
	defer func() {
		s.remove(client)
		_ = client.conn.Close()
		s.logger.Debug("stream client disconnected", "clients", s.Clients())
	}()

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) writePump(client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Stream serves the websocket update feed.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "stream_disabled", "Update stream not available")
		return
	}
	a.stream.ServeHTTP(w, r)
}
