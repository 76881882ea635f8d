package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single WebSocket write.
const DefaultWriteTimeout = 5 * time.Second

// WebSocketSink forwards notifications to one WebSocket connection as JSON
// text frames. Writes are serialised because gorilla connections support a
// single concurrent writer.
type WebSocketSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWebSocketSink wraps conn. A non-positive writeTimeout uses DefaultWriteTimeout.
func NewWebSocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSink {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WebSocketSink{conn: conn, writeTimeout: writeTimeout}
}

// Handle is a Handler that writes n to the connection. Write failures are
// logged; the connection is cleaned up when the client disconnects.
func (s *WebSocketSink) Handle(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		slog.Error("failed to marshal notification", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		slog.Warn("failed to set websocket write deadline", "error", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("failed to send notification to websocket client",
			"error", err,
			"recipient_id", n.NotifyUserID,
		)
	}
}
