package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/onnwee/orbit/internal/dispatch"
	"github.com/onnwee/orbit/internal/middleware"
)

// WebSocket keepalive timings.
const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// NotificationSubscriber registers handlers for a recipient on the dispatch bus.
type NotificationSubscriber interface {
	Subscribe(recipientID string, h dispatch.Handler) dispatch.Subscription
	Unsubscribe(sub dispatch.Subscription) bool
}

// NotificationWebSocketHandlers streams geofence notifications to WebSocket clients.
type NotificationWebSocketHandlers struct {
	bus          NotificationSubscriber
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewNotificationWebSocketHandlers creates a new NotificationWebSocketHandlers instance.
// allowedOrigins follows middleware.OriginChecker.
func NewNotificationWebSocketHandlers(bus NotificationSubscriber, allowedOrigins []string, writeTimeout time.Duration) *NotificationWebSocketHandlers {
	return &NotificationWebSocketHandlers{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.OriginChecker(allowedOrigins),
		},
		writeTimeout: writeTimeout,
	}
}

// SubscribeToNotifications handles WebSocket connections for real-time notifications.
// GET /users/{userID}/notifications/ws
func (h *NotificationWebSocketHandlers) SubscribeToNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation, "user id is required")
		return
	}

	// Upgrade writes its own error response on failure
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(ctx, "failed to upgrade websocket connection",
			"error", err,
			"user_id", userID,
		)
		return
	}

	sink := dispatch.NewWebSocketSink(conn, h.writeTimeout)
	sub := h.bus.Subscribe(userID, sink.Handle)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to notifications",
		"user_id", userID,
		"request_id", requestID,
	)

	done := make(chan struct{})
	defer func() {
		close(done)
		h.bus.Unsubscribe(sub)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"user_id", userID,
			"request_id", requestID,
		)
	}()

	go h.keepalive(conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients do not send messages; reading detects disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"user_id", userID,
				)
			}
			return
		}
	}
}

// keepalive pings the client until done is closed. WriteControl is safe to
// call concurrently with the sink's writes.
func (h *NotificationWebSocketHandlers) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.pingTimeout())); err != nil {
				return
			}
		}
	}
}

func (h *NotificationWebSocketHandlers) pingTimeout() time.Duration {
	if h.writeTimeout > 0 {
		return h.writeTimeout
	}
	return dispatch.DefaultWriteTimeout
}
