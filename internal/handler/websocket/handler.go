package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	httpHandler "listenparty/internal/handler/http"
	"listenparty/internal/hub"
	"listenparty/internal/middleware"
	"listenparty/internal/service"
)

// WebSocketHandler upgrades member connections and subscribes them to
// their room's broadcasts.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	rooms    *service.RoomService
	sessions *service.SessionService
}

// NewWebSocketHandler creates a WebSocketHandler. Requests without an Origin
// header, and every request when allowedOrigin is empty or "*", are accepted.
func NewWebSocketHandler(h *hub.Hub, rooms *service.RoomService, sessions *service.SessionService, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if rooms == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}
	if sessions == nil {
		panic("SessionService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		hub:      h,
		rooms:    rooms,
		sessions: sessions,
	}
}

// HandleConnection serves GET /ws/rooms/:roomId?token=...
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	roomID := c.Param("roomId")
	memberID := c.GetString(middleware.ContextMemberID)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID})

	if c.GetString(middleware.ContextRoomID) != roomID {
		logCtx.Warn("WS Handler: Token issued for another room")
		c.JSON(http.StatusForbidden, gin.H{"error": "Token does not grant access to this room"})
		return
	}
	// membership is checked before the upgrade so failures are plain HTTP errors
	if _, err := h.rooms.GetMember(c.Request.Context(), roomID, memberID); err != nil {
		logCtx.WithError(err).Warn("WS Handler: Member validation failed")
		httpHandler.HandleServiceError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, roomID, memberID)
	if err := h.sessions.Subscribe(c.Request.Context(), roomID, client); err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to subscribe connection")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, service.Describe(err).Message))
		conn.Close()
		return
	}
	if err := h.rooms.TouchMember(c.Request.Context(), roomID, memberID); err != nil {
		logCtx.WithError(err).Warn("WS Handler: Failed to record member activity")
	}

	client.Run()
	logCtx.WithField("connection_id", client.ID()).Info("WS Handler: Client subscribed")
}
