package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"listenparty/internal/middleware"
)

// RequireRoomMember rejects requests whose member token was issued for a
// room other than the one in the path. It must run after middleware.Auth.
func RequireRoomMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		tokenRoom := c.GetString(middleware.ContextRoomID)
		if tokenRoom == "" || tokenRoom != roomID {
			logrus.WithFields(logrus.Fields{
				"room_id":       roomID,
				"token_room_id": tokenRoom,
				"member_id":     c.GetString(middleware.ContextMemberID),
			}).Warn("Handler: Token does not grant access to this room")
			ErrorResponse(c, http.StatusForbidden, "Token does not grant access to this room")
			return
		}
		c.Next()
	}
}

// currentMember returns the member id set by middleware.Auth.
func currentMember(c *gin.Context) string {
	return c.GetString(middleware.ContextMemberID)
}
