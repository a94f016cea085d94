package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Context keys set by Auth.
const (
	ContextMemberID = "member_id"
	ContextRoomID   = "room_id"
)

var (
	// ErrMissingAuthHeader reports a request carrying no token at all.
	ErrMissingAuthHeader = errors.New("missing Authorization header")
	errMalformedHeader   = errors.New("malformed Authorization header")
)

// TokenParser validates a member token and returns its member and room ids.
type TokenParser interface {
	Parse(token string) (memberID, roomID string, err error)
}

// Auth returns a gin middleware that validates a member token and stores its
// member and room ids in the context. The token is read from the
// Authorization header or, for websocket upgrades, the token query
// parameter.
func Auth(tokens TokenParser) gin.HandlerFunc {
	if tokens == nil {
		panic("TokenParser cannot be nil for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.WithField("path", c.FullPath()).Warn("Auth middleware: Missing Authorization header")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			} else {
				logrus.Warnf("Auth middleware: Malformed token format: %v", err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			}
			c.Abort()
			return
		}

		memberID, roomID, err := tokens.Parse(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Invalid token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextMemberID, memberID)
		c.Set(ContextRoomID, roomID)
		logrus.WithFields(logrus.Fields{"member_id": memberID, "room_id": roomID}).Debug("Auth middleware: Member authenticated via JWT")
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errMalformedHeader
	}
	return parts[1], nil
}
