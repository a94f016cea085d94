package http

import (
	"github.com/gin-gonic/gin"

	"listenparty/internal/domain"
	"listenparty/internal/service"
)

// ErrorResponse rejects a request the handler itself found invalid.
func ErrorResponse(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": service.ErrorResponse{Kind: "BadRequest", Message: message}})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

// stateResponse wraps a playback snapshot.
func stateResponse(c *gin.Context, code int, state domain.PlaybackState) {
	c.JSON(code, gin.H{"state": state})
}
