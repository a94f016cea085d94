package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/service"
)

var statusByKind = map[domain.Kind]int{
	domain.KindOf(domain.ErrRoomNotFound):        http.StatusNotFound,
	domain.KindOf(domain.ErrTrackNotFound):       http.StatusNotFound,
	domain.KindOf(domain.ErrRoomAccess):          http.StatusForbidden,
	domain.KindOf(domain.ErrRoomCapacity):        http.StatusConflict,
	domain.KindOf(domain.ErrRoomInvite):          http.StatusBadRequest,
	domain.KindOf(domain.ErrQueueFull):           http.StatusConflict,
	domain.KindOf(domain.ErrInvalidPosition):     http.StatusBadRequest,
	domain.KindOf(domain.ErrInvalidSeekPosition): http.StatusBadRequest,
	domain.KindOf(domain.ErrQueueEmpty):          http.StatusConflict,
	domain.KindOf(domain.ErrNoTrackPlaying):      http.StatusConflict,
	domain.KindOf(domain.ErrNoTrackToResume):     http.StatusConflict,
	domain.KindOf(domain.ErrAuthentication):      http.StatusBadGateway,
	domain.KindOf(domain.ErrProvider):            http.StatusBadGateway,
	domain.KindOf(domain.ErrRateLimit):           http.StatusTooManyRequests,
	domain.KindOf(domain.ErrNetwork):             http.StatusServiceUnavailable,
}

// HandleServiceError writes the error envelope for err with the status code
// of its kind.
func HandleServiceError(c *gin.Context, err error) {
	desc := service.Describe(err)
	status, ok := statusByKind[desc.Kind]
	if !ok {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled internal server error")
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, gin.H{"error": desc})
}
