package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/service"
)

// PlaybackHandler serves playback, queue and search endpoints.
type PlaybackHandler struct {
	rooms    *service.RoomService
	sessions *service.SessionService
}

// NewPlaybackHandler creates a PlaybackHandler.
func NewPlaybackHandler(rooms *service.RoomService, sessions *service.SessionService) *PlaybackHandler {
	if rooms == nil {
		panic("RoomService cannot be nil for PlaybackHandler")
	}
	if sessions == nil {
		panic("SessionService cannot be nil for PlaybackHandler")
	}
	return &PlaybackHandler{rooms: rooms, sessions: sessions}
}

// TrackRequest names a track of a provider.
type TrackRequest struct {
	TrackID  string `json:"trackId" binding:"required"`
	Provider string `json:"provider" binding:"required"`
}

// SeekRequest carries exactly one of Seconds or Percentage.
type SeekRequest struct {
	Seconds    *float64 `json:"seconds"`
	Percentage *float64 `json:"percentage"`
}

// GetState returns the authoritative playback state.
func (h *PlaybackHandler) GetState(c *gin.Context) {
	state, err := h.sessions.GetState(c.Request.Context(), c.Param("roomId"))
	h.respond(c, "state", state, err)
}

func (h *PlaybackHandler) Play(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: trackId and provider are required")
		return
	}
	state, err := h.sessions.Play(c.Request.Context(), service.PlayInput{
		RoomID:   c.Param("roomId"),
		TrackID:  req.TrackID,
		Provider: req.Provider,
	})
	h.respond(c, "play", state, err)
}

func (h *PlaybackHandler) Pause(c *gin.Context) {
	state, err := h.sessions.Pause(c.Request.Context(), c.Param("roomId"))
	h.respond(c, "pause", state, err)
}

func (h *PlaybackHandler) Resume(c *gin.Context) {
	state, err := h.sessions.Resume(c.Request.Context(), c.Param("roomId"))
	h.respond(c, "resume", state, err)
}

func (h *PlaybackHandler) Skip(c *gin.Context) {
	state, err := h.sessions.Skip(c.Request.Context(), c.Param("roomId"))
	h.respond(c, "skip", state, err)
}

// Seek moves the position either to an absolute second or to a percentage
// of the track duration.
func (h *PlaybackHandler) Seek(c *gin.Context) {
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Seconds == nil) == (req.Percentage == nil) {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: exactly one of seconds or percentage is required")
		return
	}
	var (
		state domain.PlaybackState
		err   error
	)
	roomID := c.Param("roomId")
	if req.Seconds != nil {
		state, err = h.sessions.Seek(c.Request.Context(), roomID, *req.Seconds)
	} else {
		state, err = h.sessions.SeekByPercentage(c.Request.Context(), roomID, *req.Percentage)
	}
	h.respond(c, "seek", state, err)
}

// Reconnect re-resolves the stream of the current track.
func (h *PlaybackHandler) Reconnect(c *gin.Context) {
	state, err := h.sessions.Reconnect(c.Request.Context(), c.Param("roomId"))
	h.respond(c, "reconnect", state, err)
}

// GetQueue returns the queued tracks in play order.
func (h *PlaybackHandler) GetQueue(c *gin.Context) {
	tracks, err := h.sessions.GetQueue(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"tracks": tracks})
}

// AddToQueue appends a track, recording the caller's display name.
func (h *PlaybackHandler) AddToQueue(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: trackId and provider are required")
		return
	}
	roomID := c.Param("roomId")
	member, err := h.rooms.GetMember(c.Request.Context(), roomID, currentMember(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	state, err := h.sessions.AddToQueue(c.Request.Context(), service.AddToQueueInput{
		RoomID:   roomID,
		TrackID:  req.TrackID,
		Provider: req.Provider,
		AddedBy:  member.DisplayName,
	})
	h.respond(c, "add_to_queue", state, err)
}

// RemoveFromQueue drops the item at the :position path parameter.
func (h *PlaybackHandler) RemoveFromQueue(c *gin.Context) {
	position, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid queue position")
		return
	}
	state, err := h.sessions.RemoveFromQueue(c.Request.Context(), c.Param("roomId"), position)
	h.respond(c, "remove_from_queue", state, err)
}

// ReorderRequest is the body of POST /rooms/:roomId/queue/reorder.
type ReorderRequest struct {
	From *int `json:"from" binding:"required"`
	To   *int `json:"to" binding:"required"`
}

func (h *PlaybackHandler) ReorderQueue(c *gin.Context) {
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: from and to are required")
		return
	}
	state, err := h.sessions.ReorderQueue(c.Request.Context(), c.Param("roomId"), *req.From, *req.To)
	h.respond(c, "reorder_queue", state, err)
}

func (h *PlaybackHandler) ClearQueue(c *gin.Context) {
	state, err := h.sessions.ClearQueue(c.Request.Context(), c.Param("roomId"))
	h.respond(c, "clear_queue", state, err)
}

// ShuffleQueue toggles shuffle mode.
func (h *PlaybackHandler) ShuffleQueue(c *gin.Context) {
	state, err := h.sessions.ShuffleQueue(c.Request.Context(), c.Param("roomId"))
	h.respond(c, "shuffle_queue", state, err)
}

// Search queries every provider. limit is optional.
func (h *PlaybackHandler) Search(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	tracks, err := h.sessions.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		logrus.WithError(err).WithField("query", c.Query("q")).Warn("Handler.Search: Search failed")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"tracks": tracks})
}

func (h *PlaybackHandler) respond(c *gin.Context, operation string, state domain.PlaybackState, err error) {
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id":   c.Param("roomId"),
			"member_id": currentMember(c),
			"operation": operation,
		}).WithError(err).Warn("Handler: Playback operation rejected")
		HandleServiceError(c, err)
		return
	}
	stateResponse(c, http.StatusOK, state)
}
