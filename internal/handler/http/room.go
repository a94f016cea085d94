package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/service"
)

// RoomHandler serves room lifecycle, membership and invites.
type RoomHandler struct {
	rooms    *service.RoomService
	sessions *service.SessionService
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(rooms *service.RoomService, sessions *service.SessionService) *RoomHandler {
	if rooms == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	if sessions == nil {
		panic("SessionService cannot be nil for RoomHandler")
	}
	return &RoomHandler{rooms: rooms, sessions: sessions}
}

// CreateRoomRequest is the body of POST /rooms.
type CreateRoomRequest struct {
	Name       string `json:"name" binding:"required,max=100"`
	HostName   string `json:"hostName" binding:"required,max=50"`
	Visibility string `json:"visibility" binding:"omitempty,oneof=PUBLIC PRIVATE public private"`
	Passcode   string `json:"passcode" binding:"omitempty,max=64"`
	MaxMembers int    `json:"maxMembers" binding:"omitempty,min=1,max=500"`
}

// CreateRoom creates a room and returns the host's membership and token.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	result, err := h.rooms.CreateRoom(c.Request.Context(), service.CreateRoomInput{
		Name:       req.Name,
		HostName:   req.HostName,
		Visibility: domain.ParseVisibility(req.Visibility),
		Passcode:   req.Passcode,
		MaxMembers: req.MaxMembers,
	})
	if err != nil {
		logrus.WithError(err).WithField("room_name", req.Name).Warn("Handler.CreateRoom: Failed to create room")
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{"room_id": result.Room.ID, "member_id": result.Member.ID}).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, result)
}

// ListRooms returns every room with its member count and now-playing state.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"rooms": rooms})
}

// JoinRoomRequest is the body of POST /rooms/:roomId/join.
type JoinRoomRequest struct {
	DisplayName string `json:"displayName" binding:"required,max=50"`
	Passcode    string `json:"passcode"`
	InviteCode  string `json:"inviteCode" binding:"omitempty,len=6"`
}

// JoinRoom adds the caller to a room.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	logCtx := logrus.WithField("room_id", roomID)

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	result, err := h.rooms.JoinRoom(c.Request.Context(), service.JoinRoomInput{
		RoomID:      roomID,
		DisplayName: req.DisplayName,
		Passcode:    req.Passcode,
		InviteCode:  req.InviteCode,
	})
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Failed to join room")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("member_id", result.Member.ID).Info("Handler.JoinRoom: Member joined room")
	SuccessResponse(c, http.StatusOK, result)
}

// GetRoom returns a room and its playback state, if any.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	resp := gin.H{"room": room, "isLocked": room.IsLocked()}
	if state, ok := h.rooms.GetPlaybackState(roomID); ok {
		resp["nowPlaying"] = state
	}
	SuccessResponse(c, http.StatusOK, resp)
}

// LeaveRoom removes the caller from the room.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	roomID, memberID := c.Param("roomId"), currentMember(c)
	if err := h.rooms.LeaveRoom(c.Request.Context(), roomID, memberID); err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID}).Info("Handler.LeaveRoom: Member left room")
	c.Status(http.StatusNoContent)
}

// DeleteRoom tears the room down. Host only.
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID, memberID := c.Param("roomId"), currentMember(c)
	if err := h.sessions.DeleteRoom(c.Request.Context(), roomID, memberID); err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID}).Info("Handler.DeleteRoom: Room deleted")
	c.Status(http.StatusNoContent)
}

// CreateInviteRequest is the body of POST /rooms/:roomId/invites. Zero
// values take the server defaults.
type CreateInviteRequest struct {
	MaxUses    int `json:"maxUses" binding:"omitempty,min=1,max=1000"`
	TTLSeconds int `json:"ttlSeconds" binding:"omitempty,min=60"`
}

// CreateInvite issues an invite code. Host only.
func (h *RoomHandler) CreateInvite(c *gin.Context) {
	roomID := c.Param("roomId")
	var req CreateInviteRequest
	// an empty body is allowed
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Handler.CreateInvite: Invalid input format")
			ErrorResponse(c, http.StatusBadRequest, "Invalid input: "+err.Error())
			return
		}
	}

	invite, err := h.rooms.CreateInvite(c.Request.Context(), service.CreateInviteInput{
		RoomID:      roomID,
		RequestedBy: currentMember(c),
		MaxUses:     req.MaxUses,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, invite)
}

// ListInvites returns the active invites of the room.
func (h *RoomHandler) ListInvites(c *gin.Context) {
	invites, err := h.rooms.GetInvites(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"invites": invites})
}

// ListMembers returns the members of the room.
func (h *RoomHandler) ListMembers(c *gin.Context) {
	members, err := h.rooms.GetRoomMembers(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"members": members})
}
