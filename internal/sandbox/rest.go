package sandbox

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plugterm/internal/api"
	"github.com/vovakirdan/plugterm/internal/proto"
	"github.com/vovakirdan/plugterm/internal/store"
	"github.com/vovakirdan/plugterm/internal/utils"
)

// Envelope error codes. The not-found codes match what the client expects
// from the real service.
const (
	CodeBadRequest     = 1
	CodeUnauthorized   = 2
	CodeInternal       = 3
	CodeUserNotFound   = api.CodeUserNotFound
	CodeGroupNotFound  = api.CodeGroupNotFound
	CodeInviteNotFound = api.CodeInviteNotFound
)

// DefaultChannel is the channel every new group starts with.
const DefaultChannel = "general"

// Envelope wraps every REST response.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   int  `json:"error,omitempty"`
}

func success(data any) Envelope { return Envelope{Success: true, Data: data} }

func failure(code int) Envelope { return Envelope{Error: code} }

// IDRequest is the body of every request addressing an object by id.
type IDRequest struct {
	ID proto.ID `json:"id"`
}

// CreateGroupRequest is the body of groups/create.
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// IDResponse carries the id of a created object.
type IDResponse struct {
	ID proto.ID `json:"id"`
}

// GroupInfoResponse lists the channels of a group.
type GroupInfoResponse struct {
	ID       proto.ID        `json:"id"`
	Name     string          `json:"name"`
	Channels []proto.Channel `json:"channels"`
}

// ProfileResponse is a public user profile.
type ProfileResponse struct {
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
	Flags       int    `json:"flags"`
	AvatarURL   string `json:"avatarURL"`
}

// RESTHandlers serves the /v2 API.
type RESTHandlers struct {
	store store.Store
	hub   *Hub
	log   *zerolog.Logger
}

// NewRESTHandlers creates the REST handlers.
func NewRESTHandlers(st store.Store, hub *Hub, logger *zerolog.Logger) *RESTHandlers {
	return &RESTHandlers{store: st, hub: hub, log: logger}
}

// CreateGroup creates a group owned by the caller.
// POST /v2/groups/create
func (h *RESTHandlers) CreateGroup(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, failure(CodeUnauthorized))
		return
	}
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, failure(CodeBadRequest))
		return
	}

	group, err := h.store.CreateGroup(c.Request.Context(), strings.TrimSpace(req.Name), user.ID, DefaultChannel)
	if err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("failed to create group")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}

	h.log.Info().Int64("group_id", group.ID).Str("owner", user.Username).Msg("group created")
	h.notifyGroupJoined(user.ID, group)
	c.JSON(http.StatusOK, success(IDResponse{ID: proto.NumericID(group.ID)}))
}

// GroupInfo returns the channels of a group the caller is a member of.
// POST /v2/groups/info
func (h *RESTHandlers) GroupInfo(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, failure(CodeUnauthorized))
		return
	}
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failure(CodeBadRequest))
		return
	}
	groupID, err := parseID(req.ID)
	if err != nil {
		c.JSON(http.StatusOK, failure(CodeGroupNotFound))
		return
	}

	ctx := c.Request.Context()
	group, err := h.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, failure(CodeGroupNotFound))
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", groupID).Msg("failed to load group")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}
	member, err := h.store.IsMember(ctx, user.ID, group.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", groupID).Msg("failed to check membership")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}
	if !member {
		// non-members cannot tell a private group from a missing one
		c.JSON(http.StatusOK, failure(CodeGroupNotFound))
		return
	}

	channels, err := h.store.ListChannels(ctx, group.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", groupID).Msg("failed to list channels")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}
	c.JSON(http.StatusOK, success(GroupInfoResponse{
		ID:       proto.NumericID(group.ID),
		Name:     group.Name,
		Channels: toProtoChannels(channels),
	}))
}

// CreateInvite issues an invite code for a group the caller belongs to.
// POST /v2/invites/create
func (h *RESTHandlers) CreateInvite(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, failure(CodeUnauthorized))
		return
	}
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failure(CodeBadRequest))
		return
	}
	groupID, err := parseID(req.ID)
	if err != nil {
		c.JSON(http.StatusOK, failure(CodeGroupNotFound))
		return
	}

	ctx := c.Request.Context()
	member, err := h.store.IsMember(ctx, user.ID, groupID)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", groupID).Msg("failed to check membership")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}
	if !member {
		c.JSON(http.StatusOK, failure(CodeGroupNotFound))
		return
	}

	invite, err := h.store.CreateInvite(ctx, utils.NewID(), groupID)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", groupID).Msg("failed to create invite")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}
	c.JSON(http.StatusOK, success(IDResponse{ID: proto.StringID(invite.Code)}))
}

// UseInvite adds the caller to the group of an invite.
// POST /v2/invites/use
func (h *RESTHandlers) UseInvite(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, failure(CodeUnauthorized))
		return
	}
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID.IsZero() {
		c.JSON(http.StatusOK, failure(CodeInviteNotFound))
		return
	}

	ctx := c.Request.Context()
	invite, err := h.store.GetInvite(ctx, req.ID.String())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, failure(CodeInviteNotFound))
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load invite")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}
	group, err := h.store.GetGroup(ctx, invite.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, failure(CodeGroupNotFound))
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", invite.GroupID).Msg("failed to load group")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}
	if err := h.store.AddMember(ctx, user.ID, group.ID); err != nil {
		h.log.Error().Err(err).Int64("group_id", group.ID).Msg("failed to add member")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}

	h.log.Info().Int64("group_id", group.ID).Str("username", user.Username).Msg("invite used")
	h.notifyGroupJoined(user.ID, group)
	c.JSON(http.StatusOK, success(IDResponse{ID: proto.NumericID(group.ID)}))
}

// UserInfo returns the public profile of a user.
// GET /v2/users/info/:name
func (h *RESTHandlers) UserInfo(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		c.JSON(http.StatusOK, failure(CodeUserNotFound))
		return
	}
	user, err := h.store.GetUserByUsername(c.Request.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, failure(CodeUserNotFound))
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("username", name).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, failure(CodeInternal))
		return
	}
	c.JSON(http.StatusOK, success(ProfileResponse{
		DisplayName: displayName(user),
		Name:        user.Username,
		Flags:       user.Flags,
		AvatarURL:   user.AvatarURL,
	}))
}

func (h *RESTHandlers) notifyGroupJoined(userID int64, group *store.Group) {
	payload, err := proto.Encode(proto.EventGroupJoined, proto.Group{ID: proto.NumericID(group.ID), Name: group.Name})
	if err != nil {
		h.log.Error().Err(err).Msg("encode group joined")
		return
	}
	h.hub.NotifyUser(userID, payload)
}
