package handler

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/history"
	"github.com/krevetka-D/conecta-realtime/internal/presence"
	"github.com/krevetka-D/conecta-realtime/internal/registry"
	"github.com/krevetka-D/conecta-realtime/internal/store"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
	"github.com/krevetka-D/conecta-realtime/pkg/response"
	"github.com/krevetka-D/conecta-realtime/pkg/storage"
)

const uploadURLTTL = 24 * time.Hour

// HTTPHandler serves the REST surface: room history, the polling fallback
// for clients without a websocket, and attachment uploads.
type HTTPHandler struct {
	history  *history.Service
	presence *presence.Tracker
	registry *registry.Registry
	verifier store.CredentialVerifier
	files    storage.Storage
}

func NewHTTPHandler(
	hist *history.Service,
	pres *presence.Tracker,
	reg *registry.Registry,
	verifier store.CredentialVerifier,
	files storage.Storage,
) *HTTPHandler {
	return &HTTPHandler{
		history:  hist,
		presence: pres,
		registry: reg,
		verifier: verifier,
		files:    files,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api/v1", h.authRequired())
	{
		api.GET("/rooms/:room_id/messages", h.GetMessages)
		api.GET("/rooms/:room_id/messages/since", h.GetMessagesSince)
		api.GET("/presence/changes", h.GetPresenceChanges)
		api.POST("/uploads", h.UploadAttachment)
	}

	// Serves locally stored attachments; S3 deployments hand out presigned
	// URLs instead and never hit this route.
	r.GET("/files/*key", h.authRequired(), h.DownloadAttachment)
}

// authRequired validates the bearer token and stashes the user id.
func (h *HTTPHandler) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		userID, err := h.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			response.Unauthorized(c, "invalid credentials")
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		response.BadRequest(c, "room_id is required")
		return
	}

	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	page, err := h.history.History(c.Request.Context(), roomID, c.Query("cursor"), limit)
	if err != nil {
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			response.BadRequest(c, validation.Error())
			return
		}
		log.Ctx(c.Request.Context()).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to load history")
		response.InternalError(c, "failed to load history")
		return
	}

	response.Success(c, page)
}

// GetMessagesSince is the polling fallback for new messages. since is unix
// milliseconds of the last message the client has seen.
func (h *HTTPHandler) GetMessagesSince(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		response.BadRequest(c, "room_id is required")
		return
	}

	since, ok := parseSince(c)
	if !ok {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	messages, err := h.history.Since(c.Request.Context(), roomID, since, limit)
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to load new messages")
		response.InternalError(c, "failed to load new messages")
		return
	}

	response.Success(c, gin.H{
		"messages":   messages,
		"serverTime": time.Now().UTC().UnixMilli(),
	})
}

// GetPresenceChanges is the polling fallback for presence updates.
func (h *HTTPHandler) GetPresenceChanges(c *gin.Context) {
	since, ok := parseSince(c)
	if !ok {
		return
	}

	response.Success(c, gin.H{
		"changes":    h.presence.ChangedSince(since),
		"serverTime": time.Now().UTC().UnixMilli(),
	})
}

// UploadAttachment stores a multipart file and returns the attachment
// descriptor to embed in a send_message request.
func (h *HTTPHandler) UploadAttachment(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "unreadable file")
		return
	}
	defer f.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("attachments/%s%s", uuid.NewString(), filepath.Ext(fileHeader.Filename))
	ctx := c.Request.Context()
	if err := h.files.Write(ctx, key, f, fileHeader.Size, contentType); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to store attachment")
		response.InternalError(c, "failed to store attachment")
		return
	}

	url, err := h.files.GetURL(ctx, key, uploadURLTTL)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to resolve attachment url")
		response.InternalError(c, "failed to store attachment")
		return
	}

	response.Created(c, domain.Attachment{
		URL:      url,
		Name:     fileHeader.Filename,
		MimeType: contentType,
		Size:     fileHeader.Size,
	})
}

// DownloadAttachment streams a stored attachment.
func (h *HTTPHandler) DownloadAttachment(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		response.BadRequest(c, "key is required")
		return
	}

	ctx := c.Request.Context()
	exists, err := h.files.Exists(ctx, key)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to stat attachment")
		response.InternalError(c, "failed to read attachment")
		return
	}
	if !exists {
		response.NotFound(c, "attachment not found")
		return
	}

	f, err := h.files.Read(ctx, key)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open attachment")
		response.InternalError(c, "failed to read attachment")
		return
	}
	defer f.Close()

	c.Status(200)
	if _, err := io.Copy(c.Writer, f); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("attachment stream interrupted")
	}
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":   "ok",
		"sessions": h.registry.SessionCount(),
	})
}

func parseLimit(c *gin.Context) (int, bool) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		response.BadRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

func parseSince(c *gin.Context) (time.Time, bool) {
	sinceStr := c.Query("since")
	if sinceStr == "" {
		return time.Time{}, true
	}
	millis, err := strconv.ParseInt(sinceStr, 10, 64)
	if err != nil || millis < 0 {
		response.BadRequest(c, "since must be unix milliseconds")
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}
