package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"voicecall-platform/internal/callrecords"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/session"
	"voicecall-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions *session.Service
	Records  *callrecords.Service
	LiveKit  config.LiveKitConfig
}

// CreateCall handles POST /calls.
func (h Handlers) CreateCall(c *gin.Context) {
	var req session.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	out, err := h.Sessions.Create(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidRequest):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrNotConfigured):
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "LiveKit is not configured. Please set LIVEKIT_URL, LIVEKIT_API_KEY, and LIVEKIT_API_SECRET.",
			})
		case errors.Is(err, session.ErrCapacity):
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent calls"})
		default:
			logger.FromGin(c).Error("call creation failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to create call",
				"details": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusCreated, out)
}

// RoomStatus handles GET /calls/:id.
func (h Handlers) RoomStatus(c *gin.Context) {
	roomName := c.Param("id")

	out, err := h.Sessions.Status(c.Request.Context(), roomName)
	if err != nil {
		if errors.Is(err, session.ErrNotConfigured) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":    "LiveKit not configured",
				"roomName": roomName,
				"status":   session.StatusNotAvailable,
			})
			return
		}
		logger.FromGin(c).Error("room status lookup failed", "room", roomName, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fetch room info",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, out)
}

// EndCall handles DELETE /calls/:id. Always answers ended for a room that is
// already gone; repeated deletes are safe.
func (h Handlers) EndCall(c *gin.Context) {
	roomName := c.Param("id")

	out, err := h.Sessions.Teardown(c.Request.Context(), roomName)
	if err != nil {
		if errors.Is(err, session.ErrNotConfigured) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":    "LiveKit not configured",
				"roomName": roomName,
				"status":   session.StatusCleanupFailed,
			})
			return
		}
		logger.FromGin(c).Error("call teardown failed", "room", roomName, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":    "Failed to end call",
			"details":  err.Error(),
			"roomName": roomName,
		})
		return
	}
	c.JSON(http.StatusOK, out)
}

// Disconnected handles POST /calls/:id/disconnected. Clients report a
// transport-level disconnect here; the session's watcher then runs the
// idempotent teardown. acknowledged is false when no watcher is listening
// (session already ended, or created before the last restart).
func (h Handlers) Disconnected(c *gin.Context) {
	roomName := c.Param("id")
	ack := h.Sessions.NotifyDisconnected(roomName)
	c.JSON(http.StatusOK, gin.H{
		"roomName":     roomName,
		"acknowledged": ack,
	})
}

// CallDetail handles GET /calls/:id/detail.
func (h Handlers) CallDetail(c *gin.Context) {
	callID := c.Param("id")

	out, found, err := h.Records.Detail(c.Request.Context(), callID)
	if err != nil {
		logger.FromGin(c).Error("call detail lookup failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fetch call details",
			"details": err.Error(),
		})
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call record not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetOutput handles GET /calls/:id/output.
func (h Handlers) GetOutput(c *gin.Context) {
	callID := c.Param("id")

	out, found, err := h.Records.Output(c.Request.Context(), callID)
	if err != nil {
		logger.FromGin(c).Error("call output lookup failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fetch call output",
			"details": err.Error(),
		})
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call record not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// UpdateOutput handles PATCH /calls/:id/output.
func (h Handlers) UpdateOutput(c *gin.Context) {
	callID := c.Param("id")

	var body callrecords.JSONB
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updatedAt, found, err := h.Records.UpdateOutput(c.Request.Context(), callID, body)
	if err != nil {
		logger.FromGin(c).Error("call output update failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to update call output",
			"details": err.Error(),
		})
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"call_id":    callID,
		"updated_at": updatedAt,
	})
}

// ListCalls handles GET /calls/list?page&limit.
func (h Handlers) ListCalls(c *gin.Context) {
	page, pageErr := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, limitErr := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if pageErr != nil || limitErr != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "Invalid pagination parameters. Page must be >= 1, limit must be 1-100",
		})
		return
	}

	out, err := h.Records.ListPage(c.Request.Context(), page, limit)
	if err != nil {
		if errors.Is(err, callrecords.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid pagination parameters. Page must be >= 1, limit must be 1-100",
			})
			return
		}
		logger.FromGin(c).Error("call list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fetch calls list",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeleteRecord handles DELETE /calls/:id/record. Removes only the stored
// record; any live session keeps running.
func (h Handlers) DeleteRecord(c *gin.Context) {
	callID := c.Param("id")

	found, err := h.Records.DeleteRecord(c.Request.Context(), callID)
	if err != nil {
		logger.FromGin(c).Error("call record delete failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to delete call record",
			"details": err.Error(),
		})
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call_id": callID})
}

// TransportStatus handles GET /livekit-status: 200 when fully configured,
// 503 naming the missing settings otherwise.
func (h Handlers) TransportStatus(c *gin.Context) {
	missing := h.LiveKit.MissingVars()
	status := http.StatusOK
	if len(missing) > 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"configured":  len(missing) == 0,
		"missingVars": missing,
		"setupUrl":    config.SetupURL,
	})
}
