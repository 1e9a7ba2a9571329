package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Register wires all HTTP routes. Keep this file free of business logic;
// handlers delegate to internal services.
func (h Handlers) Register(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/livekit-status", h.TransportStatus)

	calls := r.Group("/calls")
	{
		calls.POST("", h.CreateCall)
		calls.GET("/list", h.ListCalls)
		calls.GET("/:id", h.RoomStatus)
		calls.DELETE("/:id", h.EndCall)
		calls.POST("/:id/disconnected", h.Disconnected)
		calls.GET("/:id/detail", h.CallDetail)
		calls.GET("/:id/output", h.GetOutput)
		calls.PATCH("/:id/output", h.UpdateOutput)
		calls.DELETE("/:id/record", h.DeleteRecord)
	}
}
