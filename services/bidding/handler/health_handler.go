package handler

import (
	"net/http"

	"live-auction/internal/hub"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

type HubStats interface {
	Stats() hub.Stats
}

type ViewerCounter interface {
	Count() int
}

type HealthHandler struct {
	hub     HubStats
	viewers ViewerCounter
}

func NewHealthHandler(h HubStats, viewers ViewerCounter) *HealthHandler {
	return &HealthHandler{hub: h, viewers: viewers}
}

// HealthHandler handles GET /healthz
func (h *HealthHandler) HealthHandler(c *gin.Context) {
	stats := h.hub.Stats()
	utils.JSONResponse(c, http.StatusOK, helpers.HealthResponse{
		Status:      "ok",
		Topics:      stats.Topics,
		Subscribers: stats.Subscribers,
		Viewers:     h.viewers.Count(),
	})
}
