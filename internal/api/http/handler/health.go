package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tailmon/tailmon/internal/api/http/dto"
)

const ServiceName = "tailmon-collector"

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	storage Pinger
	version string
}

func NewHealthHandler(storage Pinger, version string) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		version: version,
	}
}

func (h *HealthHandler) Root(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.RootResponse{
		Service: ServiceName,
		Version: h.version,
		Status:  "running",
	})
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	now := time.Now().UTC()
	if err := h.storage.Ping(ctx.Request.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		ctx.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "unhealthy", Timestamp: now})
		return
	}
	ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "healthy", Timestamp: now})
}
