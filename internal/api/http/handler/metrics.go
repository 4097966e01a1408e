package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tailmon/tailmon/internal/api/http/dto"
	"github.com/tailmon/tailmon/internal/api/http/middleware"
	"github.com/tailmon/tailmon/internal/metrics"
)

type MetricsHandler struct {
	ingest *metrics.Service
}

func NewMetricsHandler(ingest *metrics.Service) *MetricsHandler {
	return &MetricsHandler{
		ingest: ingest,
	}
}

// Submit stores one sample for the agent owning the X-API-Key.
// POST /api/v1/metrics
func (h *MetricsHandler) Submit(c *gin.Context) {
	apiKey := c.GetHeader(middleware.APIKeyHeader)
	if apiKey == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "Missing API key", Code: CodeUnauthenticated})
		return
	}

	var (
		req dto.MetricSubmission
		sub metrics.Submission
		err error
	)
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		err = &metrics.ValidationError{Code: metrics.CodeInvalidJSON, Message: bindErr.Error()}
	} else {
		sub, err = req.ToSubmission()
	}
	if err != nil {
		// Unknown keys get a 401, never payload diagnostics.
		if _, authErr := h.ingest.Authenticate(c.Request.Context(), apiKey); authErr != nil {
			respondError(c, authErr)
			return
		}
		respondError(c, err)
		return
	}

	rec, err := h.ingest.Submit(c.Request.Context(), apiKey, sub)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Set(middleware.AgentIDKey, rec.AgentID)
	c.JSON(http.StatusOK, dto.SubmitResponse{
		Success:   true,
		Message:   "Metrics received",
		Timestamp: rec.Timestamp,
	})
}
