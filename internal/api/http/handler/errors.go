package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/aggregation"
	"github.com/tailmon/tailmon/internal/api/http/dto"
	"github.com/tailmon/tailmon/internal/metrics"
	"github.com/tailmon/tailmon/internal/storage"
)

const (
	CodeUnauthenticated     = "unauthenticated"
	CodeInvalidRegistration = "invalid_registration"
	CodeUnknownAgent        = "unknown_agent"
	CodeInvalidWindow       = "invalid_window"
	CodeStorageUnavailable  = "storage_unavailable"
	CodeInternal            = "internal_error"
)

// respondError maps domain errors onto status codes. Unauthenticated responses never say
// which agents exist.
func respondError(c *gin.Context, err error) {
	var verr *metrics.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: verr.Message, Code: verr.Code, Field: verr.Field})
	case errors.Is(err, agents.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid API key", Code: CodeUnauthenticated})
	case errors.Is(err, agents.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: CodeInvalidRegistration})
	case errors.Is(err, aggregation.ErrUnknownAgent):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error(), Code: CodeUnknownAgent})
	case errors.Is(err, aggregation.ErrInvalidWindow):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: CodeInvalidWindow})
	case errors.Is(err, storage.ErrUnavailable):
		slog.Error("Storage unavailable", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "storage unavailable", Code: CodeStorageUnavailable})
	default:
		slog.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error", Code: CodeInternal})
	}
}
