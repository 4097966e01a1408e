package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/api/http/dto"
)

type AgentsHandler struct {
	agentService *agents.Service
}

func NewAgentsHandler(agentService *agents.Service) *AgentsHandler {
	return &AgentsHandler{
		agentService: agentService,
	}
}

// Register creates an agent or returns the existing one for the same hostname and address.
// POST /api/v1/register
func (h *AgentsHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: CodeInvalidRegistration})
		return
	}

	result, err := h.agentService.Register(c.Request.Context(), req.Hostname, req.TailscaleIP, req.OSType)
	if err != nil {
		respondError(c, err)
		return
	}

	if !result.Created {
		c.JSON(http.StatusOK, dto.RegisterResponse{
			AgentID: result.AgentID,
			Created: false,
			Message: "Agent already registered; the previously issued API key remains valid",
		})
		return
	}

	slog.Info("Agent registered via API", "agent_id", result.AgentID, "hostname", req.Hostname)
	c.JSON(http.StatusCreated, dto.RegisterResponse{
		AgentID: result.AgentID,
		APIKey:  result.APIKey,
		Created: true,
		Message: "Agent " + req.Hostname + " registered successfully",
	})
}

// ListAgents returns all agents with their derived status.
// GET /api/v1/agents
func (h *AgentsHandler) ListAgents(c *gin.Context) {
	agentList, err := h.agentService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]dto.AgentResponse, len(agentList))
	for i, a := range agentList {
		responses[i] = dto.AgentResponse{
			ID:          a.ID,
			Hostname:    a.Hostname,
			TailscaleIP: a.TailscaleIP,
			OSType:      a.OSType,
			Status:      string(a.Status),
			FirstSeen:   a.RegisteredAt,
			LastSeen:    a.LastSeenAt,
		}
	}

	c.JSON(http.StatusOK, dto.AgentsResponse{Agents: responses, Count: len(responses)})
}
