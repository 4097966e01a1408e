package dto

import "time"

type RegisterRequest struct {
	Hostname    string `json:"hostname" binding:"required,max=255"`
	TailscaleIP string `json:"tailscale_ip" binding:"required"`
	OSType      string `json:"os_type" binding:"required"`
}

type RegisterResponse struct {
	AgentID string `json:"agent_id"`
	// APIKey is empty when the agent was already registered.
	APIKey  string `json:"api_key"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

type AgentResponse struct {
	ID          string     `json:"id"`
	Hostname    string     `json:"hostname"`
	TailscaleIP string     `json:"tailscale_ip"`
	OSType      string     `json:"os_type"`
	Status      string     `json:"status"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    *time.Time `json:"last_seen"`
}

type AgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
	Count  int             `json:"count"`
}
