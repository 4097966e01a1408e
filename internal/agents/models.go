package agents

import (
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Agent is the identity record of a monitored host. Status is derived from LastSeenAt on
// every read and is never persisted.
type Agent struct {
	ID           string
	Hostname     string
	TailscaleIP  string
	OSType       string
	APIKeyID     string
	APIKeyHash   string
	RegisteredAt time.Time
	LastSeenAt   *time.Time
	Status       Status
}

// StatusAt reports online iff the agent submitted within two sampling intervals of now.
func (a Agent) StatusAt(now time.Time, samplingInterval time.Duration) Status {
	if a.LastSeenAt == nil {
		return StatusOffline
	}
	if now.Sub(*a.LastSeenAt) < 2*samplingInterval {
		return StatusOnline
	}
	return StatusOffline
}

type RegisterResult struct {
	AgentID string
	// APIKey is only set when the agent was created by this call.
	APIKey  string
	Created bool
}
