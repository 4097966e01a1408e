package metrics

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateTimestamp is returned by Store.Append when the agent already has a different
// observation at the same timestamp.
var ErrDuplicateTimestamp = errors.New("duplicate record timestamp")

// LastSeenStore advances an agent's last-seen time. agents.Store satisfies it.
type LastSeenStore interface {
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

// RangeQuery selects records with From <= Timestamp <= To.
type RangeQuery struct {
	// AgentIDs restricts the result; empty means every agent.
	AgentIDs []string
	From     time.Time
	To       time.Time
	// WithConnections loads the per-peer observations of each record.
	WithConnections bool
}

// Store is the append-only time-series store for metric records.
type Store interface {
	// Append durably stores rec. Re-appending an observation already stored for the agent
	// (same ObservedAt and values, wherever it was stored) is a no-op; a different
	// observation at an occupied (agent, timestamp) fails with ErrDuplicateTimestamp and
	// writes nothing.
	Append(ctx context.Context, rec Record) error
	// AppendSeen is Append that also advances the agent's last-seen time to seenAt in the
	// same atomic step. When either part fails nothing is written.
	AppendSeen(ctx context.Context, rec Record, seenAt time.Time) error
	// QueryRange returns records ascending by timestamp, ties broken by agent id.
	QueryRange(ctx context.Context, q RangeQuery) ([]Record, error)
	// LatestPerAgent maps each agent id to its most recent record, without connections.
	LatestPerAgent(ctx context.Context) (map[string]Record, error)
	// DeleteOlderThan removes every record with Timestamp < cutoff in one step.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}
