package agents

import (
	"context"
	"time"
)

// Store persists agent identity records. Implementations must make Upsert atomic on the
// (hostname, tailscale_ip) pair so concurrent registrations never create duplicates.
type Store interface {
	// Upsert inserts agent unless one with the same (Hostname, TailscaleIP) exists, in which
	// case the existing record's OSType is updated and it is returned with created=false.
	Upsert(ctx context.Context, agent Agent) (Agent, bool, error)
	GetByID(ctx context.Context, id string) (Agent, error)
	GetByKeyID(ctx context.Context, keyID string) (Agent, error)
	ListByHostname(ctx context.Context, hostname string) ([]Agent, error)
	// List returns all agents ordered by registration time, then id.
	List(ctx context.Context) ([]Agent, error)
	// TouchLastSeen moves last_seen forward to at; it never moves it backwards.
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}
