package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tailmon/tailmon/internal/agents"
)

// maxRestamps bounds how often a colliding timestamp is moved forward before giving up.
const maxRestamps = 5

// Registry is the part of the agent registry ingestion depends on. The last-seen update
// of an accepted submission is committed by the Store together with the record.
type Registry interface {
	AuthenticateAgent(ctx context.Context, apiKey string) (agents.Agent, error)
}

type Config struct {
	// MaxClockSkew is how far ahead of the collector a sample timestamp may be.
	MaxClockSkew time.Duration
	// Retention rejects samples that would already be eligible for deletion.
	Retention      time.Duration
	MaxConnections int
}

// Service validates, authenticates and persists metric submissions.
type Service struct {
	registry Registry
	store    Store
	limits   validationLimits
	now      func() time.Time
}

func NewService(registry Registry, store Store, cfg Config) *Service {
	return &Service{
		registry: registry,
		store:    store,
		limits: validationLimits{
			maxClockSkew:   cfg.MaxClockSkew,
			retention:      cfg.Retention,
			maxConnections: cfg.MaxConnections,
		},
		now: time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Authenticate resolves apiKey to its agent without submitting anything.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (agents.Agent, error) {
	return s.registry.AuthenticateAgent(ctx, apiKey)
}

// Submit authenticates apiKey, validates sub and appends it for the authenticated agent.
// The record is always attributed to the key's owner; hostname and address in the payload
// are advisory. A rejected submission has no side effects.
func (s *Service) Submit(ctx context.Context, apiKey string, sub Submission) (Record, error) {
	agent, err := s.registry.AuthenticateAgent(ctx, apiKey)
	if err != nil {
		return Record{}, err
	}

	receivedAt := s.now().UTC()
	rec, err := toRecord(agent.ID, sub, receivedAt, s.limits)
	if err != nil {
		slog.Warn("Rejected metric submission", "agent_id", agent.ID, "error", err)
		return Record{}, err
	}

	if (sub.Hostname != "" && sub.Hostname != agent.Hostname) ||
		(sub.TailscaleIP != "" && sub.TailscaleIP != agent.TailscaleIP) {
		slog.Warn("Submission identity differs from authenticated agent",
			"agent_id", agent.ID,
			"agent_hostname", agent.Hostname,
			"payload_hostname", sub.Hostname,
			"agent_tailscale_ip", agent.TailscaleIP,
			"payload_tailscale_ip", sub.TailscaleIP)
	}

	if err := s.appendWithRestamp(ctx, &rec, receivedAt.Truncate(time.Microsecond)); err != nil {
		return Record{}, err
	}

	slog.Debug("Metric record accepted",
		"agent_id", agent.ID,
		"timestamp", rec.Timestamp,
		"connections", len(rec.Connections))

	return rec, nil
}

// appendWithRestamp stores rec, moving its timestamp to receive time (or just past the
// colliding one) when the agent already owns a different record at that instant. The
// reported time stays in ClientTimestamp so a retry of a moved sample is still a no-op.
func (s *Service) appendWithRestamp(ctx context.Context, rec *Record, seenAt time.Time) error {
	rec.ClientTimestamp = rec.ObservedAt()
	for attempt := 0; ; attempt++ {
		err := s.store.AppendSeen(ctx, *rec, seenAt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateTimestamp) {
			return fmt.Errorf("failed to append metric record: %w", err)
		}
		if attempt >= maxRestamps {
			return fmt.Errorf("failed to append metric record after %d restamps: %w", attempt, err)
		}

		next := s.now().UTC().Truncate(time.Microsecond)
		if !next.After(rec.Timestamp) {
			next = rec.Timestamp.Add(time.Microsecond)
		}
		slog.Debug("Restamping colliding metric record",
			"agent_id", rec.AgentID,
			"from", rec.Timestamp,
			"to", next)
		rec.Timestamp = next
	}
}
