package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/storage"
)

const agentColumns = `id::text, hostname, tailscale_ip, os_type, api_key_id, api_key_hash, registered_at, last_seen_at`

// AgentStore is the PostgreSQL implementation of agents.Store.
type AgentStore struct {
	pool *pgxpool.Pool
}

func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

var _ agents.Store = (*AgentStore)(nil)

func (s *AgentStore) Upsert(ctx context.Context, agent agents.Agent) (agents.Agent, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agents (id, hostname, tailscale_ip, os_type, api_key_id, api_key_hash, registered_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT agents_hostname_tailscale_ip_key DO NOTHING
		RETURNING `+agentColumns,
		agent.ID, agent.Hostname, agent.TailscaleIP, agent.OSType, agent.APIKeyID, agent.APIKeyHash, agent.RegisteredAt)

	created, err := scanAgent(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return agents.Agent{}, false, fmt.Errorf("failed to insert agent: api key id collision: %w", err)
		}
		return agents.Agent{}, false, storage.Unavailable("insert agent", err)
	}

	row = s.pool.QueryRow(ctx, `
		UPDATE agents SET os_type = $3
		WHERE hostname = $1 AND tailscale_ip = $2
		RETURNING `+agentColumns,
		agent.Hostname, agent.TailscaleIP, agent.OSType)

	existing, err := scanAgent(row)
	if err != nil {
		return agents.Agent{}, false, storage.Unavailable("update agent", err)
	}
	return existing, false, nil
}

func (s *AgentStore) GetByID(ctx context.Context, id string) (agents.Agent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return agents.Agent{}, agents.ErrAgentNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1::uuid`, id)
	return s.getOne(row, "get agent")
}

func (s *AgentStore) GetByKeyID(ctx context.Context, keyID string) (agents.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE api_key_id = $1`, keyID)
	return s.getOne(row, "get agent by key")
}

func (s *AgentStore) ListByHostname(ctx context.Context, hostname string) ([]agents.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE hostname = $1
		ORDER BY registered_at, id`, hostname)
	if err != nil {
		return nil, storage.Unavailable("list agents by hostname", err)
	}
	return collectAgents(rows, "list agents by hostname")
}

func (s *AgentStore) List(ctx context.Context) ([]agents.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY registered_at, id`)
	if err != nil {
		return nil, storage.Unavailable("list agents", err)
	}
	return collectAgents(rows, "list agents")
}

func (s *AgentStore) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return agents.ErrAgentNotFound
	}
	// GREATEST ignores NULL, so the first touch sets the value.
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET last_seen_at = GREATEST(last_seen_at, $2)
		WHERE id = $1::uuid`, id, at)
	if err != nil {
		return storage.Unavailable("touch agent", err)
	}
	if tag.RowsAffected() == 0 {
		return agents.ErrAgentNotFound
	}
	return nil
}

func (s *AgentStore) getOne(row pgx.Row, op string) (agents.Agent, error) {
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return agents.Agent{}, agents.ErrAgentNotFound
		}
		return agents.Agent{}, storage.Unavailable(op, err)
	}
	return agent, nil
}

func scanAgent(row pgx.Row) (agents.Agent, error) {
	var a agents.Agent
	err := row.Scan(&a.ID, &a.Hostname, &a.TailscaleIP, &a.OSType, &a.APIKeyID, &a.APIKeyHash, &a.RegisteredAt, &a.LastSeenAt)
	if err != nil {
		return agents.Agent{}, err
	}
	a.RegisteredAt = a.RegisteredAt.UTC()
	if a.LastSeenAt != nil {
		seen := a.LastSeenAt.UTC()
		a.LastSeenAt = &seen
	}
	return a, nil
}

func collectAgents(rows pgx.Rows, op string) ([]agents.Agent, error) {
	defer rows.Close()

	result := make([]agents.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, storage.Unavailable(op, err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable(op, err)
	}
	return result, nil
}
