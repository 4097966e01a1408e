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
	"github.com/tailmon/tailmon/internal/metrics"
	"github.com/tailmon/tailmon/internal/storage"
)

const recordColumns = `id, agent_id::text, ts, client_ts, bytes_sent, bytes_received, packets_sent, packets_received, upload_mbps, download_mbps`

var connectionColumns = []string{
	"record_id", "position", "peer_address", "peer_hostname", "peer_port", "state", "bytes_sent", "bytes_received",
}

// MetricStore is the PostgreSQL implementation of metrics.Store.
type MetricStore struct {
	pool *pgxpool.Pool
}

func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

var _ metrics.Store = (*MetricStore)(nil)

func (s *MetricStore) Append(ctx context.Context, rec metrics.Record) error {
	return s.AppendSeen(ctx, rec, time.Time{})
}

// AppendSeen runs in one transaction that first locks the agent row, so appends for one
// agent are serialized and the last-seen update commits or rolls back with the record.
func (s *MetricStore) AppendSeen(ctx context.Context, rec metrics.Record, seenAt time.Time) error {
	if _, err := uuid.Parse(rec.AgentID); err != nil {
		return fmt.Errorf("failed to append record: %w", agents.ErrAgentNotFound)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Unavailable("begin append", err)
	}
	defer tx.Rollback(ctx)

	var seen *time.Time
	if !seenAt.IsZero() {
		seen = &seenAt
	}
	tag, err := tx.Exec(ctx, `
		UPDATE agents SET last_seen_at = GREATEST(last_seen_at, $2::timestamptz)
		WHERE id = $1::uuid`, rec.AgentID, seen)
	if err != nil {
		return storage.Unavailable("lock agent", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to append record: %w", agents.ErrAgentNotFound)
	}

	stored, err := s.holds(ctx, tx, rec)
	if err != nil {
		return err
	}
	if !stored {
		if err := s.insert(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.Unavailable("commit append", err)
	}
	return nil
}

func (s *MetricStore) insert(ctx context.Context, tx pgx.Tx, rec metrics.Record) error {
	var recordID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO metric_records (agent_id, ts, client_ts, bytes_sent, bytes_received, packets_sent, packets_received, upload_mbps, download_mbps)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ON CONSTRAINT metric_records_agent_ts_key DO NOTHING
		RETURNING id`,
		rec.AgentID, rec.Timestamp, rec.ObservedAt(), rec.BytesSent, rec.BytesReceived,
		rec.PacketsSent, rec.PacketsReceived, rec.UploadMbps, rec.DownloadMbps,
	).Scan(&recordID)
	if errors.Is(err, pgx.ErrNoRows) {
		return metrics.ErrDuplicateTimestamp
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("failed to append record: %w", agents.ErrAgentNotFound)
		}
		return storage.Unavailable("append record", err)
	}

	if len(rec.Connections) == 0 {
		return nil
	}
	rows := make([][]any, len(rec.Connections))
	for i, c := range rec.Connections {
		rows[i] = []any{recordID, i, c.PeerAddress, c.PeerHostname, c.PeerPort, c.State, c.BytesSent, c.BytesReceived}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"connection_observations"}, connectionColumns, pgx.CopyFromRows(rows)); err != nil {
		return storage.Unavailable("append connections", err)
	}
	return nil
}

// holds reports whether the agent already stores the observation rec carries, at its
// reported time or wherever it was moved to.
func (s *MetricStore) holds(ctx context.Context, tx pgx.Tx, rec metrics.Record) (bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+recordColumns+` FROM metric_records
		WHERE agent_id = $1::uuid AND client_ts = $2`, rec.AgentID, rec.ObservedAt())
	if err != nil {
		return false, storage.Unavailable("load existing records", err)
	}
	existing, ids, err := collectRecords(rows)
	if err != nil {
		return false, storage.Unavailable("load existing records", err)
	}
	if len(existing) == 0 {
		return false, nil
	}
	if err := loadConnections(ctx, tx, existing, ids); err != nil {
		return false, storage.Unavailable("load existing connections", err)
	}
	for _, r := range existing {
		if r.SameObservation(rec) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MetricStore) QueryRange(ctx context.Context, q metrics.RangeQuery) ([]metrics.Record, error) {
	var agentIDs []string
	if len(q.AgentIDs) > 0 {
		agentIDs = q.AgentIDs
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM metric_records
		WHERE ts >= $1 AND ts <= $2
		  AND ($3::text[] IS NULL OR agent_id::text = ANY($3::text[]))
		ORDER BY ts, agent_id`, q.From, q.To, agentIDs)
	if err != nil {
		return nil, storage.Unavailable("query records", err)
	}
	records, ids, err := collectRecords(rows)
	if err != nil {
		return nil, storage.Unavailable("query records", err)
	}

	if q.WithConnections && len(records) > 0 {
		if err := loadConnections(ctx, s.pool, records, ids); err != nil {
			return nil, storage.Unavailable("query connections", err)
		}
	}
	return records, nil
}

func (s *MetricStore) LatestPerAgent(ctx context.Context) (map[string]metrics.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (agent_id) `+recordColumns+` FROM metric_records
		ORDER BY agent_id, ts DESC`)
	if err != nil {
		return nil, storage.Unavailable("latest records", err)
	}
	records, _, err := collectRecords(rows)
	if err != nil {
		return nil, storage.Unavailable("latest records", err)
	}

	latest := make(map[string]metrics.Record, len(records))
	for _, r := range records {
		latest[r.AgentID] = r
	}
	return latest, nil
}

// DeleteOlderThan removes records and, by cascade, their connections in a single statement.
func (s *MetricStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM metric_records WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, storage.Unavailable("delete records", err)
	}
	return tag.RowsAffected(), nil
}

func (s *MetricStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storage.Unavailable("ping", err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func collectRecords(rows pgx.Rows) ([]metrics.Record, []int64, error) {
	defer rows.Close()

	records := make([]metrics.Record, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var (
			id int64
			r  metrics.Record
		)
		err := rows.Scan(&id, &r.AgentID, &r.Timestamp, &r.ClientTimestamp, &r.BytesSent, &r.BytesReceived,
			&r.PacketsSent, &r.PacketsReceived, &r.UploadMbps, &r.DownloadMbps)
		if err != nil {
			return nil, nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		r.ClientTimestamp = r.ClientTimestamp.UTC()
		records = append(records, r)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return records, ids, nil
}

// loadConnections fills records[i].Connections for the record with database id ids[i].
func loadConnections(ctx context.Context, q querier, records []metrics.Record, ids []int64) error {
	index := make(map[int64]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	rows, err := q.Query(ctx, `
		SELECT record_id, peer_address, peer_hostname, peer_port, state, bytes_sent, bytes_received
		FROM connection_observations
		WHERE record_id = ANY($1::bigint[])
		ORDER BY record_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			recordID int64
			c        metrics.Connection
		)
		if err := rows.Scan(&recordID, &c.PeerAddress, &c.PeerHostname, &c.PeerPort, &c.State, &c.BytesSent, &c.BytesReceived); err != nil {
			return err
		}
		i := index[recordID]
		records[i].Connections = append(records[i].Connections, c)
	}
	return rows.Err()
}
