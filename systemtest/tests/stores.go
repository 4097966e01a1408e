package tests

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/metrics"
	"github.com/tailmon/tailmon/internal/retention"
)

func registerAgent(t *testing.T, env *Env, hostname, address string) agents.RegisterResult {
	t.Helper()
	res, err := env.Registry.Register(context.Background(), hostname, address, "linux")
	require.NoError(t, err)
	return res
}

func TestAgentStore(t *testing.T, env *Env) {
	ctx := context.Background()

	t.Run("concurrent registration creates one agent", func(t *testing.T) {
		const callers = 8
		results := make([]agents.RegisterResult, callers)
		errs := make([]error, callers)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = env.Registry.Register(ctx, "store-race", "100.70.0.1", "linux")
			}(i)
		}
		wg.Wait()

		created := 0
		for i := range results {
			require.NoError(t, errs[i])
			assert.Equal(t, results[0].AgentID, results[i].AgentID)
			if results[i].Created {
				created++
			}
		}
		assert.Equal(t, 1, created)

		found, err := env.AgentStore.ListByHostname(ctx, "store-race")
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})

	t.Run("re-registration keeps the key and updates os type", func(t *testing.T) {
		first := registerAgent(t, env, "store-rereg", "100.70.0.2")
		again, err := env.Registry.Register(ctx, "store-rereg", "100.70.0.2", "darwin")
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, first.AgentID, again.AgentID)

		id, err := env.Registry.Authenticate(ctx, first.APIKey)
		require.NoError(t, err)
		assert.Equal(t, first.AgentID, id)

		agent, err := env.AgentStore.GetByID(ctx, first.AgentID)
		require.NoError(t, err)
		assert.Equal(t, "darwin", agent.OSType)
		assert.NotContains(t, agent.APIKeyHash, first.APIKey)
	})

	t.Run("same hostname on another address is a separate agent", func(t *testing.T) {
		a := registerAgent(t, env, "store-shared", "100.70.0.3")
		b := registerAgent(t, env, "store-shared", "100.70.0.4")
		assert.NotEqual(t, a.AgentID, b.AgentID)

		found, err := env.Registry.FindByHostname(ctx, "store-shared")
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("last seen never moves backwards", func(t *testing.T) {
		res := registerAgent(t, env, "store-touch", "100.70.0.5")
		later := time.Now().UTC().Truncate(time.Microsecond)
		earlier := later.Add(-time.Minute)

		require.NoError(t, env.AgentStore.TouchLastSeen(ctx, res.AgentID, later))
		require.NoError(t, env.AgentStore.TouchLastSeen(ctx, res.AgentID, earlier))

		agent, err := env.AgentStore.GetByID(ctx, res.AgentID)
		require.NoError(t, err)
		require.NotNil(t, agent.LastSeenAt)
		assert.True(t, later.Equal(*agent.LastSeenAt))
	})

	t.Run("unknown ids", func(t *testing.T) {
		_, err := env.AgentStore.GetByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, agents.ErrAgentNotFound)

		_, err = env.AgentStore.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, agents.ErrAgentNotFound)

		err = env.AgentStore.TouchLastSeen(ctx, uuid.NewString(), time.Now())
		assert.ErrorIs(t, err, agents.ErrAgentNotFound)
	})
}

func TestMetricStore(t *testing.T, env *Env) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	a := registerAgent(t, env, "store-metrics-a", "100.71.0.1")
	b := registerAgent(t, env, "store-metrics-b", "100.71.0.2")

	record := func(agentID string, offset time.Duration, sent int64) metrics.Record {
		return metrics.Record{
			AgentID:       agentID,
			Timestamp:     base.Add(offset),
			BytesSent:     sent,
			BytesReceived: sent / 2,
			UploadMbps:    1.5,
			DownloadMbps:  0.5,
			Connections: []metrics.Connection{
				{PeerAddress: "100.71.0.9", PeerPort: 22, State: "ESTABLISHED", BytesSent: 10, BytesReceived: 20},
				{PeerAddress: "100.71.0.8", BytesSent: 1},
			},
		}
	}

	require.NoError(t, env.MetricStore.Append(ctx, record(a.AgentID, 0, 100)))
	require.NoError(t, env.MetricStore.Append(ctx, record(b.AgentID, 0, 200)))
	require.NoError(t, env.MetricStore.Append(ctx, record(a.AgentID, time.Second, 300)))

	t.Run("query range is ordered by timestamp then agent", func(t *testing.T) {
		recs, err := env.MetricStore.QueryRange(ctx, metrics.RangeQuery{
			AgentIDs:        []string{a.AgentID, b.AgentID},
			From:            base,
			To:              base.Add(time.Second),
			WithConnections: true,
		})
		require.NoError(t, err)
		require.Len(t, recs, 3)

		first, second := a.AgentID, b.AgentID
		if second < first {
			first, second = second, first
		}
		assert.Equal(t, first, recs[0].AgentID)
		assert.Equal(t, second, recs[1].AgentID)
		assert.Equal(t, a.AgentID, recs[2].AgentID)
		assert.Equal(t, int64(300), recs[2].BytesSent)
		assert.True(t, base.Add(time.Second).Equal(recs[2].Timestamp))

		require.Len(t, recs[2].Connections, 2)
		assert.Equal(t, "100.71.0.9", recs[2].Connections[0].PeerAddress)
		assert.Equal(t, 22, recs[2].Connections[0].PeerPort)
		assert.Equal(t, "100.71.0.8", recs[2].Connections[1].PeerAddress)
	})

	t.Run("filter and bounds", func(t *testing.T) {
		recs, err := env.MetricStore.QueryRange(ctx, metrics.RangeQuery{
			AgentIDs: []string{a.AgentID},
			From:     base.Add(time.Microsecond),
			To:       base.Add(time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(300), recs[0].BytesSent)
		assert.Empty(t, recs[0].Connections)
	})

	t.Run("identical retry is a no-op", func(t *testing.T) {
		assert.NoError(t, env.MetricStore.Append(ctx, record(a.AgentID, 0, 100)))

		changed := record(a.AgentID, 0, 101)
		assert.ErrorIs(t, env.MetricStore.Append(ctx, changed), metrics.ErrDuplicateTimestamp)

		recs, err := env.MetricStore.QueryRange(ctx, metrics.RangeQuery{
			AgentIDs: []string{a.AgentID}, From: base, To: base,
		})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(100), recs[0].BytesSent)
	})

	t.Run("unknown agent", func(t *testing.T) {
		err := env.MetricStore.Append(ctx, record(uuid.NewString(), 0, 1))
		assert.ErrorIs(t, err, agents.ErrAgentNotFound)
	})

	t.Run("retry of a moved record is a no-op", func(t *testing.T) {
		c := registerAgent(t, env, "store-metrics-c", "100.71.0.3")
		require.NoError(t, env.MetricStore.Append(ctx, record(c.AgentID, 0, 10)))

		moved := record(c.AgentID, time.Minute, 20)
		moved.ClientTimestamp = base
		require.NoError(t, env.MetricStore.Append(ctx, moved))

		require.NoError(t, env.MetricStore.Append(ctx, record(c.AgentID, 0, 20)))

		recs, err := env.MetricStore.QueryRange(ctx, metrics.RangeQuery{
			AgentIDs: []string{c.AgentID}, From: base, To: base.Add(time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.True(t, recs[1].Restamped())
		assert.True(t, base.Equal(recs[1].ObservedAt()))
	})

	t.Run("append seen commits last seen with the record", func(t *testing.T) {
		d := registerAgent(t, env, "store-metrics-d", "100.71.0.4")
		seenAt := base.Add(time.Second)
		require.NoError(t, env.MetricStore.AppendSeen(ctx, record(d.AgentID, 0, 1), seenAt))

		agent, err := env.AgentStore.GetByID(ctx, d.AgentID)
		require.NoError(t, err)
		require.NotNil(t, agent.LastSeenAt)
		assert.True(t, seenAt.Equal(*agent.LastSeenAt))

		err = env.MetricStore.AppendSeen(ctx, record(d.AgentID, 0, 2), seenAt.Add(time.Hour))
		assert.ErrorIs(t, err, metrics.ErrDuplicateTimestamp)

		agent, err = env.AgentStore.GetByID(ctx, d.AgentID)
		require.NoError(t, err)
		assert.True(t, seenAt.Equal(*agent.LastSeenAt))
	})

	t.Run("latest per agent", func(t *testing.T) {
		latest, err := env.MetricStore.LatestPerAgent(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(300), latest[a.AgentID].BytesSent)
		assert.Equal(t, int64(200), latest[b.AgentID].BytesSent)
	})

	t.Run("concurrent appends lose nothing", func(t *testing.T) {
		const writers, perWriter = 4, 25
		ids := make([]string, writers)
		for i := range ids {
			ids[i] = registerAgent(t, env, fmt.Sprintf("store-writer-%d", i), fmt.Sprintf("100.72.0.%d", i+1)).AgentID
		}

		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					errs <- env.MetricStore.Append(ctx, record(id, time.Duration(j)*time.Millisecond, int64(j)))
				}
			}(id)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		recs, err := env.MetricStore.QueryRange(ctx, metrics.RangeQuery{
			AgentIDs: ids, From: base, To: base.Add(time.Second),
		})
		require.NoError(t, err)
		assert.Len(t, recs, writers*perWriter)
		for i := 1; i < len(recs); i++ {
			assert.False(t, recs[i].Timestamp.Before(recs[i-1].Timestamp))
		}
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, env.MetricStore.Ping(ctx))
	})
}

func TestRetention(t *testing.T, env *Env) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	res := registerAgent(t, env, "retention-host", "100.73.0.1")

	old := metrics.Record{
		AgentID:     res.AgentID,
		Timestamp:   now.Add(-31 * 24 * time.Hour),
		BytesSent:   1,
		Connections: []metrics.Connection{{PeerAddress: "100.73.0.2", BytesSent: 1}},
	}
	fresh := metrics.Record{AgentID: res.AgentID, Timestamp: now.Add(-time.Minute), BytesSent: 2}
	require.NoError(t, env.MetricStore.Append(ctx, old))
	require.NoError(t, env.MetricStore.Append(ctx, fresh))

	manager := retention.NewManager(env.MetricStore, 30*24*time.Hour, time.Hour).
		WithClock(func() time.Time { return now })

	deleted, err := manager.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recs, err := env.MetricStore.QueryRange(ctx, metrics.RangeQuery{
		AgentIDs: []string{res.AgentID}, From: now.Add(-40 * 24 * time.Hour), To: now,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].BytesSent)

	var orphans int
	require.NoError(t, env.Pool.QueryRow(ctx,
		`SELECT count(*) FROM connection_observations co
		 LEFT JOIN metric_records mr ON mr.id = co.record_id
		 WHERE mr.id IS NULL`).Scan(&orphans))
	assert.Zero(t, orphans)

	// The agent outlives its records.
	_, err = env.AgentStore.GetByID(ctx, res.AgentID)
	assert.NoError(t, err)

	deleted, err = manager.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
