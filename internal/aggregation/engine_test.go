package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/metrics"
)

type testEnv struct {
	registry *agents.Service
	store    *metrics.MemoryStore
	ingest   *metrics.Service
	engine   *Engine
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	agentStore := agents.NewMemoryStore()
	env := &testEnv{
		store: metrics.NewMemoryStore().WithLastSeen(agentStore),
		now:   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	env.registry = agents.NewService(agentStore, 25*time.Second).
		WithClock(clock).
		WithIterations(1000)
	env.ingest = metrics.NewService(env.registry, env.store, metrics.Config{
		MaxClockSkew:   5 * time.Minute,
		Retention:      30 * 24 * time.Hour,
		MaxConnections: 64,
	}).WithClock(clock)
	env.engine = NewEngine(env.registry, env.store, Config{
		TopConnectionsLimit:  3,
		TopConnectionsWindow: time.Hour,
	}).WithClock(clock)
	return env
}

func (e *testEnv) register(t *testing.T, hostname, address string) agents.RegisterResult {
	t.Helper()
	// Registration order decides list order.
	e.now = e.now.Add(time.Millisecond)
	res, err := e.registry.Register(context.Background(), hostname, address, "linux")
	require.NoError(t, err)
	return res
}

// appendAt stores rec directly and marks the agent as seen at the record time.
func (e *testEnv) appendAt(t *testing.T, rec metrics.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.Append(ctx, rec))
	require.NoError(t, e.registry.Touch(ctx, rec.AgentID, rec.Timestamp))
}

func TestDashboard_Scenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.register(t, "h1", "100.1.1.1")
	_, err := env.ingest.Submit(ctx, a.APIKey, metrics.Submission{
		BytesSent:     1000000,
		BytesReceived: 2000,
		UploadMbps:    0.01,
		DownloadMbps:  0.0,
	})
	require.NoError(t, err)

	summary, err := env.engine.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalHosts)
	assert.Equal(t, 1, summary.OnlineHosts)
	assert.Equal(t, 0, summary.OfflineHosts)
	assert.InDelta(t, 0.001002, summary.TotalTrafficGB, 1e-12)
	assert.InDelta(t, 0.01, summary.AvgBandwidthMbps, 1e-12)

	_, err = env.ingest.Submit(ctx, "tsm_0000000000000000_bogus", metrics.Submission{BytesSent: 5e9})
	assert.ErrorIs(t, err, agents.ErrUnauthenticated)

	after, err := env.engine.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, summary.TotalHosts, after.TotalHosts)
	assert.Equal(t, summary.TotalTrafficGB, after.TotalTrafficGB)
}

func TestDashboard_Empty(t *testing.T) {
	env := newTestEnv(t)

	summary, err := env.engine.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalHosts)
	assert.Zero(t, summary.TotalTrafficGB)
	assert.Zero(t, summary.AvgBandwidthMbps)
	assert.Equal(t, env.now, summary.LastUpdated)
}

func TestDashboard_TotalTrafficUsesLatestCumulativeCounters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hosts := []struct {
		name    string
		address string
		samples []int64
	}{
		{"alpha", "100.64.0.1", []int64{100, 5000, 12000}},
		{"beta", "100.64.0.2", []int64{7_000_000_000}},
		{"gamma", "100.64.0.3", []int64{900, 30}},
	}
	for _, h := range hosts {
		id := env.register(t, h.name, h.address).AgentID
		for i, v := range h.samples {
			env.appendAt(t, metrics.Record{
				AgentID:       id,
				Timestamp:     env.now.Add(time.Duration(i-len(h.samples)) * time.Minute),
				BytesSent:     v,
				BytesReceived: v / 2,
			})
		}
	}

	latest, err := env.store.LatestPerAgent(ctx)
	require.NoError(t, err)
	var expected int64
	for _, r := range latest {
		expected += r.BytesSent + r.BytesReceived
	}

	summary, err := env.engine.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(expected)/1e9, summary.TotalTrafficGB)
	assert.Equal(t, 3, summary.TotalHosts)
}

func TestDashboard_AverageBandwidthCountsOnlineAgentsOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	online := env.register(t, "online", "100.64.0.1").AgentID
	offline := env.register(t, "offline", "100.64.0.2").AgentID
	env.register(t, "silent", "100.64.0.3")

	env.appendAt(t, metrics.Record{AgentID: online, Timestamp: env.now.Add(-10 * time.Second), UploadMbps: 3, DownloadMbps: 1})
	env.appendAt(t, metrics.Record{AgentID: offline, Timestamp: env.now.Add(-51 * time.Second), UploadMbps: 100, DownloadMbps: 100})

	summary, err := env.engine.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalHosts)
	assert.Equal(t, 1, summary.OnlineHosts)
	assert.Equal(t, 2, summary.OfflineHosts)
	assert.Equal(t, 4.0, summary.AvgBandwidthMbps)
}

func TestTrafficSummary_HostsAndTopConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.register(t, "alpha", "100.64.0.1").AgentID
	b := env.register(t, "beta", "100.64.0.2").AgentID
	env.register(t, "never", "100.64.0.9")

	env.appendAt(t, metrics.Record{
		AgentID:   a,
		Timestamp: env.now.Add(-2 * time.Hour),
		BytesSent: 10,
		Connections: []metrics.Connection{
			{PeerAddress: "100.64.0.77", BytesSent: 1_000_000_000},
		},
	})
	env.appendAt(t, metrics.Record{
		AgentID:   a,
		Timestamp: env.now.Add(-30 * time.Minute),
		BytesSent: 20,
		Connections: []metrics.Connection{
			{PeerAddress: "100.64.0.2", BytesSent: 300, BytesReceived: 100},
			{PeerAddress: "100.64.0.50", PeerHostname: "printer", BytesSent: 50},
		},
	})
	env.appendAt(t, metrics.Record{
		AgentID:       a,
		Timestamp:     env.now.Add(-10 * time.Second),
		BytesSent:     30,
		BytesReceived: 5,
		UploadMbps:    1.5,
		Connections: []metrics.Connection{
			{PeerAddress: "100.64.0.2", BytesSent: 200},
		},
	})
	env.appendAt(t, metrics.Record{
		AgentID:   b,
		Timestamp: env.now.Add(-20 * time.Second),
		BytesSent: 99,
		Connections: []metrics.Connection{
			{PeerAddress: "100.64.0.1", BytesReceived: 500},
			{PeerAddress: "100.64.0.40", BytesReceived: 50},
		},
	})

	summary, err := env.engine.TrafficSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Summary.TotalHosts)
	assert.Equal(t, env.now.Add(-time.Hour), summary.WindowStart)
	require.Len(t, summary.Hosts, 3)
	assert.Equal(t, "alpha", summary.Hosts[0].Hostname)
	assert.Equal(t, int64(30), summary.Hosts[0].BytesSent)
	assert.Equal(t, 1.5, summary.Hosts[0].UploadMbps)
	assert.Equal(t, agents.StatusOnline, summary.Hosts[0].Status)
	assert.Nil(t, summary.Hosts[2].LatestSample)
	assert.Equal(t, agents.StatusOffline, summary.Hosts[2].Status)

	// The 2h old observation is outside the window; limit is 3.
	require.Len(t, summary.TopConnections, 3)

	first := summary.TopConnections[0]
	assert.Equal(t, a, first.SourceAgentID)
	assert.Equal(t, "100.64.0.2", first.PeerAddress)
	assert.Equal(t, "beta", first.PeerHostname)
	assert.Equal(t, int64(500), first.BytesSent)
	assert.Equal(t, int64(100), first.BytesReceived)

	second := summary.TopConnections[1]
	assert.Equal(t, b, second.SourceAgentID)
	assert.Equal(t, "alpha", second.PeerHostname)
	assert.Equal(t, int64(500), second.TotalBytes())

	// 50 bytes each: ordered by peer address.
	third := summary.TopConnections[2]
	assert.Equal(t, "100.64.0.40", third.PeerAddress)
	assert.Empty(t, third.PeerHostname)
}

func TestTrafficSummary_ZeroByteConnectionsAreRanked(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alpha", "100.64.0.1").AgentID
	env.appendAt(t, metrics.Record{
		AgentID:   a,
		Timestamp: env.now.Add(-time.Minute),
		Connections: []metrics.Connection{
			{PeerAddress: "100.64.0.9"},
			{PeerAddress: "100.64.0.3"},
		},
	})

	summary, err := env.engine.TrafficSummary(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.TopConnections, 2)
	assert.Equal(t, "100.64.0.3", summary.TopConnections[0].PeerAddress)
	assert.Equal(t, "100.64.0.9", summary.TopConnections[1].PeerAddress)
}

func TestHostTraffic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.register(t, "shared", "100.64.0.1").AgentID
	env.register(t, "shared", "100.64.0.2")
	env.appendAt(t, metrics.Record{AgentID: first, Timestamp: env.now.Add(-time.Minute), BytesSent: 2_500_000_000, BytesReceived: 500_000_000})

	hosts, err := env.engine.HostTraffic(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, first, hosts[0].AgentID)
	assert.Equal(t, 2.5, hosts[0].SentGB())
	assert.Equal(t, 0.5, hosts[0].ReceivedGB())
	assert.Zero(t, hosts[1].BytesSent)

	_, err = env.engine.HostTraffic(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestHistory_WindowCompletenessAndOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.register(t, "alpha", "100.64.0.1").AgentID
	b := env.register(t, "beta", "100.64.0.2").AgentID

	ts := []time.Duration{-3 * time.Hour, -time.Hour, -30 * time.Minute, -time.Minute}
	for i, d := range ts {
		env.appendAt(t, metrics.Record{AgentID: a, Timestamp: env.now.Add(d), BytesSent: int64(i * 100)})
	}
	env.appendAt(t, metrics.Record{AgentID: b, Timestamp: env.now.Add(-30 * time.Minute), BytesSent: 7})

	history, err := env.engine.History(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, env.now, history.End)
	assert.Equal(t, env.now.Add(-time.Hour), history.Start)
	assert.Equal(t, 25, history.IntervalSeconds)

	require.Len(t, history.Points, 4)
	assert.Equal(t, env.now.Add(-time.Hour), history.Points[0].Timestamp)
	assert.Equal(t, env.now.Add(-30*time.Minute), history.Points[1].Timestamp)
	assert.Equal(t, env.now.Add(-30*time.Minute), history.Points[2].Timestamp)
	assert.Equal(t, env.now.Add(-time.Minute), history.Points[3].Timestamp)
	for i := 1; i < len(history.Points); i++ {
		assert.False(t, history.Points[i].Timestamp.Before(history.Points[i-1].Timestamp))
	}

	filtered, err := env.engine.History(ctx, 1, "alpha")
	require.NoError(t, err)
	require.Len(t, filtered.Points, 3)
	for _, p := range filtered.Points {
		assert.Equal(t, a, p.AgentID)
		assert.Equal(t, "alpha", p.Hostname)
	}
}

func TestHistory_DeltasHandleRestart(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alpha", "100.64.0.1").AgentID

	counters := []int64{1000, 1500, 200, 900}
	for i, c := range counters {
		env.appendAt(t, metrics.Record{
			AgentID:       a,
			Timestamp:     env.now.Add(time.Duration(i-4) * time.Minute),
			BytesSent:     c,
			BytesReceived: c * 2,
		})
	}

	history, err := env.engine.History(context.Background(), 24, "alpha")
	require.NoError(t, err)
	require.Len(t, history.Points, 4)

	var deltas []int64
	for _, p := range history.Points {
		deltas = append(deltas, p.DeltaSent)
	}
	assert.Equal(t, []int64{0, 500, 200, 700}, deltas)
	assert.Equal(t, int64(1400), history.Points[3].DeltaReceived)
}

func TestHistory_Stats(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alpha", "100.64.0.1").AgentID

	for i := 1; i <= 100; i++ {
		env.appendAt(t, metrics.Record{
			AgentID:      a,
			Timestamp:    env.now.Add(-time.Duration(i) * 25 * time.Second),
			UploadMbps:   float64(i),
			DownloadMbps: 2,
		})
	}

	history, err := env.engine.History(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, 100, history.Stats.Samples)
	assert.InDelta(t, 50.5, history.Stats.Upload.Mean, 1e-9)
	assert.Equal(t, 100.0, history.Stats.Upload.Max)
	assert.InDelta(t, 50, history.Stats.Upload.P50, 2)
	assert.InDelta(t, 95, history.Stats.Upload.P95, 2)
	assert.InDelta(t, 2, history.Stats.Download.P50, 0.05)
}

func TestHistory_EmptyWindowStillReportsBounds(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alpha", "100.64.0.1")

	history, err := env.engine.History(context.Background(), 720, "alpha")
	require.NoError(t, err)
	assert.Empty(t, history.Points)
	assert.Equal(t, env.now.Add(-720*time.Hour), history.Start)
	assert.Equal(t, env.now, history.End)
	assert.Zero(t, history.Stats.Samples)
}

func TestHistory_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.History(ctx, 24, "ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	for _, hours := range []int{0, -1, 721} {
		_, err := env.engine.History(ctx, hours, "")
		assert.ErrorIs(t, err, ErrInvalidWindow, "hours=%d", hours)
	}
}
