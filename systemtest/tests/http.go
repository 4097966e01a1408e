package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailmon/tailmon/internal/api/http/dto"
)

func submission(hostname string, sent, received int64, peers ...string) map[string]any {
	conns := make([]any, 0, len(peers))
	for _, p := range peers {
		conns = append(conns, map[string]any{"ip": p, "bytes_sent": 100, "bytes_received": 50})
	}
	return map[string]any{
		"hostname":     hostname,
		"tailscale_ip": "100.74.0.1",
		"metrics": map[string]any{
			"bytes_sent":            sent,
			"bytes_received":        received,
			"current_upload_mbps":   1.0,
			"current_download_mbps": 2.0,
			"active_connections":    conns,
		},
	}
}

func TestHTTPFlow(t *testing.T, env *Env) {
	router := env.Router

	rr := doJSON(router, "GET", "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decode[dto.HealthResponse](t, rr).Status)

	rr = doJSON(router, "POST", "/api/v1/register", dto.RegisterRequest{
		Hostname: "flow-a", TailscaleIP: "100.74.0.1", OSType: "linux",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	a := decode[dto.RegisterResponse](t, rr)

	rr = doJSON(router, "POST", "/api/v1/register", dto.RegisterRequest{
		Hostname: "flow-b", TailscaleIP: "100.74.0.2", OSType: "windows",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doJSON(router, "GET", "/api/v1/dashboard", nil, a.APIKey)
	require.Equal(t, http.StatusOK, rr.Code)
	before := decode[dto.DashboardSummary](t, rr)

	t.Run("submit and read back", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/v1/metrics", submission("flow-a", 1000, 500, "100.74.0.2"), a.APIKey)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		rr = doJSON(router, "POST", "/api/v1/metrics", submission("flow-a", 3000, 700, "100.74.0.2"), a.APIKey)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = doJSON(router, "GET", "/api/v1/traffic/by-host/flow-a", nil, a.APIKey)
		require.Equal(t, http.StatusOK, rr.Code)
		byHost := decode[dto.HostTrafficResponse](t, rr)
		require.Len(t, byHost.Hosts, 1)
		assert.Equal(t, "online", byHost.Hosts[0].Status)
		assert.Equal(t, int64(3000), byHost.Hosts[0].Traffic.BytesSent)
		assert.Equal(t, int64(700), byHost.Hosts[0].Traffic.BytesReceived)

		rr = doJSON(router, "GET", "/api/v1/traffic/history?hours=1&hostname=flow-a", nil, a.APIKey)
		require.Equal(t, http.StatusOK, rr.Code)
		history := decode[dto.HistoryResponse](t, rr)
		require.Len(t, history.Data, 2)
		assert.True(t, history.Data[0].Timestamp.Before(history.Data[1].Timestamp))
		assert.Equal(t, int64(2000), history.Data[1].DeltaSent)
		assert.Equal(t, int64(200), history.Data[1].DeltaReceived)
		assert.Equal(t, 2, history.Stats.Samples)

		rr = doJSON(router, "GET", "/api/v1/traffic/summary", nil, a.APIKey)
		require.Equal(t, http.StatusOK, rr.Code)
		summary := decode[dto.TrafficSummaryResponse](t, rr)
		var found *dto.ConnectionPair
		for i := range summary.TopConnections {
			if summary.TopConnections[i].FromHost == "flow-a" {
				found = &summary.TopConnections[i]
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, "flow-b", found.ToHost)
		assert.Equal(t, int64(200), found.BytesSent)
		assert.Equal(t, int64(100), found.BytesReceived)

		rr = doJSON(router, "GET", "/api/v1/dashboard", nil, a.APIKey)
		require.Equal(t, http.StatusOK, rr.Code)
		after := decode[dto.DashboardSummary](t, rr)
		assert.Equal(t, before.TotalHosts, after.TotalHosts)
		assert.Equal(t, before.OnlineHosts+1, after.OnlineHosts)
		assert.InDelta(t, before.TotalTrafficGB+3700/1e9, after.TotalTrafficGB, 1e-12)
	})

	t.Run("unknown key has no side effect", func(t *testing.T) {
		rr := doJSON(router, "GET", "/api/v1/agents", nil, a.APIKey)
		require.Equal(t, http.StatusOK, rr.Code)
		count := decode[dto.AgentsResponse](t, rr).Count

		rr = doJSON(router, "POST", "/api/v1/metrics", submission("flow-x", 1, 1), "tsm_0123456789abcdef_bogus")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = doJSON(router, "GET", "/api/v1/agents", nil, a.APIKey)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, count, decode[dto.AgentsResponse](t, rr).Count)
	})
}
