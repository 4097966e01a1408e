package tests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/db"
)

// Env is shared by the system test suites. Suites use distinct hostnames so they can run
// against the same database.
type Env struct {
	Router      *gin.Engine
	Pool        *pgxpool.Pool
	AgentStore  *db.AgentStore
	MetricStore *db.MetricStore
	Registry    *agents.Service
}

func doJSON(router *gin.Engine, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}
