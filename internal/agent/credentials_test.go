package agent

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCredentials_Missing(t *testing.T) {
	creds, err := LoadCredentials(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, creds.Registered())
}

func TestSaveCredentials_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "credentials.yaml")
	want := Credentials{
		AgentID:      "6a1c1f0e-2f59-4c5e-9a57-5d6f0c3b7d11",
		APIKey:       "tsm_0123456789abcdef_secret",
		CollectorURL: "http://collector:8080",
		Hostname:     "h1",
		TailscaleIP:  "100.1.1.1",
		RegisteredAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, SaveCredentials(path, want))

	got, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, got.Registered())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSaveCredentials_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, SaveCredentials(path, Credentials{AgentID: "a", APIKey: "old"}))
	require.NoError(t, SaveCredentials(path, Credentials{AgentID: "a", APIKey: "new"}))

	got, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "new", got.APIKey)
}

func TestLoadCredentials_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent_id: [unterminated"), 0600))

	_, err := LoadCredentials(path)
	assert.Error(t, err)
}
