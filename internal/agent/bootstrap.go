package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tailmon/tailmon/internal/api/http/dto"
)

// ErrKeyNotStored means the collector already knows this host but the key it issued earlier
// is not available locally.
var ErrKeyNotStored = errors.New("agent is registered but its api key is not stored locally")

type Identity struct {
	Hostname    string
	TailscaleIP string
	OSType      string
}

type Registrar interface {
	Register(ctx context.Context, req dto.RegisterRequest) (dto.RegisterResponse, error)
}

type Bootstrapper struct {
	registrar       Registrar
	retrier         *Retrier
	credentialsPath string
	collectorURL    string
	now             func() time.Time
}

func NewBootstrapper(registrar Registrar, retrier *Retrier, credentialsPath, collectorURL string) *Bootstrapper {
	return &Bootstrapper{
		registrar:       registrar,
		retrier:         retrier,
		credentialsPath: credentialsPath,
		collectorURL:    collectorURL,
		now:             time.Now,
	}
}

// Ensure returns credentials for id. Stored credentials for the same collector, hostname and
// address are reused; otherwise the agent registers and the new key is persisted before it
// is returned.
func (b *Bootstrapper) Ensure(ctx context.Context, id Identity) (Credentials, error) {
	stored, err := LoadCredentials(b.credentialsPath)
	if err != nil {
		return Credentials{}, err
	}

	if stored.Registered() &&
		stored.CollectorURL == b.collectorURL &&
		stored.Hostname == id.Hostname &&
		stored.TailscaleIP == id.TailscaleIP {
		slog.Info("Using stored credentials", "agent_id", stored.AgentID, "path", b.credentialsPath)
		return stored, nil
	}

	req := dto.RegisterRequest{
		Hostname:    id.Hostname,
		TailscaleIP: id.TailscaleIP,
		OSType:      id.OSType,
	}

	var resp dto.RegisterResponse
	if _, err := b.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = b.registrar.Register(ctx, req)
		return err
	}); err != nil {
		return Credentials{}, err
	}

	if resp.APIKey == "" {
		return Credentials{}, fmt.Errorf("%w (agent_id %s)", ErrKeyNotStored, resp.AgentID)
	}

	creds := Credentials{
		AgentID:      resp.AgentID,
		APIKey:       resp.APIKey,
		CollectorURL: b.collectorURL,
		Hostname:     id.Hostname,
		TailscaleIP:  id.TailscaleIP,
		RegisteredAt: b.now().UTC(),
	}
	if err := SaveCredentials(b.credentialsPath, creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to persist credentials: %w", err)
	}

	slog.Info("Agent registered", "agent_id", creds.AgentID, "hostname", id.Hostname, "path", b.credentialsPath)
	return creds, nil
}
