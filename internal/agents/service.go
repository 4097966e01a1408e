package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAgentNotFound       = errors.New("agent not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidRegistration = errors.New("invalid registration")
)

const maxHostnameLength = 255

// Service is the agent registry: it owns identity records and API-key verification.
type Service struct {
	store            Store
	samplingInterval time.Duration
	iterations       int
	now              func() time.Time

	// decoyHash is verified against when no record matches a candidate key, so a miss
	// costs the same as a wrong secret.
	decoyOnce sync.Once
	decoyHash string
}

func NewService(store Store, samplingInterval time.Duration) *Service {
	return &Service{
		store:            store,
		samplingInterval: samplingInterval,
		iterations:       DefaultIterations,
		now:              time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIterations overrides the PBKDF2 cost for newly issued keys.
func (s *Service) WithIterations(iterations int) *Service {
	s.iterations = iterations
	return s
}

func (s *Service) SamplingInterval() time.Duration {
	return s.samplingInterval
}

// Register creates an agent for a new (hostname, address) pair and returns its key once.
// For a known pair it refreshes the OS type and returns the existing id; the previously
// issued key stays valid and no new key is returned.
func (s *Service) Register(ctx context.Context, hostname, address, osType string) (RegisterResult, error) {
	hostname = strings.TrimSpace(hostname)
	osType = strings.ToLower(strings.TrimSpace(osType))

	if hostname == "" || len(hostname) > maxHostnameLength {
		return RegisterResult{}, fmt.Errorf("%w: hostname must be 1-%d characters", ErrInvalidRegistration, maxHostnameLength)
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return RegisterResult{}, fmt.Errorf("%w: invalid tailscale_ip %q", ErrInvalidRegistration, address)
	}
	if osType == "" {
		return RegisterResult{}, fmt.Errorf("%w: os_type is required", ErrInvalidRegistration)
	}

	existing, err := s.findPair(ctx, hostname, addr.String())
	if err != nil {
		return RegisterResult{}, err
	}
	if existing != nil && existing.OSType == osType {
		slog.Info("Agent re-registered",
			"agent_id", existing.ID,
			"hostname", existing.Hostname,
			"tailscale_ip", existing.TailscaleIP,
			"os_type", existing.OSType)
		return RegisterResult{AgentID: existing.ID}, nil
	}

	key, keyID, err := GenerateAPIKey()
	if err != nil {
		return RegisterResult{}, err
	}
	hash, err := HashAPIKey(key, s.iterations)
	if err != nil {
		return RegisterResult{}, err
	}

	candidate := Agent{
		ID:           uuid.New().String(),
		Hostname:     hostname,
		TailscaleIP:  addr.String(),
		OSType:       osType,
		APIKeyID:     keyID,
		APIKeyHash:   hash,
		RegisteredAt: s.now().UTC().Truncate(time.Microsecond),
	}

	stored, created, err := s.store.Upsert(ctx, candidate)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("failed to register agent: %w", err)
	}

	if !created {
		slog.Info("Agent re-registered",
			"agent_id", stored.ID,
			"hostname", stored.Hostname,
			"tailscale_ip", stored.TailscaleIP,
			"os_type", stored.OSType)
		return RegisterResult{AgentID: stored.ID}, nil
	}

	slog.Info("Agent registered",
		"agent_id", stored.ID,
		"hostname", stored.Hostname,
		"tailscale_ip", stored.TailscaleIP,
		"os_type", stored.OSType)

	return RegisterResult{AgentID: stored.ID, APIKey: key, Created: true}, nil
}

// findPair returns the agent registered for (hostname, address), or nil. The store's
// uniqueness constraint still settles concurrent first registrations.
func (s *Service) findPair(ctx context.Context, hostname, address string) (*Agent, error) {
	list, err := s.store.ListByHostname(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to look up agent: %w", err)
	}
	for i := range list {
		if list[i].TailscaleIP == address {
			return &list[i], nil
		}
	}
	return nil, nil
}

// Authenticate resolves a plaintext key to its agent id. Unknown, malformed and wrong keys
// all fail with ErrUnauthenticated after the same amount of hashing work.
func (s *Service) Authenticate(ctx context.Context, candidate string) (string, error) {
	agent, err := s.AuthenticateAgent(ctx, candidate)
	if err != nil {
		return "", err
	}
	return agent.ID, nil
}

// AuthenticateAgent is Authenticate returning the whole identity record.
func (s *Service) AuthenticateAgent(ctx context.Context, candidate string) (Agent, error) {
	keyID, ok := ParseAPIKeyID(candidate)
	if !ok {
		s.burnDecoy(candidate)
		return Agent{}, ErrUnauthenticated
	}

	agent, err := s.store.GetByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			s.burnDecoy(candidate)
			return Agent{}, ErrUnauthenticated
		}
		return Agent{}, fmt.Errorf("failed to look up api key: %w", err)
	}

	if !CheckAPIKey(candidate, agent.APIKeyHash) {
		return Agent{}, ErrUnauthenticated
	}
	agent.Status = agent.StatusAt(s.now(), s.samplingInterval)
	return agent, nil
}

func (s *Service) burnDecoy(candidate string) {
	s.decoyOnce.Do(func() {
		hash, err := HashAPIKey(keyPrefix+"decoy", s.iterations)
		if err != nil {
			slog.Warn("Failed to build decoy api key hash", "error", err)
			return
		}
		s.decoyHash = hash
	})
	_ = CheckAPIKey(candidate, s.decoyHash)
}

// List returns all agents with their derived status.
func (s *Service) List(ctx context.Context) ([]Agent, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	now := s.now()
	for i := range list {
		list[i].Status = list[i].StatusAt(now, s.samplingInterval)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id string) (Agent, error) {
	agent, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Agent{}, err
	}
	agent.Status = agent.StatusAt(s.now(), s.samplingInterval)
	return agent, nil
}

// FindByHostname returns every agent registered under hostname. Hostnames are not unique.
func (s *Service) FindByHostname(ctx context.Context, hostname string) ([]Agent, error) {
	list, err := s.store.ListByHostname(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to find agents by hostname: %w", err)
	}
	now := s.now()
	for i := range list {
		list[i].Status = list[i].StatusAt(now, s.samplingInterval)
	}
	return list, nil
}

// Touch records an accepted submission.
func (s *Service) Touch(ctx context.Context, agentID string, at time.Time) error {
	if err := s.store.TouchLastSeen(ctx, agentID, at.UTC().Truncate(time.Microsecond)); err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}
