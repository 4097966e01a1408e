package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultCheckInterval = 24 * time.Hour
)

// Deleter is the part of the time-series store retention needs.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Manager deletes records older than the retention window.
type Manager struct {
	mu            sync.RWMutex
	store         Deleter
	retention     time.Duration
	checkInterval time.Duration
	now           func() time.Time
	stats         Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime    time.Time
	LastCutoff     time.Time
	LastDeleted    int64
	RecordsDeleted int64
	Runs           int64
	Errors         int64
	LastError      string
}

func NewManager(store Deleter, retention, checkInterval time.Duration) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Manager{
		store:         store,
		retention:     retention,
		checkInterval: checkInterval,
		now:           time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Retention() time.Duration {
	return m.retention
}

// RunOnce deletes every record older than now minus the retention window.
func (m *Manager) RunOnce(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	cutoff := now.Add(-m.retention)

	m.stats.LastRunTime = now
	m.stats.LastCutoff = cutoff
	m.stats.Runs++

	deleted, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		m.stats.Errors++
		m.stats.LastError = err.Error()
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}

	m.stats.LastDeleted = deleted
	m.stats.RecordsDeleted += deleted
	m.stats.LastError = ""

	slog.Info("Retention cleanup completed", "cutoff", cutoff, "deleted", deleted)
	return deleted, nil
}

// Start runs a cleanup immediately and then once per check interval until ctx is done.
// Failed runs are logged and retried on the next tick.
func (m *Manager) Start(ctx context.Context) {
	m.run(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.run(ctx)
		}
	}
}

func (m *Manager) run(ctx context.Context) {
	if _, err := m.RunOnce(ctx); err != nil {
		slog.Error("Retention cleanup failed", "error", err)
	}
}

// Stats returns a snapshot of the retention statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
