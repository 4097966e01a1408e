package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tailmon/tailmon/internal/api/http/dto"
)

const DefaultInterval = 25 * time.Second

type SampleSource interface {
	Sample(ctx context.Context) (Sample, error)
}

type Submitter interface {
	Submit(ctx context.Context, sub dto.MetricSubmission) error
}

type RunnerStats struct {
	Cycles       int64
	Submitted    int64
	Dropped      int64
	SampleErrors int64
	Unauthorized int64
	LastSubmit   time.Time
}

// Runner samples on a fixed interval and submits each sample with bounded retries. A sample
// that cannot be delivered is dropped; nothing is queued across cycles.
type Runner struct {
	source   SampleSource
	client   Submitter
	retrier  *Retrier
	hostname string
	interval time.Duration

	mu    sync.Mutex
	stats RunnerStats
}

func NewRunner(source SampleSource, client Submitter, retrier *Retrier, hostname string, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		source:   source,
		client:   client,
		retrier:  retrier,
		hostname: hostname,
		interval: interval,
	}
}

func (r *Runner) Stats() RunnerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run executes a cycle immediately and then once per interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("Starting sampling loop", "interval", r.interval, "hostname", r.hostname)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)

		select {
		case <-ctx.Done():
			slog.Info("Sampling loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sample and submit cycle. Failures are logged and counted, never returned.
func (r *Runner) RunOnce(ctx context.Context) {
	r.mu.Lock()
	r.stats.Cycles++
	r.mu.Unlock()

	sample, err := r.source.Sample(ctx)
	if err != nil {
		slog.Warn("Failed to sample interface", "error", err)
		r.mu.Lock()
		r.stats.SampleErrors++
		r.mu.Unlock()
		return
	}

	sub := r.submission(sample)
	attempts, err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.client.Submit(ctx, sub)
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case err == nil:
		r.stats.Submitted++
		r.stats.LastSubmit = sample.Timestamp
		slog.Debug("Metrics submitted",
			"attempts", attempts,
			"bytes_sent", sample.BytesSent,
			"bytes_received", sample.BytesReceived,
			"connections", len(sample.Connections))
	case errors.Is(err, ErrUnauthorized):
		r.stats.Unauthorized++
		r.stats.Dropped++
		slog.Error("Collector rejected the API key, sample dropped; re-register the agent", "error", err)
	case ctx.Err() != nil:
		r.stats.Dropped++
		slog.Info("Submission aborted by shutdown", "error", err)
	default:
		r.stats.Dropped++
		slog.Warn("Sample dropped", "attempts", attempts, "error", err)
	}
}

func (r *Runner) submission(s Sample) dto.MetricSubmission {
	ts := s.Timestamp
	bytesSent := clampInt64(s.BytesSent)
	bytesReceived := clampInt64(s.BytesReceived)

	data := &dto.MetricsData{
		BytesSent:           &bytesSent,
		BytesReceived:       &bytesReceived,
		CurrentUploadMbps:   s.UploadMbps,
		CurrentDownloadMbps: s.DownloadMbps,
		PacketsSent:         clampInt64(s.PacketsSent),
		PacketsReceived:     clampInt64(s.PacketsReceived),
		ActiveConnections:   make([]dto.ConnectionInfo, 0, len(s.Connections)),
	}
	for _, c := range s.Connections {
		data.ActiveConnections = append(data.ActiveConnections, dto.ConnectionInfo{
			IP:    c.IP,
			Port:  c.Port,
			State: c.State,
		})
	}

	return dto.MetricSubmission{
		Hostname:    r.hostname,
		TailscaleIP: s.TailscaleIP,
		Timestamp:   &ts,
		Metrics:     data,
	}
}

func clampInt64(v uint64) int64 {
	if v > uint64(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(v)
}
