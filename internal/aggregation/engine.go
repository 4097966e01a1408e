package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/metrics"
)

const (
	BytesPerGB = 1e9

	DefaultHistoryHours         = 24
	MaxHistoryHours             = 720
	DefaultTopConnectionsLimit  = 10
	DefaultTopConnectionsWindow = time.Hour
)

var (
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrInvalidWindow = errors.New("invalid history window")
)

// Registry is the read side of the agent registry.
type Registry interface {
	List(ctx context.Context) ([]agents.Agent, error)
	FindByHostname(ctx context.Context, hostname string) ([]agents.Agent, error)
	SamplingInterval() time.Duration
}

type Config struct {
	TopConnectionsLimit  int
	TopConnectionsWindow time.Duration
}

// Engine computes read-only views over the registry and the time-series store. Nothing is
// cached; every call reflects committed writes.
type Engine struct {
	registry Registry
	store    metrics.Store
	cfg      Config
	now      func() time.Time
}

func NewEngine(registry Registry, store metrics.Store, cfg Config) *Engine {
	if cfg.TopConnectionsLimit <= 0 {
		cfg.TopConnectionsLimit = DefaultTopConnectionsLimit
	}
	if cfg.TopConnectionsWindow <= 0 {
		cfg.TopConnectionsWindow = DefaultTopConnectionsWindow
	}
	return &Engine{
		registry: registry,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Dashboard(ctx context.Context) (DashboardSummary, error) {
	var (
		list   []agents.Agent
		latest map[string]metrics.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = e.registry.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = e.store.LatestPerAgent(gctx)
		if err != nil {
			return fmt.Errorf("failed to load latest records: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return DashboardSummary{}, err
	}

	return summarize(list, latest, e.now().UTC()), nil
}

func summarize(list []agents.Agent, latest map[string]metrics.Record, now time.Time) DashboardSummary {
	summary := DashboardSummary{
		TotalHosts:  len(list),
		LastUpdated: now,
	}

	var totalBytes int64
	for _, rec := range latest {
		totalBytes += rec.TotalBytes()
	}
	summary.TotalTrafficGB = float64(totalBytes) / BytesPerGB

	var bandwidth float64
	var sampled int
	for _, a := range list {
		if a.Status != agents.StatusOnline {
			summary.OfflineHosts++
			continue
		}
		summary.OnlineHosts++
		if rec, ok := latest[a.ID]; ok {
			bandwidth += rec.UploadMbps + rec.DownloadMbps
			sampled++
		}
	}
	if sampled > 0 {
		summary.AvgBandwidthMbps = bandwidth / float64(sampled)
	}

	return summary
}

// TrafficSummary returns the dashboard summary, one entry per agent and the top
// connections observed during the configured window.
func (e *Engine) TrafficSummary(ctx context.Context) (TrafficSummary, error) {
	end := e.now().UTC()
	start := end.Add(-e.cfg.TopConnectionsWindow)

	var (
		list    []agents.Agent
		latest  map[string]metrics.Record
		records []metrics.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = e.registry.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = e.store.LatestPerAgent(gctx)
		if err != nil {
			return fmt.Errorf("failed to load latest records: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		records, err = e.store.QueryRange(gctx, metrics.RangeQuery{
			From:            start,
			To:              end,
			WithConnections: true,
		})
		if err != nil {
			return fmt.Errorf("failed to load connection window: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return TrafficSummary{}, err
	}

	hosts := make([]HostTraffic, 0, len(list))
	for _, a := range list {
		hosts = append(hosts, hostTraffic(a, latest))
	}

	return TrafficSummary{
		Summary:        summarize(list, latest, end),
		Hosts:          hosts,
		TopConnections: topConnections(records, list, e.cfg.TopConnectionsLimit),
		WindowStart:    start,
		WindowEnd:      end,
	}, nil
}

// HostTraffic returns one entry per agent registered under hostname.
func (e *Engine) HostTraffic(ctx context.Context, hostname string) ([]HostTraffic, error) {
	matches, err := e.registry.FindByHostname(ctx, hostname)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, hostname)
	}

	latest, err := e.store.LatestPerAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest records: %w", err)
	}

	hosts := make([]HostTraffic, 0, len(matches))
	for _, a := range matches {
		hosts = append(hosts, hostTraffic(a, latest))
	}
	return hosts, nil
}

func hostTraffic(a agents.Agent, latest map[string]metrics.Record) HostTraffic {
	h := HostTraffic{
		AgentID:     a.ID,
		Hostname:    a.Hostname,
		TailscaleIP: a.TailscaleIP,
		OSType:      a.OSType,
		Status:      a.Status,
		LastSeen:    a.LastSeenAt,
	}
	if rec, ok := latest[a.ID]; ok {
		ts := rec.Timestamp
		h.LatestSample = &ts
		h.BytesSent = rec.BytesSent
		h.BytesReceived = rec.BytesReceived
		h.UploadMbps = rec.UploadMbps
		h.DownloadMbps = rec.DownloadMbps
	}
	return h
}

type pairKey struct {
	agentID string
	peer    string
}

// topConnections groups observations by (source agent, peer address), sums both directions
// and returns the limit largest groups. Ties are ordered by peer address, then agent id.
func topConnections(records []metrics.Record, list []agents.Agent, limit int) []ConnectionPair {
	hostnames := make(map[string]string, len(list))
	byAddress := make(map[string]string, len(list))
	for _, a := range list {
		hostnames[a.ID] = a.Hostname
		if _, ok := byAddress[a.TailscaleIP]; !ok {
			byAddress[a.TailscaleIP] = a.Hostname
		}
	}

	groups := make(map[pairKey]*ConnectionPair)
	for _, rec := range records {
		for _, c := range rec.Connections {
			key := pairKey{agentID: rec.AgentID, peer: c.PeerAddress}
			pair, ok := groups[key]
			if !ok {
				pair = &ConnectionPair{
					SourceAgentID:  rec.AgentID,
					SourceHostname: hostnames[rec.AgentID],
					PeerAddress:    c.PeerAddress,
				}
				groups[key] = pair
			}
			pair.BytesSent += c.BytesSent
			pair.BytesReceived += c.BytesReceived
			if c.PeerHostname != "" {
				pair.PeerHostname = c.PeerHostname
			}
		}
	}

	pairs := make([]ConnectionPair, 0, len(groups))
	for _, p := range groups {
		if name, ok := byAddress[p.PeerAddress]; ok {
			p.PeerHostname = name
		}
		pairs = append(pairs, *p)
	}

	sort.Slice(pairs, func(i, j int) bool {
		ti, tj := pairs[i].TotalBytes(), pairs[j].TotalBytes()
		if ti != tj {
			return ti > tj
		}
		if pairs[i].PeerAddress != pairs[j].PeerAddress {
			return pairs[i].PeerAddress < pairs[j].PeerAddress
		}
		return pairs[i].SourceAgentID < pairs[j].SourceAgentID
	})

	if len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// History returns every record of the last hours hours, optionally restricted to the agents
// registered under hostname. The window bounds are reported even when no record falls inside.
func (e *Engine) History(ctx context.Context, hours int, hostname string) (History, error) {
	if hours < 1 || hours > MaxHistoryHours {
		return History{}, fmt.Errorf("%w: hours must be between 1 and %d", ErrInvalidWindow, MaxHistoryHours)
	}

	end := e.now().UTC().Truncate(time.Microsecond)
	start := end.Add(-time.Duration(hours) * time.Hour)

	var known []agents.Agent
	var err error
	query := metrics.RangeQuery{From: start, To: end}

	if hostname != "" {
		known, err = e.registry.FindByHostname(ctx, hostname)
		if err != nil {
			return History{}, err
		}
		if len(known) == 0 {
			return History{}, fmt.Errorf("%w: %s", ErrUnknownAgent, hostname)
		}
		for _, a := range known {
			query.AgentIDs = append(query.AgentIDs, a.ID)
		}
	} else {
		known, err = e.registry.List(ctx)
		if err != nil {
			return History{}, err
		}
	}

	records, err := e.store.QueryRange(ctx, query)
	if err != nil {
		return History{}, fmt.Errorf("failed to query history: %w", err)
	}

	hostnames := make(map[string]string, len(known))
	for _, a := range known {
		hostnames[a.ID] = a.Hostname
	}

	history := History{
		Points:          make([]HistoryPoint, 0, len(records)),
		Start:           start,
		End:             end,
		IntervalSeconds: int(e.registry.SamplingInterval() / time.Second),
	}

	upload := newRateAccumulator()
	download := newRateAccumulator()
	previous := make(map[string]metrics.Record)

	for _, rec := range records {
		p := HistoryPoint{
			Timestamp:     rec.Timestamp,
			AgentID:       rec.AgentID,
			Hostname:      hostnames[rec.AgentID],
			UploadMbps:    rec.UploadMbps,
			DownloadMbps:  rec.DownloadMbps,
			BytesSent:     rec.BytesSent,
			BytesReceived: rec.BytesReceived,
		}
		if prev, ok := previous[rec.AgentID]; ok {
			p.DeltaSent = counterDelta(prev.BytesSent, rec.BytesSent)
			p.DeltaReceived = counterDelta(prev.BytesReceived, rec.BytesReceived)
		}
		previous[rec.AgentID] = rec

		upload.add(rec.UploadMbps)
		download.add(rec.DownloadMbps)
		history.Points = append(history.Points, p)
	}

	history.Stats = HistoryStats{
		Samples:  len(records),
		Upload:   upload.result(),
		Download: download.result(),
	}
	return history, nil
}

// counterDelta treats a decrease as a restart: the counter started again from zero.
func counterDelta(prev, cur int64) int64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
