package aggregation

import (
	"time"

	"github.com/tailmon/tailmon/internal/agents"
)

type DashboardSummary struct {
	TotalHosts       int
	OnlineHosts      int
	OfflineHosts     int
	TotalTrafficGB   float64
	AvgBandwidthMbps float64
	LastUpdated      time.Time
}

// HostTraffic combines an agent's identity and status with its latest record.
type HostTraffic struct {
	AgentID     string
	Hostname    string
	TailscaleIP string
	OSType      string
	Status      agents.Status
	LastSeen    *time.Time
	// LatestSample is nil when the agent has not submitted any retained record.
	LatestSample  *time.Time
	BytesSent     int64
	BytesReceived int64
	UploadMbps    float64
	DownloadMbps  float64
}

func (h HostTraffic) SentGB() float64 {
	return float64(h.BytesSent) / BytesPerGB
}

func (h HostTraffic) ReceivedGB() float64 {
	return float64(h.BytesReceived) / BytesPerGB
}

// ConnectionPair is the traffic between one source agent and one peer address, summed over
// the top-connections window.
type ConnectionPair struct {
	SourceAgentID  string
	SourceHostname string
	PeerAddress    string
	// PeerHostname is the registered hostname of the peer when known.
	PeerHostname  string
	BytesSent     int64
	BytesReceived int64
}

func (c ConnectionPair) TotalBytes() int64 {
	return c.BytesSent + c.BytesReceived
}

func (c ConnectionPair) TrafficGB() float64 {
	return float64(c.TotalBytes()) / BytesPerGB
}

type TrafficSummary struct {
	Summary        DashboardSummary
	Hosts          []HostTraffic
	TopConnections []ConnectionPair
	WindowStart    time.Time
	WindowEnd      time.Time
}

// HistoryPoint is one record flattened for charting. Deltas are relative to the previous
// record of the same agent inside the window.
type HistoryPoint struct {
	Timestamp     time.Time
	AgentID       string
	Hostname      string
	UploadMbps    float64
	DownloadMbps  float64
	BytesSent     int64
	BytesReceived int64
	DeltaSent     int64
	DeltaReceived int64
}

type RateStats struct {
	Mean float64
	P50  float64
	P95  float64
	Max  float64
}

type HistoryStats struct {
	Samples  int
	Upload   RateStats
	Download RateStats
}

type History struct {
	Points          []HistoryPoint
	Start           time.Time
	End             time.Time
	IntervalSeconds int
	Stats           HistoryStats
}
