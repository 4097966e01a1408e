package dto

import "time"

type DashboardSummary struct {
	TotalHosts       int       `json:"total_hosts"`
	OnlineHosts      int       `json:"online_hosts"`
	OfflineHosts     int       `json:"offline_hosts"`
	TotalTrafficGB   float64   `json:"total_traffic_gb"`
	AvgBandwidthMbps float64   `json:"avg_bandwidth_mbps"`
	LastUpdated      time.Time `json:"last_updated"`
}

type TrafficStats struct {
	SentGB          float64 `json:"sent_gb"`
	ReceivedGB      float64 `json:"received_gb"`
	BytesSent       int64   `json:"bytes_sent"`
	BytesReceived   int64   `json:"bytes_received"`
	CurrentUpload   float64 `json:"current_upload"`
	CurrentDownload float64 `json:"current_download"`
}

type HostTraffic struct {
	AgentID    string       `json:"agent_id"`
	Hostname   string       `json:"hostname"`
	IP         string       `json:"ip"`
	OSType     string       `json:"os_type"`
	Status     string       `json:"status"`
	LastSeen   *time.Time   `json:"last_seen"`
	LastSample *time.Time   `json:"last_sample"`
	Traffic    TrafficStats `json:"traffic"`
}

type HostTrafficResponse struct {
	Hostname string        `json:"hostname"`
	Hosts    []HostTraffic `json:"hosts"`
}

type ConnectionPair struct {
	FromAgentID   string  `json:"from_agent_id"`
	FromHost      string  `json:"from_host"`
	ToIP          string  `json:"to_ip"`
	ToHost        string  `json:"to_host"`
	BytesSent     int64   `json:"bytes_sent"`
	BytesReceived int64   `json:"bytes_received"`
	TrafficGB     float64 `json:"traffic_gb"`
}

type TrafficSummaryResponse struct {
	Summary        DashboardSummary `json:"summary"`
	Hosts          []HostTraffic    `json:"hosts"`
	TopConnections []ConnectionPair `json:"top_connections"`
	WindowStart    time.Time        `json:"window_start"`
	WindowEnd      time.Time        `json:"window_end"`
}

type HistoryQuery struct {
	Hours    *int   `form:"hours"`
	Hostname string `form:"hostname"`
}

type HistoricalDataPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	AgentID       string    `json:"agent_id"`
	Hostname      string    `json:"hostname"`
	UploadMbps    float64   `json:"upload_mbps"`
	DownloadMbps  float64   `json:"download_mbps"`
	BytesSent     int64     `json:"bytes_sent"`
	BytesReceived int64     `json:"bytes_received"`
	DeltaSent     int64     `json:"delta_sent"`
	DeltaReceived int64     `json:"delta_received"`
}

type RateStats struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P95  float64 `json:"p95"`
	Max  float64 `json:"max"`
}

type HistoryStats struct {
	Samples      int       `json:"samples"`
	UploadMbps   RateStats `json:"upload_mbps"`
	DownloadMbps RateStats `json:"download_mbps"`
}

type HistoryResponse struct {
	Data            []HistoricalDataPoint `json:"data"`
	StartTime       time.Time             `json:"start_time"`
	EndTime         time.Time             `json:"end_time"`
	IntervalSeconds int                   `json:"interval_seconds"`
	Stats           HistoryStats          `json:"stats"`
}
