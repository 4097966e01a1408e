package dto

import (
	"fmt"
	"time"

	"github.com/tailmon/tailmon/internal/metrics"
)

type ConnectionInfo struct {
	IP            string `json:"ip"`
	Hostname      string `json:"hostname,omitempty"`
	Port          int    `json:"port,omitempty"`
	State         string `json:"state,omitempty"`
	BytesSent     int64  `json:"bytes_sent"`
	BytesReceived int64  `json:"bytes_received"`
}

type MetricsData struct {
	BytesSent           *int64           `json:"bytes_sent"`
	BytesReceived       *int64           `json:"bytes_received"`
	CurrentUploadMbps   float64          `json:"current_upload_mbps"`
	CurrentDownloadMbps float64          `json:"current_download_mbps"`
	PacketsSent         int64            `json:"packets_sent"`
	PacketsReceived     int64            `json:"packets_received"`
	ActiveConnections   []ConnectionInfo `json:"active_connections"`
}

type MetricSubmission struct {
	Hostname    string       `json:"hostname"`
	TailscaleIP string       `json:"tailscale_ip"`
	Timestamp   *time.Time   `json:"timestamp,omitempty"`
	Metrics     *MetricsData `json:"metrics"`
}

func missing(field string) *metrics.ValidationError {
	return &metrics.ValidationError{
		Code:    metrics.CodeMissingField,
		Field:   field,
		Message: fmt.Sprintf("%s is required", field),
	}
}

// ToSubmission checks required fields and converts the payload into a metrics.Submission.
// Range checks are left to the ingest service.
func (s MetricSubmission) ToSubmission() (metrics.Submission, error) {
	if s.Metrics == nil {
		return metrics.Submission{}, missing("metrics")
	}
	if s.Metrics.BytesSent == nil {
		return metrics.Submission{}, missing("metrics.bytes_sent")
	}
	if s.Metrics.BytesReceived == nil {
		return metrics.Submission{}, missing("metrics.bytes_received")
	}

	sub := metrics.Submission{
		Hostname:        s.Hostname,
		TailscaleIP:     s.TailscaleIP,
		Timestamp:       s.Timestamp,
		BytesSent:       *s.Metrics.BytesSent,
		BytesReceived:   *s.Metrics.BytesReceived,
		PacketsSent:     s.Metrics.PacketsSent,
		PacketsReceived: s.Metrics.PacketsReceived,
		UploadMbps:      s.Metrics.CurrentUploadMbps,
		DownloadMbps:    s.Metrics.CurrentDownloadMbps,
	}
	for _, c := range s.Metrics.ActiveConnections {
		sub.Connections = append(sub.Connections, metrics.Connection{
			PeerAddress:   c.IP,
			PeerHostname:  c.Hostname,
			PeerPort:      c.Port,
			State:         c.State,
			BytesSent:     c.BytesSent,
			BytesReceived: c.BytesReceived,
		})
	}
	return sub, nil
}
