package metrics

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Reason codes reported to clients for rejected submissions.
const (
	CodeInvalidJSON         = "invalid_json"
	CodeMissingField        = "missing_field"
	CodeNegativeCounter     = "negative_counter"
	CodeInvalidRate         = "invalid_rate"
	CodeInvalidPeerAddress  = "invalid_peer_address"
	CodeInvalidPort         = "invalid_port"
	CodeTimestampOutOfRange = "timestamp_out_of_range"
	CodeTooManyConnections  = "too_many_connections"
)

// ValidationError describes why a submission was rejected. It matches ErrMalformedPayload
// under errors.Is.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrMalformedPayload, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrMalformedPayload, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformedPayload
}

func invalid(code, field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

type validationLimits struct {
	maxClockSkew   time.Duration
	retention      time.Duration
	maxConnections int
}

// toRecord validates sub and converts it into a Record owned by agentID. A missing
// timestamp defaults to receivedAt.
func toRecord(agentID string, sub Submission, receivedAt time.Time, limits validationLimits) (Record, error) {
	ts := receivedAt
	if sub.Timestamp != nil && !sub.Timestamp.IsZero() {
		ts = *sub.Timestamp
	}
	ts = ts.UTC().Truncate(time.Microsecond)

	if limits.maxClockSkew > 0 && ts.After(receivedAt.Add(limits.maxClockSkew)) {
		return Record{}, invalid(CodeTimestampOutOfRange, "timestamp", "%s is ahead of the collector clock", ts.Format(time.RFC3339))
	}
	if limits.retention > 0 && ts.Before(receivedAt.Add(-limits.retention)) {
		return Record{}, invalid(CodeTimestampOutOfRange, "timestamp", "%s is older than the retention window", ts.Format(time.RFC3339))
	}

	counters := []struct {
		field string
		value int64
	}{
		{"metrics.bytes_sent", sub.BytesSent},
		{"metrics.bytes_received", sub.BytesReceived},
		{"metrics.packets_sent", sub.PacketsSent},
		{"metrics.packets_received", sub.PacketsReceived},
	}
	for _, c := range counters {
		if c.value < 0 {
			return Record{}, invalid(CodeNegativeCounter, c.field, "must not be negative")
		}
	}

	if err := checkRate("metrics.current_upload_mbps", sub.UploadMbps); err != nil {
		return Record{}, err
	}
	if err := checkRate("metrics.current_download_mbps", sub.DownloadMbps); err != nil {
		return Record{}, err
	}

	if limits.maxConnections > 0 && len(sub.Connections) > limits.maxConnections {
		return Record{}, invalid(CodeTooManyConnections, "metrics.active_connections", "%d entries exceed the limit of %d", len(sub.Connections), limits.maxConnections)
	}

	conns := make([]Connection, 0, len(sub.Connections))
	for i, c := range sub.Connections {
		field := fmt.Sprintf("metrics.active_connections[%d]", i)
		if c.PeerAddress == "" {
			return Record{}, invalid(CodeMissingField, field+".ip", "peer address is required")
		}
		addr, err := netip.ParseAddr(c.PeerAddress)
		if err != nil {
			return Record{}, invalid(CodeInvalidPeerAddress, field+".ip", "%q is not an IP address", c.PeerAddress)
		}
		if c.PeerPort < 0 || c.PeerPort > math.MaxUint16 {
			return Record{}, invalid(CodeInvalidPort, field+".port", "%d is out of range", c.PeerPort)
		}
		if c.BytesSent < 0 {
			return Record{}, invalid(CodeNegativeCounter, field+".bytes_sent", "must not be negative")
		}
		if c.BytesReceived < 0 {
			return Record{}, invalid(CodeNegativeCounter, field+".bytes_received", "must not be negative")
		}
		c.PeerAddress = addr.String()
		conns = append(conns, c)
	}

	return Record{
		AgentID:         agentID,
		Timestamp:       ts,
		BytesSent:       sub.BytesSent,
		BytesReceived:   sub.BytesReceived,
		PacketsSent:     sub.PacketsSent,
		PacketsReceived: sub.PacketsReceived,
		UploadMbps:      sub.UploadMbps,
		DownloadMbps:    sub.DownloadMbps,
		Connections:     conns,
	}, nil
}

func checkRate(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return invalid(CodeInvalidRate, field, "must be a finite non-negative number")
	}
	return nil
}
