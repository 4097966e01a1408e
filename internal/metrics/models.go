package metrics

import (
	"time"
)

// Connection is one per-peer observation scoped to a single sample.
type Connection struct {
	PeerAddress   string
	PeerHostname  string
	PeerPort      int
	State         string
	BytesSent     int64
	BytesReceived int64
}

// Record is one immutable observation. Byte and packet counters are cumulative since the
// agent process started; rates are instantaneous.
type Record struct {
	AgentID   string
	Timestamp time.Time
	// ClientTimestamp is the time the agent reported. It differs from Timestamp only when
	// the record was moved off an occupied instant; zero means Timestamp.
	ClientTimestamp time.Time
	BytesSent       int64
	BytesReceived   int64
	PacketsSent     int64
	PacketsReceived int64
	UploadMbps      float64
	DownloadMbps    float64
	Connections     []Connection
}

// TotalBytes is the cumulative traffic in both directions.
func (r Record) TotalBytes() int64 {
	return r.BytesSent + r.BytesReceived
}

// ObservedAt is the sample time as reported by the agent.
func (r Record) ObservedAt() time.Time {
	if r.ClientTimestamp.IsZero() {
		return r.Timestamp
	}
	return r.ClientTimestamp
}

// Restamped reports whether the record is stored at a different instant than the agent reported.
func (r Record) Restamped() bool {
	return !r.ObservedAt().Equal(r.Timestamp)
}

// SameObservation reports whether o carries exactly the values of r, regardless of where
// either is stored. Used to recognise client retries of an already stored sample.
func (r Record) SameObservation(o Record) bool {
	if r.AgentID != o.AgentID ||
		!r.ObservedAt().Equal(o.ObservedAt()) ||
		r.BytesSent != o.BytesSent ||
		r.BytesReceived != o.BytesReceived ||
		r.PacketsSent != o.PacketsSent ||
		r.PacketsReceived != o.PacketsReceived ||
		r.UploadMbps != o.UploadMbps ||
		r.DownloadMbps != o.DownloadMbps ||
		len(r.Connections) != len(o.Connections) {
		return false
	}
	for i := range r.Connections {
		if r.Connections[i] != o.Connections[i] {
			return false
		}
	}
	return true
}

// Submission is an incoming sample as sent by an agent, before validation.
type Submission struct {
	Hostname        string
	TailscaleIP     string
	Timestamp       *time.Time
	BytesSent       int64
	BytesReceived   int64
	PacketsSent     int64
	PacketsReceived int64
	UploadMbps      float64
	DownloadMbps    float64
	Connections     []Connection
}
