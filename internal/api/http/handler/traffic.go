package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tailmon/tailmon/internal/aggregation"
	"github.com/tailmon/tailmon/internal/api/http/dto"
)

type TrafficHandler struct {
	engine *aggregation.Engine
}

func NewTrafficHandler(engine *aggregation.Engine) *TrafficHandler {
	return &TrafficHandler{
		engine: engine,
	}
}

// GET /api/v1/dashboard
func (h *TrafficHandler) Dashboard(c *gin.Context) {
	summary, err := h.engine.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDashboard(summary))
}

// GET /api/v1/traffic/summary
func (h *TrafficHandler) Summary(c *gin.Context) {
	summary, err := h.engine.TrafficSummary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	hosts := make([]dto.HostTraffic, len(summary.Hosts))
	for i, host := range summary.Hosts {
		hosts[i] = toHostTraffic(host)
	}

	pairs := make([]dto.ConnectionPair, len(summary.TopConnections))
	for i, p := range summary.TopConnections {
		toHost := p.PeerHostname
		if toHost == "" {
			toHost = p.PeerAddress
		}
		pairs[i] = dto.ConnectionPair{
			FromAgentID:   p.SourceAgentID,
			FromHost:      p.SourceHostname,
			ToIP:          p.PeerAddress,
			ToHost:        toHost,
			BytesSent:     p.BytesSent,
			BytesReceived: p.BytesReceived,
			TrafficGB:     p.TrafficGB(),
		}
	}

	c.JSON(http.StatusOK, dto.TrafficSummaryResponse{
		Summary:        toDashboard(summary.Summary),
		Hosts:          hosts,
		TopConnections: pairs,
		WindowStart:    summary.WindowStart,
		WindowEnd:      summary.WindowEnd,
	})
}

// GET /api/v1/traffic/by-host/:hostname
func (h *TrafficHandler) ByHost(c *gin.Context) {
	hostname := c.Param("hostname")

	entries, err := h.engine.HostTraffic(c.Request.Context(), hostname)
	if err != nil {
		respondError(c, err)
		return
	}

	hosts := make([]dto.HostTraffic, len(entries))
	for i, host := range entries {
		hosts[i] = toHostTraffic(host)
	}
	c.JSON(http.StatusOK, dto.HostTrafficResponse{Hostname: hostname, Hosts: hosts})
}

// GET /api/v1/traffic/history?hours=N&hostname=H
func (h *TrafficHandler) History(c *gin.Context) {
	var query dto.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "hours must be an integer", Code: CodeInvalidWindow, Field: "hours"})
		return
	}

	hours := aggregation.DefaultHistoryHours
	if query.Hours != nil {
		hours = *query.Hours
	}

	history, err := h.engine.History(c.Request.Context(), hours, query.Hostname)
	if err != nil {
		respondError(c, err)
		return
	}

	data := make([]dto.HistoricalDataPoint, len(history.Points))
	for i, p := range history.Points {
		data[i] = dto.HistoricalDataPoint{
			Timestamp:     p.Timestamp,
			AgentID:       p.AgentID,
			Hostname:      p.Hostname,
			UploadMbps:    p.UploadMbps,
			DownloadMbps:  p.DownloadMbps,
			BytesSent:     p.BytesSent,
			BytesReceived: p.BytesReceived,
			DeltaSent:     p.DeltaSent,
			DeltaReceived: p.DeltaReceived,
		}
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{
		Data:            data,
		StartTime:       history.Start,
		EndTime:         history.End,
		IntervalSeconds: history.IntervalSeconds,
		Stats: dto.HistoryStats{
			Samples:      history.Stats.Samples,
			UploadMbps:   dto.RateStats(history.Stats.Upload),
			DownloadMbps: dto.RateStats(history.Stats.Download),
		},
	})
}

func toDashboard(s aggregation.DashboardSummary) dto.DashboardSummary {
	return dto.DashboardSummary{
		TotalHosts:       s.TotalHosts,
		OnlineHosts:      s.OnlineHosts,
		OfflineHosts:     s.OfflineHosts,
		TotalTrafficGB:   s.TotalTrafficGB,
		AvgBandwidthMbps: s.AvgBandwidthMbps,
		LastUpdated:      s.LastUpdated,
	}
}

func toHostTraffic(h aggregation.HostTraffic) dto.HostTraffic {
	return dto.HostTraffic{
		AgentID:    h.AgentID,
		Hostname:   h.Hostname,
		IP:         h.TailscaleIP,
		OSType:     h.OSType,
		Status:     string(h.Status),
		LastSeen:   h.LastSeen,
		LastSample: h.LatestSample,
		Traffic: dto.TrafficStats{
			SentGB:          h.SentGB(),
			ReceivedGB:      h.ReceivedGB(),
			BytesSent:       h.BytesSent,
			BytesReceived:   h.BytesReceived,
			CurrentUpload:   h.UploadMbps,
			CurrentDownload: h.DownloadMbps,
		},
	}
}
