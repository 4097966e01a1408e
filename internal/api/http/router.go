package http

import (
	"github.com/gin-gonic/gin"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/aggregation"
	"github.com/tailmon/tailmon/internal/api/http/handler"
	"github.com/tailmon/tailmon/internal/api/http/middleware"
	"github.com/tailmon/tailmon/internal/metrics"
)

type Services struct {
	AgentService *agents.Service
	Ingest       *metrics.Service
	Engine       *aggregation.Engine
	Storage      handler.Pinger
	Version      string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Storage, srvs.Version)
	engine.GET("/", healthHandler.Root)

	agentsHandler := handler.NewAgentsHandler(srvs.AgentService)
	metricsHandler := handler.NewMetricsHandler(srvs.Ingest)
	trafficHandler := handler.NewTrafficHandler(srvs.Engine)

	v1 := engine.Group("/api/v1")
	v1.GET("/health", healthHandler.Check)
	v1.POST("/register", agentsHandler.Register)
	// Submit authenticates inside the ingest service.
	v1.POST("/metrics", metricsHandler.Submit)

	protected := v1.Group("")
	protected.Use(middleware.APIKeyAuth(srvs.AgentService))
	{
		protected.GET("/agents", agentsHandler.ListAgents)
		protected.GET("/dashboard", trafficHandler.Dashboard)
		protected.GET("/traffic/summary", trafficHandler.Summary)
		protected.GET("/traffic/by-host/:hostname", trafficHandler.ByHost)
		protected.GET("/traffic/history", trafficHandler.History)
	}
}
