// Package api exposes the analysis server's REST surface. Handlers stay
// thin: parse, delegate to the domain packages, render.
package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/sloscope/sloscope/controller/analysis"
	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/controller/slo"
	"github.com/sloscope/sloscope/pkg/prometheus"
)

const timeout = 10 * time.Second

// Deps are the collaborators the handlers need.
type Deps struct {
	Store     graph.Store
	Ingestor  *graph.Ingestor
	Analyzer  *analysis.Analyzer
	Lifecycle *slo.Lifecycle
	SLOs      slo.Repository
}

// NewRouter wires every route. Split from NewServer so tests can drive the
// router without the instrumented outer handler.
func NewRouter(deps Deps) *httprouter.Router {
	router := &httprouter.Router{
		RedirectTrailingSlash:  true,
		RedirectFixedPath:      true,
		HandleMethodNotAllowed: false, // disable 405s
	}
	h := &handler{deps: deps}

	router.POST("/api/v1/graph/ingest", h.handleIngest)

	router.GET("/api/v1/services", h.handleListServices)
	router.GET("/api/v1/services/:service_id", h.handleGetService)
	router.GET("/api/v1/services/:service_id/subgraph", h.handleSubgraph)
	router.GET("/api/v1/services/:service_id/constraints", h.handleConstraints)
	router.GET("/api/v1/services/:service_id/error-budget", h.handleErrorBudget)
	router.POST("/api/v1/services/:service_id/impact", h.handleImpact)

	router.POST("/api/v1/services/:service_id/slo", h.handleSLOTransition)
	router.GET("/api/v1/services/:service_id/slo", h.handleGetSLO)
	router.GET("/api/v1/services/:service_id/slo/history", h.handleSLOHistory)

	router.GET("/api/v1/alerts", h.handleListAlerts)
	router.POST("/api/v1/alerts/:alert_id/ack", h.handleAckAlert)
	router.POST("/api/v1/alerts/:alert_id/resolve", h.handleResolveAlert)

	return router
}

// NewServer returns the HTTP server for the REST API, instrumented with
// prometheus.
func NewServer(addr string, deps Deps) *http.Server {
	return &http.Server{
		Addr:         addr,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		Handler:      prometheus.WithTelemetry(NewRouter(deps)),
	}
}
