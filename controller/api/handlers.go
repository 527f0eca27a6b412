package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/sloscope/sloscope/controller/analysis"
	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/controller/slo"
	"github.com/sloscope/sloscope/pkg/problem"
)

const (
	analysisDeadline  = 5 * time.Second
	traversalDeadline = 2 * time.Second

	defaultSubgraphDepth = 3
)

type handler struct {
	deps Deps
}

func correlationID(req *http.Request) string {
	if id := req.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func renderJson(w http.ResponseWriter, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(resp)
	if err != nil {
		renderJsonError(w, problem.Wrap(problem.Internal, err, "could not encode response"), uuid.NewString())
		return
	}
	w.Write(body)
}

func renderJsonError(w http.ResponseWriter, err error, correlationID string) {
	doc := problem.DocumentFor(err, correlationID)
	log.WithField("correlation_id", correlationID).Error(err.Error())
	w.Header().Set("Content-Type", "application/problem+json")
	body, _ := json.Marshal(doc)
	w.WriteHeader(doc.Status)
	w.Write(body)
}

func decodeBody(req *http.Request, into interface{}) error {
	defer req.Body.Close()
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return problem.Wrap(problem.Invalid, err, "malformed request body")
	}
	return nil
}

func (h *handler) handleIngest(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	cid := correlationID(req)
	var payload graph.IngestRequest
	if err := decodeBody(req, &payload); err != nil {
		renderJsonError(w, err, cid)
		return
	}
	report, err := h.deps.Ingestor.Ingest(req.Context(), &payload)
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	renderJson(w, report)
}

func (h *handler) handleListServices(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	services, err := h.deps.Store.ListServices(req.Context())
	if err != nil {
		renderJsonError(w, err, correlationID(req))
		return
	}
	renderJson(w, map[string]interface{}{"services": services})
}

func (h *handler) handleGetService(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	svc, err := h.deps.Store.GetService(req.Context(), p.ByName("service_id"))
	if err != nil {
		renderJsonError(w, err, correlationID(req))
		return
	}
	renderJson(w, svc)
}

type subgraphNode struct {
	*graph.Service
	Depth int `json:"depth"`
}

type subgraphResponse struct {
	Root  *graph.Service `json:"root"`
	Nodes []subgraphNode `json:"nodes"`
	Edges []*graph.Edge  `json:"edges"`
	Stats graph.Stats    `json:"stats"`
}

func (h *handler) handleSubgraph(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	cid := correlationID(req)
	ctx, cancel := context.WithTimeout(req.Context(), traversalDeadline)
	defer cancel()

	direction := graph.Direction(req.FormValue("direction"))
	if direction == "" {
		direction = graph.DirectionDownstream
	}
	depth, err := formInt(req, "depth", defaultSubgraphDepth)
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	includeStale := req.FormValue("include_stale") == "true"

	root, err := h.deps.Store.GetService(ctx, p.ByName("service_id"))
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	sub, err := graph.Traverse(ctx, h.deps.Store, root, direction, depth, includeStale)
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}

	resp := subgraphResponse{Root: sub.Root, Edges: sub.Edges, Stats: sub.Stats()}
	for _, n := range sub.Nodes {
		resp.Nodes = append(resp.Nodes, subgraphNode{Service: n, Depth: sub.Depth[n.UID]})
	}
	renderJson(w, resp)
}

func (h *handler) handleConstraints(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	cid := correlationID(req)
	ctx, cancel := context.WithTimeout(req.Context(), analysisDeadline)
	defer cancel()

	creq, err := constraintRequest(req, p.ByName("service_id"))
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	report, err := h.deps.Analyzer.Analyze(ctx, creq)
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	renderJson(w, report)
}

func (h *handler) handleErrorBudget(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	cid := correlationID(req)
	ctx, cancel := context.WithTimeout(req.Context(), analysisDeadline)
	defer cancel()

	creq, err := constraintRequest(req, p.ByName("service_id"))
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	budget, err := h.deps.Analyzer.BudgetBreakdown(ctx, creq)
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	renderJson(w, budget)
}

type impactBody struct {
	SLIType           string   `json:"sli_type,omitempty"`
	CurrentTargetPct  *float64 `json:"current_target_pct,omitempty"`
	ProposedTargetPct float64  `json:"proposed_target_pct"`
	LookbackDays      int      `json:"lookback_days,omitempty"`
	MaxDepth          int      `json:"max_depth,omitempty"`
}

func (h *handler) handleImpact(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	cid := correlationID(req)
	ctx, cancel := context.WithTimeout(req.Context(), analysisDeadline)
	defer cancel()

	var body impactBody
	if err := decodeBody(req, &body); err != nil {
		renderJsonError(w, err, cid)
		return
	}
	report, err := h.deps.Analyzer.Impact(ctx, &analysis.ImpactRequest{
		ServiceID:         p.ByName("service_id"),
		SLIType:           body.SLIType,
		CurrentTargetPct:  body.CurrentTargetPct,
		ProposedTargetPct: body.ProposedTargetPct,
		LookbackDays:      body.LookbackDays,
		MaxDepth:          body.MaxDepth,
	})
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	renderJson(w, report)
}

func (h *handler) handleSLOTransition(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	cid := correlationID(req)
	var body slo.TransitionRequest
	if err := decodeBody(req, &body); err != nil {
		renderJsonError(w, err, cid)
		return
	}
	result, err := h.deps.Lifecycle.Apply(req.Context(), p.ByName("service_id"), &body)
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	renderJson(w, result)
}

func (h *handler) handleGetSLO(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	active, err := h.deps.SLOs.GetActive(req.Context(), p.ByName("service_id"))
	if err != nil {
		renderJsonError(w, err, correlationID(req))
		return
	}
	renderJson(w, active)
}

func (h *handler) handleSLOHistory(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	entries, err := h.deps.SLOs.History(req.Context(), p.ByName("service_id"))
	if err != nil {
		renderJsonError(w, err, correlationID(req))
		return
	}
	renderJson(w, map[string]interface{}{"entries": entries})
}

func (h *handler) handleListAlerts(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	alerts, err := h.deps.Store.ListAlerts(req.Context(), graph.AlertStatus(req.FormValue("status")))
	if err != nil {
		renderJsonError(w, err, correlationID(req))
		return
	}
	renderJson(w, map[string]interface{}{"alerts": alerts})
}

type alertBody struct {
	Notes string `json:"notes,omitempty"`
}

func (h *handler) handleAckAlert(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	h.transitionAlert(w, req, p, graph.AlertAcknowledged)
}

func (h *handler) handleResolveAlert(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	h.transitionAlert(w, req, p, graph.AlertResolved)
}

func (h *handler) transitionAlert(w http.ResponseWriter, req *http.Request, p httprouter.Params, status graph.AlertStatus) {
	cid := correlationID(req)
	uid, err := uuid.Parse(p.ByName("alert_id"))
	if err != nil {
		renderJsonError(w, problem.Wrap(problem.Invalid, err, "malformed alert id"), cid)
		return
	}
	var body alertBody
	if req.ContentLength > 0 {
		if err := decodeBody(req, &body); err != nil {
			renderJsonError(w, err, cid)
			return
		}
	}
	alert, err := h.deps.Store.UpdateAlertStatus(req.Context(), uid, status, body.Notes)
	if err != nil {
		renderJsonError(w, err, cid)
		return
	}
	renderJson(w, alert)
}

func constraintRequest(req *http.Request, serviceID string) (*analysis.ConstraintRequest, error) {
	creq := &analysis.ConstraintRequest{ServiceID: serviceID}

	if v := req.FormValue("desired_target"); v != "" {
		target, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, problem.Wrap(problem.Invalid, err, "malformed desired_target %q", v)
		}
		creq.DesiredTargetPct = &target
	} else if v := req.FormValue("target"); v != "" {
		target, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, problem.Wrap(problem.Invalid, err, "malformed target %q", v)
		}
		creq.DesiredTargetPct = &target
	}

	var err error
	if creq.LookbackDays, err = formInt(req, "lookback_days", 0); err != nil {
		return nil, err
	}
	if creq.MaxDepth, err = formInt(req, "max_depth", 0); err != nil {
		return nil, err
	}
	return creq, nil
}

func formInt(req *http.Request, name string, fallback int) (int, error) {
	v := req.FormValue(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, problem.Wrap(problem.Invalid, err, "malformed %s %q", name, v)
	}
	return n, nil
}
