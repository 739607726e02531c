package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/observability/metrics"
)

// Router exposes the query pipeline over HTTP. All pipeline semantics live
// behind the inbound port; the router only decodes, delegates, and maps.
type Router struct {
	pipeline ports.QueryPipeline
	metrics  *metrics.HTTPServerMetrics
	contract *Contract
	service  string

	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
	admissionWait  time.Duration
}

type RouterOptions struct {
	Service        string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	AdmissionWait  time.Duration
}

func NewRouter(pipeline ports.QueryPipeline, m *metrics.HTTPServerMetrics, contract *Contract, options RouterOptions) *Router {
	service := options.Service
	if service == "" {
		service = "rag-query-engine"
	}
	maxInFlight := options.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	admissionWait := options.AdmissionWait
	if admissionWait <= 0 {
		admissionWait = 100 * time.Millisecond
	}
	return &Router{
		pipeline:       pipeline,
		metrics:        m,
		contract:       contract,
		service:        service,
		rateLimitRPS:   options.RateLimitRPS,
		rateLimitBurst: options.RateLimitBurst,
		maxInFlight:    maxInFlight,
		admissionWait:  admissionWait,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/rag/query", rt.queryRAG)
	if rt.contract != nil {
		mux.HandleFunc("/v1/openapi.json", rt.contract.ServeJSON)
	}
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, rt.admissionWait)
	if rt.rateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Question     string                 `json:"question"`
	CollectionID string                 `json:"collection_id"`
	UserID       string                 `json:"user_id"`
	Override     *domain.ConfigOverride `json:"override,omitempty"`
}

type queryErrorResponse struct {
	Error     string              `json:"error"`
	RequestID string              `json:"request_id,omitempty"`
	State     string              `json:"state,omitempty"`
	Errors    []domain.StageError `json:"errors,omitempty"`
}

func (rt *Router) queryRAG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = strings.TrimSpace(r.Header.Get("X-User-Id"))
	}

	sc, err := rt.pipeline.ExecuteQuery(r.Context(), domain.QueryRequest{
		Question:     req.Question,
		CollectionID: req.CollectionID,
		UserID:       req.UserID,
		Override:     req.Override,
	})
	rt.observeRun(sc)

	if err != nil {
		resp := queryErrorResponse{Error: err.Error()}
		if sc != nil {
			resp.RequestID = sc.RequestID
			resp.State = string(sc.State)
			resp.Errors = sc.Errors
		}
		writeJSON(w, mapErrorToHTTPStatus(err), resp)
		return
	}

	writeJSON(w, http.StatusOK, sc)
}

func (rt *Router) observeRun(sc *domain.SearchContext) {
	if rt.metrics == nil || sc == nil {
		return
	}
	rt.metrics.RecordQueryOutcome(
		rt.service,
		string(sc.State),
		sc.Partial,
		len(sc.RetrievedChunks),
		sc.FinishedAt.Sub(sc.StartedAt),
	)
	for stage, duration := range sc.StageTimings {
		rt.metrics.RecordStageDuration(rt.service, string(stage), duration)
	}
	for _, stageErr := range sc.Errors {
		rt.metrics.RecordStageError(rt.service, string(stageErr.Stage), stageErr.Kind)
	}
	rt.metrics.RecordReasoningSteps(rt.service, len(sc.ReasoningTrace))
	if sc.State == domain.StateDone && !sc.Partial {
		rt.metrics.RecordCitations(rt.service, len(sc.Citations))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
