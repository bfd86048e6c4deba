package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/maxsam-ai/modelrouter/internal/providers"
	"github.com/maxsam-ai/modelrouter/internal/router"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Service           string `json:"service"`
	SupabaseConnected bool   `json:"supabase_connected"`
	OllamaReachable   bool   `json:"ollama_reachable"`
	Version           string `json:"version"`
}

// HealthHandler probes the registry and the local backend on every call.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Service: "router-service",
			Version: d.Version,
		}
		if d.Registry != nil {
			resp.SupabaseConnected = d.Registry.IsConnected(r.Context())
		}
		if d.Local != nil {
			resp.OllamaReachable = d.Local.IsReachable(r.Context())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RouteRequest is the body of POST /route: decision only, no execution.
type RouteRequest struct {
	TaskType    string             `json:"task_type"`
	Prompt      string             `json:"prompt"`
	Context     string             `json:"context,omitempty"`
	Sensitivity router.Sensitivity `json:"sensitivity,omitempty"`
}

func (r RouteRequest) validate() string {
	if r.TaskType == "" {
		return "task_type required"
	}
	if r.Prompt == "" {
		return "prompt required"
	}
	if r.Sensitivity != "" && !r.Sensitivity.Valid() {
		return "sensitivity must be one of low, normal, high"
	}
	return ""
}

// RouteHandler computes a routing decision without executing it.
func RouteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if msg := req.validate(); msg != "" {
			jsonError(w, msg, http.StatusBadRequest)
			return
		}

		resp := d.Pipeline.Route(r.Context(), router.Request{
			TaskType:    req.TaskType,
			Prompt:      req.Prompt,
			Context:     req.Context,
			Sensitivity: req.Sensitivity,
		})
		writeJSON(w, http.StatusOK, resp)
	}
}

// ExecuteRequest is the body of POST /execute: direct execution on one tier,
// bypassing the decision engine.
type ExecuteRequest struct {
	Tier    router.Tier `json:"tier"`
	Model   string      `json:"model,omitempty"`
	Prompt  string      `json:"prompt"`
	Context string      `json:"context,omitempty"`
}

func (r ExecuteRequest) validate() string {
	if !r.Tier.Valid() {
		return "tier must be one of local, market, premium"
	}
	if r.Prompt == "" {
		return "prompt required"
	}
	return ""
}

// ExecuteHandler runs a prompt directly on the requested tier.
func ExecuteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if msg := req.validate(); msg != "" {
			jsonError(w, msg, http.StatusBadRequest)
			return
		}

		ctx := providers.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		outcome := d.Pipeline.Execute(ctx, req.Tier, req.Model, req.Prompt, req.Context)
		writeJSON(w, http.StatusOK, outcome)
	}
}

func validateRunRequest(req router.Request) string {
	if req.TaskType == "" {
		return "task_type required"
	}
	if req.Prompt == "" {
		return "prompt required"
	}
	if req.Sensitivity != "" && !req.Sensitivity.Valid() {
		return "sensitivity must be one of low, normal, high"
	}
	return ""
}

// RunHandler drives the full pipeline and returns the structured Result. A
// failed request is still a 200 with success=false; only malformed input and
// internal panics produce error statuses.
func RunHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if msg := validateRunRequest(req); msg != "" {
			jsonError(w, msg, http.StatusBadRequest)
			return
		}

		ctx := providers.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		result := d.Pipeline.Run(ctx, req)

		if d.Metrics != nil {
			d.Metrics.ObserveRequest(result.Decision.Route, result.Success, result.Decision.CostEstimate)
		}
		writeJSON(w, http.StatusOK, result)
	}
}
