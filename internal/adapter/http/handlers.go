package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Strob0t/QueryWarden/internal/domain"
	"github.com/Strob0t/QueryWarden/internal/domain/flow"
	"github.com/Strob0t/QueryWarden/internal/service"
)

const (
	defaultListLimit      = 50
	maxListLimit          = 500
	defaultBodyLimit      = 1 << 20 // 1 MB
	healthCheckTimeout    = 3 * time.Second
	healthStatusOK        = "ok"
	healthStatusDegraded  = "degraded"
	healthComponentFailed = "unavailable"
)

// HealthCheck checks one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handlers' dependencies.
type Handlers struct {
	Flows     *service.FlowService
	Checks    map[string]HealthCheck
	BodyLimit int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return defaultBodyLimit
}

type startFlowRequest struct {
	InputText string `json:"input_text"`
}

type startFlowResponse struct {
	SessionID string      `json:"session_id"`
	Stage     flow.Stage  `json:"stage"`
	Status    flow.Status `json:"status"`
}

// StartFlow handles POST /api/v1/flows
func (h *Handlers) StartFlow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[startFlowRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	id, err := h.Flows.Start(r.Context(), req.InputText)
	if err != nil {
		writeDomainError(w, err, "flow could not be started")
		return
	}
	w.Header().Set("Location", "/api/v1/flows/"+id)
	writeJSON(w, http.StatusAccepted, startFlowResponse{
		SessionID: id,
		Stage:     flow.StageInitializing,
		Status:    flow.StatusRunning,
	})
}

// ListFlows handles GET /api/v1/flows
func (h *Handlers) ListFlows(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := h.Flows.List(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err, "flows not found")
		return
	}
	if sessions == nil {
		sessions = []flow.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetFlow handles GET /api/v1/flows/{id}
func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Flows.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "flow not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// FlowStatus handles GET /api/v1/flows/{id}/status
func (h *Handlers) FlowStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Flows.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "flow not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// FlowResult handles GET /api/v1/flows/{id}/result. A running flow answers
// 202 with its status view so pollers can keep waiting.
func (h *Handlers) FlowResult(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	res, err := h.Flows.Result(r.Context(), id)
	if errors.Is(err, domain.ErrPending) {
		v, serr := h.Flows.Status(r.Context(), id)
		if serr != nil {
			writeDomainError(w, serr, "flow not found")
			return
		}
		writeJSON(w, http.StatusAccepted, v)
		return
	}
	if err != nil {
		writeDomainError(w, err, "flow not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPGSessions handles GET /api/v1/pg/sessions
func (h *Handlers) ListPGSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Flows.ListActiveSessions(r.Context())
	if err != nil {
		writeDomainError(w, err, "sessions not found")
		return
	}
	type sessionView struct {
		PID             int32   `json:"pid"`
		State           string  `json:"state"`
		Query           string  `json:"query"`
		ElapsedSeconds  float64 `json:"elapsed_seconds"`
		ApplicationName string  `json:"application_name,omitempty"`
		Username        string  `json:"username,omitempty"`
		Database        string  `json:"database,omitempty"`
	}
	out := make([]sessionView, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		out = append(out, sessionView{
			PID:             rec.PID,
			State:           rec.State,
			Query:           rec.Preview(),
			ElapsedSeconds:  rec.Elapsed.Seconds(),
			ApplicationName: rec.ApplicationName,
			Username:        rec.Username,
			Database:        rec.Database,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// Health handles GET /health. Checks run concurrently; any failure reports
// the service as degraded with 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: healthStatusOK, Components: make(map[string]string, len(h.Checks))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range h.Checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := healthStatusOK
			if err := check(ctx); err != nil {
				state = healthComponentFailed
			}
			mu.Lock()
			resp.Components[name] = state
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := http.StatusOK
	for _, state := range resp.Components {
		if state != healthStatusOK {
			resp.Status = healthStatusDegraded
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, resp)
}
