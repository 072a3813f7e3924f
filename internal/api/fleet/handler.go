// Package fleet serves the agent-facing endpoints: server heartbeats and
// maintenance, job registration and execution lifecycle.
package fleet

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/monitor"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeInternalError    = "INTERNAL_ERROR"
)

var log = logger.WithPrefix("api-fleet")

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Errorf("json encode error: %v", err)
	}
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Errorf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

func internalError(w http.ResponseWriter, op string, err error) {
	log.Errorf("%s: %v", op, err)
	jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
}

// Handler serves server, job and execution endpoints.
type Handler struct {
	servers    storage.ServerRepository
	jobs       storage.JobRepository
	executions storage.ExecutionRepository
	publisher  alerting.Publisher
	now        func() time.Time
}

// NewHandler creates a fleet handler. Server status changes are broadcast
// through publisher.
func NewHandler(store storage.Storage, publisher alerting.Publisher) *Handler {
	return &Handler{
		servers:    store.Servers(),
		jobs:       store.Jobs(),
		executions: store.Executions(),
		publisher:  publisher,
		now:        time.Now,
	}
}

func (h *Handler) publishStatus(r *http.Request, change monitor.StatusChange) {
	ev := notifier.NewScopedEvent(notifier.EventServerStatus, "", change.ServerName, change)
	if err := h.publisher.Broadcast(r.Context(), ev); err != nil {
		log.Warnf("broadcast server status for %s: %v", change.ServerName, err)
	}
}

// Heartbeat handles POST /api/v1/servers/heartbeat. Unknown servers are
// registered Online; a server coming back from Offline is announced.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	req.ServerName = strings.TrimSpace(req.ServerName)

	now := h.now().UTC()
	previous, err := h.servers.Heartbeat(r.Context(), &req.Heartbeat, now)
	if err != nil {
		internalError(w, "heartbeat", err)
		return
	}
	if previous == models.ServerStatusOffline {
		log.Infof("server %s is back online", req.ServerName)
		h.publishStatus(r, monitor.StatusChange{
			ServerName:    req.ServerName,
			From:          previous,
			To:            models.ServerStatusOnline,
			LastHeartbeat: &now,
		})
	}

	srv, err := h.servers.GetByName(r.Context(), req.ServerName)
	if err != nil {
		internalError(w, "load server", err)
		return
	}
	jsonOK(w, srv)
}

// ListServers handles GET /api/v1/servers.
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	var servers []*models.Server
	var err error
	if s := r.URL.Query().Get("status"); s != "" {
		servers, err = h.servers.ListByStatus(r.Context(), models.ServerStatus(s))
	} else {
		servers, err = h.servers.List(r.Context())
	}
	if err != nil {
		internalError(w, "list servers", err)
		return
	}
	if servers == nil {
		servers = []*models.Server{}
	}
	jsonOK(w, servers)
}

// GetServer handles GET /api/v1/servers/{name}.
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := h.servers.GetByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		internalError(w, "get server", err)
		return
	}
	if srv == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "server not found")
		return
	}
	jsonOK(w, srv)
}

// EnterMaintenance handles POST /api/v1/servers/{name}/maintenance.
func (h *Handler) EnterMaintenance(w http.ResponseWriter, r *http.Request) {
	h.setMaintenance(w, r, true)
}

// ExitMaintenance handles DELETE /api/v1/servers/{name}/maintenance.
func (h *Handler) ExitMaintenance(w http.ResponseWriter, r *http.Request) {
	h.setMaintenance(w, r, false)
}

func (h *Handler) setMaintenance(w http.ResponseWriter, r *http.Request, enabled bool) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	before, err := h.servers.GetByName(ctx, name)
	if err != nil {
		internalError(w, "get server", err)
		return
	}
	if before == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "server not found")
		return
	}

	if err := h.servers.SetMaintenance(ctx, name, enabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "server not found")
			return
		}
		internalError(w, "set maintenance", err)
		return
	}

	after, err := h.servers.GetByName(ctx, name)
	if err != nil || after == nil {
		internalError(w, "reload server", err)
		return
	}
	if after.Status != before.Status {
		log.Infof("server %s: %s -> %s", name, before.Status, after.Status)
		h.publishStatus(r, monitor.StatusChange{
			ServerName:    name,
			From:          before.Status,
			To:            after.Status,
			LastHeartbeat: after.LastHeartbeat,
		})
	}
	jsonOK(w, after)
}

// RegisterJob handles POST /api/v1/jobs/register. Registering an existing
// job id updates its definition.
func (h *Handler) RegisterJob(w http.ResponseWriter, r *http.Request) {
	var req RegisterJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	job := req.toModel(h.now().UTC())
	if err := h.jobs.Register(r.Context(), job); err != nil {
		internalError(w, "register job", err)
		return
	}
	stored, err := h.jobs.GetByID(r.Context(), job.JobID)
	if err != nil || stored == nil {
		internalError(w, "reload job", err)
		return
	}
	jsonOK(w, stored)
}

// ListJobs handles GET /api/v1/jobs (?active=true).
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var jobs []*models.Job
	var err error
	if r.URL.Query().Get("active") == "true" {
		jobs, err = h.jobs.ListActive(r.Context())
	} else {
		jobs, err = h.jobs.List(r.Context())
	}
	if err != nil {
		internalError(w, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	jsonOK(w, jobs)
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get job", err)
		return
	}
	if job == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "job not found")
		return
	}
	jsonOK(w, job)
}

// StartExecution handles POST /api/v1/executions. The job must be registered.
func (h *Handler) StartExecution(w http.ResponseWriter, r *http.Request) {
	var req StartExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	ctx := r.Context()
	job, err := h.jobs.GetByID(ctx, strings.TrimSpace(req.JobID))
	if err != nil {
		internalError(w, "get job", err)
		return
	}
	if job == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "job not registered")
		return
	}

	triggerType, _ := ValidateTriggerType(req.TriggerType)
	exec := &models.Execution{
		ID:          req.ID,
		JobID:       job.JobID,
		ServerName:  strings.TrimSpace(req.ServerName),
		Status:      models.ExecutionRunning,
		StartedAt:   h.now().UTC(),
		TriggerType: triggerType,
		TriggeredBy: req.TriggeredBy,
		Parameters:  req.Parameters,
	}
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.ServerName == "" {
		exec.ServerName = job.ServerName
	}
	if req.StartedAt != nil && !req.StartedAt.IsZero() {
		exec.StartedAt = req.StartedAt.UTC()
	}

	existing, err := h.executions.GetByID(ctx, exec.ID)
	if err != nil {
		internalError(w, "get execution", err)
		return
	}
	if existing != nil {
		jsonError(w, http.StatusConflict, errCodeConflict, "execution id already exists")
		return
	}
	if err := h.executions.Create(ctx, exec); err != nil {
		internalError(w, "create execution", err)
		return
	}
	jsonStatus(w, http.StatusCreated, exec)
}

// GetExecution handles GET /api/v1/executions/{id}.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.executions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get execution", err)
		return
	}
	if exec == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "execution not found")
		return
	}
	jsonOK(w, exec)
}

// CompleteExecution handles PUT /api/v1/executions/{id}/complete.
func (h *Handler) CompleteExecution(w http.ResponseWriter, r *http.Request) {
	var req CompleteExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	status, err := req.Validate()
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	h.finish(w, r, status, req.ErrorMessage, req.OutputMessage)
}

// CancelExecution handles POST /api/v1/executions/{id}/cancel. The body
// is optional.
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	var req CancelExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled"
	}
	h.finish(w, r, models.ExecutionCancelled, reason, "")
}

// finish moves a Pending or Running execution to a final status. The store
// update is conditional, so an execution the timeout loop has just expired
// answers 409.
func (h *Handler) finish(w http.ResponseWriter, r *http.Request, status models.ExecutionStatus, errMsg, output string) {
	ctx := r.Context()
	exec, err := h.executions.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get execution", err)
		return
	}
	if exec == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "execution not found")
		return
	}

	if !exec.Complete(status, errMsg, output, h.now().UTC()) {
		jsonError(w, http.StatusConflict, errCodeConflict, "execution already completed as "+string(exec.Status))
		return
	}
	ok, err := h.executions.Complete(ctx, exec)
	if err != nil {
		internalError(w, "complete execution", err)
		return
	}
	if !ok {
		jsonError(w, http.StatusConflict, errCodeConflict, "execution already completed")
		return
	}
	log.Debugf("execution %s of %s finished: %s", exec.ID, exec.JobID, exec.Status)
	jsonOK(w, exec)
}
