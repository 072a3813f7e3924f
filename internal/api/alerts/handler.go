// Package alerts serves the alert rule and instance endpoints.
package alerts

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

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

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

var log = logger.WithPrefix("api-alerts")

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

// InstanceListResponse is a page of alert instances.
type InstanceListResponse struct {
	Items   []*models.AlertInstance `json:"items"`
	Total   int64                   `json:"total"`
	Page    int                     `json:"page"`
	PerPage int                     `json:"per_page"`
}

// TriggerResponse reports the outcome of a manual trigger. Instance is nil
// when the rule was disabled or throttled.
type TriggerResponse struct {
	Triggered bool                  `json:"triggered"`
	Instance  *models.AlertInstance `json:"instance,omitempty"`
}

// Handler handles alert endpoints.
type Handler struct {
	rules     storage.RuleRepository
	instances storage.InstanceRepository
	service   *alerting.Service
}

// NewHandler creates an alert handler. Reads go to the repositories,
// mutations through the service.
func NewHandler(rules storage.RuleRepository, instances storage.InstanceRepository, service *alerting.Service) *Handler {
	return &Handler{rules: rules, instances: instances, service: service}
}

// ListRules handles GET /alerts/rules. ?enabled=true limits to enabled rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		rules []*models.AlertRule
		err   error
	)
	if enabled, _ := strconv.ParseBool(r.URL.Query().Get("enabled")); enabled {
		rules, err = h.rules.ListEnabled(ctx)
	} else {
		rules, err = h.rules.List(ctx)
	}
	if err != nil {
		log.Errorf("list rules error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if rules == nil {
		rules = []*models.AlertRule{}
	}
	jsonOK(w, rules)
}

// GetRule handles GET /alerts/rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := h.rules.GetByID(r.Context(), id)
	if err != nil {
		log.Errorf("get rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if rule == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert rule not found")
		return
	}
	jsonOK(w, rule)
}

// SetEnabledRequest is the body of PUT /alerts/rules/{id}/enabled.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetEnabled handles PUT /alerts/rules/{id}/enabled.
func (h *Handler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.Enabled == nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "enabled is required")
		return
	}

	ctx := r.Context()
	if err := h.rules.SetEnabled(ctx, id, *req.Enabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert rule not found")
			return
		}
		log.Errorf("set rule enabled error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	rule, err := h.rules.GetByID(ctx, id)
	if err != nil || rule == nil {
		log.Errorf("reload rule %s: %v", id, err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	log.Infof("rule %q enabled=%t", rule.Name, rule.Enabled)
	jsonOK(w, rule)
}

// Trigger handles POST /alerts/rules/{id}/trigger, the manual trigger used
// by Custom rules.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	inst, err := h.service.TriggerAlert(r.Context(), alerting.TriggerRequest{
		RuleID:     id,
		Message:    strings.TrimSpace(req.Message),
		Context:    req.Context,
		JobID:      req.JobID,
		ServerName: req.ServerName,
	})
	if err != nil {
		if errors.Is(err, alerting.ErrRuleNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert rule not found")
			return
		}
		log.Errorf("trigger rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if inst == nil {
		jsonStatus(w, http.StatusAccepted, TriggerResponse{Triggered: false})
		return
	}
	jsonStatus(w, http.StatusCreated, TriggerResponse{Triggered: true, Instance: inst})
}

// ListInstances handles GET /alerts/instances with optional filters
// status (comma separated), rule_id, severity, job_id, server_name and
// paging via page and per_page.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &storage.InstanceFilter{
		RuleID:     q.Get("rule_id"),
		JobID:      q.Get("job_id"),
		ServerName: q.Get("server_name"),
	}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, ok := models.ParseAlertStatus(s)
			if !ok {
				jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid status: "+strings.TrimSpace(s))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if raw := q.Get("severity"); raw != "" {
		sev, err := ValidateSeverity(raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		filter.Severity = sev
	}

	page, perPage, err := parsePaging(q.Get("page"), q.Get("per_page"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	items, total, err := h.instances.List(r.Context(), filter)
	if err != nil {
		log.Errorf("list instances error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if items == nil {
		items = []*models.AlertInstance{}
	}
	jsonOK(w, InstanceListResponse{Items: items, Total: total, Page: page, PerPage: perPage})
}

// ActiveInstances handles GET /alerts/instances/active.
func (h *Handler) ActiveInstances(w http.ResponseWriter, r *http.Request) {
	items, err := h.instances.ListActive(r.Context())
	if err != nil {
		log.Errorf("list active instances error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if items == nil {
		items = []*models.AlertInstance{}
	}
	jsonOK(w, items)
}

// GetInstance handles GET /alerts/instances/{id}.
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.instances.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		log.Errorf("get instance error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if inst == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert instance not found")
		return
	}
	jsonOK(w, inst)
}

// Acknowledge handles POST /alerts/instances/{id}/acknowledge.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor, note string) (*models.AlertInstance, error) {
		return h.service.Acknowledge(r.Context(), id, actor, note)
	})
}

// Resolve handles POST /alerts/instances/{id}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor, note string) (*models.AlertInstance, error) {
		return h.service.Resolve(r.Context(), id, actor, note)
	})
}

// Suppress handles POST /alerts/instances/{id}/suppress.
func (h *Handler) Suppress(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor, note string) (*models.AlertInstance, error) {
		return h.service.Suppress(r.Context(), id, actor, note)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(r *http.Request, id, actor, note string) (*models.AlertInstance, error)) {
	var req TransitionRequest
	// The body is optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	inst, err := apply(r, chi.URLParam(r, "id"), req.actor(), strings.TrimSpace(req.Notes))
	switch {
	case errors.Is(err, alerting.ErrInstanceNotFound):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert instance not found")
	case errors.Is(err, alerting.ErrInvalidTransition):
		jsonError(w, http.StatusConflict, errCodeConflict, err.Error())
	case err != nil:
		log.Errorf("alert transition error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
	default:
		jsonOK(w, inst)
	}
}

// Summary handles GET /alerts/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		log.Errorf("alert summary error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	jsonOK(w, summary)
}

func parsePaging(pageStr, perPageStr string) (int, int, error) {
	page, perPage := 1, defaultPerPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = p
	}
	if perPageStr != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p < 1 {
			return 0, 0, errors.New("per_page must be a positive integer")
		}
		perPage = min(p, maxPerPage)
	}
	return page, perPage, nil
}
