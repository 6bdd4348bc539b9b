// Package api exposes the administrative HTTP handlers of the collector.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/auth"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/persistence"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sources", h.sources)
	mux.HandleFunc("/v1/sources/", h.sourceByID)
	mux.HandleFunc("/v1/activities", h.listActivities)
	mux.HandleFunc("/v1/done-tasks", h.listDoneTasks)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authorize writes the 401/403 response and reports false when the request lacks
// any of the scopes.
func authorize(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scopes...) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
		return false
	}
	return true
}

func (h *Handler) sources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listSources(w, r)
	case http.MethodPost:
		h.createSource(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) sourceByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sources/")
	if rest == "validate" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.validateSource(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid source id")
		return
	}
	if !authorize(w, r, auth.ScopeSourcesRead, auth.ScopeSourcesWrite) {
		return
	}

	source, err := h.service.GetSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSourceView(*source))
}

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, auth.ScopeSourcesRead, auth.ScopeSourcesWrite) {
		return
	}

	sources, err := h.service.ListSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]SourceView, 0, len(sources))
	for _, s := range sources {
		items = append(items, toSourceView(s))
	}
	writeJSON(w, http.StatusOK, ListSourcesResponse{Items: items})
}

func (h *Handler) createSource(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, auth.ScopeSourcesWrite) {
		return
	}

	var req CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	source, err := h.service.CreateSource(r.Context(), domain.CreateSourceInput{
		Type:        domain.SourceType(strings.ToLower(strings.TrimSpace(req.Type))),
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
		Active:      active,
		Private:     req.Private,
	})
	if err != nil {
		switch {
		case connector.IsConfigError(err):
			writeConfigError(w, err)
		case errors.Is(err, domain.ErrSourceExists):
			writeError(w, http.StatusConflict, "conflict", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, toSourceView(*source))
}

func (h *Handler) validateSource(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, auth.ScopeSourcesWrite) {
		return
	}

	var req ValidateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	sourceType := domain.SourceType(strings.ToLower(strings.TrimSpace(req.Type)))
	if err := h.service.ValidateSourceConfig(sourceType, req.Config); err != nil {
		if connector.IsConfigError(err) {
			writeConfigError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	employeeID, cursor, limit, ok := parseListRequest(w, r)
	if !ok {
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), employeeID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

func (h *Handler) listDoneTasks(w http.ResponseWriter, r *http.Request) {
	employeeID, cursor, limit, ok := parseListRequest(w, r)
	if !ok {
		return
	}

	tasks, next, err := h.service.ListDoneTasks(r.Context(), employeeID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]DoneTaskView, 0, len(tasks))
	for _, d := range tasks {
		items = append(items, toDoneTaskView(d))
	}
	writeJSON(w, http.StatusOK, ListDoneTasksResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

// parseListRequest handles the method, scope and query parameters shared by the
// record listings.
func parseListRequest(w http.ResponseWriter, r *http.Request) (int64, *domain.Cursor, int, bool) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return 0, nil, 0, false
	}
	if !authorize(w, r, auth.ScopeActivitiesRead) {
		return 0, nil, 0, false
	}

	query := r.URL.Query()
	employeeID, err := strconv.ParseInt(query.Get("employee_id"), 10, 64)
	if err != nil || employeeID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing or invalid employee_id parameter")
		return 0, nil, 0, false
	}

	limit := defaultPageSize
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageSize)
		}
	}

	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return 0, nil, 0, false
	}
	return employeeID, cursor, limit, true
}

// CreateSourceRequest is the payload for POST /v1/sources.
type CreateSourceRequest struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config"`
	Active      *bool           `json:"active,omitempty"`
	Private     bool            `json:"private"`
}

// Validate ensures request correctness.
func (r CreateSourceRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("type is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// ValidateSourceRequest is the payload for POST /v1/sources/validate.
type ValidateSourceRequest struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// SourceView exposes a source with its watermarks; the config blob carries
// credentials and is never returned.
type SourceView struct {
	ID                 int64     `json:"id"`
	Type               string    `json:"type"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Active             bool      `json:"active"`
	Private            bool      `json:"private"`
	ActivityCollected  time.Time `json:"activity_collected"`
	DoneTasksCollected time.Time `json:"done_tasks_collected"`
}

// ListSourcesResponse packages source list results.
type ListSourcesResponse struct {
	Items []SourceView `json:"items"`
}

// ActivityView exposes one collected activity.
type ActivityView struct {
	ID              int64          `json:"id"`
	EmployeeID      int64          `json:"employee_id"`
	SourceID        int64          `json:"source_id"`
	Action          string         `json:"action"`
	Time            time.Time      `json:"time"`
	TargetID        string         `json:"target_id"`
	TargetLink      string         `json:"target_link,omitempty"`
	TargetName      string         `json:"target_name,omitempty"`
	DurationSeconds int64          `json:"duration_seconds"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// ListActivitiesResponse packages activity list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// DoneTaskView exposes one completed task.
type DoneTaskView struct {
	ID         int64     `json:"id"`
	EmployeeID int64     `json:"employee_id"`
	SourceID   int64     `json:"source_id"`
	Time       time.Time `json:"time"`
	TaskID     string    `json:"task_id"`
	TaskType   string    `json:"task_type"`
	TaskName   string    `json:"task_name,omitempty"`
	TaskLink   string    `json:"task_link,omitempty"`
}

// ListDoneTasksResponse packages done-task list results.
type ListDoneTasksResponse struct {
	Items      []DoneTaskView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func writeConfigError(w http.ResponseWriter, err error) {
	var cfgErr *connector.ConfigError
	errors.As(err, &cfgErr)
	key := cfgErr.Key
	if errors.Is(err, connector.ErrUnknownSourceType) {
		key = "type"
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
		"type":   "invalid_config",
		"key":    key,
		"detail": err.Error(),
	})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toSourceView(s domain.Source) SourceView {
	return SourceView{
		ID:                 s.ID,
		Type:               string(s.Type),
		Name:               s.Name,
		Description:        s.Description,
		Active:             s.Active,
		Private:            s.Private,
		ActivityCollected:  s.ActivityCollected,
		DoneTasksCollected: s.DoneTasksCollected,
	}
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ID:              a.ID,
		EmployeeID:      a.EmployeeID,
		SourceID:        a.SourceID,
		Action:          a.Action,
		Time:            a.Time,
		TargetID:        a.TargetID,
		TargetLink:      a.TargetLink,
		TargetName:      a.TargetName,
		DurationSeconds: int64(a.Duration / time.Second),
		Meta:            a.Meta,
	}
}

func toDoneTaskView(d domain.DoneTask) DoneTaskView {
	return DoneTaskView{
		ID:         d.ID,
		EmployeeID: d.EmployeeID,
		SourceID:   d.SourceID,
		Time:       d.Time,
		TaskID:     d.TaskID,
		TaskType:   d.TaskType,
		TaskName:   d.TaskName,
		TaskLink:   d.TaskLink,
	}
}
