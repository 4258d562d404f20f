package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"listing_alerts/models"
	"listing_alerts/scheduler"
	"listing_alerts/services"
	"listing_alerts/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// StatusProvider reports the scheduler state.
type StatusProvider interface {
	Status() scheduler.Status
}

// Handler serves the ops and alert endpoints.
type Handler struct {
	status   StatusProvider
	ops      storage.OpsStore
	users    *services.UserService
	alerts   *services.AlertService
	listings *services.ListingService
	validate *validator.Validate
	started  time.Time
}

func NewHandler(status StatusProvider, ops storage.OpsStore, users *services.UserService, alerts *services.AlertService, listings *services.ListingService) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		status:   status,
		ops:      ops,
		users:    users,
		alerts:   alerts,
		listings: listings,
		validate: v,
		started:  time.Now(),
	}
}

type createUserRequest struct {
	ChatID    int64  `json:"chat_id" validate:"required"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Username  string `json:"username" validate:"max=100"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type commandRequest struct {
	Command models.CommandType `json:"command" validate:"required"`
	Force   bool               `json:"force"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	OK(w, h.status.Status())
}

// ListCycles handles GET /api/v1/cycles?limit=N
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, BadRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxRunLimit)
	}
	runs, err := h.ops.ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	OK(w, runs)
}

func (h *Handler) CycleLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathID(w, r, "runID")
	if !ok {
		return
	}
	logs, err := h.ops.ListLogs(r.Context(), runID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	OK(w, logs)
}

// CreateCommand queues a command for the scheduler to pick up.
func (h *Handler) CreateCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Command.Valid() {
		WriteError(w, ValidationError("unknown command", FieldError{Field: "command", Message: "oneof run_cycle pause resume retry_notifications"}))
		return
	}
	id, err := h.ops.CreateCommand(r.Context(), req.Command, &models.CommandParams{Force: req.Force})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]any{"id": id, "command": req.Command})
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.users.GetOrCreate(r.Context(), &models.User{
		ChatID:    req.ChatID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	OK(w, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	OK(w, user)
}

func (h *Handler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req setActiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.users.SetActive(r.Context(), userID, *req.Active); err != nil {
		h.fail(w, r, err)
		return
	}
	NoContent(w)
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	alerts, err := h.alerts.ListActive(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	OK(w, alerts)
}

func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var f models.AlertFilter
	if !h.decode(w, r, &f) {
		return
	}
	alert, err := h.alerts.Create(r.Context(), userID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	Created(w, alert)
}

func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	h.changeAlert(w, r, h.alerts.Delete)
}

func (h *Handler) DeactivateAlert(w http.ResponseWriter, r *http.Request) {
	h.changeAlert(w, r, h.alerts.Deactivate)
}

// changeAlert applies an ownership-checked change. An alert the user does not
// own is reported as missing.
func (h *Handler) changeAlert(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, alertID, userID int64) (bool, error)) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	alertID, ok := pathID(w, r, "alertID")
	if !ok {
		return
	}
	changed, err := change(r.Context(), alertID, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !changed {
		WriteError(w, NotFound("alert not found"))
		return
	}
	NoContent(w)
}

func (h *Handler) Locations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.listings.Locations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	OK(w, locs)
}

func (h *Handler) ListingsByLocation(w http.ResponseWriter, r *http.Request) {
	location, err := url.PathUnescape(chi.URLParam(r, "location"))
	if err != nil || location == "" {
		WriteError(w, BadRequest("invalid location"))
		return
	}
	listings, err := h.listings.ByLocation(r.Context(), location)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	OK(w, listings)
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "listingID")
	if !ok {
		return
	}
	l, err := h.listings.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	OK(w, l)
}

// decode reads a JSON body into dst and validates it, writing the error
// response itself when either step fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, BadRequest("invalid JSON body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			WriteError(w, BadRequest(err.Error()))
			return false
		}
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			msg := fe.Tag()
			if fe.Param() != "" {
				msg += " " + fe.Param()
			}
			details = append(details, FieldError{Field: fe.Field(), Message: msg})
		}
		WriteError(w, ValidationError("validation failed", details...))
		return false
	}
	return true
}

// fail maps service errors onto API errors.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		WriteError(w, NotFound(err.Error()))
	case errors.Is(err, services.ErrInvalidFilter):
		WriteError(w, ValidationError(err.Error()))
	default:
		log.Printf("API: %s %s: %v", r.Method, r.URL.Path, err)
		WriteError(w, InternalError(""))
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, BadRequest("invalid "+name))
		return 0, false
	}
	return id, true
}
