package controllers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	h "eventregistry/internal/delivery/http/helpers"
	"eventregistry/internal/delivery/http/middleware"
	"eventregistry/internal/domain"
)

// writeResult encodes an engine result verbatim. Engine results carry their
// own success/error shape, so they bypass the APIResponse envelope.
func writeResult(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// maxBulkUserIDs bounds a single bulk registration request.
const maxBulkUserIDs = 500

type RegistrationController struct {
	Logger       *slog.Logger
	Engine       domain.RegistrationEngine
	EventService domain.EventService
}

func NewRegistrationController(logger *slog.Logger, engine domain.RegistrationEngine, eventService domain.EventService) *RegistrationController {
	return &RegistrationController{
		Logger:       logger,
		Engine:       engine,
		EventService: eventService,
	}
}

// statusForFailure maps an engine failure kind to an HTTP status code.
// Not-found kinds are uniformly 404, duplicates 409, capacity problems 400.
func statusForFailure(kind domain.FailureKind) (status int, code string) {
	switch kind {
	case domain.FailureUserNotFound, domain.FailureEventNotFound, domain.FailureRegistrationNotFound:
		return http.StatusNotFound, h.ErrCodeNotFound
	case domain.FailureDuplicateRegistration:
		return http.StatusConflict, h.ErrCodeConflict
	case domain.FailureCapacityExhausted, domain.FailureInsufficientCapacity:
		return http.StatusBadRequest, h.ErrCodeBadRequest
	default:
		return http.StatusInternalServerError, h.ErrCodeInternalError
	}
}

// Register godoc
// @Summary Register the current user for an event
// @Description Atomically creates a registration and decrements the event's remaining capacity. Fails with 409 when already registered and 400 when the event is full.
// @Tags registrations
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Success 201 {object} domain.RegistrationResult
// @Failure 400 {object} domain.RegistrationResult "error.type: CapacityExhausted"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 404 {object} domain.RegistrationResult "error.type: UserNotFound or EventNotFound"
// @Failure 409 {object} domain.RegistrationResult "error.type: DuplicateRegistration"
// @Failure 500 {object} domain.RegistrationResult "error.type: StorageTimeout or StorageUnexpectedError"
// @Router /events/{eventID}/registrations [post]
func (c *RegistrationController) Register(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	if !uuidRegex.MatchString(eventID) {
		h.WriteJSONError(w, http.StatusBadRequest, h.ErrCodeBadRequest, "invalid eventID")
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.WriteJSONError(w, http.StatusUnauthorized, h.ErrCodeUnauthorized, "unauthorized")
		return
	}

	result := c.Engine.RegisterUserForEvent(r.Context(), userID, eventID)
	if !result.Success {
		status, _ := statusForFailure(result.Failure.Kind)
		writeResult(w, status, result)
		return
	}
	writeResult(w, http.StatusCreated, result)
}

// Unregister godoc
// @Summary Cancel the current user's registration for an event
// @Description Atomically deletes the registration and restores one capacity slot.
// @Tags registrations
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Success 200 {object} domain.RegistrationResult
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 404 {object} domain.RegistrationResult "error.type: EventNotFound or RegistrationNotFound"
// @Failure 500 {object} domain.RegistrationResult "error.type: StorageTimeout or StorageUnexpectedError"
// @Router /events/{eventID}/registrations [delete]
func (c *RegistrationController) Unregister(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	if !uuidRegex.MatchString(eventID) {
		h.WriteJSONError(w, http.StatusBadRequest, h.ErrCodeBadRequest, "invalid eventID")
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.WriteJSONError(w, http.StatusUnauthorized, h.ErrCodeUnauthorized, "unauthorized")
		return
	}

	result := c.Engine.UnregisterUserForEvent(r.Context(), userID, eventID)
	if !result.Success {
		status, _ := statusForFailure(result.Failure.Kind)
		writeResult(w, status, result)
		return
	}
	writeResult(w, http.StatusOK, result)
}

// BulkRegisterRequest is the request body for POST /events/{eventID}/registrations/bulk.
type BulkRegisterRequest struct {
	UserIDs []string `json:"user_ids"`
}

// Validate implements helpers.Validator.
func (b BulkRegisterRequest) Validate() []string {
	var errs []string
	if len(b.UserIDs) == 0 {
		errs = append(errs, "user_ids is required")
	}
	if len(b.UserIDs) > maxBulkUserIDs {
		errs = append(errs, "user_ids cannot exceed 500 entries")
	}
	for _, id := range b.UserIDs {
		if !uuidRegex.MatchString(id) {
			errs = append(errs, "user_ids must contain valid UUIDs")
			break
		}
	}
	return errs
}

// BulkRegister godoc
// @Summary Register multiple users for an event
// @Description Organizer-only. Inserts registrations for all given users in one transaction, skipping users already registered, and decrements capacity by the rows actually created.
// @Tags registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Param body body BulkRegisterRequest true "User IDs to register"
// @Success 200 {object} domain.BulkRegistrationResult
// @Failure 400 {object} domain.BulkRegistrationResult "error.type: InsufficientCapacity"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 403 {object} helpers.APIResponse "error.code: forbidden"
// @Failure 404 {object} domain.BulkRegistrationResult "error.type: EventNotFound or UserNotFound"
// @Failure 500 {object} domain.BulkRegistrationResult "error.type: StorageTimeout or StorageUnexpectedError"
// @Router /events/{eventID}/registrations/bulk [post]
func (c *RegistrationController) BulkRegister(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	if !uuidRegex.MatchString(eventID) {
		h.WriteJSONError(w, http.StatusBadRequest, h.ErrCodeBadRequest, "invalid eventID")
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.WriteJSONError(w, http.StatusUnauthorized, h.ErrCodeUnauthorized, "unauthorized")
		return
	}

	var req BulkRegisterRequest
	if !h.DecodeAndValidate(w, r, &req) {
		return
	}

	event, err := c.EventService.GetEventByID(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.WriteJSONError(w, http.StatusNotFound, h.ErrCodeNotFound, "event not found")
			return
		}
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		h.WriteJSONError(w, http.StatusInternalServerError, h.ErrCodeInternalError, "lookup failed")
		return
	}
	if event.OrganizerID != userID {
		h.WriteJSONError(w, http.StatusForbidden, h.ErrCodeForbidden, "only the event organizer may bulk register")
		return
	}

	result := c.Engine.BulkRegisterUsersForEvent(r.Context(), req.UserIDs, eventID)
	if !result.Success {
		status, _ := statusForFailure(result.Failure.Kind)
		writeResult(w, status, result)
		return
	}
	writeResult(w, http.StatusOK, result)
}

// ListMyRegistrations godoc
// @Summary List the current user's registrations
// @Description Returns one page of the user's registrations, most recent first, each joined with an event summary.
// @Tags registrations
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page (1-indexed)"
// @Param page_size query int false "Page size (max 50)"
// @Success 200 {object} helpers.APIResponse "data contains the paged registrations"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /me/registrations [get]
func (c *RegistrationController) ListMyRegistrations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.WriteJSONError(w, http.StatusUnauthorized, h.ErrCodeUnauthorized, "unauthorized")
		return
	}

	page, err := c.Engine.GetUserRegistrations(r.Context(), userID, h.ParsePagination(r))
	if err != nil {
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		h.WriteJSONError(w, http.StatusInternalServerError, h.ErrCodeInternalError, "list registrations failed")
		return
	}
	h.WriteJSONSuccess(w, http.StatusOK, page)
}
