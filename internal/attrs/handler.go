package attrs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hafbau/fastflow-sub001/internal/platform/httpx"
)

// Handler exposes attribute administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers attribute routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/attributes", func(r chi.Router) {
		r.Get("/resource/{type}/{rid}", h.handleListResource)
		r.Put("/resource/{type}/{rid}/{key}", h.handleSetResource)
		r.Delete("/resource/{type}/{rid}/{key}", h.handleDeleteResource)
		r.Get("/user/{uid}", h.handleListUser)
		r.Put("/user/{uid}/{key}", h.handleSetUser)
		r.Delete("/user/{uid}/{key}", h.handleDeleteUser)
		r.Get("/environment", h.handleResolveEnvironment)
		r.Put("/environment/{scope}/{key}", h.handleSetEnvironment)
		r.Delete("/environment/{scope}/{key}", h.handleDeleteEnvironment)
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidScope):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Scope", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type attributeValueRequest struct {
	Value string `json:"value" validate:"required"`
}

func (h *Handler) decodeValue(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body attributeValueRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return "", false
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return "", false
	}
	return body.Value, true
}

func (h *Handler) handleListResource(w http.ResponseWriter, r *http.Request) {
	values, err := h.service.GetAllResourceAttributes(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "rid"))
	if err != nil {
		h.respondErr(w, "list resource attributes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"attributes": values})
}

func (h *Handler) handleSetResource(w http.ResponseWriter, r *http.Request) {
	value, ok := h.decodeValue(w, r)
	if !ok {
		return
	}
	err := h.service.SetResourceAttribute(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "rid"), chi.URLParam(r, "key"), value)
	if err != nil {
		h.respondErr(w, "set resource attribute", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteResourceAttribute(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "rid"), chi.URLParam(r, "key"))
	if err != nil {
		h.respondErr(w, "delete resource attribute", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListUser(w http.ResponseWriter, r *http.Request) {
	values, err := h.service.GetAllUserAttributes(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.respondErr(w, "list user attributes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"attributes": values})
}

func (h *Handler) handleSetUser(w http.ResponseWriter, r *http.Request) {
	value, ok := h.decodeValue(w, r)
	if !ok {
		return
	}
	if err := h.service.SetUserAttribute(r.Context(), chi.URLParam(r, "uid"), chi.URLParam(r, "key"), value); err != nil {
		h.respondErr(w, "set user attribute", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUserAttribute(r.Context(), chi.URLParam(r, "uid"), chi.URLParam(r, "key")); err != nil {
		h.respondErr(w, "delete user attribute", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResolveEnvironment returns the merged environment view for an
// organization/workspace pair, most specific scope winning.
func (h *Handler) handleResolveEnvironment(w http.ResponseWriter, r *http.Request) {
	values, err := h.service.GetAllEnvironmentAttributes(r.Context(),
		r.URL.Query().Get("organizationId"), r.URL.Query().Get("workspaceId"))
	if err != nil {
		h.respondErr(w, "resolve environment attributes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"attributes": values})
}

func (h *Handler) handleSetEnvironment(w http.ResponseWriter, r *http.Request) {
	value, ok := h.decodeValue(w, r)
	if !ok {
		return
	}
	err := h.service.SetEnvironmentAttribute(r.Context(), chi.URLParam(r, "scope"), r.URL.Query().Get("scopeId"), chi.URLParam(r, "key"), value)
	if err != nil {
		h.respondErr(w, "set environment attribute", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteEnvironmentAttribute(r.Context(), chi.URLParam(r, "scope"), r.URL.Query().Get("scopeId"), chi.URLParam(r, "key"))
	if err != nil {
		h.respondErr(w, "delete environment attribute", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
