package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hafbau/fastflow-sub001/internal/platform/httpx"
)

// Handler exposes the decision endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers decision routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.handleCheck)
	r.Post("/check/batch", h.handleBatchCheck)
	r.Get("/users/{id}/resources/{type}/{rid}/permissions", h.handleUserResourcePermissions)
}

type checkContext struct {
	OrganizationID string         `json:"organizationId"`
	WorkspaceID    string         `json:"workspaceId"`
	Attributes     map[string]any `json:"attributes"`
}

type checkRequest struct {
	UserID       string        `json:"userId" validate:"required"`
	ResourceType string        `json:"resourceType" validate:"required"`
	ResourceID   string        `json:"resourceId"`
	Action       string        `json:"action" validate:"required"`
	Context      *checkContext `json:"context"`
}

type batchCheckRequest struct {
	UserID       string        `json:"userId" validate:"required"`
	ResourceType string        `json:"resourceType" validate:"required"`
	ResourceID   string        `json:"resourceId"`
	Actions      []string      `json:"actions" validate:"required,min=1,dive,required"`
	Context      *checkContext `json:"context"`
}

func toCheck(userID, resourceType, resourceID, action string, cc *checkContext) CheckRequest {
	req := CheckRequest{
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
	}
	if cc != nil {
		req.OrganizationID = cc.OrganizationID
		req.WorkspaceID = cc.WorkspaceID
		req.Attributes = cc.Attributes
	}
	return req
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var body checkRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	allowed := h.service.HasPermission(r.Context(),
		toCheck(body.UserID, body.ResourceType, body.ResourceID, body.Action, body.Context))
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) handleBatchCheck(w http.ResponseWriter, r *http.Request) {
	var body batchCheckRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	results := h.service.BatchCheckPermissions(r.Context(),
		toCheck(body.UserID, body.ResourceType, body.ResourceID, "", body.Context), body.Actions)
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleUserResourcePermissions(w http.ResponseWriter, r *http.Request) {
	req := CheckRequest{
		UserID:         chi.URLParam(r, "id"),
		ResourceType:   chi.URLParam(r, "type"),
		ResourceID:     chi.URLParam(r, "rid"),
		OrganizationID: r.URL.Query().Get("organizationId"),
		WorkspaceID:    r.URL.Query().Get("workspaceId"),
	}
	actions := h.service.GetUserPermissionsForResource(r.Context(), req)
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": actions})
}
