package roles

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hafbau/fastflow-sub001/internal/platform/httpx"
)

// Handler exposes role and permission administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role and permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Post("/", h.handleCreateRole)
		r.Get("/", h.handleListRoles)
		r.Get("/{id}", h.handleGetRole)
		r.Put("/{id}", h.handleUpdateRole)
		r.Delete("/{id}", h.handleDeleteRole)
		r.Get("/{id}/permissions", h.handleEffectivePermissions)
		r.Post("/{id}/permissions", h.handleAttachPermission)
		r.Delete("/{id}/permissions/{pid}", h.handleDetachPermission)
		r.Post("/{id}/users", h.handleAssignRole)
		r.Delete("/{id}/users/{uid}", h.handleRemoveRole)
	})
	r.Route("/permissions", func(r chi.Router) {
		r.Post("/", h.handleCreatePermission)
		r.Get("/", h.handleListPermissions)
		r.Get("/{id}", h.handleGetPermission)
		r.Delete("/{id}", h.handleDeletePermission)
	})
	r.Get("/users/{id}/roles", h.handleUserRoles)
	r.Get("/users/{id}/grants", h.handleUserGrants)
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrRoleCycle):
		httpx.Problem(w, http.StatusBadRequest, "Role Cycle", err.Error())
	case errors.Is(err, ErrPermissionInUse):
		httpx.Problem(w, http.StatusConflict, "Permission In Use", err.Error())
	case errors.Is(err, ErrSystemRole):
		httpx.Problem(w, http.StatusForbidden, "System Role", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type roleRequest struct {
	Name           string  `json:"name" validate:"required"`
	Type           string  `json:"type" validate:"omitempty,oneof=SYSTEM CUSTOM"`
	OrganizationID *string `json:"organizationId"`
	ParentRoleID   *string `json:"parentRoleId"`
	TemplateID     *string `json:"templateId"`
	Description    string  `json:"description"`
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var body roleRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateRole(r.Context(), CreateRoleInput{
		Name:           body.Name,
		Type:           body.Type,
		OrganizationID: body.OrganizationID,
		ParentRoleID:   body.ParentRoleID,
		TemplateID:     body.TemplateID,
		Description:    body.Description,
	})
	if err != nil {
		h.respondErr(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListRoles(r.Context(), r.URL.Query().Get("organizationId"))
	if err != nil {
		h.respondErr(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": items})
}

func (h *Handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var body roleRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.UpdateRole(r.Context(), chi.URLParam(r, "id"), body.Name, body.Description, body.ParentRoleID)
	if err != nil {
		h.respondErr(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.EffectivePermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type attachPermissionRequest struct {
	PermissionID string `json:"permissionId" validate:"required"`
}

func (h *Handler) handleAttachPermission(w http.ResponseWriter, r *http.Request) {
	var body attachPermissionRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AttachPermission(r.Context(), chi.URLParam(r, "id"), body.PermissionID); err != nil {
		h.respondErr(w, "attach permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDetachPermission(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DetachPermission(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid")); err != nil {
		h.respondErr(w, "detach permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRoleRequest struct {
	UserID      string  `json:"userId" validate:"required"`
	WorkspaceID *string `json:"workspaceId"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var body assignRoleRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AssignRole(r.Context(), body.UserID, chi.URLParam(r, "id"), body.WorkspaceID); err != nil {
		h.respondErr(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	var workspaceID *string
	if ws := r.URL.Query().Get("workspaceId"); ws != "" {
		workspaceID = &ws
	}
	if err := h.service.RemoveRole(r.Context(), chi.URLParam(r, "uid"), chi.URLParam(r, "id"), workspaceID); err != nil {
		h.respondErr(w, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionRequest struct {
	ResourceType string `json:"resourceType" validate:"required"`
	Action       string `json:"action" validate:"required"`
	Scope        string `json:"scope" validate:"omitempty,oneof=RESOURCE ORGANIZATION"`
	Description  string `json:"description"`
}

func (h *Handler) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var body permissionRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.CreatePermission(r.Context(), body.ResourceType, body.Action, body.Scope, body.Description)
	if err != nil {
		h.respondErr(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondErr(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": items})
}

func (h *Handler) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, "get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePermission(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.UserRoles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, "list user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": items})
}

func (h *Handler) handleUserGrants(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.UserGrants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, "user grants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": items})
}
