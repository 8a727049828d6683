package grants

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hafbau/fastflow-sub001/internal/expr"
	"github.com/hafbau/fastflow-sub001/internal/platform/httpx"
	"github.com/hafbau/fastflow-sub001/internal/schedule"
)

// Handler exposes grant administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers grant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/grants", func(r chi.Router) {
		r.Post("/resource", h.handleGrantResource)
		r.Delete("/resource/{id}", h.handleRevokeResource)
		r.Post("/conditional", h.handleGrantConditional)
		r.Patch("/conditional/{id}", h.handleSetConditionalActive)
		r.Delete("/conditional/{id}", h.handleRevokeConditional)
		r.Post("/timebased", h.handleGrantTimeBased)
		r.Delete("/timebased/{id}", h.handleRevokeTimeBased)
	})
	r.Route("/expressions", func(r chi.Router) {
		r.Post("/", h.handleCreateExpression)
		r.Get("/{id}", h.handleGetExpression)
		r.Put("/{id}", h.handleUpdateExpression)
		r.Delete("/{id}", h.handleDeleteExpression)
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type resourceGrantRequest struct {
	UserID       string `json:"userId" validate:"required"`
	ResourceType string `json:"resourceType" validate:"required"`
	ResourceID   string `json:"resourceId" validate:"required"`
	Action       string `json:"action" validate:"required"`
}

func (h *Handler) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	var body resourceGrantRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.GrantResourcePermission(r.Context(), body.UserID, body.ResourceType, body.ResourceID, body.Action)
	if err != nil {
		h.respondErr(w, "grant resource permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleRevokeResource(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokeResourcePermission(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, "revoke resource permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type conditionalGrantRequest struct {
	UserID       string           `json:"userId" validate:"required"`
	PermissionID string           `json:"permissionId" validate:"required"`
	ResourceType *string          `json:"resourceType"`
	ResourceID   *string          `json:"resourceId"`
	Expression   *expr.Expression `json:"expression" validate:"required"`
}

func (h *Handler) handleGrantConditional(w http.ResponseWriter, r *http.Request) {
	var body conditionalGrantRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.GrantConditionalPermission(r.Context(), ConditionalGrantInput{
		UserID:       body.UserID,
		PermissionID: body.PermissionID,
		ResourceType: body.ResourceType,
		ResourceID:   body.ResourceID,
		Expression:   body.Expression,
	})
	if err != nil {
		h.respondErr(w, "grant conditional permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

type setActiveRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

func (h *Handler) handleSetConditionalActive(w http.ResponseWriter, r *http.Request) {
	var body setActiveRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	updated, err := h.service.SetConditionalActive(r.Context(), chi.URLParam(r, "id"), *body.IsActive)
	if err != nil {
		h.respondErr(w, "set conditional active", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleRevokeConditional(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokeConditionalPermission(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, "revoke conditional permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type timeBasedGrantRequest struct {
	UserID       string             `json:"userId" validate:"required"`
	PermissionID string             `json:"permissionId" validate:"required"`
	ResourceType *string            `json:"resourceType"`
	ResourceID   *string            `json:"resourceId"`
	Type         string             `json:"type" validate:"required,oneof=TEMPORARY RECURRING"`
	StartTime    time.Time          `json:"startTime" validate:"required"`
	EndTime      *time.Time         `json:"endTime"`
	Schedule     *schedule.Schedule `json:"schedule"`
}

func (h *Handler) handleGrantTimeBased(w http.ResponseWriter, r *http.Request) {
	var body timeBasedGrantRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.GrantTimeBasedPermission(r.Context(), TimeBasedGrantInput{
		UserID:       body.UserID,
		PermissionID: body.PermissionID,
		ResourceType: body.ResourceType,
		ResourceID:   body.ResourceID,
		Type:         body.Type,
		StartTime:    body.StartTime,
		EndTime:      body.EndTime,
		Schedule:     body.Schedule,
	})
	if err != nil {
		h.respondErr(w, "grant time-based permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleRevokeTimeBased(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokeTimeBasedPermission(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, "revoke time-based permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type expressionRequest struct {
	Name       string           `json:"name" validate:"required"`
	Expression *expr.Expression `json:"expression" validate:"required"`
}

func (h *Handler) handleCreateExpression(w http.ResponseWriter, r *http.Request) {
	var body expressionRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateExpression(r.Context(), body.Name, body.Expression)
	if err != nil {
		h.respondErr(w, "create expression", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetExpression(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.GetExpression(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, "get expression", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleUpdateExpression(w http.ResponseWriter, r *http.Request) {
	var body expressionRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	updated, err := h.service.UpdateExpression(r.Context(), chi.URLParam(r, "id"), body.Name, body.Expression)
	if err != nil {
		h.respondErr(w, "update expression", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteExpression(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteExpression(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, "delete expression", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
