package rbac

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

// Handler exposes role management and role assignment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Post("/", h.createRole)
	r.Route("/{roleID}", func(r chi.Router) {
		r.Get("/", h.getRole)
		r.Patch("/", h.updateRole)
		r.Put("/", h.updateRole)
		r.Delete("/", h.deleteRole)
		r.Get("/permissions", h.getRolePermissions)
		r.Post("/permissions", h.assignPermission)
		r.Delete("/permissions/{permissionID}", h.removePermission)
	})
}

// MountUserRoutes registers the per-user role assignment routes under /users.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Get("/{userID}/roles", h.listUserRoles)
	r.Delete("/{userID}/roles/{roleID}", h.removeRoleFromUser)
}

// MountAssignmentRoutes registers the user-role assignment collection.
func (h *Handler) MountAssignmentRoutes(r chi.Router) {
	r.Post("/", h.assignRoleToUser)
}

type createRoleRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

type assignPermissionRequest struct {
	PermissionID uuid.UUID `json:"permissionId" validate:"required"`
}

type assignRoleRequest struct {
	UserID uuid.UUID `json:"userId" validate:"required"`
	RoleID uuid.UUID `json:"roleId" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), CreateRoleInput{Name: req.Name, Description: req.Description})
	if err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, found, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get role", err)
		return
	}
	if !found {
		httpx.Problem(w, http.StatusNotFound, "Not Found", fmt.Sprintf("role %s not found", id))
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var patch RolePatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		h.fail(w, r, "update role", err)
		return
	}
	if name, set := patch.Name.Get(); set && len(name) > 100 {
		h.fail(w, r, "update role", &ValidationError{Entity: "role", Field: "name", Reason: "must be at most 100 characters"})
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) getRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	grants, err := h.service.GetRolePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grants)
}

func (h *Handler) assignPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req assignPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "assign permission", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, r, "assign permission", err)
		return
	}
	rp, err := h.service.AssignPermission(r.Context(), roleID, req.PermissionID)
	if err != nil {
		h.fail(w, r, "assign permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rp)
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	rp, err := h.service.RemovePermission(r.Context(), roleID, permissionID)
	if err != nil {
		h.fail(w, r, "remove permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rp)
}

func (h *Handler) assignRoleToUser(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "assign role", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, r, "assign role", err)
		return
	}
	ur, err := h.service.AssignRoleToUser(r.Context(), req.UserID, req.RoleID)
	if err != nil {
		h.fail(w, r, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ur)
}

func (h *Handler) removeRoleFromUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	ur, err := h.service.RemoveRoleFromUser(r.Context(), userID, roleID)
	if err != nil {
		h.fail(w, r, "remove role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ur)
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roles, err := h.service.ListUserRoles(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "list user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fmt.Sprintf("%s %q is not a valid id", param, raw))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}
