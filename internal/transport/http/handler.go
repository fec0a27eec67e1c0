package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"itm.space/backendresources/internal/domain"
	"itm.space/backendresources/internal/transport/mw"
)

// UserService is the application surface the handlers depend on.
type UserService interface {
	CreateUser(ctx context.Context, actor string, req domain.UserRequest) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.UserResponse, error)
	Hello(p *domain.Principal) string
}

// Handler holds all HTTP handler methods.
type Handler struct {
	svc UserService
}

// NewHandler creates a new Handler.
func NewHandler(svc UserService) *Handler {
	return &Handler{svc: svc}
}

// --- REST Handlers ---

// GetUser GET /api/users/:id
func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	resp, err := h.svc.GetUserByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateUser POST /api/users
func (h *Handler) CreateUser(c echo.Context) error {
	var req domain.UserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	actor := ""
	if p := mw.PrincipalFrom(c); p != nil {
		actor = p.Username
	}
	if err := h.svc.CreateUser(c.Request().Context(), actor, req); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// Hello GET /api/users/hello
func (h *Handler) Hello(c echo.Context) error {
	return c.String(http.StatusOK, h.svc.Hello(mw.PrincipalFrom(c)))
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}
