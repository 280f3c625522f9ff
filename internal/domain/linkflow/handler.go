package linkflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/familylink/internal/domain/relationship"
	"github.com/ehr/familylink/internal/platform/auth"
	"github.com/ehr/familylink/internal/platform/httpx"
)

// Handler exposes link sessions over HTTP. Each intent returns the updated
// snapshot so the client can render without a second round trip.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/link-sessions/:sid", h.GetSession)

	g := api.Group("", auth.RequireRole(relationship.WriteRoles...))
	g.POST("/patients/:id/link-sessions", h.OpenSession)
	g.PUT("/link-sessions/:sid/query", h.UpdateQuery)
	g.PUT("/link-sessions/:sid/selection", h.Select)
	g.PUT("/link-sessions/:sid/relationship", h.SetRelationship)
	g.POST("/link-sessions/:sid/confirm", h.Confirm)
	g.DELETE("/link-sessions/:sid", h.CancelSession)
}

type sessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Snapshot
}

func (h *Handler) session(c echo.Context) (uuid.UUID, *Workflow, error) {
	sid, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		return uuid.Nil, nil, httpx.Error(http.StatusBadRequest, "bad_request", "invalid session id")
	}
	wf, err := h.registry.Get(c.Request().Context(), sid)
	if err != nil {
		return uuid.Nil, nil, HTTPError(err)
	}
	return sid, wf, nil
}

func (h *Handler) OpenSession(c echo.Context) error {
	ownerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, "bad_request", "invalid patient id")
	}
	sid, wf := h.registry.Open(c.Request().Context(), ownerID)
	return c.JSON(http.StatusCreated, sessionResponse{SessionID: sid, Snapshot: wf.Snapshot()})
}

func (h *Handler) GetSession(c echo.Context) error {
	sid, wf, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionResponse{SessionID: sid, Snapshot: wf.Snapshot()})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (h *Handler) UpdateQuery(c echo.Context) error {
	sid, wf, err := h.session(c)
	if err != nil {
		return err
	}
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return httpx.Error(http.StatusBadRequest, "bad_request", "malformed request body")
	}
	if err := wf.OnQueryChange(c.Request().Context(), req.Query); err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{SessionID: sid, Snapshot: wf.Snapshot()})
}

type selectRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
}

// Select accepts only a patient from the session's current results.
func (h *Handler) Select(c echo.Context) error {
	sid, wf, err := h.session(c)
	if err != nil {
		return err
	}
	var req selectRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	patientID, _ := uuid.Parse(req.PatientID)

	var chosen *relationship.PatientRef
	for _, ref := range wf.Snapshot().Results {
		if ref.ID == patientID {
			r := ref
			chosen = &r
			break
		}
	}
	if chosen == nil {
		return httpx.Error(http.StatusBadRequest, "not_in_results", "patient is not among the current search results")
	}
	if err := wf.OnSelect(*chosen); err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{SessionID: sid, Snapshot: wf.Snapshot()})
}

type relationshipRequest struct {
	Relationship string `json:"relationship" validate:"required"`
}

func (h *Handler) SetRelationship(c echo.Context) error {
	sid, wf, err := h.session(c)
	if err != nil {
		return err
	}
	var req relationshipRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	kind, err := relationship.ParseKind(req.Relationship)
	if err != nil {
		return HTTPError(err)
	}
	if err := wf.OnRelationshipChange(kind); err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{SessionID: sid, Snapshot: wf.Snapshot()})
}

func (h *Handler) Confirm(c echo.Context) error {
	sid, wf, err := h.session(c)
	if err != nil {
		return err
	}
	if _, err := wf.Confirm(c.Request().Context()); err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sessionResponse{SessionID: sid, Snapshot: wf.Snapshot()})
}

func (h *Handler) CancelSession(c echo.Context) error {
	sid, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, "bad_request", "invalid session id")
	}
	if err := h.registry.Close(c.Request().Context(), sid); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HTTPError maps workflow errors, falling back to the link error mapping.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNoSelection):
		return httpx.Error(http.StatusBadRequest, "no_selection", err.Error())
	case errors.Is(err, ErrWorkflowBusy):
		return httpx.Error(http.StatusConflict, "workflow_busy", err.Error())
	case errors.Is(err, ErrSessionNotFound):
		return httpx.Error(http.StatusNotFound, "not_found", err.Error())
	}
	return relationship.HTTPError(err)
}
