package relationship

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/familylink/internal/platform/auth"
	"github.com/ehr/familylink/internal/platform/httpx"
)

// WriteRoles may create and remove links.
var WriteRoles = []string{"admin", "receptionist", "doctor"}

// Handler provides HTTP handlers for direct link management.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/family", h.GetFamily)
	api.GET("/patients/:id/links", h.ListLinks)

	write := api.Group("", auth.RequireRole(WriteRoles...))
	write.POST("/patients/:id/family", h.LinkFamilyMember)
	write.DELETE("/relationships/:linkId", h.RemoveLink)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.DELETE("/patients/:id/links", h.PurgePatient)
}

type linkRequest struct {
	MemberID     string `json:"member_id" validate:"required,uuid"`
	Relationship string `json:"relationship" validate:"required"`
}

func (h *Handler) LinkFamilyMember(c echo.Context) error {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, "bad_request", "invalid patient id")
	}
	var req linkRequest
	if err := httpx.BindAndValidate(c, &req); err != nil {
		return err
	}
	memberID, _ := uuid.Parse(req.MemberID)
	kind, err := ParseKind(req.Relationship)
	if err != nil {
		return HTTPError(err)
	}
	link, err := h.svc.CreateLink(c.Request().Context(), subjectID, memberID, kind)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, link)
}

func (h *Handler) GetFamily(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, "bad_request", "invalid patient id")
	}
	members, err := h.svc.Family(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient_id": id,
		"family":     members,
	})
}

func (h *Handler) ListLinks(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, "bad_request", "invalid patient id")
	}
	links, err := h.svc.ListLinks(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	if links == nil {
		links = []*Link{}
	}
	return c.JSON(http.StatusOK, links)
}

func (h *Handler) RemoveLink(c echo.Context) error {
	id, err := uuid.Parse(c.Param("linkId"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, "bad_request", "invalid link id")
	}
	if err := h.svc.RemoveLink(c.Request().Context(), id); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PurgePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, "bad_request", "invalid patient id")
	}
	n, err := h.svc.PurgePatient(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, PurgeResult{PatientID: id, Removed: n})
}

// HTTPError maps link errors onto status codes and stable error codes.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidKind):
		return httpx.Error(http.StatusBadRequest, "invalid_kind", err.Error())
	case errors.Is(err, ErrInvalidLink):
		return httpx.Error(http.StatusUnprocessableEntity, "invalid_link", err.Error())
	case errors.Is(err, ErrDuplicateLink):
		return httpx.Error(http.StatusConflict, "duplicate_link", "these patients are already linked with that relationship")
	case errors.Is(err, ErrNotFound):
		return httpx.Error(http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrUpstream):
		return httpx.Error(http.StatusBadGateway, "upstream_failure", "a backing service is unavailable")
	}
	return httpx.Error(http.StatusInternalServerError, "internal", "internal server error")
}
