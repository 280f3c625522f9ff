package directory

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/familylink/internal/domain/relationship"
	"github.com/ehr/familylink/pkg/pagination"
)

// Handler serves the staff patient search used by the family-link dropdown.
type Handler struct {
	dir   Directory
	pager Pager
}

// NewHandler serves searches through dir. Paging uses pager when non-nil.
func NewHandler(dir Directory, pager Pager) *Handler {
	return &Handler{dir: dir, pager: pager}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/search", h.SearchPatients)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return c.JSON(http.StatusOK, []relationship.PatientRef{})
	}

	if h.pager != nil && (c.QueryParam("limit") != "" || c.QueryParam("offset") != "") {
		pg := pagination.FromContext(c)
		refs, total, err := h.pager.SearchPage(c.Request().Context(), q, pg.Limit, pg.Offset)
		if err != nil {
			return relationship.HTTPError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(refs, total, pg.Limit, pg.Offset))
	}

	refs, err := h.dir.Search(c.Request().Context(), q)
	if err != nil {
		return relationship.HTTPError(err)
	}
	return c.JSON(http.StatusOK, refs)
}
