package relationship

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/familylink/internal/platform/httpx"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func expectHTTPError(t *testing.T, err error, status int, code string) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != status {
		t.Errorf("expected status %d, got %d", status, he.Code)
	}
	if got := httpx.Code(err); got != code {
		t.Errorf("expected code %q, got %q", code, got)
	}
}

func postFamily(h *Handler, e *echo.Echo, patientID, body string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(patientID)
	return rec, h.LinkFamilyMember(c)
}

func TestHandler_LinkFamilyMember(t *testing.T) {
	h, e := newTestHandler()
	subject, member := uuid.New(), uuid.New()

	rec, err := postFamily(h, e, subject.String(), `{"member_id":"`+member.String()+`","relationship":"Child"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var l Link
	json.Unmarshal(rec.Body.Bytes(), &l)
	if l.SubjectID != subject || l.RelatedID != member || l.Kind != KindChild {
		t.Errorf("unexpected link %+v", l)
	}
}

func TestHandler_LinkFamilyMember_Errors(t *testing.T) {
	h, e := newTestHandler()
	subject, member := uuid.New(), uuid.New()

	_, err := postFamily(h, e, "not-a-uuid", `{}`)
	expectHTTPError(t, err, http.StatusBadRequest, "bad_request")

	_, err = postFamily(h, e, subject.String(), `{"relationship":"spouse"}`)
	expectHTTPError(t, err, http.StatusBadRequest, "validation_failed")

	_, err = postFamily(h, e, subject.String(), `{"member_id":"`+member.String()+`","relationship":"cousin"}`)
	expectHTTPError(t, err, http.StatusBadRequest, "invalid_kind")

	_, err = postFamily(h, e, subject.String(), `{"member_id":"`+subject.String()+`","relationship":"spouse"}`)
	expectHTTPError(t, err, http.StatusUnprocessableEntity, "invalid_link")

	if _, err := postFamily(h, e, subject.String(), `{"member_id":"`+member.String()+`","relationship":"spouse"}`); err != nil {
		t.Fatal(err)
	}
	_, err = postFamily(h, e, member.String(), `{"member_id":"`+subject.String()+`","relationship":"spouse"}`)
	expectHTTPError(t, err, http.StatusConflict, "duplicate_link")
}

func TestHandler_GetFamily(t *testing.T) {
	h, e := newTestHandler()
	mother, son := uuid.New(), uuid.New()
	h.svc.CreateLink(context.Background(), mother, son, KindChild)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(son.String())
	if err := h.GetFamily(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		PatientID uuid.UUID      `json:"patient_id"`
		Family    []FamilyMember `json:"family"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Family) != 1 || resp.Family[0].PatientID != mother || resp.Family[0].Kind != KindParent {
		t.Errorf("unexpected family %+v", resp.Family)
	}
}

func TestHandler_ListLinks_Empty(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.ListLinks(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_RemoveLink(t *testing.T) {
	h, e := newTestHandler()
	l, _ := h.svc.CreateLink(context.Background(), uuid.New(), uuid.New(), KindSpouse)

	remove := func() (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodDelete, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("linkId")
		c.SetParamValues(l.ID.String())
		return rec, h.RemoveLink(c)
	}

	rec, err := remove()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	_, err = remove()
	expectHTTPError(t, err, http.StatusNotFound, "not_found")
}

func TestHandler_PurgePatient(t *testing.T) {
	h, e := newTestHandler()
	a := uuid.New()
	h.svc.CreateLink(context.Background(), a, uuid.New(), KindSpouse)
	h.svc.CreateLink(context.Background(), uuid.New(), a, KindSibling)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.String())
	if err := h.PurgePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res PurgeResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Removed != 2 {
		t.Errorf("expected 2 removed, got %d", res.Removed)
	}
}

func TestHTTPError_Upstream(t *testing.T) {
	expectHTTPError(t, HTTPError(Upstream("list links", errConnRefused)), http.StatusBadGateway, "upstream_failure")
}
