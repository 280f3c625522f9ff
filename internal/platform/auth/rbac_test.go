package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(roles []string, required ...string) error {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(context.Background(), "u1", roles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h := RequireRole(required...)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return h(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := runWithRoles([]string{"receptionist"}, "admin", "receptionist", "doctor"); err != nil {
		t.Fatalf("expected access, got %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if err := runWithRoles([]string{"admin"}, "doctor"); err != nil {
		t.Fatalf("admin should pass any role check, got %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	err := runWithRoles([]string{"nurse"}, "admin", "receptionist", "doctor")
	if err == nil {
		t.Fatal("expected forbidden")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	if err := runWithRoles(nil, "doctor"); err == nil {
		t.Fatal("expected forbidden without roles")
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		has      []string
		required []string
		want     bool
	}{
		{[]string{"doctor"}, []string{"doctor"}, true},
		{[]string{"nurse", "doctor"}, []string{"receptionist", "doctor"}, true},
		{[]string{"nurse"}, []string{"doctor"}, false},
		{[]string{"admin"}, []string{"doctor"}, true},
		{nil, []string{"doctor"}, false},
	}
	for _, tt := range tests {
		if got := HasRole(tt.has, tt.required...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.has, tt.required, got, tt.want)
		}
	}
}
