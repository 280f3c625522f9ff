//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/familylink/internal/domain/relationship"
)

func TestMultiTenantIsolation(t *testing.T) {
	base := context.Background()
	ctxA := tenantCtx(t, base, createTenant(t, base, "tenantA"))
	ctxB := tenantCtx(t, base, createTenant(t, base, "tenantB"))
	store := relationship.NewLinkRepoPG(globalPool)
	a, b := uuid.New(), uuid.New()

	if _, err := store.CreateLink(ctxA, a, b, relationship.KindSibling, ""); err != nil {
		t.Fatalf("create in tenant A: %v", err)
	}

	links, err := store.ListLinksFor(ctxB, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Errorf("tenant B sees %d links from tenant A", len(links))
	}

	// The same pair may be linked independently in another tenant.
	if _, err := store.CreateLink(ctxB, a, b, relationship.KindSibling, ""); err != nil {
		t.Errorf("create in tenant B: %v", err)
	}
}
