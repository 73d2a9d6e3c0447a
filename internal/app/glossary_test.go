package app

import (
	"context"
	"net/http"
	"testing"
)

func TestNormalizeTermName(t *testing.T) {
	cases := map[string]string{
		"Cache":              "cache",
		"  Load   Balancer ": "load balancer",
		"Café":               "cafe",
		"RÉSUMÉ":             "resume",
	}
	for input, want := range cases {
		if got := normalizeTermName(input); got != want {
			t.Errorf("normalizeTermName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCreateTermRejectsNormalizedDuplicate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	user := fx.addUser(t, "alice", "contributor")

	term, err := fx.service.CreateTerm(ctx, user, "Load Balancer", false)
	if err != nil {
		t.Fatalf("create term: %v", err)
	}

	_, err = fx.service.CreateTerm(ctx, user, "  load   BALANCER ", false)
	de := wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	details, ok := de.Details.(map[string]any)
	if !ok || details["existingId"] != term.ID {
		t.Fatalf("duplicate error should name the existing term, got %#v", de.Details)
	}
}

func TestCreateTermOfficialFlagIsStaffOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	user := fx.addUser(t, "alice", "contributor")
	staff := fx.addUser(t, "sam", "staff")

	_, err := fx.service.CreateTerm(ctx, user, "sharding", true)
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	term, err := fx.service.CreateTerm(ctx, staff, "sharding", true)
	if err != nil {
		t.Fatalf("staff create official term: %v", err)
	}
	if !term.IsOfficial {
		t.Fatalf("term should be official")
	}
}

func TestCreateEntryRejectsDuplicatePair(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	user := fx.addUser(t, "alice", "contributor")

	_, err := fx.service.CreateEntry(ctx, user, fx.term.ID, fx.persp.ID, false)
	de := wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	details, ok := de.Details.(map[string]any)
	if !ok || details["existingId"] != fx.entry.ID {
		t.Fatalf("duplicate error should name the existing entry, got %#v", de.Details)
	}
}

func TestPerspectiveManagementIsStaffOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	user := fx.addUser(t, "alice", "contributor")
	staff := fx.addUser(t, "sam", "staff")

	_, err := fx.service.CreatePerspective(ctx, user, "Legal", "")
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	persp, err := fx.service.CreatePerspective(ctx, staff, "Legal", "contracts and compliance")
	if err != nil {
		t.Fatalf("staff create perspective: %v", err)
	}

	_, err = fx.service.CreatePerspective(ctx, staff, "Legal", "")
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	err = fx.service.DeletePerspective(ctx, user, persp.ID)
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	if err := fx.service.DeletePerspective(ctx, staff, persp.ID); err != nil {
		t.Fatalf("staff delete perspective: %v", err)
	}
}

func TestCuratorManagementIsStaffOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	user := fx.addUser(t, "alice", "contributor")
	staff := fx.addUser(t, "sam", "staff")

	_, err := fx.service.AddCurator(ctx, user, fx.persp.ID, user.UserID)
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	curator, err := fx.service.AddCurator(ctx, staff, fx.persp.ID, user.UserID)
	if err != nil {
		t.Fatalf("staff add curator: %v", err)
	}
	if curator.UserID != user.UserID || curator.GrantedBy != staff.UserID {
		t.Fatalf("unexpected curator row: %+v", curator)
	}
	if !fx.store.curators[fx.persp.ID][user.UserID] {
		t.Fatalf("curator grant not persisted")
	}

	if err := fx.service.RemoveCurator(ctx, staff, fx.persp.ID, user.UserID); err != nil {
		t.Fatalf("staff remove curator: %v", err)
	}
	if fx.store.curators[fx.persp.ID][user.UserID] {
		t.Fatalf("curator grant should be revoked")
	}
}
