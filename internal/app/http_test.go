package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"glossary/api/internal/config"
)

func newHTTPFixture(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	fx := newFixture(t)
	fx.service.cfg = config.Config{
		TokenSecret:  "test-secret",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   24 * time.Hour,
		ArchiveAfter: 180 * 24 * time.Hour,
	}
	return fx, NewHTTPServer(fx.service, "*").Handler()
}

func bearerSession(t *testing.T, fx *fixture, sess Session) string {
	t.Helper()
	user, err := fx.store.GetUserByID(context.Background(), sess.UserID)
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	issued, err := fx.service.CreateSession(context.Background(), user)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return issued.Token
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newHTTPFixture(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestAuthenticatedRoutesRejectMissingToken(t *testing.T) {
	_, handler := newHTTPFixture(t)

	for _, path := range []string{"/api/terms", "/api/drafts", "/api/notifications"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, rec.Code)
		}
	}
}

func TestSearchEndpointFiltersByType(t *testing.T) {
	fx, handler := newHTTPFixture(t)
	viewer := fx.addUser(t, "vera", "viewer")
	token := bearerSession(t, fx, viewer)

	get := func(target string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for _, filter := range []string{"", "term", "definition", "comment"} {
		rec := get("/api/search?q=cache&type=" + filter)
		if rec.Code != http.StatusOK {
			t.Errorf("search with type=%q = %d, want 200: %s", filter, rec.Code, rec.Body.String())
		}
	}

	rec := get("/api/search?q=cache&type=bogus")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("search with unknown type = %d, want 422", rec.Code)
	}
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	t.Setenv("GLOSSARY_MIN_APPROVALS", "2")
	fx, handler := newHTTPFixture(t)
	author := fx.addUser(t, "alice", "contributor")
	reviewer := fx.addUser(t, "bob", "contributor")
	authorToken := bearerSession(t, fx, author)
	reviewerToken := bearerSession(t, fx, reviewer)

	do := func(method, path, token, body string) *httptest.ResponseRecorder {
		t.Helper()
		var reader *strings.Reader
		if body == "" {
			reader = strings.NewReader("{}")
		} else {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/entries/"+fx.entry.ID+"/drafts", authorToken,
		`{"content":"<p>a definition</p>"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create draft = %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode draft: %v", err)
	}
	draftID, _ := created["id"].(string)
	if draftID == "" {
		t.Fatalf("draft payload has no id: %v", created)
	}

	// Self-approval surfaces the business error with its code.
	rec = do(http.MethodPost, "/api/drafts/"+draftID+"/approve", authorToken, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("self-approve = %d, want 422", rec.Code)
	}
	var failure map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if failure["code"] != "VALIDATION_ERROR" {
		t.Fatalf("error code = %v", failure["code"])
	}

	rec = do(http.MethodPost, "/api/drafts/"+draftID+"/approve", reviewerToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body.String())
	}
	var detail map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	approvers, _ := detail["approvers"].([]any)
	if len(approvers) != 1 {
		t.Fatalf("approvers = %v", detail["approvers"])
	}

	// Below quorum, publish is refused.
	rec = do(http.MethodPost, "/api/drafts/"+draftID+"/publish", authorToken, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("premature publish = %d, want 422", rec.Code)
	}

	rec = do(http.MethodGet, "/api/drafts/missing_id", authorToken, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing draft = %d, want 404", rec.Code)
	}
}

func TestSplitPath(t *testing.T) {
	parts := splitPath("/api/drafts/draft_ab/approve")
	if len(parts) != 4 || parts[0] != "api" || parts[3] != "approve" {
		t.Fatalf("splitPath = %v", parts)
	}
	if got := splitPath("/"); got != nil {
		t.Fatalf("splitPath(/) = %v, want nil", got)
	}
}
