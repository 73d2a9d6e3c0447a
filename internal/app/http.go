package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"glossary/api/internal/auth"
	"glossary/api/internal/authpw"
	"glossary/api/internal/export"
	"glossary/api/internal/rbac"
	"glossary/api/internal/search"
	"glossary/api/internal/store"
	"glossary/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ready(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && (r.URL.Path == "/api/auth/signin" || r.URL.Path == "/api/session/login") {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.RefreshSession(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(session, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		filterType := search.ResultType(strings.TrimSpace(r.URL.Query().Get("type")))
		switch filterType {
		case "", search.ResultTerm, search.ResultDefinition, search.ResultComment:
		default:
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be term, definition, or comment", nil)
			return
		}
		payload := s.service.SearchGlossary(search.Query{
			Text:                strings.TrimSpace(r.URL.Query().Get("q")),
			FilterType:          filterType,
			FilterPerspectiveID: strings.TrimSpace(r.URL.Query().Get("perspectiveId")),
			Limit:               limit,
			Offset:              offset,
		})
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/terms" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListTerms(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list terms", nil)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, t := range items {
				payload = append(payload, termPayload(t))
			}
			writeJSON(w, http.StatusOK, map[string]any{"terms": payload})
			return
		case http.MethodPost:
			var body struct {
				Name       string `json:"name"`
				IsOfficial bool   `json:"isOfficial"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			term, err := s.service.CreateTerm(r.Context(), session, body.Name, body.IsOfficial)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, termPayload(term))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.URL.Path == "/api/perspectives" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListPerspectives(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list perspectives", nil)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, p := range items {
				payload = append(payload, perspectivePayload(p))
			}
			writeJSON(w, http.StatusOK, map[string]any{"perspectives": payload})
			return
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			perspective, err := s.service.CreatePerspective(r.Context(), session, body.Name, body.Description)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, perspectivePayload(perspective))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.URL.Path == "/api/entries" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListEntries(r.Context(),
				strings.TrimSpace(r.URL.Query().Get("perspectiveId")),
				strings.TrimSpace(r.URL.Query().Get("termId")))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list entries", nil)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, e := range items {
				payload = append(payload, entryPayload(e))
			}
			writeJSON(w, http.StatusOK, map[string]any{"entries": payload})
			return
		case http.MethodPost:
			var body struct {
				TermID        string `json:"termId"`
				PerspectiveID string `json:"perspectiveId"`
				IsOfficial    bool   `json:"isOfficial"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			entry, err := s.service.CreateEntry(r.Context(), session, body.TermID, body.PerspectiveID, body.IsOfficial)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, entryPayload(entry))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/drafts" {
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		mode := ParseReviewMode(strings.TrimSpace(r.URL.Query().Get("mode")))
		showAll := r.URL.Query().Get("showAll") == "true"
		perspectiveID := strings.TrimSpace(r.URL.Query().Get("perspectiveId"))

		items, total, err := s.service.ListReviewQueue(r.Context(), session, perspectiveID, mode, showAll, limit, offset)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, c := range items {
			payload = append(payload, candidatePayload(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{"drafts": payload, "total": total})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		items, err := s.service.ListNotifications(r.Context(), session, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list notifications", nil)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, n := range items {
			payload = append(payload, notificationPayload(n))
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": payload})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/notifications/read-all" {
		if err := s.service.MarkAllNotificationsRead(r.Context(), session); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "terms" {
		s.handleTerm(w, r, session, parts[2])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "perspectives" {
		s.handlePerspective(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "entries" {
		s.handleEntry(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "drafts" {
		s.handleDraft(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "comments" &&
		(parts[3] == "resolve" || parts[3] == "unresolve") {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		comment, err := s.service.ResolveComment(r.Context(), session, parts[2], parts[3] == "resolve")
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commentPayload(comment))
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "notifications" && parts[3] == "read" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err := s.service.MarkNotificationRead(r.Context(), session, parts[2]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTerm(w http.ResponseWriter, r *http.Request, session Session, termID string) {
	switch r.Method {
	case http.MethodGet:
		term, err := s.service.GetTerm(r.Context(), termID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, termPayload(term))
	case http.MethodDelete:
		if err := s.service.DeleteTerm(r.Context(), session, termID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handlePerspective(w http.ResponseWriter, r *http.Request, session Session, perspectiveID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			perspective, err := s.service.GetPerspective(r.Context(), perspectiveID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, perspectivePayload(perspective))
		case http.MethodDelete:
			if err := s.service.DeletePerspective(r.Context(), session, perspectiveID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet {
		format := export.Format(strings.TrimSpace(r.URL.Query().Get("format")))
		result, err := s.service.ExportPerspective(r.Context(), perspectiveID, format)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		_, _ = w.Write(result.Data)
		return
	}

	if len(rest) == 1 && rest[0] == "audit" && r.Method == http.MethodGet {
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		commits, err := s.service.AuditHistory(r.Context(), perspectiveID, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
		return
	}

	if len(rest) == 1 && rest[0] == "curators" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListCurators(r.Context(), session, perspectiveID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, c := range items {
				payload = append(payload, curatorPayload(c))
			}
			writeJSON(w, http.StatusOK, map[string]any{"curators": payload})
		case http.MethodPost:
			var body struct {
				UserID string `json:"userId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			curator, err := s.service.AddCurator(r.Context(), session, perspectiveID, body.UserID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, curatorPayload(curator))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[0] == "curators" && r.Method == http.MethodDelete {
		if err := s.service.RemoveCurator(r.Context(), session, perspectiveID, rest[1]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEntry(w http.ResponseWriter, r *http.Request, session Session, entryID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetEntry(r.Context(), entryID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			payload := entryPayload(detail.Entry)
			if detail.ActiveDraft != nil {
				payload["activeDraft"] = draftPayload(*detail.ActiveDraft)
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteEntry(r.Context(), session, entryID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch rest[0] {
	case "history":
		if r.Method != http.MethodGet {
			break
		}
		items, err := s.service.EntryHistory(r.Context(), entryID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, historyItemPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": payload})
		return

	case "comments":
		if r.Method != http.MethodGet {
			break
		}
		items, err := s.service.ListEntryComments(r.Context(), entryID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			p := commentPayload(item.Comment)
			p["draftLabel"] = item.DraftLabel
			payload = append(payload, p)
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": payload})
		return

	case "drafts":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		draft, err := s.service.CreateDraft(r.Context(), session, entryID, body.Content)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, draftPayload(draft))
		return

	case "endorse":
		if r.Method != http.MethodPost {
			break
		}
		draft, err := s.service.EndorseEntry(r.Context(), session, entryID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, draftPayload(draft))
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleDraft(w http.ResponseWriter, r *http.Request, session Session, draftID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetDraft(r.Context(), draftID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, draftDetailPayload(detail))
		case http.MethodPut:
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			draft, err := s.service.EditDraft(r.Context(), session, draftID, body.Content)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, draftPayload(draft))
		case http.MethodDelete:
			if err := s.service.DeleteDraft(r.Context(), session, draftID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch rest[0] {
	case "approve":
		if r.Method != http.MethodPost {
			break
		}
		detail, err := s.service.ApproveDraft(r.Context(), session, draftID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, draftDetailPayload(detail))
		return

	case "publish":
		if r.Method != http.MethodPost {
			break
		}
		draft, err := s.service.PublishDraft(r.Context(), session, draftID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, draftPayload(draft))
		return

	case "request-review":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			ReviewerIDs []string `json:"reviewerIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.RequestReview(r.Context(), session, draftID, body.ReviewerIDs)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, draftDetailPayload(detail))
		return

	case "comments":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListDraftComments(r.Context(), draftID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, c := range items {
				payload = append(payload, commentPayload(c))
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": payload})
			return
		case http.MethodPost:
			var body struct {
				Body     string `json:"body"`
				ParentID string `json:"parentId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.CreateComment(r.Context(), session, draftID, body.ParentID, body.Body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, commentPayload(comment))
			return
		}
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPassword()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	if s.service.SMTPConfigured() {
		s.service.SendVerificationEmail(resp.User, resp.VerificationToken)
		writeJSON(w, http.StatusCreated, map[string]any{
			"userId":  resp.User.ID,
			"message": "Please check your email to verify your account",
		})
		return
	}

	// Dev bypass: return the token directly when email is not configured.
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":               resp.User.ID,
		"message":              "Account created. Verify your email to continue.",
		"devVerificationToken": resp.VerificationToken,
	})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPassword()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, needsVerify, err := authSvc.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	if needsVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPassword()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPassword()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, token, err := authSvc.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		log.Printf("password reset request: %v", err)
	}

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token != "" {
		if s.service.SMTPConfigured() {
			s.service.SendPasswordResetEmail(user, token)
		} else {
			response["devResetToken"] = token
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPassword()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

// Payload builders

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func termPayload(t store.Term) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"isOfficial": t.IsOfficial,
		"createdAt":  t.CreatedAt,
	}
}

func perspectivePayload(p store.Perspective) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"createdAt":   p.CreatedAt,
	}
}

func entryPayload(e store.Entry) map[string]any {
	return map[string]any{
		"id":              e.ID,
		"termId":          e.TermID,
		"termName":        e.TermName,
		"perspectiveId":   e.PerspectiveID,
		"perspectiveName": e.PerspectiveName,
		"activeDraftId":   e.ActiveDraftID,
		"isOfficial":      e.IsOfficial,
		"createdAt":       e.CreatedAt,
	}
}

func draftPayload(d store.Draft) map[string]any {
	return map[string]any{
		"id":          d.ID,
		"entryId":     d.EntryID,
		"content":     d.Content,
		"authorId":    d.AuthorID,
		"authorName":  d.AuthorName,
		"replaces":    d.ReplacesID,
		"isPublished": d.IsPublished,
		"publishedAt": d.PublishedAt,
		"endorsedBy":  d.EndorsedBy,
		"endorsedAt":  d.EndorsedAt,
		"archived":    d.Archived,
		"createdAt":   d.CreatedAt,
		"updatedAt":   d.UpdatedAt,
	}
}

func draftDetailPayload(detail DraftDetail) map[string]any {
	payload := draftPayload(detail.Draft)
	payload["approvers"] = detail.Approvers
	payload["reviewers"] = detail.Reviewers
	payload["approved"] = detail.Approved
	return payload
}

func candidatePayload(c store.DraftCandidate) map[string]any {
	payload := draftPayload(c.Draft)
	payload["termId"] = c.TermID
	payload["termName"] = c.TermName
	payload["perspectiveId"] = c.PerspectiveID
	payload["approvers"] = c.ApproverIDs
	payload["reviewers"] = c.ReviewerIDs
	return payload
}

func historyItemPayload(item HistoryItem) map[string]any {
	payload := draftPayload(item.Draft)
	payload["approvers"] = item.Approvers
	payload["label"] = item.Label
	payload["replacedBy"] = item.ReplacedBy
	payload["isActive"] = item.IsActive
	return payload
}

func commentPayload(c store.Comment) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"draftId":    c.DraftID,
		"parentId":   c.ParentID,
		"authorId":   c.AuthorID,
		"authorName": c.AuthorName,
		"body":       c.Body,
		"resolved":   c.Resolved,
		"createdAt":  c.CreatedAt,
	}
}

func notificationPayload(n store.Notification) map[string]any {
	return map[string]any{
		"id":        n.ID,
		"type":      n.Type,
		"message":   n.Message,
		"draftId":   n.DraftID,
		"commentId": n.CommentID,
		"read":      n.Read,
		"createdAt": n.CreatedAt,
	}
}

func curatorPayload(c store.PerspectiveCurator) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"perspectiveId": c.PerspectiveID,
		"userId":        c.UserID,
		"userName":      c.UserName,
		"userEmail":     c.UserEmail,
		"grantedBy":     c.GrantedBy,
		"createdAt":     c.CreatedAt,
	}
}

// Helpers

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Status == http.StatusUnauthorized {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.RequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be a non-negative integer", nil)
		return 0, false
	}
	return parsed, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependency not installed", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// ContextRequestID returns the request id stamped by the middleware, if any.
func ContextRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
