package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"glossary/api/internal/audit"
	"glossary/api/internal/export"
	"glossary/api/internal/rbac"
	"glossary/api/internal/search"
	"glossary/api/internal/store"
	"glossary/api/internal/util"
)

var diacriticsStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeTermName lowercases, folds diacritics, and collapses whitespace,
// so "Café " and "cafe" are the same term.
func normalizeTermName(name string) string {
	folded, _, err := transform.String(diacriticsStripper, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// CreateTerm adds a term to the glossary. Uniqueness is checked against the
// normalized form among non-deleted terms; the official flag is staff-only.
func (s *Service) CreateTerm(ctx context.Context, sess Session, name string, isOfficial bool) (store.Term, error) {
	if !s.Can(sess, rbac.ActionDraft) {
		return store.Term{}, permissionError("your role cannot create terms")
	}
	if isOfficial && !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return store.Term{}, permissionError("only staff may mark terms official")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Term{}, validationError("term name is required", nil)
	}

	normalized := normalizeTermName(name)
	existing, err := s.store.FindTermByNormalized(ctx, normalized)
	if err == nil {
		return store.Term{}, validationError("term already exists", map[string]any{"existingId": existing.ID})
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Term{}, err
	}

	term := store.Term{
		ID:         util.NewID("term"),
		Name:       name,
		Normalized: normalized,
		IsOfficial: isOfficial,
		CreatedBy:  sess.UserID,
	}
	if err := s.store.CreateTerm(ctx, term); err != nil {
		return store.Term{}, err
	}
	if s.search != nil {
		s.search.IndexTerm(search.TermRecord{ID: term.ID, Name: term.Name, IsOfficial: term.IsOfficial})
	}
	return s.store.GetTerm(ctx, term.ID)
}

func (s *Service) GetTerm(ctx context.Context, termID string) (store.Term, error) {
	return s.store.GetTerm(ctx, termID)
}

func (s *Service) ListTerms(ctx context.Context) ([]store.Term, error) {
	return s.store.ListTerms(ctx)
}

// DeleteTerm soft-deletes a term. Staff only.
func (s *Service) DeleteTerm(ctx context.Context, sess Session, termID string) error {
	if !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return permissionError("only staff may delete terms")
	}
	if err := s.store.SoftDeleteTerm(ctx, termID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTerm(termID)
	}
	return nil
}

// CreatePerspective adds a named category for entries. Staff only; the name
// must be unique among non-deleted perspectives.
func (s *Service) CreatePerspective(ctx context.Context, sess Session, name, description string) (store.Perspective, error) {
	if !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return store.Perspective{}, permissionError("only staff may create perspectives")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Perspective{}, validationError("perspective name is required", nil)
	}
	existing, err := s.store.FindPerspectiveByName(ctx, name)
	if err == nil {
		return store.Perspective{}, validationError("perspective already exists", map[string]any{"existingId": existing.ID})
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Perspective{}, err
	}

	perspective := store.Perspective{
		ID:          util.NewID("persp"),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   sess.UserID,
	}
	if err := s.store.CreatePerspective(ctx, perspective); err != nil {
		return store.Perspective{}, err
	}
	return s.store.GetPerspective(ctx, perspective.ID)
}

func (s *Service) GetPerspective(ctx context.Context, perspectiveID string) (store.Perspective, error) {
	return s.store.GetPerspective(ctx, perspectiveID)
}

func (s *Service) ListPerspectives(ctx context.Context) ([]store.Perspective, error) {
	return s.store.ListPerspectives(ctx)
}

func (s *Service) DeletePerspective(ctx context.Context, sess Session, perspectiveID string) error {
	if !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return permissionError("only staff may delete perspectives")
	}
	return s.store.SoftDeletePerspective(ctx, perspectiveID)
}

// EntryDetail pairs an entry with its active published definition, if any.
type EntryDetail struct {
	Entry       store.Entry
	ActiveDraft *store.Draft
}

// CreateEntry opens a (term, perspective) slot for drafting. The pair must
// be unique among non-deleted entries; the official flag is staff-only.
func (s *Service) CreateEntry(ctx context.Context, sess Session, termID, perspectiveID string, isOfficial bool) (store.Entry, error) {
	if !s.Can(sess, rbac.ActionDraft) {
		return store.Entry{}, permissionError("your role cannot create entries")
	}
	if isOfficial && !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return store.Entry{}, permissionError("only staff may mark entries official")
	}
	if termID == "" || perspectiveID == "" {
		return store.Entry{}, validationError("termId and perspectiveId are required", nil)
	}
	if _, err := s.store.GetTerm(ctx, termID); err != nil {
		return store.Entry{}, err
	}
	if _, err := s.store.GetPerspective(ctx, perspectiveID); err != nil {
		return store.Entry{}, err
	}
	existing, err := s.store.FindEntry(ctx, termID, perspectiveID)
	if err == nil {
		return store.Entry{}, validationError("entry already exists for this term and perspective", map[string]any{"existingId": existing.ID})
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, err
	}

	entry := store.Entry{
		ID:            util.NewID("entry"),
		TermID:        termID,
		PerspectiveID: perspectiveID,
		IsOfficial:    isOfficial,
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		return store.Entry{}, err
	}
	return s.store.GetEntry(ctx, entry.ID)
}

// GetEntry returns the entry with its active definition resolved.
func (s *Service) GetEntry(ctx context.Context, entryID string) (EntryDetail, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return EntryDetail{}, err
	}
	detail := EntryDetail{Entry: entry}
	if entry.ActiveDraftID != nil {
		draft, err := s.store.GetDraft(ctx, *entry.ActiveDraftID)
		if err == nil {
			detail.ActiveDraft = &draft
		} else if !errors.Is(err, sql.ErrNoRows) {
			return EntryDetail{}, err
		}
	}
	return detail, nil
}

func (s *Service) ListEntries(ctx context.Context, perspectiveID, termID string) ([]store.Entry, error) {
	return s.store.ListEntries(ctx, perspectiveID, termID)
}

func (s *Service) DeleteEntry(ctx context.Context, sess Session, entryID string) error {
	if !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return permissionError("only staff may delete entries")
	}
	return s.store.SoftDeleteEntry(ctx, entryID)
}

// AddCurator grants a user endorse/manage rights over one perspective.
// Staff only.
func (s *Service) AddCurator(ctx context.Context, sess Session, perspectiveID, userID string) (store.PerspectiveCurator, error) {
	if !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return store.PerspectiveCurator{}, permissionError("only staff may manage curators")
	}
	if _, err := s.store.GetPerspective(ctx, perspectiveID); err != nil {
		return store.PerspectiveCurator{}, err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return store.PerspectiveCurator{}, err
	}
	curator := store.PerspectiveCurator{
		ID:            util.NewID("curator"),
		PerspectiveID: perspectiveID,
		UserID:        userID,
		GrantedBy:     sess.UserID,
	}
	if err := s.store.AddPerspectiveCurator(ctx, curator); err != nil {
		return store.PerspectiveCurator{}, err
	}
	return curator, nil
}

func (s *Service) RemoveCurator(ctx context.Context, sess Session, perspectiveID, userID string) error {
	if !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return permissionError("only staff may manage curators")
	}
	return s.store.RemovePerspectiveCurator(ctx, perspectiveID, userID)
}

func (s *Service) ListCurators(ctx context.Context, sess Session, perspectiveID string) ([]store.PerspectiveCurator, error) {
	if !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return nil, permissionError("only staff may list curators")
	}
	return s.store.ListPerspectiveCurators(ctx, perspectiveID)
}

// SearchGlossary queries terms, published definitions, and comments.
func (s *Service) SearchGlossary(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ExportPerspective renders a perspective's published glossary as PDF or
// DOCX.
func (s *Service) ExportPerspective(ctx context.Context, perspectiveID string, format export.Format) (*export.Result, error) {
	if format != export.FormatPDF && format != export.FormatDOCX {
		return nil, validationError("format must be pdf or docx", nil)
	}
	return s.exports.Export(ctx, export.Request{PerspectiveID: perspectiveID, Format: format})
}

// AuditHistory lists the publication trail of a perspective.
func (s *Service) AuditHistory(ctx context.Context, perspectiveID string, limit int) ([]audit.CommitInfo, error) {
	if _, err := s.store.GetPerspective(ctx, perspectiveID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []audit.CommitInfo{}, nil
	}
	return s.audit.History(perspectiveID, limit)
}
