package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"glossary/api/internal/audit"
	"glossary/api/internal/auth"
	"glossary/api/internal/authpw"
	"glossary/api/internal/config"
	"glossary/api/internal/email"
	"glossary/api/internal/export"
	"glossary/api/internal/rbac"
	"glossary/api/internal/search"
	"glossary/api/internal/store"
	"glossary/api/internal/util"
)

// dataStore is the persistence surface the service needs. *store.PostgresStore
// implements it; tests swap in a fake.
type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	FindUsersByDisplayNames(ctx context.Context, names []string) ([]store.User, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateTerm(ctx context.Context, term store.Term) error
	GetTerm(ctx context.Context, termID string) (store.Term, error)
	FindTermByNormalized(ctx context.Context, normalized string) (store.Term, error)
	ListTerms(ctx context.Context) ([]store.Term, error)
	SoftDeleteTerm(ctx context.Context, termID string) error

	CreatePerspective(ctx context.Context, perspective store.Perspective) error
	GetPerspective(ctx context.Context, perspectiveID string) (store.Perspective, error)
	FindPerspectiveByName(ctx context.Context, name string) (store.Perspective, error)
	ListPerspectives(ctx context.Context) ([]store.Perspective, error)
	SoftDeletePerspective(ctx context.Context, perspectiveID string) error

	CreateEntry(ctx context.Context, entry store.Entry) error
	GetEntry(ctx context.Context, entryID string) (store.Entry, error)
	FindEntry(ctx context.Context, termID, perspectiveID string) (store.Entry, error)
	ListEntries(ctx context.Context, perspectiveID, termID string) ([]store.Entry, error)
	SetEntryActiveDraft(ctx context.Context, entryID string, draftID *string) error
	SoftDeleteEntry(ctx context.Context, entryID string) error

	CreateDraft(ctx context.Context, draft store.Draft) error
	GetDraft(ctx context.Context, draftID string) (store.Draft, error)
	LatestDraftForEntry(ctx context.Context, entryID string) (store.Draft, error)
	LatestPublishedDraft(ctx context.Context, entryID string) (store.Draft, error)
	ListEntryDrafts(ctx context.Context, entryID string) ([]store.Draft, error)
	UpdateDraftContent(ctx context.Context, draftID, content string) error
	ClearDraftApprovals(ctx context.Context, draftID string) error
	AddDraftApproval(ctx context.Context, draftID, userID string) (bool, error)
	CountDraftApprovals(ctx context.Context, draftID string) (int, error)
	ListDraftApprovers(ctx context.Context, draftID string) ([]string, error)
	AddDraftReviewer(ctx context.Context, draftID, userID, requestedBy string) (bool, error)
	RemoveDraftReviewer(ctx context.Context, draftID, userID string) error
	ListDraftReviewers(ctx context.Context, draftID string) ([]string, error)
	ListUserDraftTermIDs(ctx context.Context, userID string) ([]string, error)
	PublishDraft(ctx context.Context, draftID string, minApprovals int) (time.Time, bool, error)
	EndorseDraft(ctx context.Context, draftID, userID string) error
	SoftDeleteDraft(ctx context.Context, draftID string) error
	ListDraftCandidates(ctx context.Context, perspectiveID string) ([]store.DraftCandidate, error)
	ListPublishedDefinitions(ctx context.Context, perspectiveID string) ([]store.PublishedDefinition, error)
	ArchiveStaleDrafts(ctx context.Context, cutoff time.Time) (int64, error)

	CreateComment(ctx context.Context, comment store.Comment) error
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	ListDraftComments(ctx context.Context, draftID string) ([]store.Comment, error)
	ListEntryComments(ctx context.Context, entryID string) ([]store.Comment, error)
	SetCommentResolved(ctx context.Context, commentID string, resolved bool) error

	CreateNotification(ctx context.Context, n store.Notification) error
	HasNotification(ctx context.Context, userID, draftID, notificationType string) (bool, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error

	AddPerspectiveCurator(ctx context.Context, curator store.PerspectiveCurator) error
	RemovePerspectiveCurator(ctx context.Context, perspectiveID, userID string) error
	IsPerspectiveCurator(ctx context.Context, userID, perspectiveID string) (bool, error)
	ListPerspectiveCurators(ctx context.Context, perspectiveID string) ([]store.PerspectiveCurator, error)
}

// sessionStore holds refresh sessions. Redis when available, falling back to
// the relational store via dbSessionStore.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// dbSessionStore adapts the relational store to the sessionStore interface.
type dbSessionStore struct {
	store dataStore
}

func (s dbSessionStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return s.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (s dbSessionStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return s.store.LookupRefreshSession(ctx, tokenHash)
}

func (s dbSessionStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

// searchIndex is the slice of the search service the app uses.
type searchIndex interface {
	Search(q search.Query) search.Response
	IndexTerm(rec search.TermRecord)
	IndexDefinition(rec search.DefinitionRecord)
	IndexComment(rec search.CommentRecord)
	DeleteTerm(id string)
	DeleteDefinition(id string)
	ReindexAllFromPG(ctx context.Context)
}

// auditTrail records publications and endorsements in the per-perspective
// git history.
type auditTrail interface {
	RecordPublication(perspectiveID string, rec audit.Record) (audit.CommitInfo, error)
	RecordEndorsement(perspectiveID string, rec audit.Record) (audit.CommitInfo, error)
	History(perspectiveID string, limit int) ([]audit.CommitInfo, error)
}

// mailer mirrors notifications and auth flows to email when SMTP is configured.
type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, token string) error
	SendPasswordResetEmail(to, userName, token string) error
	SendNotificationEmail(to, userName, subject, message, linkURL string) error
}

// Session is an authenticated caller.
type Session struct {
	UserID       string
	UserName     string
	Role         string
	JTI          string
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
}

// Service implements the glossary's domain operations on top of the store.
type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	curators *rbac.Curators
	authpw   *authpw.Service
	search   searchIndex
	audit    auditTrail
	email    mailer
	exports  *export.Service

	readyCheck func(ctx context.Context) error

	sweepMu   sync.Mutex
	lastSweep time.Time
}

func NewService(cfg config.Config, st dataStore) *Service {
	s := &Service{
		cfg:      cfg,
		store:    st,
		sessions: dbSessionStore{store: st},
		curators: rbac.NewCurators(curatorAdapter{st}),
	}
	s.exports = export.NewService(exportAdapter{st})
	return s
}

// curatorAdapter narrows dataStore to the rbac.CuratorStore interface.
type curatorAdapter struct {
	store dataStore
}

func (a curatorAdapter) IsPerspectiveCurator(ctx context.Context, userID, perspectiveID string) (bool, error) {
	return a.store.IsPerspectiveCurator(ctx, userID, perspectiveID)
}

// exportAdapter feeds the export renderer from the relational store.
type exportAdapter struct {
	store dataStore
}

func (a exportAdapter) GetPerspectiveInfo(ctx context.Context, perspectiveID string) (export.PerspectiveInfo, error) {
	p, err := a.store.GetPerspective(ctx, perspectiveID)
	if err != nil {
		return export.PerspectiveInfo{}, err
	}
	return export.PerspectiveInfo{ID: p.ID, Name: p.Name, Description: p.Description}, nil
}

func (a exportAdapter) ListPublishedEntries(ctx context.Context, perspectiveID string) ([]export.GlossaryEntry, error) {
	defs, err := a.store.ListPublishedDefinitions(ctx, perspectiveID)
	if err != nil {
		return nil, err
	}
	entries := make([]export.GlossaryEntry, 0, len(defs))
	for _, d := range defs {
		entries = append(entries, export.GlossaryEntry{
			TermName:    d.TermName,
			Content:     d.Content,
			Author:      d.AuthorName,
			PublishedAt: d.PublishedAt,
			Endorsed:    d.Endorsed,
		})
	}
	return entries, nil
}

// SetSessionStore replaces the default relational refresh-session store.
func (s *Service) SetSessionStore(ss sessionStore) { s.sessions = ss }

func (s *Service) SetSearch(idx searchIndex) { s.search = idx }

func (s *Service) SetAudit(a auditTrail) { s.audit = a }

func (s *Service) SetEmail(m mailer) { s.email = m }

func (s *Service) SetAuthPassword(a *authpw.Service) { s.authpw = a }

// SetReadyCheck installs the readiness probe, usually the database ping.
func (s *Service) SetReadyCheck(check func(ctx context.Context) error) { s.readyCheck = check }

func (s *Service) Ready(ctx context.Context) error {
	if s.readyCheck == nil {
		return nil
	}
	return s.readyCheck(ctx)
}

// Bootstrap runs one-time startup work: rebuilding the search indexes from
// the database so Meilisearch catches up with anything written while it was
// down.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// AuthPassword exposes the password auth flows to the HTTP layer.
func (s *Service) AuthPassword() *authpw.Service { return s.authpw }

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail mails the signup verification link. Best-effort.
func (s *Service) SendVerificationEmail(user store.User, token string) {
	if !s.SMTPConfigured() {
		return
	}
	link := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.AppURL, token)
	if err := s.email.SendVerificationEmail(user.Email, user.DisplayName, link); err != nil {
		log.Printf("verification email to %s: %v", user.Email, err)
	}
}

// SendPasswordResetEmail mails the reset link. Best-effort.
func (s *Service) SendPasswordResetEmail(user store.User, token string) {
	if !s.SMTPConfigured() {
		return
	}
	link := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.AppURL, token)
	if err := s.email.SendPasswordResetEmail(user.Email, user.DisplayName, link); err != nil {
		log.Printf("password reset email to %s: %v", user.Email, err)
	}
}

var _ mailer = (*email.Service)(nil)

// Can reports whether the session's role allows the action.
func (s *Service) Can(sess Session, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(sess.Role), action)
}

// CreateSession issues an access/refresh token pair for the user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refresh, err := randomToken()
	if err != nil {
		return Session{}, fmt.Errorf("refresh token: %w", err)
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         string(rbac.Normalize(user.Role)),
		JTI:          jti,
		Token:        token,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token and returns the caller's session.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, unauthorized("invalid or expired token")
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, unauthorized("token revoked")
	}
	return Session{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.JTI,
		Token:     token,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// RefreshSession rotates a refresh token and issues a new token pair.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, unauthorized("invalid refresh token")
	}
	// Rotate: the old token is single use.
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.CreateSession(ctx, user)
}

// Logout revokes both halves of the session.
func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("revoke refresh session: %v", err)
		}
	}
	if err := s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
