package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"glossary/api/internal/config"
	"glossary/api/internal/store"
	"glossary/api/internal/util"
)

// fakeStore is an in-memory stand-in for the Postgres store. It mirrors the
// store's semantics where they matter to the engine: sql.ErrNoRows for
// missing or soft-deleted rows, idempotent approval inserts, the conditional
// publish update, and the unique draft_approved notification.
type fakeStore struct {
	mu    sync.Mutex
	clock time.Time

	findUsersErr error

	users         map[string]store.User
	terms         map[string]store.Term
	perspectives  map[string]store.Perspective
	entries       map[string]*store.Entry
	drafts        map[string]*store.Draft
	approvals     map[string][]string
	reviewers     map[string][]string
	comments      map[string]*store.Comment
	commentOrder  []string
	notifications []store.Notification
	curators      map[string]map[string]bool
}

func newFakeStore() *fakeStore {
	// The archive sweep compares row timestamps to real wall-clock time, so
	// the fake clock starts at now and only moves forward.
	return &fakeStore{
		clock:        time.Now().Truncate(time.Second),
		users:        make(map[string]store.User),
		terms:        make(map[string]store.Term),
		perspectives: make(map[string]store.Perspective),
		entries:      make(map[string]*store.Entry),
		drafts:       make(map[string]*store.Draft),
		approvals:    make(map[string][]string),
		reviewers:    make(map[string][]string),
		comments:     make(map[string]*store.Comment),
		curators:     make(map[string]map[string]bool),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

// Users

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) FindUsersByDisplayNames(_ context.Context, names []string) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findUsersErr != nil {
		return nil, f.findUsersErr
	}
	found := make([]store.User, 0)
	for _, name := range names {
		for _, user := range f.users {
			if user.DisplayName == name {
				found = append(found, user)
				break
			}
		}
	}
	return found, nil
}

// Sessions (unused by the engine tests)

func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error                  { return nil }
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}

// Terms

func (f *fakeStore) CreateTerm(_ context.Context, term store.Term) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	term.CreatedAt = f.tick()
	f.terms[term.ID] = term
	return nil
}

func (f *fakeStore) GetTerm(_ context.Context, termID string) (store.Term, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	term, ok := f.terms[termID]
	if !ok || term.DeletedAt != nil {
		return store.Term{}, sql.ErrNoRows
	}
	return term, nil
}

func (f *fakeStore) FindTermByNormalized(_ context.Context, normalized string) (store.Term, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, term := range f.terms {
		if term.Normalized == normalized && term.DeletedAt == nil {
			return term, nil
		}
	}
	return store.Term{}, sql.ErrNoRows
}

func (f *fakeStore) ListTerms(context.Context) ([]store.Term, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Term, 0, len(f.terms))
	for _, term := range f.terms {
		if term.DeletedAt == nil {
			items = append(items, term)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Normalized < items[j].Normalized })
	return items, nil
}

func (f *fakeStore) SoftDeleteTerm(_ context.Context, termID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	term, ok := f.terms[termID]
	if !ok || term.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := f.tick()
	term.DeletedAt = &now
	f.terms[termID] = term
	return nil
}

// Perspectives

func (f *fakeStore) CreatePerspective(_ context.Context, perspective store.Perspective) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	perspective.CreatedAt = f.tick()
	f.perspectives[perspective.ID] = perspective
	return nil
}

func (f *fakeStore) GetPerspective(_ context.Context, perspectiveID string) (store.Perspective, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	perspective, ok := f.perspectives[perspectiveID]
	if !ok || perspective.DeletedAt != nil {
		return store.Perspective{}, sql.ErrNoRows
	}
	return perspective, nil
}

func (f *fakeStore) FindPerspectiveByName(_ context.Context, name string) (store.Perspective, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, perspective := range f.perspectives {
		if perspective.Name == name && perspective.DeletedAt == nil {
			return perspective, nil
		}
	}
	return store.Perspective{}, sql.ErrNoRows
}

func (f *fakeStore) ListPerspectives(context.Context) ([]store.Perspective, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Perspective, 0, len(f.perspectives))
	for _, perspective := range f.perspectives {
		if perspective.DeletedAt == nil {
			items = append(items, perspective)
		}
	}
	return items, nil
}

func (f *fakeStore) SoftDeletePerspective(_ context.Context, perspectiveID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	perspective, ok := f.perspectives[perspectiveID]
	if !ok || perspective.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := f.tick()
	perspective.DeletedAt = &now
	f.perspectives[perspectiveID] = perspective
	return nil
}

// Entries

func (f *fakeStore) CreateEntry(_ context.Context, entry store.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.CreatedAt = f.tick()
	f.entries[entry.ID] = &entry
	return nil
}

func (f *fakeStore) GetEntry(_ context.Context, entryID string) (store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[entryID]
	if !ok || entry.DeletedAt != nil {
		return store.Entry{}, sql.ErrNoRows
	}
	out := *entry
	if term, ok := f.terms[entry.TermID]; ok {
		out.TermName = term.Name
	}
	if perspective, ok := f.perspectives[entry.PerspectiveID]; ok {
		out.PerspectiveName = perspective.Name
	}
	return out, nil
}

func (f *fakeStore) FindEntry(_ context.Context, termID, perspectiveID string) (store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.entries {
		if entry.TermID == termID && entry.PerspectiveID == perspectiveID && entry.DeletedAt == nil {
			return *entry, nil
		}
	}
	return store.Entry{}, sql.ErrNoRows
}

func (f *fakeStore) ListEntries(_ context.Context, perspectiveID, termID string) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Entry, 0)
	for _, entry := range f.entries {
		if entry.DeletedAt != nil {
			continue
		}
		if perspectiveID != "" && entry.PerspectiveID != perspectiveID {
			continue
		}
		if termID != "" && entry.TermID != termID {
			continue
		}
		items = append(items, *entry)
	}
	return items, nil
}

func (f *fakeStore) SetEntryActiveDraft(_ context.Context, entryID string, draftID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[entryID]
	if !ok || entry.DeletedAt != nil {
		return sql.ErrNoRows
	}
	entry.ActiveDraftID = draftID
	return nil
}

func (f *fakeStore) SoftDeleteEntry(_ context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[entryID]
	if !ok || entry.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := f.tick()
	entry.DeletedAt = &now
	return nil
}

// Drafts

func (f *fakeStore) CreateDraft(_ context.Context, draft store.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	f.drafts[draft.ID] = &draft
	return nil
}

func (f *fakeStore) GetDraft(_ context.Context, draftID string) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[draftID]
	if !ok || draft.DeletedAt != nil {
		return store.Draft{}, sql.ErrNoRows
	}
	out := *draft
	if author, ok := f.users[draft.AuthorID]; ok {
		out.AuthorName = author.DisplayName
	}
	return out, nil
}

func (f *fakeStore) liveEntryDrafts(entryID string) []*store.Draft {
	items := make([]*store.Draft, 0)
	for _, draft := range f.drafts {
		if draft.EntryID == entryID && draft.DeletedAt == nil {
			items = append(items, draft)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items
}

func (f *fakeStore) LatestDraftForEntry(_ context.Context, entryID string) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.liveEntryDrafts(entryID)
	if len(items) == 0 {
		return store.Draft{}, sql.ErrNoRows
	}
	return *items[0], nil
}

func (f *fakeStore) LatestPublishedDraft(_ context.Context, entryID string) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *store.Draft
	for _, draft := range f.liveEntryDrafts(entryID) {
		if !draft.IsPublished {
			continue
		}
		if latest == nil || draft.PublishedAt.After(*latest.PublishedAt) {
			latest = draft
		}
	}
	if latest == nil {
		return store.Draft{}, sql.ErrNoRows
	}
	return *latest, nil
}

func (f *fakeStore) ListEntryDrafts(_ context.Context, entryID string) ([]store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Draft, 0)
	for _, draft := range f.liveEntryDrafts(entryID) {
		items = append(items, *draft)
	}
	return items, nil
}

func (f *fakeStore) UpdateDraftContent(_ context.Context, draftID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[draftID]
	if !ok || draft.DeletedAt != nil || draft.IsPublished {
		return sql.ErrNoRows
	}
	draft.Content = content
	draft.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) ClearDraftApprovals(_ context.Context, draftID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.approvals, draftID)
	return nil
}

func (f *fakeStore) AddDraftApproval(_ context.Context, draftID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.approvals[draftID] {
		if existing == userID {
			return false, nil
		}
	}
	f.approvals[draftID] = append(f.approvals[draftID], userID)
	return true, nil
}

func (f *fakeStore) CountDraftApprovals(_ context.Context, draftID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.approvals[draftID]), nil
}

func (f *fakeStore) ListDraftApprovers(_ context.Context, draftID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.approvals[draftID]...), nil
}

func (f *fakeStore) AddDraftReviewer(_ context.Context, draftID, userID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.reviewers[draftID] {
		if existing == userID {
			return false, nil
		}
	}
	f.reviewers[draftID] = append(f.reviewers[draftID], userID)
	return true, nil
}

func (f *fakeStore) RemoveDraftReviewer(_ context.Context, draftID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.reviewers[draftID][:0]
	for _, existing := range f.reviewers[draftID] {
		if existing != userID {
			kept = append(kept, existing)
		}
	}
	f.reviewers[draftID] = kept
	return nil
}

func (f *fakeStore) ListDraftReviewers(_ context.Context, draftID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reviewers[draftID]...), nil
}

func (f *fakeStore) ListUserDraftTermIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	items := make([]string, 0)
	for _, draft := range f.drafts {
		if draft.AuthorID != userID || draft.DeletedAt != nil {
			continue
		}
		entry, ok := f.entries[draft.EntryID]
		if !ok || seen[entry.TermID] {
			continue
		}
		seen[entry.TermID] = true
		items = append(items, entry.TermID)
	}
	return items, nil
}

func (f *fakeStore) PublishDraft(_ context.Context, draftID string, minApprovals int) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[draftID]
	if !ok || draft.DeletedAt != nil || draft.IsPublished {
		return time.Time{}, false, nil
	}
	if len(f.approvals[draftID]) < minApprovals {
		return time.Time{}, false, nil
	}
	now := f.tick()
	draft.IsPublished = true
	draft.PublishedAt = &now
	draft.UpdatedAt = now
	return now, true, nil
}

func (f *fakeStore) EndorseDraft(_ context.Context, draftID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[draftID]
	if !ok || draft.DeletedAt != nil || !draft.IsPublished {
		return sql.ErrNoRows
	}
	now := f.tick()
	draft.EndorsedBy = &userID
	draft.EndorsedAt = &now
	return nil
}

func (f *fakeStore) SoftDeleteDraft(_ context.Context, draftID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[draftID]
	if !ok || draft.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := f.tick()
	draft.DeletedAt = &now
	return nil
}

func (f *fakeStore) ListDraftCandidates(_ context.Context, perspectiveID string) ([]store.DraftCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.DraftCandidate, 0)
	for _, draft := range f.drafts {
		if draft.IsPublished || draft.Archived || draft.DeletedAt != nil {
			continue
		}
		entry, ok := f.entries[draft.EntryID]
		if !ok || entry.DeletedAt != nil {
			continue
		}
		if perspectiveID != "" && entry.PerspectiveID != perspectiveID {
			continue
		}
		var latestPublished time.Time
		for _, other := range f.drafts {
			if other.EntryID == entry.ID && other.IsPublished && other.DeletedAt == nil &&
				other.PublishedAt != nil && other.PublishedAt.After(latestPublished) {
				latestPublished = *other.PublishedAt
			}
		}
		if !latestPublished.IsZero() && !draft.CreatedAt.After(latestPublished) {
			continue
		}
		candidate := store.DraftCandidate{
			Draft:         *draft,
			TermID:        entry.TermID,
			PerspectiveID: entry.PerspectiveID,
			ApproverIDs:   append([]string(nil), f.approvals[draft.ID]...),
			ReviewerIDs:   append([]string(nil), f.reviewers[draft.ID]...),
		}
		if term, ok := f.terms[entry.TermID]; ok {
			candidate.TermName = term.Name
		}
		items = append(items, candidate)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (f *fakeStore) ListPublishedDefinitions(context.Context, string) ([]store.PublishedDefinition, error) {
	return []store.PublishedDefinition{}, nil
}

func (f *fakeStore) ArchiveStaleDrafts(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var archived int64
	for _, draft := range f.drafts {
		if !draft.IsPublished && !draft.Archived && draft.DeletedAt == nil && draft.UpdatedAt.Before(cutoff) {
			draft.Archived = true
			archived++
		}
	}
	return archived, nil
}

// Comments

func (f *fakeStore) CreateComment(_ context.Context, comment store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment.CreatedAt = f.tick()
	f.comments[comment.ID] = &comment
	f.commentOrder = append(f.commentOrder, comment.ID)
	return nil
}

func (f *fakeStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok || comment.DeletedAt != nil {
		return store.Comment{}, sql.ErrNoRows
	}
	out := *comment
	if author, ok := f.users[comment.AuthorID]; ok {
		out.AuthorName = author.DisplayName
	}
	return out, nil
}

func (f *fakeStore) ListDraftComments(_ context.Context, draftID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, id := range f.commentOrder {
		comment := f.comments[id]
		if comment.DraftID == draftID && comment.DeletedAt == nil {
			items = append(items, *comment)
		}
	}
	return items, nil
}

func (f *fakeStore) ListEntryComments(_ context.Context, entryID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, id := range f.commentOrder {
		comment := f.comments[id]
		if comment.DeletedAt != nil {
			continue
		}
		draft, ok := f.drafts[comment.DraftID]
		if ok && draft.EntryID == entryID {
			items = append(items, *comment)
		}
	}
	return items, nil
}

func (f *fakeStore) SetCommentResolved(_ context.Context, commentID string, resolved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok || comment.DeletedAt != nil || comment.ParentID != nil {
		return sql.ErrNoRows
	}
	comment.Resolved = resolved
	return nil
}

// Notifications

func (f *fakeStore) CreateNotification(_ context.Context, n store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.Type == "draft_approved" && n.DraftID != nil {
		for _, existing := range f.notifications {
			if existing.UserID == n.UserID && existing.Type == n.Type &&
				existing.DraftID != nil && *existing.DraftID == *n.DraftID {
				return nil
			}
		}
	}
	n.CreatedAt = f.tick()
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeStore) HasNotification(_ context.Context, userID, draftID, notificationType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.UserID == userID && n.Type == notificationType && n.DraftID != nil && *n.DraftID == draftID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string, _ int) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Notification, 0)
	for _, n := range f.notifications {
		if n.UserID == userID {
			items = append(items, n)
		}
	}
	return items, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, userID, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == notificationID && f.notifications[i].UserID == userID {
			f.notifications[i].Read = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].UserID == userID {
			f.notifications[i].Read = true
		}
	}
	return nil
}

// Curators

func (f *fakeStore) AddPerspectiveCurator(_ context.Context, curator store.PerspectiveCurator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.curators[curator.PerspectiveID] == nil {
		f.curators[curator.PerspectiveID] = make(map[string]bool)
	}
	f.curators[curator.PerspectiveID][curator.UserID] = true
	return nil
}

func (f *fakeStore) RemovePerspectiveCurator(_ context.Context, perspectiveID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.curators[perspectiveID], userID)
	return nil
}

func (f *fakeStore) IsPerspectiveCurator(_ context.Context, userID, perspectiveID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.curators[perspectiveID][userID], nil
}

func (f *fakeStore) ListPerspectiveCurators(context.Context, string) ([]store.PerspectiveCurator, error) {
	return []store.PerspectiveCurator{}, nil
}

// Test fixture

type fixture struct {
	service *Service
	store   *fakeStore
	term    store.Term
	persp   store.Perspective
	entry   store.Entry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := newFakeStore()
	service := NewService(config.Config{ArchiveAfter: 180 * 24 * time.Hour}, fake)

	term := store.Term{ID: util.NewID("term"), Name: "cache", Normalized: "cache"}
	fake.terms[term.ID] = term
	persp := store.Perspective{ID: util.NewID("persp"), Name: "Engineering"}
	fake.perspectives[persp.ID] = persp
	entry := store.Entry{ID: util.NewID("entry"), TermID: term.ID, PerspectiveID: persp.ID}
	entryCopy := entry
	fake.entries[entry.ID] = &entryCopy

	return &fixture{service: service, store: fake, term: term, persp: persp, entry: entry}
}

func (fx *fixture) addUser(t *testing.T, name, role string) Session {
	t.Helper()
	user := store.User{
		ID:          util.NewID("user"),
		DisplayName: name,
		Email:       name + "@example.com",
		Role:        role,
	}
	fx.store.users[user.ID] = user
	return Session{UserID: user.ID, UserName: user.DisplayName, Role: role}
}

func (fx *fixture) notificationsOf(userID, notifType string) []store.Notification {
	items := make([]store.Notification, 0)
	for _, n := range fx.store.notifications {
		if n.UserID == userID && n.Type == notifType {
			items = append(items, n)
		}
	}
	return items
}
