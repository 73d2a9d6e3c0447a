package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"regexp"
	"strings"

	"glossary/api/internal/rbac"
	"glossary/api/internal/store"
	"glossary/api/internal/util"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9._-]*)`)

// EntryComment is a comment paired with its draft's position in the entry's
// replacement chain, so old threads read as "2 drafts ago".
type EntryComment struct {
	Comment    store.Comment
	DraftID    string
	DraftLabel string
}

// CreateComment attaches a comment to a draft. One level of threading:
// replies must target a top-level comment on the same draft. Users mentioned
// as @name are notified, as is the parent comment's author on a reply.
func (s *Service) CreateComment(ctx context.Context, sess Session, draftID, parentID, body string) (store.Comment, error) {
	if !s.Can(sess, rbac.ActionComment) {
		return store.Comment{}, permissionError("your role cannot comment")
	}
	if strings.TrimSpace(body) == "" {
		return store.Comment{}, validationError("comment body is required", nil)
	}
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return store.Comment{}, err
	}

	var parentAuthor string
	comment := store.Comment{
		ID:       util.NewID("comment"),
		DraftID:  draft.ID,
		AuthorID: sess.UserID,
		Body:     body,
	}
	if parentID != "" {
		parent, err := s.store.GetComment(ctx, parentID)
		if err != nil {
			return store.Comment{}, err
		}
		if parent.DraftID != draft.ID {
			return store.Comment{}, validationError("parent comment belongs to a different draft", nil)
		}
		if parent.ParentID != nil {
			return store.Comment{}, validationError("replies to replies are not supported", nil)
		}
		comment.ParentID = &parent.ID
		parentAuthor = parent.AuthorID
	}

	if err := s.store.CreateComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	// The comment is persisted at this point; mention fan-out is best-effort.
	mentioned, err := s.resolveMentions(ctx, body)
	if err != nil {
		log.Printf("resolve mentions for %s: %v", comment.ID, err)
		mentioned = nil
	}
	entry, err := s.store.GetEntry(ctx, draft.EntryID)
	if err == nil {
		s.dispatch(ctx, commentAddedEvent{
			comment:      comment,
			draft:        draft,
			entry:        entry,
			author:       sess,
			mentioned:    mentioned,
			parentAuthor: parentAuthor,
		})
	}
	return s.store.GetComment(ctx, comment.ID)
}

// ResolveComment marks a top-level comment resolved or unresolved. The
// comment's author, the draft's author, and staff may do this.
func (s *Service) ResolveComment(ctx context.Context, sess Session, commentID string, resolved bool) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.ParentID != nil {
		return store.Comment{}, validationError("only top-level comments can be resolved", nil)
	}

	if comment.AuthorID != sess.UserID && !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		draft, err := s.store.GetDraft(ctx, comment.DraftID)
		if err != nil {
			return store.Comment{}, err
		}
		if draft.AuthorID != sess.UserID {
			return store.Comment{}, permissionError("you cannot resolve this comment")
		}
	}

	if err := s.store.SetCommentResolved(ctx, comment.ID, resolved); err != nil {
		return store.Comment{}, err
	}
	return s.store.GetComment(ctx, comment.ID)
}

// ListDraftComments returns a draft's comments oldest first.
func (s *Service) ListDraftComments(ctx context.Context, draftID string) ([]store.Comment, error) {
	if _, err := s.store.GetDraft(ctx, draftID); err != nil {
		return nil, err
	}
	return s.store.ListDraftComments(ctx, draftID)
}

// ListEntryComments returns every comment across the entry's replacement
// chain, each labeled with its draft's position relative to the chain head.
func (s *Service) ListEntryComments(ctx context.Context, entryID string) ([]EntryComment, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	drafts, err := s.store.ListEntryDrafts(ctx, entryID)
	if err != nil {
		return nil, err
	}
	labels := draftPositionLabels(drafts, entry.ActiveDraftID)

	comments, err := s.store.ListEntryComments(ctx, entryID)
	if err != nil {
		return nil, err
	}
	items := make([]EntryComment, 0, len(comments))
	for _, c := range comments {
		items = append(items, EntryComment{
			Comment:    c,
			DraftID:    c.DraftID,
			DraftLabel: labels[c.DraftID],
		})
	}
	return items, nil
}

// resolveMentions maps @name tokens to users; names that match nobody are
// ignored.
func (s *Service) resolveMentions(ctx context.Context, body string) ([]store.User, error) {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	users, err := s.store.FindUsersByDisplayNames(ctx, names)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return users, err
}
