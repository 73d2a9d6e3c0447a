package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"glossary/api/internal/config"
	"glossary/api/internal/rbac"
	"glossary/api/internal/store"
	"glossary/api/internal/util"
)

// DraftDetail is a draft plus its review bookkeeping.
type DraftDetail struct {
	Draft     store.Draft
	Approvers []string
	Reviewers []string
	Approved  bool
}

// CreateDraft proposes a new definition for an entry. The new draft replaces
// the entry's most recently created live draft, if any, keeping the chain
// linear.
func (s *Service) CreateDraft(ctx context.Context, sess Session, entryID, content string) (store.Draft, error) {
	if !s.Can(sess, rbac.ActionDraft) {
		return store.Draft{}, permissionError("your role cannot create drafts")
	}
	if strings.TrimSpace(stripMarkup(content)) == "" {
		return store.Draft{}, validationError("draft content is required", nil)
	}

	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return store.Draft{}, err
	}

	draft := store.Draft{
		ID:       util.NewID("draft"),
		EntryID:  entry.ID,
		Content:  content,
		AuthorID: sess.UserID,
	}
	prev, err := s.store.LatestDraftForEntry(ctx, entry.ID)
	if err == nil {
		draft.ReplacesID = &prev.ID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Draft{}, err
	}

	if err := s.store.CreateDraft(ctx, draft); err != nil {
		return store.Draft{}, err
	}
	return s.store.GetDraft(ctx, draft.ID)
}

// EditDraft replaces an unpublished draft's content. A real content change
// clears the approver set, since approvals are a statement about specific
// content; saving identical content keeps them.
func (s *Service) EditDraft(ctx context.Context, sess Session, draftID, content string) (store.Draft, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return store.Draft{}, err
	}
	if draft.AuthorID != sess.UserID && !rbac.IsStaff(rbac.Normalize(sess.Role)) {
		return store.Draft{}, permissionError("only the author may edit this draft")
	}
	if draft.IsPublished {
		return store.Draft{}, validationError("published drafts cannot be edited", nil)
	}
	if strings.TrimSpace(stripMarkup(content)) == "" {
		return store.Draft{}, validationError("draft content is required", nil)
	}
	if content == draft.Content {
		return draft, nil
	}

	if err := s.store.UpdateDraftContent(ctx, draft.ID, content); err != nil {
		return store.Draft{}, err
	}
	if err := s.store.ClearDraftApprovals(ctx, draft.ID); err != nil {
		return store.Draft{}, err
	}

	entry, err := s.store.GetEntry(ctx, draft.EntryID)
	if err == nil {
		s.dispatch(ctx, draftEditedEvent{draft: draft, entry: entry, editor: sess})
	}
	return s.store.GetDraft(ctx, draft.ID)
}

// ApproveDraft records one user's approval. An approval satisfies any pending
// review request by the same user. Crossing the quorum threshold fires the
// activation and notification events.
func (s *Service) ApproveDraft(ctx context.Context, sess Session, draftID string) (DraftDetail, error) {
	if !s.Can(sess, rbac.ActionApprove) {
		return DraftDetail{}, permissionError("your role cannot approve drafts")
	}
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return DraftDetail{}, err
	}
	if draft.AuthorID == sess.UserID {
		return DraftDetail{}, validationError("authors cannot approve their own drafts", nil)
	}
	if draft.IsPublished {
		return DraftDetail{}, validationError("draft is already published", nil)
	}
	if draft.Archived {
		return DraftDetail{}, validationError("draft is archived", nil)
	}

	added, err := s.store.AddDraftApproval(ctx, draft.ID, sess.UserID)
	if err != nil {
		return DraftDetail{}, err
	}
	if !added {
		return DraftDetail{}, validationError("you already approved this draft", nil)
	}
	if err := s.store.RemoveDraftReviewer(ctx, draft.ID, sess.UserID); err != nil {
		log.Printf("clear review request %s/%s: %v", draft.ID, sess.UserID, err)
	}

	count, err := s.store.CountDraftApprovals(ctx, draft.ID)
	if err != nil {
		return DraftDetail{}, err
	}
	if count >= config.MinApprovals() {
		if entry, err := s.store.GetEntry(ctx, draft.EntryID); err == nil {
			s.dispatch(ctx, draftQuorumEvent{draft: draft, entry: entry})
		}
	}
	return s.draftDetail(ctx, draft.ID)
}

// PublishDraft makes the draft the entry's definition. The quorum check and
// the published flag flip happen in one conditional update, so of two
// concurrent calls exactly one succeeds.
func (s *Service) PublishDraft(ctx context.Context, sess Session, draftID string) (store.Draft, error) {
	if !s.Can(sess, rbac.ActionApprove) {
		return store.Draft{}, permissionError("your role cannot publish drafts")
	}
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return store.Draft{}, err
	}
	if draft.IsPublished {
		return store.Draft{}, validationError("draft is already published", nil)
	}

	minApprovals := config.MinApprovals()
	publishedAt, won, err := s.store.PublishDraft(ctx, draft.ID, minApprovals)
	if err != nil {
		return store.Draft{}, err
	}
	if !won {
		current, err := s.store.GetDraft(ctx, draft.ID)
		if err != nil {
			return store.Draft{}, err
		}
		if current.IsPublished {
			return store.Draft{}, validationError("draft is already published", nil)
		}
		count, err := s.store.CountDraftApprovals(ctx, draft.ID)
		if err != nil {
			return store.Draft{}, err
		}
		return store.Draft{}, validationError("draft must be approved before publishing", map[string]any{
			"approvals": count,
			"required":  minApprovals,
		})
	}

	draft.IsPublished = true
	draft.PublishedAt = &publishedAt
	if err := s.store.SetEntryActiveDraft(ctx, draft.EntryID, &draft.ID); err != nil {
		return store.Draft{}, err
	}

	entry, err := s.store.GetEntry(ctx, draft.EntryID)
	if err == nil {
		s.dispatch(ctx, draftPublishedEvent{draft: draft, entry: entry, actor: sess})
	}
	return s.store.GetDraft(ctx, draft.ID)
}

// RequestReview asks the named users to review the draft. The author is
// silently dropped from the list; anyone may request reviews.
func (s *Service) RequestReview(ctx context.Context, sess Session, draftID string, reviewerIDs []string) (DraftDetail, error) {
	if !s.Can(sess, rbac.ActionApprove) {
		return DraftDetail{}, permissionError("your role cannot request reviews")
	}
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return DraftDetail{}, err
	}
	if draft.IsPublished {
		return DraftDetail{}, validationError("draft is already published", nil)
	}

	added := make([]store.User, 0, len(reviewerIDs))
	seen := make(map[string]bool)
	for _, reviewerID := range reviewerIDs {
		if reviewerID == "" || reviewerID == draft.AuthorID || seen[reviewerID] {
			continue
		}
		seen[reviewerID] = true
		user, err := s.store.GetUserByID(ctx, reviewerID)
		if errors.Is(err, sql.ErrNoRows) {
			return DraftDetail{}, validationError(fmt.Sprintf("unknown reviewer %s", reviewerID), nil)
		}
		if err != nil {
			return DraftDetail{}, err
		}
		isNew, err := s.store.AddDraftReviewer(ctx, draft.ID, user.ID, sess.UserID)
		if err != nil {
			return DraftDetail{}, err
		}
		if isNew {
			added = append(added, user)
		}
	}

	if len(added) > 0 {
		entry, err := s.store.GetEntry(ctx, draft.EntryID)
		if err == nil {
			s.dispatch(ctx, reviewRequestedEvent{draft: draft, entry: entry, requester: sess, reviewers: added})
		}
	}
	return s.draftDetail(ctx, draft.ID)
}

// DeleteDraft soft-deletes the draft. Only the author may delete, even for
// published drafts; deleting the entry's active draft re-resolves the active
// definition to the latest remaining published draft.
func (s *Service) DeleteDraft(ctx context.Context, sess Session, draftID string) error {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	if draft.AuthorID != sess.UserID {
		return permissionError("only the author may delete this draft")
	}
	if err := s.store.SoftDeleteDraft(ctx, draft.ID); err != nil {
		return err
	}

	entry, err := s.store.GetEntry(ctx, draft.EntryID)
	if err == nil && entry.ActiveDraftID != nil && *entry.ActiveDraftID == draft.ID {
		latest, err := s.store.LatestPublishedDraft(ctx, entry.ID)
		switch {
		case err == nil:
			err = s.store.SetEntryActiveDraft(ctx, entry.ID, &latest.ID)
		case errors.Is(err, sql.ErrNoRows):
			err = s.store.SetEntryActiveDraft(ctx, entry.ID, nil)
		}
		if err != nil {
			return err
		}
	}

	s.dispatch(ctx, draftDeletedEvent{draft: draft})
	return nil
}

// GetDraft returns a draft with its approver and reviewer sets.
func (s *Service) GetDraft(ctx context.Context, draftID string) (DraftDetail, error) {
	return s.draftDetail(ctx, draftID)
}

func (s *Service) draftDetail(ctx context.Context, draftID string) (DraftDetail, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return DraftDetail{}, err
	}
	approvers, err := s.store.ListDraftApprovers(ctx, draftID)
	if err != nil {
		return DraftDetail{}, err
	}
	reviewers, err := s.store.ListDraftReviewers(ctx, draftID)
	if err != nil {
		return DraftDetail{}, err
	}
	return DraftDetail{
		Draft:     draft,
		Approvers: approvers,
		Reviewers: reviewers,
		Approved:  len(approvers) >= config.MinApprovals(),
	}, nil
}

// EndorseEntry stamps the entry's latest published draft with a staff or
// curator attestation.
func (s *Service) EndorseEntry(ctx context.Context, sess Session, entryID string) (store.Draft, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return store.Draft{}, err
	}
	allowed, err := s.curators.IsPerspectiveCuratorFor(ctx, rbac.Normalize(sess.Role), sess.UserID, entry.PerspectiveID)
	if err != nil {
		return store.Draft{}, err
	}
	if !allowed {
		return store.Draft{}, permissionError("endorsing requires staff or curator rights for this perspective")
	}

	draft, err := s.store.LatestPublishedDraft(ctx, entry.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Draft{}, validationError("entry has no published definition to endorse", nil)
	}
	if err != nil {
		return store.Draft{}, err
	}
	if draft.EndorsedBy != nil {
		return store.Draft{}, validationError("definition is already endorsed", nil)
	}

	if err := s.store.EndorseDraft(ctx, draft.ID, sess.UserID); err != nil {
		return store.Draft{}, err
	}
	s.dispatch(ctx, draftEndorsedEvent{draft: draft, entry: entry, actor: sess})
	return s.store.GetDraft(ctx, draft.ID)
}

// ListReviewQueue returns the drafts visible to the caller under the given
// eligibility mode, paged. Listing opportunistically runs the daily archive
// sweep.
func (s *Service) ListReviewQueue(ctx context.Context, sess Session, perspectiveID string, mode ReviewMode, showAll bool, limit, offset int) ([]store.DraftCandidate, int, error) {
	s.maybeArchiveStale(ctx)

	candidates, err := s.store.ListDraftCandidates(ctx, perspectiveID)
	if err != nil {
		return nil, 0, err
	}

	var relatedTerms map[string]bool
	if mode == ModeDefault {
		termIDs, err := s.store.ListUserDraftTermIDs(ctx, sess.UserID)
		if err != nil {
			return nil, 0, err
		}
		relatedTerms = make(map[string]bool, len(termIDs))
		for _, id := range termIDs {
			relatedTerms[id] = true
		}
	}

	visible := filterCandidates(candidates, sess.UserID, mode, showAll, config.MinApprovals(), relatedTerms)
	total := len(visible)

	if offset > total {
		offset = total
	}
	visible = visible[offset:]
	if limit > 0 && limit < len(visible) {
		visible = visible[:limit]
	}
	return visible, total, nil
}

// maybeArchiveStale flags long-untouched unpublished drafts at most once a
// day per process, piggybacking on list traffic instead of a scheduler.
func (s *Service) maybeArchiveStale(ctx context.Context) {
	s.sweepMu.Lock()
	if time.Since(s.lastSweep) < 24*time.Hour {
		s.sweepMu.Unlock()
		return
	}
	s.lastSweep = time.Now()
	s.sweepMu.Unlock()

	archived, err := s.store.ArchiveStaleDrafts(ctx, time.Now().Add(-s.cfg.ArchiveAfter))
	if err != nil {
		log.Printf("archive sweep: %v", err)
		return
	}
	if archived > 0 {
		log.Printf("archive sweep: archived %d stale drafts", archived)
	}
}

// stripMarkup removes HTML tags so emptiness checks see only the text.
func stripMarkup(input string) string {
	var b strings.Builder
	inTag := false
	for _, r := range input {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	out = strings.ReplaceAll(out, "&nbsp;", " ")
	return out
}
