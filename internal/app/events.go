package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"glossary/api/internal/audit"
	"glossary/api/internal/search"
	"glossary/api/internal/store"
)

// Domain events returned by state-machine operations. The dispatcher fans
// them out to the notification trigger, the activation resolver, the search
// indexer, and the audit trail. Side-effect failures are logged and swallowed;
// they never fail the operation that produced the event.
type domainEvent interface {
	eventKind() string
}

type draftEditedEvent struct {
	draft  store.Draft
	entry  store.Entry
	editor Session
}

func (draftEditedEvent) eventKind() string { return "draft_edited" }

// draftQuorumEvent fires the first time a draft's approval count reaches the
// configured minimum.
type draftQuorumEvent struct {
	draft store.Draft
	entry store.Entry
}

func (draftQuorumEvent) eventKind() string { return "draft_quorum" }

type draftPublishedEvent struct {
	draft store.Draft
	entry store.Entry
	actor Session
}

func (draftPublishedEvent) eventKind() string { return "draft_published" }

type draftEndorsedEvent struct {
	draft store.Draft
	entry store.Entry
	actor Session
}

func (draftEndorsedEvent) eventKind() string { return "draft_endorsed" }

type draftDeletedEvent struct {
	draft store.Draft
}

func (draftDeletedEvent) eventKind() string { return "draft_deleted" }

type commentAddedEvent struct {
	comment      store.Comment
	draft        store.Draft
	entry        store.Entry
	author       Session
	mentioned    []store.User
	parentAuthor string
}

func (commentAddedEvent) eventKind() string { return "comment_added" }

type reviewRequestedEvent struct {
	draft     store.Draft
	entry     store.Entry
	requester Session
	reviewers []store.User
}

func (reviewRequestedEvent) eventKind() string { return "review_requested" }

func (s *Service) dispatch(ctx context.Context, events ...domainEvent) {
	for _, ev := range events {
		var err error
		switch e := ev.(type) {
		case draftEditedEvent:
			err = s.onDraftEdited(ctx, e)
		case draftQuorumEvent:
			err = s.onDraftQuorum(ctx, e)
		case draftPublishedEvent:
			err = s.onDraftPublished(ctx, e)
		case draftEndorsedEvent:
			err = s.onDraftEndorsed(ctx, e)
		case draftDeletedEvent:
			s.onDraftDeleted(e)
		case commentAddedEvent:
			err = s.onCommentAdded(ctx, e)
		case reviewRequestedEvent:
			err = s.onReviewRequested(ctx, e)
		}
		if err != nil {
			log.Printf("event %s: %v", ev.eventKind(), err)
		}
	}
}

func (s *Service) onDraftEdited(ctx context.Context, e draftEditedEvent) error {
	if e.editor.UserID == e.draft.AuthorID {
		return nil
	}
	return s.notify(ctx, e.draft.AuthorID, notifDraftEdited,
		fmt.Sprintf("%s edited your draft of %q", e.editor.UserName, e.entry.TermName),
		&e.draft.ID, nil)
}

// onDraftQuorum notifies the author exactly once and conditionally activates
// the draft: it becomes the entry's active definition when the entry has none,
// or when this draft is newer than the current one.
func (s *Service) onDraftQuorum(ctx context.Context, e draftQuorumEvent) error {
	already, err := s.store.HasNotification(ctx, e.draft.AuthorID, e.draft.ID, notifDraftApproved)
	if err != nil {
		return fmt.Errorf("check quorum notification: %w", err)
	}
	if !already {
		if err := s.notify(ctx, e.draft.AuthorID, notifDraftApproved,
			fmt.Sprintf("Your draft of %q has enough approvals to publish", e.entry.TermName),
			&e.draft.ID, nil); err != nil {
			return err
		}
	}

	activate := e.entry.ActiveDraftID == nil
	if !activate {
		current, err := s.store.GetDraft(ctx, *e.entry.ActiveDraftID)
		if errors.Is(err, sql.ErrNoRows) {
			activate = true
		} else if err != nil {
			return fmt.Errorf("load active draft: %w", err)
		} else {
			activate = e.draft.CreatedAt.After(current.CreatedAt)
		}
	}
	if activate {
		if err := s.store.SetEntryActiveDraft(ctx, e.entry.ID, &e.draft.ID); err != nil {
			return fmt.Errorf("activate draft: %w", err)
		}
	}
	return nil
}

func (s *Service) onDraftPublished(ctx context.Context, e draftPublishedEvent) error {
	if s.audit != nil {
		_, err := s.audit.RecordPublication(e.entry.PerspectiveID, audit.Record{
			EntryID:  e.entry.ID,
			TermName: e.entry.TermName,
			DraftID:  e.draft.ID,
			Content:  e.draft.Content,
			Actor:    e.actor.UserName,
		})
		if err != nil {
			log.Printf("audit publication %s: %v", e.draft.ID, err)
		}
	}
	if s.search != nil {
		s.search.IndexDefinition(search.DefinitionRecord{
			ID:            e.draft.ID,
			Content:       e.draft.Content,
			TermName:      e.entry.TermName,
			EntryID:       e.entry.ID,
			PerspectiveID: e.entry.PerspectiveID,
		})
	}
	return nil
}

func (s *Service) onDraftEndorsed(_ context.Context, e draftEndorsedEvent) error {
	if s.audit == nil {
		return nil
	}
	_, err := s.audit.RecordEndorsement(e.entry.PerspectiveID, audit.Record{
		EntryID:  e.entry.ID,
		TermName: e.entry.TermName,
		DraftID:  e.draft.ID,
		Content:  e.draft.Content,
		Actor:    e.actor.UserName,
	})
	if err != nil {
		return fmt.Errorf("audit endorsement: %w", err)
	}
	return nil
}

func (s *Service) onDraftDeleted(e draftDeletedEvent) {
	if s.search != nil && e.draft.IsPublished {
		s.search.DeleteDefinition(e.draft.ID)
	}
}

func (s *Service) onCommentAdded(ctx context.Context, e commentAddedEvent) error {
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:            e.comment.ID,
			Body:          e.comment.Body,
			AuthorName:    e.author.UserName,
			DraftID:       e.draft.ID,
			EntryID:       e.entry.ID,
			PerspectiveID: e.entry.PerspectiveID,
		})
	}

	notified := map[string]bool{e.author.UserID: true}
	for _, user := range e.mentioned {
		if notified[user.ID] {
			continue
		}
		notified[user.ID] = true
		if err := s.notify(ctx, user.ID, notifMentioned,
			fmt.Sprintf("%s mentioned you in a comment on %q", e.author.UserName, e.entry.TermName),
			&e.draft.ID, &e.comment.ID); err != nil {
			log.Printf("mention notification: %v", err)
		}
	}
	if e.parentAuthor != "" && !notified[e.parentAuthor] {
		if err := s.notify(ctx, e.parentAuthor, notifCommentReply,
			fmt.Sprintf("%s replied to your comment on %q", e.author.UserName, e.entry.TermName),
			&e.draft.ID, &e.comment.ID); err != nil {
			log.Printf("reply notification: %v", err)
		}
	}
	return nil
}

func (s *Service) onReviewRequested(ctx context.Context, e reviewRequestedEvent) error {
	for _, reviewer := range e.reviewers {
		if reviewer.ID == e.draft.AuthorID {
			continue
		}
		if err := s.notify(ctx, reviewer.ID, notifReviewRequested,
			fmt.Sprintf("%s requested your review of a draft of %q", e.requester.UserName, e.entry.TermName),
			&e.draft.ID, nil); err != nil {
			log.Printf("review notification: %v", err)
		}
	}
	return nil
}
