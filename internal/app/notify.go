package app

import (
	"context"
	"fmt"
	"log"

	"glossary/api/internal/store"
	"glossary/api/internal/util"
)

// Notification types. draft_approved is emitted at most once per draft; the
// partial unique index on notifications backs that up under concurrency.
const (
	notifDraftEdited     = "draft_edited"
	notifDraftApproved   = "draft_approved"
	notifMentioned       = "mentioned_in_comment"
	notifCommentReply    = "comment_reply"
	notifReviewRequested = "review_requested"
)

func (s *Service) notify(ctx context.Context, userID, notifType, message string, draftID, commentID *string) error {
	n := store.Notification{
		ID:        util.NewID("notif"),
		UserID:    userID,
		Type:      notifType,
		Message:   message,
		DraftID:   draftID,
		CommentID: commentID,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	s.mirrorToEmail(ctx, userID, message)
	return nil
}

// mirrorToEmail sends the notification by mail when SMTP is configured.
// Best-effort: a delivery failure is logged and forgotten.
func (s *Service) mirrorToEmail(ctx context.Context, userID, message string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		log.Printf("notification email lookup %s: %v", userID, err)
		return
	}
	if err := s.email.SendNotificationEmail(user.Email, user.DisplayName, "Glossary activity", message, s.cfg.AppURL); err != nil {
		log.Printf("notification email to %s: %v", user.Email, err)
	}
}

// ListNotifications returns the caller's notifications, unread first.
func (s *Service) ListNotifications(ctx context.Context, sess Session, limit int) ([]store.Notification, error) {
	return s.store.ListNotifications(ctx, sess.UserID, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, sess Session, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, sess.UserID, notificationID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, sess Session) error {
	return s.store.MarkAllNotificationsRead(ctx, sess.UserID)
}
