package store

import (
	"context"
	"database/sql"
	"fmt"
)

const commentColumns = `c.id, c.draft_id, c.parent_id, c.author_id, c.body, c.resolved, c.deleted_at, c.created_at, u.display_name`

func scanComment(scan func(dest ...any) error) (Comment, error) {
	var c Comment
	err := scan(&c.ID, &c.DraftID, &c.ParentID, &c.AuthorID, &c.Body, &c.Resolved, &c.DeletedAt, &c.CreatedAt, &c.AuthorName)
	return c, err
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, draft_id, parent_id, author_id, body)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.DraftID, comment.ParentID, comment.AuthorID, comment.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c JOIN users u ON u.id = c.author_id
		WHERE c.id=$1 AND c.deleted_at IS NULL
	`, commentID)
	return scanComment(row.Scan)
}

func (s *PostgresStore) ListDraftComments(ctx context.Context, draftID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c JOIN users u ON u.id = c.author_id
		WHERE c.draft_id=$1 AND c.deleted_at IS NULL
		ORDER BY c.created_at
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list draft comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// ListEntryComments returns every live comment across all drafts of an entry,
// oldest first, so the caller can label each one by where its draft sits in
// the replacement chain.
func (s *PostgresStore) ListEntryComments(ctx context.Context, entryID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN users u ON u.id = c.author_id
		JOIN drafts d ON d.id = c.draft_id
		WHERE d.entry_id=$1 AND c.deleted_at IS NULL AND d.deleted_at IS NULL
		ORDER BY c.created_at
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("list entry comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// SetCommentResolved toggles resolution on a top-level comment.
func (s *PostgresStore) SetCommentResolved(ctx context.Context, commentID string, resolved bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET resolved=$2 WHERE id=$1 AND parent_id IS NULL AND deleted_at IS NULL
	`, commentID, resolved)
	if err != nil {
		return fmt.Errorf("set comment resolved: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n Notification) error {
	// The partial unique index on draft_approved notifications turns a
	// concurrent double-fire into a no-op.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, message, draft_id, comment_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`, n.ID, n.UserID, n.Type, n.Message, n.DraftID, n.CommentID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasNotification(ctx context.Context, userID, draftID, notificationType string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM notifications WHERE user_id=$1 AND draft_id=$2 AND type=$3)
	`, userID, draftID, notificationType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, message, draft_id, comment_id, read, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY read, created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.DraftID, &n.CommentID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE user_id=$1 AND read=FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}
