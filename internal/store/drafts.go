package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const draftColumns = `d.id, d.entry_id, d.content, d.author_id, d.replaces_id, d.is_published, d.published_at, d.endorsed_by, d.endorsed_at, d.archived, d.deleted_at, d.created_at, d.updated_at, u.display_name`

func scanDraft(scan func(dest ...any) error) (Draft, error) {
	var d Draft
	err := scan(
		&d.ID,
		&d.EntryID,
		&d.Content,
		&d.AuthorID,
		&d.ReplacesID,
		&d.IsPublished,
		&d.PublishedAt,
		&d.EndorsedBy,
		&d.EndorsedAt,
		&d.Archived,
		&d.DeletedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.AuthorName,
	)
	return d, err
}

func (s *PostgresStore) CreateDraft(ctx context.Context, draft Draft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, entry_id, content, author_id, replaces_id)
		VALUES ($1, $2, $3, $4, $5)
	`, draft.ID, draft.EntryID, draft.Content, draft.AuthorID, draft.ReplacesID)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, draftID string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts d JOIN users u ON u.id = d.author_id
		WHERE d.id=$1 AND d.deleted_at IS NULL
	`, draftID)
	return scanDraft(row.Scan)
}

// LatestDraftForEntry returns the newest non-deleted draft of an entry,
// breaking created_at ties by id so the chain head is deterministic.
func (s *PostgresStore) LatestDraftForEntry(ctx context.Context, entryID string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts d JOIN users u ON u.id = d.author_id
		WHERE d.entry_id=$1 AND d.deleted_at IS NULL
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT 1
	`, entryID)
	return scanDraft(row.Scan)
}

// LatestPublishedDraft returns the entry's most recently published
// non-deleted draft.
func (s *PostgresStore) LatestPublishedDraft(ctx context.Context, entryID string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts d JOIN users u ON u.id = d.author_id
		WHERE d.entry_id=$1 AND d.is_published AND d.deleted_at IS NULL
		ORDER BY d.published_at DESC, d.id DESC
		LIMIT 1
	`, entryID)
	return scanDraft(row.Scan)
}

func (s *PostgresStore) ListEntryDrafts(ctx context.Context, entryID string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts d JOIN users u ON u.id = d.author_id
		WHERE d.entry_id=$1 AND d.deleted_at IS NULL
		ORDER BY d.created_at DESC, d.id DESC
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("list entry drafts: %w", err)
	}
	defer rows.Close()

	items := make([]Draft, 0)
	for rows.Next() {
		d, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateDraftContent(ctx context.Context, draftID, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET content=$2, updated_at=NOW()
		WHERE id=$1 AND is_published=FALSE AND deleted_at IS NULL
	`, draftID, content)
	if err != nil {
		return fmt.Errorf("update draft content: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ClearDraftApprovals(ctx context.Context, draftID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM draft_approvers WHERE draft_id=$1`, draftID)
	if err != nil {
		return fmt.Errorf("clear approvals: %w", err)
	}
	return nil
}

// AddDraftApproval records an approval. The primary key makes concurrent
// duplicates collapse into a single row; the bool reports whether this call
// actually added one.
func (s *PostgresStore) AddDraftApproval(ctx context.Context, draftID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO draft_approvers (draft_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (draft_id, user_id) DO NOTHING
	`, draftID, userID)
	if err != nil {
		return false, fmt.Errorf("add approval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add approval rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountDraftApprovals(ctx context.Context, draftID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM draft_approvers WHERE draft_id=$1`, draftID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count approvals: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListDraftApprovers(ctx context.Context, draftID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM draft_approvers WHERE draft_id=$1 ORDER BY created_at
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list approvers: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan approver: %w", err)
		}
		items = append(items, userID)
	}
	return items, rows.Err()
}

func (s *PostgresStore) AddDraftReviewer(ctx context.Context, draftID, userID, requestedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO draft_reviewers (draft_id, user_id, requested_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (draft_id, user_id) DO NOTHING
	`, draftID, userID, requestedBy)
	if err != nil {
		return false, fmt.Errorf("add reviewer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add reviewer rows: %w", err)
	}
	return affected > 0, nil
}

// RemoveDraftReviewer drops a pending review request. An approval satisfies
// the request, so approving calls this for the approver.
func (s *PostgresStore) RemoveDraftReviewer(ctx context.Context, draftID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM draft_reviewers WHERE draft_id=$1 AND user_id=$2
	`, draftID, userID)
	if err != nil {
		return fmt.Errorf("remove reviewer: %w", err)
	}
	return nil
}

// ListUserDraftTermIDs returns the distinct terms the user has ever authored
// a draft for, feeding the review queue's related-terms default.
func (s *PostgresStore) ListUserDraftTermIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT e.term_id
		FROM drafts d
		JOIN entries e ON e.id = d.entry_id
		WHERE d.author_id=$1 AND d.deleted_at IS NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user draft terms: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var termID string
		if err := rows.Scan(&termID); err != nil {
			return nil, fmt.Errorf("scan term id: %w", err)
		}
		items = append(items, termID)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListDraftReviewers(ctx context.Context, draftID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM draft_reviewers WHERE draft_id=$1 ORDER BY created_at
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		items = append(items, userID)
	}
	return items, rows.Err()
}

// PublishDraft flips the draft to published if, at this instant, it is still
// unpublished and has at least minApprovals approvals. This single UPDATE is
// the serialization point for concurrent publish calls: exactly one wins.
func (s *PostgresStore) PublishDraft(ctx context.Context, draftID string, minApprovals int) (time.Time, bool, error) {
	var publishedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE drafts SET is_published=TRUE, published_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND is_published=FALSE AND deleted_at IS NULL
		  AND (SELECT count(*) FROM draft_approvers WHERE draft_id=$1) >= $2
		RETURNING published_at
	`, draftID, minApprovals).Scan(&publishedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("publish draft: %w", err)
	}
	return publishedAt, true, nil
}

func (s *PostgresStore) EndorseDraft(ctx context.Context, draftID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET endorsed_by=$2, endorsed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND is_published AND deleted_at IS NULL
	`, draftID, userID)
	if err != nil {
		return fmt.Errorf("endorse draft: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SoftDeleteDraft(ctx context.Context, draftID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, draftID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDraftCandidates loads the baseline review-queue set: unpublished,
// unarchived, non-deleted drafts of live entries, created after the entry's
// latest publication. Approver and reviewer sets come back aggregated so the
// eligibility filter can run without further queries.
func (s *PostgresStore) ListDraftCandidates(ctx context.Context, perspectiveID string) ([]DraftCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+draftColumns+`,
			e.term_id, t.name, e.perspective_id,
			COALESCE((SELECT jsonb_agg(da.user_id ORDER BY da.created_at) FROM draft_approvers da WHERE da.draft_id = d.id), '[]'::jsonb),
			COALESCE((SELECT jsonb_agg(dr.user_id ORDER BY dr.created_at) FROM draft_reviewers dr WHERE dr.draft_id = d.id), '[]'::jsonb)
		FROM drafts d
		JOIN users u ON u.id = d.author_id
		JOIN entries e ON e.id = d.entry_id
		JOIN terms t ON t.id = e.term_id
		WHERE d.is_published=FALSE AND d.archived=FALSE AND d.deleted_at IS NULL
		  AND e.deleted_at IS NULL AND t.deleted_at IS NULL
		  AND (e.perspective_id=$1 OR $1='')
		  AND d.created_at > COALESCE((
			SELECT max(p.published_at) FROM drafts p
			WHERE p.entry_id = d.entry_id AND p.is_published AND p.deleted_at IS NULL
		  ), '-infinity'::timestamptz)
		ORDER BY d.created_at DESC, d.id DESC
	`, perspectiveID)
	if err != nil {
		return nil, fmt.Errorf("list draft candidates: %w", err)
	}
	defer rows.Close()

	items := make([]DraftCandidate, 0)
	for rows.Next() {
		var c DraftCandidate
		var approversRaw, reviewersRaw []byte
		if err := rows.Scan(
			&c.ID,
			&c.EntryID,
			&c.Content,
			&c.AuthorID,
			&c.ReplacesID,
			&c.IsPublished,
			&c.PublishedAt,
			&c.EndorsedBy,
			&c.EndorsedAt,
			&c.Archived,
			&c.DeletedAt,
			&c.CreatedAt,
			&c.UpdatedAt,
			&c.AuthorName,
			&c.TermID,
			&c.TermName,
			&c.PerspectiveID,
			&approversRaw,
			&reviewersRaw,
		); err != nil {
			return nil, fmt.Errorf("scan draft candidate: %w", err)
		}
		_ = json.Unmarshal(approversRaw, &c.ApproverIDs)
		_ = json.Unmarshal(reviewersRaw, &c.ReviewerIDs)
		items = append(items, c)
	}
	return items, rows.Err()
}

// ListPublishedDefinitions returns the active published definition of every
// live entry in a perspective, ordered by term, for glossary exports.
func (s *PostgresStore) ListPublishedDefinitions(ctx context.Context, perspectiveID string) ([]PublishedDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, d.content, u.display_name, d.published_at, d.endorsed_by IS NOT NULL
		FROM entries e
		JOIN drafts d ON d.id = e.active_draft_id
		JOIN terms t ON t.id = e.term_id
		JOIN users u ON u.id = d.author_id
		WHERE e.perspective_id=$1 AND e.deleted_at IS NULL
		  AND d.is_published AND d.deleted_at IS NULL AND t.deleted_at IS NULL
		ORDER BY t.normalized
	`, perspectiveID)
	if err != nil {
		return nil, fmt.Errorf("list published definitions: %w", err)
	}
	defer rows.Close()

	items := make([]PublishedDefinition, 0)
	for rows.Next() {
		var d PublishedDefinition
		if err := rows.Scan(&d.TermName, &d.Content, &d.AuthorName, &d.PublishedAt, &d.Endorsed); err != nil {
			return nil, fmt.Errorf("scan published definition: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// ArchiveStaleDrafts archives unpublished drafts untouched since the cutoff.
func (s *PostgresStore) ArchiveStaleDrafts(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET archived=TRUE, updated_at=NOW()
		WHERE is_published=FALSE AND archived=FALSE AND deleted_at IS NULL AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive stale drafts: %w", err)
	}
	return result.RowsAffected()
}
