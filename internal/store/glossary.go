package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) CreateTerm(ctx context.Context, term Term) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terms (id, name, normalized, is_official, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, term.ID, term.Name, term.Normalized, term.IsOfficial, term.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert term: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTerm(ctx context.Context, termID string) (Term, error) {
	var term Term
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, normalized, is_official, created_by, deleted_at, created_at, updated_at
		FROM terms WHERE id=$1 AND deleted_at IS NULL
	`, termID).Scan(&term.ID, &term.Name, &term.Normalized, &term.IsOfficial, &term.CreatedBy, &term.DeletedAt, &term.CreatedAt, &term.UpdatedAt)
	if err != nil {
		return Term{}, err
	}
	return term, nil
}

// FindTermByNormalized looks up a live term by its normalized form.
func (s *PostgresStore) FindTermByNormalized(ctx context.Context, normalized string) (Term, error) {
	var term Term
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, normalized, is_official, created_by, deleted_at, created_at, updated_at
		FROM terms WHERE normalized=$1 AND deleted_at IS NULL
	`, normalized).Scan(&term.ID, &term.Name, &term.Normalized, &term.IsOfficial, &term.CreatedBy, &term.DeletedAt, &term.CreatedAt, &term.UpdatedAt)
	if err != nil {
		return Term{}, err
	}
	return term, nil
}

func (s *PostgresStore) ListTerms(ctx context.Context) ([]Term, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, normalized, is_official, created_by, deleted_at, created_at, updated_at
		FROM terms WHERE deleted_at IS NULL
		ORDER BY normalized
	`)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	defer rows.Close()

	items := make([]Term, 0)
	for rows.Next() {
		var term Term
		if err := rows.Scan(&term.ID, &term.Name, &term.Normalized, &term.IsOfficial, &term.CreatedBy, &term.DeletedAt, &term.CreatedAt, &term.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		items = append(items, term)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SoftDeleteTerm(ctx context.Context, termID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE terms SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, termID)
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CreatePerspective(ctx context.Context, perspective Perspective) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO perspectives (id, name, description, created_by)
		VALUES ($1, $2, $3, $4)
	`, perspective.ID, perspective.Name, perspective.Description, perspective.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert perspective: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPerspective(ctx context.Context, perspectiveID string) (Perspective, error) {
	var p Perspective
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_by, deleted_at, created_at, updated_at
		FROM perspectives WHERE id=$1 AND deleted_at IS NULL
	`, perspectiveID).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Perspective{}, err
	}
	return p, nil
}

func (s *PostgresStore) FindPerspectiveByName(ctx context.Context, name string) (Perspective, error) {
	var p Perspective
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_by, deleted_at, created_at, updated_at
		FROM perspectives WHERE lower(name)=lower($1) AND deleted_at IS NULL
	`, name).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Perspective{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListPerspectives(ctx context.Context) ([]Perspective, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_by, deleted_at, created_at, updated_at
		FROM perspectives WHERE deleted_at IS NULL
		ORDER BY lower(name)
	`)
	if err != nil {
		return nil, fmt.Errorf("list perspectives: %w", err)
	}
	defer rows.Close()

	items := make([]Perspective, 0)
	for rows.Next() {
		var p Perspective
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan perspective: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SoftDeletePerspective(ctx context.Context, perspectiveID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE perspectives SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, perspectiveID)
	if err != nil {
		return fmt.Errorf("delete perspective: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CreateEntry(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (id, term_id, perspective_id, is_official)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.TermID, entry.PerspectiveID, entry.IsOfficial)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

const entryColumns = `e.id, e.term_id, e.perspective_id, e.active_draft_id, e.is_official, e.deleted_at, e.created_at, e.updated_at, t.name, p.name`

const entryJoins = `
	FROM entries e
	JOIN terms t ON t.id = e.term_id
	JOIN perspectives p ON p.id = e.perspective_id`

func (s *PostgresStore) GetEntry(ctx context.Context, entryID string) (Entry, error) {
	var entry Entry
	err := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+entryJoins+`
		WHERE e.id=$1 AND e.deleted_at IS NULL
	`, entryID).Scan(&entry.ID, &entry.TermID, &entry.PerspectiveID, &entry.ActiveDraftID, &entry.IsOfficial, &entry.DeletedAt, &entry.CreatedAt, &entry.UpdatedAt, &entry.TermName, &entry.PerspectiveName)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) FindEntry(ctx context.Context, termID, perspectiveID string) (Entry, error) {
	var entry Entry
	err := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+entryJoins+`
		WHERE e.term_id=$1 AND e.perspective_id=$2 AND e.deleted_at IS NULL
	`, termID, perspectiveID).Scan(&entry.ID, &entry.TermID, &entry.PerspectiveID, &entry.ActiveDraftID, &entry.IsOfficial, &entry.DeletedAt, &entry.CreatedAt, &entry.UpdatedAt, &entry.TermName, &entry.PerspectiveName)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// ListEntries filters by perspective and/or term when those arguments are
// non-empty.
func (s *PostgresStore) ListEntries(ctx context.Context, perspectiveID, termID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+entryJoins+`
		WHERE e.deleted_at IS NULL
		  AND (e.perspective_id=$1 OR $1='')
		  AND (e.term_id=$2 OR $2='')
		ORDER BY t.normalized, lower(p.name)
	`, perspectiveID, termID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.TermID, &entry.PerspectiveID, &entry.ActiveDraftID, &entry.IsOfficial, &entry.DeletedAt, &entry.CreatedAt, &entry.UpdatedAt, &entry.TermName, &entry.PerspectiveName); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}

// SetEntryActiveDraft points the entry at a draft, or clears the pointer when
// draftID is nil.
func (s *PostgresStore) SetEntryActiveDraft(ctx context.Context, entryID string, draftID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE entries SET active_draft_id=$2, updated_at=NOW() WHERE id=$1
	`, entryID, draftID)
	if err != nil {
		return fmt.Errorf("set active draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteEntry(ctx context.Context, entryID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE entries SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, entryID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) AddPerspectiveCurator(ctx context.Context, curator PerspectiveCurator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO perspective_curators (id, perspective_id, user_id, granted_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (perspective_id, user_id) DO NOTHING
	`, curator.ID, curator.PerspectiveID, curator.UserID, curator.GrantedBy)
	if err != nil {
		return fmt.Errorf("add curator: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemovePerspectiveCurator(ctx context.Context, perspectiveID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM perspective_curators WHERE perspective_id=$1 AND user_id=$2
	`, perspectiveID, userID)
	if err != nil {
		return fmt.Errorf("remove curator: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) IsPerspectiveCurator(ctx context.Context, userID, perspectiveID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM perspective_curators WHERE user_id=$1 AND perspective_id=$2)
	`, userID, perspectiveID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check curator: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListPerspectiveCurators(ctx context.Context, perspectiveID string) ([]PerspectiveCurator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.perspective_id, c.user_id, c.granted_by, c.created_at, u.display_name, u.email
		FROM perspective_curators c
		JOIN users u ON u.id = c.user_id
		WHERE c.perspective_id=$1
		ORDER BY c.created_at
	`, perspectiveID)
	if err != nil {
		return nil, fmt.Errorf("list curators: %w", err)
	}
	defer rows.Close()

	items := make([]PerspectiveCurator, 0)
	for rows.Next() {
		var c PerspectiveCurator
		if err := rows.Scan(&c.ID, &c.PerspectiveID, &c.UserID, &c.GrantedBy, &c.CreatedAt, &c.UserName, &c.UserEmail); err != nil {
			return nil, fmt.Errorf("scan curator: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
