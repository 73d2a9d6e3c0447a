package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across terms, active published
// definitions, and comments using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Terms sub-query. Terms are glossary-wide, so a perspective filter
	// excludes them.
	if (q.FilterType == "" || q.FilterType == ResultTerm) && q.FilterPerspectiveID == "" {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'term'::text AS type, t.id, t.name AS title,
				''::text AS snippet,
				''::text AS entry_id, ''::text AS perspective_id,
				ts_rank(t.fts, %s) AS rank
			FROM terms t
			WHERE t.deleted_at IS NULL AND t.fts @@ %s`, tsQuery, tsQuery))
	}

	// Definitions sub-query: the active published draft of each live entry.
	if q.FilterType == "" || q.FilterType == ResultDefinition {
		defWhere := "d.fts @@ " + tsQuery
		if q.FilterPerspectiveID != "" {
			defWhere += fmt.Sprintf(" AND e.perspective_id = $%d", argN)
			args = append(args, q.FilterPerspectiveID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'definition'::text AS type, d.id, t.name AS title,
				ts_headline('english', d.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				e.id AS entry_id, e.perspective_id,
				ts_rank(d.fts, %s) AS rank
			FROM drafts d
			JOIN entries e ON e.active_draft_id = d.id
			JOIN terms t ON t.id = e.term_id
			WHERE d.is_published AND d.deleted_at IS NULL
			  AND e.deleted_at IS NULL AND t.deleted_at IS NULL
			  AND %s`, tsQuery, tsQuery, defWhere))
	}

	// Comments sub-query
	if q.FilterType == "" || q.FilterType == ResultComment {
		comWhere := "c.fts @@ " + tsQuery
		if q.FilterPerspectiveID != "" {
			comWhere += fmt.Sprintf(" AND e.perspective_id = $%d", argN)
			args = append(args, q.FilterPerspectiveID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, u.display_name AS title,
				ts_headline('english', c.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				e.id AS entry_id, e.perspective_id,
				ts_rank(c.fts, %s) AS rank
			FROM comments c
			JOIN users u ON u.id = c.author_id
			JOIN drafts d ON d.id = c.draft_id
			JOIN entries e ON e.id = d.entry_id
			WHERE c.deleted_at IS NULL AND d.deleted_at IS NULL AND e.deleted_at IS NULL
			  AND %s`, tsQuery, tsQuery, comWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, entry_id, perspective_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.EntryID, &r.PerspectiveID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TermRecord, []DefinitionRecord, []CommentRecord, error) {
	termRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, is_official FROM terms WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load terms: %w", err)
	}
	defer termRows.Close()

	terms := make([]TermRecord, 0)
	for termRows.Next() {
		var t TermRecord
		if err := termRows.Scan(&t.ID, &t.Name, &t.IsOfficial); err != nil {
			return nil, nil, nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, t)
	}
	if err := termRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate terms: %w", err)
	}

	defRows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.content, t.name, e.id, e.perspective_id
		FROM drafts d
		JOIN entries e ON e.active_draft_id = d.id
		JOIN terms t ON t.id = e.term_id
		WHERE d.is_published AND d.deleted_at IS NULL
		  AND e.deleted_at IS NULL AND t.deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load definitions: %w", err)
	}
	defer defRows.Close()

	definitions := make([]DefinitionRecord, 0)
	for defRows.Next() {
		var d DefinitionRecord
		if err := defRows.Scan(&d.ID, &d.Content, &d.TermName, &d.EntryID, &d.PerspectiveID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan definition: %w", err)
		}
		definitions = append(definitions, d)
	}
	if err := defRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate definitions: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.body, u.display_name, c.draft_id, e.id, e.perspective_id
		FROM comments c
		JOIN users u ON u.id = c.author_id
		JOIN drafts d ON d.id = c.draft_id
		JOIN entries e ON e.id = d.entry_id
		WHERE c.deleted_at IS NULL AND d.deleted_at IS NULL AND e.deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Body, &c.AuthorName, &c.DraftID, &c.EntryID, &c.PerspectiveID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return terms, definitions, comments, nil
}
