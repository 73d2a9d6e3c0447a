package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTerm       ResultType = "term"
	ResultDefinition ResultType = "definition"
	ResultComment    ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type          ResultType `json:"type"`
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	EntryID       string     `json:"entryId,omitempty"`
	PerspectiveID string     `json:"perspectiveId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text                string
	FilterType          ResultType // empty = all types
	FilterPerspectiveID string
	Limit               int
	Offset              int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TermRecord is the data we index for a glossary term.
type TermRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsOfficial bool   `json:"isOfficial"`
}

// DefinitionRecord is the data we index for a published definition. The ID is
// the published draft's ID.
type DefinitionRecord struct {
	ID            string `json:"id"`
	Content       string `json:"content"`
	TermName      string `json:"termName"`
	EntryID       string `json:"entryId"`
	PerspectiveID string `json:"perspectiveId"`
}

// CommentRecord is the data we index for a review comment.
type CommentRecord struct {
	ID            string `json:"id"`
	Body          string `json:"body"`
	AuthorName    string `json:"authorName"`
	DraftID       string `json:"draftId"`
	EntryID       string `json:"entryId"`
	PerspectiveID string `json:"perspectiveId"`
}
