package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeletedAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Term struct {
	ID         string
	Name       string
	Normalized string
	IsOfficial bool
	CreatedBy  string
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Perspective struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Entry struct {
	ID            string
	TermID        string
	PerspectiveID string
	ActiveDraftID *string
	IsOfficial    bool
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Joined fields for API responses
	TermName        string
	PerspectiveName string
}

type Draft struct {
	ID          string
	EntryID     string
	Content     string
	AuthorID    string
	ReplacesID  *string
	IsPublished bool
	PublishedAt *time.Time
	EndorsedBy  *string
	EndorsedAt  *time.Time
	Archived    bool
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined fields for API responses
	AuthorName string
}

// DraftCandidate is a draft plus the context the review-queue filter needs:
// its entry's term and perspective, and the aggregated approver/reviewer sets.
type DraftCandidate struct {
	Draft
	TermID        string
	TermName      string
	PerspectiveID string
	ApproverIDs   []string
	ReviewerIDs   []string
}

// PublishedDefinition is one row of a perspective's exportable glossary.
type PublishedDefinition struct {
	TermName    string
	Content     string
	AuthorName  string
	PublishedAt time.Time
	Endorsed    bool
}

type Comment struct {
	ID        string
	DraftID   string
	ParentID  *string
	AuthorID  string
	Body      string
	Resolved  bool
	DeletedAt *time.Time
	CreatedAt time.Time
	// Joined fields for API responses
	AuthorName string
}

type Notification struct {
	ID        string
	UserID    string
	Type      string
	Message   string
	DraftID   *string
	CommentID *string
	Read      bool
	CreatedAt time.Time
}

type PerspectiveCurator struct {
	ID            string
	PerspectiveID string
	UserID        string
	GrantedBy     string
	CreatedAt     time.Time
	// Joined fields for API responses
	UserName  string
	UserEmail string
}
