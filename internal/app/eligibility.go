package app

import "glossary/api/internal/store"

// ReviewMode names an eligibility filter for the review queue. Candidates
// are already narrowed by the store to unpublished, non-archived, non-deleted
// drafts created after their entry's latest publication.
type ReviewMode string

const (
	// ModeDefault is the union of the viewer's own drafts, drafts they were
	// asked to review, drafts they approved, and drafts of related terms.
	ModeDefault ReviewMode = ""
	// ModeCanApprove keeps only drafts the viewer could still approve.
	ModeCanApprove ReviewMode = "can_approve"
	// ModeRequestedOrApproved keeps drafts the viewer was asked to review or
	// has approved; showAll overrides it to every candidate.
	ModeRequestedOrApproved ReviewMode = "requested_or_approved"
	// ModeOwn keeps the viewer's latest own draft per entry.
	ModeOwn ReviewMode = "own"
	// ModeAlreadyApproved keeps drafts the viewer approved.
	ModeAlreadyApproved ReviewMode = "already_approved"
	// ModeAllExceptOwn keeps every candidate not authored by the viewer.
	ModeAllExceptOwn ReviewMode = "all_except_own"
)

// ParseReviewMode maps a query parameter to a mode, treating anything
// unknown as the default view.
func ParseReviewMode(value string) ReviewMode {
	switch ReviewMode(value) {
	case ModeCanApprove, ModeRequestedOrApproved, ModeOwn, ModeAlreadyApproved, ModeAllExceptOwn:
		return ReviewMode(value)
	default:
		return ModeDefault
	}
}

// filterCandidates computes the visible draft set for one viewer. It is a
// pure function over the candidate rows; relatedTerms is only consulted for
// the default mode and may be nil otherwise.
func filterCandidates(candidates []store.DraftCandidate, viewerID string, mode ReviewMode, showAll bool, minApprovals int, relatedTerms map[string]bool) []store.DraftCandidate {
	visible := make([]store.DraftCandidate, 0, len(candidates))

	switch mode {
	case ModeCanApprove:
		for _, c := range candidates {
			if c.AuthorID == viewerID || contains(c.ApproverIDs, viewerID) || len(c.ApproverIDs) >= minApprovals {
				continue
			}
			visible = append(visible, c)
		}

	case ModeRequestedOrApproved:
		if showAll {
			return append(visible, candidates...)
		}
		for _, c := range candidates {
			if contains(c.ReviewerIDs, viewerID) || contains(c.ApproverIDs, viewerID) {
				visible = append(visible, c)
			}
		}

	case ModeOwn:
		// Only the viewer's single latest draft per entry. Candidates arrive
		// newest-first, so the first own draft seen for an entry wins.
		seenEntry := make(map[string]bool)
		for _, c := range candidates {
			if c.AuthorID != viewerID || seenEntry[c.EntryID] {
				continue
			}
			seenEntry[c.EntryID] = true
			visible = append(visible, c)
		}

	case ModeAlreadyApproved:
		for _, c := range candidates {
			if contains(c.ApproverIDs, viewerID) {
				visible = append(visible, c)
			}
		}

	case ModeAllExceptOwn:
		for _, c := range candidates {
			if c.AuthorID != viewerID {
				visible = append(visible, c)
			}
		}

	default:
		for _, c := range candidates {
			involved := c.AuthorID == viewerID ||
				contains(c.ReviewerIDs, viewerID) ||
				contains(c.ApproverIDs, viewerID) ||
				relatedTerms[c.TermID]
			if involved {
				visible = append(visible, c)
			}
		}
	}

	return visible
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
