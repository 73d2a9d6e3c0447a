package app

import (
	"context"
	"testing"

	"glossary/api/internal/store"
)

func candidate(id, entryID, termID, authorID string, approvers, reviewers []string) store.DraftCandidate {
	return store.DraftCandidate{
		Draft:       store.Draft{ID: id, EntryID: entryID, AuthorID: authorID},
		TermID:      termID,
		ApproverIDs: approvers,
		ReviewerIDs: reviewers,
	}
}

func idsOf(candidates []store.DraftCandidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestParseReviewMode(t *testing.T) {
	cases := map[string]ReviewMode{
		"":                      ModeDefault,
		"can_approve":           ModeCanApprove,
		"requested_or_approved": ModeRequestedOrApproved,
		"own":                   ModeOwn,
		"already_approved":      ModeAlreadyApproved,
		"all_except_own":        ModeAllExceptOwn,
		"bogus":                 ModeDefault,
	}
	for input, want := range cases {
		if got := ParseReviewMode(input); got != want {
			t.Errorf("ParseReviewMode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFilterCandidates(t *testing.T) {
	viewer := "user-v"
	// Newest first, as the store returns them.
	candidates := []store.DraftCandidate{
		candidate("d-own-new", "e1", "t1", viewer, nil, nil),
		candidate("d-own-old", "e1", "t1", viewer, nil, nil),
		candidate("d-requested", "e2", "t2", "user-a", nil, []string{viewer}),
		candidate("d-approved", "e3", "t3", "user-b", []string{viewer}, nil),
		candidate("d-quorum", "e4", "t4", "user-c", []string{"user-x", "user-y"}, nil),
		candidate("d-related", "e5", "t5", "user-d", nil, nil),
		candidate("d-stranger", "e6", "t6", "user-e", nil, nil),
	}
	relatedTerms := map[string]bool{"t5": true}

	tests := []struct {
		name    string
		mode    ReviewMode
		showAll bool
		want    []string
	}{
		{
			name: "default union",
			mode: ModeDefault,
			want: []string{"d-own-new", "d-own-old", "d-requested", "d-approved", "d-related"},
		},
		{
			name: "can_approve excludes own, approved, and at-quorum",
			mode: ModeCanApprove,
			want: []string{"d-requested", "d-related", "d-stranger"},
		},
		{
			name: "requested_or_approved",
			mode: ModeRequestedOrApproved,
			want: []string{"d-requested", "d-approved"},
		},
		{
			name:    "requested_or_approved with showAll",
			mode:    ModeRequestedOrApproved,
			showAll: true,
			want: []string{
				"d-own-new", "d-own-old", "d-requested", "d-approved",
				"d-quorum", "d-related", "d-stranger",
			},
		},
		{
			name: "own keeps one draft per entry",
			mode: ModeOwn,
			want: []string{"d-own-new"},
		},
		{
			name: "already_approved",
			mode: ModeAlreadyApproved,
			want: []string{"d-approved"},
		},
		{
			name: "all_except_own",
			mode: ModeAllExceptOwn,
			want: []string{"d-requested", "d-approved", "d-quorum", "d-related", "d-stranger"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := idsOf(filterCandidates(candidates, viewer, tc.mode, tc.showAll, 2, relatedTerms))
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestListReviewQueuePaging(t *testing.T) {
	t.Setenv("GLOSSARY_MIN_APPROVALS", "2")
	fx := newFixture(t)
	ctx := context.Background()
	author := fx.addUser(t, "alice", "contributor")
	viewer := fx.addUser(t, "bob", "contributor")

	// Three live drafts on the same entry, all authored by alice; bob is a
	// requested reviewer on each, so the default view shows them all.
	for _, content := range []string{"one", "two", "three"} {
		draft, err := fx.service.CreateDraft(ctx, author, fx.entry.ID, content)
		if err != nil {
			t.Fatalf("create draft: %v", err)
		}
		if _, err := fx.service.RequestReview(ctx, author, draft.ID, []string{viewer.UserID}); err != nil {
			t.Fatalf("request review: %v", err)
		}
	}

	page, total, err := fx.service.ListReviewQueue(ctx, viewer, "", ModeDefault, false, 2, 0)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("expected total 3 with page of 2, got total=%d page=%d", total, len(page))
	}
	if page[0].Content != "three" {
		t.Fatalf("queue should be newest first, got %q", page[0].Content)
	}

	rest, total, err := fx.service.ListReviewQueue(ctx, viewer, "", ModeDefault, false, 2, 2)
	if err != nil {
		t.Fatalf("list queue offset: %v", err)
	}
	if total != 3 || len(rest) != 1 || rest[0].Content != "one" {
		t.Fatalf("expected final page [one], got total=%d page=%v", total, idsOf(rest))
	}

	// A different perspective filter hides everything.
	none, total, err := fx.service.ListReviewQueue(ctx, viewer, "persp-other", ModeDefault, false, 10, 0)
	if err != nil {
		t.Fatalf("list queue filtered: %v", err)
	}
	if total != 0 || len(none) != 0 {
		t.Fatalf("expected empty queue for unrelated perspective, got total=%d", total)
	}
}

func TestReviewQueueHidesDraftsBehindPublication(t *testing.T) {
	t.Setenv("GLOSSARY_MIN_APPROVALS", "2")
	fx := newFixture(t)
	ctx := context.Background()
	author := fx.addUser(t, "alice", "contributor")
	r1 := fx.addUser(t, "bob", "contributor")
	r2 := fx.addUser(t, "carol", "contributor")

	if _, err := fx.service.CreateDraft(ctx, author, fx.entry.ID, "superseded"); err != nil {
		t.Fatalf("create stale draft: %v", err)
	}
	winner, err := fx.service.CreateDraft(ctx, author, fx.entry.ID, "winner")
	if err != nil {
		t.Fatalf("create winner: %v", err)
	}
	for _, r := range []Session{r1, r2} {
		if _, err := fx.service.ApproveDraft(ctx, r, winner.ID); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	if _, err := fx.service.PublishDraft(ctx, author, winner.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	queue, total, err := fx.service.ListReviewQueue(ctx, author, "", ModeOwn, false, 10, 0)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if total != 0 || len(queue) != 0 {
		t.Fatalf("drafts older than the publication should not be reviewable, got %v", idsOf(queue))
	}
}
