package app

import (
	"context"
	"fmt"

	"glossary/api/internal/store"
)

// HistoryItem is one link of an entry's replacement chain, newest first.
type HistoryItem struct {
	Draft      store.Draft
	Approvers  []string
	Label      string
	ReplacedBy *string
	IsActive   bool
}

// EntryHistory reconstructs the edit history of an entry by walking the
// replacement chain from its head. The chain is linear by construction;
// drafts that fell out of it (a deleted predecessor) still appear, ordered
// by creation.
func (s *Service) EntryHistory(ctx context.Context, entryID string) ([]HistoryItem, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	drafts, err := s.store.ListEntryDrafts(ctx, entry.ID)
	if err != nil {
		return nil, err
	}

	labels := draftPositionLabels(drafts, entry.ActiveDraftID)
	replacedBy := make(map[string]string, len(drafts))
	for _, d := range drafts {
		if d.ReplacesID != nil {
			replacedBy[*d.ReplacesID] = d.ID
		}
	}

	items := make([]HistoryItem, 0, len(drafts))
	for _, d := range drafts {
		approvers, err := s.store.ListDraftApprovers(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		item := HistoryItem{
			Draft:     d,
			Approvers: approvers,
			Label:     labels[d.ID],
			IsActive:  entry.ActiveDraftID != nil && *entry.ActiveDraftID == d.ID,
		}
		if successor, ok := replacedBy[d.ID]; ok {
			successorID := successor
			item.ReplacedBy = &successorID
		}
		items = append(items, item)
	}
	return items, nil
}

// draftPositionLabels classifies each draft against the head of the chain:
// the entry's currently active draft is "published", the head is "current
// draft", everything else is counted in hops from the head. A draft whose
// publication was superseded counts like any other predecessor. Input must
// be newest first.
func draftPositionLabels(drafts []store.Draft, activeDraftID *string) map[string]string {
	labels := make(map[string]string, len(drafts))
	for i, d := range drafts {
		switch {
		case activeDraftID != nil && d.ID == *activeDraftID:
			labels[d.ID] = "published"
		case i == 0:
			labels[d.ID] = "current draft"
		case i == 1:
			labels[d.ID] = "1 draft ago"
		default:
			labels[d.ID] = fmt.Sprintf("%d drafts ago", i)
		}
	}
	return labels
}
