package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetPerspectiveInfo(ctx context.Context, perspectiveID string) (PerspectiveInfo, error)
	ListPublishedEntries(ctx context.Context, perspectiveID string) ([]GlossaryEntry, error)
}

// PerspectiveInfo holds perspective metadata for the export header.
type PerspectiveInfo struct {
	ID          string
	Name        string
	Description string
}

// Service provides glossary export functionality
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders the perspective's published glossary in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	perspective, err := s.store.GetPerspectiveInfo(ctx, req.PerspectiveID)
	if err != nil {
		return nil, fmt.Errorf("get perspective: %w", err)
	}

	entries, err := s.store.ListPublishedEntries(ctx, req.PerspectiveID)
	if err != nil {
		return nil, fmt.Errorf("list published entries: %w", err)
	}

	data := TemplateData{
		Name:        perspective.Name,
		Description: perspective.Description,
		GeneratedAt: time.Now(),
		Entries:     make([]TemplateEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		data.Entries = append(data.Entries, TemplateEntry{
			TermName:    entry.TermName,
			ContentHTML: SafeHTML(entry.Content),
			Author:      entry.Author,
			PublishedAt: entry.PublishedAt,
			Endorsed:    entry.Endorsed,
		})
	}

	html, err := RenderGlossaryHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, perspective.Name)
	case FormatDOCX:
		return exportDOCX(html, perspective.Name)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
