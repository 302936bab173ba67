package search

import (
	"context"
	"fmt"
	"log"

	"greenlight/api/internal/archive"
)

type ArchiveSearcher interface {
	SearchDecidedItems(ctx context.Context, query string, limit int) ([]archive.DecidedItem, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres archive.
type Service struct {
	meili   *Meili
	archive ArchiveSearcher
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured; fallback may be nil when the archive is not configured.
func NewService(meili *Meili, fallback ArchiveSearcher) *Service {
	return &Service{meili: meili, archive: fallback}
}

// Search tries Meilisearch if healthy, otherwise queries the archive.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to archive: %v", err)
	}

	if s.archive == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	items, err := s.archive.SearchDecidedItems(ctx, q.Text, q.Limit)
	if err != nil {
		log.Printf("search: archive fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		if q.FilterDecision != "" && item.Decision != q.FilterDecision {
			continue
		}
		results = append(results, Result{
			ID:          fmt.Sprintf("%s-%d", item.SessionCode, item.ID),
			SessionCode: item.SessionCode,
			SessionDate: item.SessionDate,
			Title:       item.Title,
			Decision:    item.Decision,
		})
	}
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexOutcomes pushes decided items to Meilisearch, fire-and-forget.
func (s *Service) IndexOutcomes(records []OutcomeRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexOutcomes(records); err != nil {
			log.Printf("search: index outcomes: %v", err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
