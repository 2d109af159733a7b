package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSummary indexes a conversation summary (fire-and-forget to Meilisearch).
func (s *Service) IndexSummary(rec SummaryRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSummary(rec); err != nil {
			log.Printf("search: index summary %s: %v", rec.ID, err)
		}
	}()
}

// IndexInsight indexes an organization insight (fire-and-forget to Meilisearch).
func (s *Service) IndexInsight(rec InsightRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexInsight(rec); err != nil {
			log.Printf("search: index insight %s: %v", rec.ID, err)
		}
	}()
}

// IndexPlan indexes an action plan (fire-and-forget to Meilisearch).
func (s *Service) IndexPlan(rec PlanRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPlan(rec); err != nil {
			log.Printf("search: index plan %s: %v", rec.ID, err)
		}
	}()
}

// DeleteSummary removes a summary from the search index (fire-and-forget).
// Called when a conversation is anonymized.
func (s *Service) DeleteSummary(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSummary(id); err != nil {
			log.Printf("search: delete summary %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called during bootstrap if Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	summaries, insights, plans, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexSummaries(summaries); err != nil {
		log.Printf("search: reindex summaries: %v", err)
	}
	if err := s.meili.IndexInsights(insights); err != nil {
		log.Printf("search: reindex insights: %v", err)
	}
	if err := s.meili.IndexPlans(plans); err != nil {
		log.Printf("search: reindex plans: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
