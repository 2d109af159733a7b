package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxSummaries = "pulse_summaries"
	idxInsights  = "pulse_insights"
	idxPlans     = "pulse_plans"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. If the
// initial connection fails the health loop keeps trying; PG FTS serves
// queries in the meantime.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxSummaries,
			primaryKey: "id",
			filterable: []string{"memberId", "orgId", "period"},
			searchable: []string{"summary", "themeName"},
		},
		{
			uid:        idxInsights,
			primaryKey: "id",
			filterable: []string{"orgId", "teamKey"},
			searchable: []string{"summary", "advice", "themeName"},
		},
		{
			uid:        idxPlans,
			primaryKey: "id",
			filterable: []string{"memberId", "orgId", "period"},
			searchable: []string{"actions"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxSummaries, ResultSummary},
		{idxInsights, ResultInsight},
		{idxPlans, ResultPlan},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		var filters []string
		switch ti.rtyp {
		case ResultSummary, ResultPlan:
			filters = append(filters, fmt.Sprintf("memberId = %q", q.MemberID))
		case ResultInsight:
			filters = append(filters, fmt.Sprintf("orgId = %q", q.OrgID))
			if !q.OrgWide {
				filters = append(filters, fmt.Sprintf("(teamKey = \"\" OR teamKey = %q)", q.TeamKey))
			}
		}
		sr.Filter = filters
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxSummaries:
		return ResultSummary
	case idxInsights:
		return ResultInsight
	case idxPlans:
		return ResultPlan
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.OrgID = decodeString(hit, "orgId")
	r.Period = decodeString(hit, "period")

	switch rtyp {
	case ResultSummary:
		r.Title = firstNonBlank(decodeFormattedString(hit, "themeName"), decodeString(hit, "themeName"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "summary"), decodeString(hit, "summary"))
	case ResultInsight:
		r.Title = firstNonBlank(decodeFormattedString(hit, "themeName"), decodeString(hit, "themeName"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "summary"), decodeString(hit, "summary"))
	case ResultPlan:
		r.Title = "Action plan " + decodeString(hit, "period")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "actions"), decodeString(hit, "actions"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexSummary adds or updates a conversation summary in the search index.
func (m *Meili) IndexSummary(rec SummaryRecord) error {
	_, err := m.client.Index(idxSummaries).AddDocuments([]SummaryRecord{rec}, nil)
	return err
}

// IndexInsight adds or updates an organization insight in the search index.
func (m *Meili) IndexInsight(rec InsightRecord) error {
	_, err := m.client.Index(idxInsights).AddDocuments([]InsightRecord{rec}, nil)
	return err
}

// IndexPlan adds or updates an action plan in the search index.
func (m *Meili) IndexPlan(rec PlanRecord) error {
	_, err := m.client.Index(idxPlans).AddDocuments([]PlanRecord{rec}, nil)
	return err
}

// DeleteSummary removes a conversation summary from the search index.
func (m *Meili) DeleteSummary(id string) error {
	_, err := m.client.Index(idxSummaries).DeleteDocument(id, nil)
	return err
}

// IndexSummaries bulk-indexes conversation summaries.
func (m *Meili) IndexSummaries(records []SummaryRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSummaries).AddDocuments(records, nil)
	return err
}

// IndexInsights bulk-indexes organization insights.
func (m *Meili) IndexInsights(records []InsightRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxInsights).AddDocuments(records, nil)
	return err
}

// IndexPlans bulk-indexes action plans.
func (m *Meili) IndexPlans(records []PlanRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPlans).AddDocuments(records, nil)
	return err
}
