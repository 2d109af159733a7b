// Package search provides full-text search over conversation summaries,
// organization insights, and action plans. Meilisearch serves queries when it
// is reachable; PostgreSQL full-text search covers for it when it is not.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSummary ResultType = "summary"
	ResultInsight ResultType = "insight"
	ResultPlan    ResultType = "plan"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	OrgID   string     `json:"orgId"`
	Period  string     `json:"period,omitempty"`
}

// Query describes a search request. MemberID/OrgID/TeamKey/OrgWide come from
// the authenticated caller and bound what the query may see: summaries and
// plans are private to the member, insights belong to the org, and
// team-scoped insights additionally require the matching team unless the
// caller sees the whole org.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	MemberID   string
	OrgID      string
	TeamKey    string // empty when the member has no team
	OrgWide    bool   // org_admin and super_admin see team-scoped insights
	Limit      int
	Offset     int
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

// SummaryRecord is the data we index for a conversation result.
type SummaryRecord struct {
	ID        string `json:"id"` // conversation ID
	MemberID  string `json:"memberId"`
	OrgID     string `json:"orgId"`
	ThemeName string `json:"themeName"`
	Period    string `json:"period"`
	Summary   string `json:"summary"`
}

// InsightRecord is the data we index for an organization insight.
type InsightRecord struct {
	ID        string `json:"id"` // orgID:themeID:teamKey
	OrgID     string `json:"orgId"`
	TeamKey   string `json:"teamKey"` // empty for org-wide insights
	ThemeName string `json:"themeName"`
	Summary   string `json:"summary"`
	Advice    string `json:"advice"`
}

// PlanRecord is the data we index for an action plan.
type PlanRecord struct {
	ID       string `json:"id"` // memberID:period
	MemberID string `json:"memberId"`
	OrgID    string `json:"orgId"`
	Period   string `json:"period"`
	Actions  string `json:"actions"` // action texts joined for matching
}
