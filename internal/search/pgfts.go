package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// Vectors are built on the fly; the tables are small enough that this stays
// comfortably fast.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across conversation_results, org_insights,
// and action_plans using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultSummary {
		vector := "to_tsvector('english', coalesce(r.summary, ''))"
		where := fmt.Sprintf("%s @@ %s AND r.member_id = $%d AND c.anonymized_at IS NULL", vector, tsQuery, argN)
		args = append(args, q.MemberID)
		argN++
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'summary'::text AS type, r.conversation_id AS id, t.name AS title,
				ts_headline('english', coalesce(r.summary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.org_id, r.period,
				ts_rank(%s, %s) AS rank
			FROM conversation_results r
			JOIN conversations c ON c.id = r.conversation_id
			JOIN members m ON m.id = r.member_id
			JOIN themes t ON t.id = r.theme_id
			WHERE %s`, tsQuery, vector, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultInsight {
		vector := "to_tsvector('english', coalesce(i.summary, '') || ' ' || coalesce(i.advice, ''))"
		where := fmt.Sprintf("%s @@ %s AND i.org_id = $%d", vector, tsQuery, argN)
		args = append(args, q.OrgID)
		argN++
		if !q.OrgWide {
			where += fmt.Sprintf(" AND (i.team_key = '' OR i.team_key = $%d)", argN)
			args = append(args, q.TeamKey)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'insight'::text AS type, i.org_id || ':' || i.theme_id || ':' || i.team_key AS id, t.name AS title,
				ts_headline('english', coalesce(i.summary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				i.org_id, ''::text AS period,
				ts_rank(%s, %s) AS rank
			FROM org_insights i
			JOIN themes t ON t.id = i.theme_id
			WHERE %s`, tsQuery, vector, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultPlan {
		vector := "to_tsvector('english', coalesce(p.actions::text, ''))"
		where := fmt.Sprintf("%s @@ %s AND p.member_id = $%d", vector, tsQuery, argN)
		args = append(args, q.MemberID)
		argN++
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'plan'::text AS type, p.member_id || ':' || p.period AS id, 'Action plan ' || p.period AS title,
				ts_headline('english', coalesce(p.actions::text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.org_id, p.period,
				ts_rank(%s, %s) AS rank
			FROM action_plans p
			JOIN members m ON m.id = p.member_id
			WHERE %s`, tsQuery, vector, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, org_id, period
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.OrgID, &r.Period); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SummaryRecord, []InsightRecord, []PlanRecord, error) {
	summaryRows, err := p.db.QueryContext(ctx, `
		SELECT r.conversation_id, r.member_id, m.org_id, t.name, r.period, coalesce(r.summary, '')
		FROM conversation_results r
		JOIN conversations c ON c.id = r.conversation_id
		JOIN members m ON m.id = r.member_id
		JOIN themes t ON t.id = r.theme_id
		WHERE c.anonymized_at IS NULL AND r.summary IS NOT NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load summaries: %w", err)
	}
	defer summaryRows.Close()

	summaries := make([]SummaryRecord, 0)
	for summaryRows.Next() {
		var rec SummaryRecord
		if err := summaryRows.Scan(&rec.ID, &rec.MemberID, &rec.OrgID, &rec.ThemeName, &rec.Period, &rec.Summary); err != nil {
			return nil, nil, nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, rec)
	}
	if err := summaryRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate summaries: %w", err)
	}

	insightRows, err := p.db.QueryContext(ctx, `
		SELECT i.org_id || ':' || i.theme_id || ':' || i.team_key, i.org_id, i.team_key, t.name, i.summary, i.advice
		FROM org_insights i
		JOIN themes t ON t.id = i.theme_id
		WHERE i.status = 'available'
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load insights: %w", err)
	}
	defer insightRows.Close()

	insights := make([]InsightRecord, 0)
	for insightRows.Next() {
		var rec InsightRecord
		if err := insightRows.Scan(&rec.ID, &rec.OrgID, &rec.TeamKey, &rec.ThemeName, &rec.Summary, &rec.Advice); err != nil {
			return nil, nil, nil, fmt.Errorf("scan insight: %w", err)
		}
		insights = append(insights, rec)
	}
	if err := insightRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate insights: %w", err)
	}

	planRows, err := p.db.QueryContext(ctx, `
		SELECT p.member_id || ':' || p.period, p.member_id, m.org_id, p.period, coalesce(p.actions::text, '')
		FROM action_plans p
		JOIN members m ON m.id = p.member_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load plans: %w", err)
	}
	defer planRows.Close()

	plans := make([]PlanRecord, 0)
	for planRows.Next() {
		var rec PlanRecord
		if err := planRows.Scan(&rec.ID, &rec.MemberID, &rec.OrgID, &rec.Period, &rec.Actions); err != nil {
			return nil, nil, nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, rec)
	}
	if err := planRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate plans: %w", err)
	}

	return summaries, insights, plans, nil
}
