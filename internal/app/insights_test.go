package app

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"pulse/api/internal/llm"
	"pulse/api/internal/store"
)

// seedScoredResult completes a conversation for the member and stores a
// result carrying a summary and score, the shape the aggregator reads.
func seedScoredResult(env *testEnv, memberID, themeID string, score int) {
	id := "cnv_" + memberID + "_" + themeID
	completedConversation(env, id, memberID, themeID, "2026-06")
	summary := fmt.Sprintf("%s on %s", memberID, themeID)
	_ = env.store.InsertResult(context.Background(), store.ConversationResult{
		ConversationID: id,
		MemberID:       memberID,
		ThemeID:        themeID,
		Period:         "2026-06",
		Round:          1,
		Summary:        &summary,
		Score:          &score,
	})
}

func TestInsightBelowQuorum(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	sess := env.sessionFor("mbr_jamie")

	// Only three platform members qualify; the org admin sits on another team.
	seedScoredResult(env, "mbr_jamie", "thm_workload", 5)
	seedScoredResult(env, "mbr_marcus", "thm_workload", 6)
	seedScoredResult(env, "mbr_sarah", "thm_workload", 7)

	team := "team_platform"
	payload, err := env.service.Insight(context.Background(), sess, "org_demo", "thm_workload", &team)
	if err != nil {
		t.Fatalf("Insight below quorum must not error: %v", err)
	}
	if payload["status"] != "insufficient_quorum" {
		t.Fatalf("status = %v", payload["status"])
	}
	if payload["required"] != 4 || payload["current"] != 3 {
		t.Fatalf("quorum payload = %v", payload)
	}
	if len(env.search.insights) != 0 {
		t.Fatal("no aggregate may be generated below quorum")
	}
}

func TestInsightGeneratesWhenQuorumMet(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	sess := env.sessionFor("mbr_jamie")

	seedScoredResult(env, "mbr_avery", "thm_workload", 4)
	seedScoredResult(env, "mbr_jamie", "thm_workload", 5)
	seedScoredResult(env, "mbr_marcus", "thm_workload", 6)
	seedScoredResult(env, "mbr_sarah", "thm_workload", 8)

	env.completion.aggregate = func(req llm.AggregateRequest) (llm.Aggregate, error) {
		if len(req.Summaries) != 4 {
			t.Errorf("aggregate summaries = %d, want 4", len(req.Summaries))
		}
		return llm.Aggregate{
			Summary:     "The team is stretched thin.",
			Advice:      "Rebalance the on-call load.",
			SignalWords: []string{"overloaded", "deadlines"},
		}, nil
	}

	payload, err := env.service.Insight(context.Background(), sess, "org_demo", "thm_workload", nil)
	if err != nil {
		t.Fatalf("Insight: %v", err)
	}
	if payload["status"] != "available" {
		t.Fatalf("status = %v", payload["status"])
	}
	if payload["summary"] != "The team is stretched thin." || payload["advice"] != "Rebalance the on-call load." {
		t.Fatalf("aggregate payload = %v", payload)
	}
	// 4+5+6+8 over four voices rounds to one decimal.
	if payload["meanScore"] != 5.8 {
		t.Fatalf("meanScore = %v, want 5.8", payload["meanScore"])
	}
	if payload["conversationCount"] != 4 || payload["memberCount"] != 4 {
		t.Fatalf("count payload = %v", payload)
	}

	if len(env.search.insights) != 1 || env.search.insights[0].OrgID != "org_demo" {
		t.Fatalf("insight not indexed: %+v", env.search.insights)
	}
}

func TestGenerateInsightReplacesStoredRow(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	ctx := context.Background()
	for _, memberID := range []string{"mbr_avery", "mbr_jamie", "mbr_marcus", "mbr_sarah"} {
		seedScoredResult(env, memberID, "thm_workload", 5)
	}

	if _, err := env.service.generateInsight(ctx, "org_demo", "thm_workload", nil); err != nil {
		t.Fatalf("first generateInsight: %v", err)
	}

	// A later regeneration replaces the whole row rather than failing on the
	// existing one.
	env.completion.aggregate = func(llm.AggregateRequest) (llm.Aggregate, error) {
		return llm.Aggregate{Summary: "Refreshed view.", Advice: "Updated advice."}, nil
	}
	if _, err := env.service.generateInsight(ctx, "org_demo", "thm_workload", nil); err != nil {
		t.Fatalf("second generateInsight: %v", err)
	}

	stored, err := env.store.GetInsight(ctx, "org_demo", "thm_workload", nil)
	if err != nil || stored == nil {
		t.Fatalf("GetInsight: %v %v", stored, err)
	}
	if stored.Summary != "Refreshed view." || stored.Advice != "Updated advice." {
		t.Fatalf("stored row not replaced: %+v", stored)
	}
}

func TestNeedsInsightRefresh(t *testing.T) {
	stored := &store.OrgInsight{Status: "available"}
	cases := []struct {
		name       string
		qualifying int
		completed  int
		members    int
		insight    *store.OrgInsight
		want       bool
	}{
		{"below quorum", 3, 3, 3, nil, false},
		{"quorum met, nothing stored", 4, 4, 10, nil, true},
		{"stored, some members outstanding", 5, 5, 10, stored, false},
		{"stored, every member completed", 5, 10, 10, stored, true},
		{"stored, empty scope", 4, 0, 0, stored, false},
	}
	for _, tc := range cases {
		if got := needsInsightRefresh(tc.qualifying, tc.completed, tc.members, tc.insight); got != tc.want {
			t.Errorf("%s: needsInsightRefresh = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestInsightTeamScopeDenied(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()

	// Members of the team, org admins, and super admins may read the
	// narrowed view; quorum gating answers them all here, not access.
	team := "team_platform"
	for _, memberID := range []string{"mbr_sarah", "mbr_avery", "mbr_root"} {
		sess := env.sessionFor(memberID)
		if _, err := env.service.Insight(context.Background(), sess, "org_demo", "thm_workload", &team); err != nil {
			t.Fatalf("%s: unexpected denial: %v", memberID, err)
		}
	}

	// A plain member has no path into another team's narrowed view.
	product := "team_product"
	sess := env.sessionFor("mbr_jamie")
	_, err := env.service.Insight(context.Background(), sess, "org_demo", "thm_workload", &product)
	requireDomainError(t, err, http.StatusForbidden, "ACCESS_DENIED")

	// Cross-org reads are denied outright.
	_, err = env.service.Insight(context.Background(), sess, "org_other", "thm_workload", nil)
	requireDomainError(t, err, http.StatusForbidden, "ACCESS_DENIED")
}

func TestInsightSurfacesAggregatorFailure(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	sess := env.sessionFor("mbr_jamie")
	for _, memberID := range []string{"mbr_avery", "mbr_jamie", "mbr_marcus", "mbr_sarah"} {
		seedScoredResult(env, memberID, "thm_workload", 5)
	}

	env.completion.aggregate = func(llm.AggregateRequest) (llm.Aggregate, error) {
		return llm.Aggregate{}, fmt.Errorf("%w: missing advice", llm.ErrContract)
	}
	_, err := env.service.Insight(context.Background(), sess, "org_demo", "thm_workload", nil)
	requireDomainError(t, err, http.StatusBadGateway, "UPSTREAM_CONTRACT")
}

func TestInsightUnknownTheme(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	sess := env.sessionFor("mbr_jamie")
	_, err := env.service.Insight(context.Background(), sess, "org_demo", "thm_missing", nil)
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestThemeOverview(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	sess := env.sessionFor("mbr_jamie")

	seedScoredResult(env, "mbr_jamie", "thm_workload", 5)
	seedScoredResult(env, "mbr_marcus", "thm_workload", 6)

	payload, err := env.service.ThemeOverview(context.Background(), sess, "thm_workload")
	if err != nil {
		t.Fatalf("ThemeOverview: %v", err)
	}
	if payload["themeId"] != "thm_workload" || payload["themeName"] != "Workload" {
		t.Fatalf("overview header = %v", payload)
	}

	scopes := payload["scopes"].([]map[string]any)
	if len(scopes) != 2 {
		t.Fatalf("scopes = %d, want org plus caller team", len(scopes))
	}
	orgView, teamView := scopes[0], scopes[1]
	if orgView["scope"] != "org" {
		t.Fatalf("first scope = %v, want org-wide", orgView)
	}
	if orgView["members"] != 5 || orgView["qualifying"] != 2 {
		t.Fatalf("org view = %v", orgView)
	}
	if orgView["quorumMet"] != false || orgView["hasInsight"] != false {
		t.Fatalf("org quorum state = %v", orgView)
	}
	if teamView["teamId"] != "team_platform" || teamView["members"] != 3 {
		t.Fatalf("team view = %v", teamView)
	}
}

func TestSetThemeOverrideRequiresOrgAdmin(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	ctx := context.Background()
	team := "team_platform"

	for _, memberID := range []string{"mbr_jamie", "mbr_marcus"} {
		err := env.service.SetThemeOverride(ctx, env.sessionFor(memberID), "org_demo", "thm_leadership", &team, true)
		requireDomainError(t, err, http.StatusForbidden, "ACCESS_DENIED")
	}

	admin := env.sessionFor("mbr_avery")
	if err := env.service.SetThemeOverride(ctx, admin, "org_demo", "thm_leadership", &team, true); err != nil {
		t.Fatalf("SetThemeOverride as org_admin: %v", err)
	}

	// The override is live: a platform member can now start the restricted theme.
	if _, err := env.service.StartConversation(ctx, env.sessionFor("mbr_jamie"), "thm_leadership"); err != nil {
		t.Fatalf("StartConversation after override: %v", err)
	}

	// Admins cannot reach into other orgs.
	err := env.service.SetThemeOverride(ctx, admin, "org_other", "thm_leadership", nil, true)
	requireDomainError(t, err, http.StatusForbidden, "ACCESS_DENIED")
}
