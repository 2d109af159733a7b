package app

import (
	"context"
	"fmt"
	"testing"

	"pulse/api/internal/llm"
	"pulse/api/internal/store"
)

func TestOnCompletedWaitsForRemainingThemes(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	ctx := context.Background()

	// Jamie can see two themes but has finished only one.
	conversation := completedConversation(env, "cnv_1", "mbr_jamie", "thm_workload", "2026-06")

	env.service.onCompleted(ctx, conversation)

	if len(env.store.plans) != 0 {
		t.Fatalf("plan generated early: %+v", env.store.plans)
	}
	if got := env.mailer.sentTo(); len(got) != 0 {
		t.Fatalf("notification sent early: %v", got)
	}
}

func TestOnCompletedGeneratesPlanAfterLastTheme(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	ctx := context.Background()

	completedConversation(env, "cnv_1", "mbr_jamie", "thm_workload", "2026-06")
	last := completedConversation(env, "cnv_2", "mbr_jamie", "thm_growth", "2026-06")

	// One conversation has a summary; the other falls back to its raw answers.
	summary := "Workload crept up through the release."
	_ = env.store.InsertResult(ctx, store.ConversationResult{
		ConversationID: "cnv_1", MemberID: "mbr_jamie", ThemeID: "thm_workload",
		Period: "2026-06", Round: 1, Summary: &summary,
	})

	var captured llm.PlanRequest
	env.completion.planActions = func(req llm.PlanRequest) ([]llm.PlanAction, error) {
		captured = req
		return []llm.PlanAction{
			{Rank: 1, Text: "Protect one focus day", Priority: "high", Rationale: "r"},
			{Rank: 2, Text: "Hand off the migration", Priority: "medium", Rationale: "r"},
			{Rank: 3, Text: "Revisit next month", Priority: "low", Rationale: "r"},
		}, nil
	}

	env.service.onCompleted(ctx, last)

	plan, err := env.store.GetPlan(ctx, "mbr_jamie", "2026-06")
	if err != nil || plan == nil {
		t.Fatalf("GetPlan: %v %v", plan, err)
	}
	if len(plan.Actions) != 3 || plan.Actions[0].Text != "Protect one focus day" {
		t.Fatalf("plan actions = %+v", plan.Actions)
	}
	if len(plan.SourceIDs) != 2 {
		t.Fatalf("plan sources = %v", plan.SourceIDs)
	}

	if captured.MemberName != "Jamie" || captured.Period != "2026-06" {
		t.Fatalf("plan request = %+v", captured)
	}
	if len(captured.Sources) != 2 {
		t.Fatalf("plan request sources = %+v", captured.Sources)
	}
	var sawSummary, sawFallback bool
	for _, source := range captured.Sources {
		switch source.Summary {
		case summary:
			sawSummary = true
		case "Rough month.": // the conversation's only answer
			sawFallback = true
		}
	}
	if !sawSummary || !sawFallback {
		t.Fatalf("sources = %+v, want stored summary and raw-answer fallback", captured.Sources)
	}

	if got := env.mailer.sentTo(); len(got) != 1 || got[0] != "jamie@acme.test" {
		t.Fatalf("plan notification = %v", got)
	}
	if len(env.search.plans) != 1 || env.search.plans[0].MemberID != "mbr_jamie" {
		t.Fatalf("plan not indexed: %+v", env.search.plans)
	}
}

func TestOnCompletedRegeneratesExistingPlan(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	ctx := context.Background()

	completedConversation(env, "cnv_1", "mbr_jamie", "thm_workload", "2026-06")
	last := completedConversation(env, "cnv_2", "mbr_jamie", "thm_growth", "2026-06")

	env.service.onCompleted(ctx, last)
	env.completion.planActions = func(llm.PlanRequest) ([]llm.PlanAction, error) {
		return []llm.PlanAction{
			{Rank: 1, Text: "Updated first", Priority: "high", Rationale: "r"},
			{Rank: 2, Text: "Updated second", Priority: "medium", Rationale: "r"},
			{Rank: 3, Text: "Updated third", Priority: "low", Rationale: "r"},
		}, nil
	}
	env.service.onCompleted(ctx, last)

	plan, err := env.store.GetPlan(ctx, "mbr_jamie", "2026-06")
	if err != nil || plan == nil {
		t.Fatalf("GetPlan: %v %v", plan, err)
	}
	if plan.Actions[0].Text != "Updated first" {
		t.Fatalf("plan was not replaced: %+v", plan.Actions)
	}
}

func TestOnCompletedSwallowsPlannerFailure(t *testing.T) {
	env := newTestEnv()
	env.seedOrg()
	ctx := context.Background()

	completedConversation(env, "cnv_1", "mbr_jamie", "thm_workload", "2026-06")
	last := completedConversation(env, "cnv_2", "mbr_jamie", "thm_growth", "2026-06")

	env.completion.planActions = func(llm.PlanRequest) ([]llm.PlanAction, error) {
		return nil, fmt.Errorf("%w: dial tcp", llm.ErrUnavailable)
	}
	env.service.onCompleted(ctx, last) // must not panic or store anything

	if len(env.store.plans) != 0 {
		t.Fatalf("failed planning stored a plan: %+v", env.store.plans)
	}
	if got := env.mailer.sentTo(); len(got) != 0 {
		t.Fatalf("failed planning sent mail: %v", got)
	}
}
