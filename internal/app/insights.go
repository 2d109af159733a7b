package app

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"pulse/api/internal/llm"
	"pulse/api/internal/period"
	"pulse/api/internal/rbac"
	"pulse/api/internal/search"
	"pulse/api/internal/store"
)

// insightQuorum is the minimum number of distinct contributing members an
// aggregate needs before anyone may read it. Below this, individual voices
// would be too easy to pick out.
const insightQuorum = 4

// Insight returns the aggregated view for (org, theme) narrowed to a team
// when teamID is non-nil. Below quorum it returns a structured
// insufficient-quorum payload, not an error: the caller did nothing wrong.
func (s *Service) Insight(ctx context.Context, sess Session, orgID, themeID string, teamID *string) (map[string]any, error) {
	actor := s.actor(sess)
	if ok, reason := rbac.Allowed(actor, rbac.ActionViewInsight, rbac.Scope{OrgID: orgID, TeamID: teamID}); !ok {
		return nil, accessDenied(reason)
	}
	if _, err := s.store.GetTheme(ctx, themeID); err != nil {
		return nil, err
	}

	qualifying, err := s.store.CountQualifyingMembers(ctx, orgID, themeID, teamID)
	if err != nil {
		return nil, err
	}
	if qualifying < insightQuorum {
		return map[string]any{
			"status":   "insufficient_quorum",
			"required": insightQuorum,
			"current":  qualifying,
		}, nil
	}

	insight, err := s.store.GetInsight(ctx, orgID, themeID, teamID)
	if err != nil {
		return nil, err
	}
	if insight == nil {
		generated, genErr := s.generateInsight(ctx, orgID, themeID, teamID)
		if genErr != nil {
			return nil, genErr
		}
		insight = generated
	}
	return insightPayload(*insight), nil
}

// generateInsight recomputes the aggregate from the scope's results and
// replaces the stored row. The whole row is rewritten each run; unlike
// conversation results there are no per-field owners racing here.
func (s *Service) generateInsight(ctx context.Context, orgID, themeID string, teamID *string) (*store.OrgInsight, error) {
	theme, err := s.store.GetTheme(ctx, themeID)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListScopedResults(ctx, orgID, themeID, teamID)
	if err != nil {
		return nil, err
	}

	summaries := make([]string, 0, len(results))
	scoreSum, scoreCount := 0, 0
	memberSet := make(map[string]struct{})
	for _, result := range results {
		if result.Summary != nil {
			summaries = append(summaries, *result.Summary)
		}
		if result.Score != nil {
			scoreSum += *result.Score
			scoreCount++
		}
		memberSet[result.MemberID] = struct{}{}
	}

	aggregate, err := s.completion.Aggregate(ctx, llm.AggregateRequest{
		ThemeName: theme.Name,
		Summaries: summaries,
	})
	if err != nil {
		if errors.Is(err, llm.ErrContract) {
			return nil, upstreamContract(err.Error())
		}
		if errors.Is(err, llm.ErrUnavailable) {
			return nil, upstreamUnavailable("completion gateway unreachable")
		}
		return nil, err
	}

	meanScore := 0.0
	if scoreCount > 0 {
		meanScore = math.Round(float64(scoreSum)/float64(scoreCount)*10) / 10
	}

	insight := store.OrgInsight{
		OrgID:             orgID,
		ThemeID:           themeID,
		TeamID:            teamID,
		Summary:           aggregate.Summary,
		Advice:            aggregate.Advice,
		SignalWords:       aggregate.SignalWords,
		MeanScore:         meanScore,
		ConversationCount: len(results),
		MemberCount:       len(memberSet),
		Status:            "available",
		GeneratedAt:       time.Now(),
	}
	if err := store.UpsertWithRetry(ctx,
		func(ctx context.Context) (int64, error) { return s.store.UpdateInsight(ctx, insight) },
		func(ctx context.Context) error { return s.store.InsertInsight(ctx, insight) },
	); err != nil {
		return nil, err
	}

	if s.search != nil {
		teamKey := ""
		if teamID != nil {
			teamKey = *teamID
		}
		s.search.IndexInsight(search.InsightRecord{
			ID:        orgID + ":" + themeID + ":" + teamKey,
			OrgID:     orgID,
			TeamKey:   teamKey,
			ThemeName: theme.Name,
			Summary:   aggregate.Summary,
			Advice:    aggregate.Advice,
		})
	}
	return &insight, nil
}

// ThemeOverview reports, for the caller's org, how far the current period's
// aggregate has progressed: participation counts, quorum state, and whether a
// stored insight exists. Reading the overview opportunistically refreshes a
// missing aggregate in the background once quorum is met.
func (s *Service) ThemeOverview(ctx context.Context, sess Session, themeID string) (map[string]any, error) {
	actor := s.actor(sess)
	if ok, reason := rbac.Allowed(actor, rbac.ActionViewInsight, rbac.Scope{OrgID: sess.OrgID}); !ok {
		return nil, accessDenied(reason)
	}
	theme, err := s.store.GetTheme(ctx, themeID)
	if err != nil {
		return nil, err
	}

	currentPeriod := period.Current()
	scopes := []*string{nil}
	if sess.TeamID != nil {
		scopes = append(scopes, sess.TeamID)
	}

	views := make([]map[string]any, 0, len(scopes))
	for _, teamID := range scopes {
		memberCount, err := s.store.CountMembersInScope(ctx, sess.OrgID, teamID)
		if err != nil {
			return nil, err
		}
		completed, err := s.store.CountMembersCompleted(ctx, sess.OrgID, themeID, teamID, currentPeriod)
		if err != nil {
			return nil, err
		}
		qualifying, err := s.store.CountQualifyingMembers(ctx, sess.OrgID, themeID, teamID)
		if err != nil {
			return nil, err
		}
		insight, err := s.store.GetInsight(ctx, sess.OrgID, themeID, teamID)
		if err != nil {
			return nil, err
		}

		view := map[string]any{
			"members":    memberCount,
			"completed":  completed,
			"qualifying": qualifying,
			"quorum":     insightQuorum,
			"quorumMet":  qualifying >= insightQuorum,
			"hasInsight": insight != nil,
		}
		if teamID != nil {
			view["teamId"] = *teamID
		} else {
			view["scope"] = "org"
		}
		views = append(views, view)

		if needsInsightRefresh(qualifying, completed, memberCount, insight) {
			scope := teamID
			go func() {
				bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				if _, err := s.generateInsight(bg, sess.OrgID, themeID, scope); err != nil {
					log.Printf("insight refresh %s/%s: %v", themeID, sess.OrgID, err)
				}
			}()
		}
	}

	return map[string]any{
		"themeId":   theme.ID,
		"themeName": theme.Name,
		"period":    currentPeriod,
		"scopes":    views,
	}, nil
}

// needsInsightRefresh decides when an overview read should regenerate the
// scope's aggregate in the background: the first time quorum is met, and
// again whenever every member in scope has completed the theme this period.
// Regeneration replaces the whole row, so redundant triggers are harmless.
func needsInsightRefresh(qualifying, completed, members int, insight *store.OrgInsight) bool {
	if qualifying < insightQuorum {
		return false
	}
	if insight == nil {
		return true
	}
	return members > 0 && completed >= members
}

// SetThemeOverride changes theme visibility for the org or one of its teams.
func (s *Service) SetThemeOverride(ctx context.Context, sess Session, orgID, themeID string, teamID *string, visible bool) error {
	actor := s.actor(sess)
	if ok, reason := rbac.Allowed(actor, rbac.ActionManageOverrides, rbac.Scope{OrgID: orgID, TeamID: teamID}); !ok {
		return accessDenied(reason)
	}
	return s.access.SetOverride(ctx, orgID, themeID, teamID, visible)
}

func insightPayload(insight store.OrgInsight) map[string]any {
	payload := map[string]any{
		"status":            insight.Status,
		"summary":           insight.Summary,
		"advice":            insight.Advice,
		"signalWords":       insight.SignalWords,
		"meanScore":         insight.MeanScore,
		"conversationCount": insight.ConversationCount,
		"memberCount":       insight.MemberCount,
		"generatedAt":       insight.GeneratedAt.Format(time.RFC3339),
	}
	if insight.TeamID != nil {
		payload["teamId"] = *insight.TeamID
	}
	return payload
}
