package app

import (
	"context"
	"errors"
	"time"

	"pulse/api/internal/llm"
	"pulse/api/internal/search"
	"pulse/api/internal/store"
)

// fallbackSummary stands in when the completion gateway cannot produce a
// usable summary. The conversation itself is untouched; a later retry can
// overwrite this.
const fallbackSummary = "A summary could not be generated for this conversation. The full history remains available."

// RequestSummary regenerates the summary for a completed conversation on
// demand.
func (s *Service) RequestSummary(ctx context.Context, sess Session, conversationID string) (map[string]any, error) {
	conversation, err := s.ownedConversation(ctx, sess, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != store.ConversationCompleted {
		return nil, conflict("summary requires a completed conversation", nil)
	}
	theme, err := s.store.GetTheme(ctx, conversation.ThemeID)
	if err != nil {
		return nil, err
	}
	if err := s.generateSummary(ctx, conversation, theme); err != nil {
		return nil, err
	}
	result, err := s.store.GetResult(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	return resultPayload(result), nil
}

// generateSummary asks the gateway for a summary and score, substituting the
// canned fallback when the gateway fails, and merges the outcome into the
// result row. Summaries never fail the caller the way follow-up decisions
// do: the conversation is already complete and a placeholder is acceptable.
func (s *Service) generateSummary(ctx context.Context, conversation store.Conversation, theme store.Theme) error {
	exchanges, err := s.exchanges(ctx, conversation.ID)
	if err != nil {
		return err
	}

	patch := store.ResultPatch{}
	summary, err := s.completion.Summarize(ctx, llm.SummarizeRequest{
		ThemeName: theme.Name,
		Rubric:    theme.Rubric,
		Exchanges: exchanges,
	})
	if err != nil {
		if !errors.Is(err, llm.ErrContract) && !errors.Is(err, llm.ErrUnavailable) {
			return err
		}
		canned := fallbackSummary
		patch.Summary = &canned
	} else {
		patch.Summary = &summary.Summary
		patch.Score = &summary.Score
	}

	if err := s.upsertResult(ctx, conversation, patch); err != nil {
		return err
	}

	if s.search != nil && patch.Summary != nil {
		member, memberErr := s.store.GetMember(ctx, conversation.MemberID)
		if memberErr == nil {
			s.search.IndexSummary(search.SummaryRecord{
				ID:        conversation.ID,
				MemberID:  conversation.MemberID,
				OrgID:     member.OrgID,
				ThemeName: theme.Name,
				Period:    conversation.Period,
				Summary:   *patch.Summary,
			})
		}
	}
	return nil
}

// RequestActions derives suggested actions for a single completed
// conversation and merges them into the result row without touching the
// summary fields.
func (s *Service) RequestActions(ctx context.Context, sess Session, conversationID string) (map[string]any, error) {
	conversation, err := s.ownedConversation(ctx, sess, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != store.ConversationCompleted {
		return nil, conflict("actions require a completed conversation", nil)
	}
	theme, err := s.store.GetTheme(ctx, conversation.ThemeID)
	if err != nil {
		return nil, err
	}

	source := llm.PlanSource{ThemeName: theme.Name}
	if result, resErr := s.store.GetResult(ctx, conversation.ID); resErr == nil && result.Summary != nil {
		source.Summary = *result.Summary
	} else {
		exchanges, exErr := s.exchanges(ctx, conversation.ID)
		if exErr != nil {
			return nil, exErr
		}
		for _, exchange := range exchanges {
			source.Actions = append(source.Actions, exchange.Answer)
		}
	}

	planned, err := s.completion.PlanActions(ctx, llm.PlanRequest{
		MemberName: sess.DisplayName,
		Period:     conversation.Period,
		Sources:    []llm.PlanSource{source},
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

	actions := make([]string, 0, len(planned))
	for _, action := range planned {
		actions = append(actions, action.Text)
	}
	if err := s.upsertResult(ctx, conversation, store.ResultPatch{Actions: actions}); err != nil {
		return nil, err
	}
	result, err := s.store.GetResult(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	return resultPayload(result), nil
}

// upsertResult merges a patch into the conversation's result row. Summary and
// actions writers race here; the conditional-update-then-insert loop keeps
// both without clobbering either.
func (s *Service) upsertResult(ctx context.Context, conversation store.Conversation, patch store.ResultPatch) error {
	return store.UpsertWithRetry(ctx,
		func(ctx context.Context) (int64, error) {
			return s.store.UpdateResult(ctx, conversation.ID, patch)
		},
		func(ctx context.Context) error {
			round, err := s.store.ConversationRound(ctx, conversation.MemberID, conversation.ThemeID, conversation.StartedAt)
			if err != nil {
				return err
			}
			now := time.Now()
			row := store.ConversationResult{
				ConversationID: conversation.ID,
				MemberID:       conversation.MemberID,
				ThemeID:        conversation.ThemeID,
				Period:         conversation.Period,
				Round:          round,
				Summary:        patch.Summary,
				Score:          patch.Score,
				Actions:        patch.Actions,
				UpdatedAt:      now,
			}
			if patch.Summary != nil {
				row.SummaryGeneratedAt = &now
			}
			if patch.Actions != nil {
				row.ActionsGeneratedAt = &now
			}
			return s.store.InsertResult(ctx, row)
		},
	)
}

func resultPayload(result store.ConversationResult) map[string]any {
	payload := map[string]any{
		"conversationId": result.ConversationID,
		"period":         result.Period,
		"round":          result.Round,
	}
	if result.Summary != nil {
		payload["summary"] = *result.Summary
	}
	if result.Score != nil {
		payload["score"] = *result.Score
	}
	if result.Actions != nil {
		payload["actions"] = result.Actions
	}
	if result.SummaryGeneratedAt != nil {
		payload["summaryGeneratedAt"] = result.SummaryGeneratedAt.Format(time.RFC3339)
	}
	if result.ActionsGeneratedAt != nil {
		payload["actionsGeneratedAt"] = result.ActionsGeneratedAt.Format(time.RFC3339)
	}
	return payload
}
