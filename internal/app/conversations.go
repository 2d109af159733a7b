package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"pulse/api/internal/llm"
	"pulse/api/internal/period"
	"pulse/api/internal/rbac"
	"pulse/api/internal/screening"
	"pulse/api/internal/store"
	"pulse/api/internal/util"
)

// ListThemes returns the themes the caller may converse on this period,
// annotated with the state of the caller's conversation for each.
func (s *Service) ListThemes(ctx context.Context, sess Session) (map[string]any, error) {
	allowed, err := s.access.ListAllowed(ctx, sess.OrgID, sess.TeamID)
	if err != nil {
		return nil, err
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = struct{}{}
	}

	themes, err := s.store.ListThemes(ctx)
	if err != nil {
		return nil, err
	}

	currentPeriod := period.Current()
	items := make([]map[string]any, 0, len(themes))
	for _, theme := range themes {
		if _, ok := allowedSet[theme.ID]; !ok {
			continue
		}
		item := map[string]any{
			"id":        theme.ID,
			"name":      theme.Name,
			"questions": len(theme.Questions),
			"state":     "not_started",
		}
		conversation, err := s.store.FindPeriodConversation(ctx, sess.MemberID, theme.ID, currentPeriod)
		if err != nil {
			return nil, err
		}
		if conversation != nil {
			item["conversationId"] = conversation.ID
			item["state"] = conversation.Status
		}
		items = append(items, item)
	}

	org, err := s.store.GetOrganization(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"period":      currentPeriod,
		"activeMonth": period.IsActiveMonth(org.ActiveMonths, time.Now().UTC().Month()),
		"themes":      items,
	}, nil
}

// StartConversation opens (or resumes) the caller's conversation for the
// theme in the current period.
func (s *Service) StartConversation(ctx context.Context, sess Session, themeID string) (map[string]any, error) {
	actor := s.actor(sess)
	if ok, reason := rbac.Allowed(actor, rbac.ActionConverse, rbac.Scope{OrgID: sess.OrgID, MemberID: sess.MemberID}); !ok {
		return nil, accessDenied(reason)
	}

	org, err := s.store.GetOrganization(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	if !org.Active {
		return nil, accessDenied("organization is deactivated")
	}
	now := time.Now().UTC()
	if !period.IsActiveMonth(org.ActiveMonths, now.Month()) && actor.Role != rbac.RoleSuperAdmin {
		// An org configured with no active months has no next period to
		// point at.
		var details any
		if next := period.NextKey(org.ActiveMonths, now); next != "" {
			details = map[string]any{"nextPeriod": next}
		}
		return nil, domainError(http.StatusForbidden, "ACCESS_DENIED", "conversations open only in active months", details)
	}

	allowed, err := s.access.Check(ctx, sess.OrgID, themeID, sess.TeamID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, accessDenied("theme is not available to your scope")
	}
	theme, err := s.store.GetTheme(ctx, themeID)
	if err != nil {
		return nil, err
	}
	if len(theme.Questions) == 0 {
		return nil, validationError("theme has no questions configured", nil)
	}

	currentPeriod := period.Of(now)
	existing, err := s.store.FindPeriodConversation(ctx, sess.MemberID, themeID, currentPeriod)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.conversationPayload(ctx, *existing, theme)
	}

	firstRef := "q1"
	conversation := store.Conversation{
		ID:              util.NewID("cnv"),
		MemberID:        sess.MemberID,
		ThemeID:         themeID,
		TeamID:          sess.TeamID,
		Period:          currentPeriod,
		Status:          store.ConversationOpen,
		StartedAt:       now,
		NextQuestionRef: &firstRef,
		NextQuestion:    &theme.Questions[0],
	}
	if err := s.store.InsertConversation(ctx, conversation); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with ourselves; hand back whichever row won.
			winner, findErr := s.store.FindPeriodConversation(ctx, sess.MemberID, themeID, currentPeriod)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return s.conversationPayload(ctx, *winner, theme)
			}
		}
		return nil, err
	}
	return s.conversationPayload(ctx, conversation, theme)
}

type AnswerInput struct {
	Answer string `json:"answer"`
}

// AppendAnswer records an answer to the pending question and advances the
// conversation: the next fixed question, a scripted follow-up, or completion.
func (s *Service) AppendAnswer(ctx context.Context, sess Session, conversationID string, input AnswerInput) (map[string]any, error) {
	conversation, err := s.ownedConversation(ctx, sess, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != store.ConversationOpen {
		return nil, conflict("conversation is already completed", nil)
	}
	if conversation.NextQuestion == nil {
		return nil, conflict("no question is pending", nil)
	}

	answer := strings.TrimSpace(input.Answer)
	if answer == "" {
		return nil, validationError("answer is required", nil)
	}

	// Access can be revoked mid-conversation; every answer re-checks.
	allowed, err := s.access.Check(ctx, sess.OrgID, conversation.ThemeID, sess.TeamID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, accessDenied("theme access was revoked")
	}
	theme, err := s.store.GetTheme(ctx, conversation.ThemeID)
	if err != nil {
		return nil, err
	}

	verdict, err := s.screener.Check(ctx, answer)
	if err != nil {
		return nil, err
	}
	if !verdict.Allowed {
		return nil, validationError(screening.BlockedMessage(verdict.Findings), verdict.Findings)
	}

	kind := "followup"
	if strings.HasPrefix(*conversation.NextQuestionRef, "q") {
		kind = "fixed_question"
	}
	if _, err := s.store.AppendEntry(ctx, store.ConversationEntry{
		ConversationID: conversation.ID,
		Kind:           kind,
		QuestionRef:    *conversation.NextQuestionRef,
		Question:       *conversation.NextQuestion,
		Answer:         answer,
	}); err != nil {
		return nil, err
	}

	answered, err := s.store.CountAnswers(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	if answered >= s.cfg.MaxAnswers {
		return s.finish(ctx, conversation, theme, store.ReasonMaxAnswers)
	}

	if answered < len(theme.Questions) {
		ref := fmt.Sprintf("q%d", answered+1)
		if _, err := s.store.SetNextQuestion(ctx, conversation.ID, ref, theme.Questions[answered]); err != nil {
			return nil, err
		}
		return s.refreshedPayload(ctx, conversation.ID, theme)
	}

	exchanges, err := s.exchanges(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	decision, err := s.completion.DecideFollowUp(ctx, llm.FollowUpRequest{
		ThemeName: theme.Name,
		Rubric:    theme.Rubric,
		Exchanges: exchanges,
	})
	if err != nil {
		// Unlike summaries, a bad follow-up decision has no safe substitute:
		// inventing a question or ending the conversation both change what
		// the member is asked. Surface the failure.
		if errors.Is(err, llm.ErrContract) {
			return nil, upstreamContract(err.Error())
		}
		if errors.Is(err, llm.ErrUnavailable) {
			return nil, upstreamUnavailable("completion gateway unreachable")
		}
		return nil, err
	}

	if !decision.Continue {
		return s.finish(ctx, conversation, theme, store.ReasonClearEnough)
	}

	ref := fmt.Sprintf("f%d", answered+1-len(theme.Questions))
	if _, err := s.store.SetNextQuestion(ctx, conversation.ID, ref, decision.NextQuestion); err != nil {
		return nil, err
	}
	return s.refreshedPayload(ctx, conversation.ID, theme)
}

// CompleteConversation lets the member end the conversation early.
func (s *Service) CompleteConversation(ctx context.Context, sess Session, conversationID string) (map[string]any, error) {
	conversation, err := s.ownedConversation(ctx, sess, conversationID)
	if err != nil {
		return nil, err
	}
	// Completing is a mutation like answering; a mid-conversation revocation
	// blocks it the same way.
	allowed, err := s.access.Check(ctx, sess.OrgID, conversation.ThemeID, sess.TeamID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, accessDenied("theme access was revoked")
	}
	theme, err := s.store.GetTheme(ctx, conversation.ThemeID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != store.ConversationOpen {
		return nil, conflict("conversation is already completed", nil)
	}
	answered, err := s.store.CountAnswers(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	if answered == 0 {
		return nil, validationError("answer at least one question before completing", nil)
	}
	return s.finish(ctx, conversation, theme, store.ReasonMemberChoice)
}

// finish flips the conversation to completed and kicks off the async
// post-completion work. The conditional update makes concurrent completion
// attempts settle on a single winner.
func (s *Service) finish(ctx context.Context, conversation store.Conversation, theme store.Theme, reason string) (map[string]any, error) {
	changed, err := s.store.CompleteConversation(ctx, conversation.ID, reason)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, conflict("conversation is already completed", nil)
	}

	completed, err := s.store.GetConversation(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.generateSummary(bg, completed, theme); err != nil {
			log.Printf("conversation %s: summary generation: %v", completed.ID, err)
		}
		s.onCompleted(bg, completed)
	}()

	return s.conversationPayload(ctx, completed, theme)
}

// History returns the full entry history and any derived result.
func (s *Service) History(ctx context.Context, sess Session, conversationID string) (map[string]any, error) {
	conversation, err := s.ownedConversation(ctx, sess, conversationID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"sequence":    entry.Sequence,
			"kind":        entry.Kind,
			"questionRef": entry.QuestionRef,
			"question":    entry.Question,
			"answer":      entry.Answer,
			"createdAt":   entry.CreatedAt.Format(time.RFC3339),
		})
	}
	payload := map[string]any{
		"conversationId": conversation.ID,
		"themeId":        conversation.ThemeID,
		"period":         conversation.Period,
		"status":         conversation.Status,
		"entries":        items,
	}
	if conversation.Reason != nil {
		payload["reason"] = *conversation.Reason
	}

	result, err := s.store.GetResult(ctx, conversation.ID)
	if err == nil {
		payload["result"] = resultPayload(result)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return payload, nil
}

// GetPlan returns the caller's action plan for a period.
func (s *Service) GetPlan(ctx context.Context, sess Session, periodKey string) (map[string]any, error) {
	plan, err := s.store.GetPlan(ctx, sess.MemberID, periodKey)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, sql.ErrNoRows
	}
	actions := make([]map[string]any, 0, len(plan.Actions))
	for _, action := range plan.Actions {
		actions = append(actions, map[string]any{
			"rank":      action.Rank,
			"text":      action.Text,
			"priority":  action.Priority,
			"rationale": action.Rationale,
		})
	}
	return map[string]any{
		"period":      plan.Period,
		"actions":     actions,
		"sourceIds":   plan.SourceIDs,
		"generatedAt": plan.GeneratedAt.Format(time.RFC3339),
	}, nil
}

// ownedConversation loads the conversation and hides it from everyone but its
// member. Conversations are private; a foreign ID looks like a missing one.
func (s *Service) ownedConversation(ctx context.Context, sess Session, conversationID string) (store.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	if conversation.MemberID != sess.MemberID && rbac.Normalize(sess.Role) != rbac.RoleSuperAdmin {
		return store.Conversation{}, sql.ErrNoRows
	}
	if conversation.AnonymizedAt != nil {
		return store.Conversation{}, sql.ErrNoRows
	}
	return conversation, nil
}

func (s *Service) exchanges(ctx context.Context, conversationID string) ([]llm.Exchange, error) {
	entries, err := s.store.ListEntries(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	exchanges := make([]llm.Exchange, 0, len(entries))
	for _, entry := range entries {
		if entry.Kind != "fixed_question" && entry.Kind != "followup" {
			continue
		}
		exchanges = append(exchanges, llm.Exchange{Question: entry.Question, Answer: entry.Answer})
	}
	return exchanges, nil
}

func (s *Service) refreshedPayload(ctx context.Context, conversationID string, theme store.Theme) (map[string]any, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.conversationPayload(ctx, conversation, theme)
}

func (s *Service) conversationPayload(ctx context.Context, conversation store.Conversation, theme store.Theme) (map[string]any, error) {
	answered, err := s.store.CountAnswers(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"conversationId": conversation.ID,
		"themeId":        conversation.ThemeID,
		"themeName":      theme.Name,
		"period":         conversation.Period,
		"status":         conversation.Status,
		"answered":       answered,
		"maxAnswers":     s.cfg.MaxAnswers,
	}
	if conversation.NextQuestion != nil {
		payload["question"] = map[string]any{
			"ref":  *conversation.NextQuestionRef,
			"text": *conversation.NextQuestion,
		}
	}
	if conversation.Reason != nil {
		payload["reason"] = *conversation.Reason
	}
	return payload, nil
}
