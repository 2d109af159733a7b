package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"pulse/api/internal/email"
	"pulse/api/internal/llm"
	"pulse/api/internal/search"
	"pulse/api/internal/store"
)

// onCompleted runs after every conversation completion. When the member has
// now completed every theme available to them for the period, it assembles a
// personal action plan from the period's results. Everything here is
// best-effort; a failure is logged and the completed conversation stands.
func (s *Service) onCompleted(ctx context.Context, conversation store.Conversation) {
	member, err := s.store.GetMember(ctx, conversation.MemberID)
	if err != nil {
		log.Printf("completion watcher: load member %s: %v", conversation.MemberID, err)
		return
	}

	allowed, err := s.access.ListAllowed(ctx, member.OrgID, member.TeamID)
	if err != nil {
		log.Printf("completion watcher: list allowed themes: %v", err)
		return
	}
	completedIDs, err := s.store.CompletedThemeIDs(ctx, member.ID, conversation.Period)
	if err != nil {
		log.Printf("completion watcher: completed themes: %v", err)
		return
	}
	completedSet := make(map[string]struct{}, len(completedIDs))
	for _, id := range completedIDs {
		completedSet[id] = struct{}{}
	}
	for _, themeID := range allowed {
		if _, done := completedSet[themeID]; !done {
			return
		}
	}

	if err := s.generatePlan(ctx, member, conversation.Period); err != nil {
		log.Printf("completion watcher: plan for %s %s: %v", member.ID, conversation.Period, err)
	}
}

// generatePlan builds and stores the member's ranked three-action plan for
// the period from their completed conversations.
func (s *Service) generatePlan(ctx context.Context, member store.Member, periodKey string) error {
	conversations, err := s.store.ListCompletedForPeriod(ctx, member.ID, periodKey)
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		return nil
	}

	sources := make([]llm.PlanSource, 0, len(conversations))
	sourceIDs := make([]string, 0, len(conversations))
	for _, conversation := range conversations {
		theme, err := s.store.GetTheme(ctx, conversation.ThemeID)
		if err != nil {
			return err
		}
		source := llm.PlanSource{ThemeName: theme.Name}
		result, err := s.store.GetResult(ctx, conversation.ID)
		if err == nil {
			if result.Summary != nil {
				source.Summary = *result.Summary
			}
			source.Actions = result.Actions
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if source.Summary == "" {
			exchanges, exErr := s.exchanges(ctx, conversation.ID)
			if exErr != nil {
				return exErr
			}
			answers := make([]string, 0, len(exchanges))
			for _, exchange := range exchanges {
				answers = append(answers, exchange.Answer)
			}
			source.Summary = strings.Join(answers, " ")
		}
		sources = append(sources, source)
		sourceIDs = append(sourceIDs, conversation.ID)
	}

	planned, err := s.completion.PlanActions(ctx, llm.PlanRequest{
		MemberName: member.DisplayName,
		Period:     periodKey,
		Sources:    sources,
	})
	if err != nil {
		return err
	}

	actions := make([]store.PlanAction, 0, len(planned))
	for _, action := range planned {
		actions = append(actions, store.PlanAction{
			Rank:      action.Rank,
			Text:      action.Text,
			Priority:  action.Priority,
			Rationale: action.Rationale,
		})
	}
	plan := store.ActionPlan{
		MemberID:    member.ID,
		Period:      periodKey,
		Actions:     actions,
		SourceIDs:   sourceIDs,
		GeneratedAt: time.Now(),
	}
	if err := store.UpsertWithRetry(ctx,
		func(ctx context.Context) (int64, error) { return s.store.UpdatePlan(ctx, plan) },
		func(ctx context.Context) error { return s.store.InsertPlan(ctx, plan) },
	); err != nil {
		return err
	}

	if s.mail != nil && s.mail.IsConfigured() {
		mailActions := make([]email.PlanReadyAction, 0, len(actions))
		for _, action := range actions {
			mailActions = append(mailActions, email.PlanReadyAction{
				Rank:     action.Rank,
				Text:     action.Text,
				Priority: action.Priority,
			})
		}
		if err := s.mail.SendPlanReady(member.Email, member.DisplayName, periodKey, mailActions); err != nil {
			log.Printf("completion watcher: plan email to %s: %v", member.Email, err)
		}
	}

	if s.search != nil {
		texts := make([]string, 0, len(actions))
		for _, action := range actions {
			texts = append(texts, action.Text)
		}
		s.search.IndexPlan(search.PlanRecord{
			ID:       member.ID + ":" + periodKey,
			MemberID: member.ID,
			OrgID:    member.OrgID,
			Period:   periodKey,
			Actions:  strings.Join(texts, " "),
		})
	}
	return nil
}
